package calc

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrFractionalUnits is returned when an amount has more decimals than the asset supports.
var ErrFractionalUnits = errors.New("amount has more decimals than the asset supports")

// FormatUnits renders a smallest-unit amount as a decimal string with the given number
// of asset decimals, e.g. FormatUnits(1_500_000, 6) == "1.5".
func FormatUnits(amount *big.Int, decimals int32) string {
	return decimal.NewFromBigInt(orZero(amount), -decimals).String()
}

// ParseUnits converts a decimal string into smallest units. It rejects negative values
// and values that would need a fraction of the smallest unit.
func ParseUnits(s string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("invalid amount %q: must not be negative", s)
	}

	shifted := d.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("invalid amount %q: %w", s, ErrFractionalUnits)
	}
	return shifted.BigInt(), nil
}
