package calc

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateReward(t *testing.T) {
	tests := []struct {
		name      string
		principal int64
		rate      int64
		duration  int64
		want      int64
	}{
		{name: "one full period", principal: 1_000_000, rate: 10, duration: 4320, want: 100_000},
		{name: "partial period truncates to zero", principal: 1_000_000, rate: 10, duration: 4319, want: 0},
		{name: "zero duration", principal: 1_000_000, rate: 10, duration: 0, want: 0},
		{name: "partial second period counts once", principal: 1_000_000, rate: 10, duration: 8639, want: 100_000},
		{name: "twelve periods", principal: 2_500_000, rate: 5, duration: 12 * 4320, want: 1_500_000},
		{name: "floor of odd product", principal: 333, rate: 7, duration: 4320, want: 23},
		{name: "zero rate", principal: 1_000_000, rate: 0, duration: 43200, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateReward(big.NewInt(tt.principal), big.NewInt(tt.rate), big.NewInt(tt.duration))
			assert.Equal(t, 0, got.Cmp(big.NewInt(tt.want)), "got %s, want %d", got, tt.want)
		})
	}
}

func TestCalculateReward_SubPeriodAlwaysZero(t *testing.T) {
	principal := new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil)
	rate := big.NewInt(1000)

	for _, d := range []int64{0, 1, 100, 2160, 4000, BlocksPerMonth - 1} {
		got := CalculateReward(principal, rate, big.NewInt(d))
		assert.Zero(t, got.Sign(), "duration %d should earn nothing, got %s", d, got)
	}
}

func TestCalculateEarlyWithdrawalPenalty(t *testing.T) {
	tests := []struct {
		name      string
		principal int64
		rate      int64
		want      int64
	}{
		{name: "twenty percent", principal: 1_000_000, rate: 20, want: 200_000},
		{name: "floor division", principal: 999, rate: 15, want: 149},
		{name: "full principal", principal: 1_000, rate: 100, want: 1_000},
		{name: "zero principal", principal: 0, rate: 20, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateEarlyWithdrawalPenalty(big.NewInt(tt.principal), big.NewInt(tt.rate))
			assert.Equal(t, 0, got.Cmp(big.NewInt(tt.want)), "got %s, want %d", got, tt.want)
		})
	}
}

func TestCalculateReputationPoints(t *testing.T) {
	tests := []struct {
		name      string
		principal int64
		duration  int64
		want      int64
	}{
		{name: "ten units for 1440 blocks", principal: 10_000_000, duration: 1440, want: 1_440_000},
		{name: "below divisor", principal: 9, duration: 1000, want: 0},
		{name: "floor division", principal: 12_345, duration: 7, want: 8},
		{name: "zero duration", principal: 10_000_000, duration: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateReputationPoints(big.NewInt(tt.principal), big.NewInt(tt.duration))
			assert.Equal(t, 0, got.Cmp(big.NewInt(tt.want)), "got %s, want %d", got, tt.want)
		})
	}
}

func TestFormulasArePure(t *testing.T) {
	principal := big.NewInt(7_654_321)
	rate := big.NewInt(12)
	duration := big.NewInt(3 * BlocksPerMonth)

	first := CalculateReward(principal, rate, duration)
	second := CalculateReward(principal, rate, duration)
	assert.Equal(t, first.String(), second.String())

	// inputs are left untouched
	assert.Equal(t, "7654321", principal.String())
	assert.Equal(t, "12", rate.String())
	assert.Equal(t, "12960", duration.String())

	// results are fresh values
	first.SetInt64(0)
	assert.NotEqual(t, first.String(), CalculateReward(principal, rate, duration).String())
}

func TestNilInputsCountAsZero(t *testing.T) {
	assert.Zero(t, CalculateReward(nil, big.NewInt(10), big.NewInt(4320)).Sign())
	assert.Zero(t, CalculateEarlyWithdrawalPenalty(big.NewInt(100), nil).Sign())
	assert.Zero(t, CalculateReputationPoints(nil, nil).Sign())
}

func TestParams_ZeroDenominator(t *testing.T) {
	p := Params{BlocksPerPeriod: big.NewInt(0), PointsDivisor: nil}

	require.NotPanics(t, func() {
		assert.Zero(t, p.Reward(big.NewInt(1_000_000), big.NewInt(10), big.NewInt(4320)).Sign())
		assert.Zero(t, p.ReputationPoints(big.NewInt(1_000_000), big.NewInt(4320)).Sign())
	})
}

func TestParams_CustomPeriod(t *testing.T) {
	p := Params{BlocksPerPeriod: big.NewInt(144), PointsDivisor: big.NewInt(100)}

	assert.Equal(t, "20000", p.Reward(big.NewInt(100_000), big.NewInt(10), big.NewInt(288)).String())
	assert.Equal(t, "288000", p.ReputationPoints(big.NewInt(100_000), big.NewInt(288)).String())
}

func TestDivOrZero(t *testing.T) {
	assert.Equal(t, "3", DivOrZero(big.NewInt(7), big.NewInt(2)).String())
	assert.Equal(t, "0", DivOrZero(big.NewInt(7), big.NewInt(0)).String())
	assert.Equal(t, "0", DivOrZero(big.NewInt(7), nil).String())
	assert.Equal(t, "0", DivOrZero(nil, big.NewInt(3)).String())
}
