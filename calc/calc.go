// Package calc computes savings outcomes with the same integer arithmetic the vault
// contract applies on-chain.
//
// Every amount is a *big.Int in the asset's smallest unit, rates are whole percentages
// and durations are block counts. Every division is a floor division over the
// non-negative values the contract accepts, matching its unsigned arithmetic, so a
// preview can be compared to the ledger result with plain equality. Negative inputs
// are outside that domain. Nil inputs are treated as zero and inputs are never mutated.
package calc

import "math/big"

const (
	// BlocksPerMonth is the number of blocks the contract counts as one reward period.
	BlocksPerMonth = 4320
	// PercentDenominator converts a whole percentage into a fraction.
	PercentDenominator = 100
	// PointsDivisor scales principal×duration into reputation points.
	PointsDivisor = 10000
)

// Params holds the contract constants used by the formulas.
//
// The zero value is not useful; use DefaultParams or set both fields. A zero
// denominator never panics: the affected formula yields zero, matching the
// contract's safe-division helper.
type Params struct {
	BlocksPerPeriod *big.Int
	PointsDivisor   *big.Int
}

// DefaultParams returns the constants of the deployed savings vault.
func DefaultParams() Params {
	return Params{
		BlocksPerPeriod: big.NewInt(BlocksPerMonth),
		PointsDivisor:   big.NewInt(PointsDivisor),
	}
}

var (
	defaultParams = DefaultParams()
	hundred       = big.NewInt(PercentDenominator)
)

// CalculateReward returns principal × rate × wholePeriods / 100, where wholePeriods is
// durationBlocks / BlocksPerMonth. Partial periods earn nothing.
func CalculateReward(principal, ratePercent, durationBlocks *big.Int) *big.Int {
	return defaultParams.Reward(principal, ratePercent, durationBlocks)
}

// CalculateEarlyWithdrawalPenalty returns principal × penaltyRate / 100.
func CalculateEarlyWithdrawalPenalty(principal, penaltyRatePercent *big.Int) *big.Int {
	return defaultParams.Penalty(principal, penaltyRatePercent)
}

// CalculateReputationPoints returns principal × durationBlocks / 10000.
func CalculateReputationPoints(principal, durationBlocks *big.Int) *big.Int {
	return defaultParams.ReputationPoints(principal, durationBlocks)
}

// Periods returns the number of whole reward periods covered by durationBlocks.
func (p Params) Periods(durationBlocks *big.Int) *big.Int {
	return DivOrZero(orZero(durationBlocks), p.BlocksPerPeriod)
}

// Reward is CalculateReward with p's period length.
func (p Params) Reward(principal, ratePercent, durationBlocks *big.Int) *big.Int {
	n := new(big.Int).Mul(orZero(principal), orZero(ratePercent))
	n.Mul(n, p.Periods(durationBlocks))
	return DivOrZero(n, hundred)
}

// Penalty is CalculateEarlyWithdrawalPenalty. It does not depend on p and exists so
// that a Params value can drive a whole preview.
func (p Params) Penalty(principal, penaltyRatePercent *big.Int) *big.Int {
	n := new(big.Int).Mul(orZero(principal), orZero(penaltyRatePercent))
	return DivOrZero(n, hundred)
}

// ReputationPoints is CalculateReputationPoints with p's divisor.
func (p Params) ReputationPoints(principal, durationBlocks *big.Int) *big.Int {
	n := new(big.Int).Mul(orZero(principal), orZero(durationBlocks))
	return DivOrZero(n, p.PointsDivisor)
}

// DivOrZero returns the floor of n / d, or zero when d is nil or zero.
//
// For a positive d, big.Int.Div (Euclidean) equals floor division, which is what the
// contract's unsigned arithmetic produces for the non-negative inputs it accepts.
func DivOrZero(n, d *big.Int) *big.Int {
	if d == nil || d.Sign() == 0 {
		return new(big.Int)
	}
	return new(big.Int).Div(orZero(n), d)
}

var zero = new(big.Int)

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return zero
	}
	return v
}
