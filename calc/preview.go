package calc

import "math/big"

// DepositPreview is the expected outcome of locking Principal for the full lock period.
type DepositPreview struct {
	Principal        *big.Int `json:"principal"`
	LockBlocks       *big.Int `json:"lockBlocks"`
	Reward           *big.Int `json:"reward"`
	ReputationPoints *big.Int `json:"reputationPoints"`
	MaturityValue    *big.Int `json:"maturityValue"`
}

// WithdrawalPreview is the expected outcome of withdrawing a deposit after
// ElapsedBlocks. An early withdrawal forfeits the reward and pays the penalty.
type WithdrawalPreview struct {
	Principal     *big.Int `json:"principal"`
	ElapsedBlocks *big.Int `json:"elapsedBlocks"`
	Early         bool     `json:"early"`
	Reward        *big.Int `json:"reward"`
	Penalty       *big.Int `json:"penalty"`
	Payout        *big.Int `json:"payout"`
}

// PreviewDeposit previews a deposit with the default contract constants.
func PreviewDeposit(principal, ratePercent, lockBlocks *big.Int) DepositPreview {
	return defaultParams.PreviewDeposit(principal, ratePercent, lockBlocks)
}

// PreviewWithdrawal previews a withdrawal with the default contract constants.
func PreviewWithdrawal(principal, ratePercent, penaltyRatePercent, lockBlocks, elapsedBlocks *big.Int) WithdrawalPreview {
	return defaultParams.PreviewWithdrawal(principal, ratePercent, penaltyRatePercent, lockBlocks, elapsedBlocks)
}

// PreviewDeposit computes reward and reputation points for holding principal for
// lockBlocks.
func (p Params) PreviewDeposit(principal, ratePercent, lockBlocks *big.Int) DepositPreview {
	reward := p.Reward(principal, ratePercent, lockBlocks)
	return DepositPreview{
		Principal:        clone(principal),
		LockBlocks:       clone(lockBlocks),
		Reward:           reward,
		ReputationPoints: p.ReputationPoints(principal, lockBlocks),
		MaturityValue:    new(big.Int).Add(orZero(principal), reward),
	}
}

// PreviewWithdrawal computes the payout of a withdrawal. A withdrawal is early when
// elapsedBlocks < lockBlocks; the payout then is principal − penalty, floored at zero.
// A matured deposit pays principal plus the reward accrued over elapsedBlocks.
func (p Params) PreviewWithdrawal(principal, ratePercent, penaltyRatePercent, lockBlocks, elapsedBlocks *big.Int) WithdrawalPreview {
	out := WithdrawalPreview{
		Principal:     clone(principal),
		ElapsedBlocks: clone(elapsedBlocks),
		Early:         orZero(elapsedBlocks).Cmp(orZero(lockBlocks)) < 0,
	}

	if out.Early {
		out.Reward = new(big.Int)
		out.Penalty = p.Penalty(principal, penaltyRatePercent)
		out.Payout = new(big.Int).Sub(orZero(principal), out.Penalty)
		if out.Payout.Sign() < 0 {
			out.Payout.SetInt64(0)
		}
		return out
	}

	out.Reward = p.Reward(principal, ratePercent, elapsedBlocks)
	out.Penalty = new(big.Int)
	out.Payout = new(big.Int).Add(orZero(principal), out.Reward)
	return out
}

func clone(v *big.Int) *big.Int {
	return new(big.Int).Set(orZero(v))
}
