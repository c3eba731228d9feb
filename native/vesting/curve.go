package vesting

import "math/big"

var bpsDenominator = big.NewInt(BasisPointsDenominator)

// Unlocked returns the cumulative amount a beneficiary is entitled to at now,
// including what was already claimed.
func Unlocked(params CurveParams, startRound int64, acct *Account, now int64) (*big.Int, error) {
	if acct == nil {
		return big.NewInt(0), nil
	}
	switch params.Kind {
	case CurveLinearCliff:
		return linearCliffUnlocked(params.LinearCliff, startRound, cloneBigInt(acct.Purchased), now), nil
	case CurveDecayDrip:
		accrued := decayDripAccrued(params.DecayDrip, acct.Remaining(), now-acct.LastClaimTime)
		return accrued.Add(accrued, cloneBigInt(acct.Claimed)), nil
	default:
		return nil, ErrInvalidCurve
	}
}

// Claimable returns unlocked minus claimed, never negative.
func Claimable(params CurveParams, startRound int64, acct *Account, now int64) (*big.Int, error) {
	if acct == nil {
		return big.NewInt(0), nil
	}
	if params.Kind == CurveDecayDrip {
		return decayDripAccrued(params.DecayDrip, acct.Remaining(), now-acct.LastClaimTime), nil
	}
	unlocked, err := Unlocked(params, startRound, acct, now)
	if err != nil {
		return nil, err
	}
	out := unlocked.Sub(unlocked, cloneBigInt(acct.Claimed))
	if out.Sign() < 0 {
		return big.NewInt(0), nil
	}
	return out, nil
}

func linearCliffUnlocked(p LinearCliff, startRound int64, purchased *big.Int, now int64) *big.Int {
	cliffEnd := startRound + p.CliffDuration
	vestEnd := cliffEnd + p.VestingDuration
	if now < cliffEnd || purchased.Sign() <= 0 {
		return big.NewInt(0)
	}
	if now >= vestEnd || p.VestingDuration <= 0 {
		return purchased
	}
	tge := new(big.Int).Mul(purchased, big.NewInt(int64(p.TGEBasisPoints)))
	tge.Quo(tge, bpsDenominator)

	linear := new(big.Int).Sub(purchased, tge)
	linear.Mul(linear, big.NewInt(now-cliffEnd))
	linear.Quo(linear, big.NewInt(p.VestingDuration))

	return tge.Add(tge, linear)
}

// decayDripAccrued compounds the drip over every whole period in elapsed,
// flooring each step. Once a step drips nothing every later step does too.
func decayDripAccrued(p DecayDrip, remaining *big.Int, elapsed int64) *big.Int {
	accrued := big.NewInt(0)
	if elapsed <= 0 || p.PeriodLength <= 0 || remaining.Sign() <= 0 {
		return accrued
	}
	periods := elapsed / p.PeriodLength
	rate := big.NewInt(int64(p.DecayRateBasisPoints))
	rem := new(big.Int).Set(remaining)
	drip := new(big.Int)
	for i := int64(0); i < periods; i++ {
		drip.Mul(rem, rate)
		drip.Quo(drip, bpsDenominator)
		if drip.Sign() == 0 {
			break
		}
		accrued.Add(accrued, drip)
		rem.Sub(rem, drip)
	}
	return accrued
}
