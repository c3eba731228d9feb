package vesting

// RoundStatus is derived from the clock on every query and never stored.
type RoundStatus uint8

const (
	RoundActive RoundStatus = iota
	RoundFinished
)

func (s RoundStatus) String() string {
	switch s {
	case RoundActive:
		return "active"
	case RoundFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// RoundEnd reports the end of the reservation round. Only LinearCliff pools
// have a finite round.
func RoundEnd(pool *Pool) (int64, bool) {
	if pool == nil || pool.Curve.Kind != CurveLinearCliff {
		return 0, false
	}
	p := pool.Curve.LinearCliff
	return pool.StartRound + p.CliffDuration + p.VestingDuration, true
}

// StatusAt computes the round status of pool at now.
func StatusAt(pool *Pool, now int64) RoundStatus {
	end, finite := RoundEnd(pool)
	if finite && now >= end {
		return RoundFinished
	}
	return RoundActive
}
