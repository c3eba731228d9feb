package vesting

import (
	"errors"
	"fmt"
)

// journal stages writes against the engine state and remembers the prior
// version of every touched record so a failed mutation can be undone.
type journal struct {
	state    engineState
	pool     *Pool
	poolSet  bool
	accounts map[[20]byte]*Account
	pending  map[[32]byte]*PendingAction
}

func newJournal(state engineState) *journal {
	return &journal{
		state:    state,
		accounts: make(map[[20]byte]*Account),
		pending:  make(map[[32]byte]*PendingAction),
	}
}

func (j *journal) putPool(pool *Pool) error {
	if !j.poolSet {
		prev, _, err := j.state.VestingPool()
		if err != nil {
			return err
		}
		j.pool = prev.Clone()
		j.poolSet = true
	}
	return j.state.VestingPutPool(pool)
}

func (j *journal) putAccount(acct *Account) error {
	if _, seen := j.accounts[acct.Address]; !seen {
		prev, ok, err := j.state.VestingAccount(acct.Address)
		if err != nil {
			return err
		}
		if ok {
			j.accounts[acct.Address] = prev.Clone()
		} else {
			j.accounts[acct.Address] = nil
		}
	}
	return j.state.VestingPutAccount(acct)
}

func (j *journal) putPending(action *PendingAction) error {
	if _, seen := j.pending[action.ID]; !seen {
		prev, ok, err := j.state.VestingPendingAction(action.ID)
		if err != nil {
			return err
		}
		if ok {
			j.pending[action.ID] = prev.Clone()
		} else {
			j.pending[action.ID] = nil
		}
	}
	return j.state.VestingPutPendingAction(action)
}

// rollback restores every touched record and reports the writes that failed.
func (j *journal) rollback() error {
	var errs []error
	if j.poolSet && j.pool != nil {
		errs = append(errs, j.state.VestingPutPool(j.pool))
	}
	for addr, prev := range j.accounts {
		if prev == nil {
			errs = append(errs, j.state.VestingDeleteAccount(addr))
			continue
		}
		errs = append(errs, j.state.VestingPutAccount(prev))
	}
	for id, prev := range j.pending {
		if prev == nil {
			errs = append(errs, j.state.VestingDeletePendingAction(id))
			continue
		}
		errs = append(errs, j.state.VestingPutPendingAction(prev))
	}
	return errors.Join(errs...)
}

// abort rolls the journal back and returns cause, joined with any rollback
// failure so a partially restored state is visible to the caller.
func (j *journal) abort(cause error) error {
	if err := j.rollback(); err != nil {
		return errors.Join(cause, fmt.Errorf("vesting: rollback: %w", err))
	}
	return cause
}
