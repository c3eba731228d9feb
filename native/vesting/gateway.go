package vesting

import (
	"errors"
	"fmt"

	"vestchain/core/events"
)

// Schedule records action for later execution and registers it with the
// delay authority. The proposer must hold the role the action kind requires.
func (e *Engine) Schedule(caller [20]byte, action Action) (*PendingAction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, ErrNilState
	}
	authority := e.auth.authority
	if !e.auth.IsDelayed() || authority == nil {
		return nil, fmt.Errorf("%w: no delay authority configured", ErrUnauthorized)
	}
	action.Proposer = caller
	if err := action.validate(); err != nil {
		return nil, err
	}
	if err := e.requireRole(caller, action.Kind.requiredRole()); err != nil {
		return nil, err
	}
	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	id := action.ID()
	existing, ok, err := e.state.VestingPendingAction(id)
	if err != nil {
		return nil, err
	}
	if ok && existing != nil && !existing.Consumed && !authority.IsCancelled(id, existing.ProposedAt) {
		return nil, ErrDuplicateAction
	}
	now := e.now()
	pending := &PendingAction{ID: id, Action: action.clone(), ProposedAt: now}
	j := newJournal(e.state)
	if err := j.putPending(pending); err != nil {
		return nil, err
	}
	readyAt, err := authority.Schedule(pool.Vault, id, now)
	if err != nil {
		return nil, j.abort(fmt.Errorf("vesting: delay authority schedule: %w", err))
	}
	pending.ReadyAt = readyAt
	if err := e.state.VestingPutPendingAction(pending); err != nil {
		return nil, j.abort(err)
	}
	e.emit(events.ActionScheduled{
		ID:          id,
		Kind:        string(action.Kind),
		Beneficiary: action.Beneficiary,
		Amount:      cloneBigInt(action.Amount),
		Proposer:    caller,
		ProposedAt:  now,
		ReadyAt:     readyAt,
	})
	return pending.Clone(), nil
}

// Execute performs a previously scheduled action once the delay authority
// certifies it. Each action executes at most once.
func (e *Engine) Execute(caller [20]byte, action Action) error {
	return e.ExecuteID(caller, action.ID())
}

// ExecuteID executes the pending action stored under id.
func (e *Engine) ExecuteID(caller [20]byte, id [32]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return ErrNilState
	}
	authority := e.auth.authority
	if !e.auth.IsDelayed() || authority == nil {
		return fmt.Errorf("%w: no delay authority configured", ErrUnauthorized)
	}
	if !authority.IsExecutor(caller) {
		return fmt.Errorf("%w: executor role required", ErrUnauthorized)
	}
	pending, ok, err := e.state.VestingPendingAction(id)
	if err != nil {
		return err
	}
	if !ok || pending == nil {
		return ErrUnknownAction
	}
	if pending.Consumed {
		return ErrAlreadyExecuted
	}
	if !authority.CertifyReady(id, pending.ProposedAt) {
		return ErrNotReady
	}

	now := e.now()
	j := newJournal(e.state)
	var eff *effect
	switch pending.Action.Kind {
	case ActionReserve:
		eff, err = e.applyReserve(j, pending.Action.Beneficiary, pending.Action.Amount, now)
	case ActionWithdraw:
		eff, err = e.applyWithdraw(j, now)
	default:
		err = fmt.Errorf("vesting: invalid action kind %q", pending.Action.Kind)
	}
	if err != nil {
		return j.abort(err)
	}
	consumed := pending.Clone()
	consumed.Consumed = true
	consumed.ExecutedAt = now
	consumed.Executor = caller
	if err := j.putPending(consumed); err != nil {
		return j.abort(err)
	}
	eff.events = append(eff.events, events.ActionExecuted{
		ID:         id,
		Kind:       string(pending.Action.Kind),
		Executor:   caller,
		ExecutedAt: now,
	})
	return e.commit(j, eff, func() error {
		if err := authority.MarkExecuted(id, pending.ProposedAt); err != nil {
			return fmt.Errorf("vesting: delay authority execute: %w", err)
		}
		return nil
	})
}

// Cancel withdraws a scheduled action before it executes. Admins may cancel
// any action; other proposers only their own. A cancelled action may be
// scheduled again.
func (e *Engine) Cancel(caller [20]byte, id [32]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return ErrNilState
	}
	authority := e.auth.authority
	if !e.auth.IsDelayed() || authority == nil {
		return fmt.Errorf("%w: no delay authority configured", ErrUnauthorized)
	}
	pending, ok, err := e.state.VestingPendingAction(id)
	if err != nil {
		return err
	}
	if !ok || pending == nil {
		return ErrUnknownAction
	}
	isAdmin, err := e.hasRole(caller, RoleAdmin)
	if err != nil {
		return err
	}
	if !isAdmin {
		if caller != pending.Action.Proposer {
			return fmt.Errorf("%w: only the proposer or an admin may cancel", ErrUnauthorized)
		}
		if err := e.requireRole(caller, pending.Action.Kind.requiredRole()); err != nil {
			return err
		}
	}
	if pending.Consumed {
		return ErrAlreadyExecuted
	}
	if authority.IsCancelled(id, pending.ProposedAt) {
		return ErrActionCancelled
	}
	pool, err := e.loadPool()
	if err != nil {
		return err
	}
	if err := authority.Cancel(pool.Vault, id, pending.ProposedAt); err != nil {
		return fmt.Errorf("vesting: delay authority cancel: %w", err)
	}
	e.emit(events.ActionCancelled{
		ID:          id,
		Kind:        string(pending.Action.Kind),
		Canceller:   caller,
		ProposedAt:  pending.ProposedAt,
		CancelledAt: e.now(),
	})
	return nil
}

// PendingAction returns the gateway record for id.
func (e *Engine) PendingAction(id [32]byte) (*PendingAction, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state == nil {
		return nil, ErrNilState
	}
	pending, ok, err := e.state.VestingPendingAction(id)
	if err != nil {
		return nil, err
	}
	if !ok || pending == nil {
		return nil, ErrUnknownAction
	}
	out := pending.Clone()
	if authority := e.auth.authority; e.auth.IsDelayed() && authority != nil && !out.Consumed {
		out.Cancelled = authority.IsCancelled(id, out.ProposedAt)
	}
	return out, nil
}

// IsGatewayError reports whether err came from the schedule/execute
// preconditions rather than the wrapped ledger mutation.
func IsGatewayError(err error) bool {
	for _, target := range []error{ErrDuplicateAction, ErrUnknownAction, ErrNotReady, ErrAlreadyExecuted, ErrActionCancelled} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
