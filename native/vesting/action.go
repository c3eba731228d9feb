package vesting

import (
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ActionKind names a privileged ledger mutation that may be scheduled.
type ActionKind string

const (
	ActionReserve  ActionKind = "reserve"
	ActionWithdraw ActionKind = "withdraw_unpurchased"
)

func (k ActionKind) Valid() bool {
	return k == ActionReserve || k == ActionWithdraw
}

// ParseActionKind normalises user supplied action names.
func ParseActionKind(raw string) (ActionKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "reserve":
		return ActionReserve, nil
	case "withdraw", "withdraw_unpurchased":
		return ActionWithdraw, nil
	default:
		return "", fmt.Errorf("vesting: unknown action kind %q", raw)
	}
}

// requiredRole is the role a proposer must hold to schedule the action.
func (k ActionKind) requiredRole() Role {
	if k == ActionWithdraw {
		return RoleAdmin
	}
	return RoleManager
}

// Action describes a privileged mutation together with its proposer.
type Action struct {
	Kind        ActionKind
	Beneficiary [20]byte
	Amount      *big.Int
	Proposer    [20]byte
}

// NewReserveAction builds the scheduled form of a reservation.
func NewReserveAction(proposer, beneficiary [20]byte, amount *big.Int) Action {
	return Action{Kind: ActionReserve, Beneficiary: beneficiary, Amount: cloneBigInt(amount), Proposer: proposer}
}

// NewWithdrawAction builds the scheduled form of the treasury withdrawal.
func NewWithdrawAction(proposer [20]byte) Action {
	return Action{Kind: ActionWithdraw, Amount: big.NewInt(0), Proposer: proposer}
}

// ID derives the deterministic action identifier. Identical proposals from
// the same proposer collide.
func (a Action) ID() [32]byte {
	var amount [32]byte
	if a.Amount != nil && a.Amount.Sign() > 0 {
		a.Amount.FillBytes(amount[:])
	}
	digest := ethcrypto.Keccak256Hash(
		[]byte("vesting/action"),
		[]byte(a.Kind),
		a.Beneficiary[:],
		amount[:],
		a.Proposer[:],
	)
	var id [32]byte
	copy(id[:], digest.Bytes())
	return id
}

func (a Action) validate() error {
	if !a.Kind.Valid() {
		return fmt.Errorf("vesting: invalid action kind %q", a.Kind)
	}
	if a.Kind == ActionReserve {
		return checkAmount(a.Amount)
	}
	return nil
}

func (a Action) clone() Action {
	a.Amount = cloneBigInt(a.Amount)
	return a
}

// PendingAction is the gateway record created by Schedule and consumed by
// Execute.
type PendingAction struct {
	ID         [32]byte
	Action     Action
	ProposedAt int64
	ReadyAt    int64
	Consumed   bool
	ExecutedAt int64
	Executor   [20]byte
	// Cancelled is reported by the delay authority and is not stored.
	Cancelled bool
}

func (p *PendingAction) Clone() *PendingAction {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Action = p.Action.clone()
	return &clone
}

// DelayAuthority enforces the minimum waiting period between scheduling and
// executing an action.
type DelayAuthority interface {
	// Schedule registers the operation on behalf of proposer and returns
	// the earliest timestamp at which it may execute.
	Schedule(proposer [20]byte, id [32]byte, proposedAt int64) (int64, error)
	// CertifyReady reports whether the minimum delay has elapsed.
	CertifyReady(id [32]byte, proposedAt int64) bool
	// MarkExecuted records the operation as done.
	MarkExecuted(id [32]byte, proposedAt int64) error
	// IsExecutor reports whether addr may trigger executions.
	IsExecutor(addr [20]byte) bool
	// Cancel invalidates the operation on behalf of proposer.
	Cancel(proposer [20]byte, id [32]byte, proposedAt int64) error
	// IsCancelled reports whether the operation was cancelled.
	IsCancelled(id [32]byte, proposedAt int64) bool
}
