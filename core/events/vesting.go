package events

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"vestchain/core/types"
	"vestchain/crypto"
)

const (
	TypeVestingReserved        = "vesting.reserved"
	TypeVestingClaimed         = "vesting.claimed"
	TypeVestingFundsWithdrawn  = "vesting.funds_withdrawn"
	TypeVestingActionScheduled = "vesting.action_scheduled"
	TypeVestingActionExecuted  = "vesting.action_executed"
	TypeVestingActionCancelled = "vesting.action_cancelled"
	TypeVestingRoleGranted     = "vesting.role_granted"
	TypeVestingRoleRevoked     = "vesting.role_revoked"
)

// TokenReserved is emitted whenever part of the cap is allocated to a
// beneficiary.
type TokenReserved struct {
	Beneficiary [20]byte
	Amount      *big.Int
	Total       *big.Int
	Timestamp   int64
}

func (TokenReserved) EventType() string { return TypeVestingReserved }

func (e TokenReserved) Event() *types.Event {
	return &types.Event{
		Type: TypeVestingReserved,
		Attributes: map[string]string{
			"beneficiary": crypto.AddressFromArray(e.Beneficiary).String(),
			"amount":      formatAmount(e.Amount),
			"total":       formatAmount(e.Total),
			"timestamp":   intToString(e.Timestamp),
		},
	}
}

// TokenClaimed is emitted after unlocked tokens were transferred to a
// beneficiary.
type TokenClaimed struct {
	Beneficiary [20]byte
	Amount      *big.Int
	Claimed     *big.Int
	Timestamp   int64
}

func (TokenClaimed) EventType() string { return TypeVestingClaimed }

func (e TokenClaimed) Event() *types.Event {
	return &types.Event{
		Type: TypeVestingClaimed,
		Attributes: map[string]string{
			"beneficiary": crypto.AddressFromArray(e.Beneficiary).String(),
			"amount":      formatAmount(e.Amount),
			"claimed":     formatAmount(e.Claimed),
			"timestamp":   intToString(e.Timestamp),
		},
	}
}

// FundsWithdrawn records the unsold remainder being returned to the treasury.
type FundsWithdrawn struct {
	Treasury  [20]byte
	Amount    *big.Int
	Timestamp int64
}

func (FundsWithdrawn) EventType() string { return TypeVestingFundsWithdrawn }

func (e FundsWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeVestingFundsWithdrawn,
		Attributes: map[string]string{
			"treasury":  crypto.AddressFromArray(e.Treasury).String(),
			"amount":    formatAmount(e.Amount),
			"timestamp": intToString(e.Timestamp),
		},
	}
}

type ActionScheduled struct {
	ID          [32]byte
	Kind        string
	Beneficiary [20]byte
	Amount      *big.Int
	Proposer    [20]byte
	ProposedAt  int64
	ReadyAt     int64
}

func (ActionScheduled) EventType() string { return TypeVestingActionScheduled }

func (e ActionScheduled) Event() *types.Event {
	return &types.Event{
		Type: TypeVestingActionScheduled,
		Attributes: map[string]string{
			"id":          hex.EncodeToString(e.ID[:]),
			"kind":        e.Kind,
			"beneficiary": crypto.AddressFromArray(e.Beneficiary).String(),
			"amount":      formatAmount(e.Amount),
			"proposer":    crypto.AddressFromArray(e.Proposer).String(),
			"proposedAt":  intToString(e.ProposedAt),
			"readyAt":     intToString(e.ReadyAt),
		},
	}
}

type ActionExecuted struct {
	ID         [32]byte
	Kind       string
	Executor   [20]byte
	ExecutedAt int64
}

func (ActionExecuted) EventType() string { return TypeVestingActionExecuted }

func (e ActionExecuted) Event() *types.Event {
	return &types.Event{
		Type: TypeVestingActionExecuted,
		Attributes: map[string]string{
			"id":         hex.EncodeToString(e.ID[:]),
			"kind":       e.Kind,
			"executor":   crypto.AddressFromArray(e.Executor).String(),
			"executedAt": intToString(e.ExecutedAt),
		},
	}
}

// ActionCancelled is emitted when a scheduled action is withdrawn before it
// executed.
type ActionCancelled struct {
	ID          [32]byte
	Kind        string
	Canceller   [20]byte
	ProposedAt  int64
	CancelledAt int64
}

func (ActionCancelled) EventType() string { return TypeVestingActionCancelled }

func (e ActionCancelled) Event() *types.Event {
	return &types.Event{
		Type: TypeVestingActionCancelled,
		Attributes: map[string]string{
			"id":          hex.EncodeToString(e.ID[:]),
			"kind":        e.Kind,
			"canceller":   crypto.AddressFromArray(e.Canceller).String(),
			"proposedAt":  intToString(e.ProposedAt),
			"cancelledAt": intToString(e.CancelledAt),
		},
	}
}

// RoleChanged covers both grants and revocations; Granted selects the type.
type RoleChanged struct {
	Account [20]byte
	Role    string
	Actor   [20]byte
	Granted bool
}

func (e RoleChanged) EventType() string {
	if e.Granted {
		return TypeVestingRoleGranted
	}
	return TypeVestingRoleRevoked
}

func (e RoleChanged) Event() *types.Event {
	return &types.Event{
		Type: e.EventType(),
		Attributes: map[string]string{
			"account": crypto.AddressFromArray(e.Account).String(),
			"role":    e.Role,
			"actor":   crypto.AddressFromArray(e.Actor).String(),
		},
	}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func intToString(v int64) string {
	return strconv.FormatInt(v, 10)
}
