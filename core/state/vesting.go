package state

import (
	"fmt"
	"math/big"

	"vestchain/native/vesting"
)

type storedCurve struct {
	Kind                 uint8
	CliffDuration        uint64
	VestingDuration      uint64
	TGEBasisPoints       uint32
	PeriodLength         uint64
	DecayRateBasisPoints uint32
}

type storedPool struct {
	Cap            *big.Int
	TotalPurchased *big.Int
	StartRound     uint64
	Curve          storedCurve
	Treasury       [20]byte
	Vault          [20]byte
	Token          string
	Withdrawn      bool
}

type storedAccount struct {
	Address       [20]byte
	Purchased     *big.Int
	Claimed       *big.Int
	LastClaimTime uint64
	ReservedAt    uint64
}

type storedPendingAction struct {
	ID          [32]byte
	Kind        string
	Beneficiary [20]byte
	Amount      *big.Int
	Proposer    [20]byte
	ProposedAt  uint64
	ReadyAt     uint64
	Consumed    bool
	ExecutedAt  uint64
	Executor    [20]byte
}

// RLP cannot encode signed integers, so timestamps are persisted unsigned.
func toUnsigned(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func newStoredPool(p *vesting.Pool) *storedPool {
	return &storedPool{
		Cap:            nonNil(p.Cap),
		TotalPurchased: nonNil(p.TotalPurchased),
		StartRound:     toUnsigned(p.StartRound),
		Curve: storedCurve{
			Kind:                 uint8(p.Curve.Kind),
			CliffDuration:        toUnsigned(p.Curve.LinearCliff.CliffDuration),
			VestingDuration:      toUnsigned(p.Curve.LinearCliff.VestingDuration),
			TGEBasisPoints:       p.Curve.LinearCliff.TGEBasisPoints,
			PeriodLength:         toUnsigned(p.Curve.DecayDrip.PeriodLength),
			DecayRateBasisPoints: p.Curve.DecayDrip.DecayRateBasisPoints,
		},
		Treasury:  p.Treasury,
		Vault:     p.Vault,
		Token:     p.Token,
		Withdrawn: p.Withdrawn,
	}
}

func (s *storedPool) toPool() (*vesting.Pool, error) {
	kind := vesting.CurveKind(s.Curve.Kind)
	if !kind.Valid() {
		return nil, fmt.Errorf("state: stored pool has invalid curve kind %d", s.Curve.Kind)
	}
	pool := &vesting.Pool{
		Cap:            nonNil(s.Cap),
		TotalPurchased: nonNil(s.TotalPurchased),
		StartRound:     int64(s.StartRound),
		Treasury:       s.Treasury,
		Vault:          s.Vault,
		Token:          s.Token,
		Withdrawn:      s.Withdrawn,
	}
	switch kind {
	case vesting.CurveLinearCliff:
		pool.Curve = vesting.NewLinearCliff(int64(s.Curve.CliffDuration), int64(s.Curve.VestingDuration), s.Curve.TGEBasisPoints)
	case vesting.CurveDecayDrip:
		pool.Curve = vesting.NewDecayDrip(int64(s.Curve.PeriodLength), s.Curve.DecayRateBasisPoints)
	}
	return pool, nil
}

// VestingPool loads the pool record.
func (m *Manager) VestingPool() (*vesting.Pool, bool, error) {
	var stored storedPool
	ok, err := m.KVGet(vestingPoolKey, &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	pool, err := stored.toPool()
	if err != nil {
		return nil, false, err
	}
	return pool, true, nil
}

// VestingPutPool overwrites the pool record.
func (m *Manager) VestingPutPool(pool *vesting.Pool) error {
	if pool == nil {
		return fmt.Errorf("state: nil pool")
	}
	return m.KVPut(vestingPoolKey, newStoredPool(pool))
}

// VestingAccount loads the beneficiary record for addr.
func (m *Manager) VestingAccount(addr [20]byte) (*vesting.Account, bool, error) {
	var stored storedAccount
	ok, err := m.getRaw(prefixedKey(vestingAccountPrefix, addr[:]), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &vesting.Account{
		Address:       stored.Address,
		Purchased:     nonNil(stored.Purchased),
		Claimed:       nonNil(stored.Claimed),
		LastClaimTime: int64(stored.LastClaimTime),
		ReservedAt:    int64(stored.ReservedAt),
	}, true, nil
}

// VestingPutAccount stores acct and adds it to the account index.
func (m *Manager) VestingPutAccount(acct *vesting.Account) error {
	if acct == nil {
		return fmt.Errorf("state: nil account")
	}
	stored := &storedAccount{
		Address:       acct.Address,
		Purchased:     nonNil(acct.Purchased),
		Claimed:       nonNil(acct.Claimed),
		LastClaimTime: toUnsigned(acct.LastClaimTime),
		ReservedAt:    toUnsigned(acct.ReservedAt),
	}
	if err := m.putRaw(prefixedKey(vestingAccountPrefix, acct.Address[:]), stored); err != nil {
		return err
	}
	return m.KVAppend(vestingAccountIndexKey, acct.Address[:])
}

// VestingDeleteAccount removes the record and its index entry.
func (m *Manager) VestingDeleteAccount(addr [20]byte) error {
	if err := m.db.Delete(prefixedKey(vestingAccountPrefix, addr[:])); err != nil {
		return err
	}
	return m.KVRemove(vestingAccountIndexKey, addr[:])
}

// VestingAccounts lists every beneficiary address in reservation order.
func (m *Manager) VestingAccounts() ([][20]byte, error) {
	list, err := m.KVGetList(vestingAccountIndexKey)
	if err != nil {
		return nil, err
	}
	out := make([][20]byte, 0, len(list))
	for _, raw := range list {
		if len(raw) != 20 {
			return nil, fmt.Errorf("state: corrupt account index entry")
		}
		var addr [20]byte
		copy(addr[:], raw)
		out = append(out, addr)
	}
	return out, nil
}

// VestingPendingAction loads the gateway record for id.
func (m *Manager) VestingPendingAction(id [32]byte) (*vesting.PendingAction, bool, error) {
	var stored storedPendingAction
	ok, err := m.getRaw(prefixedKey(vestingPendingPrefix, id[:]), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &vesting.PendingAction{
		ID: stored.ID,
		Action: vesting.Action{
			Kind:        vesting.ActionKind(stored.Kind),
			Beneficiary: stored.Beneficiary,
			Amount:      nonNil(stored.Amount),
			Proposer:    stored.Proposer,
		},
		ProposedAt: int64(stored.ProposedAt),
		ReadyAt:    int64(stored.ReadyAt),
		Consumed:   stored.Consumed,
		ExecutedAt: int64(stored.ExecutedAt),
		Executor:   stored.Executor,
	}, true, nil
}

// VestingPutPendingAction stores the gateway record.
func (m *Manager) VestingPutPendingAction(p *vesting.PendingAction) error {
	if p == nil {
		return fmt.Errorf("state: nil pending action")
	}
	stored := &storedPendingAction{
		ID:          p.ID,
		Kind:        string(p.Action.Kind),
		Beneficiary: p.Action.Beneficiary,
		Amount:      nonNil(p.Action.Amount),
		Proposer:    p.Action.Proposer,
		ProposedAt:  toUnsigned(p.ProposedAt),
		ReadyAt:     toUnsigned(p.ReadyAt),
		Consumed:    p.Consumed,
		ExecutedAt:  toUnsigned(p.ExecutedAt),
		Executor:    p.Executor,
	}
	return m.putRaw(prefixedKey(vestingPendingPrefix, p.ID[:]), stored)
}

// VestingDeletePendingAction removes the gateway record for id.
func (m *Manager) VestingDeletePendingAction(id [32]byte) error {
	return m.db.Delete(prefixedKey(vestingPendingPrefix, id[:]))
}

// VestingRoles returns the role set of addr; unknown addresses hold none.
func (m *Manager) VestingRoles(addr [20]byte) (vesting.RoleSet, error) {
	var roles uint8
	if _, err := m.getRaw(prefixedKey(vestingRolePrefix, addr[:]), &roles); err != nil {
		return 0, err
	}
	return vesting.RoleSet(roles), nil
}

// VestingPutRoles stores the role set of addr.
func (m *Manager) VestingPutRoles(addr [20]byte, roles vesting.RoleSet) error {
	return m.putRaw(prefixedKey(vestingRolePrefix, addr[:]), uint8(roles))
}
