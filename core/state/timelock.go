package state

import "vestchain/native/timelock"

type storedOperation struct {
	Key        [32]byte
	ActionID   [32]byte
	Proposer   [20]byte
	ProposedAt uint64
	ReadyAt    uint64
	Done       bool
	Cancelled  bool
}

// TimelockOperation loads a delay authority operation.
func (m *Manager) TimelockOperation(key [32]byte) (*timelock.Operation, bool, error) {
	var stored storedOperation
	ok, err := m.getRaw(prefixedKey(timelockOperationPrefix, key[:]), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &timelock.Operation{
		Key:        stored.Key,
		ActionID:   stored.ActionID,
		Proposer:   stored.Proposer,
		ProposedAt: int64(stored.ProposedAt),
		ReadyAt:    int64(stored.ReadyAt),
		Done:       stored.Done,
		Cancelled:  stored.Cancelled,
	}, true, nil
}

// TimelockPutOperation stores a delay authority operation.
func (m *Manager) TimelockPutOperation(op *timelock.Operation) error {
	return m.putRaw(prefixedKey(timelockOperationPrefix, op.Key[:]), &storedOperation{
		Key:        op.Key,
		ActionID:   op.ActionID,
		Proposer:   op.Proposer,
		ProposedAt: toUnsigned(op.ProposedAt),
		ReadyAt:    toUnsigned(op.ReadyAt),
		Done:       op.Done,
		Cancelled:  op.Cancelled,
	})
}
