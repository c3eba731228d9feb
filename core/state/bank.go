package state

import "math/big"

func bankBalanceKey(token string, addr [20]byte) []byte {
	buf := make([]byte, 0, len(token)+1+len(addr))
	buf = append(buf, token...)
	buf = append(buf, '/')
	buf = append(buf, addr[:]...)
	return prefixedKey(bankBalancePrefix, buf)
}

// BankBalance returns the stored balance or zero.
func (m *Manager) BankBalance(token string, addr [20]byte) (*big.Int, error) {
	bal := new(big.Int)
	ok, err := m.getRaw(bankBalanceKey(token, addr), bal)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return bal, nil
}

// BankPutBalance overwrites the balance of addr.
func (m *Manager) BankPutBalance(token string, addr [20]byte, amount *big.Int) error {
	return m.putRaw(bankBalanceKey(token, addr), nonNil(amount))
}

// GenesisApplied reports whether the genesis bootstrap already ran.
func (m *Manager) GenesisApplied() (bool, error) {
	var marker bool
	return m.KVGet(genesisMarkerKey, &marker)
}

// MarkGenesisApplied records that the genesis bootstrap completed.
func (m *Manager) MarkGenesisApplied() error {
	return m.KVPut(genesisMarkerKey, true)
}
