package bank

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrInvalidAmount       = errors.New("bank: amount must be positive")
	ErrBalanceOverflow     = errors.New("bank: balance exceeds 256 bits")
)

type ledgerState interface {
	BankBalance(token string, addr [20]byte) (*big.Int, error)
	BankPutBalance(token string, addr [20]byte, amount *big.Int) error
}

// Ledger moves balances of a single fungible token. Supply only enters
// through Credit during genesis.
type Ledger struct {
	mu    sync.Mutex
	state ledgerState
	token string
}

// NormalizeToken upper-cases and trims a token symbol.
func NormalizeToken(token string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(token))
	if trimmed == "" {
		return "", fmt.Errorf("bank: token symbol required")
	}
	return trimmed, nil
}

// NewLedger binds the ledger to a state backend and token symbol.
func NewLedger(state ledgerState, token string) (*Ledger, error) {
	if state == nil {
		return nil, fmt.Errorf("bank: state required")
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	return &Ledger{state: state, token: normalized}, nil
}

// Token returns the normalised token symbol.
func (l *Ledger) Token() string { return l.token }

// BalanceOf returns the balance held by addr.
func (l *Ledger) BalanceOf(addr [20]byte) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance(addr)
}

func (l *Ledger) balance(addr [20]byte) (*big.Int, error) {
	bal, err := l.state.BankBalance(l.token, addr)
	if err != nil {
		return nil, err
	}
	if bal == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(bal), nil
}

// Transfer debits from and credits to. Both balances are written or neither.
func (l *Ledger) Transfer(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if from == to {
		return nil
	}
	fromBal, err := l.balance(from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, fromBal, amount)
	}
	toBal, err := l.balance(to)
	if err != nil {
		return err
	}
	nextTo := new(big.Int).Add(toBal, amount)
	if _, overflow := uint256.FromBig(nextTo); overflow {
		return ErrBalanceOverflow
	}
	nextFrom := new(big.Int).Sub(fromBal, amount)
	if err := l.state.BankPutBalance(l.token, from, nextFrom); err != nil {
		return err
	}
	if err := l.state.BankPutBalance(l.token, to, nextTo); err != nil {
		_ = l.state.BankPutBalance(l.token, from, fromBal)
		return err
	}
	return nil
}

// Credit adds amount to addr. It is only used to fund the vault at genesis.
func (l *Ledger) Credit(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	bal, err := l.balance(addr)
	if err != nil {
		return err
	}
	next := new(big.Int).Add(bal, amount)
	if _, overflow := uint256.FromBig(next); overflow {
		return ErrBalanceOverflow
	}
	return l.state.BankPutBalance(l.token, addr, next)
}
