package vesting

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"vestchain/core/events"
)

type engineState interface {
	VestingPool() (*Pool, bool, error)
	VestingPutPool(*Pool) error
	VestingAccount(addr [20]byte) (*Account, bool, error)
	VestingPutAccount(*Account) error
	VestingDeleteAccount(addr [20]byte) error
	VestingAccounts() ([][20]byte, error)
	VestingPendingAction(id [32]byte) (*PendingAction, bool, error)
	VestingPutPendingAction(*PendingAction) error
	VestingDeletePendingAction(id [32]byte) error
	VestingRoles(addr [20]byte) (RoleSet, error)
	VestingPutRoles(addr [20]byte, roles RoleSet) error
}

// Token moves previously deposited balances. The ledger never mints or burns.
type Token interface {
	Transfer(from, to [20]byte, amount *big.Int) error
	BalanceOf(addr [20]byte) (*big.Int, error)
}

// Engine owns the cap pool, the beneficiary accounts and the pending action
// set. Every mutation runs under the write lock and is all-or-nothing.
type Engine struct {
	mu      sync.RWMutex
	state   engineState
	token   Token
	auth    AuthorizationMode
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates an engine in direct mode with a no-op emitter. Callers
// wire state, token and authorization through the setters.
func NewEngine() *Engine {
	return &Engine{
		auth:    Direct(RoleManager),
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = state
}

// SetToken configures the token ledger used for claims and withdrawals.
func (e *Engine) SetToken(token Token) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.token = token
}

// SetAuthorization selects direct or delayed admission of privileged calls.
func (e *Engine) SetAuthorization(mode AuthorizationMode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.auth = mode
}

// Authorization returns the configured mode.
func (e *Engine) Authorization() AuthorizationMode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.auth
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evts ...events.Event) {
	if e.emitter == nil {
		return
	}
	for _, evt := range evts {
		if evt != nil {
			e.emitter.Emit(evt)
		}
	}
}

func (e *Engine) now() int64 {
	if e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// Initialize stores the genesis pool and grants owner every role. It fails if
// a pool already exists.
func (e *Engine) Initialize(pool *Pool, owner [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return ErrNilState
	}
	if err := pool.Validate(); err != nil {
		return err
	}
	if _, exists, err := e.state.VestingPool(); err != nil {
		return err
	} else if exists {
		return ErrPoolExists
	}
	if owner == ([20]byte{}) {
		return fmt.Errorf("vesting: owner address required")
	}
	stored := pool.Clone()
	stored.TotalPurchased = cloneBigInt(pool.TotalPurchased)
	if err := e.state.VestingPutPool(stored); err != nil {
		return err
	}
	return e.state.VestingPutRoles(owner, RoleSet(0).With(RoleAdmin).With(RoleManager))
}

func (e *Engine) loadPool() (*Pool, error) {
	if e.state == nil {
		return nil, ErrNilState
	}
	pool, ok, err := e.state.VestingPool()
	if err != nil {
		return nil, err
	}
	if !ok || pool == nil {
		return nil, ErrPoolNotFound
	}
	if pool.TotalPurchased == nil {
		pool.TotalPurchased = big.NewInt(0)
	}
	return pool, nil
}

func (e *Engine) loadAccount(addr [20]byte) (*Account, bool, error) {
	acct, ok, err := e.state.VestingAccount(addr)
	if err != nil {
		return nil, false, err
	}
	if !ok || acct == nil {
		return nil, false, nil
	}
	if acct.Purchased == nil {
		acct.Purchased = big.NewInt(0)
	}
	if acct.Claimed == nil {
		acct.Claimed = big.NewInt(0)
	}
	return acct, true, nil
}

func (e *Engine) hasRole(addr [20]byte, role Role) (bool, error) {
	roles, err := e.state.VestingRoles(addr)
	if err != nil {
		return false, err
	}
	return roles.Has(role), nil
}

func (e *Engine) requireRole(addr [20]byte, role Role) error {
	ok, err := e.hasRole(addr, role)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s role required", ErrUnauthorized, role)
	}
	return nil
}

// Reserve allocates amount of the cap to beneficiary. Only available in
// direct mode; delayed deployments reserve through Schedule/Execute.
func (e *Engine) Reserve(caller, beneficiary [20]byte, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return ErrNilState
	}
	if e.auth.IsDelayed() {
		return fmt.Errorf("%w: reservations require schedule and execute", ErrUnauthorized)
	}
	if err := e.requireRole(caller, e.auth.RequiredRole()); err != nil {
		return err
	}
	j := newJournal(e.state)
	eff, err := e.applyReserve(j, beneficiary, amount, e.now())
	if err != nil {
		return j.abort(err)
	}
	return e.commit(j, eff, nil)
}

// Claim transfers amount of the caller's unlocked balance from the vault.
func (e *Engine) Claim(caller [20]byte, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return ErrNilState
	}
	j := newJournal(e.state)
	eff, err := e.applyClaim(j, caller, amount, e.now())
	if err != nil {
		return j.abort(err)
	}
	return e.commit(j, eff, nil)
}

// WithdrawUnpurchasedFunds returns cap minus purchased to the treasury once a
// LinearCliff round has finished. Admin only; direct mode only.
func (e *Engine) WithdrawUnpurchasedFunds(caller [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return ErrNilState
	}
	if e.auth.IsDelayed() {
		return fmt.Errorf("%w: withdrawals require schedule and execute", ErrUnauthorized)
	}
	if err := e.requireRole(caller, RoleAdmin); err != nil {
		return err
	}
	j := newJournal(e.state)
	eff, err := e.applyWithdraw(j, e.now())
	if err != nil {
		return j.abort(err)
	}
	return e.commit(j, eff, nil)
}

func (e *Engine) applyReserve(j *journal, beneficiary [20]byte, amount *big.Int, now int64) (*effect, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	if beneficiary == ([20]byte{}) {
		return nil, fmt.Errorf("vesting: beneficiary address required")
	}
	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	total := new(big.Int).Add(pool.TotalPurchased, amount)
	if err := checkBound(total); err != nil {
		return nil, err
	}
	if total.Cmp(pool.Cap) > 0 {
		return nil, ErrCapExceeded
	}
	if StatusAt(pool, now) == RoundFinished {
		return nil, ErrRoundFinished
	}
	acct, exists, err := e.loadAccount(beneficiary)
	if err != nil {
		return nil, err
	}
	if !exists {
		acct = newAccount(beneficiary, now)
	}
	acct.Purchased = new(big.Int).Add(acct.Purchased, amount)
	pool.TotalPurchased = total
	if err := j.putPool(pool); err != nil {
		return nil, err
	}
	if err := j.putAccount(acct); err != nil {
		return nil, err
	}
	return &effect{events: []events.Event{events.TokenReserved{
		Beneficiary: beneficiary,
		Amount:      cloneBigInt(amount),
		Total:       cloneBigInt(acct.Purchased),
		Timestamp:   now,
	}}}, nil
}

func (e *Engine) applyClaim(j *journal, caller [20]byte, amount *big.Int, now int64) (*effect, error) {
	if e.token == nil {
		return nil, ErrNilToken
	}
	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	acct, exists, err := e.loadAccount(caller)
	if err != nil {
		return nil, err
	}
	if !exists || acct.Purchased.Sign() <= 0 {
		return nil, ErrNotBeneficiary
	}
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	claimable, err := Claimable(pool.Curve, pool.StartRound, acct, now)
	if err != nil {
		return nil, err
	}
	if amount.Cmp(claimable) > 0 {
		return nil, ErrInsufficientFunds
	}
	acct.Claimed = new(big.Int).Add(acct.Claimed, amount)
	if pool.Curve.Kind == CurveDecayDrip {
		acct.LastClaimTime = now
	}
	if err := j.putAccount(acct); err != nil {
		return nil, err
	}
	return &effect{
		transfer: &transfer{from: pool.Vault, to: caller, amount: cloneBigInt(amount)},
		events: []events.Event{events.TokenClaimed{
			Beneficiary: caller,
			Amount:      cloneBigInt(amount),
			Claimed:     cloneBigInt(acct.Claimed),
			Timestamp:   now,
		}},
	}, nil
}

func (e *Engine) applyWithdraw(j *journal, now int64) (*effect, error) {
	if e.token == nil {
		return nil, ErrNilToken
	}
	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	if pool.Curve.Kind != CurveLinearCliff {
		return nil, ErrUnsupportedCurve
	}
	if StatusAt(pool, now) != RoundFinished {
		return nil, ErrRoundNotFinished
	}
	if pool.Withdrawn {
		return nil, ErrAlreadyWithdrawn
	}
	amount := pool.Available()
	pool.Withdrawn = true
	if err := j.putPool(pool); err != nil {
		return nil, err
	}
	eff := &effect{events: []events.Event{events.FundsWithdrawn{
		Treasury:  pool.Treasury,
		Amount:    cloneBigInt(amount),
		Timestamp: now,
	}}}
	if amount.Sign() > 0 {
		eff.transfer = &transfer{from: pool.Vault, to: pool.Treasury, amount: amount}
	}
	return eff, nil
}

// commit performs the token transfer and the optional finalizer, rolling the
// journal back when either fails. Events are emitted only after success.
func (e *Engine) commit(j *journal, eff *effect, finalize func() error) error {
	if eff == nil {
		eff = &effect{}
	}
	if eff.transfer != nil {
		if e.token == nil {
			return j.abort(ErrNilToken)
		}
		t := eff.transfer
		if err := e.token.Transfer(t.from, t.to, t.amount); err != nil {
			return j.abort(fmt.Errorf("vesting: token transfer: %w", err))
		}
	}
	if finalize != nil {
		if err := finalize(); err != nil {
			if t := eff.transfer; t != nil {
				// Compensate so the vault balance matches the restored records.
				if cerr := e.token.Transfer(t.to, t.from, t.amount); cerr != nil {
					err = errors.Join(err, fmt.Errorf("vesting: compensating transfer: %w", cerr))
				}
			}
			return j.abort(err)
		}
	}
	e.emit(eff.events...)
	return nil
}

type transfer struct {
	from   [20]byte
	to     [20]byte
	amount *big.Int
}

type effect struct {
	transfer *transfer
	events   []events.Event
}

// --- Queries ---

// Pool returns a copy of the pool record.
func (e *Engine) Pool() (*Pool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	return pool.Clone(), nil
}

// Account returns the beneficiary record and whether it exists.
func (e *Engine) Account(addr [20]byte) (*Account, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state == nil {
		return nil, false, ErrNilState
	}
	return e.loadAccount(addr)
}

// Accounts returns every beneficiary record in reservation order.
func (e *Engine) Accounts() ([]*Account, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state == nil {
		return nil, ErrNilState
	}
	addrs, err := e.state.VestingAccounts()
	if err != nil {
		return nil, err
	}
	out := make([]*Account, 0, len(addrs))
	for _, addr := range addrs {
		acct, ok, err := e.loadAccount(addr)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, acct)
		}
	}
	return out, nil
}

// Purchased returns the total amount reserved across all beneficiaries.
func (e *Engine) Purchased() (*big.Int, error) {
	pool, err := e.Pool()
	if err != nil {
		return nil, err
	}
	return cloneBigInt(pool.TotalPurchased), nil
}

// PurchasedBy returns the amount reserved for addr.
func (e *Engine) PurchasedBy(addr [20]byte) (*big.Int, error) {
	acct, ok, err := e.Account(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return cloneBigInt(acct.Purchased), nil
}

// AvailableForPurchase returns cap minus total purchased.
func (e *Engine) AvailableForPurchase() (*big.Int, error) {
	pool, err := e.Pool()
	if err != nil {
		return nil, err
	}
	return pool.Available(), nil
}

// Claimable returns what addr could claim right now.
func (e *Engine) Claimable(addr [20]byte) (*big.Int, error) {
	e.mu.RLock()
	now := e.now()
	e.mu.RUnlock()
	return e.ClaimableAt(addr, now)
}

// ClaimableAt evaluates the curve for addr at an arbitrary timestamp.
func (e *Engine) ClaimableAt(addr [20]byte, now int64) (*big.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	acct, ok, err := e.loadAccount(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return Claimable(pool.Curve, pool.StartRound, acct, now)
}

// RoundStatus reports the round state at the engine's current time.
func (e *Engine) RoundStatus() (RoundStatus, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	pool, err := e.loadPool()
	if err != nil {
		return RoundActive, err
	}
	return StatusAt(pool, e.now()), nil
}

// Roles returns the role set held by addr.
func (e *Engine) Roles(addr [20]byte) (RoleSet, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state == nil {
		return 0, ErrNilState
	}
	return e.state.VestingRoles(addr)
}

// GrantRole adds role to account. The caller must be an admin.
func (e *Engine) GrantRole(caller, account [20]byte, role Role) error {
	return e.setRole(caller, account, role, true)
}

// RevokeRole removes role from account. The caller must be an admin.
func (e *Engine) RevokeRole(caller, account [20]byte, role Role) error {
	return e.setRole(caller, account, role, false)
}

func (e *Engine) setRole(caller, account [20]byte, role Role, grant bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return ErrNilState
	}
	if !role.Valid() {
		return fmt.Errorf("vesting: invalid role %d", role)
	}
	if err := e.requireRole(caller, RoleAdmin); err != nil {
		return err
	}
	current, err := e.state.VestingRoles(account)
	if err != nil {
		return err
	}
	next := current.Without(role)
	if grant {
		next = current.With(role)
	}
	if next == current {
		return nil
	}
	if err := e.state.VestingPutRoles(account, next); err != nil {
		return err
	}
	e.emit(events.RoleChanged{Account: account, Role: role.String(), Actor: caller, Granted: grant})
	return nil
}
