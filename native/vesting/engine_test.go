package vesting

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"vestchain/core/events"
)

type mockState struct {
	pool     *Pool
	accounts map[[20]byte]*Account
	pending  map[[32]byte]*PendingAction
	roles    map[[20]byte]RoleSet
	order    [][20]byte
	failPut  bool
}

func newMockState() *mockState {
	return &mockState{
		accounts: make(map[[20]byte]*Account),
		pending:  make(map[[32]byte]*PendingAction),
		roles:    make(map[[20]byte]RoleSet),
	}
}

func (m *mockState) VestingPool() (*Pool, bool, error) {
	if m.pool == nil {
		return nil, false, nil
	}
	return m.pool.Clone(), true, nil
}

func (m *mockState) VestingPutPool(p *Pool) error {
	m.pool = p.Clone()
	return nil
}

func (m *mockState) VestingAccount(addr [20]byte) (*Account, bool, error) {
	acct, ok := m.accounts[addr]
	if !ok {
		return nil, false, nil
	}
	return acct.Clone(), true, nil
}

func (m *mockState) VestingPutAccount(acct *Account) error {
	if _, ok := m.accounts[acct.Address]; !ok {
		m.order = append(m.order, acct.Address)
	}
	m.accounts[acct.Address] = acct.Clone()
	return nil
}

func (m *mockState) VestingDeleteAccount(addr [20]byte) error {
	delete(m.accounts, addr)
	for i, a := range m.order {
		if a == addr {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *mockState) VestingAccounts() ([][20]byte, error) {
	return append([][20]byte(nil), m.order...), nil
}

func (m *mockState) VestingPendingAction(id [32]byte) (*PendingAction, bool, error) {
	p, ok := m.pending[id]
	if !ok {
		return nil, false, nil
	}
	return p.Clone(), true, nil
}

func (m *mockState) VestingPutPendingAction(p *PendingAction) error {
	if m.failPut {
		return errors.New("disk full")
	}
	m.pending[p.ID] = p.Clone()
	return nil
}

func (m *mockState) VestingDeletePendingAction(id [32]byte) error {
	delete(m.pending, id)
	return nil
}

func (m *mockState) VestingRoles(addr [20]byte) (RoleSet, error) {
	return m.roles[addr], nil
}

func (m *mockState) VestingPutRoles(addr [20]byte, roles RoleSet) error {
	m.roles[addr] = roles
	return nil
}

type mockToken struct {
	balances map[[20]byte]*big.Int
	fail     bool
	rejectTo map[[20]byte]bool
}

func newMockToken() *mockToken {
	return &mockToken{balances: make(map[[20]byte]*big.Int)}
}

func (t *mockToken) Transfer(from, to [20]byte, amount *big.Int) error {
	if t.fail || t.rejectTo[to] {
		return errors.New("transfer rejected")
	}
	bal := t.balances[from]
	if bal == nil || bal.Cmp(amount) < 0 {
		return errors.New("insufficient balance")
	}
	t.balances[from] = new(big.Int).Sub(bal, amount)
	t.balances[to] = new(big.Int).Add(cloneBigInt(t.balances[to]), amount)
	return nil
}

func (t *mockToken) BalanceOf(addr [20]byte) (*big.Int, error) {
	return cloneBigInt(t.balances[addr]), nil
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

var (
	ownerAddr    = newTestAddress(0x01)
	managerAddr  = newTestAddress(0x02)
	userAddr     = newTestAddress(0x03)
	strangerAddr = newTestAddress(0x04)
	vaultAddr    = newTestAddress(0xAA)
	treasuryAddr = newTestAddress(0xBB)
)

const testT0 = int64(1_700_000_000)

type testHarness struct {
	engine   *Engine
	state    *mockState
	token    *mockToken
	recorder *events.Recorder
	now      int64
}

func newHarness(t *testing.T, curve CurveParams, poolCap int64) *testHarness {
	t.Helper()
	h := &testHarness{
		engine:   NewEngine(),
		state:    newMockState(),
		token:    newMockToken(),
		recorder: &events.Recorder{},
		now:      testT0,
	}
	h.engine.SetState(h.state)
	h.engine.SetToken(h.token)
	h.engine.SetEmitter(h.recorder)
	h.engine.SetNowFunc(func() int64 { return h.now })
	pool := &Pool{
		Cap:        big.NewInt(poolCap),
		StartRound: testT0 + 60,
		Curve:      curve,
		Treasury:   treasuryAddr,
		Vault:      vaultAddr,
		Token:      "VEST",
	}
	if err := h.engine.Initialize(pool, ownerAddr); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	h.token.balances[vaultAddr] = big.NewInt(poolCap)
	return h
}

func newLinearHarness(t *testing.T) *testHarness {
	return newHarness(t, NewLinearCliff(600, 600, 500), 10_000_000_000)
}

func (h *testHarness) balance(addr [20]byte) int64 {
	bal, _ := h.token.BalanceOf(addr)
	return bal.Int64()
}

func TestInitializeRejectsSecondPool(t *testing.T) {
	h := newLinearHarness(t)
	pool, err := h.engine.Pool()
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if err := h.engine.Initialize(pool, ownerAddr); !errors.Is(err, ErrPoolExists) {
		t.Fatalf("expected ErrPoolExists, got %v", err)
	}
	roles, _ := h.engine.Roles(ownerAddr)
	if !roles.Has(RoleAdmin) || !roles.Has(RoleManager) {
		t.Fatalf("owner should hold every role, got %v", roles.Names())
	}
}

func TestReserveAccumulatesAndQueries(t *testing.T) {
	h := newLinearHarness(t)
	if err := h.engine.Reserve(ownerAddr, userAddr, big.NewInt(10_000)); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := h.engine.Reserve(ownerAddr, userAddr, big.NewInt(5_000)); err != nil {
		t.Fatalf("second reserve: %v", err)
	}
	purchasedBy, _ := h.engine.PurchasedBy(userAddr)
	if purchasedBy.Int64() != 15_000 {
		t.Fatalf("expected 15000 purchased by user, got %s", purchasedBy)
	}
	purchased, _ := h.engine.Purchased()
	if purchased.Int64() != 15_000 {
		t.Fatalf("expected 15000 purchased, got %s", purchased)
	}
	available, _ := h.engine.AvailableForPurchase()
	if available.Int64() != 10_000_000_000-15_000 {
		t.Fatalf("unexpected available %s", available)
	}
	acct, ok, _ := h.engine.Account(userAddr)
	if !ok || acct.ReservedAt != testT0 || acct.LastClaimTime != testT0 {
		t.Fatalf("unexpected account %+v", acct)
	}
	types := h.recorder.Types()
	if len(types) != 2 || types[0] != events.TypeVestingReserved {
		t.Fatalf("unexpected events %v", types)
	}
	evt := h.recorder.Events()[1].(events.TokenReserved)
	if evt.Amount.Int64() != 5_000 || evt.Total.Int64() != 15_000 {
		t.Fatalf("unexpected reserved event %+v", evt)
	}
}

func TestReserveCapInvariant(t *testing.T) {
	h := newHarness(t, NewLinearCliff(600, 600, 500), 1000)
	if err := h.engine.Reserve(ownerAddr, userAddr, big.NewInt(600)); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := h.engine.Reserve(ownerAddr, managerAddr, big.NewInt(401)); !errors.Is(err, ErrCapExceeded) {
		t.Fatalf("expected ErrCapExceeded, got %v", err)
	}
	if _, ok := h.state.accounts[managerAddr]; ok {
		t.Fatalf("rejected reservation must not create an account")
	}
	purchased, _ := h.engine.Purchased()
	if purchased.Int64() != 600 {
		t.Fatalf("state changed after rejection: %s", purchased)
	}
	if err := h.engine.Reserve(ownerAddr, managerAddr, big.NewInt(400)); err != nil {
		t.Fatalf("reserve up to cap: %v", err)
	}
	available, _ := h.engine.AvailableForPurchase()
	if available.Sign() != 0 {
		t.Fatalf("expected pool to be exhausted, got %s", available)
	}
	if err := h.engine.Reserve(ownerAddr, managerAddr, big.NewInt(1)); !errors.Is(err, ErrCapExceeded) {
		t.Fatalf("expected ErrCapExceeded, got %v", err)
	}
}

func TestReserveRejectsInvalidAmounts(t *testing.T) {
	h := newLinearHarness(t)
	for _, amount := range []*big.Int{nil, big.NewInt(0), big.NewInt(-5)} {
		if err := h.engine.Reserve(ownerAddr, userAddr, amount); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("expected ErrInvalidAmount for %v, got %v", amount, err)
		}
	}
	huge := new(big.Int).Lsh(big.NewInt(1), 256)
	if err := h.engine.Reserve(ownerAddr, userAddr, huge); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected ErrAmountOverflow, got %v", err)
	}
}

func TestReserveRoleEnforcement(t *testing.T) {
	h := newLinearHarness(t)
	if err := h.engine.Reserve(strangerAddr, userAddr, big.NewInt(10)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if len(h.state.accounts) != 0 || len(h.recorder.Events()) != 0 {
		t.Fatalf("unauthorized reserve must not change state")
	}

	if err := h.engine.GrantRole(strangerAddr, managerAddr, RoleManager); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("only admins may grant roles, got %v", err)
	}
	if err := h.engine.GrantRole(ownerAddr, managerAddr, RoleManager); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := h.engine.Reserve(managerAddr, userAddr, big.NewInt(10)); err != nil {
		t.Fatalf("manager reserve: %v", err)
	}
	if err := h.engine.RevokeRole(ownerAddr, managerAddr, RoleManager); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := h.engine.Reserve(managerAddr, userAddr, big.NewInt(10)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized after revoke, got %v", err)
	}
	types := h.recorder.Types()
	want := []string{events.TypeVestingRoleGranted, events.TypeVestingReserved, events.TypeVestingRoleRevoked}
	if len(types) != len(want) {
		t.Fatalf("unexpected events %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("unexpected events %v", types)
		}
	}
}

func TestReserveAfterRoundFinished(t *testing.T) {
	h := newLinearHarness(t)
	h.now = testT0 + 60 + 1200
	if err := h.engine.Reserve(ownerAddr, userAddr, big.NewInt(10)); !errors.Is(err, ErrRoundFinished) {
		t.Fatalf("expected ErrRoundFinished, got %v", err)
	}
	h.now--
	if err := h.engine.Reserve(ownerAddr, userAddr, big.NewInt(10)); err != nil {
		t.Fatalf("reserve on last active second: %v", err)
	}
}

func TestClaimLinearCliff(t *testing.T) {
	h := newLinearHarness(t)
	if err := h.engine.Reserve(ownerAddr, userAddr, big.NewInt(20_000)); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	h.now = testT0 + 61
	claimable, _ := h.engine.Claimable(userAddr)
	if claimable.Sign() != 0 {
		t.Fatalf("expected nothing claimable before cliff, got %s", claimable)
	}
	if err := h.engine.Claim(userAddr, big.NewInt(1)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	h.now = testT0 + 60 + 600 + 600
	claimable, _ = h.engine.Claimable(userAddr)
	if claimable.Int64() != 20_000 {
		t.Fatalf("expected full unlock, got %s", claimable)
	}
	if err := h.engine.Claim(userAddr, big.NewInt(20_001)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if err := h.engine.Claim(userAddr, big.NewInt(12_000)); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := h.engine.Claim(userAddr, big.NewInt(8_000)); err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if h.balance(userAddr) != 20_000 {
		t.Fatalf("expected user balance 20000, got %d", h.balance(userAddr))
	}
	if h.balance(vaultAddr) != 10_000_000_000-20_000 {
		t.Fatalf("unexpected vault balance %d", h.balance(vaultAddr))
	}
	claimable, _ = h.engine.Claimable(userAddr)
	if claimable.Sign() != 0 {
		t.Fatalf("expected nothing left, got %s", claimable)
	}
	last := h.recorder.Events()[len(h.recorder.Events())-1].(events.TokenClaimed)
	if last.Amount.Int64() != 8_000 || last.Claimed.Int64() != 20_000 {
		t.Fatalf("unexpected claim event %+v", last)
	}
}

func TestClaimRequiresBeneficiary(t *testing.T) {
	h := newLinearHarness(t)
	if err := h.engine.Claim(userAddr, big.NewInt(1)); !errors.Is(err, ErrNotBeneficiary) {
		t.Fatalf("expected ErrNotBeneficiary, got %v", err)
	}
}

func TestClaimRollsBackWhenTransferFails(t *testing.T) {
	h := newLinearHarness(t)
	if err := h.engine.Reserve(ownerAddr, userAddr, big.NewInt(20_000)); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	h.now = testT0 + 10_000
	h.token.fail = true
	before := len(h.recorder.Events())
	if err := h.engine.Claim(userAddr, big.NewInt(100)); err == nil {
		t.Fatalf("expected transfer failure")
	}
	acct, _, _ := h.engine.Account(userAddr)
	if acct.Claimed.Sign() != 0 {
		t.Fatalf("claimed counter must be restored, got %s", acct.Claimed)
	}
	if len(h.recorder.Events()) != before {
		t.Fatalf("failed claim must not emit events")
	}
}

func TestClaimDecayDrip(t *testing.T) {
	const period = int64(28 * 24 * 3600)
	h := newHarness(t, NewDecayDrip(period, 40), 10_000_000_000)
	if err := h.engine.Reserve(ownerAddr, userAddr, big.NewInt(1_000_000)); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	claimable, _ := h.engine.Claimable(userAddr)
	if claimable.Sign() != 0 {
		t.Fatalf("expected zero right after reservation, got %s", claimable)
	}

	h.now = testT0 + period
	claimable, _ = h.engine.Claimable(userAddr)
	if claimable.Int64() != 4000 {
		t.Fatalf("expected 4000 after one period, got %s", claimable)
	}
	twoPeriods, _ := h.engine.ClaimableAt(userAddr, testT0+2*period)
	if twoPeriods.Int64() != 7984 {
		t.Fatalf("expected 7984 after two periods, got %s", twoPeriods)
	}

	if err := h.engine.Claim(userAddr, big.NewInt(4000)); err != nil {
		t.Fatalf("claim: %v", err)
	}
	acct, _, _ := h.engine.Account(userAddr)
	if acct.LastClaimTime != h.now {
		t.Fatalf("claim must reset the compounding window")
	}
	h.now += period
	claimable, _ = h.engine.Claimable(userAddr)
	if claimable.Int64() != 3984 {
		t.Fatalf("expected 3984 after claiming, got %s", claimable)
	}
	if h.balance(userAddr) != 4000 {
		t.Fatalf("unexpected user balance %d", h.balance(userAddr))
	}
}

func TestPartialDecayDripClaimResetsWindow(t *testing.T) {
	const period = int64(100)
	h := newHarness(t, NewDecayDrip(period, 40), 10_000_000_000)
	if err := h.engine.Reserve(ownerAddr, userAddr, big.NewInt(1_000_000)); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	h.now = testT0 + 2*period
	if err := h.engine.Claim(userAddr, big.NewInt(1000)); err != nil {
		t.Fatalf("partial claim: %v", err)
	}
	// The unclaimed drip of the first two periods is forfeited to the
	// remaining principal.
	claimable, _ := h.engine.Claimable(userAddr)
	if claimable.Sign() != 0 {
		t.Fatalf("expected zero immediately after claim, got %s", claimable)
	}
	h.now += period
	claimable, _ = h.engine.Claimable(userAddr)
	if claimable.Int64() != 3996 {
		t.Fatalf("expected floor(999000*0.004)=3996, got %s", claimable)
	}
}

func TestWithdrawUnpurchasedFunds(t *testing.T) {
	h := newLinearHarness(t)
	if err := h.engine.Reserve(ownerAddr, userAddr, big.NewInt(20_000)); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := h.engine.WithdrawUnpurchasedFunds(ownerAddr); !errors.Is(err, ErrRoundNotFinished) {
		t.Fatalf("expected ErrRoundNotFinished, got %v", err)
	}
	h.now = testT0 + 60 + 1200
	if err := h.engine.WithdrawUnpurchasedFunds(userAddr); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := h.engine.WithdrawUnpurchasedFunds(ownerAddr); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if h.balance(treasuryAddr) != 10_000_000_000-20_000 {
		t.Fatalf("unexpected treasury balance %d", h.balance(treasuryAddr))
	}
	if err := h.engine.WithdrawUnpurchasedFunds(ownerAddr); !errors.Is(err, ErrAlreadyWithdrawn) {
		t.Fatalf("expected ErrAlreadyWithdrawn, got %v", err)
	}
	if h.balance(treasuryAddr) != 10_000_000_000-20_000 {
		t.Fatalf("second withdrawal must not pay again")
	}
	// Beneficiary funds remain claimable after the withdrawal.
	if err := h.engine.Claim(userAddr, big.NewInt(20_000)); err != nil {
		t.Fatalf("claim after withdrawal: %v", err)
	}
	evts := h.recorder.Events()
	var withdrawn *events.FundsWithdrawn
	for _, evt := range evts {
		if w, ok := evt.(events.FundsWithdrawn); ok {
			withdrawn = &w
		}
	}
	if withdrawn == nil || withdrawn.Amount.Int64() != 10_000_000_000-20_000 {
		t.Fatalf("expected funds withdrawn event, got %v", h.recorder.Types())
	}
}

func TestWithdrawRejectsDecayDrip(t *testing.T) {
	h := newHarness(t, NewDecayDrip(100, 40), 1000)
	h.now = testT0 + 1<<30
	if err := h.engine.WithdrawUnpurchasedFunds(ownerAddr); !errors.Is(err, ErrUnsupportedCurve) {
		t.Fatalf("expected ErrUnsupportedCurve, got %v", err)
	}
}

func TestWithdrawRollsBackFlagOnTransferFailure(t *testing.T) {
	h := newLinearHarness(t)
	h.now = testT0 + 60 + 1200
	h.token.fail = true
	if err := h.engine.WithdrawUnpurchasedFunds(ownerAddr); err == nil {
		t.Fatalf("expected transfer failure")
	}
	pool, _ := h.engine.Pool()
	if pool.Withdrawn {
		t.Fatalf("withdrawn flag must be restored")
	}
	h.token.fail = false
	if err := h.engine.WithdrawUnpurchasedFunds(ownerAddr); err != nil {
		t.Fatalf("retry withdraw: %v", err)
	}
}

func TestDirectCallsRejectedInDelayedMode(t *testing.T) {
	h := newLinearHarness(t)
	h.engine.SetAuthorization(Delayed(newMockAuthority(h, 10)))
	if err := h.engine.Reserve(ownerAddr, userAddr, big.NewInt(10)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	h.now = testT0 + 60 + 1200
	if err := h.engine.WithdrawUnpurchasedFunds(ownerAddr); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestClaimMonotonicity(t *testing.T) {
	h := newLinearHarness(t)
	if err := h.engine.Reserve(ownerAddr, userAddr, big.NewInt(20_000)); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	prev := big.NewInt(0)
	for step := int64(0); step <= 1300; step += 37 {
		h.now = testT0 + 60 + step
		claimable, err := h.engine.Claimable(userAddr)
		if err != nil {
			t.Fatalf("claimable: %v", err)
		}
		if claimable.Sign() > 0 {
			if err := h.engine.Claim(userAddr, claimable); err != nil {
				t.Fatalf("claim %s at %d: %v", claimable, step, err)
			}
		}
		acct, _, _ := h.engine.Account(userAddr)
		if acct.Claimed.Cmp(prev) < 0 {
			t.Fatalf("claimed decreased from %s to %s", prev, acct.Claimed)
		}
		if acct.Claimed.Cmp(acct.Purchased) > 0 {
			t.Fatalf("claimed %s exceeds purchased %s", acct.Claimed, acct.Purchased)
		}
		prev = cloneBigInt(acct.Claimed)
	}
	if prev.Int64() != 20_000 {
		t.Fatalf("expected everything claimed, got %s", prev)
	}
}

func TestAccountsListsInReservationOrder(t *testing.T) {
	h := newLinearHarness(t)
	for _, addr := range [][20]byte{userAddr, managerAddr, userAddr} {
		if err := h.engine.Reserve(ownerAddr, addr, big.NewInt(10)); err != nil {
			t.Fatalf("reserve: %v", err)
		}
	}
	if err := h.engine.Reserve(ownerAddr, strangerAddr, big.NewInt(20_000_000_000)); !errors.Is(err, ErrCapExceeded) {
		t.Fatalf("expected ErrCapExceeded, got %v", err)
	}
	accounts, err := h.engine.Accounts()
	if err != nil {
		t.Fatalf("accounts: %v", err)
	}
	if len(accounts) != 2 || accounts[0].Address != userAddr || accounts[1].Address != managerAddr {
		t.Fatalf("unexpected accounts %+v", accounts)
	}
	if accounts[0].Purchased.Int64() != 20 {
		t.Fatalf("unexpected purchased %s", accounts[0].Purchased)
	}
}
