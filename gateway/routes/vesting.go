package routes

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"vestchain/crypto"
	"vestchain/gateway/middleware"
	"vestchain/native/vesting"
	"vestchain/observability/metrics"
)

const maxBodyBytes = 64 << 10

type curveResponse struct {
	Kind                 string `json:"kind"`
	CliffDuration        int64  `json:"cliffDuration,omitempty"`
	VestingDuration      int64  `json:"vestingDuration,omitempty"`
	TGEBasisPoints       uint32 `json:"tgeBasisPoints,omitempty"`
	PeriodLength         int64  `json:"periodLength,omitempty"`
	DecayRateBasisPoints uint32 `json:"decayRateBasisPoints,omitempty"`
}

type poolResponse struct {
	Token          string        `json:"token"`
	Cap            string        `json:"cap"`
	TotalPurchased string        `json:"totalPurchased"`
	Available      string        `json:"available"`
	StartRound     int64         `json:"startRound"`
	RoundEnd       *int64        `json:"roundEnd,omitempty"`
	RoundStatus    string        `json:"roundStatus"`
	Curve          curveResponse `json:"curve"`
	Treasury       string        `json:"treasury,omitempty"`
	Vault          string        `json:"vault"`
	Withdrawn      bool          `json:"withdrawn"`
	Authorization  string        `json:"authorization"`
}

type accountResponse struct {
	Address       string   `json:"address"`
	Purchased     string   `json:"purchased"`
	Claimed       string   `json:"claimed"`
	Remaining     string   `json:"remaining"`
	Claimable     string   `json:"claimable"`
	LastClaimTime int64    `json:"lastClaimTime"`
	ReservedAt    int64    `json:"reservedAt"`
	Roles         []string `json:"roles"`
}

type accountSummary struct {
	Address   string `json:"address"`
	Purchased string `json:"purchased"`
	Claimed   string `json:"claimed"`
	Remaining string `json:"remaining"`
}

type accountsResponse struct {
	Accounts []accountSummary `json:"accounts"`
}

type claimableResponse struct {
	Address   string `json:"address"`
	Claimable string `json:"claimable"`
}

type pendingResponse struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Beneficiary string `json:"beneficiary,omitempty"`
	Amount      string `json:"amount"`
	Proposer    string `json:"proposer"`
	ProposedAt  int64  `json:"proposedAt"`
	ReadyAt     int64  `json:"readyAt"`
	Executed    bool   `json:"executed"`
	ExecutedAt  int64  `json:"executedAt,omitempty"`
	Executor    string `json:"executor,omitempty"`
	Cancelled   bool   `json:"cancelled"`
}

type reserveRequest struct {
	Beneficiary string `json:"beneficiary"`
	Amount      string `json:"amount"`
}

type claimRequest struct {
	Amount string `json:"amount"`
}

type actionRequest struct {
	ID          string `json:"id,omitempty"`
	Kind        string `json:"kind"`
	Beneficiary string `json:"beneficiary,omitempty"`
	Amount      string `json:"amount,omitempty"`
	Proposer    string `json:"proposer,omitempty"`
}

type roleRequest struct {
	Account string `json:"account"`
	Role    string `json:"role"`
}

type statusResponse struct {
	Status string `json:"status"`
}

func formatAddress(addr [20]byte) string {
	if addr == ([20]byte{}) {
		return ""
	}
	return crypto.AddressFromArray(addr).String()
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func newPoolResponse(pool *vesting.Pool, status vesting.RoundStatus, mode vesting.AuthorizationMode) poolResponse {
	resp := poolResponse{
		Token:          pool.Token,
		Cap:            formatAmount(pool.Cap),
		TotalPurchased: formatAmount(pool.TotalPurchased),
		Available:      formatAmount(pool.Available()),
		StartRound:     pool.StartRound,
		RoundStatus:    status.String(),
		Curve:          curveResponse{Kind: pool.Curve.Kind.String()},
		Treasury:       formatAddress(pool.Treasury),
		Vault:          formatAddress(pool.Vault),
		Withdrawn:      pool.Withdrawn,
		Authorization:  mode.String(),
	}
	if end, finite := vesting.RoundEnd(pool); finite {
		resp.RoundEnd = &end
	}
	switch pool.Curve.Kind {
	case vesting.CurveLinearCliff:
		p := pool.Curve.LinearCliff
		resp.Curve.CliffDuration = p.CliffDuration
		resp.Curve.VestingDuration = p.VestingDuration
		resp.Curve.TGEBasisPoints = p.TGEBasisPoints
	case vesting.CurveDecayDrip:
		p := pool.Curve.DecayDrip
		resp.Curve.PeriodLength = p.PeriodLength
		resp.Curve.DecayRateBasisPoints = p.DecayRateBasisPoints
	}
	return resp
}

func newPendingResponse(p *vesting.PendingAction) pendingResponse {
	return pendingResponse{
		ID:          hex.EncodeToString(p.ID[:]),
		Kind:        string(p.Action.Kind),
		Beneficiary: formatAddress(p.Action.Beneficiary),
		Amount:      formatAmount(p.Action.Amount),
		Proposer:    formatAddress(p.Action.Proposer),
		ProposedAt:  p.ProposedAt,
		ReadyAt:     p.ReadyAt,
		Executed:    p.Consumed,
		ExecutedAt:  p.ExecutedAt,
		Executor:    formatAddress(p.Executor),
		Cancelled:   p.Cancelled,
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, out interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

func parseActionID(raw string) ([32]byte, error) {
	var id [32]byte
	decoded, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	if err != nil || len(decoded) != len(id) {
		return id, fmt.Errorf("invalid action id %q", raw)
	}
	copy(id[:], decoded)
	return id, nil
}

func callerOf(r *http.Request) ([20]byte, error) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		return [20]byte{}, errNoCaller
	}
	return principal.Address, nil
}

func (s *server) refreshPoolGauges() {
	if s.metrics == nil {
		return
	}
	pool, err := s.ledger.Pool()
	if err != nil {
		return
	}
	s.metrics.SetPool(pool.TotalPurchased, pool.Available())
}

func (s *server) handlePool(w http.ResponseWriter, r *http.Request) {
	pool, err := s.ledger.Pool()
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	status, err := s.ledger.RoundStatus()
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPoolResponse(pool, status, s.ledger.Authorization()))
}

func (s *server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	acct, ok, err := s.ledger.Account(addr)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, vesting.ErrNotBeneficiary)
		return
	}
	claimable, err := s.ledger.Claimable(addr)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	roles, err := s.ledger.Roles(addr)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{
		Address:       formatAddress(addr),
		Purchased:     formatAmount(acct.Purchased),
		Claimed:       formatAmount(acct.Claimed),
		Remaining:     formatAmount(acct.Remaining()),
		Claimable:     formatAmount(claimable),
		LastClaimTime: acct.LastClaimTime,
		ReservedAt:    acct.ReservedAt,
		Roles:         roles.Names(),
	})
}

func (s *server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.ledger.Accounts()
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	resp := accountsResponse{Accounts: make([]accountSummary, 0, len(accounts))}
	for _, acct := range accounts {
		resp.Accounts = append(resp.Accounts, accountSummary{
			Address:   formatAddress(acct.Address),
			Purchased: formatAmount(acct.Purchased),
			Claimed:   formatAmount(acct.Claimed),
			Remaining: formatAmount(acct.Remaining()),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleClaimable(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	claimable, err := s.ledger.Claimable(addr)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, claimableResponse{Address: formatAddress(addr), Claimable: formatAmount(claimable)})
}

func (s *server) handleReserve(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	var req reserveRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	beneficiary, err := crypto.ParseAddress(req.Beneficiary)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.ledger.Reserve(caller, beneficiary, amount); err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	s.metrics.RecordReservation()
	s.refreshPoolGauges()
	s.logger.Info("reserved", "caller", formatAddress(caller), "beneficiary", req.Beneficiary, "amount", amount.String())
	writeJSON(w, http.StatusOK, statusResponse{Status: "reserved"})
}

func (s *server) handleClaim(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	var req claimRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err = s.ledger.Claim(caller, amount)
	s.metrics.RecordClaim(claimResult(err), amount)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	s.logger.Info("claimed", "beneficiary", formatAddress(caller), "amount", amount.String())
	writeJSON(w, http.StatusOK, statusResponse{Status: "claimed"})
}

func (s *server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	if err := s.ledger.WithdrawUnpurchasedFunds(caller); err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	s.refreshPoolGauges()
	s.logger.Info("unpurchased funds withdrawn", "caller", formatAddress(caller))
	writeJSON(w, http.StatusOK, statusResponse{Status: "withdrawn"})
}

func (req actionRequest) action(proposer [20]byte) (vesting.Action, error) {
	kind, err := vesting.ParseActionKind(req.Kind)
	if err != nil {
		return vesting.Action{}, err
	}
	if kind == vesting.ActionWithdraw {
		return vesting.NewWithdrawAction(proposer), nil
	}
	beneficiary, err := crypto.ParseAddress(req.Beneficiary)
	if err != nil {
		return vesting.Action{}, err
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return vesting.Action{}, err
	}
	return vesting.NewReserveAction(proposer, beneficiary, amount), nil
}

// actionID resolves the request to an action identifier, either given
// directly or derived from the action descriptor and its proposer.
func (req actionRequest) actionID() ([32]byte, error) {
	if strings.TrimSpace(req.ID) != "" {
		return parseActionID(req.ID)
	}
	proposer, err := crypto.ParseAddress(req.Proposer)
	if err != nil {
		return [32]byte{}, fmt.Errorf("proposer: %w", err)
	}
	action, err := req.action(proposer)
	if err != nil {
		return [32]byte{}, err
	}
	return action.ID(), nil
}

func (s *server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	var req actionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	action, err := req.action(caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	pending, err := s.ledger.Schedule(caller, action)
	s.recordGateway("schedule", string(action.Kind), err)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	s.logger.Info("action scheduled", "action_id", hex.EncodeToString(pending.ID[:]), "kind", string(action.Kind), "caller", formatAddress(caller))
	writeJSON(w, http.StatusAccepted, newPendingResponse(pending))
}

func (s *server) handleExecute(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	var req actionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := req.actionID()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	kind := "unknown"
	if pending, err := s.ledger.PendingAction(id); err == nil {
		kind = string(pending.Action.Kind)
	}
	err = s.ledger.ExecuteID(caller, id)
	s.recordGateway("execute", kind, err)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	s.refreshPoolGauges()
	if kind == string(vesting.ActionReserve) {
		s.metrics.RecordReservation()
	}
	pending, err := s.ledger.PendingAction(id)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	s.logger.Info("action executed", "action_id", hex.EncodeToString(id[:]), "kind", kind, "caller", formatAddress(caller))
	writeJSON(w, http.StatusOK, newPendingResponse(pending))
}

func (s *server) handleCancel(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	var req actionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := req.actionID()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	kind := "unknown"
	if pending, err := s.ledger.PendingAction(id); err == nil {
		kind = string(pending.Action.Kind)
	}
	err = s.ledger.Cancel(caller, id)
	s.recordGateway("cancel", kind, err)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	pending, err := s.ledger.PendingAction(id)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	s.logger.Info("action cancelled", "action_id", hex.EncodeToString(id[:]), "kind", kind, "caller", formatAddress(caller))
	writeJSON(w, http.StatusOK, newPendingResponse(pending))
}

func (s *server) recordGateway(phase, kind string, err error) {
	result := metrics.ResultOK
	if err != nil {
		result = metrics.ResultError
		if vesting.IsGatewayError(err) {
			result = "rejected"
		}
	}
	s.metrics.RecordGatewayAction(phase, kind, result)
}

func (s *server) handleGetAction(w http.ResponseWriter, r *http.Request) {
	id, err := parseActionID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	pending, err := s.ledger.PendingAction(id)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPendingResponse(pending))
}

func (s *server) handleRole(grant bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, err := callerOf(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		var req roleRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		account, err := crypto.ParseAddress(req.Account)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		role, err := vesting.ParseRole(req.Role)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if grant {
			err = s.ledger.GrantRole(caller, account, role)
		} else {
			err = s.ledger.RevokeRole(caller, account, role)
		}
		if err != nil {
			s.writeLedgerError(w, r, err)
			return
		}
		roles, err := s.ledger.Roles(account)
		if err != nil {
			s.writeLedgerError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"account": req.Account, "roles": roles.Names()})
	}
}
