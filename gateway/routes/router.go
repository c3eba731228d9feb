package routes

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vestchain/export"
	"vestchain/gateway/auth"
	"vestchain/gateway/middleware"
	"vestchain/indexer"
	"vestchain/native/vesting"
	"vestchain/observability/metrics"
)

// Ledger is the subset of the vesting engine served over HTTP.
type Ledger interface {
	Pool() (*vesting.Pool, error)
	Account(addr [20]byte) (*vesting.Account, bool, error)
	Accounts() ([]*vesting.Account, error)
	Claimable(addr [20]byte) (*big.Int, error)
	RoundStatus() (vesting.RoundStatus, error)
	Roles(addr [20]byte) (vesting.RoleSet, error)
	Authorization() vesting.AuthorizationMode

	Reserve(caller, beneficiary [20]byte, amount *big.Int) error
	Claim(caller [20]byte, amount *big.Int) error
	WithdrawUnpurchasedFunds(caller [20]byte) error
	Schedule(caller [20]byte, action vesting.Action) (*vesting.PendingAction, error)
	Execute(caller [20]byte, action vesting.Action) error
	ExecuteID(caller [20]byte, id [32]byte) error
	Cancel(caller [20]byte, id [32]byte) error
	PendingAction(id [32]byte) (*vesting.PendingAction, error)
	GrantRole(caller, account [20]byte, role vesting.Role) error
	RevokeRole(caller, account [20]byte, role vesting.Role) error
}

// EventSource serves the indexed event log.
type EventSource interface {
	List(ctx context.Context, filter indexer.Filter) ([]indexer.EventRecord, error)
	Subscribe() (<-chan indexer.EventRecord, func())
}

// Exporter produces an on-disk export of the event log.
type Exporter func(ctx context.Context) (*export.Manifest, error)

type Config struct {
	Ledger        Ledger
	Events        EventSource
	Exporter      Exporter
	Metrics       *metrics.VestingMetrics
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	Logger        *slog.Logger
}

const (
	RateLimitRead  = "read"
	RateLimitWrite = "write"
)

type server struct {
	ledger   Ledger
	events   EventSource
	exporter Exporter
	metrics  *metrics.VestingMetrics
	logger   *slog.Logger
}

func New(cfg Config) (http.Handler, error) {
	if cfg.Ledger == nil {
		return nil, errNilLedger
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	authn := cfg.Authenticator
	if authn == nil {
		authn = middleware.NewAuthenticator(middleware.AuthConfig{}, nil, nil, logger)
	}
	s := &server{
		ledger:   cfg.Ledger,
		events:   cfg.Events,
		exporter: cfg.Exporter,
		metrics:  cfg.Metrics,
		logger:   logger.With("component", "gateway"),
	}

	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))

	obs := cfg.Observability
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}

	limit := func(key string) func(http.Handler) http.Handler {
		if cfg.RateLimiter == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return cfg.RateLimiter.Middleware(key)
	}
	observe := func(route string) func(http.Handler) http.Handler {
		if obs == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return obs.Middleware(route)
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(read chi.Router) {
			read.Use(limit(RateLimitRead))
			read.With(observe("pool")).Get("/pool", s.handlePool)
			read.With(observe("accounts")).Get("/accounts", s.handleAccounts)
			read.With(observe("account")).Get("/accounts/{address}", s.handleAccount)
			read.With(observe("claimable")).Get("/accounts/{address}/claimable", s.handleClaimable)
			read.With(observe("action")).Get("/actions/{id}", s.handleGetAction)
			read.With(observe("events")).Get("/events", s.handleEvents)
			read.Get("/events/stream", s.handleEventStream)
		})
		v1.Group(func(write chi.Router) {
			write.Use(limit(RateLimitWrite))
			write.Use(authn.Middleware())
			write.With(observe("reserve")).Post("/reserve", s.handleReserve)
			write.With(observe("claim")).Post("/claim", s.handleClaim)
			write.With(observe("withdraw")).Post("/withdraw", s.handleWithdraw)
			write.With(observe("schedule")).Post("/actions/schedule", s.handleSchedule)
			write.With(observe("execute")).Post("/actions/execute", s.handleExecute)
			write.With(observe("cancel")).Post("/actions/cancel", s.handleCancel)
			write.With(observe("grant_role")).Post("/roles/grant", s.handleRole(true))
			write.With(observe("revoke_role")).Post("/roles/revoke", s.handleRole(false))
		})
		v1.Group(func(admin chi.Router) {
			admin.Use(limit(RateLimitWrite))
			admin.Use(authn.Middleware(auth.ScopeAdmin))
			admin.With(observe("export")).Post("/admin/export", s.handleExport)
		})
	})
	return r, nil
}
