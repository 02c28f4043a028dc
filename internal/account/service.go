package account

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/starfall/economy-engine/internal/httpx"
	"github.com/starfall/economy-engine/internal/ledger"
	"github.com/starfall/economy-engine/internal/metrics"
	"github.com/starfall/economy-engine/internal/model"
	"github.com/starfall/economy-engine/internal/store"
)

func init() {
	httpx.Register(http.StatusBadRequest, "InvalidAmount", ledger.ErrInvalidAmount)
	httpx.Register(http.StatusBadRequest, "InvalidResource", ledger.ErrInvalidResource)
	httpx.Register(http.StatusBadRequest, "InvalidAccount", ErrInvalidKey)
	httpx.Register(http.StatusConflict, "InsufficientAvailable", ledger.ErrInsufficientAvailable)
	httpx.Register(http.StatusConflict, "InsufficientReserved", ledger.ErrInsufficientReserved)
	httpx.Register(http.StatusServiceUnavailable, "ConflictRetryExhausted", ErrConflictRetryExhausted)
	httpx.Register(http.StatusServiceUnavailable, "StorageUnavailable", ErrStorageUnavailable)
	httpx.Register(http.StatusNotFound, "NotFound", store.ErrNotFound)
}

// LedgerOp is one of the five reservation ledger operations.
type LedgerOp string

const (
	OpReserve LedgerOp = "reserve"
	OpRelease LedgerOp = "release"
	OpConsume LedgerOp = "consume"
	OpCredit  LedgerOp = "credit"
	OpDebit   LedgerOp = "debit"
)

var ledgerFuncs = map[LedgerOp]func(*model.Account, ledger.Resource, decimal.Decimal) error{
	OpReserve: ledger.Reserve,
	OpRelease: ledger.Release,
	OpConsume: ledger.Consume,
	OpCredit:  ledger.Credit,
	OpDebit:   ledger.Debit,
}

// Service exposes the reservation ledger as account-serialized operations.
type Service struct {
	accounts *Manager
}

// NewService creates a ledger service over m.
func NewService(m *Manager) *Service {
	return &Service{accounts: m}
}

func (s *Service) Reserve(ctx context.Context, key model.AccountKey, resource string, amount decimal.Decimal) (*model.Account, error) {
	return s.Apply(ctx, OpReserve, key, resource, amount)
}

func (s *Service) Release(ctx context.Context, key model.AccountKey, resource string, amount decimal.Decimal) (*model.Account, error) {
	return s.Apply(ctx, OpRelease, key, resource, amount)
}

func (s *Service) Consume(ctx context.Context, key model.AccountKey, resource string, amount decimal.Decimal) (*model.Account, error) {
	return s.Apply(ctx, OpConsume, key, resource, amount)
}

func (s *Service) Credit(ctx context.Context, key model.AccountKey, resource string, amount decimal.Decimal) (*model.Account, error) {
	return s.Apply(ctx, OpCredit, key, resource, amount)
}

func (s *Service) Debit(ctx context.Context, key model.AccountKey, resource string, amount decimal.Decimal) (*model.Account, error) {
	return s.Apply(ctx, OpDebit, key, resource, amount)
}

// Apply runs one ledger operation as its own unit of work.
func (s *Service) Apply(ctx context.Context, op LedgerOp, key model.AccountKey, resource string, amount decimal.Decimal) (*model.Account, error) {
	fn, ok := ledgerFuncs[op]
	if !ok {
		return nil, fmt.Errorf("%w: unknown operation %q", httpx.ErrBadRequest, op)
	}
	res, err := ledger.ParseResource(resource)
	if err != nil {
		return nil, err
	}

	acct, err := s.accounts.Update(ctx, key, func(a *model.Account) ([]model.TransactionLogEntry, error) {
		return nil, fn(a, res, amount)
	})
	metrics.LedgerOpsTotal.WithLabelValues(string(op), metrics.Result(err)).Inc()
	if err != nil {
		return nil, err
	}

	slog.Info("ledger op applied",
		"op", string(op),
		"account", key.String(),
		"resource", res.String(),
		"amount", amount.String(),
	)
	return acct, nil
}

// --- HTTP handlers ---

// KeyFromRequest reads the {realmID}/{userID} route parameters.
func KeyFromRequest(r *http.Request) model.AccountKey {
	return model.AccountKey{
		UserID:  chi.URLParam(r, "userID"),
		RealmID: chi.URLParam(r, "realmID"),
	}
}

// LedgerRequest is the body of a ledger operation.
type LedgerRequest struct {
	Resource string          `json:"resource"`
	Amount   decimal.Decimal `json:"amount"`
}

// HandleGetAccount returns the current account snapshot.
func (s *Service) HandleGetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.accounts.Get(r.Context(), KeyFromRequest(r))
	if err != nil {
		httpx.Fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, acct)
}

// HandleLedger returns the handler for one ledger operation.
func (s *Service) HandleLedger(op LedgerOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LedgerRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Fail(w, r, err)
			return
		}
		acct, err := s.Apply(r.Context(), op, KeyFromRequest(r), req.Resource, req.Amount)
		if err != nil {
			httpx.Fail(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, acct)
	}
}
