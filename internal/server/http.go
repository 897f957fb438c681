package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"VaultLedger/internal/core"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/query"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// API serves the command and query surface over HTTP/JSON.
type API struct {
	engine  *core.Engine
	queries *query.Service
	health  *observability.HealthChecker
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewAPI(engine *core.Engine, queries *query.Service, health *observability.HealthChecker, metrics *observability.Metrics) *API {
	return &API{
		engine:  engine,
		queries: queries,
		health:  health,
		metrics: metrics,
		logger:  observability.NewLogger("http"),
	}
}

// Router builds the chi route tree.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", a.health.LivenessHandler)
	r.Get("/readyz", a.health.ReadinessHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/vaults/{vaultID}", func(r chi.Router) {
			r.Post("/enter", a.handleEnter)
			r.Post("/exit", a.handleExit)
			r.Post("/roll", a.handleRoll)
			r.Post("/deleverage", a.handleDeleverage)
			r.Post("/settle", a.handleSettleVault)
			r.Post("/accounts/{accountID}/settle", a.handleSettleAccount)

			r.Get("/states", a.handleVaultStates)
			r.Get("/events", a.handleEvents)
			r.Get("/accounts/{accountID}", a.handlePosition)
			r.Get("/accounts/{accountID}/health", a.handleAccountHealth)
		})
		r.Get("/accounts/{accountID}/positions", a.handleAccountPositions)
	})

	return r
}

type enterRequest struct {
	AccountID         uuid.UUID `json:"account_id"`
	Maturity          int64     `json:"maturity"`
	DepositUnderlying int64     `json:"deposit_underlying"`
	BorrowUnderlying  int64     `json:"borrow_underlying"`
	MaxBorrowRate     int64     `json:"max_borrow_rate"`
	StrategyData      []byte    `json:"strategy_data,omitempty"`
	BlockTime         int64     `json:"block_time"`
}

func (a *API) handleEnter(w http.ResponseWriter, r *http.Request) {
	var req enterRequest
	if !a.decode(w, r, &req) {
		return
	}
	acct, err := a.engine.EnterVault(r.Context(), core.EnterVaultRequest{
		AccountID:         req.AccountID,
		VaultID:           chi.URLParam(r, "vaultID"),
		Maturity:          req.Maturity,
		DepositUnderlying: req.DepositUnderlying,
		BorrowUnderlying:  req.BorrowUnderlying,
		MaxBorrowRate:     req.MaxBorrowRate,
		StrategyData:      req.StrategyData,
		BlockTime:         req.BlockTime,
	})
	if err != nil {
		a.writeError(w, "enter", err)
		return
	}
	a.writeJSON(w, "enter", http.StatusOK, acct)
}

type exitRequest struct {
	AccountID       uuid.UUID `json:"account_id"`
	SharesToRedeem  int64     `json:"shares_to_redeem"`
	RepayUnderlying int64     `json:"repay_underlying"`
	MinLendRate     int64     `json:"min_lend_rate"`
	StrategyData    []byte    `json:"strategy_data,omitempty"`
	BlockTime       int64     `json:"block_time"`
}

func (a *API) handleExit(w http.ResponseWriter, r *http.Request) {
	var req exitRequest
	if !a.decode(w, r, &req) {
		return
	}
	res, err := a.engine.ExitVault(r.Context(), core.ExitVaultRequest{
		AccountID:       req.AccountID,
		VaultID:         chi.URLParam(r, "vaultID"),
		SharesToRedeem:  req.SharesToRedeem,
		RepayUnderlying: req.RepayUnderlying,
		MinLendRate:     req.MinLendRate,
		StrategyData:    req.StrategyData,
		BlockTime:       req.BlockTime,
	})
	if err != nil {
		a.writeError(w, "exit", err)
		return
	}
	a.writeJSON(w, "exit", http.StatusOK, res)
}

type rollRequest struct {
	AccountID         uuid.UUID `json:"account_id"`
	NewMaturity       int64     `json:"new_maturity"`
	DepositUnderlying int64     `json:"deposit_underlying"`
	MinLendRate       int64     `json:"min_lend_rate"`
	MaxBorrowRate     int64     `json:"max_borrow_rate"`
	StrategyData      []byte    `json:"strategy_data,omitempty"`
	BlockTime         int64     `json:"block_time"`
}

func (a *API) handleRoll(w http.ResponseWriter, r *http.Request) {
	var req rollRequest
	if !a.decode(w, r, &req) {
		return
	}
	acct, err := a.engine.RollVaultPosition(r.Context(), core.RollPositionRequest{
		AccountID:         req.AccountID,
		VaultID:           chi.URLParam(r, "vaultID"),
		NewMaturity:       req.NewMaturity,
		DepositUnderlying: req.DepositUnderlying,
		MinLendRate:       req.MinLendRate,
		MaxBorrowRate:     req.MaxBorrowRate,
		StrategyData:      req.StrategyData,
		BlockTime:         req.BlockTime,
	})
	if err != nil {
		a.writeError(w, "roll", err)
		return
	}
	a.writeJSON(w, "roll", http.StatusOK, acct)
}

type deleverageRequest struct {
	Liquidator        uuid.UUID `json:"liquidator"`
	AccountID         uuid.UUID `json:"account_id"`
	CurrencyIndex     int       `json:"currency_index"`
	DepositUnderlying int64     `json:"deposit_underlying"`
	BlockTime         int64     `json:"block_time"`
}

func (a *API) handleDeleverage(w http.ResponseWriter, r *http.Request) {
	var req deleverageRequest
	if !a.decode(w, r, &req) {
		return
	}
	res, err := a.engine.DeleverageAccount(r.Context(), core.DeleverageRequest{
		Liquidator:        req.Liquidator,
		AccountID:         req.AccountID,
		VaultID:           chi.URLParam(r, "vaultID"),
		CurrencyIndex:     req.CurrencyIndex,
		DepositUnderlying: req.DepositUnderlying,
		BlockTime:         req.BlockTime,
	})
	if err != nil {
		a.writeError(w, "deleverage", err)
		return
	}
	a.writeJSON(w, "deleverage", http.StatusOK, res)
}

type settleRequest struct {
	Maturity  int64 `json:"maturity"`
	BlockTime int64 `json:"block_time"`
}

func (a *API) handleSettleVault(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if !a.decode(w, r, &req) {
		return
	}
	vaultID := chi.URLParam(r, "vaultID")
	if err := a.engine.SettleVault(r.Context(), vaultID, req.Maturity, req.BlockTime); err != nil {
		a.writeError(w, "settle_vault", err)
		return
	}
	a.writeJSON(w, "settle_vault", http.StatusOK, a.engine.State(vaultID, req.Maturity))
}

func (a *API) handleSettleAccount(w http.ResponseWriter, r *http.Request) {
	accountID, ok := a.parseAccountID(w, r)
	if !ok {
		return
	}
	var req settleRequest
	if !a.decode(w, r, &req) {
		return
	}
	acct, err := a.engine.SettleVaultAccount(r.Context(), accountID, chi.URLParam(r, "vaultID"), req.BlockTime)
	if err != nil {
		a.writeError(w, "settle_account", err)
		return
	}
	a.writeJSON(w, "settle_account", http.StatusOK, acct)
}

func (a *API) handleVaultStates(w http.ResponseWriter, r *http.Request) {
	states, err := a.queries.GetVaultStates(r.Context(), chi.URLParam(r, "vaultID"))
	if err != nil {
		a.writeError(w, "vault_states", err)
		return
	}
	a.writeJSON(w, "vault_states", http.StatusOK, states)
}

func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	var before *int64
	if s := r.URL.Query().Get("before"); s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			before = &n
		}
	}
	events, err := a.queries.GetEvents(r.Context(), chi.URLParam(r, "vaultID"), limit, before)
	if err != nil {
		a.writeError(w, "events", err)
		return
	}
	a.writeJSON(w, "events", http.StatusOK, events)
}

func (a *API) handlePosition(w http.ResponseWriter, r *http.Request) {
	accountID, ok := a.parseAccountID(w, r)
	if !ok {
		return
	}
	pos, err := a.queries.GetPosition(r.Context(), accountID, chi.URLParam(r, "vaultID"))
	if err != nil {
		a.writeError(w, "position", err)
		return
	}
	a.writeJSON(w, "position", http.StatusOK, pos)
}

func (a *API) handleAccountPositions(w http.ResponseWriter, r *http.Request) {
	accountID, ok := a.parseAccountID(w, r)
	if !ok {
		return
	}
	positions, err := a.queries.GetAccountPositions(r.Context(), accountID)
	if err != nil {
		a.writeError(w, "positions", err)
		return
	}
	a.writeJSON(w, "positions", http.StatusOK, positions)
}

// handleAccountHealth values a live position from the in-memory ledger, not
// the persisted tables: collateral ratios need current oracle inputs.
func (a *API) handleAccountHealth(w http.ResponseWriter, r *http.Request) {
	accountID, ok := a.parseAccountID(w, r)
	if !ok {
		return
	}
	blockTime := time.Now().Unix()
	if s := r.URL.Query().Get("block_time"); s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			blockTime = n
		}
	}
	health, err := a.engine.AccountHealth(accountID, chi.URLParam(r, "vaultID"), blockTime)
	if err != nil {
		a.writeError(w, "account_health", err)
		return
	}
	a.writeJSON(w, "account_health", http.StatusOK, health)
}

// --- helpers ---

func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return false
	}
	return true
}

func (a *API) parseAccountID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "accountID"))
	if err != nil {
		http.Error(w, `{"error":"invalid account id"}`, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (a *API) writeJSON(w http.ResponseWriter, endpoint string, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn().Str("endpoint", endpoint).Err(err).Msg("response encode failed")
	}
	if a.metrics != nil {
		a.metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	}
}

func (a *API) writeError(w http.ResponseWriter, endpoint string, err error) {
	status := statusFor(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
	if a.metrics != nil {
		a.metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
		a.metrics.QueryErrors.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrUnknownVault):
		return http.StatusNotFound
	case errors.Is(err, core.ErrAccountBusy):
		return http.StatusConflict
	case errors.Is(err, core.ErrVaultPaused),
		errors.Is(err, core.ErrInvalidMaturity),
		errors.Is(err, core.ErrMaturityMismatch),
		errors.Is(err, core.ErrBelowMinBorrow),
		errors.Is(err, core.ErrOverCapacity),
		errors.Is(err, core.ErrOverLeverage),
		errors.Is(err, core.ErrInsufficientLiquidity),
		errors.Is(err, core.ErrRepayExceedsDebt),
		errors.Is(err, core.ErrNegativeCash),
		errors.Is(err, core.ErrNotSettled),
		errors.Is(err, core.ErrNotLiquidatable),
		errors.Is(err, core.ErrMustLiquidateFull):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
