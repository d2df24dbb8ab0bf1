package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-engine/internal/acquire"
	"github.com/sells-group/prospect-engine/internal/ledger"
	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/store"
	"github.com/sells-group/prospect-engine/pkg/apollo"
)

const (
	maxBodyBytes       = 1 << 20
	defaultHistorySize = 50
	requestTimeout     = 2 * time.Minute
)

type errorResponse struct {
	Error    string `json:"error"`
	RecordID string `json:"record_id,omitempty"`
}

type accountResponse struct {
	*model.CreditAccount
	FreeUnitsAvailable int `json:"free_units_available"`
}

type grantRequest struct {
	Amount      int64                 `json:"amount"`
	Source      model.TransactionKind `json:"source"`
	ReferenceID string                `json:"reference_id"`
}

// buildRouter wires the HTTP API onto env. Routes that need the
// acquisition service are only mounted when env.Service is set.
func buildRouter(env *appEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		if env.Service != nil {
			r.Post("/acquisitions", handleAcquire(env))
		}
		r.Get("/acquisitions/{id}", handleGetAcquisition(env))

		r.Route("/credits/{userID}", func(r chi.Router) {
			r.Get("/", handleBalance(env))
			r.Get("/quote", handleQuote(env))
			r.Get("/transactions", handleHistory(env))
			r.Post("/grants", handleGrant(env))
		})
	})

	return r
}

func handleAcquire(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req acquire.Request
		if !decodeBody(w, r, &req) {
			return
		}
		out, err := env.Service.AcquireAndSettle(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, out)
	}
}

func handleGetAcquisition(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := env.Store.GetLeadList(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func handleBalance(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acct, err := env.Ledger.GetAccount(r.Context(), chi.URLParam(r, "userID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, accountResponse{CreditAccount: acct, FreeUnitsAvailable: env.Ledger.FreeUnitsAvailable(acct)})
	}
}

func handleQuote(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count, err := strconv.Atoi(r.URL.Query().Get("count"))
		if err != nil || count < 1 || count > model.MaxLeadCount {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "count must be an integer between 1 and 500"})
			return
		}
		aff, err := env.Ledger.CheckAffordability(r.Context(), chi.URLParam(r, "userID"), count)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, aff)
	}
}

func handleHistory(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultHistorySize
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
				return
			}
			limit = n
		}
		txs, err := env.Ledger.History(r.Context(), chi.URLParam(r, "userID"), limit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if txs == nil {
			txs = []model.CreditTransaction{}
		}
		writeJSON(w, http.StatusOK, txs)
	}
}

func handleGrant(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req grantRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Source == "" {
			req.Source = model.TxPurchase
		}
		acct, err := env.Ledger.Grant(r.Context(), chi.URLParam(r, "userID"), req.Amount, req.Source, req.ReferenceID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, accountResponse{CreditAccount: acct, FreeUnitsAvailable: env.Ledger.FreeUnitsAvailable(acct)})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// statusFor maps a domain error to an HTTP status. A pending settlement is
// checked first because it wraps the settlement failure.
func statusFor(err error) int {
	switch {
	case errors.Is(err, acquire.ErrSettlementPending):
		return http.StatusAccepted
	case errors.Is(err, ledger.ErrInsufficientCredits):
		return http.StatusPaymentRequired
	case errors.Is(err, model.ErrInvalidCriteria),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidSource):
		return http.StatusBadRequest
	case errors.Is(err, acquire.ErrNoResultsFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apollo.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, apollo.ErrUnauthorized):
		return http.StatusBadGateway
	case errors.Is(err, store.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}

	var pending *acquire.SettlementPendingError
	if errors.As(err, &pending) {
		resp.RecordID = pending.RecordID
	}

	log := zap.L().With(
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
	)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
		if status == http.StatusInternalServerError {
			resp.Error = "internal error"
		}
	} else {
		log.Info("request rejected", zap.Error(err))
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("encode response", zap.Error(err))
	}
}
