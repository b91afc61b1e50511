package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/ga1ien/kulti-sub004/internal/domain"
	"github.com/ga1ien/kulti-sub004/internal/service"
	"github.com/ga1ien/kulti-sub004/internal/store"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credits_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "credits_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

type Handler struct {
	store      *store.Store
	ledger     *service.Ledger
	settlement *service.Settlement
	milestones *service.Milestones
	log        *zap.Logger
}

func NewHandler(s *store.Store, ledger *service.Ledger, settlement *service.Settlement, milestones *service.Milestones, log *zap.Logger) *Handler {
	return &Handler{store: s, ledger: ledger, settlement: settlement, milestones: milestones, log: log}
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "GET", "/health")
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := h.store.CreateAccount(r.Context())
	if err != nil {
		h.respondServiceError(w, err, "POST", "/accounts")
		return
	}
	h.respondJSON(w, http.StatusCreated, acc, "POST", "/accounts")
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id", "GET", "/accounts/{id}")
	if !ok {
		return
	}
	acc, err := h.store.GetAccount(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err, "GET", "/accounts/{id}")
		return
	}
	h.respondJSON(w, http.StatusOK, acc, "GET", "/accounts/{id}")
}

func (h *Handler) ArchiveAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id", "DELETE", "/accounts/{id}")
	if !ok {
		return
	}
	if err := h.store.ArchiveAccount(r.Context(), id); err != nil {
		h.respondServiceError(w, err, "DELETE", "/accounts/{id}")
		return
	}
	h.respondJSON(w, http.StatusNoContent, nil, "DELETE", "/accounts/{id}")
}

func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id", "GET", "/accounts/{id}/transactions")
	if !ok {
		return
	}

	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	filter := store.TransactionFilter{
		Type:   domain.TransactionType(q.Get("type")),
		Limit:  limit,
		Offset: offset,
	}

	txns, err := h.store.GetTransactions(r.Context(), id, filter)
	if err != nil {
		h.respondServiceError(w, err, "GET", "/accounts/{id}/transactions")
		return
	}
	h.respondJSON(w, http.StatusOK, txns, "GET", "/accounts/{id}/transactions")
}

func (h *Handler) GetMilestones(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id", "GET", "/accounts/{id}/milestones")
	if !ok {
		return
	}
	awards, err := h.store.ListAwards(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err, "GET", "/accounts/{id}/milestones")
		return
	}
	h.respondJSON(w, http.StatusOK, awards, "GET", "/accounts/{id}/milestones")
}

func (h *Handler) ApplyTransaction(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/transactions"))
	defer timer.ObserveDuration()

	var params domain.TransactionParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		h.respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/transactions")
		return
	}

	res, err := h.ledger.Apply(r.Context(), params)
	if err != nil {
		h.respondServiceError(w, err, "POST", "/transactions")
		return
	}
	h.respondJSON(w, http.StatusCreated, res, "POST", "/transactions")
}

type tipRequest struct {
	FromAccountID uuid.UUID  `json:"from_account_id"`
	ToAccountID   uuid.UUID  `json:"to_account_id"`
	Amount        int64      `json:"amount"`
	SessionID     *uuid.UUID `json:"session_id,omitempty"`
	Message       string     `json:"message,omitempty"`
}

func (h *Handler) CreateTip(w http.ResponseWriter, r *http.Request) {
	var req tipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/tips")
		return
	}

	spend, earn, err := h.ledger.Tip(r.Context(), req.FromAccountID, req.ToAccountID, req.Amount, req.SessionID, req.Message)
	if err != nil {
		h.respondServiceError(w, err, "POST", "/tips")
		return
	}
	h.respondJSON(w, http.StatusCreated, map[string]*domain.ApplyResult{
		"spend": spend,
		"earn":  earn,
	}, "POST", "/tips")
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		HostID uuid.UUID `json:"host_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.HostID == uuid.Nil {
		h.respondError(w, http.StatusBadRequest, "host_id is required", "POST", "/sessions")
		return
	}

	sess, err := h.store.CreateSession(r.Context(), req.HostID)
	if err != nil {
		h.respondServiceError(w, err, "POST", "/sessions")
		return
	}
	h.respondJSON(w, http.StatusCreated, sess, "POST", "/sessions")
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id", "GET", "/sessions/{id}")
	if !ok {
		return
	}
	sess, err := h.store.GetSession(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err, "GET", "/sessions/{id}")
		return
	}
	h.respondJSON(w, http.StatusOK, sess, "GET", "/sessions/{id}")
}

type participantRequest struct {
	AccountID uuid.UUID `json:"account_id"`
}

// JoinSession registers presence and advances the daily streak. The account
// id arrives pre-authenticated from the identity layer and is trusted as-is.
func (h *Handler) JoinSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.pathID(w, r, "id", "POST", "/sessions/{id}/join")
	if !ok {
		return
	}
	var req participantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccountID == uuid.Nil {
		h.respondError(w, http.StatusBadRequest, "account_id is required", "POST", "/sessions/{id}/join")
		return
	}

	part, err := h.store.JoinSession(r.Context(), sessionID, req.AccountID)
	if err != nil {
		h.respondServiceError(w, err, "POST", "/sessions/{id}/join")
		return
	}

	streak, err := h.milestones.RecordJoin(r.Context(), req.AccountID)
	if err != nil {
		h.respondServiceError(w, err, "POST", "/sessions/{id}/join")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"participant": part,
		"streak":      streak,
	}, "POST", "/sessions/{id}/join")
}

func (h *Handler) LeaveSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.pathID(w, r, "id", "POST", "/sessions/{id}/leave")
	if !ok {
		return
	}
	var req participantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccountID == uuid.Nil {
		h.respondError(w, http.StatusBadRequest, "account_id is required", "POST", "/sessions/{id}/leave")
		return
	}

	if err := h.store.LeaveSession(r.Context(), sessionID, req.AccountID, time.Now().UTC()); err != nil {
		h.respondServiceError(w, err, "POST", "/sessions/{id}/leave")
		return
	}
	h.respondJSON(w, http.StatusNoContent, nil, "POST", "/sessions/{id}/leave")
}

func (h *Handler) RecordChat(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.pathID(w, r, "id", "POST", "/sessions/{id}/chat")
	if !ok {
		return
	}
	var req participantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccountID == uuid.Nil {
		h.respondError(w, http.StatusBadRequest, "account_id is required", "POST", "/sessions/{id}/chat")
		return
	}

	if err := h.store.RecordChatMessage(r.Context(), sessionID, req.AccountID); err != nil {
		h.respondServiceError(w, err, "POST", "/sessions/{id}/chat")
		return
	}
	h.respondJSON(w, http.StatusNoContent, nil, "POST", "/sessions/{id}/chat")
}

// SettleSession ends a session and distributes accrued credits. Safe to call
// any number of times: replays return the original result with 200.
func (h *Handler) SettleSession(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/sessions/{id}/settle"))
	defer timer.ObserveDuration()

	sessionID, ok := h.pathID(w, r, "id", "POST", "/sessions/{id}/settle")
	if !ok {
		return
	}

	result, err := h.settlement.Settle(r.Context(), sessionID)
	if err != nil {
		h.respondServiceError(w, err, "POST", "/sessions/{id}/settle")
		return
	}

	status := http.StatusCreated
	if result.AlreadySettled {
		status = http.StatusOK
	}
	h.respondJSON(w, status, result, "POST", "/sessions/{id}/settle")
}

func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.store.Leaderboard(r.Context(), limit)
	if err != nil {
		h.respondServiceError(w, err, "GET", "/leaderboard")
		return
	}
	h.respondJSON(w, http.StatusOK, entries, "GET", "/leaderboard")
}

// Helpers

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, key, method, endpoint string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[key])
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid id", method, endpoint)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error, method, endpoint string) {
	var insufficient *domain.InsufficientBalanceError
	var partial *domain.PartialSettlementError

	switch {
	case errors.As(err, &insufficient):
		h.respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":    "insufficient balance",
			"required": insufficient.Required,
			"current":  insufficient.Current,
		}, method, endpoint)
	case errors.As(err, &partial):
		h.respondError(w, http.StatusServiceUnavailable, "settlement pending, will retry", method, endpoint)
	case errors.Is(err, domain.ErrAccountNotFound), errors.Is(err, domain.ErrSessionNotFound):
		h.respondError(w, http.StatusNotFound, err.Error(), method, endpoint)
	case errors.Is(err, domain.ErrInvalidTransaction), errors.Is(err, domain.ErrSessionNotLive):
		h.respondError(w, http.StatusUnprocessableEntity, err.Error(), method, endpoint)
	case errors.Is(err, domain.ErrServiceUnavailable):
		h.respondError(w, http.StatusServiceUnavailable, "temporarily unavailable, retry later", method, endpoint)
	default:
		h.log.Error("request failed", zap.String("endpoint", endpoint), zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "Internal Server Error", method, endpoint)
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload any, method, endpoint string) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, code int, msg, method, endpoint string) {
	h.respondJSON(w, code, map[string]string{"error": msg}, method, endpoint)
}
