package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/segyhp/loan-ledger/pkg/response"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

// HealthHandler reports liveness and readiness of the ledger. db and redis
// are nil when the process runs without them and are then left out of the
// checks. storage names the ledger backend (memory, sqlite or postgres).
type HealthHandler struct {
	db      *sqlx.DB
	redis   *redis.Client
	storage string
	timeout time.Duration
}

func NewHealthHandler(db *sqlx.DB, redis *redis.Client, storage string, timeout time.Duration) *HealthHandler {
	return &HealthHandler{
		db:      db,
		redis:   redis,
		storage: storage,
		timeout: timeout,
	}
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Storage   string            `json:"storage,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func (h *HealthHandler) newStatus() HealthStatus {
	return HealthStatus{
		Status:    "ok",
		Storage:   h.storage,
		Timestamp: time.Now(),
		Checks:    make(map[string]string),
	}
}

// Health answers as long as the process serves requests
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := h.newStatus()

	response.Success(w, status)
}

// Ready pings the ledger database and redis when they are configured
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	status := h.newStatus()

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			status.Status = "error"
			status.Checks["database"] = "failed: " + err.Error()
		} else {
			status.Checks["database"] = "ok"
		}
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			status.Status = "error"
			status.Checks["redis"] = "failed: " + err.Error()
		} else {
			status.Checks["redis"] = "ok"
		}
	}

	if status.Status == "error" {
		response.JSON(w, http.StatusServiceUnavailable, status)
		return
	}

	response.Success(w, status)
}
