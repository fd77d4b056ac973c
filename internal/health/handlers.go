// Package health exposes liveness and readiness probes for the gateway.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Checker probes the dependencies the gateway cannot run without.
type Checker interface {
	PingDB(ctx context.Context, timeout time.Duration) error
	PingRedis(ctx context.Context, timeout time.Duration) error
}

// CredentialChecker optionally verifies the configured OrkestaPay
// credentials still produce a usable token.
type CredentialChecker interface {
	ValidateCredentials(ctx context.Context) error
}

// Handler serves /healthz style endpoints.
type Handler struct {
	Checker      Checker
	Credentials  CredentialChecker
	DBTimeout    time.Duration
	RedisTimeout time.Duration
}

// Live reports process liveness.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness of the database, Redis and, when wired, the
// upstream credentials. Credential failures are reported but do not flip
// readiness: the gateway can still serve webhooks and reads.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Checker == nil {
		http.Error(w, "dependencies unavailable", http.StatusServiceUnavailable)
		return
	}
	ctx := r.Context()
	status := map[string]string{}

	dbStatus := "ok"
	if err := h.Checker.PingDB(ctx, h.dbTimeout()); err != nil {
		dbStatus = err.Error()
	}
	status["db"] = dbStatus

	redisStatus := "ok"
	if err := h.Checker.PingRedis(ctx, h.redisTimeout()); err != nil {
		redisStatus = err.Error()
	}
	status["redis"] = redisStatus

	if h.Credentials != nil {
		credStatus := "ok"
		if err := h.Credentials.ValidateCredentials(ctx); err != nil {
			credStatus = err.Error()
		}
		status["orkestapay"] = credStatus
	}

	w.Header().Set("Content-Type", "application/json")
	if dbStatus != "ok" || redisStatus != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(status)
}

func (h Handler) dbTimeout() time.Duration {
	if h.DBTimeout <= 0 {
		return 500 * time.Millisecond
	}
	return h.DBTimeout
}

func (h Handler) redisTimeout() time.Duration {
	if h.RedisTimeout <= 0 {
		return 300 * time.Millisecond
	}
	return h.RedisTimeout
}
