package common

import (
	"context"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Idem rejects repeats of a client-supplied Idempotency-Key within TTL.
// Storefront clients that retry a pay or checkout call after a network blip
// get a 409 instead of a double submission.
type Idem struct {
	R   *redis.Client
	TTL time.Duration
}

// Middleware enforces the key check. Requests without the header pass
// through untouched.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Idempotency-Key")
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}

		key := "idem:" + Sha256Hex(header)
		fresh, err := i.R.SetNX(r.Context(), key, "locked", i.TTL).Result()
		if err != nil {
			JSONError(w, http.StatusInternalServerError, "INTERNAL", "idempotency store error", map[string]any{"error": err.Error()})
			return
		}
		if !fresh {
			JSONError(w, http.StatusConflict, "IDEMPOTENT_REPLAY", "duplicate request", nil)
			return
		}

		defer func() {
			// re-arm the expiry in case the handler panicked mid-flight
			_ = i.R.Expire(context.Background(), key, i.TTL).Err()
		}()
		next.ServeHTTP(w, r)
	})
}
