package orkesta

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gateway-orkestapay/internal/obs"
)

const (
	// tokenCacheKey is the single process-wide cache slot. Tokens are not
	// keyed per credential pair; the configured credentials are fixed for
	// the lifetime of the process.
	tokenCacheKey = "orkestapay:access_token"

	// tokenCacheTTL is a fixed policy knob, deliberately independent of the
	// expiry the auth server claims. Callers must not assume the cached
	// token's remaining real lifetime.
	tokenCacheTTL = 1800 * time.Second

	authTimeout = 30 * time.Second
)

// Credentials identify the merchant against the OrkestaPay API.
type Credentials struct {
	ClientID      string
	ClientSecret  string
	WebhookSecret string
}

// Cache is the shared token cache abstraction. Implementations may be
// cross-process (Redis) or in-memory; concurrent refresh races are tolerated,
// the auth server does not invalidate older tokens on new issuance.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// RedisCache implements Cache on a shared Redis instance.
type RedisCache struct {
	R *redis.Client
}

// Get returns the cached value, reporting a miss for absent keys.
func (c RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.R.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set stores the value with the provided TTL.
func (c RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.R.Set(ctx, key, value, ttl).Err()
}

// MemoryCache is a process-local Cache used in tests and single-instance
// deployments.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemoryCache constructs an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: map[string]memoryEntry{}, now: time.Now}
}

// Get returns the cached value if present and unexpired.
func (c *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return "", false, nil
	}
	return entry.value, true, nil
}

// Set stores the value with the provided TTL.
func (c *MemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{value: value, expiresAt: c.now().Add(ttl)}
	return nil
}

// Token is the parsed client-credentials grant response.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// TokenSource acquires and caches bearer tokens via the client-credentials
// grant.
type TokenSource struct {
	AuthURL     string
	Credentials Credentials
	Cache       Cache
	HTTP        *http.Client
	Logger      zerolog.Logger
}

// Token returns a usable access token, reusing the cached grant response
// when one is present. A response without an access_token field is a failure
// even when the HTTP call nominally succeeded.
func (s *TokenSource) Token(ctx context.Context) (Token, error) {
	if s.Cache != nil {
		raw, ok, err := s.Cache.Get(ctx, tokenCacheKey)
		if err != nil {
			s.Logger.Warn().Err(err).Msg("token cache read failed, falling through to auth")
		} else if ok {
			var tok Token
			if err := json.Unmarshal([]byte(raw), &tok); err == nil && tok.AccessToken != "" {
				if obs.TokenRequestsTotal != nil {
					obs.TokenRequestsTotal.WithLabelValues("cache_hit").Inc()
				}
				return tok, nil
			}
		}
	}

	raw, status, err := s.grant(ctx)
	if err != nil {
		if obs.TokenRequestsTotal != nil {
			obs.TokenRequestsTotal.WithLabelValues("error").Inc()
		}
		return Token{}, err
	}

	if s.Cache != nil {
		if err := s.Cache.Set(ctx, tokenCacheKey, string(raw), tokenCacheTTL); err != nil {
			s.Logger.Warn().Err(err).Msg("token cache write failed")
		}
	}

	var tok Token
	if err := json.Unmarshal(raw, &tok); err != nil || tok.AccessToken == "" {
		s.Logger.Error().Int("status", status).Msg("auth response carried no access_token")
		return Token{}, &AuthError{Status: status, Message: "auth response carried no access_token"}
	}
	if obs.TokenRequestsTotal != nil {
		obs.TokenRequestsTotal.WithLabelValues("fetched").Inc()
	}
	return tok, nil
}

// grant performs the client-credentials POST and returns the raw response
// body on success.
func (s *TokenSource) grant(ctx context.Context) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()

	form := url.Values{}
	form.Set("client_id", s.Credentials.ClientID)
	form.Set("client_secret", s.Credentials.ClientSecret)
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.AuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, &AuthError{Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := s.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		s.Logger.Error().Err(err).Str("auth_url", s.AuthURL).Msg("access token request failed")
		return nil, 0, &AuthError{Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, &AuthError{Status: resp.StatusCode, Message: err.Error()}
	}
	if len(body) == 0 || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := bodyMessage(body)
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		s.Logger.Error().Int("status", resp.StatusCode).Str("message", message).Msg("access token request rejected")
		return nil, resp.StatusCode, &AuthError{Status: resp.StatusCode, Message: message}
	}

	s.Logger.Debug().Int("status", resp.StatusCode).Msg("access token acquired")
	return body, resp.StatusCode, nil
}

// ValidateCredentials performs a grant with the configured credentials and
// checks that the returned access token parses as a JWT. Used at
// settings-save time to reject bad credentials before they are persisted.
func (s *TokenSource) ValidateCredentials(ctx context.Context) error {
	tok, err := s.Token(ctx)
	if err != nil {
		return err
	}
	if _, err := jwt.ParseInsecure([]byte(tok.AccessToken)); err != nil {
		return &AuthError{Message: "access token is not a well-formed JWT"}
	}
	return nil
}

// bodyMessage extracts the upstream "message" field from a JSON error body.
func bodyMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	return parsed.Message
}
