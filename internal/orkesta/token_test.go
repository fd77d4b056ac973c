package orkesta

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testCredentials() Credentials {
	return Credentials{ClientID: "client-id", ClientSecret: "client-secret"}
}

// authServer counts grant calls and replies with the given handler.
func authServer(t *testing.T, calls *atomic.Int64, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "client_credentials", r.FormValue("grant_type"))
		require.Equal(t, "client-id", r.FormValue("client_id"))
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTokenCachedWithinTTL(t *testing.T) {
	var calls atomic.Int64
	srv := authServer(t, &calls, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-1","token_type":"Bearer","expires_in":60}`))
	})

	source := &TokenSource{
		AuthURL:     srv.URL,
		Credentials: testCredentials(),
		Cache:       NewMemoryCache(),
		Logger:      zerolog.Nop(),
	}

	for i := 0; i < 5; i++ {
		tok, err := source.Token(context.Background())
		require.NoError(t, err)
		require.Equal(t, "tok-1", tok.AccessToken)
	}
	require.Equal(t, int64(1), calls.Load(), "cached token must not trigger additional grants")
}

func TestTokenRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	var calls atomic.Int64
	srv := authServer(t, &calls, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"tok-redis","token_type":"Bearer","expires_in":60}`))
	})

	source := &TokenSource{
		AuthURL:     srv.URL,
		Credentials: testCredentials(),
		Cache:       RedisCache{R: rdb},
		Logger:      zerolog.Nop(),
	}

	tok, err := source.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-redis", tok.AccessToken)

	// Second process sharing the cache sees the same grant.
	other := &TokenSource{
		AuthURL:     srv.URL,
		Credentials: testCredentials(),
		Cache:       RedisCache{R: rdb},
		Logger:      zerolog.Nop(),
	}
	tok, err = other.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-redis", tok.AccessToken)
	require.Equal(t, int64(1), calls.Load())

	require.Positive(t, mr.TTL("orkestapay:access_token"))
}

func TestTokenExpiredCacheRefetches(t *testing.T) {
	var calls atomic.Int64
	srv := authServer(t, &calls, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"tok-1","token_type":"Bearer","expires_in":60}`))
	})

	cache := NewMemoryCache()
	now := time.Now()
	cache.now = func() time.Time { return now }

	source := &TokenSource{
		AuthURL:     srv.URL,
		Credentials: testCredentials(),
		Cache:       cache,
		Logger:      zerolog.Nop(),
	}

	_, err := source.Token(context.Background())
	require.NoError(t, err)

	now = now.Add(tokenCacheTTL + time.Second)
	_, err = source.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2), calls.Load())
}

func TestTokenAuthRejection(t *testing.T) {
	var calls atomic.Int64
	srv := authServer(t, &calls, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"invalid client credentials"}`))
	})

	source := &TokenSource{
		AuthURL:     srv.URL,
		Credentials: testCredentials(),
		Cache:       NewMemoryCache(),
		Logger:      zerolog.Nop(),
	}

	_, err := source.Token(context.Background())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, http.StatusUnauthorized, authErr.Status)
	require.Equal(t, "invalid client credentials", authErr.Message)
}

func TestTokenEmptyBodyIsFailure(t *testing.T) {
	var calls atomic.Int64
	srv := authServer(t, &calls, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	source := &TokenSource{
		AuthURL:     srv.URL,
		Credentials: testCredentials(),
		Logger:      zerolog.Nop(),
	}

	_, err := source.Token(context.Background())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestTokenMissingAccessTokenField(t *testing.T) {
	var calls atomic.Int64
	srv := authServer(t, &calls, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"token_type":"Bearer","expires_in":60}`))
	})

	source := &TokenSource{
		AuthURL:     srv.URL,
		Credentials: testCredentials(),
		Cache:       NewMemoryCache(),
		Logger:      zerolog.Nop(),
	}

	_, err := source.Token(context.Background())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Contains(t, authErr.Message, "access_token")
}

func TestValidateCredentials(t *testing.T) {
	signed, err := func() ([]byte, error) {
		tok, err := jwt.NewBuilder().Subject("merchant").Build()
		if err != nil {
			return nil, err
		}
		return jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte("signing-key")))
	}()
	require.NoError(t, err)

	var calls atomic.Int64
	srv := authServer(t, &calls, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"` + string(signed) + `","token_type":"Bearer","expires_in":60}`))
	})

	source := &TokenSource{
		AuthURL:     srv.URL,
		Credentials: testCredentials(),
		Cache:       NewMemoryCache(),
		Logger:      zerolog.Nop(),
	}
	require.NoError(t, source.ValidateCredentials(context.Background()))
}

func TestValidateCredentialsRejectsOpaqueToken(t *testing.T) {
	var calls atomic.Int64
	srv := authServer(t, &calls, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"not-a-jwt","token_type":"Bearer","expires_in":60}`))
	})

	source := &TokenSource{
		AuthURL:     srv.URL,
		Credentials: testCredentials(),
		Logger:      zerolog.Nop(),
	}
	err := source.ValidateCredentials(context.Background())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
}
