package orkesta

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	mutateTimeout   = 60 * time.Second
	retrieveTimeout = 30 * time.Second
)

// Client issues authenticated requests against the OrkestaPay API. Every
// call resolves a bearer token through the TokenSource, mutating payment
// requests carry a deterministic idempotency key, and all attempts are
// logged with sensitive fields redacted.
type Client struct {
	BaseURL string
	Tokens  *TokenSource
	HTTP    *http.Client
	Logger  zerolog.Logger
}

// Do sends payload to path with the given method and returns the raw
// response body. A call succeeds iff no transport error occurred, the body
// is non-empty and the status is in [200,300); anything else is an
// UpstreamError carrying the best-available message.
func (c *Client) Do(ctx context.Context, method, path string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &UpstreamError{Message: "encode request: " + err.Error()}
	}

	headers, err := c.headers(ctx)
	if err != nil {
		return nil, err
	}
	if mutatesPayments(method, path) {
		headers.Set("Idempotency-Key", idempotencyKey(method, path, body))
	}

	ctx, cancel := context.WithTimeout(ctx, mutateTimeout)
	defer cancel()
	return c.send(ctx, method, path, headers, body)
}

// Post is shorthand for Do with POST.
func (c *Client) Post(ctx context.Context, path string, payload any) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodPost, path, payload)
}

// Patch is shorthand for Do with PATCH.
func (c *Client) Patch(ctx context.Context, path string, payload any) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodPatch, path, payload)
}

// Retrieve performs a GET with the merged extra headers. No idempotency key
// is attached to reads.
func (c *Client) Retrieve(ctx context.Context, path string, extra http.Header) (json.RawMessage, error) {
	headers, err := c.headers(ctx)
	if err != nil {
		return nil, err
	}
	for key, values := range extra {
		for _, value := range values {
			headers.Add(key, value)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, retrieveTimeout)
	defer cancel()
	return c.send(ctx, http.MethodGet, path, headers, nil)
}

// headers resolves the per-request authorization headers via the token
// cache.
func (c *Client) headers(ctx context.Context) (http.Header, error) {
	tok, err := c.Tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+tok.AccessToken)
	headers.Set("Content-Type", "application/json")
	return headers, nil
}

func (c *Client) send(ctx context.Context, method, path string, headers http.Header, body []byte) (json.RawMessage, error) {
	endpoint := strings.TrimRight(c.BaseURL, "/") + path

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, &UpstreamError{Message: err.Error()}
	}
	req.Header = headers

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		c.Logger.Error().Err(err).
			Str("method", method).
			Str("endpoint", endpoint).
			RawJSON("request", RedactJSON(body)).
			Msg("orkesta request failed")
		return nil, &UpstreamError{Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{Status: resp.StatusCode, Message: err.Error()}
	}

	evt := c.Logger.Info()
	success := len(respBody) > 0 && resp.StatusCode >= 200 && resp.StatusCode < 300
	if !success {
		evt = c.Logger.Error()
	}
	evt.Str("method", method).
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		RawJSON("request", RedactJSON(body)).
		RawJSON("response", RedactJSON(respBody)).
		Msg("orkesta request")

	if !success {
		message := bodyMessage(respBody)
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return nil, &UpstreamError{Status: resp.StatusCode, Message: message}
	}
	return respBody, nil
}

// mutatesPayments reports whether the call is a mutating request against a
// payments resource and therefore needs an idempotency key.
func mutatesPayments(method, path string) bool {
	if method != http.MethodPost && method != http.MethodPatch {
		return false
	}
	return strings.Contains(strings.ToLower(path), "payments")
}

// idempotencyKey derives the key deterministically from the request content
// so that client-side retries of the same charge collapse upstream.
func idempotencyKey(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{'|'})
	h.Write([]byte(path))
	h.Write([]byte{'|'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
