package orkesta

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// secretPrefix is stripped from configured webhook secrets before
	// base64 decoding.
	secretPrefix = "whsec_"

	// tolerance is the replay window around the sender's timestamp.
	tolerance = 5 * time.Minute

	signatureVersion = "v1"
)

// Verifier authenticates inbound webhooks using the timestamped HMAC scheme
// of the webhook sender. It is stateless and safe for concurrent use.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier builds a Verifier from the configured webhook secret. An
// optional whsec_ prefix is stripped and the remainder base64-decoded into
// the raw signing key.
func NewVerifier(secret string) (*Verifier, error) {
	trimmed := strings.TrimPrefix(secret, secretPrefix)
	key, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("orkesta: decode webhook secret: %w", err)
	}
	return &Verifier{secret: key, now: time.Now}, nil
}

// Verify authenticates payload against the signature headers and returns the
// parsed event. Either the svix-* or the webhook-* header triple is
// accepted; header lookup is case-insensitive.
func (v *Verifier) Verify(payload []byte, headers http.Header) (Event, error) {
	id, timestamp, signatures, err := extractHeaders(headers)
	if err != nil {
		return Event{}, err
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, timestamp)
	}
	now := v.now().Unix()
	window := int64(tolerance.Seconds())
	if ts < now-window {
		return Event{}, ErrTimestampTooOld
	}
	if ts > now+window {
		return Event{}, ErrTimestampTooNew
	}

	expected := v.Sign(id, ts, payload)
	if !matchSignature(expected, signatures) {
		return Event{}, ErrSignatureMismatch
	}

	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return Event{}, fmt.Errorf("orkesta: decode webhook payload: %w", err)
	}
	event.Raw = append(json.RawMessage(nil), payload...)
	return event, nil
}

// Sign computes the versioned signature over the canonical
// "{id}.{timestamp}.{payload}" string. Exported for tests and for signing
// outbound test deliveries.
func (v *Verifier) Sign(id string, timestamp int64, payload []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	fmt.Fprintf(mac, "%s.%d.", id, timestamp)
	mac.Write(payload)
	return signatureVersion + "," + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// extractHeaders pulls the id/timestamp/signature triple from either
// supported header naming scheme.
func extractHeaders(headers http.Header) (id, timestamp, signatures string, err error) {
	for _, prefix := range []string{"svix", "webhook"} {
		id = headers.Get(prefix + "-id")
		timestamp = headers.Get(prefix + "-timestamp")
		signatures = headers.Get(prefix + "-signature")
		if id != "" && timestamp != "" && signatures != "" {
			return id, timestamp, signatures, nil
		}
	}
	return "", "", "", ErrMissingHeaders
}

// matchSignature scans the space-separated "version,signature" pairs,
// comparing only v1 entries in constant time. Multiple pairs support key
// rotation on the sender side.
func matchSignature(expected string, header string) bool {
	expectedSig := strings.TrimPrefix(expected, signatureVersion+",")
	for _, versioned := range strings.Split(header, " ") {
		version, sig, found := strings.Cut(versioned, ",")
		if !found || version != signatureVersion {
			continue
		}
		if hmac.Equal([]byte(expectedSig), []byte(sig)) {
			return true
		}
	}
	return false
}
