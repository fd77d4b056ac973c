// Package common holds the response envelope and request helpers shared by
// the gateway's HTTP surface.
package common

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
)

// ErrorBody is the error payload every endpoint returns, wrapped under an
// "error" key.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// JSON writes v as a JSON response with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// JSONError renders the canonical error envelope.
func JSONError(w http.ResponseWriter, status int, code, message string, details any) {
	JSON(w, status, errorEnvelope{Error: ErrorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

// Sha256Hex returns the lowercase-hex SHA-256 digest of input. Used to build
// bounded-length Redis keys from request bodies and idempotency headers.
func Sha256Hex(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
