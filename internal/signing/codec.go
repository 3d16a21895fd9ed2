// Package signing implements the HMAC-SHA256 schemes shared with the remote
// service: signed recovery-link tokens and signed server-to-server requests.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"jilt-connector/internal/model"
)

// EncodeToken JSON-encodes payload, base64-encodes the JSON and signs the
// base64 string. The signature is lowercase hex.
func EncodeToken(payload any, secret string) (token, signature string, err error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", "", fmt.Errorf("encoding token payload: %w", err)
	}
	token = base64.StdEncoding.EncodeToString(data)
	return token, Sign(token, secret), nil
}

// DecodeAndVerify checks signature against token with a constant-time
// compare and decodes the payload into v.
func DecodeAndVerify(token, signature, secret string, v any) error {
	if secret == "" || !Verify(token, signature, secret) {
		return model.ErrInvalidSignature
	}
	data, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return fmt.Errorf("%w: base64: %v", model.ErrMalformedPayload, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: json: %v", model.ErrMalformedPayload, err)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of message.
func Sign(message, secret string) string {
	return hex.EncodeToString(mac([]byte(message), secret))
}

// Verify reports whether signature is the hex HMAC of message.
func Verify(message, signature, secret string) bool {
	expected := Sign(message, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func mac(message []byte, secret string) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(message)
	return h.Sum(nil)
}
