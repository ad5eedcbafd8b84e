package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	SignaturePrefix = "sha256="
	SignatureHeader = "X-Hub-Signature-256"
)

// Sign returns the X-Hub-Signature-256 value for body under secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature is the HMAC-SHA256 of body keyed
// by secret. It never matches when either the signature or the secret is
// empty. Callers skip verification entirely when no secret is configured.
func VerifySignature(body []byte, signature, secret string) bool {
	return Verify(body, signature, secret) == nil
}

// Verify is VerifySignature with the reason for rejection. All failures wrap
// ErrInvalidSignature.
func Verify(body []byte, signature, secret string) error {
	if secret == "" {
		return fmt.Errorf("%w: no secret configured", ErrInvalidSignature)
	}
	if signature == "" {
		return fmt.Errorf("%w: missing %s header", ErrInvalidSignature, SignatureHeader)
	}
	if !strings.HasPrefix(signature, SignaturePrefix) {
		return fmt.Errorf("%w: unsupported signature format", ErrInvalidSignature)
	}

	// Constant-time over the full prefixed value.
	if !hmac.Equal([]byte(Sign(body, secret)), []byte(signature)) {
		return fmt.Errorf("%w: digest mismatch", ErrInvalidSignature)
	}
	return nil
}
