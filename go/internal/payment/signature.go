package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/mcdev12/quizpot/go/internal/apperr"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Signature"

// Sign returns the hex HMAC-SHA256 of body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks header against the HMAC of the raw body. A
// "sha256=" prefix is accepted. Comparison is constant time.
func VerifySignature(body []byte, header, secret string) error {
	if secret == "" {
		return apperr.Wrap(apperr.KindSecurity, apperr.ErrInvalidSignature, "webhook secret not configured")
	}
	given := strings.TrimPrefix(strings.TrimSpace(header), "sha256=")
	if given == "" {
		return apperr.ErrInvalidSignature
	}
	got, err := hex.DecodeString(given)
	if err != nil {
		return apperr.ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return apperr.ErrInvalidSignature
	}
	return nil
}
