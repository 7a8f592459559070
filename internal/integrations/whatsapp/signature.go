package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// SignatureHeader carries the HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Hub-Signature-256"

var ErrInvalidSignature = errors.New("whatsapp: invalid webhook signature")

// VerifySignature checks header ("sha256=<hex>") against body signed with appSecret.
func VerifySignature(appSecret string, body []byte, header string) error {
	sig, ok := strings.CutPrefix(strings.TrimSpace(header), "sha256=")
	if !ok || sig == "" {
		return ErrInvalidSignature
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return ErrInvalidSignature
	}
	if !hmac.Equal(got, Sign(appSecret, body)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign returns the raw HMAC-SHA256 of body.
func Sign(appSecret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return mac.Sum(nil)
}
