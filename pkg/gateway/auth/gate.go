package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
)

// ErrUnauthorized is returned for a missing, wrong or expired credential and
// for a bad webhook signature. Its message is what inbound callers see.
var ErrUnauthorized = errors.New("Unauthorized: Invalid or expired token")

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Signature"

// Gate checks bearer credentials against one shared secret.
type Gate struct {
	digest [sha256.Size]byte
	empty  bool
}

func NewGate(secret string) *Gate {
	return &Gate{digest: sha256.Sum256([]byte(secret)), empty: secret == ""}
}

// Verify returns the credential when it matches the configured secret.
//
// Both sides are hashed first so the comparison always runs over equal
// length inputs and subtle.ConstantTimeCompare never exits early on length.
func (g *Gate) Verify(credential string) (string, error) {
	if g == nil || g.empty || credential == "" {
		return "", ErrUnauthorized
	}
	got := sha256.Sum256([]byte(credential))
	if subtle.ConstantTimeCompare(got[:], g.digest[:]) != 1 {
		return "", ErrUnauthorized
	}
	return credential, nil
}

// VerifyOptional accepts an absent credential. ok reports whether a valid
// credential was presented; a present but wrong one is still an error.
func (g *Gate) VerifyOptional(credential string, present bool) (string, bool, error) {
	if !present {
		return "", false, nil
	}
	c, err := g.Verify(credential)
	if err != nil {
		return "", false, err
	}
	return c, true, nil
}

// VerifySignature checks the SignatureHeader value against the HMAC-SHA256 of
// body keyed by secret. An optional "sha256=" prefix on the header is
// accepted.
func VerifySignature(h http.Header, body []byte, secret string) error {
	if secret == "" {
		return ErrUnauthorized
	}
	sig := strings.TrimSpace(h.Get(SignatureHeader))
	sig = strings.TrimPrefix(sig, "sha256=")
	if sig == "" {
		return ErrUnauthorized
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return ErrUnauthorized
	}
	if !hmac.Equal(got, Sign(body, secret)) {
		return ErrUnauthorized
	}
	return nil
}

// Sign returns the raw HMAC-SHA256 of body.
func Sign(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}
