package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Verifier checks the HMAC-SHA256 signature the gateway attaches to a
// success payload. The secret is shared with the gateway out of band.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify recomputes the signature over session id, order ref and amount and
// compares in constant time.
func (v *Verifier) Verify(payload SuccessPayload) error {
	expected := v.Sign(payload.SessionID, payload.OrderRef, payload.Amount)

	provided, err := hex.DecodeString(payload.Signature)
	if err != nil {
		return fmt.Errorf("%w: malformed signature", ErrSignatureInvalid)
	}

	expectedRaw, _ := hex.DecodeString(expected)
	if !hmac.Equal(provided, expectedRaw) {
		return ErrSignatureInvalid
	}
	return nil
}

// Sign produces the hex signature for the given session fields. Exported for
// the gateway stub and tests.
func (v *Verifier) Sign(sessionID, orderRef, amount string) string {
	mac := hmac.New(sha256.New, v.secret)
	fmt.Fprintf(mac, "%s|%s|%s", sessionID, orderRef, amount)
	return hex.EncodeToString(mac.Sum(nil))
}
