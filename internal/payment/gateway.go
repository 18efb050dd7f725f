package payment

import (
	"context"
	"errors"
	"time"
)

var (
	ErrSignatureInvalid = errors.New("payment signature verification failed")
	ErrGatewayDown      = errors.New("payment gateway unreachable")
)

// Session is one hosted payment attempt. The submission coordinator owns the
// session for its lifetime and discards it on both success and cancellation.
type Session struct {
	ID        string    `json:"id"`
	OrderRef  string    `json:"order_ref"`
	Amount    string    `json:"amount"` // formatted with two decimals
	CreatedAt time.Time `json:"created_at"`
}

// SuccessPayload is what the gateway reports after the customer pays. The
// signature must be re-verified before any order record is created; a
// "success" UI event alone proves nothing.
type SuccessPayload struct {
	SessionID string `json:"session_id"`
	OrderRef  string `json:"order_ref"`
	Amount    string `json:"amount"`
	Signature string `json:"signature"`
}

// Gateway opens hosted payment sessions.
type Gateway interface {
	OpenSession(ctx context.Context, orderRef string, amount float64) (*Session, error)
}
