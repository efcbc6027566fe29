package onay

import (
	"context"
	"encoding/json"

	"github.com/onay-qr/onay-gateway/internal/domain"
)

// SignInRequest carries the account credentials of the credential exchange. The
// long-lived application token and device metadata are adapter configuration.
type SignInRequest struct {
	PhoneNumber string
	Password    string
	PushToken   string
	DeviceOS    int
}

// SignInResult is the raw credential exchange reply. Any field may be empty; the
// caller decides whether the reply is usable.
type SignInResult struct {
	Token      string
	ShortToken string
	DeviceID   string
}

// Card is a linked payment instrument.
type Card struct {
	PAN domain.PaymentID
}

// CardList is the card listing reply. Success mirrors the backend envelope flag.
type CardList struct {
	Success bool
	Cards   []Card
}

// TerminalRecord is the nested terminal payload of a ticketing-start reply.
// Fields are nil when the backend omits them.
type TerminalRecord struct {
	Route     *string
	Conductor *string
	// Cost is the raw JSON value; the backend normally sends an integer.
	Cost     json.RawMessage
	Code     *string
	Terminal *string

	Raw json.RawMessage
}

// Backend is the ticketing backend contract consumed by the session service.
//
// Implementations report 401/403 replies as domain.UpstreamError (see
// domain.IsAuthFailure), 5xx and transport failures as domain.TransientNetworkError.
type Backend interface {
	SignIn(ctx context.Context, req SignInRequest) (SignInResult, error)
	ListCards(ctx context.Context, session domain.TokenBundle, cityID string) (CardList, error)
	// StartQR returns a nil record when the reply carries no terminal payload.
	StartQR(ctx context.Context, session domain.TokenBundle, terminal domain.TerminalCode, pan domain.PaymentID) (*TerminalRecord, error)
}
