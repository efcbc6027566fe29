// Package onaybackend is a scriptable in-memory ticketing backend used by tests and
// the local development server.
package onaybackend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/onay-qr/onay-gateway/internal/domain"
	"github.com/onay-qr/onay-gateway/internal/platform/clock"
	clockport "github.com/onay-qr/onay-gateway/internal/ports/out/clock"
	onayport "github.com/onay-qr/onay-gateway/internal/ports/out/onay"
)

const DefaultTokenTTL = 30 * time.Minute

var signingKey = []byte("onay-dev-backend")

// Calls counts the operations served, failed ones included.
type Calls struct {
	SignIn    int
	ListCards int
	StartQR   int
}

// QRStart is one accepted ticketing-start request.
type QRStart struct {
	Terminal domain.TerminalCode
	PAN      domain.PaymentID
}

// Backend is an in-memory implementation of onay.Backend.
// It is safe for concurrent use.
type Backend struct {
	mu    sync.Mutex
	clock clockport.Clock

	tokenTTL     time.Duration
	cardsSuccess bool
	cards        []domain.PaymentID
	terminals    map[domain.TerminalCode]*onayport.TerminalRecord
	fallback     *onayport.TerminalRecord
	hasFallback  bool
	// sessions holds the short tokens currently accepted.
	sessions map[string]struct{}
	noToken  bool

	signInErrs []error
	cardsErrs  []error
	qrErrs     []error
	onSignIn   func()
	onStartQR  func()

	calls    Calls
	started  []QRStart
	lastAuth onayport.SignInRequest
}

var _ onayport.Backend = (*Backend)(nil)

func NewBackend() *Backend {
	return NewBackendWithClock(clock.NewSystemClock())
}

func NewBackendWithClock(clk clockport.Clock) *Backend {
	return &Backend{
		clock:        clk,
		tokenTTL:     DefaultTokenTTL,
		cardsSuccess: true,
		terminals:    make(map[domain.TerminalCode]*onayport.TerminalRecord),
		sessions:     make(map[string]struct{}),
	}
}

// SetCards replaces the linked cards. The card listing reply reports success.
func (b *Backend) SetCards(pans ...domain.PaymentID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cards = append([]domain.PaymentID(nil), pans...)
	b.cardsSuccess = true
}

// SetCardsUnsuccessful makes the card listing reply carry success=false.
func (b *Backend) SetCardsUnsuccessful() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cardsSuccess = false
}

// AddTerminal registers the reply for a terminal code. A nil record makes the reply
// carry no terminal payload.
func (b *Backend) AddTerminal(code domain.TerminalCode, rec *onayport.TerminalRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.terminals[code] = cloneRecord(rec)
}

// SetDefaultTerminal sets the reply for terminal codes that were never added. A nil
// record restores the 404 for unknown codes.
func (b *Backend) SetDefaultTerminal(rec *onayport.TerminalRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fallback = cloneRecord(rec)
	b.hasFallback = rec != nil
}

// ExpireSessions invalidates every issued short token.
func (b *Backend) ExpireSessions() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions = make(map[string]struct{})
}

// SetSignInWithoutToken makes the credential exchange succeed without a token.
func (b *Backend) SetSignInWithoutToken(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.noToken = v
}

func (b *Backend) SetTokenTTL(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokenTTL = d
}

// OnSignIn installs a hook run at the start of every credential exchange, outside the lock.
func (b *Backend) OnSignIn(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onSignIn = fn
}

// OnStartQR installs a hook run at the start of every ticketing call, outside the lock.
func (b *Backend) OnStartQR(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStartQR = fn
}

// FailNextSignIn queues errors returned by the next credential exchanges, in order.
func (b *Backend) FailNextSignIn(errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.signInErrs = append(b.signInErrs, errs...)
}

func (b *Backend) FailNextListCards(errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cardsErrs = append(b.cardsErrs, errs...)
}

func (b *Backend) FailNextStartQR(errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.qrErrs = append(b.qrErrs, errs...)
}

func (b *Backend) Calls() Calls {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// Started returns the accepted ticketing-start requests in arrival order.
func (b *Backend) Started() []QRStart {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]QRStart(nil), b.started...)
}

// LastSignIn returns the credentials of the latest credential exchange.
func (b *Backend) LastSignIn() onayport.SignInRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastAuth
}

func (b *Backend) SignIn(ctx context.Context, req onayport.SignInRequest) (onayport.SignInResult, error) {
	b.mu.Lock()
	hook := b.onSignIn
	b.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err := ctx.Err(); err != nil {
		return onayport.SignInResult{}, domain.TransientNetworkError{Op: "sign-in", Err: err}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls.SignIn++
	b.lastAuth = req
	if err := pop(&b.signInErrs); err != nil {
		return onayport.SignInResult{}, err
	}
	if b.noToken {
		return onayport.SignInResult{DeviceID: "device-" + uuid.NewString()[:8]}, nil
	}

	now := b.clock.Now()
	subject := req.PhoneNumber
	if subject == "" {
		subject = "anonymous"
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(b.tokenTTL)),
	}).SignedString(signingKey)
	if err != nil {
		return onayport.SignInResult{}, fmt.Errorf("onaybackend: sign token: %w", err)
	}
	short := uuid.NewString()
	b.sessions[short] = struct{}{}
	return onayport.SignInResult{
		Token:      token,
		ShortToken: short,
		DeviceID:   "device-" + short[:8],
	}, nil
}

func (b *Backend) ListCards(ctx context.Context, session domain.TokenBundle, cityID string) (onayport.CardList, error) {
	_ = ctx
	_ = cityID
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls.ListCards++
	if err := pop(&b.cardsErrs); err != nil {
		return onayport.CardList{}, err
	}
	if !b.authorized(session) {
		return onayport.CardList{}, unauthorized("cards")
	}
	out := onayport.CardList{Success: b.cardsSuccess}
	for _, pan := range b.cards {
		out.Cards = append(out.Cards, onayport.Card{PAN: pan})
	}
	return out, nil
}

func (b *Backend) StartQR(ctx context.Context, session domain.TokenBundle, terminal domain.TerminalCode, pan domain.PaymentID) (*onayport.TerminalRecord, error) {
	b.mu.Lock()
	hook := b.onStartQR
	b.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.TransientNetworkError{Op: "qr-start", Err: err}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls.StartQR++
	if err := pop(&b.qrErrs); err != nil {
		return nil, err
	}
	if !b.authorized(session) {
		return nil, unauthorized("qr-start")
	}
	rec, ok := b.terminals[terminal]
	if !ok && b.hasFallback {
		rec, ok = b.fallback, true
	}
	if !ok {
		return nil, domain.UpstreamError{Op: "qr-start", StatusCode: http.StatusNotFound, Msg: "terminal not found"}
	}
	b.started = append(b.started, QRStart{Terminal: terminal, PAN: pan})
	return cloneRecord(rec), nil
}

func (b *Backend) authorized(session domain.TokenBundle) bool {
	_, ok := b.sessions[session.ShortToken]
	return ok
}

func unauthorized(op string) error {
	return domain.UpstreamError{Op: op, StatusCode: http.StatusUnauthorized}
}

func pop(q *[]error) error {
	if len(*q) == 0 {
		return nil
	}
	err := (*q)[0]
	*q = (*q)[1:]
	return err
}

func cloneRecord(rec *onayport.TerminalRecord) *onayport.TerminalRecord {
	if rec == nil {
		return nil
	}
	out := *rec
	out.Route = cloneString(rec.Route)
	out.Conductor = cloneString(rec.Conductor)
	out.Code = cloneString(rec.Code)
	out.Terminal = cloneString(rec.Terminal)
	out.Cost = append(json.RawMessage(nil), rec.Cost...)
	out.Raw = append(json.RawMessage(nil), rec.Raw...)
	return &out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
