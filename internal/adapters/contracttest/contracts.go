package contracttest

import (
	"context"
	"testing"
	"time"

	"github.com/onay-qr/onay-gateway/internal/domain"
	idempotencyport "github.com/onay-qr/onay-gateway/internal/ports/out/idempotency"
	onayport "github.com/onay-qr/onay-gateway/internal/ports/out/onay"
)

type CleanupFunc = func()

type IdemStoreFactory func(t *testing.T) (idempotencyport.Store, CleanupFunc)

// BackendFactory returns a ticketing backend seeded with SeedPAN as its only card and
// SeedTerminal answering with route SeedRoute.
type BackendFactory func(t *testing.T) (onayport.Backend, CleanupFunc)

const (
	SeedPAN      domain.PaymentID    = "4400111122223333"
	SeedTerminal domain.TerminalCode = "9001"
	SeedRoute                        = "12"
)

func RunIdempotencyStore(t *testing.T, newStore IdemStoreFactory) {
	t.Helper()
	ctx := context.Background()

	store, cleanup := newStore(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	meta := idempotencyport.Fingerprint{
		Key:    "k-1",
		Method: "POST",
		Route:  "/api/onay/qr-start",
	}
	rec := idempotencyport.Record{
		ContentType: "text/plain",
		Body:        []byte("hash-abc"),
		CreatedAt:   time.Unix(123, 0).UTC(),
	}
	if err := store.Put(ctx, meta, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := store.Get(ctx, meta)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatalf("expected ok=true")
	}
	if string(got.Body) != "hash-abc" || got.ContentType != "text/plain" || got.StatusCode != 0 {
		t.Fatalf("unexpected record: %+v", got)
	}

	// The response record lives beside the meta record.
	resp := meta
	resp.BodyHash = "hash-abc"
	if _, ok, err := store.Get(ctx, resp); err != nil || ok {
		t.Fatalf("expected no response record yet, ok=%v err=%v", ok, err)
	}
	if err := store.Put(ctx, resp, idempotencyport.Record{StatusCode: 200, ContentType: "application/json", Body: []byte(`{"success":true}`)}); err != nil {
		t.Fatalf("Put response: %v", err)
	}
	got, ok, err = store.Get(ctx, resp)
	if err != nil || !ok || got.StatusCode != 200 {
		t.Fatalf("expected response record, got ok=%v err=%v rec=%+v", ok, err, got)
	}

	// Overwrite semantics.
	rec2 := rec
	rec2.Body = []byte("hash-def")
	if err := store.Put(ctx, meta, rec2); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	got, ok, err = store.Get(ctx, meta)
	if err != nil || !ok || string(got.Body) != "hash-def" {
		t.Fatalf("expected overwritten record, got ok=%v err=%v body=%q", ok, err, string(got.Body))
	}

	// Keys do not leak across routes.
	other := meta
	other.Route = "/api/onay/sign-in"
	if _, ok, err := store.Get(ctx, other); err != nil || ok {
		t.Fatalf("expected miss for another route, ok=%v err=%v", ok, err)
	}
}

func RunBackend(t *testing.T, newBackend BackendFactory) {
	t.Helper()
	ctx := context.Background()

	backend, cleanup := newBackend(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	res, err := backend.SignIn(ctx, onayport.SignInRequest{
		PhoneNumber: "77001234567",
		Password:    "pw",
		PushToken:   "push",
		DeviceOS:    2,
	})
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	sess := domain.TokenBundle{Token: res.Token, ShortToken: res.ShortToken, DeviceID: res.DeviceID}
	if !sess.Complete() {
		t.Fatalf("expected complete session, got %+v", res)
	}

	cards, err := backend.ListCards(ctx, sess, "1")
	if err != nil {
		t.Fatalf("ListCards: %v", err)
	}
	if !cards.Success || len(cards.Cards) != 1 || cards.Cards[0].PAN != SeedPAN {
		t.Fatalf("unexpected cards: %+v", cards)
	}

	rec, err := backend.StartQR(ctx, sess, SeedTerminal, SeedPAN)
	if err != nil {
		t.Fatalf("StartQR: %v", err)
	}
	if rec == nil || rec.Route == nil || *rec.Route != SeedRoute {
		t.Fatalf("unexpected terminal record: %+v", rec)
	}

	if _, err := backend.StartQR(ctx, sess, "no-such-terminal", SeedPAN); err == nil || domain.IsAuthFailure(err) {
		t.Fatalf("expected non-auth failure for unknown terminal, got %v", err)
	}

	stale := sess
	stale.ShortToken = "stale"
	if _, err := backend.ListCards(ctx, stale, "1"); !domain.IsAuthFailure(err) {
		t.Fatalf("expected auth failure for unknown session on cards, got %v", err)
	}
	if _, err := backend.StartQR(ctx, stale, SeedTerminal, SeedPAN); !domain.IsAuthFailure(err) {
		t.Fatalf("expected auth failure for unknown session on qr-start, got %v", err)
	}
}
