package gatewayclient_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/onay-qr/onay-gateway/internal/adapters/gatewayclient"
	memclock "github.com/onay-qr/onay-gateway/internal/adapters/memory/clock"
	"github.com/onay-qr/onay-gateway/internal/platform/retry"
)

type recorder struct {
	mu    sync.Mutex
	keys  []string
	calls int
}

func (r *recorder) record(req *http.Request) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.keys = append(r.keys, req.Header.Get("Idempotency-Key"))
	return r.calls
}

func newClient(t *testing.T, baseURL string) (*gatewayclient.Client, *memclock.ManualClock) {
	t.Helper()
	clk := memclock.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	n := 0
	c := gatewayclient.New(baseURL+"/", gatewayclient.Options{
		Sleeper: clk,
		NewIdempotencyKey: func() string {
			n++
			return "key-" + string(rune('0'+n))
		},
	})
	return c, clk
}

func TestStartQR_RetriesServerErrorsWithSameKey(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/onay/qr-start" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["terminal"] != "9001" {
			t.Errorf("terminal = %q", body["terminal"])
		}
		if rec.record(r) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":{"route":"12","plate":"123ABC02","cost":12000,"terminal":"9001","pan":"5500"}}`))
	}))
	t.Cleanup(srv.Close)

	c, clk := newClient(t, srv.URL)
	trip, err := c.StartQR(context.Background(), "9001")
	if err != nil {
		t.Fatalf("StartQR: %v", err)
	}
	if trip.Route == nil || *trip.Route != "12" || trip.Terminal != "9001" {
		t.Fatalf("unexpected trip: %+v", trip)
	}
	if fare, ok := trip.Fare(); !ok || fare != "120₸" {
		t.Fatalf("Fare() = %q, %v", fare, ok)
	}
	if trip.Empty() {
		t.Fatalf("expected non-empty trip")
	}
	if rec.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", rec.calls)
	}
	for _, k := range rec.keys {
		if k != "key-1" {
			t.Fatalf("expected one key across retries, got %v", rec.keys)
		}
	}
	if got := clk.Sleeps(); len(got) != 2 || got[0] != retry.DefaultDelay {
		t.Fatalf("unexpected sleeps: %v", got)
	}
}

func TestStartQR_NewKeyPerCall(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		_, _ = w.Write([]byte(`{"success":true,"data":{"terminal":"1"}}`))
	}))
	t.Cleanup(srv.Close)

	c, _ := newClient(t, srv.URL)
	for i := 0; i < 2; i++ {
		if _, err := c.StartQR(context.Background(), "1"); err != nil {
			t.Fatalf("StartQR: %v", err)
		}
	}
	if len(rec.keys) != 2 || rec.keys[0] == rec.keys[1] {
		t.Fatalf("expected distinct keys, got %v", rec.keys)
	}
}

func TestStartQR_ClientErrorNotRetried(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"success":false,"message":"terminal is required"}`))
	}))
	t.Cleanup(srv.Close)

	c, clk := newClient(t, srv.URL)
	_, err := c.StartQR(context.Background(), "")
	var apiErr *gatewayclient.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != "terminal is required" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
	if rec.calls != 1 || len(clk.Sleeps()) != 0 {
		t.Fatalf("expected a single attempt, got %d calls", rec.calls)
	}
}

func TestStartQR_ExhaustedServerErrorsSurfaceMessage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"message":"Onay: no payment method"}`))
	}))
	t.Cleanup(srv.Close)

	c, clk := newClient(t, srv.URL)
	_, err := c.StartQR(context.Background(), "9001")
	var apiErr *gatewayclient.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500 APIError, got %v", err)
	}
	if apiErr.Message != "Onay: no payment method" {
		t.Fatalf("message = %q", apiErr.Message)
	}
	if len(clk.Sleeps()) != 2 {
		t.Fatalf("expected 2 waits, got %v", clk.Sleeps())
	}
}

func TestStartQR_TextBodyBecomesMessage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("Bad request"))
	}))
	t.Cleanup(srv.Close)

	c, _ := newClient(t, srv.URL)
	_, err := c.StartQR(context.Background(), "9001")
	if err == nil || err.Error() != "Bad request" {
		t.Fatalf("expected text body as message, got %v", err)
	}
}

func TestStartQR_JSONWithoutContentType(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(`{"success":true,"data":{"route":null,"plate":null,"cost":null,"terminal":"77","pan":null}}`))
	}))
	t.Cleanup(srv.Close)

	c, _ := newClient(t, srv.URL)
	trip, err := c.StartQR(context.Background(), "77")
	if err != nil {
		t.Fatalf("StartQR: %v", err)
	}
	if !trip.Empty() {
		t.Fatalf("expected empty trip, got %+v", trip)
	}
	if _, ok := trip.Fare(); ok {
		t.Fatalf("expected no fare")
	}
}

func TestCall_SuccessFalseOn200IsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false}`))
	}))
	t.Cleanup(srv.Close)

	c, _ := newClient(t, srv.URL)
	_, err := c.SignIn(context.Background())
	var apiErr *gatewayclient.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusOK {
		t.Fatalf("expected APIError for success=false, got %v", err)
	}
	if apiErr.Message != "gateway: request rejected (200)" {
		t.Fatalf("message = %q", apiErr.Message)
	}
}

func TestSignInAndStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method + " " + r.URL.Path {
		case "POST /api/onay/sign-in":
			_, _ = w.Write([]byte(`{"success":true,"data":{"token":"t","shortToken":"s","deviceId":"d"}}`))
		case "GET /api/onay/session":
			_, _ = w.Write([]byte(`{"success":true,"data":{"signedIn":true,"deviceId":"d***","expiresAt":"2026-01-01T00:30:00Z"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	c, _ := newClient(t, srv.URL)
	sess, err := c.SignIn(context.Background())
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if sess.Token != "t" || sess.ShortToken != "s" || sess.DeviceID != "d" {
		t.Fatalf("unexpected session: %+v", sess)
	}
	st, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !st.SignedIn || st.ExpiresAt == nil || st.ExpiresAt.Minute() != 30 {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestCall_TransportErrorRetriedThenReturned(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, clk := newClient(t, url)
	_, err := c.SignIn(context.Background())
	if err == nil {
		t.Fatalf("expected error for closed server")
	}
	var apiErr *gatewayclient.APIError
	if errors.As(err, &apiErr) {
		t.Fatalf("transport failure should not be an APIError: %v", err)
	}
	if len(clk.Sleeps()) != 2 {
		t.Fatalf("expected 2 waits, got %v", clk.Sleeps())
	}
}
