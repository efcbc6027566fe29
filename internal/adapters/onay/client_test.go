package onay_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	memclock "github.com/onay-qr/onay-gateway/internal/adapters/memory/clock"
	"github.com/onay-qr/onay-gateway/internal/adapters/onay"
	"github.com/onay-qr/onay-gateway/internal/domain"
	"github.com/onay-qr/onay-gateway/internal/platform/config"
	"github.com/onay-qr/onay-gateway/internal/platform/retry"
	onayport "github.com/onay-qr/onay-gateway/internal/ports/out/onay"
)

var session = domain.TokenBundle{Token: "tok", ShortToken: "short-1", DeviceID: "dev-1"}

func testConfig(baseURL string) config.OnayConfig {
	cfg := config.DefaultOnayConfig()
	cfg.BaseURL = baseURL
	cfg.AppToken = "app-token"
	cfg.DeviceID = "device-1"
	cfg.PhoneNumber = "77001234567"
	cfg.Password = "secret"
	cfg.PushToken = "push"
	return cfg
}

func newClient(t *testing.T, h http.HandlerFunc) (*onay.Client, *memclock.ManualClock) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	clk := memclock.NewManualClock(time.Unix(0, 0).UTC())
	reads := retry.NewWithSleeper(retry.Policy{Attempts: 3, Delay: time.Second}, clk)
	return onay.NewWithOptions(testConfig(srv.URL), srv.Client(), reads, zerolog.Nop()), clk
}

func TestClient_SignInSendsCredentialsAndHeaders(t *testing.T) {
	t.Parallel()

	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/v1/external/user/sign-in" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("X-Application-Token"); got != "Bearer app-token" {
			t.Errorf("app token header = %q", got)
		}
		if got := r.Header.Get("X-Ma-D"); got != "device-1" {
			t.Errorf("device header = %q", got)
		}
		if got := r.Header.Get("X-Ma-Os"); got != config.DefaultOnayOS {
			t.Errorf("os header = %q", got)
		}
		if got := r.Header.Get("User-Agent"); got != config.DefaultOnayUserAgent {
			t.Errorf("user agent = %q", got)
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["phoneNumber"] != "77001234567" || body["password"] != "secret" || body["pushToken"] != "push" {
			t.Errorf("unexpected body %v", body)
		}
		if body["deviceOs"] != float64(2) {
			t.Errorf("deviceOs = %v", body["deviceOs"])
		}
		_, _ = io.WriteString(w, `{"success":true,"result":{"data":{"token":"t1","shortToken":"s1","d":"d1"}}}`)
	})

	got, err := c.SignIn(context.Background(), onayport.SignInRequest{
		PhoneNumber: "77001234567",
		Password:    "secret",
		PushToken:   "push",
		DeviceOS:    2,
	})
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	want := onayport.SignInResult{Token: "t1", ShortToken: "s1", DeviceID: "d1"}
	if got != want {
		t.Fatalf("SignIn = %+v, want %+v", got, want)
	}
}

func TestClient_SignInKeepsExistingBearerPrefix(t *testing.T) {
	t.Parallel()

	var header atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header.Store(r.Header.Get("X-Application-Token"))
		_, _ = io.WriteString(w, `{"success":true,"result":{"data":null}}`)
	}))
	t.Cleanup(srv.Close)

	cfg := testConfig(srv.URL)
	cfg.AppToken = "Bearer already"
	c := onay.NewWithOptions(cfg, srv.Client(), nil, zerolog.Nop())

	got, err := c.SignIn(context.Background(), onayport.SignInRequest{})
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if got != (onayport.SignInResult{}) {
		t.Fatalf("expected empty result for null data, got %+v", got)
	}
	if header.Load() != "Bearer already" {
		t.Fatalf("app token header = %v", header.Load())
	}
}

func TestClient_ListCardsRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c, clk := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("cityId") != "1" {
			t.Errorf("cityId = %q", r.URL.Query().Get("cityId"))
		}
		if got := r.Header.Get("X-Short-Token"); got != "short-1" {
			t.Errorf("short token header = %q", got)
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{"success":true,"result":{"data":[{"pan":"4400111122223333"},{"pan":5500}]}}`)
	})

	got, err := c.ListCards(context.Background(), session, "1")
	if err != nil {
		t.Fatalf("ListCards: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
	if len(clk.Sleeps()) != 2 {
		t.Fatalf("expected 2 waits, got %v", clk.Sleeps())
	}
	if !got.Success || len(got.Cards) != 2 || got.Cards[0].PAN != "4400111122223333" || got.Cards[1].PAN != "5500" {
		t.Fatalf("unexpected cards %+v", got)
	}
}

func TestClient_ListCardsExhaustedIsTransient(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.ListCards(context.Background(), session, "1")
	if !domain.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
}

func TestClient_ListCardsUnauthorizedIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"success":false,"message":"token expired"}`)
	})

	_, err := c.ListCards(context.Background(), session, "1")
	if !domain.IsAuthFailure(err) {
		t.Fatalf("expected auth failure, got %v", err)
	}
	if strings.Contains(err.Error(), "token expired") {
		t.Fatalf("error message leaks upstream body: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 call, got %d", calls.Load())
	}
}

func TestClient_ListCardsNonArrayDataMeansNoCards(t *testing.T) {
	t.Parallel()

	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":true,"result":{"data":{"unexpected":true}}}`)
	})

	got, err := c.ListCards(context.Background(), session, "1")
	if err != nil {
		t.Fatalf("ListCards: %v", err)
	}
	if !got.Success || len(got.Cards) != 0 {
		t.Fatalf("unexpected cards %+v", got)
	}
}

func TestClient_StartQRParsesTerminal(t *testing.T) {
	t.Parallel()

	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/v1/external/customer/card/acquiring/qr/start" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["terminal"] != "9001" || body["pan"] != "4400" {
			t.Errorf("unexpected body %v", body)
		}
		_, _ = io.WriteString(w, `{"success":true,"result":{"data":{"terminal":{"route":"12","conductor":"(A) 123ABC02","cost":150,"code":9001}}}}`)
	})

	rec, err := c.StartQR(context.Background(), session, "9001", "4400")
	if err != nil {
		t.Fatalf("StartQR: %v", err)
	}
	if rec == nil {
		t.Fatalf("expected terminal record")
	}
	if rec.Route == nil || *rec.Route != "12" {
		t.Fatalf("route = %v", rec.Route)
	}
	if rec.Conductor == nil || *rec.Conductor != "(A) 123ABC02" {
		t.Fatalf("conductor = %v", rec.Conductor)
	}
	if rec.Code == nil || *rec.Code != "9001" {
		t.Fatalf("code = %v", rec.Code)
	}
	if rec.Terminal != nil {
		t.Fatalf("terminal = %v, want nil", *rec.Terminal)
	}
	if string(rec.Cost) != "150" {
		t.Fatalf("cost = %s", rec.Cost)
	}
	if len(rec.Raw) == 0 {
		t.Fatalf("expected raw terminal payload")
	}
}

func TestClient_StartQRWithoutTerminalReturnsNil(t *testing.T) {
	t.Parallel()

	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":true,"result":{"data":{"terminal":null}}}`)
	})

	rec, err := c.StartQR(context.Background(), session, "9001", "4400")
	if err != nil {
		t.Fatalf("StartQR: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record, got %+v", rec)
	}
}

func TestClient_StartQRIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c, clk := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.StartQR(context.Background(), session, "9001", "4400")
	if !domain.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 call, got %d", calls.Load())
	}
	if len(clk.Sleeps()) != 0 {
		t.Fatalf("unexpected waits %v", clk.Sleeps())
	}
}

func TestClient_MalformedBodyIsUpstreamError(t *testing.T) {
	t.Parallel()

	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<html>gateway</html>`)
	})

	_, err := c.StartQR(context.Background(), session, "9001", "4400")
	if !domain.IsUpstream(err) || domain.IsAuthFailure(err) {
		t.Fatalf("expected non-auth upstream error, got %v", err)
	}
}

func TestClient_ClientErrorIsUpstreamError(t *testing.T) {
	t.Parallel()

	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})

	_, err := c.StartQR(context.Background(), session, "9001", "4400")
	var upstream domain.UpstreamError
	if !errors.As(err, &upstream) || upstream.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected upstream 422, got %v", err)
	}
	if domain.IsTransient(err) {
		t.Fatalf("4xx must not be transient: %v", err)
	}
}

func TestClient_OversizedBodyIsRejected(t *testing.T) {
	t.Parallel()

	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, strings.Repeat("x", 64))
	})
	c.MaxResponseBytes = 16

	_, err := c.ListCards(context.Background(), session, "1")
	if !domain.IsUpstream(err) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestClient_TransportFailureIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := onay.NewWithOptions(testConfig(url), nil, nil, zerolog.Nop())
	_, err := c.SignIn(context.Background(), onayport.SignInRequest{})
	if !domain.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}
