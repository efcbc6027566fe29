package itest

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/onay-qr/onay-gateway/internal/adapters/gatewayclient"
	"github.com/onay-qr/onay-gateway/internal/adapters/httpapi"
	memclock "github.com/onay-qr/onay-gateway/internal/adapters/memory/clock"
	memidempotency "github.com/onay-qr/onay-gateway/internal/adapters/memory/idempotency"
	"github.com/onay-qr/onay-gateway/internal/adapters/memory/onaybackend"
	"github.com/onay-qr/onay-gateway/internal/adapters/onay"
	"github.com/onay-qr/onay-gateway/internal/adapters/onay/onay_testutil"
	"github.com/onay-qr/onay-gateway/internal/app/session"
	"github.com/onay-qr/onay-gateway/internal/platform/config"
	"github.com/onay-qr/onay-gateway/internal/platform/retry"
)

// testServer wires the whole stack over real HTTP: an in-memory ticketing backend
// behind its wire protocol, the backend client, the session service, the gateway
// router and the gateway client.
type testServer struct {
	baseURL string
	client  *http.Client

	backend *onaybackend.Backend
	clock   *memclock.ManualClock
	gateway *gatewayclient.Client
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	clk := memclock.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	backend := onaybackend.NewBackendWithClock(clk)
	upstream := onay_testutil.NewServer(backend)
	t.Cleanup(upstream.Close)

	cfg := config.DefaultOnayConfig()
	cfg.BaseURL = upstream.URL
	cfg.AppToken = "itest-app-token"
	cfg.DeviceID = "itest-device"
	cfg.PhoneNumber = "77001234567"
	cfg.Password = "itest-password"
	cfg.PushToken = "itest-push"

	reads := retry.NewWithSleeper(retry.Policy{Attempts: cfg.ReadRetryAttempts, Delay: cfg.ReadRetryDelay}, clk)
	onayClient := onay.NewWithOptions(cfg, upstream.Client(), reads, zerolog.Nop())

	svc, err := session.NewService(onayClient, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	idem := memidempotency.NewStoreWithTTL(10*time.Minute, clk)
	handler := httpapi.NewRouterWithOptions(httpapi.NewServer(svc, idem), httpapi.RouterOptions{
		Logger:        zerolog.Nop(),
		PublicBaseURL: "http://itest.local",
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &testServer{
		baseURL: srv.URL,
		client:  srv.Client(),
		backend: backend,
		clock:   clk,
		gateway: gatewayclient.New(srv.URL, gatewayclient.Options{HTTPClient: srv.Client(), Sleeper: clk}),
	}
}

func (s *testServer) url(path string) string {
	if strings.HasPrefix(path, "/") {
		return s.baseURL + path
	}
	return s.baseURL + "/" + path
}

func (s *testServer) doJSON(t *testing.T, method string, path string, headers map[string]string, body any) (int, []byte, http.Header) {
	t.Helper()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.url(path), r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out, resp.Header
}

type failureResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	RequestID string `json:"requestId"`
}

func mustUnmarshal[T any](t *testing.T, b []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v\nbody=%s", err, string(b))
	}
	return out
}

func requireFailure(t *testing.T, status int, body []byte, wantStatus int, wantMessage string) {
	t.Helper()
	if status != wantStatus {
		t.Fatalf("status=%d want=%d body=%s", status, wantStatus, string(body))
	}
	got := mustUnmarshal[failureResponse](t, body)
	if got.Success {
		t.Fatalf("expected success=false body=%s", string(body))
	}
	if wantMessage != "" && got.Message != wantMessage {
		t.Fatalf("message=%q want=%q", got.Message, wantMessage)
	}
}

func requireHeaderPresent(t *testing.T, h http.Header, key string) {
	t.Helper()
	if strings.TrimSpace(h.Get(key)) == "" {
		t.Fatalf("expected header %q to be present", key)
	}
}
