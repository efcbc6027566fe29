// Package gatewayclient is the Go client of the gateway's public HTTP API, for
// UI-facing callers. Every call absorbs transient 5xx/network failures through a
// retry.Invoker.
package gatewayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/onay-qr/onay-gateway/internal/platform/metrics"
	"github.com/onay-qr/onay-gateway/internal/platform/retry"
)

const maxResponseBytes = 1 << 20

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Options struct {
	// HTTPClient defaults to an *http.Client with a 30s timeout.
	HTTPClient HTTPDoer
	// Policy defaults to retry.DefaultPolicy (3 attempts, 3s apart).
	Policy  *retry.Policy
	Sleeper retry.Sleeper
	// NewIdempotencyKey defaults to random UUIDs.
	NewIdempotencyKey func() string
	Logger            zerolog.Logger
}

type Client struct {
	baseURL string
	http    HTTPDoer
	invoker *retry.Invoker
	newKey  func() string
	log     zerolog.Logger
}

func New(baseURL string, opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	policy := retry.DefaultPolicy()
	if opts.Policy != nil {
		policy = *opts.Policy
	}
	if opts.NewIdempotencyKey == nil {
		opts.NewIdempotencyKey = uuid.NewString
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    opts.HTTPClient,
		invoker: retry.NewWithSleeper(policy, opts.Sleeper),
		newKey:  opts.NewIdempotencyKey,
		log:     opts.Logger,
	}
	c.invoker.OnRetry = func(attempt int, status int, err error) {
		metrics.RecordRetry("gateway-client")
		c.log.Warn().Int("attempt", attempt).Int("status", status).AnErr("error", err).Msg("retrying gateway call")
	}
	return c
}

// APIError is a failed gateway call: a non-2xx status or success=false.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("gateway: request rejected (%d)", e.StatusCode)
}

type Trip struct {
	Route    *string `json:"route"`
	Plate    *string `json:"plate"`
	Cost     *int64  `json:"cost"`
	Terminal string  `json:"terminal"`
	Pan      *string `json:"pan"`
}

// Empty reports a reply that carries neither route nor plate. The UI treats it as
// the service being temporarily unavailable.
func (t Trip) Empty() bool {
	return (t.Route == nil || *t.Route == "") && (t.Plate == nil || *t.Plate == "")
}

// Fare renders the cost in whole tenge, e.g. 12000 -> "120₸". ok is false when the
// cost is unknown.
func (t Trip) Fare() (string, bool) {
	if t.Cost == nil {
		return "", false
	}
	return fmt.Sprintf("%d₸", int64(math.Round(float64(*t.Cost)/100))), true
}

type Session struct {
	Token      string `json:"token"`
	ShortToken string `json:"shortToken"`
	DeviceID   string `json:"deviceId"`
}

type SessionStatus struct {
	SignedIn  bool       `json:"signedIn"`
	DeviceID  *string    `json:"deviceId"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

// StartQR starts ticketing on terminal. One idempotency key is sent on every attempt
// of the call, so a retry after a lost response is answered from the gateway's replay.
func (c *Client) StartQR(ctx context.Context, terminal string) (Trip, error) {
	payload, err := json.Marshal(map[string]string{"terminal": terminal})
	if err != nil {
		return Trip{}, err
	}
	var out Trip
	err = c.call(ctx, http.MethodPost, "/api/onay/qr-start", payload, http.Header{"Idempotency-Key": []string{c.newKey()}}, &out)
	return out, err
}

// SignIn forces the gateway to obtain a new backend session.
func (c *Client) SignIn(ctx context.Context) (Session, error) {
	var out Session
	err := c.call(ctx, http.MethodPost, "/api/onay/sign-in", nil, nil, &out)
	return out, err
}

func (c *Client) Status(ctx context.Context) (SessionStatus, error) {
	var out SessionStatus
	err := c.call(ctx, http.MethodGet, "/api/onay/session", nil, nil, &out)
	return out, err
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) call(ctx context.Context, method, path string, payload []byte, headers http.Header, out any) error {
	resp, err := c.invoker.Do(ctx, func(ctx context.Context) (*http.Response, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, err
		}
		for k, v := range headers {
			req.Header[k] = append([]string(nil), v...)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return c.http.Do(req)
	})
	if err != nil {
		return fmt.Errorf("gateway %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("gateway %s %s: read body: %w", method, path, err)
	}
	env, parsed := parseEnvelope(raw)
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !ok || !parsed || !env.Success {
		msg := env.Message
		if msg == "" {
			msg = fmt.Sprintf("gateway: request rejected (%d)", resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("gateway %s %s: decode data: %w", method, path, err)
	}
	return nil
}

// parseEnvelope accepts JSON whatever the content type; a non-JSON body becomes the
// message.
func parseEnvelope(raw []byte) (envelope, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return envelope{}, false
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{Message: string(raw)}, false
	}
	return env, true
}
