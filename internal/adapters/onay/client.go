package onay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/onay-qr/onay-gateway/internal/domain"
	"github.com/onay-qr/onay-gateway/internal/platform/config"
	"github.com/onay-qr/onay-gateway/internal/platform/metrics"
	"github.com/onay-qr/onay-gateway/internal/platform/retry"
	onayport "github.com/onay-qr/onay-gateway/internal/ports/out/onay"
)

const (
	pathSignIn  = "/v1/external/user/sign-in"
	pathCards   = "/v2/external/customer/cards"
	pathQRStart = "/v1/external/customer/card/acquiring/qr/start"

	endpointSignIn  = "sign-in"
	endpointCards   = "cards"
	endpointQRStart = "qr-start"

	defaultMaxResponseBytes int64 = 1 << 20
	// Upper bound of an upstream body kept on UpstreamError for verbose logs.
	maxErrorBodyBytes = 2 << 10
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client speaks the ticketing backend wire protocol. It holds no session state.
type Client struct {
	cfg     config.OnayConfig
	baseURL string
	http    HTTPDoer
	reads   *retry.Invoker
	log     zerolog.Logger

	MaxResponseBytes int64
}

var _ onayport.Backend = (*Client)(nil)

func New(cfg config.OnayConfig, log zerolog.Logger) *Client {
	return NewWithOptions(cfg, nil, nil, log)
}

// NewWithOptions allows tests to inject the HTTP client and the retry invoker used
// for idempotent reads. nil values select the defaults derived from cfg.
func NewWithOptions(cfg config.OnayConfig, httpClient HTTPDoer, reads *retry.Invoker, log zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	if reads == nil {
		reads = retry.New(retry.Policy{Attempts: cfg.ReadRetryAttempts, Delay: cfg.ReadRetryDelay})
	}
	c := &Client{
		cfg:              cfg,
		baseURL:          strings.TrimRight(cfg.BaseURL, "/"),
		http:             httpClient,
		reads:            reads,
		log:              log.With().Str("component", "onay-client").Logger(),
		MaxResponseBytes: defaultMaxResponseBytes,
	}
	if reads.OnRetry == nil {
		reads.OnRetry = func(attempt int, status int, err error) {
			metrics.RecordRetry("onay-" + endpointCards)
			c.log.Debug().Int("attempt", attempt).Int("status", status).AnErr("error", err).Msg("retrying card listing")
		}
	}
	return c
}

func (c *Client) SignIn(ctx context.Context, req onayport.SignInRequest) (onayport.SignInResult, error) {
	h := c.baseHeaders()
	h.Set("Content-Type", "application/json")
	h.Set("X-Application-Token", bearer(c.cfg.AppToken))
	h.Set("X-Ma-D", c.cfg.DeviceID)

	body, err := c.send(ctx, call{
		endpoint: endpointSignIn,
		method:   http.MethodPut,
		path:     pathSignIn,
		headers:  h,
		payload: signInPayload{
			PhoneNumber: req.PhoneNumber,
			Password:    req.Password,
			DeviceOS:    req.DeviceOS,
			PushToken:   req.PushToken,
		},
	})
	if err != nil {
		return onayport.SignInResult{}, err
	}

	var env envelope[*signInData]
	if err := json.Unmarshal(body, &env); err != nil {
		return onayport.SignInResult{}, malformed(endpointSignIn, body, err)
	}
	if env.Result.Data == nil {
		return onayport.SignInResult{}, nil
	}
	return onayport.SignInResult{
		Token:      env.Result.Data.Token,
		ShortToken: env.Result.Data.ShortToken,
		DeviceID:   env.Result.Data.D,
	}, nil
}

func (c *Client) ListCards(ctx context.Context, session domain.TokenBundle, cityID string) (onayport.CardList, error) {
	body, err := c.send(ctx, call{
		endpoint:   endpointCards,
		method:     http.MethodGet,
		path:       pathCards,
		query:      url.Values{"cityId": []string{cityID}},
		headers:    c.sessionHeaders(session),
		idempotent: true,
	})
	if err != nil {
		return onayport.CardList{}, err
	}

	var env envelope[json.RawMessage]
	if err := json.Unmarshal(body, &env); err != nil {
		return onayport.CardList{}, malformed(endpointCards, body, err)
	}
	out := onayport.CardList{Success: env.Success != nil && *env.Success}

	// Anything but an array is treated as "no cards".
	var cards []cardData
	if err := json.Unmarshal(env.Result.Data, &cards); err == nil {
		for _, card := range cards {
			out.Cards = append(out.Cards, onayport.Card{PAN: domain.PaymentID(card.PAN)})
		}
	}
	return out, nil
}

func (c *Client) StartQR(ctx context.Context, session domain.TokenBundle, terminal domain.TerminalCode, pan domain.PaymentID) (*onayport.TerminalRecord, error) {
	body, err := c.send(ctx, call{
		endpoint: endpointQRStart,
		method:   http.MethodPut,
		path:     pathQRStart,
		headers:  c.sessionHeaders(session),
		payload:  qrStartPayload{Terminal: string(terminal), PAN: string(pan)},
	})
	if err != nil {
		return nil, err
	}

	var env envelope[*qrStartData]
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, malformed(endpointQRStart, body, err)
	}
	if env.Result.Data == nil || isNull(env.Result.Data.Terminal) {
		return nil, nil
	}
	raw := env.Result.Data.Terminal
	var t terminalData
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, malformed(endpointQRStart, body, err)
	}
	return &onayport.TerminalRecord{
		Route:     t.Route.ptr(),
		Conductor: t.Conductor.ptr(),
		Cost:      t.Cost,
		Code:      t.Code.ptr(),
		Terminal:  t.Terminal.ptr(),
		Raw:       append(json.RawMessage(nil), raw...),
	}, nil
}

type call struct {
	endpoint string
	method   string
	path     string
	query    url.Values
	headers  http.Header
	payload  any
	// idempotent calls go through the read retry invoker.
	idempotent bool
}

// send executes one call and returns the body of a 2xx reply. Non-2xx replies are
// mapped to domain errors.
func (c *Client) send(ctx context.Context, in call) ([]byte, error) {
	u := c.baseURL + in.path
	if len(in.query) > 0 {
		u += "?" + in.query.Encode()
	}
	var payload []byte
	if in.payload != nil {
		b, err := json.Marshal(in.payload)
		if err != nil {
			return nil, fmt.Errorf("onay %s: encode request: %w", in.endpoint, err)
		}
		payload = b
	}

	op := func(ctx context.Context) (*http.Response, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, in.method, u, body)
		if err != nil {
			return nil, err
		}
		req.Header = in.headers.Clone()

		startedAt := time.Now()
		resp, err := c.http.Do(req)
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		metrics.RecordUpstream(in.endpoint, status, time.Since(startedAt))
		return resp, err
	}

	var (
		resp *http.Response
		err  error
	)
	if in.idempotent {
		resp, err = c.reads.Do(ctx, op)
	} else {
		resp, err = op(ctx)
	}
	if err != nil {
		return nil, domain.TransientNetworkError{Op: in.endpoint, Err: err}
	}
	defer resp.Body.Close()

	limit := c.MaxResponseBytes
	if limit <= 0 {
		limit = defaultMaxResponseBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, domain.TransientNetworkError{Op: in.endpoint, StatusCode: resp.StatusCode, Err: err}
	}
	if int64(len(body)) > limit {
		return nil, domain.UpstreamError{Op: in.endpoint, StatusCode: resp.StatusCode, Msg: fmt.Sprintf("response body exceeds %d bytes", limit)}
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, domain.TransientNetworkError{Op: in.endpoint, StatusCode: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, domain.UpstreamError{Op: in.endpoint, StatusCode: resp.StatusCode, Body: truncate(body)}
	}
	return body, nil
}

// baseHeaders are sent on every call, mirroring the mobile app.
func (c *Client) baseHeaders() http.Header {
	h := http.Header{}
	h.Set("X-Ma-Os", c.cfg.OS)
	h.Set("X-Ma-Version", c.cfg.Version)
	h.Set("User-Agent", c.cfg.UserAgent)
	return h
}

func (c *Client) sessionHeaders(session domain.TokenBundle) http.Header {
	h := c.baseHeaders()
	h.Set("Content-Type", "application/json")
	h.Set("X-Short-Token", session.ShortToken)
	h.Set("X-Ma-D", c.cfg.DeviceID)
	return h
}

func bearer(token string) string {
	if strings.HasPrefix(token, "Bearer ") {
		return token
	}
	return "Bearer " + token
}

func malformed(endpoint string, body []byte, err error) error {
	return domain.UpstreamError{Op: endpoint, Msg: "malformed response", Body: truncate(body), Err: err}
}

func truncate(b []byte) []byte {
	if len(b) > maxErrorBodyBytes {
		b = b[:maxErrorBodyBytes]
	}
	return append([]byte(nil), b...)
}
