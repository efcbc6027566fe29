// Package session owns the ticketing backend credential and exposes the two domain
// operations built on it: sign-in and trip start.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/onay-qr/onay-gateway/internal/domain"
	"github.com/onay-qr/onay-gateway/internal/platform/auth/tokeninfo"
	"github.com/onay-qr/onay-gateway/internal/platform/config"
	"github.com/onay-qr/onay-gateway/internal/platform/metrics"
	"github.com/onay-qr/onay-gateway/internal/platform/redact"
	"github.com/onay-qr/onay-gateway/internal/ports/out/onay"
)

const (
	flightSignIn  = "sign-in"
	flightRefresh = "refresh"

	maxLoggedBody = 512
)

// Service is the single authenticated channel to the ticketing backend. One instance
// is shared by every request of the process.
// It is safe for concurrent use.
type Service struct {
	backend onay.Backend
	cfg     config.OnayConfig
	log     zerolog.Logger

	mu     sync.RWMutex
	bundle *domain.TokenBundle

	flights singleflight.Group
}

func NewService(backend onay.Backend, cfg config.OnayConfig, log zerolog.Logger) (*Service, error) {
	if backend == nil {
		return nil, errors.New("session: backend is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		backend: backend,
		cfg:     cfg,
		log:     log.With().Str("component", "onay-session").Logger(),
	}, nil
}

// SignIn returns the cached session unless force is set or no session exists, in which
// case it performs one credential exchange and replaces the cache.
//
// Concurrent exchanges are coalesced. The exchange itself is not cancelled when ctx is;
// a caller that gives up only stops waiting for it.
func (s *Service) SignIn(ctx context.Context, force bool) (domain.TokenBundle, error) {
	if !force {
		if b, ok := s.cached(); ok {
			return b, nil
		}
		return s.exchange(ctx, flightSignIn, func(ctx context.Context) (domain.TokenBundle, error) {
			if b, ok := s.cached(); ok {
				return b, nil
			}
			return s.signIn(ctx, false)
		})
	}
	return s.exchange(ctx, flightRefresh, func(ctx context.Context) (domain.TokenBundle, error) {
		return s.signIn(ctx, true)
	})
}

// refresh replaces a session the backend rejected. When another caller already
// replaced it, the newer session is reused without a network call.
func (s *Service) refresh(ctx context.Context, stale domain.TokenBundle) (domain.TokenBundle, error) {
	return s.exchange(ctx, flightRefresh, func(ctx context.Context) (domain.TokenBundle, error) {
		if b, ok := s.cached(); ok && b != stale {
			return b, nil
		}
		s.diag().Msg("auth refresh: forcing sign-in")
		return s.signIn(ctx, true)
	})
}

func (s *Service) exchange(ctx context.Context, key string, fn func(context.Context) (domain.TokenBundle, error)) (domain.TokenBundle, error) {
	detached := context.WithoutCancel(ctx)
	ch := s.flights.DoChan(key, func() (any, error) {
		return fn(detached)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return domain.TokenBundle{}, res.Err
		}
		return res.Val.(domain.TokenBundle), nil
	case <-ctx.Done():
		return domain.TokenBundle{}, ctx.Err()
	}
}

func (s *Service) signIn(ctx context.Context, force bool) (b domain.TokenBundle, err error) {
	defer func() { metrics.RecordSignIn(force, err) }()

	s.diag().
		Bool("force", force).
		Str("phone", redact.Mask(s.cfg.PhoneNumber)).
		Str("device_id", redact.Mask(s.cfg.DeviceID)).
		Msg("sign-in request")

	prev, _ := s.cached()
	res, err := s.backend.SignIn(ctx, onay.SignInRequest{
		PhoneNumber: s.cfg.PhoneNumber,
		Password:    s.cfg.Password,
		PushToken:   s.cfg.PushToken,
		DeviceOS:    s.cfg.DeviceOS(),
	})
	if err == nil && (res.Token == "" || res.ShortToken == "") {
		err = domain.AuthenticationError{Msg: "onay: sign-in response has no token"}
	}
	if err != nil {
		if force {
			s.discard(prev)
		}
		s.logFailure("sign-in failed", err)
		return domain.TokenBundle{}, err
	}

	b = domain.TokenBundle{Token: res.Token, ShortToken: res.ShortToken, DeviceID: res.DeviceID}
	if b.DeviceID == "" {
		b.DeviceID = s.cfg.DeviceID
	}
	s.mu.Lock()
	s.bundle = &b
	s.mu.Unlock()

	s.diag().
		Str("device_id", redact.Mask(b.DeviceID)).
		Str("short_token", redact.Mask(b.ShortToken)).
		Msg("sign-in success")
	return b, nil
}

// StartTrip starts ticketing on the terminal identified by code with the account's
// first linked card and returns the normalized trip.
//
// A request performs at most one forced re-sign-in, whichever backend call is the
// first to reject the session. The backend calls are not cancelled with ctx: a caller
// that gives up stops waiting, the calls run to completion bounded by the transport
// timeout, and their result is discarded.
func (s *Service) StartTrip(ctx context.Context, code string) (domain.Trip, error) {
	terminal := domain.NormalizeTerminalCode(code)
	if terminal == "" {
		return domain.Trip{}, domain.ValidationError{Field: "terminal", Msg: "terminal is required"}
	}

	type result struct {
		trip domain.Trip
		err  error
	}
	done := make(chan result, 1)
	detached := context.WithoutCancel(ctx)
	go func() {
		trip, err := s.startTrip(detached, terminal)
		done <- result{trip: trip, err: err}
	}()

	select {
	case res := <-done:
		return res.trip, res.err
	case <-ctx.Done():
		s.diag().Str("terminal", string(terminal)).Msg("qr-start caller gone, result discarded")
		return domain.Trip{}, ctx.Err()
	}
}

func (s *Service) startTrip(ctx context.Context, terminal domain.TerminalCode) (domain.Trip, error) {
	call := &authorizedCall{svc: s}

	var pan domain.PaymentID
	err := call.do(ctx, func(sess domain.TokenBundle) error {
		var err error
		pan, err = s.paymentID(ctx, sess)
		return err
	})
	if err != nil {
		return domain.Trip{}, err
	}

	var rec *onay.TerminalRecord
	err = call.do(ctx, func(sess domain.TokenBundle) error {
		s.diag().
			Str("terminal", string(terminal)).
			Str("pan", redact.Mask(string(pan))).
			Msg("qr-start request")
		var err error
		rec, err = s.backend.StartQR(ctx, sess, terminal, pan)
		return err
	})
	if err != nil {
		s.logFailure("qr-start failed", err)
		return domain.Trip{}, err
	}

	trip, err := normalizeTrip(rec, terminal, pan, s.cfg.Verbose)
	if err != nil {
		s.logFailure("qr-start response rejected", err)
		return domain.Trip{}, err
	}
	s.diag().
		Str("terminal", string(trip.TerminalCode)).
		Bool("has_route", trip.Route != nil).
		Bool("has_cost", trip.Cost != nil).
		RawJSON("raw_terminal", rawOrNull(trip.RawTerminal)).
		Msg("qr-start success")
	return trip, nil
}

func (s *Service) paymentID(ctx context.Context, sess domain.TokenBundle) (domain.PaymentID, error) {
	list, err := s.backend.ListCards(ctx, sess, s.cfg.CityID)
	if err != nil {
		return "", err
	}
	if !list.Success {
		return "", domain.UpstreamError{Op: "cards", Msg: "card listing was not successful"}
	}
	if len(list.Cards) == 0 || strings.TrimSpace(string(list.Cards[0].PAN)) == "" {
		return "", domain.NoPaymentMethodError{}
	}
	pan := list.Cards[0].PAN
	s.diag().Str("pan", redact.Mask(string(pan))).Msg("pan retrieved")
	return pan, nil
}

// authorizedCall runs backend calls with the current session and spends the one-shot
// refresh budget of a request on the first auth failure.
type authorizedCall struct {
	svc       *Service
	refreshed bool
}

func (c *authorizedCall) do(ctx context.Context, fn func(domain.TokenBundle) error) error {
	sess, err := c.svc.SignIn(ctx, false)
	if err != nil {
		return err
	}
	err = fn(sess)
	if !domain.IsAuthFailure(err) {
		return err
	}
	if c.refreshed {
		return domain.AuthenticationError{Msg: "onay: session rejected after re-sign-in", Err: err}
	}
	c.refreshed = true

	sess, err = c.svc.refresh(ctx, sess)
	if err != nil {
		return err
	}
	err = fn(sess)
	if domain.IsAuthFailure(err) {
		return domain.AuthenticationError{Msg: "onay: session rejected after re-sign-in", Err: err}
	}
	return err
}

// Status is a read-only view of the cached session.
type Status struct {
	SignedIn bool
	// DeviceID is masked.
	DeviceID  string
	ExpiresAt *time.Time
}

func (s *Service) Status() Status {
	b, ok := s.cached()
	if !ok {
		return Status{}
	}
	st := Status{SignedIn: true, DeviceID: redact.Mask(b.DeviceID)}
	if exp, ok := tokeninfo.Expiry(b.Token); ok {
		st.ExpiresAt = &exp
	}
	return st
}

func (s *Service) cached() (domain.TokenBundle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.bundle == nil {
		return domain.TokenBundle{}, false
	}
	return *s.bundle, true
}

// discard drops the cached session if it is still prev.
func (s *Service) discard(prev domain.TokenBundle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bundle != nil && *s.bundle == prev {
		s.bundle = nil
	}
}

// diag returns a log event only in verbose mode. zerolog ignores calls on a nil event.
func (s *Service) diag() *zerolog.Event {
	if !s.cfg.Verbose {
		return nil
	}
	return s.log.Info()
}

func (s *Service) logFailure(msg string, err error) {
	ev := s.diag()
	if ev == nil {
		return
	}
	var upstream domain.UpstreamError
	if errors.As(err, &upstream) {
		ev = ev.Int("status", upstream.StatusCode)
		if len(upstream.Body) > 0 {
			ev = ev.Str("body", truncate(string(upstream.Body), maxLoggedBody))
		}
	}
	var transient domain.TransientNetworkError
	if errors.As(err, &transient) && transient.StatusCode != 0 {
		ev = ev.Int("status", transient.StatusCode)
	}
	ev.Err(err).Msg(msg)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
