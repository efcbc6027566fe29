package httpapi

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/oapi-codegen/nullable"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/onay-qr/onay-gateway/internal/app/session"
	"github.com/onay-qr/onay-gateway/internal/domain"
	"github.com/onay-qr/onay-gateway/internal/ports/out/idempotency"
)

const (
	routeQRStart = "/api/onay/qr-start"

	maxRequestBody = 64 << 10
)

// SessionService is the session behavior the HTTP layer depends on.
type SessionService interface {
	SignIn(ctx context.Context, force bool) (domain.TokenBundle, error)
	StartTrip(ctx context.Context, code string) (domain.Trip, error)
	Status() session.Status
}

type Server struct {
	Session SessionService
	// Idem is optional; without it Idempotency-Key headers are ignored.
	Idem idempotency.Store

	// idemMu serializes the meta record check-and-set of a key.
	idemMu sync.Mutex
	// flights coalesces concurrent qr-start requests carrying the same key and terminal.
	flights singleflight.Group
}

func NewServer(svc SessionService, idem idempotency.Store) *Server {
	return &Server{Session: svc, Idem: idem}
}

type qrStartRequest struct {
	Terminal json.RawMessage `json:"terminal"`
}

type qrStartData struct {
	Route    nullable.Nullable[string] `json:"route"`
	Plate    nullable.Nullable[string] `json:"plate"`
	Cost     nullable.Nullable[int64]  `json:"cost"`
	Terminal string                    `json:"terminal"`
	Pan      nullable.Nullable[string] `json:"pan"`
}

type qrStartResponse struct {
	Success bool        `json:"success"`
	Data    qrStartData `json:"data"`
}

type signInData struct {
	Token      string `json:"token"`
	ShortToken string `json:"shortToken"`
	DeviceID   string `json:"deviceId"`
}

type signInResponse struct {
	Success bool       `json:"success"`
	Data    signInData `json:"data"`
}

type sessionData struct {
	SignedIn  bool                         `json:"signedIn"`
	DeviceID  nullable.Nullable[string]    `json:"deviceId"`
	ExpiresAt nullable.Nullable[time.Time] `json:"expiresAt"`
}

type sessionResponse struct {
	Success bool        `json:"success"`
	Data    sessionData `json:"data"`
}

// StartQR handles POST /api/onay/qr-start.
//
// Idempotency handling:
// - Replay if same key+route+terminal
// - Reject if same key+route with a different terminal (409)
// - Concurrent requests with the same key+terminal share one ticketing call
func (s *Server) StartQR(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	var req qrStartRequest
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	terminal := terminalFromJSON(req.Terminal)
	if terminal == "" {
		writeError(w, r, http.StatusBadRequest, "terminal is required")
		return
	}

	key := idempotency.Key(strings.TrimSpace(r.Header.Get("Idempotency-Key")))
	if s.Idem != nil && key != "" {
		s.startQRIdempotent(w, r, key, terminal)
		return
	}

	trip, err := s.Session.StartTrip(r.Context(), terminal)
	if err != nil {
		writeServiceError(w, r, "qr-start", err)
		return
	}
	b, err := encodeQRStart(trip, terminal)
	if err != nil {
		writeServiceError(w, r, "qr-start", err)
		return
	}
	writeRaw(w, http.StatusOK, "application/json", b)
}

func (s *Server) startQRIdempotent(w http.ResponseWriter, r *http.Request, key idempotency.Key, terminal string) {
	ctx := r.Context()
	sum := sha256.Sum256([]byte(terminal))
	bodyHash := hex.EncodeToString(sum[:])
	metaFP := idempotency.Fingerprint{
		Key:    key,
		Method: http.MethodPost,
		Route:  routeQRStart,
	}

	conflict, err := s.claimKey(ctx, metaFP, bodyHash)
	if err != nil {
		writeServiceError(w, r, "qr-start", err)
		return
	}
	if conflict {
		writeError(w, r, http.StatusConflict, "idempotency key reuse with different payload")
		return
	}

	respFP := metaFP
	respFP.BodyHash = bodyHash
	if rec, ok := s.storedResponse(ctx, respFP); ok {
		zerolog.Ctx(ctx).Debug().Str("idempotency_key", string(key)).Msg("replaying qr-start response")
		w.Header().Set("Idempotent-Replayed", "true")
		writeRaw(w, rec.StatusCode, rec.ContentType, rec.Body)
		return
	}

	// The flight outlives the request so a success is always stored for replay.
	detached := context.WithoutCancel(ctx)
	ch := s.flights.DoChan(string(key)+"\x00"+bodyHash, func() (any, error) {
		if rec, ok := s.storedResponse(detached, respFP); ok {
			return rec.Body, nil
		}
		trip, err := s.Session.StartTrip(detached, terminal)
		if err != nil {
			return nil, err
		}
		b, err := encodeQRStart(trip, terminal)
		if err != nil {
			return nil, err
		}
		if err := s.Idem.Put(detached, respFP, idempotency.Record{
			StatusCode:  http.StatusOK,
			ContentType: "application/json",
			Body:        b,
		}); err != nil {
			zerolog.Ctx(detached).Warn().Err(err).Msg("storing qr-start response")
		}
		return b, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			writeServiceError(w, r, "qr-start", res.Err)
			return
		}
		writeRaw(w, http.StatusOK, "application/json", res.Val.([]byte))
	case <-ctx.Done():
		writeServiceError(w, r, "qr-start", ctx.Err())
	}
}

// claimKey records bodyHash as the payload of the key on first use and reports a
// conflict when the key was first used with another payload.
func (s *Server) claimKey(ctx context.Context, metaFP idempotency.Fingerprint, bodyHash string) (bool, error) {
	s.idemMu.Lock()
	defer s.idemMu.Unlock()

	meta, ok, err := s.Idem.Get(ctx, metaFP)
	if err != nil {
		return false, err
	}
	if ok {
		return string(meta.Body) != bodyHash, nil
	}
	return false, s.Idem.Put(ctx, metaFP, idempotency.Record{
		ContentType: "text/plain",
		Body:        []byte(bodyHash),
	})
}

func (s *Server) storedResponse(ctx context.Context, fp idempotency.Fingerprint) (idempotency.Record, bool) {
	rec, ok, err := s.Idem.Get(ctx, fp)
	if err != nil || !ok || rec.StatusCode != http.StatusOK {
		return idempotency.Record{}, false
	}
	return rec, true
}

func encodeQRStart(trip domain.Trip, terminal string) ([]byte, error) {
	b, err := json.Marshal(qrStartResponse{Success: true, Data: qrStartDataFromTrip(trip, terminal)})
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// SignIn handles POST /api/onay/sign-in: a forced credential exchange.
func (s *Server) SignIn(w http.ResponseWriter, r *http.Request) {
	b, err := s.Session.SignIn(r.Context(), true)
	if err != nil {
		writeServiceError(w, r, "sign-in", err)
		return
	}
	writeJSON(w, http.StatusOK, signInResponse{
		Success: true,
		Data: signInData{
			Token:      b.Token,
			ShortToken: b.ShortToken,
			DeviceID:   b.DeviceID,
		},
	})
}

// SessionStatus handles GET /api/onay/session.
func (s *Server) SessionStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.Session.Status()
	data := sessionData{
		SignedIn:  st.SignedIn,
		DeviceID:  nullable.NewNullNullable[string](),
		ExpiresAt: nullable.NewNullNullable[time.Time](),
	}
	if st.DeviceID != "" {
		data.DeviceID = nullable.NewNullableWithValue(st.DeviceID)
	}
	if st.ExpiresAt != nil {
		data.ExpiresAt = nullable.NewNullableWithValue(st.ExpiresAt.UTC())
	}
	writeJSON(w, http.StatusOK, sessionResponse{Success: true, Data: data})
}

// terminalFromJSON accepts the terminal as a JSON string, number or true. Anything
// else, including 0 and false, counts as missing.
func terminalFromJSON(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return strings.TrimSpace(s)
	case 't':
		return "true"
	case 'n', 'f', '{', '[':
		return ""
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return ""
	}
	if f, err := n.Float64(); err == nil && f == 0 {
		return ""
	}
	return n.String()
}

func qrStartDataFromTrip(t domain.Trip, requested string) qrStartData {
	d := qrStartData{
		Route:    nullableString(t.Route),
		Plate:    nullableString(t.Plate),
		Cost:     nullable.NewNullNullable[int64](),
		Terminal: string(t.TerminalCode),
		Pan:      nullable.NewNullNullable[string](),
	}
	if t.Cost != nil {
		d.Cost = nullable.NewNullableWithValue(*t.Cost)
	}
	if d.Terminal == "" {
		d.Terminal = requested
	}
	if t.PaymentID != "" {
		d.Pan = nullable.NewNullableWithValue(string(t.PaymentID))
	}
	return d
}

func nullableString(s *string) nullable.Nullable[string] {
	if s == nil || *s == "" {
		return nullable.NewNullNullable[string]()
	}
	return nullable.NewNullableWithValue(*s)
}
