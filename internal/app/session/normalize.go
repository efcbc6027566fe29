package session

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/onay-qr/onay-gateway/internal/domain"
	"github.com/onay-qr/onay-gateway/internal/ports/out/onay"
)

// normalizeTrip maps the terminal record of a ticketing-start reply to a Trip.
// A reply without a terminal record is rejected.
func normalizeTrip(rec *onay.TerminalRecord, requested domain.TerminalCode, pan domain.PaymentID, keepRaw bool) (domain.Trip, error) {
	if rec == nil {
		return domain.Trip{}, domain.UpstreamError{Op: "qr-start", Msg: "response has no terminal record"}
	}

	trip := domain.Trip{
		Route:        nonEmpty(rec.Route),
		Cost:         parseCost(rec.Cost),
		TerminalCode: requested,
		PaymentID:    pan,
	}
	if rec.Conductor != nil {
		if plate := domain.NormalizePlate(*rec.Conductor); plate != "" {
			trip.Plate = &plate
		}
	}
	for _, c := range []*string{rec.Code, rec.Terminal} {
		if v := nonEmpty(c); v != nil {
			trip.TerminalCode = domain.NormalizeTerminalCode(*v)
			break
		}
	}
	if keepRaw && len(rec.Raw) > 0 {
		trip.RawTerminal = append(json.RawMessage(nil), rec.Raw...)
	}
	return trip, nil
}

// parseCost accepts an integral JSON number or a numeric string. Anything else
// leaves the cost absent.
func parseCost(raw json.RawMessage) *int64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	var text string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil
		}
		text = strings.TrimSpace(text)
	} else {
		text = string(raw)
	}
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return &n
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return nil
	}
	if math.Abs(f) >= 1<<53 {
		return nil
	}
	n := int64(f)
	return &n
}

func nonEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := *s
	return &v
}

func rawOrNull(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}
