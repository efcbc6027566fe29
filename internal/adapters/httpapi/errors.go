package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/oapi-codegen/nullable"
	"github.com/rs/zerolog"

	"github.com/onay-qr/onay-gateway/internal/domain"
)

type errorResponse struct {
	Success   bool                      `json:"success"`
	Message   string                    `json:"message"`
	RequestID nullable.Nullable[string] `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	er := errorResponse{Success: false, Message: message}
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		er.RequestID = nullable.NewNullableWithValue(rid)
	}
	writeJSON(w, status, er)
}

const (
	msgUnavailable = "onay: service temporarily unavailable"
	msgCanceled    = "request canceled"
	msgInternal    = "internal error"
)

// writeServiceError maps a session failure to the boundary contract: validation
// failures are 400, everything else is 500. The message never carries upstream bodies,
// addresses or transport detail; those stay in the log.
func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := http.StatusInternalServerError
	var ve domain.ValidationError
	if errors.As(err, &ve) {
		status = http.StatusBadRequest
	}

	kind := errorKind(err)
	ev := zerolog.Ctx(r.Context()).Error()
	if status < http.StatusInternalServerError {
		ev = zerolog.Ctx(r.Context()).Warn()
	}
	ev.Err(err).Str("op", op).Str("kind", kind).Msg("request failed")

	writeError(w, r, status, publicMessage(kind, err))
}

func publicMessage(kind string, err error) string {
	switch kind {
	case "transient":
		return msgUnavailable
	case "canceled":
		return msgCanceled
	case "internal":
		return msgInternal
	default:
		return err.Error()
	}
}

func errorKind(err error) string {
	switch {
	case domain.IsValidation(err):
		return "validation"
	case domain.IsAuthentication(err):
		return "authentication"
	case domain.IsNoPaymentMethod(err):
		return "no_payment_method"
	case domain.IsTransient(err):
		return "transient"
	case domain.IsUpstream(err):
		return "upstream"
	case domain.IsConfiguration(err):
		return "configuration"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}

func writeRaw(w http.ResponseWriter, status int, contentType string, b []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
