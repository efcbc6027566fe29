// Package onay_testutil serves a ticketing backend implementation over the real wire
// contract, for adapter tests, end-to-end tests and the local development server.
package onay_testutil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/onay-qr/onay-gateway/internal/domain"
	onayport "github.com/onay-qr/onay-gateway/internal/ports/out/onay"
)

const (
	PathSignIn  = "/v1/external/user/sign-in"
	PathCards   = "/v2/external/customer/cards"
	PathQRStart = "/v1/external/customer/card/acquiring/qr/start"
)

// NewServer starts an httptest server for backend. Callers must Close it.
func NewServer(backend onayport.Backend) *httptest.Server {
	return httptest.NewServer(Handler(backend))
}

// Handler exposes backend on the three endpoints the gateway consumes. Requests
// missing the headers the mobile app always sends are rejected with 400.
func Handler(backend onayport.Backend) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("PUT "+PathSignIn, func(w http.ResponseWriter, r *http.Request) {
		if !hasClientHeaders(w, r, "X-Ma-D") {
			return
		}
		if !strings.HasPrefix(r.Header.Get("X-Application-Token"), "Bearer ") {
			writeFailure(w, http.StatusUnauthorized, "invalid application token")
			return
		}
		var body struct {
			PhoneNumber string `json:"phoneNumber"`
			Password    string `json:"password"`
			DeviceOS    int    `json:"deviceOs"`
			PushToken   string `json:"pushToken"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeFailure(w, http.StatusBadRequest, "invalid body")
			return
		}
		res, err := backend.SignIn(r.Context(), onayport.SignInRequest{
			PhoneNumber: body.PhoneNumber,
			Password:    body.Password,
			PushToken:   body.PushToken,
			DeviceOS:    body.DeviceOS,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		data := map[string]any{"token": nil, "shortToken": nil, "d": nil}
		if res.Token != "" {
			data["token"] = res.Token
		}
		if res.ShortToken != "" {
			data["shortToken"] = res.ShortToken
		}
		if res.DeviceID != "" {
			data["d"] = res.DeviceID
		}
		writeData(w, true, data)
	})

	mux.HandleFunc("GET "+PathCards, func(w http.ResponseWriter, r *http.Request) {
		if !hasClientHeaders(w, r, "X-Ma-D", "X-Short-Token") {
			return
		}
		list, err := backend.ListCards(r.Context(), session(r), r.URL.Query().Get("cityId"))
		if err != nil {
			writeError(w, err)
			return
		}
		cards := make([]map[string]string, 0, len(list.Cards))
		for _, c := range list.Cards {
			cards = append(cards, map[string]string{"pan": string(c.PAN)})
		}
		writeData(w, list.Success, cards)
	})

	mux.HandleFunc("PUT "+PathQRStart, func(w http.ResponseWriter, r *http.Request) {
		if !hasClientHeaders(w, r, "X-Ma-D", "X-Short-Token") {
			return
		}
		var body struct {
			Terminal string `json:"terminal"`
			PAN      string `json:"pan"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeFailure(w, http.StatusBadRequest, "invalid body")
			return
		}
		rec, err := backend.StartQR(r.Context(), session(r), domain.TerminalCode(body.Terminal), domain.PaymentID(body.PAN))
		if err != nil {
			writeError(w, err)
			return
		}
		writeData(w, true, map[string]any{"terminal": terminalJSON(rec)})
	})

	return mux
}

func hasClientHeaders(w http.ResponseWriter, r *http.Request, extra ...string) bool {
	for _, h := range append([]string{"X-Ma-Os", "X-Ma-Version", "User-Agent"}, extra...) {
		if r.Header.Get(h) == "" {
			writeFailure(w, http.StatusBadRequest, "missing header "+h)
			return false
		}
	}
	return true
}

func session(r *http.Request) domain.TokenBundle {
	return domain.TokenBundle{
		ShortToken: r.Header.Get("X-Short-Token"),
		DeviceID:   r.Header.Get("X-Ma-D"),
	}
}

func terminalJSON(rec *onayport.TerminalRecord) any {
	if rec == nil {
		return nil
	}
	if len(rec.Raw) > 0 {
		return rec.Raw
	}
	out := map[string]any{
		"route":     rec.Route,
		"conductor": rec.Conductor,
		"code":      rec.Code,
		"terminal":  rec.Terminal,
	}
	if len(rec.Cost) > 0 {
		out["cost"] = rec.Cost
	} else {
		out["cost"] = nil
	}
	return out
}

// writeError maps domain errors back to the status codes the backend would send.
func writeError(w http.ResponseWriter, err error) {
	var upstream domain.UpstreamError
	if errors.As(err, &upstream) && upstream.StatusCode != 0 {
		writeFailure(w, upstream.StatusCode, upstream.Error())
		return
	}
	var transient domain.TransientNetworkError
	if errors.As(err, &transient) && transient.StatusCode != 0 {
		writeFailure(w, transient.StatusCode, transient.Error())
		return
	}
	if domain.IsTransient(err) {
		writeFailure(w, http.StatusBadGateway, err.Error())
		return
	}
	if domain.IsUpstream(err) {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}
	writeFailure(w, http.StatusInternalServerError, err.Error())
}

func writeFailure(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": msg})
}

func writeData(w http.ResponseWriter, success bool, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": success,
		"result":  map[string]any{"data": data},
	})
}
