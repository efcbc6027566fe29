package main

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/onay-qr/onay-gateway/internal/adapters/memory/onaybackend"
	"github.com/onay-qr/onay-gateway/internal/adapters/onay/onay_testutil"
	"github.com/onay-qr/onay-gateway/internal/domain"
	"github.com/onay-qr/onay-gateway/internal/platform/logging"
	onayport "github.com/onay-qr/onay-gateway/internal/ports/out/onay"
)

// Tiny dev-only ticketing backend.
//
// It speaks the three endpoints the gateway consumes, accepts any credentials and any
// terminal code, and lets the gateway run locally with ONAY_BASE_URL=http://localhost:5557.

func main() {
	port := getenv("PORT", "5557")
	pan := getenv("CARD_PAN", "4400111122223333")
	route := getenv("ROUTE", "12")
	conductor := getenv("CONDUCTOR", "(2550)524EY02")
	cost := getenv("COST", "12000")
	ttl := getenvDuration("TOKEN_TTL", onaybackend.DefaultTokenTTL)

	logger := logging.New(logging.Config{App: "devonay", Level: getenv("LOG_LEVEL", "info"), Format: os.Getenv("LOG_FORMAT")})

	backend := onaybackend.NewBackend()
	backend.SetTokenTTL(ttl)
	backend.SetCards(domain.PaymentID(pan))
	backend.SetDefaultTerminal(&onayport.TerminalRecord{
		Route:     &route,
		Conductor: &conductor,
		Cost:      []byte(cost),
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/", onay_testutil.Handler(backend))

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info().Str("port", port).Str("route", route).Dur("token_ttl", ttl).Msg("devonay listening")
	if err := srv.ListenAndServe(); err != nil {
		logger.Fatal().Err(err).Msg("listen")
	}
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getenvDuration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
