package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/onay-qr/onay-gateway/internal/adapters/httpapi"
	memidempotency "github.com/onay-qr/onay-gateway/internal/adapters/memory/idempotency"
	"github.com/onay-qr/onay-gateway/internal/adapters/onay"
	"github.com/onay-qr/onay-gateway/internal/app/session"
	platformclock "github.com/onay-qr/onay-gateway/internal/platform/clock"
	"github.com/onay-qr/onay-gateway/internal/platform/config"
	"github.com/onay-qr/onay-gateway/internal/platform/logging"
	"github.com/onay-qr/onay-gateway/internal/platform/metrics"
)

func main() {
	srvCfg, err := config.LoadServerConfigFromEnv()
	if err != nil {
		boot := logging.New(logging.Config{App: "onay-gateway", Format: os.Getenv("LOG_FORMAT")})
		boot.Fatal().Err(err).Msg("invalid server config")
	}
	logger := logging.New(logging.Config{
		App:    "onay-gateway",
		Level:  srvCfg.LogLevel,
		Format: srvCfg.LogFormat,
	})

	// Credentials are required: a missing one stops the process before it listens.
	onayCfg, err := config.LoadOnayConfigFromEnv()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid onay config")
	}

	metrics.Register()

	backend := onay.New(onayCfg, logger)
	svc, err := session.NewService(backend, onayCfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("session service")
	}

	clk := platformclock.NewSystemClock()
	idemStore := memidempotency.NewStoreWithTTL(srvCfg.IdempotencyTTL, clk)

	api := httpapi.NewServer(svc, idemStore)
	handler := httpapi.NewRouterWithOptions(api, httpapi.RouterOptions{
		Logger:        logger,
		CORSOrigins:   srvCfg.CORSOrigins,
		PublicBaseURL: srvCfg.PublicBaseURL,
	})

	srv := &http.Server{
		Addr:              ":" + srvCfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().
			Str("port", srvCfg.Port).
			Str("onay_base_url", onayCfg.BaseURL).
			Bool("verbose", onayCfg.Verbose).
			Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), srvCfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown")
	}
}
