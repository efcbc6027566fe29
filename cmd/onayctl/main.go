package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/onay-qr/onay-gateway/internal/adapters/gatewayclient"
	"github.com/onay-qr/onay-gateway/internal/platform/logging"
	"github.com/onay-qr/onay-gateway/internal/platform/retry"
)

// onayctl drives a running gateway the way the chat UI does.
//
//	onayctl [flags] qr-start <terminal>
//	onayctl [flags] sign-in
//	onayctl [flags] status

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("onayctl", flag.ContinueOnError)
	baseURL := fs.String("base-url", getenv("API_BASE", "http://localhost:3000"), "gateway base URL")
	attempts := fs.Int("attempts", retry.DefaultAttempts, "attempts per call, including the first")
	delay := fs.Duration("delay", retry.DefaultDelay, "wait between attempts")
	timeout := fs.Duration("timeout", time.Minute, "overall deadline")
	asJSON := fs.Bool("json", false, "print the raw result as JSON")
	verbose := fs.Bool("v", false, "log retries")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: onayctl [flags] qr-start <terminal> | sign-in | status")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	level := "warn"
	if *verbose {
		level = "debug"
	}
	logger := logging.New(logging.Config{App: "onayctl", Level: level, Out: os.Stderr})

	client := gatewayclient.New(*baseURL, gatewayclient.Options{
		Policy: &retry.Policy{Attempts: *attempts, Delay: *delay},
		Logger: logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	var (
		out any
		err error
	)
	switch cmd := fs.Arg(0); cmd {
	case "qr-start":
		terminal := strings.TrimSpace(fs.Arg(1))
		if terminal == "" {
			fmt.Fprintln(os.Stderr, "qr-start: terminal code is required")
			return 2
		}
		var trip gatewayclient.Trip
		trip, err = client.StartQR(ctx, terminal)
		if err == nil && !*asJSON {
			printTrip(trip)
			return 0
		}
		out = trip
	case "sign-in":
		out, err = client.SignIn(ctx)
	case "status":
		out, err = client.Status(ctx)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		fs.Usage()
		return 2
	}
	if err != nil {
		logger.Error().Err(err).Msg("request failed")
		return 1
	}
	return printJSON(out, logger)
}

func printTrip(t gatewayclient.Trip) {
	if t.Empty() {
		fmt.Println("Service is temporarily unavailable, try again later.")
		return
	}
	fmt.Printf("Terminal: %s\n", t.Terminal)
	if t.Route != nil {
		fmt.Printf("Route:    %s\n", *t.Route)
	}
	if t.Plate != nil {
		fmt.Printf("Plate:    %s\n", *t.Plate)
	}
	if fare, ok := t.Fare(); ok {
		fmt.Printf("Fare:     %s\n", fare)
	}
}

func printJSON(v any, logger zerolog.Logger) int {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		logger.Error().Err(err).Msg("encode output")
		return 1
	}
	return 0
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
