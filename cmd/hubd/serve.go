package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iscc/iscc-hub-go/pkg/api"
	"github.com/iscc/iscc-hub-go/pkg/codec"
	"github.com/iscc/iscc-hub-go/pkg/config"
	"github.com/iscc/iscc-hub-go/pkg/crypto"
	"github.com/iscc/iscc-hub-go/pkg/eventstore"
	"github.com/iscc/iscc-hub-go/pkg/feed"
	"github.com/iscc/iscc-hub-go/pkg/hub"
	"github.com/iscc/iscc-hub-go/pkg/observability"
	"github.com/iscc/iscc-hub-go/pkg/receipt"
	"github.com/iscc/iscc-hub-go/pkg/sequencer"
	"github.com/iscc/iscc-hub-go/pkg/validator"
)

func runServe(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "configuration error: %v\n", err)
		return 1
	}
	setupLogging(cfg.LogLevel)
	logger := slog.Default().With("component", "hubd")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	signer, err := buildSigner(cfg)
	if err != nil {
		logger.Error("signing key setup failed", "error", err)
		return 1
	}

	store, err := eventstore.Open(cfg.DBPath, codec.Realm(cfg.Realm))
	if err != nil {
		logger.Error("event store setup failed", "error", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "iscc-hub",
		ServiceVersion: Version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Insecure:       true,
	})
	if err != nil {
		logger.Error("observability setup failed", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	var publisher hub.Publisher
	if cfg.RedisAddr != "" {
		rp := feed.NewRedisPublisher(cfg.RedisAddr)
		defer func() { _ = rp.Close() }()
		publisher = rp
	}

	v := validator.New(uint16(cfg.ServerID), time.Duration(cfg.SkewSeconds)*time.Second)
	seq := sequencer.New(store, uint16(cfg.ServerID), codec.Realm(cfg.Realm), cfg.QueueDepth)
	issuer := receipt.NewIssuer(signer, cfg.Domain)
	h := hub.New(v, seq, store, issuer, publisher)

	limiter := api.NewDeclareLimiter(cfg.RateRPS, cfg.RateBurst, cfg.QueueDepth)
	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.NewServer(h, obs, Version).Routes(limiter),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("hub listening",
			"addr", cfg.Listen, "server_id", cfg.ServerID, "realm", cfg.Realm,
			"issuer", issuer.DID())
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
			return 1
		}
		return 0
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			return 1
		}
		return 0
	}
}

// buildSigner resolves the HUB signing key: a provisioned multibase
// secret, or a key derived from ISCC_HUB_SECKEY_PASSPHRASE for
// development setups.
func buildSigner(cfg *config.Config) (crypto.Signer, error) {
	if cfg.Seckey != "" {
		return crypto.NewSignerFromSecret(cfg.Seckey, "key-0")
	}
	if pass := os.Getenv("ISCC_HUB_SECKEY_PASSPHRASE"); pass != "" {
		return crypto.NewSignerFromPassphrase(pass, "key-0")
	}
	return nil, errors.New("no signing key: set seckey or ISCC_HUB_SECKEY_PASSPHRASE")
}
