package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.io/infrasutra/mailcore/internal/api"
	"github.io/infrasutra/mailcore/internal/auth"
	"github.io/infrasutra/mailcore/internal/config"
	"github.io/infrasutra/mailcore/internal/imapsync"
	"github.io/infrasutra/mailcore/internal/relay"
	"github.io/infrasutra/mailcore/internal/smtpserver"
	"github.io/infrasutra/mailcore/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx := context.Background()
	db, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		logger.Error("ensure schema", "error", err)
		os.Exit(1)
	}

	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set; all API requests will be rejected")
	}
	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.DefaultDomain)

	transport := relay.NewSMTPTransport(cfg.RelayHost, cfg.RelayPort, cfg.RelayUsername, cfg.RelayPassword)
	sender := relay.NewSender(db, transport, logger)

	var reconciler api.Reconciler
	if cfg.IMAPHost != "" {
		reconciler = imapsync.New(db, cfg.IMAPHost, cfg.IMAPPort, cfg.IMAPTLS, logger)
	} else {
		logger.Info("IMAP_HOST not set; mailbox reconciliation disabled")
	}

	apiServer := api.NewServer(db, verifier, sender, reconciler, logger)

	smtpAddr := fmt.Sprintf(":%d", cfg.SMTPPort)
	smtpSrv := smtpserver.New(db, logger, smtpAddr, cfg.DefaultDomain)

	httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
	httpSrv := &http.Server{
		Addr:    httpAddr,
		Handler: apiServer,
	}

	go func() {
		if err := smtpSrv.ListenAndServe(); err != nil {
			logger.Error("smtp server stopped", "error", err)
		}
	}()

	go func() {
		logger.Info("http server listening", "addr", httpAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("shutdown http", "error", err)
	}
	if err := smtpSrv.Close(); err != nil {
		logger.Error("shutdown smtp", "error", err)
	}
}
