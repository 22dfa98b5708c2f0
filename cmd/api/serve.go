package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"cluelyguard.com/internal/auth"
	"cluelyguard.com/internal/config"
	"cluelyguard.com/internal/detections"
	"cluelyguard.com/internal/grpcapi"
	"cluelyguard.com/internal/httpapi"
	"cluelyguard.com/internal/obs"
	"cluelyguard.com/internal/stream"
)

const (
	shutdownTimeout   = 10 * time.Second
	readinessInterval = 15 * time.Second
)

func newServeCmd(lookup lookupFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (and the gRPC listener when GRPC_ADDR is set)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, lookup)
		},
	}
}

// serve runs until ctx is cancelled. Configuration and secret errors are
// returned before any listener opens.
func serve(ctx context.Context, lookup lookupFunc) error {
	cfg, err := config.Load(lookup)
	if err != nil {
		return err
	}
	obs.Configure(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	obs.InitBuildInfo()
	log := obs.Logger()

	secrets, err := auth.LoadSecrets(lookup, cfg.Mode())
	if err != nil {
		return fmt.Errorf("loading secrets: %w", err)
	}
	if secrets.Ephemeral() {
		log.Warn("using generated secrets; sessions will not survive a restart",
			"secrets", secrets.EphemeralNames(), "app_env", cfg.AppEnv)
	}
	tokens, err := auth.NewTokenCodec(secrets)
	if err != nil {
		return err
	}
	keys, err := auth.NewAPIKeyValidator(cfg.APIKeyPrefix)
	if err != nil {
		return err
	}

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		defer db.Close()
	}
	probe := httpapi.ReadyProbe{DB: db}

	api, err := httpapi.New(httpapi.Options{
		Secrets:      secrets,
		Tokens:       tokens,
		APIKeys:      keys,
		Detections:   detections.NewStore(detections.DefaultRetention),
		Stream:       stream.New(),
		Ready:        probe,
		CORSOrigins:  cfg.CORSAllowedOrigins,
		MaxBodyBytes: cfg.MaxBodyBytes,
		Build:        obs.CurrentBuild(),
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 2)
	go func() {
		log.Info("http listening", "addr", srv.Addr, "version", obs.Version, "app_env", cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http listen: %w", err)
		}
	}()

	var grpcSrv *grpcapi.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			_ = srv.Close()
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcSrv = grpcapi.New(keys, probe)
		go grpcSrv.WatchReadiness(ctx, readinessInterval)
		go func() {
			log.Info("grpc listening", "addr", cfg.GRPCAddr)
			if err := grpcSrv.Serve(lis); err != nil {
				errc <- fmt.Errorf("grpc serve: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case runErr = <-errc:
		log.Error("server failed", "error", runErr.Error())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err.Error())
	}
	log.Info("stopped")
	return runErr
}
