// Command api runs the reconciliation HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rukunkita/ipl-recon/internal/api"
	"github.com/rukunkita/ipl-recon/internal/api/handlers"
	"github.com/rukunkita/ipl-recon/internal/application/recon"
	"github.com/rukunkita/ipl-recon/internal/domain/matcher"
	"github.com/rukunkita/ipl-recon/internal/infrastructure/config"
	"github.com/rukunkita/ipl-recon/internal/infrastructure/logging"
	"github.com/rukunkita/ipl-recon/internal/infrastructure/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg := config.LoadOrEnv(*configPath)
	logger := logging.NewLogger(cfg.Observability.Logging)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewStorage(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Error("opening database", "path", cfg.Storage.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	var opts []matcher.Option
	if cfg.Reconciliation.ExternalMatcherURL != "" {
		timeout := time.Duration(cfg.Reconciliation.ExternalMatcherTimeoutSeconds) * time.Second
		opts = append(opts, matcher.WithExternalScorer(
			matcher.NewHTTPScorer(cfg.Reconciliation.ExternalMatcherURL, timeout)))
		logger.Info("external matcher enabled", "url", cfg.Reconciliation.ExternalMatcherURL)
	}
	engine := matcher.NewEngine(matcher.Config{
		Bases: matcher.ParseBases(cfg.Reconciliation.DueBases, logger),
	}, logger, opts...)

	service := recon.NewService(repo, engine, logger)
	router := api.NewRouter(handlers.New(service, logger), cfg.Server.AllowedOrigins, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", "port", cfg.Server.Port, "db", cfg.Storage.DatabasePath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}
