// Command import ingests a statement file from the command line, for
// backfills and local testing without the HTTP server.
package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"

	"github.com/rukunkita/ipl-recon/internal/application/recon"
	"github.com/rukunkita/ipl-recon/internal/domain/matcher"
	"github.com/rukunkita/ipl-recon/internal/infrastructure/config"
	"github.com/rukunkita/ipl-recon/internal/infrastructure/logging"
	"github.com/rukunkita/ipl-recon/internal/infrastructure/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	file := flag.String("file", "", "statement file to import")
	year := flag.Int("year", 0, "statement year")
	month := flag.Int("month", 0, "statement month (1-12, optional)")
	replace := flag.Bool("replace", false, "delete previously imported mutations for the period first")
	flag.Parse()

	cfg := config.LoadOrEnv(*configPath)
	logger := logging.NewLogger(cfg.Observability.Logging)

	if *file == "" || *year == 0 {
		logger.Error("both -file and -year are required")
		flag.Usage()
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	raw, err := os.ReadFile(*file)
	if err != nil {
		logger.Error("reading statement file", "file", *file, "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewStorage(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Error("opening database", "path", cfg.Storage.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	engine := matcher.NewEngine(matcher.Config{
		Bases: matcher.ParseBases(cfg.Reconciliation.DueBases, logger),
	}, logger)
	service := recon.NewService(repo, engine, logger)

	summary, err := service.ProcessUpload(context.Background(), string(raw), recon.UploadOptions{
		FileName: filepath.Base(*file),
		Year:     *year,
		Month:    *month,
		Replace:  *replace,
	})
	if err != nil {
		logger.Error("import failed", "error", err)
		os.Exit(1)
	}

	logger.Info("import complete",
		"batch_id", summary.BatchID,
		"imported", summary.Imported,
		"matched", summary.Matched,
		"auto_matched", summary.AutoMatched,
		"omitted", summary.Omitted,
		"unmatched", summary.Unmatched,
		"historical", summary.Historical,
		"replaced", summary.Replaced,
		"row_errors", len(summary.RowErrors))
	for _, re := range summary.RowErrors {
		logger.Warn("row skipped", "line", re.Line, "reason", re.Reason)
	}
}
