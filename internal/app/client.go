package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	intrnl "roomchat/internal"
	"roomchat/internal/storage"
)

// RunClient opens the downloads ledger and log file, then runs the TUI until
// the user quits or ctx is cancelled.
func RunClient(ctx context.Context, cfg ClientConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, logCloser, err := NewLogger(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	return runClient(ctx, cfg, logger)
}

func runClient(ctx context.Context, cfg ClientConfig, logger zerolog.Logger) error {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return fmt.Errorf("create db dir: %w", err)
	}
	store, err := storage.NewStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	stats := intrnl.NewStats()
	logger.Info().Str("endpoint", cfg.ServerURL).Str("db", cfg.DBPath).Str("version", intrnl.Version).Msg("starting client")

	model, err := intrnl.RunClient(intrnl.ModelConfig{
		Endpoint:       cfg.ServerURL,
		Username:       cfg.Username,
		IdentifyOnJoin: cfg.IdentifyOnJoin,
		Dialer:         intrnl.WebsocketDialer{Logger: logger, ReadLimit: cfg.MaxUpload * 2},
		Files:          intrnl.DataURIReader{MaxBytes: cfg.MaxUpload},
		Ledger:         store,
		DownloadDir:    cfg.DownloadDir,
		Stats:          stats,
		Logger:         logger,
		Context:        ctx,
	})
	session := model.Coordinator().Session()
	logger.Info().Object("stats", stats).Str("phase", session.Phase.String()).Msg("client stopped")
	return err
}
