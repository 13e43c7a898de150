// Career Change Supporter - consultation payment settlement service
package main

import (
	"context"
	"os"

	"github.com/Ken-Miura/career-change-supporter-sub006/internal/config"
	"github.com/Ken-Miura/career-change-supporter-sub006/internal/logging"
	"github.com/Ken-Miura/career-change-supporter-sub006/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting settlement service",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"fee_rate_in_percentage", cfg.PlatformFeeRateInPercentage,
		"neglect_window", cfg.NeglectWindow,
	)

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
