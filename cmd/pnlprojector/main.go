// Command pnlprojector runs the FIFO realized-P&L projector as its own
// process, independent of the hedge engine proper: spec.md permits it
// as a separate binary since it only ever reads OnchainTrade and
// Execution rows and writes PnlMetric rows.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hedgeengine/internal/config"
	"hedgeengine/internal/database"
	"hedgeengine/internal/ledger"
	"hedgeengine/internal/pnl"
	"hedgeengine/pkg/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := utils.InitGlobalLogger(utils.LogConfig{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Development: cfg.Logging.Development,
	}).WithComponent("pnlprojector")

	db, err := database.New(database.Config{Path: cfg.Database.Path, Profile: database.ProfileStandard})
	if err != nil {
		log.Fatal("failed to open database", utils.Err(err))
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal("failed to migrate database", utils.Err(err))
	}

	projector := pnl.New(ledger.New(db))

	interval := cfg.Poller.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("pnl projector starting", utils.String("interval", interval.String()))

	if err := projector.Run(); err != nil {
		log.Error("pnl projector run failed", utils.Err(err))
	}

	for {
		select {
		case <-quit:
			log.Info("pnl projector shutting down")
			return
		case <-ticker.C:
			if err := projector.Run(); err != nil {
				log.Error("pnl projector run failed", utils.Err(err))
			}
		}
	}
}
