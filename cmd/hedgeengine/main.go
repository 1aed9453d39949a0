// Command hedgeengine runs the full hedge process: chain ingestion,
// trade dispatch, broker execution, the execution poller, and a small
// health/metrics HTTP surface, all against one embedded SQLite ledger.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"hedgeengine/internal/api"
	"hedgeengine/internal/broker"
	"hedgeengine/internal/chain"
	"hedgeengine/internal/conductor"
	"hedgeengine/internal/config"
	"hedgeengine/internal/database"
	"hedgeengine/internal/ledger"
	"hedgeengine/internal/poller"
	"hedgeengine/internal/resolver"
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
	}).WithComponent("main")

	db, err := database.New(database.Config{Path: cfg.Database.Path, Profile: database.ProfileLedger})
	if err != nil {
		log.Fatal("failed to open database", utils.Err(err))
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal("failed to migrate database", utils.Err(err))
	}

	led := ledger.New(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resolverClient, err := ethclient.DialContext(ctx, cfg.Chain.WSURL)
	if err != nil {
		log.Fatal("failed to dial rpc for symbol resolver", utils.Err(err))
	}
	res, err := resolver.New(resolverClient)
	if err != nil {
		log.Fatal("failed to build symbol resolver", utils.Err(err))
	}

	brkr, credMgr, err := buildBroker(cfg, led)
	if err != nil {
		log.Fatal("failed to build broker", utils.Err(err))
	}
	if credMgr != nil {
		if loadErr := credMgr.LoadInitial(ctx); loadErr != nil && loadErr != ledger.ErrCredentialsNotFound {
			log.Fatal("failed to load broker credentials", utils.Err(loadErr))
		}
		go credMgr.Run(ctx)
	}

	cond := conductor.New(led, brkr, 4)
	cond.Start(ctx)

	ing, err := chain.New(ctx, chain.Config{
		WSURL:            cfg.Chain.WSURL,
		HTTPURL:          cfg.Chain.HTTPURL,
		Orderbook:        cfg.Chain.Orderbook,
		OrderOwner:       cfg.Chain.OrderOwner,
		DeploymentBlock:  cfg.Chain.DeploymentBlock,
		USDC:             cfg.Chain.USDC,
		EquitySuffix:     cfg.Chain.EquitySuffix,
		BackfillPageSize: cfg.Chain.BackfillPageSize,
	}, led, res, cond)
	if err != nil {
		log.Fatal("failed to start chain ingestor", utils.Err(err))
	}

	ingestorErrs := make(chan error, 1)
	go func() { ingestorErrs <- ing.Run(ctx) }()

	pol := poller.New(poller.Config{Interval: cfg.Poller.Interval, StuckAfter: cfg.Poller.StuckAfter}, led, brkr)
	go pol.Run(ctx)

	deps := &api.Dependencies{Ledger: led}
	router := api.SetupRoutes(deps)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("starting health/metrics server", utils.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("health server failed", utils.Err(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info("shutdown signal received")
	case err := <-ingestorErrs:
		if err != nil {
			log.Error("chain ingestor exited", utils.Err(err))
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("health server forced shutdown", utils.Err(err))
	}

	cond.Wait()
	if credMgr != nil {
		credMgr.Stop()
	}

	log.Info("hedgeengine exited")
}

// buildBroker constructs the broker variant selected by cfg.Broker.Kind
// and, for the OAuth variant, the credential manager that owns its
// token refresh cycle. The returned manager is nil for non-OAuth kinds.
func buildBroker(cfg *config.Config, led *ledger.Ledger) (broker.Broker, *broker.CredentialManager, error) {
	oauthCfg := broker.OAuthConfig{
		BaseURL:      cfg.Broker.BaseURL,
		AppKey:       cfg.Broker.AppKey,
		AppSecret:    cfg.Broker.AppSecret,
		RedirectURI:  cfg.Broker.RedirectURI,
		EquitySuffix: cfg.Chain.EquitySuffix,
	}
	apiKeyCfg := broker.APIKeyConfig{
		BaseURL:      cfg.Broker.BaseURL,
		KeyID:        cfg.Broker.KeyID,
		SecretKey:    cfg.Broker.SecretKey,
		Mode:         cfg.Broker.TradingMode,
		EquitySuffix: cfg.Chain.EquitySuffix,
	}

	brkr, err := broker.NewBroker(cfg.Broker.Kind, oauthCfg, broker.Tokens{}, apiKeyCfg, cfg.Broker.DryRunPriceCents)
	if err != nil {
		return nil, nil, err
	}

	if cfg.Broker.Kind != broker.KindOAuth {
		return brkr, nil, nil
	}

	oauthBroker, ok := brkr.(*broker.OAuth)
	if !ok {
		return nil, nil, fmt.Errorf("broker.NewBroker returned unexpected type for kind oauth")
	}
	credMgr := broker.NewCredentialManager(led.Credentials, cfg.EncryptionKey, oauthBroker)
	return brkr, credMgr, nil
}
