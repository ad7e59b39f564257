package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/punchamoorthee/pkrsettle/internal/bank"
	"github.com/punchamoorthee/pkrsettle/internal/chain"
	"github.com/punchamoorthee/pkrsettle/internal/config"
	"github.com/punchamoorthee/pkrsettle/internal/logger"
	"github.com/punchamoorthee/pkrsettle/internal/service"
	"github.com/punchamoorthee/pkrsettle/internal/store"
	"github.com/punchamoorthee/pkrsettle/internal/units"
	"go.uber.org/zap"
)

func main() {
	deposit := flag.String("deposit", "", "optional opening deposit in PKR, minted to the demo user")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := seed(ctx, cfg, *deposit, log); err != nil {
		log.Fatal("seeding failed", zap.Error(err))
	}
}

func seed(ctx context.Context, cfg *config.Config, deposit string, log *zap.Logger) error {
	if cfg.Store != config.StorePostgres {
		return fmt.Errorf("seeder needs STORE=postgres, got %q", cfg.Store)
	}
	pg, err := store.NewPostgres(ctx, cfg.DBSource)
	if err != nil {
		return err
	}
	defer pg.Close()

	log.Info("applying migrations")
	if err := pg.Migrate(); err != nil {
		return err
	}

	conv, err := units.NewConverter(cfg.TokenDecimals)
	if err != nil {
		return err
	}
	svc := service.New(pg, conv, chain.NewStub(), bank.NewStub(), nil, service.Options{
		DemoUserEmail:    cfg.DemoUserEmail,
		DemoChainAddress: cfg.DemoChainAddress,
		TokenSymbol:      cfg.TokenSymbol,
		AutoMint:         true,
	}, log)

	res, err := svc.SeedDemoUser(ctx)
	if err != nil {
		return err
	}
	log.Info("demo user ready",
		zap.String("user_id", res.User.ID.String()),
		zap.String("email", res.User.Email),
		zap.String("chain_address", res.User.ChainAddress))

	if deposit == "" {
		return nil
	}
	// The bank stub lives in this process, so the deposit is minted here
	// rather than left for the API to ingest.
	ptx, err := svc.RecordWalletCredit(ctx, deposit, "seed deposit")
	if err != nil {
		return err
	}
	ing, err := svc.IngestSince(ctx, time.Time{})
	if err != nil {
		return err
	}
	bal, err := svc.GetBalance(ctx)
	if err != nil {
		return err
	}
	log.Info("opening deposit minted",
		zap.String("provider_tx_id", ptx),
		zap.Int("minted", ing.Minted),
		zap.Int64("balance_units", bal.BalanceUnits))
	return nil
}
