package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/punchamoorthee/pkrsettle/internal/alert"
	"github.com/punchamoorthee/pkrsettle/internal/api"
	"github.com/punchamoorthee/pkrsettle/internal/bank"
	"github.com/punchamoorthee/pkrsettle/internal/chain"
	"github.com/punchamoorthee/pkrsettle/internal/config"
	"github.com/punchamoorthee/pkrsettle/internal/feed"
	"github.com/punchamoorthee/pkrsettle/internal/logger"
	"github.com/punchamoorthee/pkrsettle/internal/reconcile"
	"github.com/punchamoorthee/pkrsettle/internal/service"
	"github.com/punchamoorthee/pkrsettle/internal/store"
	"github.com/punchamoorthee/pkrsettle/internal/units"
	"github.com/punchamoorthee/pkrsettle/internal/webhook"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	alertCooldown   = 5 * time.Minute
	shutdownTimeout = 10 * time.Second
)

func main() {
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (store.Store, error) {
	if cfg.Store == config.StoreMemory {
		log.Warn("using in-memory store; state is lost on exit")
		return store.NewMemory(), nil
	}
	pg, err := store.NewPostgres(ctx, cfg.DBSource)
	if err != nil {
		return nil, err
	}
	if err := pg.Migrate(); err != nil {
		pg.Close()
		return nil, err
	}
	return pg, nil
}

func chainBackend(cfg *config.Config) chain.Backend {
	if cfg.ChainBackend == config.ChainDeferred {
		return chain.NewDeferred()
	}
	return chain.NewStub()
}

func alerter(cfg *config.Config, log *zap.Logger) alert.Alerter {
	sinks := []alert.Alerter{alert.NewLogAlerter(log)}
	if cfg.AlertWebhookURL != "" {
		sinks = append(sinks, alert.NewWebhookAlerter(cfg.AlertWebhookURL))
	}
	return alert.NewMulti(alertCooldown, log, sinks...)
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	conv, err := units.NewConverter(cfg.TokenDecimals)
	if err != nil {
		return err
	}
	alerts := alerter(cfg, log)

	svc := service.New(st, conv, chainBackend(cfg), bank.NewStub(), alerts, service.Options{
		DemoUserEmail:      cfg.DemoUserEmail,
		DemoChainAddress:   cfg.DemoChainAddress,
		TokenSymbol:        cfg.TokenSymbol,
		AutoMint:           cfg.AutoMint,
		MaxSingleMintPKR:   cfg.MaxSingleMintPKR,
		MaxSinglePayoutPKR: cfg.MaxSinglePayoutPKR,
	}, log)
	reconciler := reconcile.NewEngine(st, alerts, log)

	bankVerifier, err := webhook.NewVerifier(cfg.BankWebhookSecret, cfg.BankWebhookIPAllowlist)
	if err != nil {
		return fmt.Errorf("bank webhook verifier: %w", err)
	}
	if cfg.BankWebhookSecret == "" {
		log.Warn("BANK_WEBHOOK_SECRET is empty; every bank webhook will be rejected")
	}
	apiCfg := api.Config{BankVerifier: bankVerifier, WebhookRPS: cfg.WebhookRateLimitRPS}
	if cfg.ChainWebhookSecret != "" {
		if apiCfg.ChainVerifier, err = webhook.NewVerifier(cfg.ChainWebhookSecret, nil); err != nil {
			return fmt.Errorf("chain webhook verifier: %w", err)
		}
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewHandler(svc, reconciler, apiCfg, log).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting", zap.String("addr", srv.Addr),
			zap.String("store", cfg.Store), zap.String("chain_backend", cfg.ChainBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return reconcile.NewScheduler(reconciler, cfg.ReconcileInterval, log).Start(gCtx)
	})

	if cfg.NATSURL != "" {
		nc, err := feed.Connect(cfg.NATSURL, log)
		if err != nil {
			return err
		}
		defer nc.Close()
		g.Go(func() error {
			return feed.NewSubscriber(svc, cfg.NATSChainSubject, log).Run(gCtx, nc)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
