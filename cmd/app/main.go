// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paygate/internal/config"
	"paygate/internal/domain/ports/gateway"
	pg "paygate/internal/infra/db/postgres"
	"paygate/internal/infra/logging"
	"paygate/internal/infra/metrics"
	red "paygate/internal/infra/redis"
	"paygate/internal/infra/sched"
	"paygate/internal/infra/web"
	"paygate/internal/infra/wechat"
	"paygate/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, debug level)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, int32(cfg.Database.PoolSize))
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	guard := red.NewReplayGuard(redisClient)

	// ---- Gateway providers ----
	var providers []gateway.Provider
	if cfg.Payment.WechatJSAPI.Enabled {
		wcfg, err := buildWechatConfig(&cfg.Payment.WechatJSAPI)
		if err != nil {
			logger.Fatal().Err(err).Msg("wechat jsapi config")
		}
		p, err := wechat.NewJSAPI(wcfg, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("wechat jsapi")
		}
		providers = append(providers, p)
	}
	if cfg.Payment.WechatNative.Enabled {
		wcfg, err := buildWechatConfig(&cfg.Payment.WechatNative)
		if err != nil {
			logger.Fatal().Err(err).Msg("wechat native config")
		}
		p, err := wechat.NewNative(wcfg, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("wechat native")
		}
		providers = append(providers, p)
	}
	if len(providers) == 0 {
		logger.Fatal().Msg("no payment provider enabled in config")
	}
	registry := gateway.NewRegistry(providers...)

	// ---- Repositories ----
	txm := pg.NewTxManager(pool)
	payRepo := pg.NewPaymentRepo(pool)
	refundRepo := pg.NewRefundRepo(pool)
	eventRepo := pg.NewEventRepo(pool)

	// ---- Use cases ----
	payUC := usecase.NewPaymentUseCase(txm, payRepo, refundRepo, eventRepo, guard, registry, cfg.Webhook.ReplayTTL, *logger)

	metrics.MustRegister()

	// ---- HTTP server ----
	srv := web.NewServer(&cfg.Server, payUC, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server stopped")
			cancel()
		}
	}()

	// ---- Reconciler ----
	reconciler := sched.NewPaymentReconciler(payUC, payRepo, cfg.Reconciler.Interval, cfg.Reconciler.StaleAfter, cfg.Reconciler.BatchSize, logger)
	go func() { _ = reconciler.Run(ctx) }()

	for _, p := range providers {
		logger.Info().Str("provider", p.Key().String()).Msg("gateway provider enabled")
	}

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
		logger.Info().Msg("shutdown requested")
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
}

func buildWechatConfig(pc *config.ProviderConfig) (wechat.Config, error) {
	privPEM, err := pc.PrivateKeyPEM()
	if err != nil {
		return wechat.Config{}, err
	}
	priv, err := wechat.ParsePrivateKey(privPEM)
	if err != nil {
		return wechat.Config{}, err
	}
	pubPEM, err := pc.PublicKeyPEM()
	if err != nil {
		return wechat.Config{}, err
	}
	pub, err := wechat.ParsePublicKey(pubPEM)
	if err != nil {
		return wechat.Config{}, err
	}
	return wechat.Config{
		AppID:              pc.AppID,
		MchID:              pc.MchID,
		PaymentNotifyURL:   pc.PaymentNotifyURL,
		RefundNotifyURL:    pc.RefundNotifyURL,
		MerchantSerialNo:   pc.MerchantSerialNo,
		MerchantPrivateKey: priv,
		PlatformSerialNo:   pc.PlatformSerialNo,
		PlatformPublicKey:  pub,
		APIv3Key:           pc.APIv3Key,
		BaseURL:            pc.BaseURL,
		FreshnessWindow:    pc.FreshnessWindow,
	}, nil
}
