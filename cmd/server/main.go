package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"bizzai/backend/internal/barcode"
	"bizzai/backend/internal/cache"
	"bizzai/backend/internal/config"
	"bizzai/backend/internal/httpapi"
	"bizzai/backend/internal/logger"
	"bizzai/backend/internal/pricing"
	"bizzai/backend/internal/service"
	"bizzai/backend/internal/store"
	"bizzai/backend/internal/store/memory"
	pgstore "bizzai/backend/internal/store/postgres"
)

func main() {
	config.LoadDotEnv()
	cfg := config.Load()

	appLogger, err := logger.NewForEnvironment(cfg.Env, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync(appLogger)

	if err := validateSecurityConfig(cfg); err != nil {
		appLogger.Fatal("invalid security configuration", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL, appLogger)
		if err != nil {
			appLogger.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		if cfg.RunMigrations {
			if err := pgstore.Migrate(pg.DB(), appLogger); err != nil {
				appLogger.Fatal("apply migrations", zap.Error(err))
			}
		}
		repo = pg
		closers = append(closers, pg.Close)
		appLogger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded(appLogger)
		appLogger.Info("repository: in-memory")
	}

	itemCache := cache.ItemCache(cache.NoopItemCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisItemCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			appLogger.Warn("redis unavailable, using noop cache", zap.Error(err))
			_ = redisCache.Close()
		} else {
			itemCache = redisCache
			closers = append(closers, redisCache.Close)
			appLogger.Info("cache: redis", zap.String("addr", cfg.RedisAddr))
		}
	} else {
		appLogger.Info("cache: noop")
	}

	resolver := barcode.NewResolver(repo, itemCache, time.Duration(cfg.ItemCacheTTLSeconds)*time.Second, appLogger)
	svc := service.New(repo, resolver, service.Options{
		Totals:           totalsPolicy(cfg),
		Refunds:          refundPolicy(cfg),
		CashAccountID:    cfg.CashAccountID,
		BankAccountID:    cfg.BankAccountID,
		OperationTimeout: cfg.OperationTimeout,
		CartIdleTTL:      cfg.CartIdleTTL,
		Logger:           appLogger,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, repo, appLogger)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, appLogger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		appLogger.Info("POS backend listening", zap.String("addr", cfg.Address()), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			appLogger.Error("close error", zap.Error(err))
		}
	}

	appLogger.Info("server stopped")
}

func totalsPolicy(cfg config.Config) pricing.TotalsPolicy {
	if !cfg.TaxRatePercent.IsPositive() && !cfg.DiscountPercent.IsPositive() {
		return pricing.NoAdjustments{}
	}
	return pricing.Standard{
		DiscountPercent:  cfg.DiscountPercent,
		MinSubtotalCents: cfg.DiscountMinSubtotalCents,
		TaxPercent:       cfg.TaxRatePercent,
	}
}

func refundPolicy(cfg config.Config) pricing.RefundPolicy {
	if cfg.RestockingFeePercent.IsPositive() {
		return pricing.RestockingFee{Percent: cfg.RestockingFeePercent}
	}
	return pricing.FullRefund{}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects PINs that are all the same digit,
// sequential (ascending or descending), or from a known-weak list.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "111111": true,
		"222222": true, "333333": true, "444444": true, "555555": true,
		"666666": true, "777777": true, "888888": true, "999999": true,
		"121212": true, "112233": true, "123123": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
