// Package main запускает HTTP-сервер магазина гофершоп.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/gophershop-system/internal/checkout"
	"github.com/mmeshcher/gophershop-system/internal/config"
	"github.com/mmeshcher/gophershop-system/internal/handler"
	"github.com/mmeshcher/gophershop-system/internal/identity"
	"github.com/mmeshcher/gophershop-system/internal/inventory"
	"github.com/mmeshcher/gophershop-system/internal/metrics"
	"github.com/mmeshcher/gophershop-system/internal/middleware"
	"github.com/mmeshcher/gophershop-system/internal/notify"
	"github.com/mmeshcher/gophershop-system/internal/order"
	"github.com/mmeshcher/gophershop-system/internal/repository"
	"github.com/mmeshcher/gophershop-system/internal/voucher"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	var notifier checkout.Notifier
	if cfg.NotifyAddress != "" {
		notifier = notify.NewClient(cfg.NotifyAddress)
	}

	checkoutMetrics := metrics.NewCheckoutMetrics()

	ledger := inventory.NewLedger(repo)
	vouchers := voucher.NewEngine(repo)
	assembler := order.NewAssembler(repo, repo, vouchers)
	checkouts := checkout.NewService(repo, assembler, vouchers, notifier, checkoutMetrics, logger)
	accounts := identity.NewService(repo)

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(checkouts, accounts, ledger, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting gophershop server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
