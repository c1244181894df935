package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/passify/saml-gateway/internal/core"
	"github.com/passify/saml-gateway/internal/gateway"
	"github.com/passify/saml-gateway/internal/protocols/saml"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, err := core.Bootstrap(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize gateway: %v", err)
	}
	logger := deps.Logger
	defer logger.Sync()
	defer deps.Directory.Close()

	gw := gateway.New(
		deps.Resolver,
		saml.NewCodec(nil),
		deps.Directory,
		deps.Sessions,
		deps.Config.BaseURL,
		logger,
	)
	server := core.NewServer(deps.Config, logger, gw)

	httpServer := &http.Server{
		Addr:         deps.Config.ListenAddr,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("gateway starting",
			zap.String("addr", deps.Config.ListenAddr),
			zap.String("base_url", deps.Config.BaseURL))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("gateway failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down gateway")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("gateway forced to shutdown", zap.Error(err))
	}

	logger.Info("gateway exited gracefully")
}
