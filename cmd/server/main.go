// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/Saoudyahya/Live-Streaming-Platform-Architecture/services/session-reconciler/internal/app"
	"github.com/Saoudyahya/Live-Streaming-Platform-Architecture/services/session-reconciler/internal/config"
	"github.com/Saoudyahya/Live-Streaming-Platform-Architecture/services/session-reconciler/internal/server"
)

func main() {
	// Load configuration
	cfg := config.Load()

	logger := app.NewLogger(cfg.IsProduction())
	defer logger.Sync()

	logger.Info("🚀 Starting Stream Session Reconciler...",
		zap.String("environment", cfg.Environment),
		zap.String("store", cfg.StoreBackend),
		zap.String("lock", cfg.LockBackend),
	)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()
	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("❌ Failed to initialize reconciler", zap.Error(err))
	}
	defer application.Close()

	handlerOpts := []server.HandlerOption{server.WithMetrics(application.Metrics)}
	if application.Archiver != nil {
		handlerOpts = append(handlerOpts, server.WithArchiver(application.Archiver))
	}
	handler := server.NewHandler(application.Reconciler, logger, handlerOpts...)
	router := server.NewRouter(handler, logger, application.Registry)

	srv := &http.Server{
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
	}

	listener, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		logger.Fatal("❌ Failed to listen on HTTP port", zap.String("port", cfg.Port), zap.Error(err))
	}
	if cfg.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, cfg.MaxConnections)
	}

	grpcServer, healthServer := server.NewGRPCServer(logger)
	grpcListener, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		logger.Fatal("❌ Failed to listen on gRPC port", zap.String("port", cfg.GRPCPort), zap.Error(err))
	}

	// Start servers in goroutines
	go func() {
		logger.Info("✅ gRPC health server started", zap.String("port", cfg.GRPCPort))
		if err := grpcServer.Serve(grpcListener); err != nil {
			logger.Error("❌ gRPC server stopped", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("✅ Stream Session Reconciler started", zap.String("port", cfg.Port))
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("❌ Failed to start HTTP server", zap.Error(err))
		}
	}()
	server.SetServing(healthServer, true)

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("🛑 Shutting down server...")
	server.SetServing(healthServer, false)

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("❌ Server forced to shutdown", zap.Error(err))
	}
	grpcServer.GracefulStop()

	logger.Info("✅ Server exited")
}
