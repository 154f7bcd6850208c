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

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/msaedi/instructly-sub006/internal/di"
	"github.com/msaedi/instructly-sub006/pkg/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "payment-engine: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The engine process keeps the outbox dispatcher close to the writes;
	// the lifecycle jobs run in the payment-worker process.
	c, err := di.New(ctx, cfg, di.Options{OutboxDispatcher: true})
	if err != nil {
		return err
	}
	defer c.Close(context.Background())

	c.Log.Info("payment engine starting",
		zap.String("environment", cfg.App.Environment),
		zap.String("version", cfg.App.Version),
		zap.Int("port", cfg.Server.Port),
	)

	c.Scheduler.Start(ctx)
	defer c.Scheduler.Stop()

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      newRouter(c),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	c.Log.Info("payment engine shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		c.Log.Error("http shutdown failed", zap.Error(err))
	}
	return nil
}

func newRouter(c *di.Container) *gin.Engine {
	if c.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/readyz", func(ctx *gin.Context) {
		checkCtx, cancel := context.WithTimeout(ctx.Request.Context(), 5*time.Second)
		defer cancel()

		checks := gin.H{}
		ready := true

		if err := c.DB.HealthCheck(checkCtx); err != nil {
			checks["postgres"] = err.Error()
			ready = false
		} else {
			checks["postgres"] = "ok"
		}
		if err := c.Redis.HealthCheck(checkCtx); err != nil {
			checks["redis"] = err.Error()
			ready = false
		} else {
			checks["redis"] = "ok"
		}
		if err := c.Producer.Ping(checkCtx); err != nil {
			checks["kafka"] = err.Error()
			ready = false
		} else {
			checks["kafka"] = "ok"
		}

		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		ctx.JSON(status, gin.H{"ready": ready, "checks": checks})
	})

	// Pipeline alarm for dashboards and pagers. Reports stuck
	// authorizations without failing readiness.
	r.GET("/internal/authorization-health", func(ctx *gin.Context) {
		status, err := c.Service.AuthorizationHealth(ctx.Request.Context())
		if err != nil {
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		code := http.StatusOK
		if !status.Healthy {
			code = http.StatusServiceUnavailable
		}
		ctx.JSON(code, status)
	})

	return r
}
