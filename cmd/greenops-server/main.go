package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	internalhttp "github.com/greenops-hq/greenops-server/internal/api/http"
	"github.com/greenops-hq/greenops-server/internal/db"
	"github.com/greenops-hq/greenops-server/internal/machines"
	"github.com/greenops-hq/greenops-server/internal/users"
)

var AppVersion string

func main() {
	InitConfig()

	slog.Info("GreenOps Server", "version", AppVersion)

	ctx := context.Background()

	// Pool initialization failure at startup is the only fatal condition;
	// everything after this degrades instead of crashing.
	pool := db.NewPool(config.Database)
	if err := pool.Initialize(ctx); err != nil {
		slog.Error("Database initialization failed", "error", err)
		os.Exit(1)
	}

	if err := db.RunMigrations(config.Database.Url, config.Database.Schema); err != nil {
		slog.Error("Database migration failed", "error", err)
		pool.Close()
		os.Exit(1)
	}

	machineStore := machines.NewPgStore(pool)
	machineService := machines.NewService(machineStore, config.Fleet)
	sweeper := machines.NewSweeper(machineStore, pool, config.Fleet)

	userStore := users.NewPgStore(pool)
	userService := users.NewService(userStore)

	userService.ApplyAdminPassword(ctx, config.Auth.AdminInitialPassword)
	config.Auth.AdminInitialPassword = ""

	services := &internalhttp.Services{
		Machines:  machineService,
		Users:     userService,
		Pool:      pool,
		JWTConfig: config.Auth.JWT,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"PUT", "PATCH", "GET", "POST", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	engine.Use(gin.Recovery())
	internalhttp.SetupRoute(engine, config.Http, services)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Http.Port),
		Handler: engine,
	}

	sweeperCtx, stopSweeper := context.WithCancel(ctx)
	var sweeperDone sync.WaitGroup
	sweeperDone.Add(1)
	go func() {
		defer sweeperDone.Done()
		sweeper.Run(sweeperCtx)
	}()

	errChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		slog.Error("Server error", "error", err)
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	}

	slog.Info("Shutting down...")

	// Stop the sweeper first; the pool is drained only after it exits.
	stopSweeper()
	sweeperDone.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	pool.Close()
	slog.Info("Shutdown complete")
}
