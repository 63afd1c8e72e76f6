// Command api serves the slide-to-video job API. It runs as a standalone
// server, and registers the same handler as the "HandleJobs" HTTP function.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/nomadcafe/kekiai-japaneseai/internal/config"
	"github.com/nomadcafe/kekiai-japaneseai/internal/logging"
)

var (
	instance *app
	once     sync.Once
	initErr  error
)

func init() {
	functions.HTTP("HandleJobs", handleJobs)
}

// setup builds the process-wide app exactly once.
func setup() (*app, error) {
	once.Do(func() {
		cfg := config.Load()
		slog.SetDefault(logging.New(cfg.Log.Level))
		instance, initErr = newApp(context.Background(), cfg)
	})
	return instance, initErr
}

func handleJobs(w http.ResponseWriter, r *http.Request) {
	a, err := setup()
	if err != nil {
		slog.Error("CRITICAL: API initialization failed", "error", err)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	a.handler.ServeHTTP(w, r)
}

func main() {
	a, err := setup()
	if err != nil {
		slog.Error("CRITICAL: API initialization failed", "error", err)
		os.Exit(1)
	}
	defer a.close()

	httpServer := &http.Server{
		Addr:              ":" + a.cfg.Server.Port,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("API server starting.", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	slog.Info("Shutting down.")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown error", "error", err)
	}
	// Stages in flight keep running until their current step returns.
	a.tasks.Wait()
	slog.Info("Shutdown complete.")
}
