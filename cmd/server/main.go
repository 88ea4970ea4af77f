package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Tyrowin/roomrelay/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// .env is optional outside local development
	envErr := godotenv.Load()

	config := server.NewConfigFromEnv()
	logger := server.NewLogger(*config, os.Stdout)
	if envErr != nil {
		logger.Debug("no .env file loaded", "err", envErr)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv := server.NewServer(config,
		server.WithLogger(logger),
		server.WithMetricsRegistry(reg),
	)
	logger.Info("starting room relay", "env", config.Env, "port", config.Port, "jwt", config.JWTSecret != "")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
		return
	case sig := <-quit:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	if err := srv.Shutdown(shutdownTimeout); err != nil {
		logger.Error("shutdown error", "err", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
