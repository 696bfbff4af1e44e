package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	_ "github.com/joho/godotenv/autoload"
	"github.com/tendant/vehicle-images/pkg/vehicleimage/cleanup"
	"github.com/tendant/vehicle-images/pkg/vehicleimage/config"
)

// workerConcurrency bounds parallel orphan deletions
const workerConcurrency = 4

func main() {
	cfg, err := config.Load(config.WithEnv())
	if err != nil {
		slog.Error("Failed to read configuration", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if cfg.RedisAddr == "" {
		slog.Error("REDIS_ADDR is required for the cleanup worker")
		os.Exit(1)
	}

	rt, err := cfg.BuildService(context.Background(), logger)
	if err != nil {
		slog.Error("Failed to build service", "err", err)
		os.Exit(1)
	}
	defer rt.Close()

	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		},
		asynq.Config{
			Concurrency: workerConcurrency,
			Logger:      &asynqLogger{logger: logger.With("component", "asynq")},
		},
	)

	mux := asynq.NewServeMux()
	cleanup.NewHandler(rt.Store, rt.Repository, logger).Register(mux)

	slog.Info("Cleanup worker starting", "redis", cfg.RedisAddr, "task", cleanup.TypeDeleteOrphan)
	// Run blocks until SIGTERM or SIGINT and then shuts down gracefully.
	if err := server.Run(mux); err != nil {
		slog.Error("Worker stopped", "err", err)
		os.Exit(1)
	}
}

// asynqLogger adapts slog to asynq.Logger
type asynqLogger struct {
	logger *slog.Logger
}

func (l *asynqLogger) Debug(args ...interface{}) { l.logger.Debug(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...interface{})  { l.logger.Info(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...interface{})  { l.logger.Warn(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...interface{}) { l.logger.Error(fmt.Sprint(args...)) }

func (l *asynqLogger) Fatal(args ...interface{}) {
	l.logger.Error(fmt.Sprint(args...))
	os.Exit(1)
}
