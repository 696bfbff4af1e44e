package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/chi-demo/app"
	"github.com/tendant/chi-demo/middleware"
	"github.com/tendant/vehicle-images/pkg/vehicleimage"
	"github.com/tendant/vehicle-images/pkg/vehicleimage/api"
	"github.com/tendant/vehicle-images/pkg/vehicleimage/config"
	"github.com/tendant/vehicle-images/pkg/vehicleimage/metrics"
)

func main() {
	cfg, err := config.Load(config.WithEnv())
	if err != nil {
		slog.Error("Failed to read configuration", "err", err)
		fmt.Fprintln(os.Stderr, config.Usage())
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	observer, err := metrics.NewPrometheusObserver("vehicle_images", prometheus.DefaultRegisterer)
	if err != nil {
		slog.Error("Failed to register metrics", "err", err)
		os.Exit(1)
	}

	ctx := context.Background()
	rt, err := cfg.BuildService(ctx, logger, vehicleimage.WithObserver(observer))
	if err != nil {
		slog.Error("Failed to build service", "err", err)
		os.Exit(1)
	}
	defer rt.Close()

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	app.RoutesHealthz(r)
	app.RoutesHealthzReady(r)
	r.Handle("/metrics", promhttp.Handler())

	authMiddlewares, err := authentication(cfg)
	if err != nil {
		slog.Error("Failed to initialize authentication", "err", err)
		os.Exit(1)
	}

	imagesHandler := api.NewImagesHandler(rt.Service)
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(authMiddlewares...)
			r.Mount("/vehicles", imagesHandler.Routes())
		})
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Server starting", "port", cfg.Port, "environment", cfg.Environment,
			"storage", cfg.Storage.Backend, "database", cfg.DatabaseType)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "err", err)
	}
}

// authentication returns the API key middleware and, when JWT_SECRET is set,
// bearer token verification.
func authentication(cfg *config.ServerConfig) ([]func(http.Handler) http.Handler, error) {
	var mws []func(http.Handler) http.Handler

	if cfg.APIKeySHA256 != "" {
		apiKeyMiddleware, err := middleware.ApiKeyMiddleware(middleware.ApiKeyConfig{
			APIKeys: map[string]string{
				"key1": cfg.APIKeySHA256,
			},
		})
		if err != nil {
			return nil, err
		}
		mws = append(mws, apiKeyMiddleware)
	} else {
		slog.Warn("API_KEY_SHA256 not set, API key check disabled")
	}

	if cfg.JWTSecret != "" {
		tokenAuth := jwtauth.New("HS256", []byte(cfg.JWTSecret), nil)
		mws = append(mws, jwtauth.Verifier(tokenAuth), jwtauth.Authenticator)
	}

	return mws, nil
}
