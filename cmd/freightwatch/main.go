package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"freightwatch/internal/alert"
	"freightwatch/internal/auth"
	"freightwatch/internal/bridge"
	"freightwatch/internal/cache"
	"freightwatch/internal/config"
	"freightwatch/internal/engine"
	"freightwatch/internal/handler"
	"freightwatch/internal/hub"
	"freightwatch/internal/middleware"
	"freightwatch/internal/refdata"
	"freightwatch/internal/registry"
	"freightwatch/internal/simulator"
	"freightwatch/internal/store"
	"freightwatch/internal/tracker"
	"freightwatch/pkg/geofenceapi"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("starting freightwatch server",
		"log_level", cfg.LogLevel.String(),
		"http_addr", cfg.HTTPAddr,
		"tick_interval", cfg.TickInterval.String(),
	)

	data, err := refdata.Load(cfg.RefDataPath)
	if err != nil {
		logger.Error("failed to load reference data", "path", cfg.RefDataPath, "error", err)
		os.Exit(1)
	}

	reg := registry.New(logger)
	for _, g := range data.Geofences {
		if err := reg.Upsert(g); err != nil {
			logger.Error("failed to register geofence", "geofence_id", g.ID, "error", err)
			os.Exit(1)
		}
	}

	fleet := store.New(cfg.TruckStaleAfter)
	borderTracker := tracker.New(logger)
	sim := simulator.New(logger, time.Now().UnixNano())
	pipeline := alert.NewPipeline(data)
	wsHub := hub.NewHub(logger)
	eng := engine.New(cfg, sim, fleet, borderTracker, reg, pipeline, wsHub, data.Corridors, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.NATSEnabled {
		publisher, err := bridge.NewPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to connect to nats", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		eng.SetMirror(publisher)
	}

	if cfg.RedisEnabled {
		redisCache, err := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.CacheTTL, logger)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisCache.Close()

		if cfg.CacheWarmOnStart {
			cache.NewWarmer(redisCache, reg, data, logger).WarmAll(ctx)
		}

		writer := cache.NewWriter(redisCache, logger)
		go writer.Run(ctx)
		eng.SetCacheSink(writer)
	}

	verifier := auth.NewHMACVerifier(cfg.AuthSecret)

	httpHandler := handler.NewHTTPHandler(fleet, reg, borderTracker, eng, data.Corridors)
	wsHandler := handler.NewWSHandler(wsHub, fleet, verifier, cfg.AuthTimeout, logger)
	healthHandler := handler.NewHealthHandler(eng, fleet, reg)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/trucks", httpHandler.ListTrucks)
	mux.HandleFunc("GET /v1/trucks/{id}", httpHandler.GetTruck)
	mux.HandleFunc("GET /v1/trucks/{id}/location", httpHandler.GetTruckLocation)
	mux.HandleFunc("/v1/ws", wsHandler.ServeWS)

	mux.HandleFunc("GET /v1/geofences", httpHandler.ListGeofences)
	mux.HandleFunc("POST /v1/geofences", httpHandler.UpsertGeofence)
	mux.HandleFunc("DELETE /v1/geofences/{id}", httpHandler.DeleteGeofence)
	mux.HandleFunc("GET /v1/geofences/{id}/trucks", httpHandler.TrucksInGeofence)

	mux.HandleFunc("GET /v1/corridors", httpHandler.ListCorridors)
	mux.HandleFunc("GET /v1/alerts", httpHandler.ListAlerts)
	mux.HandleFunc("GET /v1/alerts/stats", httpHandler.AlertStats)

	mux.HandleFunc("GET /v1/journeys", httpHandler.ListJourneys)
	mux.HandleFunc("POST /v1/journeys", httpHandler.StartJourney)
	mux.HandleFunc("DELETE /v1/journeys/{entityId}", httpHandler.StopJourney)

	mux.HandleFunc("GET /healthz", healthHandler.Healthz)
	mux.HandleFunc("GET /readyz", healthHandler.Readyz)

	rl := middleware.NewRateLimiter(cfg.RateLimitPerWindow, cfg.RateLimitWindow, cfg.RateLimitWhitelist, logger)
	root := rl.Middleware(handler.CORSMiddleware(handler.GzipMiddleware(mux)))

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      root,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go wsHub.Run(ctx)

	go eng.Run(ctx)

	if cfg.GeofenceAPIURL != "" {
		client := geofenceapi.New(cfg.GeofenceAPIURL, cfg.GeofenceAPIKey)
		refresher := engine.NewRefresher(client, reg, cfg.GeofenceAPIInterval, logger)
		go refresher.Run(ctx)
	}

	go func() {
		logger.Info("starting HTTP server", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}
