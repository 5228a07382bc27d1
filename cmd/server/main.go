package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/leolani/chatui/internal/api"
	"github.com/leolani/chatui/internal/config"
	"github.com/leolani/chatui/internal/eventbus"
	"github.com/leolani/chatui/internal/repository/memory"
	"github.com/leolani/chatui/internal/service"
)

func main() {
	// Load .env file - try multiple locations
	envPaths := []string{".env", "../.env", "../../.env"}
	for _, p := range envPaths {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	// Setup logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	log.Info().
		Str("name", cfg.Chat.Name).
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Int("timeout_minutes", cfg.Chat.TimeoutMinutes).
		Msg("Starting chat relay server")

	// Initialize event bus
	var bus *eventbus.Bus
	if cfg.Redis.Enabled {
		bus, err = eventbus.NewRedis(cfg.Redis, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		log.Info().Str("addr", cfg.Redis.Addr()).Msg("Using Redis Streams event transport")
	} else {
		bus = eventbus.NewInMemory(log.Logger)
		log.Info().Msg("Using in-memory event transport")
	}
	defer bus.Close()

	// Initialize store and coordinator
	store := memory.NewStore()
	locator := service.NewLocator(cfg.Location, log.Logger)
	locator.Refresh()

	coordinator := service.NewCoordinator(cfg, store, bus, locator, log.Logger)

	// Start the event consumer
	worker, err := bus.StartWorker(coordinator.Topics(), coordinator.Process)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to subscribe to event topics")
	}

	// Initialize router
	router := api.NewRouter(coordinator)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop the event consumer and wait for it to drain
	worker.Close()

	log.Info().Msg("Server stopped")
}
