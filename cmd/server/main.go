package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avask/liverelay/internal/ai/openai"
	"github.com/avask/liverelay/internal/api"
	"github.com/avask/liverelay/internal/auth"
	"github.com/avask/liverelay/internal/config"
	"github.com/avask/liverelay/internal/live"
	"github.com/avask/liverelay/internal/observability"
	"github.com/avask/liverelay/internal/relay"
	"github.com/avask/liverelay/internal/storage/sqlite"
	"github.com/avask/liverelay/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	// Load configuration with fallback logic
	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Create logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting liverelay server",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
	)

	// Create session event storage (optional)
	var eventStorage *sqlite.EventStorage
	if cfg.Storage.Enabled {
		if err := os.MkdirAll(cfg.Storage.SQLiteBasePath, 0755); err != nil {
			log.Error("Failed to create database directory",
				logger.Error(err),
				logger.String("path", cfg.Storage.SQLiteBasePath))
			os.Exit(1)
		}
		eventStorage, err = sqlite.NewEventStorage(cfg.Storage.SQLiteBasePath, log)
		if err != nil {
			log.Error("Failed to create session event storage", logger.Error(err))
			os.Exit(1)
		}
		defer eventStorage.Close()
	} else {
		log.Info("Session event storage disabled in configuration")
	}

	// Create authorization client for the collaboration provider
	authClient := auth.NewClient(
		cfg.Collab.BaseURL,
		cfg.Collab.AuthorizePath,
		cfg.Collab.Secret,
		time.Duration(cfg.Collab.RequestTimeoutSecs)*time.Second,
		log,
	)

	// Create the generation client
	openaiClient := openai.NewClient(
		cfg.OpenAI.APIKey,
		log,
		cfg.OpenAI.BaseURL,
		time.Duration(cfg.OpenAI.TimeoutSeconds)*time.Second,
	)
	openaiClient.SetChatCompletionsPath(cfg.OpenAI.ChatCompletionsPath)

	// Create the websocket room client. Reconnects mint fresh bot tokens
	// through the same authorization client.
	wsClient := live.NewWSClient(
		live.WSClientConfig{
			WebsocketBaseURL:     cfg.Collab.WebsocketBaseURL,
			RoomPath:             cfg.Collab.RoomPath,
			ReconnectInterval:    time.Duration(cfg.Collab.ReconnectIntervalSecs) * time.Second,
			MaxReconnectAttempts: cfg.Collab.MaxReconnectAttempts,
		},
		func(ctx context.Context, roomID string) (string, error) {
			res, err := authClient.Authorize(ctx, roomID, auth.BotUserID(roomID), auth.UserInfo{
				Username: cfg.Bot.Username,
				Bot:      true,
			})
			if err != nil {
				return "", err
			}
			return res.Token(), nil
		},
		log,
	)

	// Create metrics
	metrics := observability.NewMetrics(cfg.Metrics.Namespace)

	// Create the room manager registry
	var recorder relay.EventRecorder
	if eventStorage != nil {
		recorder = eventStorage
	}
	registry := relay.NewRegistry(wsClient, authClient, openaiClient, cfg, log, metrics, recorder)

	// Create API server
	var eventReader api.EventReader
	if eventStorage != nil {
		eventReader = eventStorage
	}
	server := api.NewServer(cfg, registry, authClient, eventReader, metrics, log)

	go func() {
		if err := server.Start(); err != nil {
			log.Error("HTTP server error", logger.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down server...")

	// Leave all rooms first so presence clears before the process exits
	log.Info("Leaving active room sessions...")
	registry.Shutdown()
	log.Info("Room sessions closed.")

	// Shutdown the HTTP server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", logger.Error(err))
	}

	log.Info("Server fully stopped")
}
