// Package app wires configuration, storage, the generation provider and the
// HTTP surface together.
package app

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/JoshBonura/ai-agent-playground-sub001/internal/api"
	"github.com/JoshBonura/ai-agent-playground-sub001/internal/config"
	"github.com/JoshBonura/ai-agent-playground-sub001/internal/database"
	"github.com/JoshBonura/ai-agent-playground-sub001/internal/llm"
	"github.com/JoshBonura/ai-agent-playground-sub001/internal/repository"
	"github.com/JoshBonura/ai-agent-playground-sub001/internal/service"
	"github.com/JoshBonura/ai-agent-playground-sub001/internal/store"
)

// App holds the long-lived components of a running instance.
type App struct {
	Server *http.Server
	DB     *sql.DB
	Chat   *service.ChatService
}

// NewApp assembles the application from a loaded configuration. It does not
// start serving.
func NewApp(cfg *config.Config) (*App, error) {
	repo, db, err := buildRepository(cfg)
	if err != nil {
		return nil, err
	}

	provider := llm.NewHTTPProvider(cfg.GeneratorURL)
	view := store.New()
	chatService := service.NewChatService(repo, provider, view, cfg)

	chatHandler := api.NewChatHandler(chatService)
	router := api.NewRouter(chatHandler)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.AppPort),
		Handler:           router,
		ReadHeaderTimeout: 20 * time.Second,
		WriteTimeout:      0, // Disabled for streaming endpoints
		IdleTimeout:       120 * time.Second,
	}

	return &App{Server: server, DB: db, Chat: chatService}, nil
}

// buildRepository selects the persistence backend from configuration. DB is
// nil for the redis backend.
func buildRepository(cfg *config.Config) (repository.Repository, *sql.DB, error) {
	switch strings.ToLower(cfg.RepositoryBackend) {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		slog.Info("Using Redis repository", "addr", cfg.RedisAddr)
		return repository.NewRedisRepository(rdb), nil, nil
	case "", "sqlite":
		db, err := database.InitDB(cfg.DatabasePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		slog.Info("Using SQLite repository", "path", cfg.DatabasePath)
		return repository.NewSQLiteRepository(db), db, nil
	default:
		return nil, nil, fmt.Errorf("unknown repository backend %q", cfg.RepositoryBackend)
	}
}

func Run() int {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return 1
	}

	setupLogger(cfg.LogLevel)
	logConfigSource()
	waitForBackend(cfg.GeneratorURL)

	app, err := NewApp(cfg)
	if err != nil {
		slog.Error("Failed to assemble application", "error", err)
		return 1
	}
	if app.DB != nil {
		defer func() {
			if err := app.DB.Close(); err != nil {
				slog.Error("Failed to close database connection", "error", err)
			}
		}()
	}
	defer app.Chat.Shutdown()

	slog.Info("Starting server", "port", cfg.AppPort)
	if err := app.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server failed", "error", err)
		return 1
	}
	return 0
}

func logConfigSource() {
	if file := viper.ConfigFileUsed(); file != "" {
		slog.Info("Successfully loaded configuration from file.", "file", file)
	} else {
		slog.Info("Configuration file not found. Using environment variables and defaults.")
	}
}

func setupLogger(logLevel string) {
	var level slog.Level
	switch strings.ToUpper(logLevel) {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}

// waitForBackend blocks until the generation backend answers its health
// endpoint. The backend is the app's only hard runtime dependency.
func waitForBackend(url string) {
	slog.Info("Waiting for generation backend to be ready...")
	client := &http.Client{Timeout: 2 * time.Second}
	for {
		resp, err := client.Get(url + "/healthz")
		if err == nil && resp.StatusCode == http.StatusOK {
			_ = resp.Body.Close()
			slog.Info("Generation backend is ready.")
			return
		}
		if resp != nil {
			_ = resp.Body.Close()
		}
		slog.Debug("Backend not ready yet, retrying in 3 seconds...", "url", url, "error", err)
		time.Sleep(3 * time.Second)
	}
}
