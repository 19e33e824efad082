package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	flag "github.com/spf13/pflag"

	"coliblanco-backend/internal/cache"
	"coliblanco-backend/internal/config"
	"coliblanco-backend/internal/database"
	"coliblanco-backend/internal/handlers"
	"coliblanco-backend/internal/logging"
	"coliblanco-backend/internal/middleware"
	"coliblanco-backend/internal/repository"
	"coliblanco-backend/internal/router"
	"coliblanco-backend/internal/services"
	"coliblanco-backend/internal/storage"
	"coliblanco-backend/internal/voice"
	"coliblanco-backend/internal/websocket"
	"coliblanco-backend/internal/worker"
)

func main() {
	var (
		envFile    = flag.String("env", "", "path to .env file (default: ./.env)")
		logLevel   = flag.String("log", "", "log level: debug, info, warn, error (overrides LOG_LEVEL)")
		noColor    = flag.Bool("no-color", false, "disable coloured log output")
		migrations = flag.String("migrations", "", "directory with SQL migrations (default: the embedded set)")
	)
	flag.Parse()

	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load(*envFile)
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	logging.Setup(os.Stderr, cfg.LogLevel, *noColor)

	slog.Info("starting Coliblanco voice backend", "env", cfg.Env)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.OpenAIAPIKey == "" {
		slog.Warn("VITE_OPENAI_API_KEY is not set, serving fallbacks only")
	}

	// ──── Step 2: OpenAI Client ────
	httpClient, err := services.NewHTTPClient(cfg.OpenAISocksProxy, 2*time.Minute)
	if err != nil {
		slog.Error("http client setup failed", "error", err)
		os.Exit(1)
	}
	openaiService := services.NewOpenAIService(services.OpenAIConfig{
		APIKey:         cfg.OpenAIAPIKey,
		BaseURL:        cfg.OpenAIBaseURL,
		HTTPClient:     httpClient,
		MaxRetries:     cfg.OpenAIMaxRetries,
		STTModel:       cfg.STTModel,
		LLMModel:       cfg.LLMModel,
		TTSModel:       cfg.TTSModel,
		TTSVoice:       cfg.TTSVoice,
		RealtimeModel:  cfg.RealtimeModel,
		RealtimeVoice:  cfg.RealtimeVoice,
		Temperature:    cfg.ChatTemperature,
		MaxTokens:      cfg.ChatMaxTokens,
		ReplyMaxTokens: 100,
	})
	slog.Info("OpenAI client ready", "configured", openaiService.Configured(), "proxy", cfg.OpenAISocksProxy != "")

	health := handlers.NewHealthHandler(openaiService.Configured())

	// ──── Step 3: Redis (optional) ────
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = database.NewRedisClient(cfg.RedisURL)
		if err != nil {
			slog.Error("Redis connection failed", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		health.AddCheck("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		slog.Info("Redis connected")
	}

	// ──── Step 4: PostgreSQL (optional) ────
	var exchangeRepo *repository.ExchangeRepo
	if cfg.DatabaseURL != "" {
		pool, err := database.NewPostgresPool(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("PostgreSQL connection failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		var migrationFS fs.FS
		if *migrations != "" {
			migrationFS = os.DirFS(*migrations)
		} else if migrationFS, err = fs.Sub(database.Migrations, "migrations"); err != nil {
			slog.Error("embedded migrations unavailable", "error", err)
			os.Exit(1)
		}
		if err := database.RunMigrations(context.Background(), pool, migrationFS); err != nil {
			slog.Error("database migration failed", "error", err)
			os.Exit(1)
		}
		exchangeRepo = repository.NewExchangeRepo(pool)
		health.AddCheck("postgres", pool.Ping)
		slog.Info("PostgreSQL connected, migrations applied")
	}

	// ──── Step 5: Audio Storage ────
	audioStore, err := storage.NewAudioStore(cfg.StoragePath, "/audio")
	if err != nil {
		slog.Error("audio storage setup failed", "error", err)
		os.Exit(1)
	}
	janitor := storage.NewJanitor(audioStore, cfg.AudioTTL)
	janitor.Start()

	// ──── Step 6: Voice Pipeline ────
	var responder voice.Responder = openaiService
	if cfg.LLMProvider == "gemini" {
		gemini, err := services.NewGeminiService(cfg.GeminiAPIKey, cfg.GeminiModel, 5, cfg.ChatTemperature, 100)
		if err != nil {
			slog.Error("Gemini client initialization failed", "error", err)
			os.Exit(1)
		}
		defer gemini.Close()
		responder = gemini
	}
	slog.Info("voice responder selected", "provider", cfg.LLMProvider)

	var history voice.History = voice.NewMemoryHistory()
	if rdb != nil {
		history = voice.NewRedisHistory(rdb, 24*time.Hour)
	}

	pipeline := voice.NewPipeline(openaiService, responder, openaiService, history, voice.PipelineConfig{
		Language:      cfg.AssistantLanguage,
		SystemPrompt:  cfg.AssistantPrompt,
		DeltaInterval: cfg.TextDeltaInterval,
		Voice:         cfg.TTSVoice,
		TTSModel:      cfg.TTSModel,
	}).WithAudioSink(audioStore)
	var exchangeWorkers *worker.Pool
	switch {
	case exchangeRepo != nil && rdb != nil:
		exchangeWorkers = worker.NewPool(rdb, exchangeRepo, cfg.ExchangeWorkers)
		exchangeWorkers.Start()
		pipeline.WithExchangeRecorder(exchangeWorkers)
	case exchangeRepo != nil:
		pipeline.WithExchangeRecorder(exchangeRepo)
	}

	// ──── Step 7: WebSocket Hub ────
	hub := websocket.NewHub(pipeline, cfg.MaxVoiceSessions, cfg.AssistantLanguage)
	health.WithSessions(hub.Count)

	// ──── Step 8: HTTP Server ────
	proxy := handlers.NewProxyHandler(openaiService, cfg.AssistantLanguage).WithAudioStore(audioStore)
	if rdb != nil {
		proxy.WithSpeechCache(cache.NewTTSCache(rdb, cfg.TTSCacheTTL))
	}

	// A nil *ExchangeRepo must not reach the handler as a non-nil interface.
	conversations := handlers.NewConversationHandler(pipeline, nil)
	if exchangeRepo != nil {
		conversations = handlers.NewConversationHandler(pipeline, exchangeRepo)
	}

	var jwtAuth *middleware.JWTAuth
	if cfg.AuthSecret != "" {
		jwtAuth = middleware.NewJWTAuth(cfg.AuthSecret)
		slog.Info("token auth enabled")
	}
	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute)

	corsOrigins := cfg.FrontendURL
	if cfg.IsDevelopment() {
		corsOrigins = "*"
	}

	r := router.New(router.Deps{
		Proxy:        proxy,
		Audio:        handlers.NewAudioHandler(audioStore),
		Conversation: conversations,
		Health:       health,
		Hub:          hub,
		JWTAuth:      jwtAuth,
		RateLimiter:  limiter,
		FrontendURL:  corsOrigins,
	})

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: /tts streams and /ws/voice is long-lived.
		IdleTimeout: 60 * time.Second,
	}

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		slog.Error("listen failed", "addr", server.Addr, "error", err)
		os.Exit(1)
	}

	slog.Info("Coliblanco voice backend ready",
		"http", fmt.Sprintf("http://localhost:%s", cfg.Port),
		"ws", fmt.Sprintf("ws://localhost:%s/ws/voice", cfg.Port),
	)

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	err = serve(server, ln, sigChan, 30*time.Second,
		func() {
			slog.Info("shutting down")
			janitor.Stop()
			limiter.Stop()
			// Hijacked websocket connections are not tracked by Shutdown.
			hub.Shutdown()
		},
		func() {
			if exchangeWorkers != nil {
				exchangeWorkers.Stop()
			}
		},
	)
	if err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// serve runs server on ln until a signal arrives, then drains in-flight
// requests for up to drain. It returns only after the drain has finished,
// so deferred closes in main never race active handlers.
func serve(server *http.Server, ln net.Listener, sig <-chan os.Signal, drain time.Duration, beforeDrain, afterDrain func()) error {
	done := make(chan error, 1)
	go func() {
		<-sig
		if beforeDrain != nil {
			beforeDrain()
		}

		ctx, cancel := context.WithTimeout(context.Background(), drain)
		defer cancel()
		err := server.Shutdown(ctx)

		if afterDrain != nil {
			afterDrain()
		}
		done <- err
	}()

	if err := server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return <-done
}
