package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yoockh/yoorelay/config"
	"github.com/yoockh/yoorelay/internal/api/handlers"
	"github.com/yoockh/yoorelay/internal/api/middleware"
	"github.com/yoockh/yoorelay/internal/api/routes"
	"github.com/yoockh/yoorelay/internal/audio"
	"github.com/yoockh/yoorelay/internal/cache"
	"github.com/yoockh/yoorelay/internal/history"
	"github.com/yoockh/yoorelay/internal/metrics"
	"github.com/yoockh/yoorelay/internal/providers/llm"
	"github.com/yoockh/yoorelay/internal/providers/stt"
	"github.com/yoockh/yoorelay/internal/providers/tts"
	mongorepo "github.com/yoockh/yoorelay/internal/repositories/mongo"
	pgrepo "github.com/yoockh/yoorelay/internal/repositories/postgres"
	"github.com/yoockh/yoorelay/internal/services"
	"github.com/yoockh/yoorelay/internal/storage"
	"github.com/yoockh/yoorelay/internal/transport"
	"github.com/yoockh/yoorelay/internal/usage"
	"github.com/yoockh/yoorelay/internal/workers"
)

func newServeCmd(log *logrus.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Consume inbound messages and serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(true); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	if err := config.InitRedis(ctx, cfg.RedisURL); err != nil {
		return err
	}
	log.Info("Redis connected")
	rdb := config.RedisClient

	// Trace log and archive are optional
	traces := services.NewTraceService(nil, 0)
	if cfg.MongoURI != "" {
		if err := config.InitMongo(cfg.MongoURI); err != nil {
			log.WithError(err).Warn("MongoDB unavailable, message traces disabled")
		} else {
			if err := config.EnsureMongoIndexes(cfg.MongoDB, mongorepo.TraceCollection); err != nil {
				log.WithError(err).Warn("failed to ensure mongo indexes")
			}
			traces = services.NewTraceService(mongorepo.NewTraceRepo(config.MongoClient.Database(cfg.MongoDB)), cfg.TraceTTL)
			log.Info("MongoDB connected")
		}
	}

	archive := services.NewArchiveService(nil)
	if cfg.PostgresURI != "" {
		if err := config.InitPostgres(cfg.PostgresURI); err != nil {
			log.WithError(err).Warn("PostgreSQL unavailable, conversation archive disabled")
		} else {
			archive = services.NewArchiveService(pgrepo.NewConversationRepo(config.PostgresDB))
			log.Info("PostgreSQL connected")
		}
	}

	completer, err := newCompleter(ctx, cfg)
	if err != nil {
		return err
	}
	transcriber, err := newTranscriber(ctx, cfg)
	if err != nil {
		return err
	}
	synth, err := tts.NewOpenAISpeech(tts.OpenAISpeechConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.SpeechModel,
		Voice:   cfg.SpeechVoice,
		Speed:   cfg.SpeechSpeed,
	})
	if err != nil {
		return err
	}

	var voices *storage.GCSUploader
	if cfg.VoiceBucket != "" {
		voices, err = storage.NewGCSUploader(ctx, cfg.VoiceBucket, cfg.VoiceBucketPublic)
		if err != nil {
			return err
		}
		defer voices.Close()
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	store := history.NewStore(cfg.MaxHistoryLength)
	rec := usage.NewRecorder(cfg.DebugTokens, log)

	orchCfg := services.OrchestratorConfig{
		TextModel:     cfg.TextModel,
		AudioModel:    cfg.AudioTextModel,
		TextPrompt:    cfg.Prompts.TextPrompt,
		AudioPrompt:   cfg.Prompts.AudioPrompt,
		AudioSpeed:    cfg.AudioSpeed,
		MaxMediaBytes: cfg.MaxMediaBytes,
	}
	deps := services.OrchestratorDeps{
		Store:       store,
		Usage:       rec,
		Accelerator: audio.NewAccelerator(cfg.FFmpegPath, log),
		LLM:         completer,
		STT:         transcriber,
		TTS:         synth,
		Sender:      transport.NewRedisSender(rdb),
		Traces:      traces,
		Archive:     archive,
		Metrics:     m,
		Logger:      log,
	}
	if voices != nil {
		deps.VoiceStore = voices
	}
	orch, err := services.NewOrchestrator(orchCfg, deps)
	if err != nil {
		return err
	}

	dispatcher := services.NewDispatcher(orch, cfg.MessageTimeout, log, m)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	pool := &workers.InboundWorkerPool{
		Redis:          rdb,
		Dispatcher:     dispatcher,
		NumWorkers:     cfg.Workers,
		Logger:         log,
		Seen:           cache.NewRedisCache(rdb),
		ConsumerPrefix: consumerPrefix(),
		ClaimIdle:      cfg.ClaimIdle,
	}
	if err := pool.Start(workerCtx); err != nil {
		return err
	}

	inbox := transport.NewRedisInbox(rdb, "")

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log, m))
	routes.RegisterRoutes(r, routes.Deps{
		Admin:          handlers.NewAdminHandler(store, rec, traces, archive, dispatcher, log),
		Messages:       handlers.NewMessageHandler(inbox, cfg.MaxMediaBytes),
		WS:             handlers.NewWSHandler(inbox, rdb, cfg.MaxMediaBytes, log),
		Metrics:        promhttp.Handler(),
		AdminJWTSecret: cfg.AdminJWTSecret,
		AdminJWTIssuer: cfg.AdminJWTIssuer,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.Port).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var result *multierror.Error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			result = multierror.Append(result, err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stopWorkers()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		result = multierror.Append(result, err)
	}
	for _, c := range []interface{ Close() error }{completer, transcriber, synth} {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if config.MongoClient != nil {
		if err := config.MongoClient.Disconnect(shutdownCtx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if config.PostgresDB != nil {
		if sqlDB, err := config.PostgresDB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	if err := rdb.Close(); err != nil {
		result = multierror.Append(result, err)
	}

	return result.ErrorOrNil()
}

func newCompleter(ctx context.Context, cfg *config.Config) (llm.Completer, error) {
	if cfg.LLMProvider == "vertex" {
		return llm.NewVertexGemini(ctx, cfg.VertexProject, cfg.VertexLocation, cfg.VertexModel)
	}
	return llm.NewOpenAIChat(llm.OpenAIConfig{
		APIKey:          cfg.OpenAIAPIKey,
		BaseURL:         cfg.OpenAIBaseURL,
		ReasoningEffort: cfg.ReasoningEffort,
	})
}

func newTranscriber(ctx context.Context, cfg *config.Config) (stt.Transcriber, error) {
	if cfg.STTProvider == "google" {
		return stt.NewGoogleSpeech(ctx, cfg.GoogleSpeechLanguage)
	}
	return stt.NewOpenAIWhisper(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.TranscriptionModel)
}

// consumerPrefix names this instance's stream consumers so a restarted
// process replays its own pending entries.
func consumerPrefix() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "c"
}
