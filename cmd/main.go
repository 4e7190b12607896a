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

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"whatsapp-agent/handler"
	"whatsapp-agent/internal/cache"
	"whatsapp-agent/internal/config"
	"whatsapp-agent/internal/conversation"
	"whatsapp-agent/internal/directory"
	"whatsapp-agent/internal/history"
	"whatsapp-agent/internal/integrations/openai"
	"whatsapp-agent/internal/integrations/paramstore"
	"whatsapp-agent/internal/integrations/whatsapp"
	"whatsapp-agent/internal/intent"
	"whatsapp-agent/internal/metrics"
	"whatsapp-agent/internal/phone"
	"whatsapp-agent/internal/repository"
	"whatsapp-agent/internal/store"
	"whatsapp-agent/internal/usecase"
)

// backend is a directory store that can also be seeded.
type backend interface {
	directory.Directory
	directory.Writer
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Metrics ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.MustNewMetrics(reg)

	// ---- Secrets ----
	params, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	openaiToken, err := paramstore.NewToken(params, paramstore.ParameterName(cfg.ParamPrefix, paramstore.OpenAITokenName))
	if err != nil {
		slog.Error("failed to create OpenAI token source", "err", err)
		os.Exit(1)
	}
	whatsappToken, err := paramstore.NewToken(params, paramstore.ParameterName(cfg.ParamPrefix, paramstore.WhatsAppTokenName))
	if err != nil {
		slog.Error("failed to create WhatsApp token source", "err", err)
		os.Exit(1)
	}

	normalizer := phone.Normalizer{CountryCode: cfg.Phone.CountryCode, MobilePrefix: cfg.Phone.MobilePrefix}

	// ---- Directory ----
	dir, closeDir, err := newBackend(cfg, awsCfg)
	if err != nil {
		slog.Error("failed to create directory backend", "backend", cfg.Directory.Backend, "err", err)
		os.Exit(1)
	}
	defer closeDir()

	if cfg.Directory.SeedFile != "" {
		if err := seedDirectory(ctx, dir, cfg.Directory.SeedFile, normalizer); err != nil {
			slog.Error("failed to seed directory", "path", cfg.Directory.SeedFile, "err", err)
			os.Exit(1)
		}
	}

	resolver, err := directory.NewResolver(dir, directory.Config{
		PositiveTTL: cfg.Cache.DirectoryTTL,
		NegativeTTL: cfg.Cache.NegativeTTL,
		IntentTTL:   cfg.Cache.IntentTTL,
	}, logger,
		cache.WithMaxEntries(cfg.Cache.MaxEntries),
		cache.WithSweepInterval(cfg.Cache.SweepInterval),
		cache.WithMetrics(m),
		cache.WithLogger(logger),
	)
	if err != nil {
		slog.Error("failed to create directory resolver", "err", err)
		os.Exit(1)
	}
	resolver.Start(ctx)
	defer resolver.Stop()

	// ---- Clients ----
	openaiClient, err := openai.NewClient(openaiToken, cfg.OpenAI.Model, openai.WithBaseURL(cfg.OpenAI.BaseURL))
	if err != nil {
		slog.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}
	whatsappClient, err := whatsapp.NewClient(whatsappToken, cfg.WhatsApp.PhoneNumberID,
		whatsapp.WithBaseURL(cfg.WhatsApp.BaseURL),
		whatsapp.WithAPIVersion(cfg.WhatsApp.APIVersion),
	)
	if err != nil {
		slog.Error("failed to create WhatsApp client", "err", err)
		os.Exit(1)
	}

	// ---- Conversation core ----
	chatHistory := history.NewStore(cfg.History.MaxEntries)

	reminder, err := usecase.NewReminder(openaiClient, chatHistory, whatsappClient, cfg.Conversation.FinalMessage, cfg.History.MaxContent)
	if err != nil {
		slog.Error("failed to create reminder notifier", "err", err)
		os.Exit(1)
	}
	registry, err := conversation.NewRegistry(conversation.Config{
		InactivityLimit:          cfg.Conversation.InactivityLimit,
		MaxReminders:             cfg.Conversation.MaxReminders,
		CleanupTimeout:           cfg.Conversation.CleanupTimeout,
		IdleCleanupTimeout:       cfg.Conversation.IdleCleanupTimeout,
		ResetRemindersOnActivity: cfg.Conversation.ResetRemindersOnActivity,
		NotifyTimeout:            cfg.Events.NotifyTimeout,
	}, reminder, chatHistory, conversation.WithMetrics(m), conversation.WithLogger(logger))
	if err != nil {
		slog.Error("failed to create conversation registry", "err", err)
		os.Exit(1)
	}
	defer registry.Stop()

	responder, err := usecase.NewResponder(openaiClient, chatHistory, cfg.History.MaxContent, logger)
	if err != nil {
		slog.Error("failed to create responder", "err", err)
		os.Exit(1)
	}
	classifierOpts := []usecase.ClassifierOption{usecase.WithClassifierLogger(logger)}
	if cfg.Intents.EndPhraseShortcut {
		classifierOpts = append(classifierOpts, usecase.WithEndPhrases(cfg.Intents.EndPhrases))
	}
	classifier, err := usecase.NewClassifier(openaiClient, classifierOpts...)
	if err != nil {
		slog.Error("failed to create classifier", "err", err)
		os.Exit(1)
	}
	router, err := intent.NewRouter(resolver, responder, whatsappClient, intent.WithMetrics(m), intent.WithLogger(logger))
	if err != nil {
		slog.Error("failed to create intent router", "err", err)
		os.Exit(1)
	}

	orchestrator, err := usecase.NewOrchestrator(usecase.OrchestratorDeps{
		Directory:     resolver,
		Conversations: registry,
		Classifier:    classifier,
		Router:        router,
		Responder:     responder,
		Messenger:     whatsappClient,
		TextOnlyReply: cfg.Events.TextOnlyReply,
		Metrics:       m,
		Logger:        logger,
	})
	if err != nil {
		slog.Error("failed to create orchestrator", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(orchestrator, handler.Config{
		VerifyToken:   cfg.VerifyToken,
		Normalizer:    normalizer,
		EventTimeout:  cfg.Events.Timeout,
		MaxConcurrent: cfg.Events.MaxConcurrent,
		DedupTTL:      cfg.Events.DedupTTL,
	}, handler.WithMetrics(m), handler.WithLogger(logger))
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	if cfg.RunMode == config.RunModeLambda {
		lambda.StartWithOptions(h.Handle, lambda.WithContext(ctx))
		return
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.NewRouter(h, reg),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr, "backend", cfg.Directory.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	stop()
	slog.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Events.Timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "err", err)
	}
	if err := h.Shutdown(shutdownCtx); err != nil {
		slog.Warn("in-flight messages abandoned", "err", err)
	}
	slog.Info("server stopped")
}

// newBackend opens the configured directory store. The returned func
// releases it.
func newBackend(cfg *config.Config, awsCfg aws.Config) (backend, func(), error) {
	switch cfg.Directory.Backend {
	case config.BackendSQLite:
		s, err := store.NewSQLite(cfg.Directory.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				slog.Error("failed to close sqlite store", "err", err)
			}
		}, nil
	case config.BackendDynamoDB:
		c, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.Directory.Table)
		if err != nil {
			return nil, nil, err
		}
		return c, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown directory backend %q", cfg.Directory.Backend)
	}
}

func seedDirectory(ctx context.Context, w directory.Writer, path string, n phone.Normalizer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open seed file: %w", err)
	}
	defer func() { _ = f.Close() }()

	seed, err := directory.DecodeSeed(f, n)
	if err != nil {
		return err
	}
	if err := directory.Import(ctx, w, seed); err != nil {
		return err
	}
	slog.Info("directory seeded", "path", path, "assistants", len(seed.Assistants), "channels", len(seed.Channels))
	return nil
}
