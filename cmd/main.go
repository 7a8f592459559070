package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
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

	"wa-relay/handler"
	"wa-relay/internal/config"
	"wa-relay/internal/dedup"
	"wa-relay/internal/dispatch"
	"wa-relay/internal/integrations/openai"
	"wa-relay/internal/integrations/paramstore"
	"wa-relay/internal/integrations/whatsapp"
	"wa-relay/internal/memory"
	"wa-relay/internal/metrics"
	"wa-relay/internal/retrieval"
	"wa-relay/internal/telemetry"
	"wa-relay/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env", "err", err)
	}
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		fatal("invalid configuration", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	// ---- AWS SDK config (only when something needs it) ----
	var awsCfg *aws.Config
	loadAWS := func() aws.Config {
		if awsCfg == nil {
			c, err := awsconfig.LoadDefaultConfig(ctx)
			if err != nil {
				fatal("failed to load AWS config", err)
			}
			awsCfg = &c
		}
		return *awsCfg
	}

	if cfg.ParamPrefix != "" {
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(loadAWS()))
		if err != nil {
			fatal("failed to create SSM client", err)
		}
		if err := ssmClient.Fill(ctx, cfg.ParamPrefix, cfg.SecretTargets()); err != nil {
			fatal("failed to resolve secrets", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		fatal("invalid configuration", err)
	}

	// ---- Observability ----
	metrics.Init()
	tracer := telemetry.InitTracer(ctx, cfg.Telemetry, logger)

	// ---- Clients ----
	openaiOpts := []openai.Option{}
	if cfg.OpenAI.BaseURL != "" {
		openaiOpts = append(openaiOpts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	openaiClient, err := openai.NewClient(cfg.OpenAI.APIKey, openaiOpts...)
	if err != nil {
		fatal("failed to create OpenAI client", err)
	}

	backend, err := newRetrievalBackend(cfg.Retrieval)
	if err != nil {
		fatal("failed to create retrieval backend", err)
	}
	retriever, err := retrieval.NewService(backend, retrieval.ServiceConfig{
		TopK:          cfg.Retrieval.TopK,
		Timeout:       cfg.Retrieval.Timeout,
		ExpandQueries: cfg.Retrieval.ExpandQueries,
	}, logger)
	if err != nil {
		fatal("failed to create retrieval service", err)
	}

	waClient, err := whatsapp.NewClient(whatsapp.Config{
		Token:         cfg.WhatsApp.Token,
		PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
		BaseURL:       cfg.WhatsApp.BaseURL,
		APIVersion:    cfg.WhatsApp.APIVersion,
		Timeout:       cfg.WhatsApp.Timeout,
		SendRPS:       cfg.WhatsApp.SendRPS,
	})
	if err != nil {
		fatal("failed to create WhatsApp client", err)
	}
	dispatcher, err := dispatch.New(waClient, logger)
	if err != nil {
		fatal("failed to create dispatcher", err)
	}

	deduper, err := newDeduper(ctx, cfg.Dedup, loadAWS)
	if err != nil {
		fatal("failed to create dedup store", err)
	}

	// ---- Use cases ----
	composer, err := usecase.NewComposer(openaiClient, usecase.ComposerConfig{
		Model:           cfg.OpenAI.Model,
		Timeout:         cfg.OpenAI.Timeout,
		NotFoundMessage: cfg.NotFoundMessage,
		FallbackMessage: cfg.FallbackMessage,
	}, logger)
	if err != nil {
		fatal("failed to create composer", err)
	}
	relay, err := usecase.NewRelayService(usecase.RelayDeps{
		Memory:     memory.New(cfg.MemoryWindow),
		Retriever:  retriever,
		Responder:  composer,
		Dispatcher: dispatcher,
		Deduper:    deduper,
		AdminToken: cfg.AdminToken,
		Logger:     logger,
	})
	if err != nil {
		fatal("failed to create relay service", err)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(relay, handler.Config{
		VerifyToken: cfg.WhatsApp.VerifyToken,
		AppSecret:   cfg.WhatsApp.AppSecret,
		Service:     cfg.Telemetry.ServiceName,
	}, logger)
	if err != nil {
		fatal("failed to create handler", err)
	}

	logger.Info("relay configured",
		"runtime", cfg.Runtime,
		"retrieval_backend", retriever.BackendName(),
		"dedup_backend", cfg.Dedup.Backend,
		"model", cfg.OpenAI.Model,
	)

	if cfg.Runtime == config.RuntimeLambda {
		lambda.Start(telemetry.FlushAfter(tracer, logger, h.Handle))
		return
	}
	serve(h, cfg.Port, logger, tracer)
}

func serve(h *handler.Handler, port string, logger *slog.Logger, tracer *telemetry.Provider) {
	app := handler.NewServer(h, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "port", port)
		errCh <- app.Listen(":" + port)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			fatal("server stopped", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "err", err)
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracer shutdown failed", "err", err)
	}
	logger.Info("server stopped")
}

func newRetrievalBackend(cfg config.Retrieval) (retrieval.Backend, error) {
	if cfg.Backend == retrieval.BackendAutoRAG {
		return retrieval.NewAutoRAGClient(cfg.AutoRAG)
	}
	return retrieval.NewHybridClient(cfg.Hybrid)
}

func newDeduper(ctx context.Context, cfg config.Dedup, loadAWS func() aws.Config) (usecase.Deduper, error) {
	switch cfg.Backend {
	case config.DedupNone:
		return dedup.Noop{}, nil
	case config.DedupRedis:
		return dedup.NewRedis(ctx, dedup.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.TTL,
		})
	case config.DedupDynamoDB:
		return dedup.NewDynamoDB(awsdynamodb.NewFromConfig(loadAWS()), cfg.Table, cfg.TTL)
	default:
		return dedup.NewMemory(cfg.TTL), nil
	}
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
