package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/realism/config"
	"github.com/mohammad-safakhou/realism/internal/classifier"
	"github.com/mohammad-safakhou/realism/internal/job"
	"github.com/mohammad-safakhou/realism/internal/orchestrator"
	"github.com/mohammad-safakhou/realism/internal/queue/streams"
	"github.com/mohammad-safakhou/realism/internal/runtime"
	"github.com/mohammad-safakhou/realism/internal/sapiom"
	"github.com/mohammad-safakhou/realism/internal/store"
	"github.com/mohammad-safakhou/realism/internal/tools"
	"github.com/mohammad-safakhou/realism/internal/worker"
	"github.com/redis/go-redis/v9"
	openai "github.com/sashabaranov/go-openai"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// app holds the process-wide dependencies shared by every subcommand.
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	telemetry *runtime.Telemetry
	meter     otelmetric.Meter
	tracer    trace.Tracer
	rdb       redis.UniversalClient
	store     *store.Redis
	registry  *streams.SchemaRegistry
	jobs      *job.Service
	queue     *streams.StepQueue
	sapiom    *sapiom.Client
	llm       *openai.Client
	runner    *worker.Runner
}

func newApp(ctx context.Context, cfgPath, service string) (*app, error) {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := runtime.NewLogger(cfg.General)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	logger = logger.With(zap.String("service", service))

	tel, meter, tracer, err := runtime.SetupTelemetry(ctx, cfg.Telemetry, runtime.TelemetryOptions{
		ServiceName:    service,
		ServiceVersion: version,
		Logger:         logger.Named("telemetry"),
	})
	if err != nil {
		return nil, err
	}

	st, registry, err := runtime.InitStore(ctx, cfg)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}
	rdb := st.Client()

	jobs := job.NewService(st)
	queue := streams.NewStepQueue(streams.NewPublisher(rdb, registry), cfg.Worker.Stream, cfg.Worker.StreamMaxLen)
	sc := newSapiomClient(cfg.Sapiom, logger)
	llm := newLLMClient(cfg.LLM)

	engine := orchestrator.NewEngine(orchestrator.Deps{
		Checkpoints: st,
		Events:      st,
		Artifacts:   st,
		Spend:       jobs,
		Model:       llm,
		Tools:       newDispatcher(cfg.Browser, sc, logger),
	},
		orchestrator.WithConfig(orchestrator.Config{
			Model:         cfg.LLM.Model,
			MaxTokens:     cfg.LLM.MaxTokens,
			MaxIterations: cfg.LLM.MaxIterations,
			MaxAttempts:   cfg.LLM.MaxAttempts,
			Backoff:       cfg.LLM.Backoff,
			CheckpointTTL: store.StateTTL,
			WrapUpRatio:   cfg.LLM.WrapUpRatio,
		}),
		orchestrator.WithLogger(logger.Named("orchestrator")),
		orchestrator.WithMeter(meter),
		orchestrator.WithTracer(tracer),
	)
	runner := worker.NewRunner(jobs, engine, st, queue,
		worker.WithClaimTTL(cfg.Worker.ClaimTTL),
		worker.WithRunnerLogger(logger.Named("runner")),
		worker.WithRunLog(st),
	)

	return &app{
		cfg:       cfg,
		log:       logger,
		telemetry: tel,
		meter:     meter,
		tracer:    tracer,
		rdb:       rdb,
		store:     st,
		registry:  registry,
		jobs:      jobs,
		queue:     queue,
		sapiom:    sc,
		llm:       llm,
		runner:    runner,
	}, nil
}

func (a *app) close(ctx context.Context) {
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.log.Warn("telemetry shutdown", zap.Error(err))
	}
	if err := a.rdb.Close(); err != nil {
		a.log.Warn("redis close", zap.Error(err))
	}
	_ = a.log.Sync()
}

func (a *app) classifier() *classifier.Classifier {
	return classifier.New(a.llm,
		classifier.WithModel(a.cfg.LLM.ClassifierModel),
		classifier.WithLogger(a.log.Named("classifier")),
	)
}

// processor builds a stream consumer loop under a unique consumer name.
func (a *app) processor(ctx context.Context) (*worker.Processor, error) {
	w := a.cfg.Worker
	if err := streams.EnsureGroup(ctx, a.rdb, w.Stream, w.Group); err != nil {
		return nil, fmt.Errorf("ensure consumer group: %w", err)
	}
	if err := streams.ObserveLag(a.meter, a.rdb, w.Stream, w.Group); err != nil {
		a.log.Warn("lag gauges unavailable", zap.Error(err))
	}
	name := "worker-" + uuid.NewString()[:8]
	consumer := streams.NewConsumer(a.rdb, a.registry, w.Group, name)
	return worker.NewProcessor(a.log.Named("worker").With(zap.String("consumer", name)), a.runner, consumer, a.queue,
		worker.ProcessorConfig{
			Stream:      w.Stream,
			Block:       w.Block,
			BatchSize:   w.BatchSize,
			ClaimIdle:   w.ClaimIdle,
			MaxAttempts: w.MaxAttempts,
		}, a.meter, a.tracer), nil
}

func newSapiomClient(cfg config.SapiomConfig, logger *zap.Logger) *sapiom.Client {
	ep := sapiom.DefaultEndpoints()
	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&ep.Linkup, cfg.Linkup)
	override(&ep.Anchor, cfg.Anchor)
	override(&ep.FAL, cfg.FAL)
	override(&ep.ElevenLabs, cfg.ElevenLabs)
	override(&ep.Prelude, cfg.Prelude)
	override(&ep.Governance, cfg.Governance)
	return sapiom.New(cfg.APIKey,
		sapiom.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		sapiom.WithEndpoints(ep),
		sapiom.WithRateLimit(cfg.RateLimit, cfg.Burst),
		sapiom.WithLogger(logger.Named("sapiom")),
	)
}

func newLLMClient(cfg config.LLMConfig) *openai.Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return openai.NewClientWithConfig(oc)
}

func newDispatcher(cfg config.BrowserConfig, backend tools.Backend, logger *zap.Logger) *tools.Dispatcher {
	opts := []tools.DispatcherOption{tools.WithDispatcherLogger(logger.Named("tools"))}
	if cfg.Enabled {
		opts = append(opts, tools.WithRenderer(tools.Browser{Timeout: cfg.Timeout, UserAgent: cfg.UserAgent}))
	}
	return tools.NewDispatcher(backend, opts...)
}
