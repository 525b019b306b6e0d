// Command reflector is the main entry point for the Reflector transcript
// server: it hosts the Temporal pipeline worker, the reconciliation and
// presence loops, and the HTTP surface (health, metrics, websocket events).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	"golang.org/x/sync/errgroup"

	"github.com/reflector-media/reflector/internal/broadcast"
	"github.com/reflector-media/reflector/internal/cleanup"
	"github.com/reflector-media/reflector/internal/config"
	"github.com/reflector-media/reflector/internal/health"
	coordinator "github.com/reflector-media/reflector/internal/llm"
	"github.com/reflector-media/reflector/internal/observe"
	"github.com/reflector-media/reflector/internal/pipeline"
	"github.com/reflector-media/reflector/internal/presence"
	"github.com/reflector-media/reflector/internal/reconcile"
	"github.com/reflector-media/reflector/internal/resilience"
	"github.com/reflector-media/reflector/internal/store/postgres"
	engine "github.com/reflector-media/reflector/internal/workflow"
	"github.com/reflector-media/reflector/pkg/audio"
	"github.com/reflector-media/reflector/pkg/provider/diarization"
	diarizationremote "github.com/reflector-media/reflector/pkg/provider/diarization/remote"
	"github.com/reflector-media/reflector/pkg/provider/llm"
	"github.com/reflector-media/reflector/pkg/provider/llm/anyllm"
	"github.com/reflector-media/reflector/pkg/provider/llm/openai"
	"github.com/reflector-media/reflector/pkg/provider/transcription"
	transcriptionremote "github.com/reflector-media/reflector/pkg/provider/transcription/remote"
	"github.com/reflector-media/reflector/pkg/storage/s3"
)

// version is stamped at build time via -ldflags.
var version = "dev"

const (
	wsWriteTimeout  = 10 * time.Second
	retentionSweep  = time.Hour
	pollerLockTTL   = 10 * time.Minute
	shutdownTimeout = 15 * time.Second
	defaultSweepGap = time.Minute

	// engineName namespaces padded-track keys in the object store.
	engineName = "reflector"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "reflector: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "reflector: %v\n", err)
		}
		return 1
	}

	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("reflector starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"public_mode", cfg.Public.Mode,
	)

	if cfg.Database.DSN == "" {
		slog.Error("database.dsn is required to start the server")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "reflector",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Stores ────────────────────────────────────────────────────────────────
	db, err := postgres.New(ctx, cfg.Database.DSN)
	if err != nil {
		slog.Error("failed to connect to postgres", "err", err)
		return 1
	}
	defer db.Close()

	objects, err := s3.New(ctx, s3.Config{
		Bucket:          cfg.Storage.Bucket,
		Region:          cfg.Storage.Region,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		RoleARN:         cfg.Storage.RoleARN,
		EndpointURL:     cfg.Storage.EndpointURL,
	})
	if err != nil {
		slog.Error("failed to initialise object storage", "err", err)
		return 1
	}

	// ── Redis: event broker, pending joins, poller lock ───────────────────────
	var (
		redisClient *redis.Client
		broker      broadcast.Broker
	)
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.Error("failed to connect to redis", "addr", cfg.Redis.Addr, "err", err)
			return 1
		}
		defer redisClient.Close()
		broker = broadcast.NewRedisBrokerFromClient(redisClient, logger)
	} else {
		slog.Warn("redis.addr not set — events stay process-local, poller lock disabled")
		broker = broadcast.NewMemoryBroker(logger)
	}
	defer broker.Close()

	manager := broadcast.NewManager(broker, db.Transcripts(), wsWriteTimeout, logger)
	publisher := broadcast.NewPublisher(broker, logger)

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	transcriber, err := buildTranscription(cfg, reg)
	if err != nil {
		slog.Error("failed to build transcription provider", "err", err)
		return 1
	}
	diarizer, err := buildDiarization(cfg, reg)
	if err != nil {
		slog.Error("failed to build diarization provider", "err", err)
		return 1
	}
	coord, err := buildCoordinator(cfg, reg, logger)
	if err != nil {
		slog.Error("failed to build llm provider", "err", err)
		return 1
	}

	cleaner := cleanup.NewCleaner(db.Transcripts(), db.Recordings(), db.Consents(), objects, logger)

	// ── Temporal: engine client, dispatcher, pipeline worker ──────────────────
	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    tlog.NewStructuredLogger(logger),
	})
	if err != nil {
		slog.Error("failed to connect to temporal", "host_port", cfg.Temporal.HostPort, "err", err)
		return 1
	}
	defer temporalClient.Close()

	dag := engine.NewTemporalEngine(temporalClient, cfg.Temporal.Namespace)
	dispatcher := engine.NewDispatcher(db.Transcripts(), db.Recordings(), dag, logger)

	activities := pipeline.NewActivities(pipeline.Deps{
		Transcripts: db.Transcripts(),
		Recordings:  db.Recordings(),
		Objects:     objects,
		FFmpeg:      audio.New(),
		Transcriber: transcriber,
		Diarizer:    diarizer,
		Coordinator: coord,
		Publisher:   publisher,
		Cleaner:     cleaner,
		EngineName:  engineName,
		Log:         logger,
	})
	worker := pipeline.NewWorker(temporalClient, activities)
	if err := worker.Start(); err != nil {
		slog.Error("failed to start pipeline worker", "err", err)
		return 1
	}
	defer worker.Stop()

	// ── Background loops ──────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	reconciler := reconcile.NewReconciler(
		db.Transcripts(), db.Meetings(), db.Recordings(), db.RecordingRequests(),
		dispatcher, logger)
	var lock *reconcile.NamedLock
	if redisClient != nil {
		lock = reconcile.NewNamedLock(redisClient, "reconcile-poller", pollerLockTTL)
	}
	if cfg.Storage.RecordingsBucket != "" {
		poller := reconcile.NewPoller(
			reconcile.NewStorageLister(objects, cfg.Storage.RecordingsBucket),
			reconciler, lock, cfg.Reconcile.PollInterval, cfg.Reconcile.Lookback, logger)
		g.Go(func() error { return poller.Run(gctx) })
	} else {
		slog.Warn("storage.recordings_bucket not set — recording poller disabled")
	}

	if cfg.Presence.PlatformURL != "" {
		platform, err := presence.NewRemotePlatform(cfg.Presence.PlatformURL, cfg.Presence.PlatformAPIKey)
		if err != nil {
			slog.Error("failed to build platform client", "err", err)
			return 1
		}
		var pending *presence.PendingJoins
		if redisClient != nil {
			pending = presence.NewPendingJoins(redisClient, cfg.Presence.JoinGrace())
		}
		sweeper := presence.NewReconciler(db.Meetings(), db.Sessions(), platform, pending, logger)
		interval := cfg.Presence.SweepInterval
		if interval <= 0 {
			interval = defaultSweepGap
		}
		g.Go(func() error { return sweeper.Run(gctx, interval) })
	} else {
		slog.Warn("presence.platform_url not set — presence sweep disabled")
	}

	if cfg.Public.Mode {
		retention := cleanup.NewRetentionSweeper(db.Transcripts(), cfg.Public.RetentionDays, logger)
		g.Go(func() error { return retention.Run(gctx, retentionSweep) })
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	checks := []health.Checker{health.Postgres(db.Pool())}
	if redisClient != nil {
		checks = append(checks, health.Redis(redisClient))
	}
	mux := http.NewServeMux()
	health.New(checks...).Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/v1/events/ws", manager.Handler())

	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(sctx)
	})

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if !d.Any() {
			return
		}
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.LLMRetryChanged || d.RetentionChanged {
			slog.Warn("config change requires a restart to take effect",
				"llm_retry", d.LLMRetryChanged, "retention", d.RetentionChanged)
		}
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready", "listen_addr", cfg.Server.ListenAddr)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// "openai" goes through the first-class openai-go client; the remaining
	// backends share the any-llm multi-provider interface.
	reg.RegisterLLM("openai", func(entry config.LLMConfig) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.LLMConfig) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}
	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.LLMConfig) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	reg.RegisterTranscription("remote", func(entry config.ProviderEntry) (transcription.Provider, error) {
		var opts []transcriptionremote.Option
		if entry.Model != "" {
			opts = append(opts, transcriptionremote.WithModel(entry.Model))
		}
		return transcriptionremote.New(entry.BaseURL, entry.APIKey, opts...)
	})

	reg.RegisterDiarization("remote", func(entry config.ProviderEntry) (diarization.Provider, error) {
		return diarizationremote.New(entry.BaseURL, entry.APIKey)
	})
}

// buildTranscription creates the configured transcription backend, wrapped in
// a circuit-breaking fallback group when fallbacks are listed. Returns nil
// when no provider is configured.
func buildTranscription(cfg *config.Config, reg *config.Registry) (transcription.Provider, error) {
	entry := cfg.Transcription
	if entry.Name == "" {
		slog.Warn("transcription provider not configured — pipeline runs will fail at transcription")
		return nil, nil
	}
	primary, err := reg.CreateTranscription(entry)
	if err != nil {
		return nil, err
	}
	slog.Info("provider created", "kind", "transcription", "name", entry.Name)
	if len(entry.Fallbacks) == 0 {
		return primary, nil
	}

	group := resilience.NewTranscriptionFallback(primary, entry.Name, resilience.FallbackConfig{})
	for _, fb := range entry.Fallbacks {
		p, err := reg.CreateTranscription(fb)
		if err != nil {
			return nil, fmt.Errorf("transcription fallback %q: %w", fb.Name, err)
		}
		group.AddFallback(fb.Name, p)
		slog.Info("provider created", "kind", "transcription", "name", fb.Name, "role", "fallback")
	}
	return group, nil
}

// buildDiarization creates the configured diarization backend, or nil when
// none is configured (multitrack runs then skip speaker attribution).
func buildDiarization(cfg *config.Config, reg *config.Registry) (diarization.Provider, error) {
	entry := cfg.Diarization
	if entry.Name == "" {
		slog.Warn("diarization provider not configured")
		return nil, nil
	}
	p, err := reg.CreateDiarization(entry)
	if err != nil {
		return nil, err
	}
	slog.Info("provider created", "kind", "diarization", "name", entry.Name)
	return p, nil
}

// buildCoordinator creates the LLM provider (with failover when fallbacks are
// listed) and wraps it in the chunking coordinator that the topic, title and
// summary stages consume. Returns nil when no LLM is configured.
func buildCoordinator(cfg *config.Config, reg *config.Registry, logger *slog.Logger) (*coordinator.Coordinator, error) {
	if cfg.LLM.Name == "" {
		slog.Warn("llm provider not configured — topic, title and summary stages will fail")
		return nil, nil
	}
	primary, err := reg.CreateLLM(cfg.LLM)
	if err != nil {
		return nil, err
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.LLM.Name, "model", cfg.LLM.Model)

	provider := primary
	if len(cfg.LLM.Fallbacks) > 0 {
		group := resilience.NewLLMFallback(primary, cfg.LLM.Name, resilience.FallbackConfig{})
		for _, fb := range cfg.LLM.Fallbacks {
			p, err := reg.CreateLLM(config.LLMConfig{ProviderEntry: fb})
			if err != nil {
				return nil, fmt.Errorf("llm fallback %q: %w", fb.Name, err)
			}
			group.AddFallback(fb.Name, p)
			slog.Info("provider created", "kind", "llm", "name", fb.Name, "role", "fallback")
		}
		provider = group
	}

	opts := []coordinator.Option{coordinator.WithLogger(logger)}
	if cfg.LLM.RetryAttempts > 0 {
		backoff := cfg.LLM.RetryBackoff
		if backoff <= 0 {
			backoff = 500 * time.Millisecond
		}
		opts = append(opts, coordinator.WithRetry(cfg.LLM.RetryAttempts, backoff))
	}
	return coordinator.New(provider, opts...), nil
}

// ── Logger ────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
