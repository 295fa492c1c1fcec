package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"

	eventlog "goa.design/relay/features/eventlog/mongo"
	clientseventlog "goa.design/relay/features/eventlog/mongo/clients/mongo"
	"goa.design/relay/features/model/anthropic"
	"goa.design/relay/features/model/middleware"
	"goa.design/relay/features/model/openai"
	"goa.design/relay/features/search/cache"
	"goa.design/relay/features/search/tavily"
	"goa.design/relay/features/session/file"
	sessionmongo "goa.design/relay/features/session/mongo"
	clientsmongo "goa.design/relay/features/session/mongo/clients/mongo"
	sessionredis "goa.design/relay/features/session/redis"
	streampulse "goa.design/relay/features/stream/pulse"
	clientspulse "goa.design/relay/features/stream/pulse/clients/pulse"
	"goa.design/relay/research"
	"goa.design/relay/runtime/relay/hooks"
	"goa.design/relay/runtime/relay/model"
	"goa.design/relay/runtime/relay/runtime"
	"goa.design/relay/runtime/relay/session"
	"goa.design/relay/runtime/relay/telemetry"
)

// app holds the wired components of one relay process.
type app struct {
	rt      *runtime.Runtime
	store   session.Store
	mongo   *mongodriver.Client
	redis   *redis.Client
	closers []func(context.Context) error
}

// Close releases every resource opened by newApp in reverse order.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	return errors.Join(errs...)
}

// newApp wires the model, search, store and stream backends selected by cfg.
func newApp(ctx context.Context, cfg Config) (*app, error) {
	a := &app{}
	logger := telemetry.NewClueLogger()

	store, err := a.openStore(ctx, cfg)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	a.store = store

	client, err := newModel(ctx, cfg.Model, logger)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	tav, err := tavily.New(tavily.Options{APIKey: cfg.Search.APIKey})
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	searcher, err := cache.New(tav, 0, cfg.Search.CacheTTL)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { searcher.Close(); return nil })

	opts := []runtime.Option{
		runtime.WithLogger(logger),
		runtime.WithMetrics(telemetry.NewOtelMetrics()),
		runtime.WithTracer(telemetry.NewOtelTracer()),
		runtime.WithHooks(hooks.NewRegistry().OnAll(hooks.Logging(logger))),
		runtime.WithTimeouts(runtime.Timeouts{
			Model:     cfg.Timeouts.Model,
			Tool:      cfg.Timeouts.Tool,
			Guardrail: cfg.Timeouts.Guardrail,
		}),
	}
	if cfg.Stream.Pulse {
		sink, err := a.openPulseSink(ctx, cfg.Redis)
		if err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
		opts = append(opts, runtime.WithSink(sink))
	}
	if cfg.Stream.EventLog {
		l, err := a.openEventLog(ctx, cfg.Store)
		if err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
		opts = append(opts, runtime.WithSink(l))
	}

	rcfg := research.Config{
		Model:       client,
		ModelID:     cfg.Model.Name,
		Guardrails:  research.GuardrailMode(cfg.Guardrails),
		Searcher:    searcher,
		MaxResults:  cfg.Search.MaxResults,
		ToolTimeout: cfg.Timeouts.Tool,
	}
	rt, err := research.New(rcfg, store, opts...)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	a.rt = rt
	return a, nil
}

// newModel returns the rate limited model client of cfg, or nil for provider
// "none".
func newModel(ctx context.Context, cfg ModelConfig, logger telemetry.Logger) (model.Client, error) {
	var (
		client model.Client
		err    error
	)
	switch cfg.Provider {
	case "openai":
		client, err = openai.NewFromAPIKey(cfg.APIKey, cfg.BaseURL, cfg.Name)
	case "anthropic":
		client, err = anthropic.NewFromAPIKey(cfg.APIKey, cfg.Name)
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("%s model: %w", cfg.Provider, err)
	}
	if cfg.TPM <= 0 {
		return client, nil
	}
	limiter := middleware.NewLimiter(cfg.TPM, middleware.WithOnChange(func(tpm float64) {
		logger.Debug(ctx, "model rate limit adjusted", "tpm", tpm)
	}))
	return limiter.Middleware()(client), nil
}

// openStore opens the session store selected by cfg.
func (a *app) openStore(ctx context.Context, cfg Config) (session.Store, error) {
	switch cfg.Store.Kind {
	case "file":
		return file.New(cfg.Store.Dir)
	case "mongo":
		mc, err := a.dialMongo(ctx, cfg.Store.MongoURI)
		if err != nil {
			return nil, err
		}
		c, err := clientsmongo.New(clientsmongo.Options{Client: mc, Database: cfg.Store.MongoDatabase})
		if err != nil {
			return nil, err
		}
		return sessionmongo.NewStore(c)
	case "redis":
		rdb, err := a.dialRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return sessionredis.New(rdb)
	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.Store.Kind)
	}
}

// openEventLog opens the Mongo turn event log.
func (a *app) openEventLog(ctx context.Context, cfg StoreConfig) (*eventlog.Log, error) {
	mc, err := a.dialMongo(ctx, cfg.MongoURI)
	if err != nil {
		return nil, err
	}
	c, err := clientseventlog.New(clientseventlog.Options{Client: mc, Database: cfg.MongoDatabase})
	if err != nil {
		return nil, err
	}
	return eventlog.NewLog(c)
}

// dialMongo connects to uri once per process.
func (a *app) dialMongo(ctx context.Context, uri string) (*mongodriver.Client, error) {
	if a.mongo != nil {
		return a.mongo, nil
	}
	mc, err := clientsmongo.Dial(ctx, uri)
	if err != nil {
		return nil, err
	}
	a.mongo = mc
	a.closers = append(a.closers, mc.Disconnect)
	return mc, nil
}

func (a *app) openPulseSink(ctx context.Context, cfg RedisConfig) (*streampulse.Sink, error) {
	rdb, err := a.dialRedis(ctx, cfg)
	if err != nil {
		return nil, err
	}
	pc, err := clientspulse.New(clientspulse.Options{Redis: rdb})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pc.Close)
	sink, err := streampulse.NewSink(streampulse.Options{Client: pc})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, sink.Close)
	return sink, nil
}

// dialRedis connects to Redis once per process and verifies the connection.
func (a *app) dialRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if a.redis != nil {
		return a.redis, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.URL, Password: cfg.Password})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	a.redis = rdb
	a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })
	return rdb, nil
}
