package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/tapestry"
	"github.com/aretw0/tapestry/internal/config"
	"github.com/aretw0/tapestry/pkg/adapters/anthropic"
	"github.com/aretw0/tapestry/pkg/adapters/echo"
	"github.com/aretw0/tapestry/pkg/adapters/episode"
	"github.com/aretw0/tapestry/pkg/adapters/file"
	loamstore "github.com/aretw0/tapestry/pkg/adapters/loam"
	"github.com/aretw0/tapestry/pkg/adapters/memory"
	"github.com/aretw0/tapestry/pkg/adapters/ollama"
	"github.com/aretw0/tapestry/pkg/adapters/openai"
	"github.com/aretw0/tapestry/pkg/adapters/postgres"
	"github.com/aretw0/tapestry/pkg/adapters/process"
	"github.com/aretw0/tapestry/pkg/adapters/redis"
	"github.com/aretw0/tapestry/pkg/domain"
	"github.com/aretw0/tapestry/pkg/observability"
	"github.com/aretw0/tapestry/pkg/persistence/middleware"
	"github.com/aretw0/tapestry/pkg/ports"
	"github.com/aretw0/tapestry/pkg/runner"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
)

// resources tracks the connections opened while wiring, closed in reverse order.
type resources struct {
	closers []func() error
	client  goredis.UniversalClient
}

func (r *resources) add(closer func() error) {
	r.closers = append(r.closers, closer)
}

func (r *resources) redis(cfg config.StoreConfig) goredis.UniversalClient {
	if r.client == nil {
		r.client = goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		r.add(r.client.Close)
	}
	return r.client
}

func (r *resources) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// openStore builds the configured store wrapped in the redaction and
// encryption middleware. Redaction runs first so it sees plaintext.
func openStore(ctx context.Context, cfg config.StoreConfig, res *resources) (ports.SessionStore, error) {
	var base ports.SessionStore
	switch cfg.Kind {
	case "memory":
		base = memory.NewStore()
	case "file":
		base = file.New(cfg.Dir)
	case "loam":
		st, err := loamstore.Open(cfg.Dir)
		if err != nil {
			return nil, err
		}
		base = st
	case "redis":
		base = redis.NewFromClient(res.redis(cfg), redis.WithTTL(cfg.TTL))
	case "postgres":
		pg, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		res.add(pg.Close)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		base = pg
	default:
		return nil, fmt.Errorf("unknown store kind %q", cfg.Kind)
	}

	var mws []middleware.Middleware
	if len(cfg.RedactPatterns) > 0 {
		redact, err := middleware.NewRedactMiddleware(cfg.RedactPatterns)
		if err != nil {
			return nil, err
		}
		mws = append(mws, redact)
	}
	if cfg.EncryptionKey != "" {
		enc, err := encryptionConfig(cfg)
		if err != nil {
			return nil, err
		}
		mws = append(mws, middleware.NewEncryptionMiddleware(enc))
	}
	return middleware.Chain(base, mws...), nil
}

func encryptionConfig(cfg config.StoreConfig) (middleware.EncryptionConfig, error) {
	active, err := middleware.ParseKey(cfg.EncryptionKey)
	if err != nil {
		return middleware.EncryptionConfig{}, fmt.Errorf("store.encryption_key: %w", err)
	}
	enc := middleware.EncryptionConfig{ActiveKey: active}
	for i, k := range cfg.FallbackKeys {
		key, err := middleware.ParseKey(k)
		if err != nil {
			return middleware.EncryptionConfig{}, fmt.Errorf("store.fallback_keys[%d]: %w", i, err)
		}
		enc.FallbackKeys = append(enc.FallbackKeys, key)
	}
	return enc, nil
}

func newGenerator(cfg config.BackendConfig) (ports.Generator, error) {
	switch cfg.Kind {
	case "echo":
		return echo.New(echo.WithDelay(cfg.Delay)), nil
	case "openai":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		return openai.New(openai.Config{
			APIKey:    key,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		}), nil
	case "ollama":
		return ollama.New(ollama.Config{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			NumPredict: cfg.MaxTokens,
		})
	case "process":
		if cfg.ProcessConfig != "" {
			pc, err := process.LoadConfig(cfg.ProcessConfig)
			if err != nil {
				return nil, err
			}
			return process.New(pc)
		}
		return process.New(process.Config{Command: cfg.Command, Args: cfg.Args})
	case "anthropic":
		return anthropic.New(anthropic.Config{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: int64(cfg.MaxTokens),
		})
	}
	return nil, fmt.Errorf("unknown backend kind %q", cfg.Kind)
}

// app is a fully wired Tapestry plus the resources it holds.
type app struct {
	*tapestry.Tapestry
	res     *resources
	episode *episode.Log
	logger  *slog.Logger
}

// newApp wires everything cfg names. reg may be nil to skip metrics.
func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger, reg prometheus.Registerer, sinks ...ports.OutputSink) (*app, error) {
	res := &resources{}
	a := &app{res: res, logger: logger}

	store, err := openStore(ctx, cfg.Store, res)
	if err != nil {
		res.Close()
		return nil, err
	}
	gen, err := newGenerator(cfg.Backend)
	if err != nil {
		res.Close()
		return nil, err
	}

	if cfg.Episode.Enabled {
		var opts []episode.Option
		if cfg.Episode.URL != "" {
			opts = append(opts, episode.WithRemote(cfg.Episode.URL, nil))
		}
		a.episode, err = episode.New(cfg.Episode.Dir, opts...)
		if err != nil {
			res.Close()
			return nil, err
		}
		res.add(a.episode.Close)
		sinks = append(sinks, a.episode)
	}

	opts := []tapestry.Option{
		tapestry.WithStore(store),
		tapestry.WithLogger(logger),
		tapestry.WithWindow(domain.Window{MaxTurns: cfg.Worker.WindowTurns, MaxChars: cfg.Worker.WindowChars}),
		tapestry.WithActTimeout(cfg.Backend.Timeout),
		tapestry.WithPersistTimeout(cfg.Store.Timeout),
		tapestry.WithAutoSave(cfg.Worker.AutoSaveNewGame, cfg.Worker.AutoSaveExit),
		tapestry.WithQueueCapacity(cfg.Queue.Capacity),
	}
	if reg != nil {
		opts = append(opts, tapestry.WithMetrics(observability.NewMetrics(reg)))
	}
	if len(sinks) > 0 {
		opts = append(opts, tapestry.WithSink(runner.MultiSink(sinks)))
	}
	if cfg.Queue.Kind == "redis" {
		// A shared list has one consumer at a time: the worker holding the ref's lease.
		client := res.redis(cfg.Store)
		opts = append(opts,
			tapestry.WithQueueFactory(func(ref string) (ports.ActionQueue, error) {
				return redis.NewQueue(client, redis.DefaultPrefix, ref,
					redis.WithCapacity(cfg.Queue.Capacity),
					redis.WithPollInterval(cfg.Queue.PollInterval),
				), nil
			}),
			tapestry.WithLocker(redis.NewLocker(client, redis.DefaultPrefix), cfg.Worker.LockTTL),
		)
	}

	a.Tapestry, err = tapestry.New(gen, opts...)
	if err != nil {
		res.Close()
		return nil, err
	}
	logger.Debug("wired", "backend", cfg.Backend.Kind, "store", cfg.Store.Kind, "queue", cfg.Queue.Kind)
	return a, nil
}

// Close stops the workers, which write their disconnect saves, then releases resources.
func (a *app) Close(ctx context.Context) error {
	err := a.Shutdown(ctx)
	if cerr := a.res.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	if err != nil {
		a.logger.Error("shutdown incomplete", "err", err)
	}
	return err
}
