// Package app builds the object graph shared by the server and the worker.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"

	"github.com/suPer8Hu/support-pilot/internal/ai"
	"github.com/suPer8Hu/support-pilot/internal/config"
	"github.com/suPer8Hu/support-pilot/internal/conversation"
	"github.com/suPer8Hu/support-pilot/internal/db"
	"github.com/suPer8Hu/support-pilot/internal/logger"
	"github.com/suPer8Hu/support-pilot/internal/matcher"
	"github.com/suPer8Hu/support-pilot/internal/policy"
	"github.com/suPer8Hu/support-pilot/internal/store/rabbitmq"
	"github.com/suPer8Hu/support-pilot/internal/store/redisstore"
)

type App struct {
	Cfg       config.Config
	Log       *logger.Logger
	DB        *gorm.DB
	Repo      *conversation.Repo
	Policies  *policy.Index
	Service   *conversation.Service
	Publisher *rabbitmq.Publisher
	Registry  *prometheus.Registry

	closers []func() error
}

type Options struct {
	// RequireBroker fails startup when RabbitMQ is unreachable instead of
	// running without async intake and notifications.
	RequireBroker bool
}

func New(ctx context.Context, cfg config.Config, log *logger.Logger, opts Options) (*App, error) {
	a := &App{Cfg: cfg, Log: log, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	a.DB = gdb
	if sqlDB, err := gdb.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}

	a.Repo = conversation.NewRepo(gdb)
	if err := a.Repo.Migrate(ctx); err != nil {
		a.Close()
		return nil, err
	}

	path := cfg.PolicyPath
	a.Policies, err = policy.NewIndex(func() (*policy.Snapshot, error) { return policy.LoadFile(path) })
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load policies: %w", err)
	}
	log.Info("policies loaded", "path", path, "version", a.Policies.Current().Version, "topics", len(a.Policies.Current().Topics()))

	m, err := NewMatcher(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	locker, err := a.newLocker()
	if err != nil {
		a.Close()
		return nil, err
	}

	var notifier conversation.Notifier
	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, rabbitmq.Queues{
		Inbound:  cfg.RabbitQueue,
		Outbound: cfg.OutboundQueue,
		Handoff:  cfg.HandoffQueue,
	})
	switch {
	case err == nil:
		a.Publisher = pub
		notifier = pub
		a.closers = append(a.closers, pub.Close)
	case opts.RequireBroker:
		a.Close()
		return nil, fmt.Errorf("rabbit connect: %w", err)
	default:
		log.Warn("rabbitmq unavailable, async intake and notifications disabled", "err", err)
	}

	a.Service = conversation.NewService(a.Repo, a.Policies, m, conversation.Options{
		Locker:         locker,
		Notifier:       notifier,
		Logger:         log.With("component", "conversation"),
		Metrics:        conversation.NewMetrics(a.Registry),
		Threshold:      cfg.MatchThreshold,
		MatcherTimeout: cfg.MatcherTimeout,
		ContextWindow:  cfg.ChatContextWindowSize,
	})
	return a, nil
}

func (a *App) newLocker() (conversation.Locker, error) {
	if a.Cfg.LockBackend != "redis" {
		return conversation.NewKeyedMutex(), nil
	}
	rdb, err := redisstore.NewClient(a.Cfg.RedisAddr, a.Cfg.RedisPassword, a.Cfg.RedisDB)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, rdb.Close)
	return redisstore.NewLock(rdb, a.Cfg.LockTTL), nil
}

// NewMatcher picks the matcher named by cfg.MatcherKind.
func NewMatcher(ctx context.Context, cfg config.Config) (matcher.Matcher, error) {
	switch strings.ToLower(cfg.MatcherKind) {
	case "keyword":
		return matcher.KeywordMatcher{}, nil
	case "", "embedding":
	default:
		return nil, fmt.Errorf("unsupported MATCHER=%q", cfg.MatcherKind)
	}

	reg := ai.NewRegistry()
	reg.Register("openai", func(ctx context.Context, model string) (ai.Embedder, error) {
		if model == "" {
			model = cfg.OpenAIEmbedModel
		}
		return ai.NewOpenAIEmbedder(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, model), nil
	})
	reg.Register("ollama", func(ctx context.Context, model string) (ai.Embedder, error) {
		if model == "" {
			model = cfg.OllamaEmbedModel
		}
		return ai.NewOllamaEmbedder(cfg.OllamaBaseURL, model), nil
	})

	e, err := reg.Get(ctx, cfg.EmbedProvider, "")
	if err != nil {
		return nil, err
	}
	return matcher.NewEmbeddingMatcher(e), nil
}

// Close releases resources in reverse acquisition order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.Warn("close failed", "err", err)
		}
	}
	a.closers = nil
}
