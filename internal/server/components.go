package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	gcs "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"

	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/core/async"
	"github.com/joseph-ayodele/docscan/internal/core/llm"
	"github.com/joseph-ayodele/docscan/internal/core/llm/openai"
	"github.com/joseph-ayodele/docscan/internal/core/llm/vertex"
	"github.com/joseph-ayodele/docscan/internal/core/lock"
	repo "github.com/joseph-ayodele/docscan/internal/repository"
	"github.com/joseph-ayodele/docscan/internal/search"
	"github.com/joseph-ayodele/docscan/internal/storage"
)

// NewLogger builds the process logger from LOG_FORMAT and LOG_LEVEL.
func NewLogger(cfg common.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(h)
}

// NewRedisClient returns nil when no address is configured.
func NewRedisClient(ctx context.Context, cfg common.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, common.NewTransientEngineError("redis", fmt.Errorf("ping %s: %w", cfg.Addr, err))
	}
	logger.Info("redis.connected", "addr", cfg.Addr, "db", cfg.DB)
	return client, nil
}

// QueueCloser is a job queue the process owns.
type QueueCloser interface {
	async.Queue
	Close() error
}

// NewQueue picks the Redis queue when a client is given and the in-process channel queue otherwise.
func NewQueue(client *redis.Client, cfg *common.Config, logger *slog.Logger) QueueCloser {
	if client != nil {
		return async.NewRedisQueue(client, cfg.Redis.Prefix, cfg.Queue.VisibilityTimeout, logger)
	}
	return async.NewChannelQueue(logger,
		async.WithQueueSize(cfg.Queue.Size),
		async.WithVisibilityTimeout(cfg.Queue.VisibilityTimeout),
	)
}

func NewLocker(client *redis.Client, cfg common.RedisConfig) lock.Locker {
	if client != nil {
		return lock.NewRedis(client, cfg.Prefix)
	}
	return lock.NewMemory()
}

// NewIndex builds the configured search backend. "none" yields a nil index, which
// turns publishing into a no-op.
func NewIndex(ctx context.Context, cfg common.IndexConfig, docs repo.DocumentRepository, logger *slog.Logger) (search.Index, error) {
	switch cfg.Backend {
	case "opensearch":
		idx, err := search.NewOpenSearch(search.OpenSearchConfig{
			URL:      cfg.URL,
			Index:    cfg.Name,
			Username: cfg.Username,
			Password: cfg.Password,
		}, logger)
		if err != nil {
			return nil, err
		}
		if err := idx.EnsureIndex(ctx); err != nil {
			return nil, err
		}
		return idx, nil
	case "sql":
		return search.NewSQL(docs), nil
	case "memory":
		return search.NewMemory(), nil
	default:
		return nil, nil
	}
}

// NewPageStore returns the page store and a close func for any client it opened.
func NewPageStore(ctx context.Context, cfg common.StorageConfig, logger *slog.Logger) (storage.PageStore, func(), error) {
	if cfg.Backend == "gcs" {
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("gcs client: %w", err)
		}
		return storage.NewGCS(client, cfg.Bucket, logger), func() { _ = client.Close() }, nil
	}
	return storage.NewFS(cfg.Root, logger), func() {}, nil
}

// NewUnderstander returns the configured provider; "none" disables the stage.
func NewUnderstander(ctx context.Context, cfg common.LLMConfig, logger *slog.Logger) (llm.Understander, func(), error) {
	switch cfg.Provider {
	case "openai", "":
		c := openai.NewClient(openai.Config{
			APIKey:          cfg.APIKey,
			BaseURL:         cfg.BaseURL,
			Model:           cfg.Model,
			Temperature:     cfg.Temperature,
			Timeout:         cfg.Timeout,
			AttachFirstPage: cfg.AttachFirstPage,
		}, logger)
		return c, func() {}, nil
	case "vertex":
		c, err := vertex.New(ctx, vertex.Config{
			Project:         cfg.VertexProject,
			Location:        cfg.VertexLocation,
			Model:           cfg.Model,
			Temperature:     cfg.Temperature,
			AttachFirstPage: cfg.AttachFirstPage,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return c, func() { _ = c.Close() }, nil
	default:
		return llm.Disabled{Reason: "provider " + cfg.Provider}, func() {}, nil
	}
}
