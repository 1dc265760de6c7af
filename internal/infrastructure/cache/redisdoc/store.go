package redisdoc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/citizen-intake/internal/core/domain"
	"github.com/kirillkom/citizen-intake/internal/core/ports"
)

const keyPrefix = "intake:"

type commander interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Store is a read-through cache in front of a ports.ResultStore. Writes go to the inner store
// first and then drop the cached entries. Redis failures never fail a call.
type Store struct {
	inner  ports.ResultStore
	rdb    commander
	ttl    time.Duration
	logger *slog.Logger
}

func New(inner ports.ResultStore, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *Store {
	return newStore(inner, rdb, ttl, logger)
}

func newStore(inner ports.ResultStore, rdb commander, ttl time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{inner: inner, rdb: rdb, ttl: ttl, logger: logger}
}

// Connect parses a redis:// URL (or a bare host:port) and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		opt = &redis.Options{Addr: url}
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func documentKey(submissionID string) string { return keyPrefix + "result:" + submissionID }

func analysisKey(submissionID string) string { return keyPrefix + "analysis:" + submissionID }

func (s *Store) Ensure(ctx context.Context, submissionID string) error {
	if err := s.inner.Ensure(ctx, submissionID); err != nil {
		return err
	}
	s.invalidate(ctx, submissionID)
	return nil
}

func (s *Store) Load(ctx context.Context, submissionID string) (*domain.ResultDocument, error) {
	key := documentKey(submissionID)
	if raw, ok := s.get(ctx, key); ok {
		if json.Valid(raw) {
			return domain.ParseResultDocument(raw), nil
		}
		s.del(ctx, key)
	}

	doc, err := s.inner.Load(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	s.set(ctx, key, doc)
	return doc, nil
}

func (s *Store) SaveDocument(ctx context.Context, submissionID string, doc *domain.ResultDocument) error {
	if err := s.inner.SaveDocument(ctx, submissionID, doc); err != nil {
		return err
	}
	s.invalidate(ctx, submissionID)
	return nil
}

func (s *Store) SaveClassification(
	ctx context.Context,
	submissionID string,
	doc *domain.ResultDocument,
	projection domain.ClassificationProjection,
) error {
	if err := s.inner.SaveClassification(ctx, submissionID, doc, projection); err != nil {
		return err
	}
	s.invalidate(ctx, submissionID)
	return nil
}

func (s *Store) GetAnalysis(ctx context.Context, submissionID string) (*domain.Analysis, error) {
	key := analysisKey(submissionID)
	if raw, ok := s.get(ctx, key); ok {
		var analysis domain.Analysis
		if err := json.Unmarshal(raw, &analysis); err == nil {
			if analysis.Document == nil {
				analysis.Document = domain.NewResultDocument()
			}
			return &analysis, nil
		}
		s.del(ctx, key)
	}

	analysis, err := s.inner.GetAnalysis(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	s.set(ctx, key, analysis)
	return analysis, nil
}

func (s *Store) get(ctx context.Context, key string) ([]byte, bool) {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("result_cache_get_failed", "key", key, "error", err)
		}
		return nil, false
	}
	return raw, true
}

func (s *Store) set(ctx context.Context, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("result_cache_encode_failed", "key", key, "error", err)
		return
	}
	if err := s.rdb.Set(ctx, key, raw, s.ttl).Err(); err != nil {
		s.logger.Warn("result_cache_set_failed", "key", key, "error", err)
	}
}

func (s *Store) invalidate(ctx context.Context, submissionID string) {
	s.del(ctx, documentKey(submissionID), analysisKey(submissionID))
}

func (s *Store) del(ctx context.Context, keys ...string) {
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		s.logger.Warn("result_cache_del_failed", "keys", keys, "error", err)
	}
}
