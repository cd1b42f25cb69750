package classifiers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/LakshiRajika/Content-Moderation-AI/internal/engine"
)

const scoreCacheKeyPattern = "modguard:scores:%s:%s"

// CachedClassifier memoizes another classifier's scores in Redis, keyed by
// the SHA-256 of the text. Cache failures are logged and bypassed; they
// never fail a classification.
type CachedClassifier struct {
	inner  engine.Classifier
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedClassifier wraps inner with a Redis-backed cache.
func NewCachedClassifier(inner engine.Classifier, rdb redis.Cmdable, ttl time.Duration, logger *zap.Logger) *CachedClassifier {
	return &CachedClassifier{
		inner:  inner,
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

func (c *CachedClassifier) Name() string {
	return c.inner.Name()
}

// ScoreCacheKey returns the Redis key for a classifier/text pair.
func ScoreCacheKey(classifier, text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf(scoreCacheKeyPattern, classifier, hex.EncodeToString(sum[:]))
}

func (c *CachedClassifier) Classify(ctx context.Context, text string) (engine.CategoryScores, error) {
	key := ScoreCacheKey(c.inner.Name(), text)

	cached, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		var raw map[string]float64
		if jerr := json.Unmarshal([]byte(cached), &raw); jerr == nil {
			scores := engine.NeutralScores()
			for _, cat := range engine.HarmfulCategories {
				scores[cat] = clamp01(raw[string(cat)])
			}
			return scores, nil
		}
		c.logger.Warn("score cache entry corrupt, reclassifying", zap.String("key", key))
	case errors.Is(err, redis.Nil):
		// miss
	default:
		c.logger.Warn("score cache read failed", zap.Error(err))
	}

	scores, err := c.inner.Classify(ctx, text)
	if err != nil {
		return nil, err
	}

	data, err := encodeScores(scores)
	if err != nil {
		return scores, nil
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("score cache write failed", zap.Error(err))
	}
	return scores, nil
}

func encodeScores(scores engine.CategoryScores) (string, error) {
	out := make(map[string]float64, len(engine.HarmfulCategories))
	for _, cat := range engine.HarmfulCategories {
		out[string(cat)] = scores.Get(cat)
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
