package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/drivercheck/drivercheck-bot/internal/classify"
	"github.com/drivercheck/drivercheck-bot/internal/storage"
	"github.com/rs/zerolog/log"
)

// CacheStore is the storage the cached client needs.
type CacheStore interface {
	GetClassificationCache(promptHash string) (*storage.CachedClassification, error)
	SetClassificationCache(promptHash string, entry *storage.CachedClassification) error
}

// CachedClient wraps a classify.Client with SQLite caching keyed by prompt.
type CachedClient struct {
	inner     classify.Client
	store     CacheStore
	namespace string
}

// NewCachedClient creates a cached client. namespace (usually the model name) is mixed
// into the cache key so answers from different models are kept apart.
func NewCachedClient(inner classify.Client, store CacheStore, namespace string) *CachedClient {
	return &CachedClient{inner: inner, store: store, namespace: namespace}
}

// hashPrompt creates a SHA256 hash of namespace and prompt.
func hashPrompt(namespace, prompt string) string {
	h := sha256.New()
	h.Write([]byte(namespace))
	h.Write([]byte{0})
	h.Write([]byte(prompt))
	return hex.EncodeToString(h.Sum(nil))
}

// Classify implements classify.Client with caching. Only successful answers are cached;
// cache failures are logged and otherwise ignored.
func (c *CachedClient) Classify(ctx context.Context, prompt string) (classify.RawResult, error) {
	hash := hashPrompt(c.namespace, prompt)

	if c.store != nil {
		cached, err := c.store.GetClassificationCache(hash)
		if err != nil {
			log.Warn().Err(err).Msg("failed to check classification cache")
		} else if cached != nil {
			log.Debug().Str("hash", hash[:16]).Msg("classification cache hit")
			return classify.RawResult{CategoryID: cached.CategoryID, Tags: cached.Tags}, nil
		}
	}

	raw, err := c.inner.Classify(ctx, prompt)
	if err != nil {
		return classify.RawResult{}, err
	}

	if c.store != nil {
		entry := &storage.CachedClassification{CategoryID: raw.CategoryID, Tags: raw.Tags}
		if err := c.store.SetClassificationCache(hash, entry); err != nil {
			log.Warn().Err(err).Msg("failed to cache classification")
		} else {
			log.Debug().Str("hash", hash[:16]).Msg("cached classification")
		}
	}

	return raw, nil
}
