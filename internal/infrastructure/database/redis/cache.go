package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/propelkit/experiments/internal/domain/experiment"
	"github.com/propelkit/experiments/internal/infrastructure/monitoring/logging"
	"github.com/propelkit/experiments/pkg/errors"
)

const resultsKeyPrefix = "abx:results:"

// DefaultResultsTTL bounds how stale a cached result read-model may get.
const DefaultResultsTTL = 30 * time.Second

// ResultsSource computes the results read-model for an experiment.
// *experiment.Service satisfies it.
type ResultsSource interface {
	Results(ctx context.Context, id string) (*experiment.Results, error)
}

// ResultsCache serves experiment results from Redis, recomputing on miss.
// Concurrent misses for the same experiment are collapsed into a single
// recompute via singleflight.
type ResultsCache struct {
	client *Client
	source ResultsSource
	ttl    time.Duration
	group  singleflight.Group
	logger logging.Logger
}

// NewResultsCache builds a cache over the given source. A non-positive ttl
// falls back to DefaultResultsTTL.
func NewResultsCache(client *Client, source ResultsSource, ttl time.Duration, log logging.Logger) *ResultsCache {
	if ttl <= 0 {
		ttl = DefaultResultsTTL
	}
	return &ResultsCache{
		client: client,
		source: source,
		ttl:    ttl,
		logger: log.Named("results-cache"),
	}
}

func resultsKey(experimentID string) string {
	return resultsKeyPrefix + experimentID
}

// Results returns the cached read-model for the experiment, computing and
// storing it when absent. Cache failures degrade to a direct computation.
func (c *ResultsCache) Results(ctx context.Context, id string) (*experiment.Results, error) {
	key := resultsKey(id)

	raw, err := c.client.Redis().Get(ctx, key).Bytes()
	if err == nil {
		var out experiment.Results
		if uerr := json.Unmarshal(raw, &out); uerr == nil {
			return &out, nil
		}
		c.logger.Warn("discarding undecodable cache entry", logging.String("key", key))
	} else if err != goredis.Nil {
		c.logger.Warn("cache read failed, computing directly",
			logging.String("experiment_id", id), logging.Err(err))
		return c.source.Results(ctx, id)
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		res, err := c.source.Results(ctx, id)
		if err != nil {
			return nil, err
		}
		c.store(ctx, key, res)
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	res, ok := v.(*experiment.Results)
	if !ok {
		return nil, errors.New(errors.ErrCodeCacheError,
			fmt.Sprintf("unexpected cached type %T", v))
	}
	return res, nil
}

func (c *ResultsCache) store(ctx context.Context, key string, res *experiment.Results) {
	raw, err := json.Marshal(res)
	if err != nil {
		c.logger.Warn("failed to encode results for cache", logging.Err(err))
		return
	}
	if err := c.client.Redis().Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", logging.String("key", key), logging.Err(err))
	}
}

// Invalidate drops the cached entry for the experiment. The mutating API
// handlers call it after lifecycle changes and conversion writes; impression
// increments from assignment rely on the TTL instead, keeping the cache
// effective on the hot path.
func (c *ResultsCache) Invalidate(ctx context.Context, experimentID string) {
	if err := c.client.Redis().Del(ctx, resultsKey(experimentID)).Err(); err != nil {
		c.logger.Warn("cache invalidation failed",
			logging.String("experiment_id", experimentID), logging.Err(err))
	}
}
