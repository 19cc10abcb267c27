package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/korrapati-satish/vahan-rakshak/pkg/models"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key. Defaults to "vahan".
	Prefix string
	// Retention is the TTL of each stored result. Zero keeps them forever.
	Retention time.Duration
}

// RedisStore keeps each result as a JSON string under {prefix}:workflow:{id}
// and indexes run ids in sorted sets scored by start time, one global and one
// per vehicle.
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	log.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("Redis store connected")
	return NewRedisStoreWithClient(client, opts), nil
}

// NewRedisStoreWithClient wraps an existing client. Connection fields of opts
// are ignored.
func NewRedisStoreWithClient(client redis.UniversalClient, opts RedisOptions) *RedisStore {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "vahan"
	}
	return &RedisStore{client: client, prefix: prefix, retention: opts.Retention}
}

func (s *RedisStore) workflowKey(runID string) string {
	return s.prefix + ":workflow:" + runID
}

func (s *RedisStore) indexKey(vehicleID string) string {
	if vehicleID == "" {
		return s.prefix + ":workflows"
	}
	return s.prefix + ":vehicle:" + vehicleID + ":workflows"
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) SaveWorkflow(ctx context.Context, result *models.WorkflowResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode workflow %s: %w", result.RunID, err)
	}

	score := float64(result.StartedAt.UnixNano())
	member := redis.Z{Score: score, Member: result.RunID}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.workflowKey(result.RunID), data, s.retention)
		pipe.ZAdd(ctx, s.indexKey(""), member)
		if result.VehicleID != "" {
			pipe.ZAdd(ctx, s.indexKey(result.VehicleID), member)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save workflow %s: %w", result.RunID, err)
	}
	return nil
}

func (s *RedisStore) GetWorkflow(ctx context.Context, runID string) (*models.WorkflowResult, error) {
	data, err := s.client.Get(ctx, s.workflowKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, &ErrNotFound{Entity: "workflow", Key: runID}
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow %s: %w", runID, err)
	}
	var result models.WorkflowResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode workflow %s: %w", runID, err)
	}
	return &result, nil
}

// ListWorkflows walks the index newest first. Index entries whose result has
// expired are dropped from the index as they are found.
func (s *RedisStore) ListWorkflows(ctx context.Context, filter ListFilter) ([]models.WorkflowResult, error) {
	index := s.indexKey(filter.VehicleID)
	limit := filter.limit()
	result := make([]models.WorkflowResult, 0)

	const page = 100
	for start := int64(0); len(result) < limit; start += page {
		ids, err := s.client.ZRevRange(ctx, index, start, start+page-1).Result()
		if err != nil {
			return nil, fmt.Errorf("list workflows: %w", err)
		}
		if len(ids) == 0 {
			break
		}

		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = s.workflowKey(id)
		}
		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("list workflows: %w", err)
		}

		var stale []interface{}
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				stale = append(stale, ids[i])
				continue
			}
			var r models.WorkflowResult
			if err := json.Unmarshal([]byte(raw), &r); err != nil {
				log.Warn().Err(err).Str("run_id", ids[i]).Msg("Skipping undecodable workflow result")
				continue
			}
			if filter.matches(&r) {
				result = append(result, r)
				if len(result) == limit {
					break
				}
			}
		}
		if len(stale) > 0 {
			if err := s.client.ZRem(ctx, index, stale...).Err(); err != nil {
				log.Warn().Err(err).Str("index", index).Msg("Failed to prune expired index entries")
			} else {
				start -= int64(len(stale))
			}
		}
		if len(ids) < page {
			break
		}
	}
	return result, nil
}
