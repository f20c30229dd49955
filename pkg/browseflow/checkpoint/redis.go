package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists checkpoints in Redis so several server processes can
// share recovery state.
//
// Layout, for prefix P and workflow W:
//
//	P:cp:W:<node>  hash {data, sequence, timestamp, size}
//	P:cp:W         sorted set of node ids scored by sequence
//	P:seq:W        sequence counter
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string

	mu     sync.RWMutex
	closed bool
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL expires a workflow's checkpoints after ttl without writes.
// Zero keeps them until DeleteRun.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix. Default is "browseflow".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a Redis-backed checkpoint store.
//
// Example:
//
//	store := checkpoint.NewRedisStore(
//	    redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
//	    checkpoint.WithTTL(24*time.Hour),
//	)
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: "browseflow",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) indexKey(workflowID string) string {
	return s.prefix + ":cp:" + workflowID
}

func (s *RedisStore) entryKey(workflowID, nodeID string) string {
	return s.prefix + ":cp:" + workflowID + ":" + nodeID
}

func (s *RedisStore) seqKey(workflowID string) string {
	return s.prefix + ":seq:" + workflowID
}

func (s *RedisStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, workflowID, nodeID string, data []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	seq, err := s.client.Incr(ctx, s.seqKey(workflowID)).Result()
	if err != nil {
		return fmt.Errorf("redis incr failed: %w", err)
	}

	entry := s.entryKey(workflowID, nodeID)
	index := s.indexKey(workflowID)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, entry,
		"data", data,
		"sequence", seq,
		"timestamp", time.Now().UTC().Format(time.RFC3339Nano),
		"size", len(data),
	)
	pipe.ZAdd(ctx, index, redis.Z{Score: float64(seq), Member: nodeID})
	if s.ttl > 0 {
		pipe.Expire(ctx, entry, s.ttl)
		pipe.Expire(ctx, index, s.ttl)
		pipe.Expire(ctx, s.seqKey(workflowID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, workflowID, nodeID string) ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	data, err := s.client.HGet(ctx, s.entryKey(workflowID, nodeID), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis hget failed: %w", err)
	}
	return data, nil
}

// List implements Store.
func (s *RedisStore) List(ctx context.Context, workflowID string) ([]Info, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	nodes, err := s.client.ZRangeWithScores(ctx, s.indexKey(workflowID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrange failed: %w", err)
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.SliceCmd, len(nodes))
	for i, z := range nodes {
		cmds[i] = pipe.HMGet(ctx, s.entryKey(workflowID, z.Member.(string)), "timestamp", "size")
	}
	if len(nodes) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("redis pipeline failed: %w", err)
		}
	}

	infos := make([]Info, 0, len(nodes))
	for i, z := range nodes {
		info := Info{
			WorkflowID: workflowID,
			NodeID:     z.Member.(string),
			Sequence:   int(z.Score),
		}
		vals := cmds[i].Val()
		if len(vals) == 2 {
			if ts, ok := vals[0].(string); ok {
				info.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
			}
			if size, ok := vals[1].(string); ok {
				info.Size, _ = strconv.ParseInt(size, 10, 64)
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, workflowID, nodeID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.entryKey(workflowID, nodeID))
	pipe.ZRem(ctx, s.indexKey(workflowID), nodeID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// DeleteRun implements Store.
func (s *RedisStore) DeleteRun(ctx context.Context, workflowID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	nodes, err := s.client.ZRange(ctx, s.indexKey(workflowID), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("redis zrange failed: %w", err)
	}

	keys := []string{s.indexKey(workflowID), s.seqKey(workflowID)}
	for _, n := range nodes {
		keys = append(keys, s.entryKey(workflowID, n))
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// Close marks the store closed. The redis client is owned by the caller.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
