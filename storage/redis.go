// Copyright 2025 The arena Authors
// This file is part of the arena library.
//
// The arena library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The arena library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the arena library. If not, see <http://www.gnu.org/licenses/>.

// Package storage provides the shared key-value layer behind the generation
// queue: the fingerprint result cache, deduplication records, per-submitter
// active-job sets and the FIFO work queue. Key layout:
//
//	cache:<fingerprint>           JSON result, TTL in days
//	dedup:<submitter>:<fp>        job id, TTL is the dedup window
//	active:<submitter>:<job>      "1", removed on terminal transition
//	queue:jobs                    FIFO list of JSON job payloads
//	processing:jobs               set of job ids currently held by workers
//	stats:completed, stats:failed monotonic counters
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned on cache, dedup and queue misses.
var ErrNotFound = errors.New("storage: not found")

const (
	cacheKeyPrefix  = "cache:"
	dedupKeyPrefix  = "dedup:"
	activeKeyPrefix = "active:"
	queueKey        = "queue:jobs"
	processingKey   = "processing:jobs"
	completedKey    = "stats:completed"
	failedKey       = "stats:failed"
)

// RedisStore wraps a redis client with the queue's key discipline.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to the given address. The connection is verified
// lazily; callers that need an early failure should Ping.
func NewRedisStore(addr string) *RedisStore {
	return &RedisStore{client: redis.NewClient(&redis.Options{Addr: addr})}
}

// NewRedisStoreWithClient wraps an existing client (tests use miniredis).
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Ping verifies connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// CacheGet returns the cached result for a fingerprint, or ErrNotFound.
func (s *RedisStore) CacheGet(ctx context.Context, fingerprint string) ([]byte, error) {
	val, err := s.client.Get(ctx, cacheKeyPrefix+fingerprint).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	return val, err
}

// CachePut stores a result under its fingerprint. Single-producer per
// fingerprint is guaranteed upstream by in-flight dedup.
func (s *RedisStore) CachePut(ctx context.Context, fingerprint string, result []byte, ttl time.Duration) error {
	return s.client.Set(ctx, cacheKeyPrefix+fingerprint, result, ttl).Err()
}

// DedupGet returns the in-flight job id recorded for (submitter, fingerprint).
func (s *RedisStore) DedupGet(ctx context.Context, submitterID, fingerprint string) (string, error) {
	val, err := s.client.Get(ctx, dedupKeyPrefix+submitterID+":"+fingerprint).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	return val, err
}

// DedupPut records an in-flight job for the dedup window.
func (s *RedisStore) DedupPut(ctx context.Context, submitterID, fingerprint, jobID string, window time.Duration) error {
	return s.client.Set(ctx, dedupKeyPrefix+submitterID+":"+fingerprint, jobID, window).Err()
}

// DedupDelete drops the dedup record once the job reaches a terminal state.
func (s *RedisStore) DedupDelete(ctx context.Context, submitterID, fingerprint string) error {
	return s.client.Del(ctx, dedupKeyPrefix+submitterID+":"+fingerprint).Err()
}

// ActiveAdd marks a job live for a submitter.
func (s *RedisStore) ActiveAdd(ctx context.Context, submitterID, jobID string) error {
	return s.client.Set(ctx, activeKeyPrefix+submitterID+":"+jobID, "1", 0).Err()
}

// ActiveRemove clears a job from a submitter's live set.
func (s *RedisStore) ActiveRemove(ctx context.Context, submitterID, jobID string) error {
	return s.client.Del(ctx, activeKeyPrefix+submitterID+":"+jobID).Err()
}

// ActiveCount is the authoritative number of live jobs for a submitter.
func (s *RedisStore) ActiveCount(ctx context.Context, submitterID string) (int, error) {
	var (
		cursor uint64
		total  int
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, activeKeyPrefix+submitterID+":*", 100).Result()
		if err != nil {
			return 0, err
		}
		total += len(keys)
		if next == 0 {
			return total, nil
		}
		cursor = next
	}
}

// QueuePush appends a job payload to the FIFO work queue and atomically
// records the dedup entry and the submitter's active mark alongside it.
func (s *RedisStore) QueuePush(ctx context.Context, submitterID, jobID, fingerprint string, payload []byte, dedupWindow time.Duration) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, queueKey, payload)
		pipe.Set(ctx, dedupKeyPrefix+submitterID+":"+fingerprint, jobID, dedupWindow)
		pipe.Set(ctx, activeKeyPrefix+submitterID+":"+jobID, "1", 0)
		return nil
	})
	return err
}

// QueuePop blocks up to timeout for the next job payload, FIFO order.
// Returns ErrNotFound when the wait times out empty.
func (s *RedisStore) QueuePop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	res, err := s.client.BRPop(ctx, timeout, queueKey).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	// BRPop returns [key, value].
	return []byte(res[1]), nil
}

// QueueRemove deletes a specific pending payload from the FIFO without
// disturbing order; used by cancellation. Returns ErrNotFound if the payload
// is no longer queued.
func (s *RedisStore) QueueRemove(ctx context.Context, payload []byte) error {
	n, err := s.client.LRem(ctx, queueKey, 1, payload).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// QueueLen is the number of pending jobs.
func (s *RedisStore) QueueLen(ctx context.Context) (int64, error) {
	return s.client.LLen(ctx, queueKey).Result()
}

// ProcessingAdd marks a job as held by a worker.
func (s *RedisStore) ProcessingAdd(ctx context.Context, jobID string) error {
	return s.client.SAdd(ctx, processingKey, jobID).Err()
}

// ProcessingRemove releases a worker's hold on a job.
func (s *RedisStore) ProcessingRemove(ctx context.Context, jobID string) error {
	return s.client.SRem(ctx, processingKey, jobID).Err()
}

// ProcessingCount is the number of jobs currently held by workers.
func (s *RedisStore) ProcessingCount(ctx context.Context) (int64, error) {
	return s.client.SCard(ctx, processingKey).Result()
}

// Depth is the system-wide admission measure: pending plus processing.
func (s *RedisStore) Depth(ctx context.Context) (int64, error) {
	pending, err := s.QueueLen(ctx)
	if err != nil {
		return 0, err
	}
	processing, err := s.ProcessingCount(ctx)
	if err != nil {
		return 0, err
	}
	return pending + processing, nil
}

// MarkCompleted bumps the completed counter.
func (s *RedisStore) MarkCompleted(ctx context.Context) error {
	return s.client.Incr(ctx, completedKey).Err()
}

// MarkFailed bumps the failed counter.
func (s *RedisStore) MarkFailed(ctx context.Context) error {
	return s.client.Incr(ctx, failedKey).Err()
}

// Stats returns the backing-store view of queue state counts.
func (s *RedisStore) Stats(ctx context.Context) (pending, processing, completed, failed int64, err error) {
	if pending, err = s.QueueLen(ctx); err != nil {
		return
	}
	if processing, err = s.ProcessingCount(ctx); err != nil {
		return
	}
	if completed, err = s.client.Get(ctx, completedKey).Int64(); err != nil && err != redis.Nil {
		return
	}
	if failed, err = s.client.Get(ctx, failedKey).Int64(); err != nil && err != redis.Nil {
		return
	}
	err = nil
	return
}
