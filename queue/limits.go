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

package queue

import (
	"context"

	"github.com/hashicorp/golang-lru/v2/expirable"
	log "github.com/inconshreveable/log15"
)

// limitCacheSize bounds how many submitters' counts are cached at once.
const limitCacheSize = 4096

// activeCounter is the authoritative source of live job counts per
// submitter; *storage.RedisStore satisfies it.
type activeCounter interface {
	ActiveCount(ctx context.Context, submitterID string) (int, error)
}

// userLimits caches active-job counts per submitter so admission does not
// scan the backing store on every call. Entries expire on a short TTL and
// are invalidated explicitly at terminal transitions so freed slots become
// usable immediately.
type userLimits struct {
	counter activeCounter
	cache   *expirable.LRU[string, int]
	logger  log.Logger
}

func newUserLimits(counter activeCounter, cfg Config, logger log.Logger) *userLimits {
	return &userLimits{
		counter: counter,
		cache:   expirable.NewLRU[string, int](limitCacheSize, nil, cfg.LimitCacheTTL),
		logger:  logger,
	}
}

// Count returns the submitter's live job count, serving from the cache when
// fresh. A backing-store failure fails closed: admission must not grant a
// slot it cannot account for.
func (l *userLimits) Count(ctx context.Context, submitterID string) (int, error) {
	if count, ok := l.cache.Get(submitterID); ok {
		return count, nil
	}
	count, err := l.counter.ActiveCount(ctx, submitterID)
	if err != nil {
		l.logger.Error("Active job count unavailable", "submitter", submitterID, "err", err)
		return 0, ErrLimitUnavailable
	}
	l.cache.Add(submitterID, count)
	return count, nil
}

// Invalidate drops the cached count; called at admission and whenever one of
// the submitter's jobs reaches a terminal state.
func (l *userLimits) Invalidate(submitterID string) {
	l.cache.Remove(submitterID)
}
