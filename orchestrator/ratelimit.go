// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// TenantRateLimiter enforces a per-tenant requests-per-minute budget using
// a Redis sliding window. Redis failures fail open: a broken limiter must
// not take chat traffic down with it.
type TenantRateLimiter struct {
	client         *redis.Client
	limitPerMinute int
}

// NewTenantRateLimiter connects to Redis and verifies the connection.
func NewTenantRateLimiter(addr, password string, db, limitPerMinute int) (*TenantRateLimiter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &TenantRateLimiter{
		client:         client,
		limitPerMinute: limitPerMinute,
	}, nil
}

// newTenantRateLimiterWithClient wraps an existing client (used in tests).
func newTenantRateLimiterWithClient(client *redis.Client, limitPerMinute int) *TenantRateLimiter {
	return &TenantRateLimiter{client: client, limitPerMinute: limitPerMinute}
}

// Allow checks and records one request for a tenant. It returns an error
// only when the tenant is over budget.
func (l *TenantRateLimiter) Allow(ctx context.Context, tenantID string) error {
	now := time.Now()
	key := fmt.Sprintf("ratelimit:%s", tenantID)

	// Pipeline keeps the window maintenance and the count atomic enough
	// for admission purposes.
	pipe := l.client.Pipeline()

	minScore := now.Add(-time.Minute).Unix()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", minScore))
	pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, &redis.Z{
		Score:  float64(now.Unix()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe.Expire(ctx, key, 2*time.Minute)

	cmds, err := pipe.Exec(ctx)
	if err != nil {
		log.Printf("[RATE_LIMIT] Redis check failed for tenant %s: %v (failing open)", tenantID, err)
		return nil
	}

	count := cmds[1].(*redis.IntCmd).Val()
	if count >= int64(l.limitPerMinute) {
		return fmt.Errorf("rate limit exceeded: %d requests/minute (limit: %d)", count+1, l.limitPerMinute)
	}

	return nil
}

// Status returns the tenant's current window count and when the window
// resets.
func (l *TenantRateLimiter) Status(ctx context.Context, tenantID string) (int, time.Time, error) {
	key := fmt.Sprintf("ratelimit:%s", tenantID)
	now := time.Now()

	minScore := now.Add(-time.Minute).Unix()
	count, err := l.client.ZCount(ctx, key, fmt.Sprintf("%d", minScore), "+inf").Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to get rate limit status: %w", err)
	}

	resetTime := now.Truncate(time.Minute).Add(time.Minute)
	return int(count), resetTime, nil
}

// Close releases the Redis connection pool.
func (l *TenantRateLimiter) Close() error {
	return l.client.Close()
}
