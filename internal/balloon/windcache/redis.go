// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
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

package windcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"balloontrack/internal/balloon"
)

// RedisCache backs the Wind Cache with a shared Redis instance so multiple
// process instances (e.g. a serverless deployment) see the same cached
// wind vectors. Grounded on the
// teacher's GoRedisEvaler client wrapper; uses plain GET/SETEX instead of
// the teacher's idempotent-commit Lua script, since cache entries have no
// commit semantics to dedupe.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache returns a Cache backed by the Redis instance at addr.
func NewRedisCache(addr string, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = CurrentTTL
	}
	return &RedisCache{client: redis.NewClient(&redis.Options{Addr: addr}), ttl: ttl}
}

func redisKey(loc balloon.WindLocation) string {
	return fmt.Sprintf("windcache:%s", Key(loc))
}

func (c *RedisCache) Get(ctx context.Context, loc balloon.WindLocation) (balloon.WindVector, bool, error) {
	raw, err := c.client.Get(ctx, redisKey(loc)).Bytes()
	if err == redis.Nil {
		return balloon.WindVector{}, false, nil
	}
	if err != nil {
		return balloon.WindVector{}, false, balloon.Wrap(balloon.KindWindUnavailable, "redis get", err)
	}
	var v balloon.WindVector
	if err := json.Unmarshal(raw, &v); err != nil {
		return balloon.WindVector{}, false, balloon.Wrap(balloon.KindWindUnavailable, "unmarshal wind vector", err)
	}
	return v, true, nil
}

func (c *RedisCache) Put(ctx context.Context, loc balloon.WindLocation, v balloon.WindVector) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return balloon.Wrap(balloon.KindWindUnavailable, "marshal wind vector", err)
	}
	if err := c.client.Set(ctx, redisKey(loc), raw, c.ttl).Err(); err != nil {
		return balloon.Wrap(balloon.KindWindUnavailable, "redis set", err)
	}
	return nil
}
