package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"maps-workers/internal/models"
)

const tierRedis = "redis"

// generationTTL bounds how long an invalidation fence outlives the entry.
// A load that takes longer than this may still write back a stale map.
const generationTTL = 24 * time.Hour

// setIfCurrent stores the entry only while the id's generation is the one
// the writer saw before reading the store.
var setIfCurrent = redis.NewScript(`
local gen = redis.call('GET', KEYS[2])
if (gen or '0') ~= ARGV[2] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[1], ARGV[1])
end
return 1
`)

// RedisCache shares injected maps between workers. Entries expire with the
// key TTL. Every invalidation bumps a per-id generation and is published on
// a channel so workers can drop their local copies.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (c *RedisCache) key(id string) string {
	return c.prefix + "map:" + id
}

func (c *RedisCache) generationKey(id string) string {
	return c.prefix + "gen:" + id
}

// Channel is where invalidated ids are published.
func (c *RedisCache) Channel() string {
	return c.prefix + "invalidations"
}

func (c *RedisCache) Get(ctx context.Context, id string) (*models.SavedMap, bool, error) {
	data, err := c.client.Get(ctx, c.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		observe(tierRedis, "miss")
		return nil, false, nil
	}
	if err != nil {
		observe(tierRedis, "error")
		return nil, false, err
	}

	m, _, err := decode(data)
	if err != nil {
		observe(tierRedis, "error")
		return nil, false, err
	}
	observe(tierRedis, "hit")
	return m, true, nil
}

func (c *RedisCache) Generation(ctx context.Context, id string) (uint64, error) {
	gen, err := c.client.Get(ctx, c.generationKey(id)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Set returns ErrStale when id was invalidated after generation was read.
func (c *RedisCache) Set(ctx context.Context, m *models.SavedMap, generation uint64) error {
	data, err := encode(m, time.Time{})
	if err != nil {
		return err
	}

	stored, err := setIfCurrent.Run(ctx, c.client,
		[]string{c.key(m.ID), c.generationKey(m.ID)},
		data, strconv.FormatUint(generation, 10), c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return err
	}
	if stored == 0 {
		observe(tierRedis, "stale")
		return ErrStale
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Del(ctx, c.key(id))
			pipe.Incr(ctx, c.generationKey(id))
			pipe.Expire(ctx, c.generationKey(id), generationTTL)
		}
		return nil
	})
	if err != nil {
		return err
	}

	payload, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, c.Channel(), string(payload)).Err()
}

// Subscribe calls drop with the ids of every invalidation published by any
// worker until ctx is done. It returns once the subscription is active.
func (c *RedisCache) Subscribe(ctx context.Context, drop func(ids []string), onError func(error)) error {
	sub := c.client.Subscribe(ctx, c.Channel())
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return err
	}

	go func() {
		defer sub.Close()
		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var ids []string
				if err := json.Unmarshal([]byte(msg.Payload), &ids); err != nil {
					onError(err)
					continue
				}
				drop(ids)
			}
		}
	}()
	return nil
}
