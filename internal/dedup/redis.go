package dedup

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// Connect builds a redis client from either a redis:// URL or a host:port.
func Connect(addr, password string, db int) (*redis.Client, error) {
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opt, err := redis.ParseURL(addr)
		if err != nil {
			return nil, eris.Wrap(err, "dedup: parse redis url")
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}), nil
}

// RedisIndex keeps one set per org and category.
type RedisIndex struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisIndex creates an index. A zero ttl keeps sets forever.
func NewRedisIndex(client redis.Cmdable, ttl time.Duration) *RedisIndex {
	return &RedisIndex{client: client, prefix: "hydra:delivered", ttl: ttl}
}

// key escapes both parts so ':' inside an org or category cannot make
// two scopes share a set.
func (r *RedisIndex) key(orgID, category string) string {
	return r.prefix + ":" + url.QueryEscape(orgID) + ":" + url.QueryEscape(category)
}

func (r *RedisIndex) Contains(ctx context.Context, orgID, category, hash string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, r.key(orgID, category), hash).Result()
	if err != nil {
		return false, eris.Wrap(err, "dedup: redis sismember")
	}
	return ok, nil
}

func (r *RedisIndex) Add(ctx context.Context, orgID, category string, hashes ...string) error {
	if len(hashes) == 0 {
		return nil
	}
	members := make([]any, len(hashes))
	for i, h := range hashes {
		members[i] = h
	}
	key := r.key(orgID, category)
	if err := r.client.SAdd(ctx, key, members...).Err(); err != nil {
		return eris.Wrap(err, "dedup: redis sadd")
	}
	if r.ttl > 0 {
		if err := r.client.Expire(ctx, key, r.ttl).Err(); err != nil {
			return eris.Wrap(err, "dedup: redis expire")
		}
	}
	return nil
}
