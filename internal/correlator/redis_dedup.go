package correlator

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisDedup shares the dedup window across every Overwatch instance behind
// the same deployment, using SETNX-with-TTL semantics: the first caller to
// set a key within the window wins and every caller afterwards observes the
// key already present until it expires (spec §4.7's "two events in the same
// window with the same key count as one arrival", made to hold across
// processes rather than just within one).
type RedisDedup struct {
	client    *goredis.Client
	keyPrefix string
}

// NewRedisDedup wraps client. keyPrefix namespaces dedup keys so they don't
// collide with any other use of the same Redis instance.
func NewRedisDedup(client *goredis.Client, keyPrefix string) *RedisDedup {
	if keyPrefix == "" {
		keyPrefix = "overwatch:dedup:"
	}
	return &RedisDedup{client: client, keyPrefix: keyPrefix}
}

// Admit implements DedupWindow. SetNX both creates the key and reports
// whether it already existed in a single round trip; the window is
// refreshed on every arrival by re-setting the TTL via EXPIRE, matching the
// in-memory implementation's sliding-window behavior.
func (d *RedisDedup) Admit(groupKey string, window time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := d.keyPrefix + groupKey
	isNew, err := d.client.SetNX(ctx, key, time.Now().UnixNano(), window).Result()
	if err != nil {
		return false, err
	}
	if !isNew {
		d.client.Expire(ctx, key, window)
	}
	return isNew, nil
}
