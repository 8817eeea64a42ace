// Package runlock keeps scheduled reconciliation runs for the same realm from
// overlapping.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned by Acquire when another run holds the lock.
var ErrHeld = errors.New("reconcile run already in progress")

const keyPrefix = "channelmap:reconcile:"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Locker struct {
	client *redis.Client
	ttl    time.Duration
}

func New(url string, ttl time.Duration) (*Locker, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &Locker{client: redis.NewClient(opt), ttl: ttl}, nil
}

func (l *Locker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *Locker) Close() error {
	return l.client.Close()
}

// Lease is a held lock. Release is safe to call more than once.
type Lease struct {
	client *redis.Client
	key    string
	token  string
}

func (l *Locker) Acquire(ctx context.Context, realm string) (*Lease, error) {
	key := keyPrefix + realm
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHeld, key)
	}
	return &Lease{client: l.client, key: key, token: token}, nil
}

// Release deletes the lock only if this lease still owns it, so a run that
// outlived its TTL cannot drop a lock taken by the next run.
func (le *Lease) Release(ctx context.Context) error {
	if le == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, le.client, []string{le.key}, le.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release run lock %s: %w", le.key, err)
	}
	return nil
}
