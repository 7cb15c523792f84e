package lock

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/craftfast/sandbox-backend/internal/sandbox/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "sandbox:lock:" // sandbox:lock:{project_id}

	// pollInterval bounds how hard a waiter hammers Redis while the key
	// is held by someone else.
	pollInterval = 100 * time.Millisecond
	maxPoll      = 1 * time.Second
)

// releaseScript deletes the key only when the caller still owns it, so a
// release arriving after TTL expiry cannot delete a successor's lock.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Locker serializes lifecycle operations per project across all
// instances of the service. Backed by Redis SET NX with a TTL so a
// crashed holder's lock self-expires instead of deadlocking the project.
type Locker struct {
	client *redis.Client
}

func NewLocker(client *redis.Client) *Locker {
	return &Locker{client: client}
}

// Options tunes one acquisition. TTL must exceed the longest critical
// section the lock will guard; Wait is how long to poll for a busy key
// before giving up with domain.ErrLockContention.
type Options struct {
	TTL  time.Duration
	Wait time.Duration
}

// ReleaseFunc releases the lock. Safe to call more than once; only the
// first call touches Redis.
type ReleaseFunc func()

// Acquire takes the lifecycle lock for a project, polling with backoff
// up to opts.Wait. The returned release must be called on every exit
// path; deferring it immediately after a successful Acquire is the
// expected pattern.
func (l *Locker) Acquire(ctx context.Context, projectID string, opts Options) (ReleaseFunc, error) {
	if opts.TTL <= 0 {
		return nil, fmt.Errorf("lock ttl must be positive")
	}

	key := keyPrefix + projectID
	token := uuid.New().String()
	deadline := time.Now().Add(opts.Wait)
	backoff := pollInterval

	for {
		ok, err := l.client.SetNX(ctx, key, token, opts.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return l.releaseFunc(key, token), nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("lock %s held after waiting %s: %w", key, opts.Wait, domain.ErrLockContention)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxPoll {
			backoff = maxPoll
		}
	}
}

func (l *Locker) releaseFunc(key, token string) ReleaseFunc {
	var once sync.Once
	return func() {
		once.Do(func() {
			// Release must work even when the caller's context is already
			// cancelled; a short independent deadline covers the Redis call.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
				// The TTL still bounds the damage; log and move on.
				log.Printf("[warn] operation=lock_release key=%s error=%v", key, err)
			}
		})
	}
}
