package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

var (
	// ErrLeaseHeld is returned when another process owns the lease.
	ErrLeaseHeld = errors.New("state is owned by another process")
)

const (
	releaseScript = `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`
	refreshScript = `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`
)

// Lease is an ownership lock kept alive in the background until released.
type Lease struct {
	client *backend.Client
	key    string
	token  string
	ttl    time.Duration

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// AcquireLease takes key using SET NX PX. While another holder has it,
// acquisition is retried until wait elapses or ctx is done.
func AcquireLease(ctx context.Context, client *backend.Client, key string, ttl, wait time.Duration) (*Lease, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(wait)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		ok, err := client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis error acquiring lease: %w", err)
		}
		if ok {
			l := &Lease{
				client: client,
				key:    key,
				token:  token,
				ttl:    ttl,
				stop:   make(chan struct{}),
				done:   make(chan struct{}),
			}
			go l.keepAlive()
			return l, nil
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLeaseHeld, key)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Lease) keepAlive() {
	defer close(l.done)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			_ = l.client.Eval(ctx, refreshScript, []string{l.key}, l.token, l.ttl.Milliseconds()).Err()
			cancel()
		}
	}
}

// Release stops refreshing and deletes the key if this lease still holds it.
func (l *Lease) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		close(l.stop)
		<-l.done
		err = l.client.Eval(ctx, releaseScript, []string{l.key}, l.token).Err()
	})
	return err
}
