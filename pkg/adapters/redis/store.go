// Package redis persists the application state as a JSON document in a Redis key.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/interplay/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// DefaultKey is the key holding the state document.
const DefaultKey = "interplay:state"

// Store implements ports.StateBackend using Redis.
type Store struct {
	client    *backend.Client
	key       string
	lease     time.Duration
	leaseWait time.Duration
	owner     *Lease
}

type Option func(*Store)

// WithKey sets the key holding the state document.
func WithKey(key string) Option {
	return func(s *Store) {
		s.key = key
	}
}

// WithLease sets the TTL of the ownership lease taken by Acquire.
// Zero disables the lease.
func WithLease(ttl time.Duration) Option {
	return func(s *Store) {
		s.lease = ttl
	}
}

// WithLeaseWait sets how long Acquire keeps trying while another process
// holds the lease.
func WithLeaseWait(d time.Duration) Option {
	return func(s *Store) {
		s.leaseWait = d
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client:    client,
		key:       DefaultKey,
		lease:     15 * time.Second,
		leaseWait: 2 * time.Second,
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// Save persists the state to Redis.
func (s *Store) Save(ctx context.Context, state *domain.AppState) error {
	data, err := domain.MarshalState(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// Load retrieves the state from Redis.
func (s *Store) Load(ctx context.Context) (*domain.AppState, error) {
	val, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrStateNotFound
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	state, err := domain.UnmarshalState(val)
	if err != nil {
		return nil, errors.Join(domain.ErrStateCorrupt, err)
	}
	return state, nil
}

// Quarantine renames the state key to <key>:corrupt:<unix seconds>.
func (s *Store) Quarantine(ctx context.Context) (string, error) {
	n, err := s.client.Exists(ctx, s.key).Result()
	if err != nil {
		return "", fmt.Errorf("failed to check redis key: %w", err)
	}
	if n == 0 {
		return "", domain.ErrStateNotFound
	}

	dest := fmt.Sprintf("%s:corrupt:%d", s.key, time.Now().Unix())
	ok, err := s.client.RenameNX(ctx, s.key, dest).Result()
	if err != nil {
		return "", fmt.Errorf("failed to quarantine redis key: %w", err)
	}
	if !ok {
		dest = fmt.Sprintf("%s:corrupt:%d", s.key, time.Now().UnixNano())
		if err := s.client.Rename(ctx, s.key, dest).Err(); err != nil {
			return "", fmt.Errorf("failed to quarantine redis key: %w", err)
		}
	}
	return dest, nil
}

// Delete removes the state key.
func (s *Store) Delete(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}

// Acquire takes the ownership lease for the state key, see Lease.
func (s *Store) Acquire(ctx context.Context) (func(context.Context) error, error) {
	if s.lease <= 0 {
		return func(context.Context) error { return nil }, nil
	}
	l, err := AcquireLease(ctx, s.client, s.key+":owner", s.lease, s.leaseWait)
	if err != nil {
		return nil, err
	}
	s.owner = l
	return l.Release, nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
