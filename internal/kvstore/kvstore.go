// Package kvstore persists small runtime state (mode, interval, boot
// markers) across restarts. The backing store is redis-compatible;
// when no URL is configured or the server is unreachable the runtime
// degrades to an in-process map so a missing KV never blocks boot.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"ain/internal/config"
	"ain/internal/logging"
	"ain/internal/types"
)

// opTimeout bounds every socket operation. Timed-out operations are
// retried once.
const opTimeout = 5 * time.Second

// Well-known state keys under the configured keyspace.
const (
	KeySystemState = "state:system_state"
	KeyLastBoot    = "state:last_boot"
)

// ErrNotFound reports a key with no value.
var ErrNotFound = errors.New("kv: key not found")

// Store is the state-store contract consumed by the scheduler and
// supervisor.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// Open connects to the configured store. An empty URL, a bad URL, or a
// failed ping all fall back to the in-memory store with a logged
// degradation; callers never receive an error from Open.
func Open(cfg config.KVConfig) Store {
	log := logging.Get(logging.CategoryKV)
	if cfg.URL == "" {
		log.Info("no KV url configured: state held in memory only")
		return NewMemory()
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		log.Warn("bad KV url (%v): state held in memory only", err)
		return NewMemory()
	}
	opts.DialTimeout = opTimeout
	opts.ReadTimeout = opTimeout
	opts.WriteTimeout = opTimeout

	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("KV unreachable at %s (%v): state held in memory only", opts.Addr, err)
		rdb.Close()
		return NewMemory()
	}

	logging.KV("connected: %s keyspace=%s", opts.Addr, cfg.Keyspace)
	return &Client{rdb: rdb, keyspace: cfg.Keyspace}
}

// =============================================================================
// REDIS CLIENT
// =============================================================================

// Client is the redis-backed Store. Keys are namespaced with the
// configured keyspace, e.g. "ain:state:system_state".
type Client struct {
	rdb      *redis.Client
	keyspace string
}

func (c *Client) fullKey(key string) string {
	if c.keyspace == "" {
		return key
	}
	return c.keyspace + ":" + key
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := c.withRetry(ctx, func(ctx context.Context) error {
		b, err := c.rdb.Get(ctx, c.fullKey(key)).Bytes()
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv get %s: %w: %v", key, types.ErrExternalUnavailable, err)
	}
	return out, nil
}

func (c *Client) Set(ctx context.Context, key string, value []byte) error {
	err := c.withRetry(ctx, func(ctx context.Context) error {
		return c.rdb.Set(ctx, c.fullKey(key), value, 0).Err()
	})
	if err != nil {
		return fmt.Errorf("kv set %s: %w: %v", key, types.ErrExternalUnavailable, err)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	err := c.withRetry(ctx, func(ctx context.Context) error {
		return c.rdb.Del(ctx, c.fullKey(key)).Err()
	})
	if err != nil {
		return fmt.Errorf("kv delete %s: %w: %v", key, types.ErrExternalUnavailable, err)
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.withRetry(ctx, func(ctx context.Context) error {
		return c.rdb.Ping(ctx).Err()
	})
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// withRetry runs op under the 5 s bound and retries exactly once when
// the failure was a timeout.
func (c *Client) withRetry(ctx context.Context, op func(context.Context) error) error {
	err := c.bounded(ctx, op)
	if err == nil || !isTimeout(err) {
		return err
	}
	logging.Get(logging.CategoryKV).Warn("operation timed out, retrying once: %v", err)
	return c.bounded(ctx, op)
}

func (c *Client) bounded(ctx context.Context, op func(context.Context) error) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opTimeout)
		defer cancel()
	}
	return op(ctx)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// =============================================================================
// IN-MEMORY FALLBACK
// =============================================================================

// Memory is the degraded Store: state survives within the process but
// not across restarts.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{data: map[string][]byte{}}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := make([]byte, len(value))
	copy(b, value)
	m.data[key] = b
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

// =============================================================================
// JSON HELPERS
// =============================================================================

// SetJSON marshals v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kv marshal %s: %w", key, err)
	}
	return s.Set(ctx, key, b)
}

// GetJSON loads key into v. Missing keys return ErrNotFound.
func GetJSON(ctx context.Context, s Store, key string, v interface{}) error {
	b, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("kv unmarshal %s: %w", key, err)
	}
	return nil
}
