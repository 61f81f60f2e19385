package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrStateNotFound is returned by Take for unknown, expired or consumed states.
var ErrStateNotFound = errors.New("oauth state not found")

// Handshake correlates an authorization attempt with its callback.
type Handshake struct {
	State      string    `json:"state"`
	TenantID   string    `json:"merchant_id"`
	ShopDomain string    `json:"shop_domain"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (h Handshake) expired(now time.Time) bool { return !now.Before(h.ExpiresAt) }

// StateStore keeps in-flight handshakes. States are single use: Take removes
// the entry in the same step that reads it.
type StateStore interface {
	Save(ctx context.Context, h Handshake) error
	Take(ctx context.Context, state string) (Handshake, error)
	// Pending reports whether tenantID has at least one unexpired handshake.
	Pending(ctx context.Context, tenantID string) (bool, error)
}

// newStateToken returns 32 random bytes, base64url encoded.
func newStateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// MemoryStateStore is a process-local StateStore. Expired entries are checked
// lazily on read and pruned whenever a new handshake is saved.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]Handshake
	now    func() time.Time
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: map[string]Handshake{}, now: time.Now}
}

func (m *MemoryStateStore) Save(_ context.Context, h Handshake) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, v := range m.states {
		if v.expired(now) {
			delete(m.states, k)
		}
	}
	m.states[h.State] = h
	return nil
}

func (m *MemoryStateStore) Take(_ context.Context, state string) (Handshake, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.states[state]
	if !ok {
		return Handshake{}, ErrStateNotFound
	}
	delete(m.states, state)
	if h.expired(m.now()) {
		return Handshake{}, ErrStateNotFound
	}
	return h, nil
}

func (m *MemoryStateStore) Pending(_ context.Context, tenantID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, h := range m.states {
		if h.TenantID == tenantID && !h.expired(now) {
			return true, nil
		}
	}
	return false, nil
}

// RedisStateStore shares handshakes across gateway instances.
//
// Keys:
//
//	{prefix}state:{token}    JSON Handshake, EX = ttl
//	{prefix}pending:{tenant} sorted set of tokens scored by expiry (unix ms)
type RedisStateStore struct {
	rdb    redis.Cmdable
	prefix string
	log    *zap.SugaredLogger
	now    func() time.Time
}

func NewRedisStateStore(rdb redis.Cmdable, prefix string, log *zap.SugaredLogger) *RedisStateStore {
	if prefix == "" {
		prefix = "shopgate:oauth:"
	}
	return &RedisStateStore{rdb: rdb, prefix: prefix, log: log, now: time.Now}
}

func (r *RedisStateStore) stateKey(s string) string   { return r.prefix + "state:" + s }
func (r *RedisStateStore) pendingKey(t string) string { return r.prefix + "pending:" + t }

func (r *RedisStateStore) Save(ctx context.Context, h Handshake) error {
	ttl := h.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return fmt.Errorf("handshake already expired")
	}
	b, err := json.Marshal(h)
	if err != nil {
		return err
	}
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.stateKey(h.State), b, ttl)
		p.ZAdd(ctx, r.pendingKey(h.TenantID), redis.Z{Score: float64(h.ExpiresAt.UnixMilli()), Member: h.State})
		p.PExpire(ctx, r.pendingKey(h.TenantID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save state: %w", err)
	}
	return nil
}

func (r *RedisStateStore) Take(ctx context.Context, state string) (Handshake, error) {
	b, err := r.rdb.GetDel(ctx, r.stateKey(state)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Handshake{}, ErrStateNotFound
	}
	if err != nil {
		return Handshake{}, fmt.Errorf("redis take state: %w", err)
	}
	var h Handshake
	if err := json.Unmarshal(b, &h); err != nil {
		return Handshake{}, fmt.Errorf("decode state: %w", err)
	}
	// The state itself is already spent; a leftover index entry only keeps
	// Pending true until its score passes, so this failure is not returned.
	if err := r.rdb.ZRem(ctx, r.pendingKey(h.TenantID), state).Err(); err != nil {
		r.log.Warnw("redis drop pending state failed", "merchant_id", h.TenantID, "err", err)
	}
	if h.expired(r.now()) {
		return Handshake{}, ErrStateNotFound
	}
	return h, nil
}

func (r *RedisStateStore) Pending(ctx context.Context, tenantID string) (bool, error) {
	key := r.pendingKey(tenantID)
	cutoff := strconv.FormatInt(r.now().UnixMilli(), 10)
	if err := r.rdb.ZRemRangeByScore(ctx, key, "-inf", cutoff).Err(); err != nil {
		return false, fmt.Errorf("redis prune pending: %w", err)
	}
	n, err := r.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis pending: %w", err)
	}
	return n > 0, nil
}
