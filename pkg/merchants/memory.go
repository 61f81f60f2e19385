package merchants

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type memStore struct {
	log *zap.SugaredLogger
	now func() time.Time

	mu       sync.RWMutex
	byTenant map[string]Record
}

// NewMemoryStore returns a process-local Store for dev and tests.
func NewMemoryStore(log *zap.SugaredLogger) Store {
	return &memStore{log: log, now: time.Now, byTenant: map[string]Record{}}
}

// seedEntry is one merchant in a MERCHANT_SEED_FILE document:
//
//	merchants:
//	  - merchant_id: m1
//	    shop_domain: shop1.myshopify.com
//	    access_token: shpat_...
//	    scopes: [read_products]
type seedEntry struct {
	MerchantID  string   `yaml:"merchant_id"`
	ShopDomain  string   `yaml:"shop_domain"`
	AccessToken string   `yaml:"access_token"`
	Scopes      []string `yaml:"scopes"`
	Inactive    bool     `yaml:"inactive"`
}

// SeedFromFile upserts the merchants listed in a YAML seed file.
func SeedFromFile(ctx context.Context, store Store, path string) (int, error) {
	if path == "" {
		return 0, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var doc struct {
		Merchants []seedEntry `yaml:"merchants"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return 0, fmt.Errorf("yaml parse: %w", err)
	}
	n := 0
	for _, e := range doc.Merchants {
		if e.MerchantID == "" || e.ShopDomain == "" {
			continue
		}
		if _, err := store.Upsert(ctx, Record{
			TenantID: e.MerchantID, ShopDomain: e.ShopDomain, AccessToken: e.AccessToken,
			Scopes: e.Scopes, Active: !e.Inactive,
		}); err != nil {
			return n, fmt.Errorf("seed %s: %w", e.MerchantID, err)
		}
		n++
	}
	return n, nil
}

func (m *memStore) GetByTenant(_ context.Context, tenantID string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.byTenant[tenantID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return clone(rec), nil
}

func (m *memStore) Upsert(_ context.Context, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, other := range m.byTenant {
		if id != rec.TenantID && other.ShopDomain == rec.ShopDomain {
			return Record{}, ErrShopDomainTaken
		}
	}
	now := m.now().UTC()
	rec = clone(rec)
	if prev, ok := m.byTenant[rec.TenantID]; ok {
		rec.CreatedAt = prev.CreatedAt
	} else {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	m.byTenant[rec.TenantID] = rec
	return clone(rec), nil
}

func (m *memStore) Deactivate(_ context.Context, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byTenant[tenantID]
	if !ok {
		return ErrNotFound
	}
	rec.Active = false
	rec.UpdatedAt = m.now().UTC()
	m.byTenant[tenantID] = rec
	return nil
}

func (m *memStore) Revoke(_ context.Context, cred Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byTenant[cred.TenantID]
	if !ok {
		return ErrNotFound
	}
	if !rec.UpdatedAt.Equal(cred.version) || rec.AccessToken != cred.token {
		return ErrStaleCredential
	}
	rec.Active = false
	rec.UpdatedAt = m.now().UTC()
	m.byTenant[cred.TenantID] = rec
	return nil
}

func (m *memStore) RecordUsage(_ context.Context, ev UsageEvent) error {
	m.log.Debugw("usage", "merchant_id", ev.TenantID, "op", ev.Operation, "status", ev.StatusCode, "duration_ms", ev.Duration.Milliseconds())
	return nil
}

func clone(r Record) Record {
	r.Scopes = append([]string(nil), r.Scopes...)
	return r
}
