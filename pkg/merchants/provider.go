package merchants

import (
	"context"
	"errors"
)

var (
	ErrNotFound        = errors.New("merchant not found")
	ErrShopDomainTaken = errors.New("shop domain already linked to another merchant")
	// ErrStaleCredential means the grant was replaced after the credential was read.
	ErrStaleCredential = errors.New("credential no longer current")
)

// Store is the credential persistence contract. Every mutation replaces a
// whole record in one atomic step; there are no field-level updates.
type Store interface {
	// GetByTenant returns ErrNotFound when no record exists.
	GetByTenant(ctx context.Context, tenantID string) (Record, error)
	// Upsert inserts or replaces the record for rec.TenantID and returns the
	// stored row (timestamps filled in).
	Upsert(ctx context.Context, rec Record) (Record, error)
	// Deactivate marks the record revoked; ErrNotFound when absent.
	Deactivate(ctx context.Context, tenantID string) error
	// Revoke deactivates the record only while it is still the grant cred was
	// read from; ErrStaleCredential otherwise, ErrNotFound when absent.
	Revoke(ctx context.Context, cred Credential) error
}

// UsageRecorder is implemented by stores that keep an audit of data calls.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, ev UsageEvent) error
}
