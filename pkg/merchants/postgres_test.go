package merchants

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopgate/pkg/logger"
)

var merchantColumns = []string{"merchant_id", "shop_domain", "access_token_enc", "scopes", "is_active", "created_at", "updated_at"}

func TestPostgresStore_GetByTenant(t *testing.T) {
	t.Run("Should open the sealed token", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		sealer, err := NewSealer("secret")
		require.NoError(t, err)
		sealed, err := sealer.Seal("tok-abc")
		require.NoError(t, err)
		now := time.Now()
		mockPool.ExpectQuery("SELECT (.+) FROM merchants WHERE merchant_id=\\$1").
			WithArgs("m1").
			WillReturnRows(mockPool.NewRows(merchantColumns).
				AddRow("m1", "shop1.example", sealed, []string{"read_products"}, true, now, now))

		store := NewPostgresStore(mockPool, sealer, logger.Nop())
		rec, err := store.GetByTenant(context.Background(), "m1")
		require.NoError(t, err)
		assert.Equal(t, "shop1.example", rec.ShopDomain)
		assert.Equal(t, "tok-abc", rec.AccessToken)
		assert.Equal(t, []string{"read_products"}, rec.Scopes)
		assert.True(t, rec.Authorized())
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
	t.Run("Should map no rows to ErrNotFound", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		mockPool.ExpectQuery("SELECT (.+) FROM merchants WHERE merchant_id=\\$1").
			WithArgs("ghost").
			WillReturnError(pgx.ErrNoRows)

		store := NewPostgresStore(mockPool, &Sealer{}, logger.Nop())
		_, err = store.GetByTenant(context.Background(), "ghost")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresStore_Upsert(t *testing.T) {
	t.Run("Should write the whole record in one statement", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		created := time.Now().Add(-time.Hour)
		updated := time.Now()
		mockPool.ExpectQuery("INSERT INTO merchants (.+) ON CONFLICT \\(merchant_id\\) DO UPDATE").
			WithArgs("m1", "shop1.example", append([]byte{sealPlain}, "tok-abc"...), []string{"read_products"}, true).
			WillReturnRows(mockPool.NewRows([]string{"created_at", "updated_at"}).AddRow(created, updated))

		store := NewPostgresStore(mockPool, &Sealer{}, logger.Nop())
		rec, err := store.Upsert(context.Background(), Record{
			TenantID: "m1", ShopDomain: "shop1.example", AccessToken: "tok-abc",
			Scopes: []string{"read_products"}, Active: true,
		})
		require.NoError(t, err)
		assert.Equal(t, created, rec.CreatedAt)
		assert.Equal(t, updated, rec.UpdatedAt)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
	t.Run("Should encrypt the token when a key is configured", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		sealer, err := NewSealer("secret")
		require.NoError(t, err)
		mockPool.ExpectQuery("INSERT INTO merchants").
			WithArgs("m1", "shop1.example", pgxmock.AnyArg(), []string{}, true).
			WillReturnRows(mockPool.NewRows([]string{"created_at", "updated_at"}).AddRow(time.Now(), time.Now()))

		store := NewPostgresStore(mockPool, sealer, logger.Nop())
		rec, err := store.Upsert(context.Background(), Record{TenantID: "m1", ShopDomain: "shop1.example", AccessToken: "tok", Active: true})
		require.NoError(t, err)
		assert.Equal(t, []string{}, rec.Scopes)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
	t.Run("Should report shop domain conflicts", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		mockPool.ExpectQuery("INSERT INTO merchants").
			WithArgs("m2", "shop1.example", pgxmock.AnyArg(), pgxmock.AnyArg(), true).
			WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "merchants_shop_domain_key"})

		store := NewPostgresStore(mockPool, &Sealer{}, logger.Nop())
		_, err = store.Upsert(context.Background(), Record{TenantID: "m2", ShopDomain: "shop1.example", Active: true})
		assert.ErrorIs(t, err, ErrShopDomainTaken)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresStore_Deactivate(t *testing.T) {
	t.Run("Should flip is_active", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		mockPool.ExpectExec("UPDATE merchants SET is_active=false").
			WithArgs("m1").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		store := NewPostgresStore(mockPool, &Sealer{}, logger.Nop())
		assert.NoError(t, store.Deactivate(context.Background(), "m1"))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
	t.Run("Should return ErrNotFound when no row matched", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		mockPool.ExpectExec("UPDATE merchants SET is_active=false").
			WithArgs("ghost").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		store := NewPostgresStore(mockPool, &Sealer{}, logger.Nop())
		assert.ErrorIs(t, store.Deactivate(context.Background(), "ghost"), ErrNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
	t.Run("Should wrap driver errors", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		boom := errors.New("conn reset")
		mockPool.ExpectExec("UPDATE merchants").WithArgs("m1").WillReturnError(boom)

		store := NewPostgresStore(mockPool, &Sealer{}, logger.Nop())
		assert.ErrorIs(t, store.Deactivate(context.Background(), "m1"), boom)
	})
}

func TestPostgresStore_Revoke(t *testing.T) {
	version := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	cred := NewCredential(Record{TenantID: "m1", ShopDomain: "shop1.example", AccessToken: "tok-abc", Active: true, UpdatedAt: version})

	t.Run("Should revoke when the version matches", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		mockPool.ExpectExec("UPDATE merchants SET is_active=false, updated_at=NOW\\(\\) WHERE merchant_id=\\$1 AND updated_at=\\$2").
			WithArgs("m1", version).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		store := NewPostgresStore(mockPool, &Sealer{}, logger.Nop())
		assert.NoError(t, store.Revoke(context.Background(), cred))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
	t.Run("Should report a replaced grant as stale", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		mockPool.ExpectExec("UPDATE merchants").
			WithArgs("m1", version).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mockPool.ExpectQuery("SELECT 1 FROM merchants").
			WithArgs("m1").
			WillReturnRows(mockPool.NewRows([]string{"?column?"}).AddRow(1))

		store := NewPostgresStore(mockPool, &Sealer{}, logger.Nop())
		assert.ErrorIs(t, store.Revoke(context.Background(), cred), ErrStaleCredential)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
	t.Run("Should return ErrNotFound for a missing row", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		mockPool.ExpectExec("UPDATE merchants").
			WithArgs("m1", version).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mockPool.ExpectQuery("SELECT 1 FROM merchants").
			WithArgs("m1").
			WillReturnError(pgx.ErrNoRows)

		store := NewPostgresStore(mockPool, &Sealer{}, logger.Nop())
		assert.ErrorIs(t, store.Revoke(context.Background(), cred), ErrNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresStore_RecordUsage(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	mockPool.ExpectExec("INSERT INTO usage_events").
		WithArgs("m1", "products.list", "GET", "/products.json", "req-1", 200, 150, start, start.Add(150*time.Millisecond)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	store := NewPostgresStore(mockPool, &Sealer{}, logger.Nop())
	rec, ok := store.(UsageRecorder)
	require.True(t, ok)
	require.NoError(t, rec.RecordUsage(context.Background(), UsageEvent{
		TenantID: "m1", Operation: "products.list", Method: "GET", Path: "/products.json",
		RequestID: "req-1", StatusCode: 200, StartedAt: start, Duration: 150 * time.Millisecond,
	}))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()
	mockPool.ExpectExec("CREATE TABLE IF NOT EXISTS merchants").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, EnsureSchema(context.Background(), mockPool))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
