package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/club-treasury/internal/application/port"
	"github.com/garyjia/club-treasury/internal/domain"
	"github.com/garyjia/club-treasury/internal/domain/entity"
)

func TestStore_ClaimVersioning(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	claims := store.Claims()

	claim := &entity.ExpenseClaim{ID: "c1", RequesterID: "alice", Amount: decimal.RequireFromString("12.34"), Status: entity.StatusDraft}
	require.NoError(t, claims.Create(ctx, claim))
	assert.Equal(t, int64(1), claim.Version)

	first, err := claims.GetByID(ctx, "c1")
	require.NoError(t, err)
	second, err := claims.GetByID(ctx, "c1")
	require.NoError(t, err)

	first.Description = "first writer"
	require.NoError(t, claims.Update(ctx, first, first.Version))
	assert.Equal(t, int64(2), first.Version)

	second.Description = "second writer"
	err = claims.Update(ctx, second, second.Version)
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)

	stored, err := claims.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "first writer", stored.Description)
	assert.True(t, stored.Amount.Equal(decimal.RequireFromString("12.34")))

	_, err = claims.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_TransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	txs := store.Transactions()

	boom := errors.New("boom")
	err := store.WithTransaction(ctx, func(ctx context.Context) error {
		require.NoError(t, txs.Create(ctx, &entity.BankTransaction{ID: "t1", Amount: decimal.NewFromInt(-5)}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = txs.GetByID(ctx, "t1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_SaveLinksAndFilters(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	txs := store.Transactions()
	day := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

	t1 := &entity.BankTransaction{ID: "t1", ExecutionDate: day, Amount: decimal.NewFromInt(-20), Communication: "balls"}
	t2 := &entity.BankTransaction{ID: "t2", ExecutionDate: day.AddDate(0, 0, 1), Amount: decimal.NewFromInt(100)}
	require.NoError(t, txs.Create(ctx, t1))
	require.NoError(t, txs.Create(ctx, t2))

	t1.Links = []entity.LinkRecord{{TransactionID: "t1", EntityType: entity.EntityTypeClaim, EntityID: "c1"}}
	require.NoError(t, txs.SaveLinks(ctx, t1, 1))
	assert.True(t, t1.Reconciled)
	assert.ErrorIs(t, txs.SaveLinks(ctx, t1, 1), domain.ErrConcurrentModification)

	ids, err := txs.FindByEntity(ctx, entity.ClaimRef("c1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, ids)

	unlinked, err := txs.List(ctx, port.TransactionFilter{WithoutClaimLink: true})
	require.NoError(t, err)
	require.Len(t, unlinked, 1)
	assert.Equal(t, "t2", unlinked[0].ID)

	exists, err := txs.Exists(ctx, day.Add(5*time.Hour), decimal.RequireFromString("-20.00"), "balls")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestStore_SetDocumentDigestOnlyOnce(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	claims := store.Claims()

	require.NoError(t, claims.Create(ctx, &entity.ExpenseClaim{ID: "c1", Status: entity.StatusDraft}))
	require.NoError(t, claims.AddDocuments(ctx, "c1", []entity.DocumentAsset{{ID: "d1", OriginalName: "a.pdf"}}))

	missing, err := claims.ListMissingDigests(ctx, 10)
	require.NoError(t, err)
	require.Len(t, missing, 1)

	updated, err := claims.SetDocumentDigest(ctx, "d1", "aaa")
	require.NoError(t, err)
	assert.True(t, updated)

	updated, err = claims.SetDocumentDigest(ctx, "d1", "bbb")
	require.NoError(t, err)
	assert.False(t, updated)

	c, err := claims.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "aaa", *c.Documents[0].Digest)
}
