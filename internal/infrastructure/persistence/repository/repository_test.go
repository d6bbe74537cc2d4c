package repository

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/club-treasury/internal/application/port"
	"github.com/garyjia/club-treasury/internal/domain"
	"github.com/garyjia/club-treasury/internal/domain/entity"
	"github.com/garyjia/club-treasury/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/club-treasury/pkg/database"
)

func setupDB(t *testing.T) *sqlite.DB {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "treasury.db")}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	applied, err := database.NewMigrator(db, logger).Run()
	require.NoError(t, err)
	require.Equal(t, 1, applied)

	return sqlite.NewDB(db.DB, logger)
}

func sampleClaim(id string) *entity.ExpenseClaim {
	digest := "abc123"
	return &entity.ExpenseClaim{
		ID:          id,
		RequesterID: "alice",
		Description: "Shuttlecocks",
		Amount:      decimal.RequireFromString("45.50"),
		Currency:    entity.DefaultCurrency,
		ExpenseDate: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		Status:      entity.StatusDraft,
		Documents: []entity.DocumentAsset{{
			ID:           id + "-doc",
			Handle:       "claims/" + id + "/receipt.pdf",
			OriginalName: "INV-2025-00005.pdf",
			MimeType:     "application/pdf",
			Size:         42,
			Digest:       &digest,
			UploadedBy:   "alice",
			UploadedAt:   time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC),
		}},
	}
}

func TestClaimRepository_RoundTrip(t *testing.T) {
	db := setupDB(t)
	repo := NewClaimRepository(db, zap.NewNop())
	ctx := context.Background()

	claim := sampleClaim("c1")
	require.NoError(t, repo.Create(ctx, claim))
	assert.Equal(t, int64(1), claim.Version)

	got, err := repo.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(claim.Amount))
	assert.Equal(t, claim.ExpenseDate, got.ExpenseDate)
	assert.Equal(t, entity.StatusDraft, got.Status)
	assert.Nil(t, got.SubmittedAt)
	require.Len(t, got.Documents, 1)
	require.NotNil(t, got.Documents[0].Digest)
	assert.Equal(t, "abc123", *got.Documents[0].Digest)
	assert.Equal(t, "c1", got.Documents[0].ClaimID)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClaimRepository_UpdateChecksVersion(t *testing.T) {
	db := setupDB(t)
	repo := NewClaimRepository(db, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, sampleClaim("c1")))

	first, err := repo.GetByID(ctx, "c1")
	require.NoError(t, err)
	second, err := repo.GetByID(ctx, "c1")
	require.NoError(t, err)

	submitted := time.Date(2025, 4, 2, 8, 0, 0, 0, time.UTC)
	first.Status = entity.StatusSubmitted
	first.SubmittedAt = &submitted
	first.RequiresDoubleApproval = true
	require.NoError(t, repo.Update(ctx, first, 1))
	assert.Equal(t, int64(2), first.Version)

	second.Status = entity.StatusDeleted
	err = repo.Update(ctx, second, 1)
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)

	stored, err := repo.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusSubmitted, stored.Status)
	assert.True(t, stored.RequiresDoubleApproval)
	require.NotNil(t, stored.SubmittedAt)
	assert.True(t, submitted.Equal(*stored.SubmittedAt))
	assert.Len(t, stored.Documents, 1)

	ghost := sampleClaim("ghost")
	assert.ErrorIs(t, repo.Update(ctx, ghost, 1), domain.ErrNotFound)
}

func TestClaimRepository_ListFilters(t *testing.T) {
	db := setupDB(t)
	repo := NewClaimRepository(db, zap.NewNop())
	ctx := context.Background()

	for _, id := range []string{"c1", "c2", "c3"} {
		c := sampleClaim(id)
		c.Documents = nil
		require.NoError(t, repo.Create(ctx, c))
	}
	c3, err := repo.GetByID(ctx, "c3")
	require.NoError(t, err)
	c3.Status = entity.StatusDeleted
	require.NoError(t, repo.Update(ctx, c3, c3.Version))

	visible, err := repo.List(ctx, port.ClaimFilter{})
	require.NoError(t, err)
	assert.Len(t, visible, 2)

	all, err := repo.List(ctx, port.ClaimFilter{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	deleted, err := repo.List(ctx, port.ClaimFilter{Statuses: []string{entity.StatusDeleted}})
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	assert.Equal(t, "c3", deleted[0].ID)

	paged, err := repo.List(ctx, port.ClaimFilter{IncludeDeleted: true, Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, paged, 1)
}

func TestClaimRepository_Digests(t *testing.T) {
	db := setupDB(t)
	repo := NewClaimRepository(db, zap.NewNop())
	ctx := context.Background()
	c := sampleClaim("c1")
	c.Documents[0].Digest = nil
	require.NoError(t, repo.Create(ctx, c))

	require.NoError(t, repo.AddDocuments(ctx, "c1", []entity.DocumentAsset{{
		ID:           "d2",
		Handle:       "claims/c1/second.pdf",
		OriginalName: "second.pdf",
		UploadedAt:   time.Date(2025, 4, 3, 0, 0, 0, 0, time.UTC),
	}}))
	assert.ErrorIs(t, repo.AddDocuments(ctx, "nope", nil), domain.ErrNotFound)

	missing, err := repo.ListMissingDigests(ctx, 0)
	require.NoError(t, err)
	require.Len(t, missing, 2)
	assert.Equal(t, "c1-doc", missing[0].ID)

	limited, err := repo.ListMissingDigests(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	updated, err := repo.SetDocumentDigest(ctx, "d2", "feed")
	require.NoError(t, err)
	assert.True(t, updated)

	updated, err = repo.SetDocumentDigest(ctx, "d2", "beef")
	require.NoError(t, err)
	assert.False(t, updated)

	_, err = repo.SetDocumentDigest(ctx, "nope", "beef")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	stored, err := repo.GetByID(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, stored.Documents, 2)
	assert.Equal(t, "feed", *stored.Documents[1].Digest)
}

func sampleTransaction(id string, day int, amount, communication string) *entity.BankTransaction {
	return &entity.BankTransaction{
		ID:            id,
		ExecutionDate: time.Date(2025, 4, day, 0, 0, 0, 0, time.UTC),
		Amount:        decimal.RequireFromString(amount),
		Counterparty:  "Sports shop",
		Communication: communication,
	}
}

func TestTransactionRepository_LinksAndFilters(t *testing.T) {
	db := setupDB(t)
	repo := NewTransactionRepository(db, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, sampleTransaction("t1", 3, "-45.50", "ref 2025-00005")))
	require.NoError(t, repo.Create(ctx, sampleTransaction("t2", 5, "-12", "tape")))

	tx, err := repo.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, tx.Amount.Equal(decimal.RequireFromString("-45.5")))
	assert.Equal(t, 3, tx.ExecutionDate.Day())

	matchedAt := time.Date(2025, 4, 4, 10, 0, 0, 0, time.UTC)
	tx.Links = append(tx.Links,
		entity.LinkRecord{TransactionID: "t1", EntityType: entity.EntityTypeClaim, EntityID: "c1", Confidence: 100, MatchedBy: entity.MatchedByAuto, MatchedAt: matchedAt},
		entity.LinkRecord{TransactionID: "t1", EntityType: entity.EntityTypeActivity, EntityID: "cup", Confidence: 50, MatchedBy: entity.MatchedByManual, MatchedAt: matchedAt, LinkedBy: "bob"},
	)
	require.NoError(t, repo.SaveLinks(ctx, tx, 1))
	assert.True(t, tx.Reconciled)
	assert.Equal(t, int64(2), tx.Version)

	assert.ErrorIs(t, repo.SaveLinks(ctx, tx, 1), domain.ErrConcurrentModification)
	assert.ErrorIs(t, repo.SaveLinks(ctx, &entity.BankTransaction{ID: "nope"}, 1), domain.ErrNotFound)

	stored, err := repo.GetByID(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, stored.Links, 2)
	assert.Equal(t, "c1", stored.Links[0].EntityID)
	assert.Equal(t, "bob", stored.Links[1].LinkedBy)
	assert.True(t, stored.Reconciled)

	ids, err := repo.FindByEntity(ctx, entity.ClaimRef("c1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, ids)

	open, err := repo.List(ctx, port.TransactionFilter{WithoutClaimLink: true})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "t2", open[0].ID)

	reconciled := true
	done, err := repo.List(ctx, port.TransactionFilter{Reconciled: &reconciled})
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Len(t, done[0].Links, 2)

	from := time.Date(2025, 4, 4, 0, 0, 0, 0, time.UTC)
	later, err := repo.List(ctx, port.TransactionFilter{From: &from})
	require.NoError(t, err)
	require.Len(t, later, 1)
	assert.Equal(t, "t2", later[0].ID)

	stored.RemoveLink(entity.ClaimRef("c1"))
	stored.RemoveLink(entity.ActivityRef("cup"))
	require.NoError(t, repo.SaveLinks(ctx, stored, stored.Version))
	cleared, err := repo.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, cleared.Links)
	assert.False(t, cleared.Reconciled)
}

func TestRepositories_ListSpansSeveralInQueries(t *testing.T) {
	previous := maxInArgs
	maxInArgs = 2
	t.Cleanup(func() { maxInArgs = previous })

	db := setupDB(t)
	claims := NewClaimRepository(db, zap.NewNop())
	txs := NewTransactionRepository(db, zap.NewNop())
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, claims.Create(ctx, sampleClaim(fmt.Sprintf("c%d", i))))

		tx := sampleTransaction(fmt.Sprintf("t%d", i), i, "-10", "tape")
		require.NoError(t, txs.Create(ctx, tx))
		tx.Links = append(tx.Links, entity.LinkRecord{
			TransactionID: tx.ID,
			EntityType:    entity.EntityTypeActivity,
			EntityID:      fmt.Sprintf("cup-%d", i),
			MatchedBy:     entity.MatchedByManual,
			MatchedAt:     time.Date(2025, 4, 6, 0, 0, 0, 0, time.UTC),
		})
		require.NoError(t, txs.SaveLinks(ctx, tx, 1))
	}

	listed, err := claims.List(ctx, port.ClaimFilter{})
	require.NoError(t, err)
	require.Len(t, listed, 5)
	for _, c := range listed {
		require.Len(t, c.Documents, 1, c.ID)
		assert.Equal(t, c.ID+"-doc", c.Documents[0].ID)
	}

	all, err := txs.List(ctx, port.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	for _, tx := range all {
		require.Len(t, tx.Links, 1, tx.ID)
		assert.Equal(t, tx.ID, tx.Links[0].TransactionID)
	}
}

func TestTransactionRepository_OneClaimLinkPerTransaction(t *testing.T) {
	db := setupDB(t)
	repo := NewTransactionRepository(db, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, sampleTransaction("t1", 3, "-10", "")))

	tx, err := repo.GetByID(ctx, "t1")
	require.NoError(t, err)
	for _, id := range []string{"c1", "c2"} {
		tx.Links = append(tx.Links, entity.LinkRecord{TransactionID: "t1", EntityType: entity.EntityTypeClaim, EntityID: id, MatchedBy: entity.MatchedByManual})
	}
	require.Error(t, repo.SaveLinks(ctx, tx, 1))

	stored, err := repo.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, stored.Links)
	assert.Equal(t, int64(1), stored.Version)
}

func TestTransactionRepository_Exists(t *testing.T) {
	db := setupDB(t)
	repo := NewTransactionRepository(db, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, sampleTransaction("t1", 3, "-45.50", "shuttlecocks")))

	tests := []struct {
		name          string
		date          time.Time
		amount        string
		communication string
		want          bool
	}{
		{"same line", time.Date(2025, 4, 3, 0, 0, 0, 0, time.UTC), "-45.50", "shuttlecocks", true},
		{"same amount other scale", time.Date(2025, 4, 3, 15, 30, 0, 0, time.UTC), "-45.5", "shuttlecocks", true},
		{"other day", time.Date(2025, 4, 4, 0, 0, 0, 0, time.UTC), "-45.50", "shuttlecocks", false},
		{"other communication", time.Date(2025, 4, 3, 0, 0, 0, 0, time.UTC), "-45.50", "nets", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.Exists(ctx, tt.date, decimal.RequireFromString(tt.amount), tt.communication)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTransactionManager_RollsBackRepositoryWrites(t *testing.T) {
	db := setupDB(t)
	claims := NewClaimRepository(db, zap.NewNop())
	txs := NewTransactionRepository(db, zap.NewNop())
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.WithTransaction(ctx, func(ctx context.Context) error {
		if err := claims.Create(ctx, sampleClaim("c1")); err != nil {
			return err
		}
		if err := txs.Create(ctx, sampleTransaction("t1", 3, "-1", "")); err != nil {
			return err
		}
		if _, err := claims.GetByID(ctx, "c1"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = claims.GetByID(ctx, "c1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = txs.GetByID(ctx, "t1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSettingsRepository(t *testing.T) {
	db := setupDB(t)
	repo := NewSettingsRepository(db, zap.NewNop())
	ctx := context.Background()

	th, err := repo.GetApprovalThreshold(ctx)
	require.NoError(t, err)
	assert.Nil(t, th)

	require.NoError(t, repo.SaveApprovalThreshold(ctx, entity.ApprovalThreshold{Amount: decimal.NewFromInt(650), DoubleApprovalEnabled: true}))
	require.NoError(t, repo.SaveApprovalThreshold(ctx, entity.ApprovalThreshold{Amount: decimal.NewFromInt(700), DoubleApprovalEnabled: true}))

	th, err = repo.GetApprovalThreshold(ctx)
	require.NoError(t, err)
	require.NotNil(t, th)
	assert.True(t, th.Amount.Equal(decimal.NewFromInt(700)))
	assert.True(t, th.DoubleApprovalEnabled)
	assert.False(t, th.UpdatedAt.IsZero())
}
