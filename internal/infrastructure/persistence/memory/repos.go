package memory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/club-treasury/internal/application/port"
	"github.com/garyjia/club-treasury/internal/domain/entity"
)

// Claims returns the store as a port.ClaimRepository
func (s *Store) Claims() port.ClaimRepository { return claimRepo{s} }

// Transactions returns the store as a port.TransactionRepository
func (s *Store) Transactions() port.TransactionRepository { return transactionRepo{s} }

// Settings returns the store as a port.SettingsRepository
func (s *Store) Settings() port.SettingsRepository { return s }

type claimRepo struct{ s *Store }

func (r claimRepo) Create(ctx context.Context, claim *entity.ExpenseClaim) error {
	return r.s.CreateClaim(ctx, claim)
}

func (r claimRepo) GetByID(ctx context.Context, id string) (*entity.ExpenseClaim, error) {
	return r.s.GetClaim(ctx, id)
}

func (r claimRepo) List(ctx context.Context, filter port.ClaimFilter) ([]*entity.ExpenseClaim, error) {
	return r.s.ListClaims(ctx, filter)
}

func (r claimRepo) Update(ctx context.Context, claim *entity.ExpenseClaim, expectedVersion int64) error {
	return r.s.UpdateClaim(ctx, claim, expectedVersion)
}

func (r claimRepo) AddDocuments(ctx context.Context, claimID string, docs []entity.DocumentAsset) error {
	return r.s.AddDocuments(ctx, claimID, docs)
}

func (r claimRepo) ListMissingDigests(ctx context.Context, limit int) ([]entity.DocumentAsset, error) {
	return r.s.ListMissingDigests(ctx, limit)
}

func (r claimRepo) SetDocumentDigest(ctx context.Context, documentID, digest string) (bool, error) {
	return r.s.SetDocumentDigest(ctx, documentID, digest)
}

type transactionRepo struct{ s *Store }

func (r transactionRepo) Create(ctx context.Context, tx *entity.BankTransaction) error {
	return r.s.CreateTransaction(ctx, tx)
}

func (r transactionRepo) GetByID(ctx context.Context, id string) (*entity.BankTransaction, error) {
	return r.s.GetTransaction(ctx, id)
}

func (r transactionRepo) List(ctx context.Context, filter port.TransactionFilter) ([]*entity.BankTransaction, error) {
	return r.s.ListTransactions(ctx, filter)
}

func (r transactionRepo) FindByEntity(ctx context.Context, ref entity.EntityRef) ([]string, error) {
	return r.s.FindByEntity(ctx, ref)
}

func (r transactionRepo) SaveLinks(ctx context.Context, tx *entity.BankTransaction, expectedVersion int64) error {
	return r.s.SaveLinks(ctx, tx, expectedVersion)
}

func (r transactionRepo) Exists(ctx context.Context, executionDate time.Time, amount decimal.Decimal, communication string) (bool, error) {
	return r.s.Exists(ctx, executionDate, amount, communication)
}

var (
	_ port.ClaimRepository       = claimRepo{}
	_ port.TransactionRepository = transactionRepo{}
	_ port.SettingsRepository    = (*Store)(nil)
)
