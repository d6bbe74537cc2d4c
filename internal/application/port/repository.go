package port

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/club-treasury/internal/domain/entity"
)

// ClaimFilter selects claims by equality and range conditions.
// Zero values mean "no condition".
type ClaimFilter struct {
	Statuses       []string
	RequesterID    string
	ActivityID     string
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// ClaimRepository defines persistence operations for ExpenseClaim
type ClaimRepository interface {
	// Create inserts a claim with its documents. Version starts at 1.
	Create(ctx context.Context, claim *entity.ExpenseClaim) error

	// GetByID returns the claim with its documents, or a *domain.NotFoundError
	GetByID(ctx context.Context, id string) (*entity.ExpenseClaim, error)

	// List returns claims ordered by creation time
	List(ctx context.Context, filter ClaimFilter) ([]*entity.ExpenseClaim, error)

	// Update writes every mutable claim field when the stored version still equals
	// expectedVersion and bumps it. A lost race returns *domain.ConcurrentModificationError.
	Update(ctx context.Context, claim *entity.ExpenseClaim, expectedVersion int64) error

	// AddDocuments appends assets to a claim
	AddDocuments(ctx context.Context, claimID string, docs []entity.DocumentAsset) error

	// ListMissingDigests returns assets whose digest is still null, oldest first
	ListMissingDigests(ctx context.Context, limit int) ([]entity.DocumentAsset, error)

	// SetDocumentDigest sets the digest only when it is still null.
	// It reports whether the row was updated.
	SetDocumentDigest(ctx context.Context, documentID, digest string) (bool, error)
}

// TransactionFilter selects bank transactions
type TransactionFilter struct {
	Reconciled       *bool
	WithoutClaimLink bool
	From             *time.Time
	To               *time.Time
	Limit            int
	Offset           int
}

// TransactionRepository defines persistence operations for BankTransaction and its link set
type TransactionRepository interface {
	// Create inserts a transaction without links. Version starts at 1.
	Create(ctx context.Context, tx *entity.BankTransaction) error

	// GetByID returns the transaction with its links, or a *domain.NotFoundError
	GetByID(ctx context.Context, id string) (*entity.BankTransaction, error)

	// List returns transactions with links ordered by execution date
	List(ctx context.Context, filter TransactionFilter) ([]*entity.BankTransaction, error)

	// FindByEntity returns the ids of transactions linked to the entity
	FindByEntity(ctx context.Context, ref entity.EntityRef) ([]string, error)

	// SaveLinks replaces the link set and reconciled flag when the stored version
	// still equals expectedVersion, and bumps it.
	SaveLinks(ctx context.Context, tx *entity.BankTransaction, expectedVersion int64) error

	// Exists reports whether a transaction with the same date, amount and communication is stored
	Exists(ctx context.Context, executionDate time.Time, amount decimal.Decimal, communication string) (bool, error)
}

// SettingsRepository persists club-wide settings
type SettingsRepository interface {
	GetApprovalThreshold(ctx context.Context) (*entity.ApprovalThreshold, error)
	SaveApprovalThreshold(ctx context.Context, threshold entity.ApprovalThreshold) error
}

// SettingsProvider returns the settings in force
type SettingsProvider interface {
	ApprovalThreshold(ctx context.Context) (entity.ApprovalThreshold, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
