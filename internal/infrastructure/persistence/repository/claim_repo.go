package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/club-treasury/internal/application/batch"
	"github.com/garyjia/club-treasury/internal/application/port"
	"github.com/garyjia/club-treasury/internal/domain"
	"github.com/garyjia/club-treasury/internal/domain/entity"
	"github.com/garyjia/club-treasury/internal/infrastructure/persistence/sqlite"
)

const claimColumns = `
	id, requester_id, description, amount, currency, expense_date, submitted_at, status,
	first_approver_id, first_approved_at, second_approver_id, second_approved_at,
	rejected_by, rejected_at, rejection_reason, requires_double_approval,
	reimbursed_at, reimbursement_ref, deleted_at, deleted_by, activity_id,
	version, created_at, updated_at`

const documentColumns = `
	id, claim_id, handle, url, original_name, display_name, mime_type, size,
	digest, uploaded_by, uploaded_at`

// ClaimRepository implements port.ClaimRepository
type ClaimRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewClaimRepository creates a new claim repository
func NewClaimRepository(db *sqlite.DB, logger *zap.Logger) port.ClaimRepository {
	return &ClaimRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts the claim and its documents
func (r *ClaimRepository) Create(ctx context.Context, claim *entity.ExpenseClaim) error {
	ts := now()
	query := `INSERT INTO expense_claims (` + claimColumns + `) VALUES (` + placeholders(24) + `)`

	err := r.db.WithTransaction(ctx, func(ctx context.Context) error {
		args := append(claimArgs(claim), int64(1), ts, ts)
		if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert claim: %w", err)
		}
		for i := range claim.Documents {
			claim.Documents[i].ClaimID = claim.ID
		}
		return r.insertDocuments(ctx, claim.Documents)
	})
	if err != nil {
		r.logger.Error("Failed to create claim", zap.String("claim_id", claim.ID), zap.Error(err))
		return err
	}

	claim.Version = 1
	claim.CreatedAt = ts
	claim.UpdatedAt = ts
	return nil
}

// GetByID retrieves a claim with its documents
func (r *ClaimRepository) GetByID(ctx context.Context, id string) (*entity.ExpenseClaim, error) {
	query := `SELECT ` + claimColumns + ` FROM expense_claims WHERE id = ?`

	claim, err := scanClaim(r.db.Executor(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Kind: "claim", ID: id}
	}
	if err != nil {
		r.logger.Error("Failed to get claim", zap.String("claim_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get claim: %w", err)
	}

	if err := r.attachDocuments(ctx, []*entity.ExpenseClaim{claim}); err != nil {
		return nil, err
	}
	return claim, nil
}

// List returns claims matching filter, oldest first
func (r *ClaimRepository) List(ctx context.Context, filter port.ClaimFilter) ([]*entity.ExpenseClaim, error) {
	var where []string
	var args []interface{}

	wantsDeleted := filter.IncludeDeleted
	if len(filter.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, s := range filter.Statuses {
			args = append(args, s)
			if s == entity.StatusDeleted {
				wantsDeleted = true
			}
		}
	}
	if !wantsDeleted {
		where = append(where, "status <> ?")
		args = append(args, entity.StatusDeleted)
	}
	if filter.RequesterID != "" {
		where = append(where, "requester_id = ?")
		args = append(args, filter.RequesterID)
	}
	if filter.ActivityID != "" {
		where = append(where, "activity_id = ?")
		args = append(args, filter.ActivityID)
	}

	query := `SELECT ` + claimColumns + ` FROM expense_claims`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	query, args = paginate(query, args, filter.Limit, filter.Offset)

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list claims", zap.Error(err))
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	defer rows.Close()

	claims := make([]*entity.ExpenseClaim, 0)
	for rows.Next() {
		claim, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		claims = append(claims, claim)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate claims: %w", err)
	}
	rows.Close()

	if err := r.attachDocuments(ctx, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// Update writes every claim field except documents, if the stored version is
// still expectedVersion
func (r *ClaimRepository) Update(ctx context.Context, claim *entity.ExpenseClaim, expectedVersion int64) error {
	query := `
		UPDATE expense_claims SET
			requester_id = ?, description = ?, amount = ?, currency = ?, expense_date = ?,
			submitted_at = ?, status = ?, first_approver_id = ?, first_approved_at = ?,
			second_approver_id = ?, second_approved_at = ?, rejected_by = ?, rejected_at = ?,
			rejection_reason = ?, requires_double_approval = ?, reimbursed_at = ?,
			reimbursement_ref = ?, deleted_at = ?, deleted_by = ?, activity_id = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`

	ts := now()
	args := append(claimArgs(claim)[1:], ts, claim.ID, expectedVersion)
	result, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to update claim", zap.String("claim_id", claim.ID), zap.Error(err))
		return fmt.Errorf("failed to update claim: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return r.missOrConflict(ctx, "expense_claims", "claim", claim.ID)
	}

	claim.Version = expectedVersion + 1
	claim.UpdatedAt = ts
	return nil
}

// AddDocuments records assets on an existing claim
func (r *ClaimRepository) AddDocuments(ctx context.Context, claimID string, docs []entity.DocumentAsset) error {
	err := r.db.WithTransaction(ctx, func(ctx context.Context) error {
		var exists int
		err := r.db.Executor(ctx).QueryRowContext(ctx, `SELECT 1 FROM expense_claims WHERE id = ?`, claimID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.NotFoundError{Kind: "claim", ID: claimID}
		}
		if err != nil {
			return fmt.Errorf("failed to check claim: %w", err)
		}

		for i := range docs {
			docs[i].ClaimID = claimID
		}
		return r.insertDocuments(ctx, docs)
	})
	if err != nil {
		r.logger.Error("Failed to add documents", zap.String("claim_id", claimID), zap.Error(err))
		return err
	}
	return nil
}

// ListMissingDigests returns assets without digest, oldest first. limit 0 means all.
func (r *ClaimRepository) ListMissingDigests(ctx context.Context, limit int) ([]entity.DocumentAsset, error) {
	query := `SELECT ` + documentColumns + ` FROM document_assets WHERE digest IS NULL ORDER BY uploaded_at ASC, id ASC`
	query, args := paginate(query, nil, limit, 0)

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list documents without digest", zap.Error(err))
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []entity.DocumentAsset
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// SetDocumentDigest sets the digest only where it is still null and reports
// whether it did
func (r *ClaimRepository) SetDocumentDigest(ctx context.Context, documentID, digest string) (bool, error) {
	result, err := r.db.Executor(ctx).ExecContext(ctx,
		`UPDATE document_assets SET digest = ? WHERE id = ? AND digest IS NULL`, digest, documentID)
	if err != nil {
		r.logger.Error("Failed to set document digest", zap.String("document_id", documentID), zap.Error(err))
		return false, fmt.Errorf("failed to set document digest: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 1 {
		return true, nil
	}

	var exists int
	err = r.db.Executor(ctx).QueryRowContext(ctx, `SELECT 1 FROM document_assets WHERE id = ?`, documentID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, &domain.NotFoundError{Kind: "document", ID: documentID}
	}
	if err != nil {
		return false, fmt.Errorf("failed to check document: %w", err)
	}
	return false, nil
}

func (r *ClaimRepository) insertDocuments(ctx context.Context, docs []entity.DocumentAsset) error {
	query := `INSERT INTO document_assets (` + documentColumns + `) VALUES (` + placeholders(11) + `)`
	for _, d := range docs {
		_, err := r.db.Executor(ctx).ExecContext(ctx, query,
			d.ID,
			d.ClaimID,
			d.Handle,
			d.URL,
			d.OriginalName,
			d.DisplayName,
			d.MimeType,
			d.Size,
			nullString(d.Digest),
			d.UploadedBy,
			d.UploadedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert document %s: %w", d.ID, err)
		}
	}
	return nil
}

// attachDocuments loads the documents of every claim, maxInArgs claims per query
func (r *ClaimRepository) attachDocuments(ctx context.Context, claims []*entity.ExpenseClaim) error {
	byID := make(map[string]*entity.ExpenseClaim, len(claims))
	ids := make([]string, 0, len(claims))
	for _, c := range claims {
		byID[c.ID] = c
		ids = append(ids, c.ID)
	}

	for _, chunk := range batch.Chunks(ids, maxInArgs) {
		if err := r.loadDocuments(ctx, chunk, byID); err != nil {
			return err
		}
	}
	return nil
}

func (r *ClaimRepository) loadDocuments(ctx context.Context, ids []string, byID map[string]*entity.ExpenseClaim) error {
	query := `SELECT ` + documentColumns + ` FROM document_assets
		WHERE claim_id IN (` + placeholders(len(ids)) + `)
		ORDER BY uploaded_at ASC, id ASC`
	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, inArgs(ids)...)
	if err != nil {
		r.logger.Error("Failed to load documents", zap.Error(err))
		return fmt.Errorf("failed to load documents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return fmt.Errorf("failed to scan document: %w", err)
		}
		if c := byID[doc.ClaimID]; c != nil {
			c.Documents = append(c.Documents, doc)
		}
	}
	return rows.Err()
}

// missOrConflict tells a missing row from a stale version after a conditional write hit nothing
func (r *ClaimRepository) missOrConflict(ctx context.Context, table, kind, id string) error {
	return missOrConflict(ctx, r.db.Executor(ctx), table, kind, id)
}

func missOrConflict(ctx context.Context, exec sqlite.Executor, table, kind, id string) error {
	var exists int
	err := exec.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.NotFoundError{Kind: kind, ID: id}
	}
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", kind, err)
	}
	return &domain.ConcurrentModificationError{Kind: kind, ID: id}
}

// claimArgs lists the claim columns up to activity_id, in claimColumns order
func claimArgs(c *entity.ExpenseClaim) []interface{} {
	return []interface{}{
		c.ID,
		c.RequesterID,
		c.Description,
		c.Amount,
		c.Currency,
		formatDate(c.ExpenseDate),
		nullTime(c.SubmittedAt),
		c.Status,
		c.FirstApproverID,
		nullTime(c.FirstApprovedAt),
		c.SecondApproverID,
		nullTime(c.SecondApprovedAt),
		c.RejectedBy,
		nullTime(c.RejectedAt),
		c.RejectionReason,
		c.RequiresDoubleApproval,
		nullTime(c.ReimbursedAt),
		c.ReimbursementRef,
		nullTime(c.DeletedAt),
		c.DeletedBy,
		c.ActivityID,
	}
}

func scanClaim(row rowScanner) (*entity.ExpenseClaim, error) {
	var c entity.ExpenseClaim
	var expenseDate string
	var submittedAt, firstAt, secondAt, rejectedAt, reimbursedAt, deletedAt sql.NullTime

	err := row.Scan(
		&c.ID,
		&c.RequesterID,
		&c.Description,
		&c.Amount,
		&c.Currency,
		&expenseDate,
		&submittedAt,
		&c.Status,
		&c.FirstApproverID,
		&firstAt,
		&c.SecondApproverID,
		&secondAt,
		&c.RejectedBy,
		&rejectedAt,
		&c.RejectionReason,
		&c.RequiresDoubleApproval,
		&reimbursedAt,
		&c.ReimbursementRef,
		&deletedAt,
		&c.DeletedBy,
		&c.ActivityID,
		&c.Version,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if c.ExpenseDate, err = parseDate(expenseDate); err != nil {
		return nil, err
	}
	c.SubmittedAt = timePtr(submittedAt)
	c.FirstApprovedAt = timePtr(firstAt)
	c.SecondApprovedAt = timePtr(secondAt)
	c.RejectedAt = timePtr(rejectedAt)
	c.ReimbursedAt = timePtr(reimbursedAt)
	c.DeletedAt = timePtr(deletedAt)
	return &c, nil
}

func scanDocument(row rowScanner) (entity.DocumentAsset, error) {
	var d entity.DocumentAsset
	var digest sql.NullString
	err := row.Scan(
		&d.ID,
		&d.ClaimID,
		&d.Handle,
		&d.URL,
		&d.OriginalName,
		&d.DisplayName,
		&d.MimeType,
		&d.Size,
		&digest,
		&d.UploadedBy,
		&d.UploadedAt,
	)
	d.Digest = stringPtr(digest)
	return d, err
}

var _ port.ClaimRepository = (*ClaimRepository)(nil)
