package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garyjia/club-treasury/internal/application/batch"
	"github.com/garyjia/club-treasury/internal/application/port"
	"github.com/garyjia/club-treasury/internal/domain"
	"github.com/garyjia/club-treasury/internal/domain/entity"
	"github.com/garyjia/club-treasury/internal/infrastructure/persistence/sqlite"
)

const transactionColumns = `
	id, execution_date, amount, counterparty, communication, sequence_number,
	reconciled, version, created_at, updated_at`

// TransactionRepository implements port.TransactionRepository
type TransactionRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *sqlite.DB, logger *zap.Logger) port.TransactionRepository {
	return &TransactionRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a statement line without links
func (r *TransactionRepository) Create(ctx context.Context, tx *entity.BankTransaction) error {
	query := `INSERT INTO bank_transactions (` + transactionColumns + `) VALUES (` + placeholders(10) + `)`

	ts := now()
	_, err := r.db.Executor(ctx).ExecContext(ctx, query,
		tx.ID,
		formatDate(tx.ExecutionDate),
		tx.Amount,
		tx.Counterparty,
		tx.Communication,
		tx.SequenceNumber,
		false,
		int64(1),
		ts,
		ts,
	)
	if err != nil {
		r.logger.Error("Failed to create transaction", zap.String("transaction_id", tx.ID), zap.Error(err))
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	tx.Links = nil
	tx.Reconciled = false
	tx.Version = 1
	tx.CreatedAt = ts
	tx.UpdatedAt = ts
	return nil
}

// GetByID retrieves a transaction with its links
func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*entity.BankTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM bank_transactions WHERE id = ?`

	tx, err := scanTransaction(r.db.Executor(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Kind: "transaction", ID: id}
	}
	if err != nil {
		r.logger.Error("Failed to get transaction", zap.String("transaction_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	if err := r.attachLinks(ctx, []*entity.BankTransaction{tx}); err != nil {
		return nil, err
	}
	return tx, nil
}

// List returns transactions matching filter ordered by execution date
func (r *TransactionRepository) List(ctx context.Context, filter port.TransactionFilter) ([]*entity.BankTransaction, error) {
	var where []string
	var args []interface{}

	if filter.Reconciled != nil {
		where = append(where, "reconciled = ?")
		args = append(args, *filter.Reconciled)
	}
	if filter.WithoutClaimLink {
		where = append(where, `NOT EXISTS (
			SELECT 1 FROM transaction_links l
			WHERE l.transaction_id = bank_transactions.id AND l.entity_type = ?)`)
		args = append(args, entity.EntityTypeClaim)
	}
	if filter.From != nil {
		where = append(where, "execution_date >= ?")
		args = append(args, formatDate(*filter.From))
	}
	if filter.To != nil {
		where = append(where, "execution_date <= ?")
		args = append(args, formatDate(*filter.To))
	}

	query := `SELECT ` + transactionColumns + ` FROM bank_transactions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY execution_date ASC, id ASC"
	query, args = paginate(query, args, filter.Limit, filter.Offset)

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list transactions", zap.Error(err))
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	txs := make([]*entity.BankTransaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	rows.Close()

	if err := r.attachLinks(ctx, txs); err != nil {
		return nil, err
	}
	return txs, nil
}

// FindByEntity returns the ids of transactions linked to ref, sorted
func (r *TransactionRepository) FindByEntity(ctx context.Context, ref entity.EntityRef) ([]string, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, `
		SELECT transaction_id FROM transaction_links
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY transaction_id ASC
	`, ref.Type, ref.ID)
	if err != nil {
		r.logger.Error("Failed to find links",
			zap.String("entity_type", ref.Type),
			zap.String("entity_id", ref.ID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to find links: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SaveLinks replaces the link set and reconciled flag if the stored version
// is still expectedVersion
func (r *TransactionRepository) SaveLinks(ctx context.Context, tx *entity.BankTransaction, expectedVersion int64) error {
	ts := now()
	reconciled := len(tx.Links) > 0

	err := r.db.WithTransaction(ctx, func(ctx context.Context) error {
		exec := r.db.Executor(ctx)
		result, err := exec.ExecContext(ctx, `
			UPDATE bank_transactions
			SET reconciled = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?
		`, reconciled, ts, tx.ID, expectedVersion)
		if err != nil {
			return fmt.Errorf("failed to update transaction: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			return missOrConflict(ctx, exec, "bank_transactions", "transaction", tx.ID)
		}

		if _, err := exec.ExecContext(ctx, `DELETE FROM transaction_links WHERE transaction_id = ?`, tx.ID); err != nil {
			return fmt.Errorf("failed to clear links: %w", err)
		}
		for i, l := range tx.Links {
			_, err := exec.ExecContext(ctx, `
				INSERT INTO transaction_links (
					transaction_id, entity_type, entity_id, confidence,
					matched_by, matched_at, linked_by, position
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, tx.ID, l.EntityType, l.EntityID, l.Confidence, l.MatchedBy, l.MatchedAt, l.LinkedBy, i)
			if err != nil {
				return fmt.Errorf("failed to insert link %s/%s: %w", l.EntityType, l.EntityID, err)
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to save links", zap.String("transaction_id", tx.ID), zap.Error(err))
		return err
	}

	tx.Reconciled = reconciled
	tx.Version = expectedVersion + 1
	tx.UpdatedAt = ts
	return nil
}

// Exists reports whether a line with the same date, amount and communication is stored
func (r *TransactionRepository) Exists(ctx context.Context, executionDate time.Time, amount decimal.Decimal, communication string) (bool, error) {
	var exists int
	err := r.db.Executor(ctx).QueryRowContext(ctx, `
		SELECT 1 FROM bank_transactions
		WHERE execution_date = ? AND amount = ? AND communication = ?
		LIMIT 1
	`, formatDate(executionDate), amount, communication).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		r.logger.Error("Failed to check transaction", zap.Error(err))
		return false, fmt.Errorf("failed to check transaction: %w", err)
	}
	return true, nil
}

// attachLinks loads the links of every transaction, maxInArgs transactions per query
func (r *TransactionRepository) attachLinks(ctx context.Context, txs []*entity.BankTransaction) error {
	byID := make(map[string]*entity.BankTransaction, len(txs))
	ids := make([]string, 0, len(txs))
	for _, tx := range txs {
		byID[tx.ID] = tx
		ids = append(ids, tx.ID)
	}

	for _, chunk := range batch.Chunks(ids, maxInArgs) {
		if err := r.loadLinks(ctx, chunk, byID); err != nil {
			return err
		}
	}
	return nil
}

func (r *TransactionRepository) loadLinks(ctx context.Context, ids []string, byID map[string]*entity.BankTransaction) error {
	query := `
		SELECT transaction_id, entity_type, entity_id, confidence, matched_by, matched_at, linked_by
		FROM transaction_links
		WHERE transaction_id IN (` + placeholders(len(ids)) + `)
		ORDER BY transaction_id ASC, position ASC
	`
	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, inArgs(ids)...)
	if err != nil {
		r.logger.Error("Failed to load links", zap.Error(err))
		return fmt.Errorf("failed to load links: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l entity.LinkRecord
		if err := rows.Scan(&l.TransactionID, &l.EntityType, &l.EntityID, &l.Confidence, &l.MatchedBy, &l.MatchedAt, &l.LinkedBy); err != nil {
			return fmt.Errorf("failed to scan link: %w", err)
		}
		if tx := byID[l.TransactionID]; tx != nil {
			tx.Links = append(tx.Links, l)
		}
	}
	return rows.Err()
}

func scanTransaction(row rowScanner) (*entity.BankTransaction, error) {
	var tx entity.BankTransaction
	var executionDate string
	err := row.Scan(
		&tx.ID,
		&executionDate,
		&tx.Amount,
		&tx.Counterparty,
		&tx.Communication,
		&tx.SequenceNumber,
		&tx.Reconciled,
		&tx.Version,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if tx.ExecutionDate, err = parseDate(executionDate); err != nil {
		return nil, err
	}
	return &tx, nil
}

var _ port.TransactionRepository = (*TransactionRepository)(nil)
