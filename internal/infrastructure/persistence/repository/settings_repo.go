package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/club-treasury/internal/application/port"
	"github.com/garyjia/club-treasury/internal/domain/entity"
	"github.com/garyjia/club-treasury/internal/infrastructure/persistence/sqlite"
)

// SettingsRepository implements port.SettingsRepository
type SettingsRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewSettingsRepository creates a new settings repository
func NewSettingsRepository(db *sqlite.DB, logger *zap.Logger) port.SettingsRepository {
	return &SettingsRepository{
		db:     db,
		logger: logger,
	}
}

// GetApprovalThreshold returns the stored threshold, or nil when none was saved
func (r *SettingsRepository) GetApprovalThreshold(ctx context.Context) (*entity.ApprovalThreshold, error) {
	var th entity.ApprovalThreshold
	err := r.db.Executor(ctx).QueryRowContext(ctx, `
		SELECT amount, double_approval_enabled, updated_at
		FROM approval_settings WHERE id = 1
	`).Scan(&th.Amount, &th.DoubleApprovalEnabled, &th.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get approval threshold", zap.Error(err))
		return nil, fmt.Errorf("failed to get approval threshold: %w", err)
	}
	return &th, nil
}

// SaveApprovalThreshold upserts the single threshold row
func (r *SettingsRepository) SaveApprovalThreshold(ctx context.Context, threshold entity.ApprovalThreshold) error {
	_, err := r.db.Executor(ctx).ExecContext(ctx, `
		INSERT INTO approval_settings (id, amount, double_approval_enabled, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount = excluded.amount,
			double_approval_enabled = excluded.double_approval_enabled,
			updated_at = excluded.updated_at
	`, threshold.Amount, threshold.DoubleApprovalEnabled, now())
	if err != nil {
		r.logger.Error("Failed to save approval threshold", zap.Error(err))
		return fmt.Errorf("failed to save approval threshold: %w", err)
	}
	return nil
}

var _ port.SettingsRepository = (*SettingsRepository)(nil)
