package service

import (
	"context"
	"fmt"

	"github.com/garyjia/club-treasury/internal/application/port"
	"github.com/garyjia/club-treasury/internal/domain"
	"github.com/garyjia/club-treasury/internal/domain/entity"
)

// SettingsService owns the club-wide approval threshold
type SettingsService interface {
	port.SettingsProvider
	UpdateApprovalThreshold(ctx context.Context, actor string, threshold entity.ApprovalThreshold) error
}

type settingsServiceImpl struct {
	repo     port.SettingsRepository
	fallback entity.ApprovalThreshold
	gate     port.PermissionGate
	logger   Logger
}

// NewSettingsService creates a SettingsService. fallback applies until a threshold is saved.
func NewSettingsService(repo port.SettingsRepository, fallback entity.ApprovalThreshold, gate port.PermissionGate, logger Logger) SettingsService {
	return &settingsServiceImpl{repo: repo, fallback: fallback, gate: gate, logger: logger}
}

// ApprovalThreshold implements port.SettingsProvider
func (s *settingsServiceImpl) ApprovalThreshold(ctx context.Context) (entity.ApprovalThreshold, error) {
	stored, err := s.repo.GetApprovalThreshold(ctx)
	if err != nil {
		return entity.ApprovalThreshold{}, fmt.Errorf("load approval threshold: %w", err)
	}
	if stored == nil {
		return s.fallback, nil
	}
	return *stored, nil
}

// UpdateApprovalThreshold stores a new threshold. Claims already submitted keep their snapshot.
func (s *settingsServiceImpl) UpdateApprovalThreshold(ctx context.Context, actor string, threshold entity.ApprovalThreshold) error {
	if err := authorize(ctx, s.gate, actor, entity.CapabilityManageSettings); err != nil {
		return err
	}
	if threshold.Amount.IsNegative() {
		return &domain.ValidationError{Field: "amount", Reason: "must not be negative"}
	}
	if err := s.repo.SaveApprovalThreshold(ctx, threshold); err != nil {
		s.logger.Error("Failed to save approval threshold", "error", err)
		return err
	}
	s.logger.Info("Approval threshold updated",
		"actor", actor,
		"amount", threshold.Amount.String(),
		"double_approval_enabled", threshold.DoubleApprovalEnabled,
	)
	return nil
}
