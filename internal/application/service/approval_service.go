package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/garyjia/club-treasury/internal/application/batch"
	"github.com/garyjia/club-treasury/internal/application/port"
	"github.com/garyjia/club-treasury/internal/domain"
	"github.com/garyjia/club-treasury/internal/domain/entity"
	"github.com/garyjia/club-treasury/internal/domain/event"
	"github.com/garyjia/club-treasury/internal/domain/workflow"
)

// CreateClaimInput carries the fields of a new draft
type CreateClaimInput struct {
	RequesterID string
	Description string
	Amount      decimal.Decimal
	Currency    string
	ExpenseDate time.Time
	ActivityID  string
}

// UpdateDraftInput lists the draft fields to change. Nil means unchanged.
type UpdateDraftInput struct {
	Description *string
	Amount      *decimal.Decimal
	ExpenseDate *time.Time
	ActivityID  *string
}

// DeleteResult reports a claim deletion and its link cleanup
type DeleteResult struct {
	Claim        *entity.ExpenseClaim `json:"claim"`
	LinksRemoved int                  `json:"links_removed"`
}

// ApprovalService drives claims through the approval workflow
type ApprovalService interface {
	CreateDraft(ctx context.Context, in CreateClaimInput) (*entity.ExpenseClaim, error)
	UpdateDraft(ctx context.Context, claimID, actor string, in UpdateDraftInput) (*entity.ExpenseClaim, error)
	Submit(ctx context.Context, claimID, actor string) (*entity.ExpenseClaim, error)
	Approve(ctx context.Context, claimID, actor string) (*entity.ExpenseClaim, error)
	Reject(ctx context.Context, claimID, actor, reason string) (*entity.ExpenseClaim, error)
	Delete(ctx context.Context, claimID, actor string) (*DeleteResult, error)
	Get(ctx context.Context, claimID string) (*entity.ExpenseClaim, error)
	List(ctx context.Context, filter port.ClaimFilter) ([]*entity.ExpenseClaim, error)
}

type approvalServiceImpl struct {
	claimRepo port.ClaimRepository
	linker    *linker
	settings  port.SettingsProvider
	gate      port.PermissionGate
	txManager port.TransactionManager
	runner    *batch.Runner
	publisher port.EventPublisher
	logger    Logger
	now       func() time.Time
}

// NewApprovalService creates a new ApprovalService
func NewApprovalService(
	claimRepo port.ClaimRepository,
	transactionRepo port.TransactionRepository,
	settings port.SettingsProvider,
	gate port.PermissionGate,
	txManager port.TransactionManager,
	runner *batch.Runner,
	publisher port.EventPublisher,
	logger Logger,
) ApprovalService {
	return &approvalServiceImpl{
		claimRepo: claimRepo,
		linker:    &linker{claims: claimRepo, transactions: transactionRepo, now: utcNow},
		settings:  settings,
		gate:      gate,
		txManager: txManager,
		runner:    runner,
		publisher: publisher,
		logger:    logger,
		now:       utcNow,
	}
}

// CreateDraft stores a new claim in draft
func (s *approvalServiceImpl) CreateDraft(ctx context.Context, in CreateClaimInput) (*entity.ExpenseClaim, error) {
	if in.RequesterID == "" {
		return nil, &domain.ValidationError{Field: "requester_id", Reason: "is required"}
	}
	if in.Amount.IsNegative() {
		return nil, &domain.ValidationError{Field: "amount", Reason: "must not be negative"}
	}
	if in.Currency == "" {
		in.Currency = entity.DefaultCurrency
	}
	if in.ExpenseDate.IsZero() {
		in.ExpenseDate = s.now().Truncate(24 * time.Hour)
	}

	claim := &entity.ExpenseClaim{
		ID:          uuid.NewString(),
		RequesterID: in.RequesterID,
		Description: strings.TrimSpace(in.Description),
		Amount:      in.Amount,
		Currency:    in.Currency,
		ExpenseDate: in.ExpenseDate,
		Status:      entity.StatusDraft,
		ActivityID:  in.ActivityID,
	}
	if err := s.claimRepo.Create(ctx, claim); err != nil {
		s.logger.Error("Failed to create claim", "error", err, "requester_id", in.RequesterID)
		return nil, err
	}

	s.logger.Info("Claim created", "claim_id", claim.ID, "requester_id", claim.RequesterID)
	return claim, nil
}

// UpdateDraft edits a draft. Only the requester may edit it.
func (s *approvalServiceImpl) UpdateDraft(ctx context.Context, claimID, actor string, in UpdateDraftInput) (*entity.ExpenseClaim, error) {
	return s.mutate(ctx, claimID, "update", func(claim *entity.ExpenseClaim) error {
		if actor == "" || actor != claim.RequesterID {
			return &domain.ForbiddenError{Actor: actor, Capability: "claims.edit_own"}
		}
		if claim.Status != entity.StatusDraft {
			return &domain.InvalidTransitionError{ClaimID: claim.ID, From: claim.Status, Action: "update"}
		}
		if in.Amount != nil && in.Amount.IsNegative() {
			return &domain.ValidationError{Field: "amount", Reason: "must not be negative"}
		}

		if in.Description != nil {
			claim.Description = strings.TrimSpace(*in.Description)
		}
		if in.Amount != nil {
			claim.Amount = *in.Amount
		}
		if in.ExpenseDate != nil {
			claim.ExpenseDate = *in.ExpenseDate
		}
		if in.ActivityID != nil {
			claim.ActivityID = *in.ActivityID
		}
		return nil
	})
}

// Submit sends the requester's draft to approval
func (s *approvalServiceImpl) Submit(ctx context.Context, claimID, actor string) (*entity.ExpenseClaim, error) {
	threshold, err := s.settings.ApprovalThreshold(ctx)
	if err != nil {
		return nil, err
	}

	claim, err := s.mutate(ctx, claimID, "submit", func(claim *entity.ExpenseClaim) error {
		if actor == "" || actor != claim.RequesterID {
			return &domain.ForbiddenError{Actor: actor, Capability: "claims.submit_own"}
		}
		return workflow.Submit(claim, threshold, s.now())
	})
	if err != nil {
		return nil, err
	}

	publish(ctx, s.publisher, s.logger, claimEvent(event.TypeClaimSubmitted, claim, actor).
		WithPayload("requires_double_approval", claim.RequiresDoubleApproval))
	return claim, nil
}

// Approve records an approval. The gate is asked once, before identity rules.
func (s *approvalServiceImpl) Approve(ctx context.Context, claimID, actor string) (*entity.ExpenseClaim, error) {
	if err := authorize(ctx, s.gate, actor, entity.CapabilityApproveClaims); err != nil {
		s.logger.Error("Approval refused", "claim_id", claimID, "actor", actor, "error", err)
		return nil, err
	}

	var stage string
	claim, err := s.mutate(ctx, claimID, "approve", func(claim *entity.ExpenseClaim) error {
		to, err := workflow.Approve(claim, actor, s.now())
		if err != nil {
			return err
		}
		stage = "final"
		if to == workflow.StateAwaitingValidation {
			stage = "first"
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	publish(ctx, s.publisher, s.logger, claimEvent(event.TypeClaimApproved, claim, actor).WithPayload("stage", stage))
	return claim, nil
}

// Reject refuses a claim waiting for approval
func (s *approvalServiceImpl) Reject(ctx context.Context, claimID, actor, reason string) (*entity.ExpenseClaim, error) {
	if err := authorize(ctx, s.gate, actor, entity.CapabilityApproveClaims); err != nil {
		s.logger.Error("Rejection refused", "claim_id", claimID, "actor", actor, "error", err)
		return nil, err
	}

	claim, err := s.mutate(ctx, claimID, "reject", func(claim *entity.ExpenseClaim) error {
		return workflow.Reject(claim, actor, reason, s.now())
	})
	if err != nil {
		return nil, err
	}

	publish(ctx, s.publisher, s.logger, claimEvent(event.TypeClaimRejected, claim, actor).
		WithPayload("reason", claim.RejectionReason))
	return claim, nil
}

// Delete moves the claim to supprime, then removes every link to it.
// The requester or an approver may delete.
func (s *approvalServiceImpl) Delete(ctx context.Context, claimID, actor string) (*DeleteResult, error) {
	if actor == "" {
		return nil, &domain.ValidationError{Field: "actor", Reason: "is required"}
	}
	current, err := s.claimRepo.GetByID(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if actor != current.RequesterID {
		if err := authorize(ctx, s.gate, actor, entity.CapabilityApproveClaims); err != nil {
			return nil, err
		}
	}

	claim, err := s.mutate(ctx, claimID, "delete", func(claim *entity.ExpenseClaim) error {
		return workflow.Delete(claim, actor, s.now())
	})
	if err != nil {
		return nil, err
	}

	removed, _, err := s.linker.cascade(ctx, s.runner, claim.Ref())
	result := &DeleteResult{Claim: claim, LinksRemoved: removed}
	publish(ctx, s.publisher, s.logger, claimEvent(event.TypeClaimDeleted, claim, actor).WithPayload("links_removed", removed))
	if err != nil {
		s.logger.Error("Claim deleted but link cleanup incomplete", "claim_id", claimID, "removed", removed, "error", err)
		return result, err
	}

	s.logger.Info("Claim deleted", "claim_id", claimID, "actor", actor, "links_removed", removed)
	return result, nil
}

// Get retrieves a claim by ID
func (s *approvalServiceImpl) Get(ctx context.Context, claimID string) (*entity.ExpenseClaim, error) {
	claim, err := s.claimRepo.GetByID(ctx, claimID)
	if err != nil {
		s.logger.Error("Failed to get claim", "error", err, "claim_id", claimID)
		return nil, err
	}
	return claim, nil
}

// List returns claims matching filter
func (s *approvalServiceImpl) List(ctx context.Context, filter port.ClaimFilter) ([]*entity.ExpenseClaim, error) {
	return s.claimRepo.List(ctx, filter)
}

// mutate loads the claim, applies change and writes it back under the version
// it was loaded with. change must validate everything before mutating.
func (s *approvalServiceImpl) mutate(ctx context.Context, claimID, action string, change func(claim *entity.ExpenseClaim) error) (*entity.ExpenseClaim, error) {
	var updated *entity.ExpenseClaim
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		claim, err := s.claimRepo.GetByID(txCtx, claimID)
		if err != nil {
			return err
		}
		version := claim.Version
		if err := change(claim); err != nil {
			return err
		}
		if err := s.claimRepo.Update(txCtx, claim, version); err != nil {
			return err
		}
		updated = claim
		return nil
	})
	if err != nil {
		s.logger.Error("Claim action failed", "action", action, "claim_id", claimID, "error", err)
		return nil, err
	}

	s.logger.Info("Claim updated", "action", action, "claim_id", claimID, "status", updated.Status)
	return updated, nil
}
