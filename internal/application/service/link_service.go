package service

import (
	"context"

	"github.com/garyjia/club-treasury/internal/application/batch"
	"github.com/garyjia/club-treasury/internal/application/port"
	"github.com/garyjia/club-treasury/internal/domain"
	"github.com/garyjia/club-treasury/internal/domain/entity"
	"github.com/garyjia/club-treasury/internal/domain/event"
)

// LinkService is the manual side of the link registry
type LinkService interface {
	// Link associates a transaction with a claim or activity. Linking the same
	// pair twice is a no-op.
	Link(ctx context.Context, req LinkRequest) (*entity.BankTransaction, error)

	// Unlink removes the association if present
	Unlink(ctx context.Context, transactionID string, ref entity.EntityRef, actor string) (*entity.BankTransaction, error)

	// CascadeCleanup removes every link to ref and returns the number removed
	CascadeCleanup(ctx context.Context, ref entity.EntityRef, actor string) (int, error)
}

type linkServiceImpl struct {
	linker    *linker
	txManager port.TransactionManager
	gate      port.PermissionGate
	runner    *batch.Runner
	publisher port.EventPublisher
	logger    Logger
}

// NewLinkService creates a new LinkService
func NewLinkService(
	claimRepo port.ClaimRepository,
	transactionRepo port.TransactionRepository,
	txManager port.TransactionManager,
	gate port.PermissionGate,
	runner *batch.Runner,
	publisher port.EventPublisher,
	logger Logger,
) LinkService {
	return &linkServiceImpl{
		linker:    &linker{claims: claimRepo, transactions: transactionRepo, now: utcNow},
		txManager: txManager,
		gate:      gate,
		runner:    runner,
		publisher: publisher,
		logger:    logger,
	}
}

// Link implements LinkService
func (s *linkServiceImpl) Link(ctx context.Context, req LinkRequest) (*entity.BankTransaction, error) {
	if err := authorize(ctx, s.gate, req.Actor, entity.CapabilityReconcile); err != nil {
		return nil, err
	}
	if req.MatchedBy == "" {
		req.MatchedBy = entity.MatchedByManual
	}

	var out *linkOutcome
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		out, err = s.linker.link(txCtx, req)
		return err
	})
	if err != nil {
		s.logger.Error("Failed to link transaction",
			"transaction_id", req.TransactionID,
			"entity_type", req.Entity.Type,
			"entity_id", req.Entity.ID,
			"error", err,
		)
		return nil, err
	}

	if out.Changed {
		s.logger.Info("Transaction linked",
			"transaction_id", req.TransactionID,
			"entity_type", req.Entity.Type,
			"entity_id", req.Entity.ID,
			"actor", req.Actor,
		)
		publish(ctx, s.publisher, s.logger, linkEvent(event.TypeTransactionLinked, out.Transaction, req.Entity, req.Actor, ""))
		if out.Claim != nil {
			publish(ctx, s.publisher, s.logger, claimEvent(statusEvent(out.Claim), out.Claim, req.Actor))
		}
	}
	return out.Transaction, nil
}

// Unlink implements LinkService
func (s *linkServiceImpl) Unlink(ctx context.Context, transactionID string, ref entity.EntityRef, actor string) (*entity.BankTransaction, error) {
	if err := authorize(ctx, s.gate, actor, entity.CapabilityReconcile); err != nil {
		return nil, err
	}

	var out *linkOutcome
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		out, err = s.linker.unlink(txCtx, transactionID, ref)
		return err
	})
	if err != nil {
		s.logger.Error("Failed to unlink transaction",
			"transaction_id", transactionID,
			"entity_type", ref.Type,
			"entity_id", ref.ID,
			"error", err,
		)
		return nil, err
	}

	if out.Changed {
		s.logger.Info("Transaction unlinked",
			"transaction_id", transactionID,
			"entity_type", ref.Type,
			"entity_id", ref.ID,
			"actor", actor,
		)
		publish(ctx, s.publisher, s.logger, linkEvent(event.TypeTransactionUnlinked, out.Transaction, ref, actor, ""))
		if out.Claim != nil {
			publish(ctx, s.publisher, s.logger, claimEvent(statusEvent(out.Claim), out.Claim, actor))
		}
	}
	return out.Transaction, nil
}

// CascadeCleanup implements LinkService
func (s *linkServiceImpl) CascadeCleanup(ctx context.Context, ref entity.EntityRef, actor string) (int, error) {
	if err := authorize(ctx, s.gate, actor, entity.CapabilityReconcile); err != nil {
		return 0, err
	}
	if !ref.IsValid() {
		return 0, &domain.ValidationError{Field: "entity", Reason: "must be a claim or activity with an id"}
	}

	removed, _, err := s.linker.cascade(ctx, s.runner, ref)
	if err != nil {
		s.logger.Error("Cascade cleanup incomplete",
			"entity_type", ref.Type,
			"entity_id", ref.ID,
			"removed", removed,
			"error", err,
		)
		return removed, err
	}

	s.logger.Info("Cascade cleanup finished", "entity_type", ref.Type, "entity_id", ref.ID, "removed", removed)
	return removed, nil
}
