package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/garyjia/club-treasury/internal/application/batch"
	"github.com/garyjia/club-treasury/internal/application/matching"
	"github.com/garyjia/club-treasury/internal/application/port"
	"github.com/garyjia/club-treasury/internal/domain"
	"github.com/garyjia/club-treasury/internal/domain/entity"
	"github.com/garyjia/club-treasury/internal/domain/event"
)

// ReconciliationOptions controls one auto-reconciliation run
type ReconciliationOptions struct {
	Actor string
	// DryRun computes the plan without linking anything
	DryRun bool
}

// ReconciliationReport summarises a run. Review is the manual review queue.
type ReconciliationReport struct {
	RunID        string              `json:"run_id"`
	DryRun       bool                `json:"dry_run"`
	Transactions int                 `json:"transactions"`
	Claims       int                 `json:"claims"`
	Linked       []matching.Proposal `json:"linked"`
	Stale        []matching.Proposal `json:"stale"`
	Review       []matching.Proposal `json:"review"`
	FailedChunks []int               `json:"failed_chunks,omitempty"`
}

// ReconciliationService links bank transactions to approved claims automatically
type ReconciliationService interface {
	PerformAutoReconciliation(ctx context.Context, opts ReconciliationOptions) (*ReconciliationReport, error)
}

type reconciliationServiceImpl struct {
	claimRepo       port.ClaimRepository
	transactionRepo port.TransactionRepository
	linker          *linker
	planner         *matching.Planner
	gate            port.PermissionGate
	runner          *batch.Runner
	publisher       port.EventPublisher
	logger          Logger
}

// NewReconciliationService creates a new ReconciliationService
func NewReconciliationService(
	claimRepo port.ClaimRepository,
	transactionRepo port.TransactionRepository,
	planner *matching.Planner,
	gate port.PermissionGate,
	runner *batch.Runner,
	publisher port.EventPublisher,
	logger Logger,
) ReconciliationService {
	return &reconciliationServiceImpl{
		claimRepo:       claimRepo,
		transactionRepo: transactionRepo,
		linker:          &linker{claims: claimRepo, transactions: transactionRepo, now: utcNow},
		planner:         planner,
		gate:            gate,
		runner:          runner,
		publisher:       publisher,
		logger:          logger,
	}
}

// PerformAutoReconciliation plans links between unmatched transactions and approved
// claims without a settling link, then applies the auto-link proposals chunk by chunk.
// Proposals invalidated since planning are reported as stale instead of failing their chunk.
func (s *reconciliationServiceImpl) PerformAutoReconciliation(ctx context.Context, opts ReconciliationOptions) (*ReconciliationReport, error) {
	if err := authorize(ctx, s.gate, opts.Actor, entity.CapabilityReconcile); err != nil {
		return nil, err
	}

	transactions, err := s.transactionRepo.List(ctx, port.TransactionFilter{WithoutClaimLink: true})
	if err != nil {
		s.logger.Error("Failed to load transactions", "error", err)
		return nil, err
	}
	claims, err := s.unsettledClaims(ctx)
	if err != nil {
		s.logger.Error("Failed to load claims", "error", err)
		return nil, err
	}

	plan := s.planner.Plan(transactions, claims)
	report := &ReconciliationReport{
		RunID:        uuid.NewString(),
		DryRun:       opts.DryRun,
		Transactions: len(transactions),
		Claims:       len(claims),
		Review:       plan.Review,
	}
	if opts.DryRun {
		report.Linked = plan.AutoLinks
		s.logger.Info("Reconciliation preview",
			"run_id", report.RunID,
			"auto_links", len(plan.AutoLinks),
			"review", len(plan.Review),
		)
		return report, nil
	}

	type applied struct {
		proposal matching.Proposal
		outcome  *linkOutcome
	}
	var chunks [][]applied
	var staleByChunk [][]matching.Proposal

	run := batch.Run(ctx, s.runner, "auto_reconciliation", plan.AutoLinks, func(ctx context.Context, chunk []matching.Proposal) error {
		var done []applied
		var stale []matching.Proposal
		for _, p := range chunk {
			out, err := s.linker.link(ctx, LinkRequest{
				TransactionID: p.TransactionID,
				Entity:        entity.ClaimRef(p.ClaimID),
				Confidence:    p.Confidence,
				MatchedBy:     entity.MatchedByAuto,
				Actor:         opts.Actor,
			})
			if isStale(err) {
				stale = append(stale, p)
				continue
			}
			if err != nil {
				chunks = append(chunks, nil)
				staleByChunk = append(staleByChunk, nil)
				return err
			}
			if out.Changed {
				done = append(done, applied{proposal: p, outcome: out})
			}
		}
		chunks = append(chunks, done)
		staleByChunk = append(staleByChunk, stale)
		return nil
	})

	var events []*event.Event
	for i := range chunks {
		if !run.Succeeded(i) {
			continue
		}
		report.Stale = append(report.Stale, staleByChunk[i]...)
		for _, a := range chunks[i] {
			report.Linked = append(report.Linked, a.proposal)
			ref := entity.ClaimRef(a.proposal.ClaimID)
			events = append(events, linkEvent(event.TypeTransactionLinked, a.outcome.Transaction, ref, opts.Actor, report.RunID))
			if a.outcome.Claim != nil {
				evt := claimEvent(statusEvent(a.outcome.Claim), a.outcome.Claim, opts.Actor)
				evt.CorrelationID = report.RunID
				events = append(events, evt)
			}
		}
	}
	for _, f := range run.Failures {
		report.FailedChunks = append(report.FailedChunks, f.Index)
	}

	events = append(events, event.NewEventWithCorrelation(event.TypeReconciliationFinished, "", "", opts.Actor, map[string]interface{}{
		"linked":        len(report.Linked),
		"review":        len(report.Review),
		"stale":         len(report.Stale),
		"failed_chunks": len(report.FailedChunks),
	}, report.RunID))
	publish(ctx, s.publisher, s.logger, events...)

	s.logger.Info("Reconciliation finished",
		"run_id", report.RunID,
		"linked", len(report.Linked),
		"review", len(report.Review),
		"stale", len(report.Stale),
		"failed_chunks", len(report.FailedChunks),
	)
	return report, run.Err()
}

// unsettledClaims returns approved claims that no transaction settles yet
func (s *reconciliationServiceImpl) unsettledClaims(ctx context.Context) ([]*entity.ExpenseClaim, error) {
	approved, err := s.claimRepo.List(ctx, port.ClaimFilter{Statuses: []string{entity.StatusApproved}})
	if err != nil {
		return nil, err
	}
	out := make([]*entity.ExpenseClaim, 0, len(approved))
	for _, c := range approved {
		ids, err := s.transactionRepo.FindByEntity(ctx, c.Ref())
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			out = append(out, c)
		}
	}
	return out, nil
}

// isStale reports errors caused by records that changed since planning
func isStale(err error) bool {
	return errors.Is(err, domain.ErrLinkConflict) ||
		errors.Is(err, domain.ErrInvalidTransition) ||
		errors.Is(err, domain.ErrNotFound)
}
