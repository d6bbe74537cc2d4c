package service

import (
	"context"
	"time"

	"github.com/garyjia/club-treasury/internal/application/batch"
	"github.com/garyjia/club-treasury/internal/application/port"
	"github.com/garyjia/club-treasury/internal/domain"
	"github.com/garyjia/club-treasury/internal/domain/entity"
	"github.com/garyjia/club-treasury/internal/domain/event"
	"github.com/garyjia/club-treasury/internal/domain/workflow"
)

// LinkRequest describes one transaction to entity association
type LinkRequest struct {
	TransactionID string
	Entity        entity.EntityRef
	Confidence    int
	MatchedBy     string
	Actor         string
}

func (r LinkRequest) validate() error {
	if r.TransactionID == "" {
		return &domain.ValidationError{Field: "transaction_id", Reason: "is required"}
	}
	if !r.Entity.IsValid() {
		return &domain.ValidationError{Field: "entity", Reason: "must be a claim or activity with an id"}
	}
	if r.Confidence < entity.MinConfidence || r.Confidence > entity.MaxConfidence {
		return &domain.ValidationError{Field: "confidence", Reason: "must be between 0 and 100"}
	}
	if r.MatchedBy != entity.MatchedByAuto && r.MatchedBy != entity.MatchedByManual {
		return &domain.ValidationError{Field: "matched_by", Reason: "must be auto or manual"}
	}
	if r.Actor == "" {
		return &domain.ValidationError{Field: "actor", Reason: "is required"}
	}
	return nil
}

// linkOutcome reports what a link or unlink changed
type linkOutcome struct {
	Transaction *entity.BankTransaction
	Changed     bool
	// Claim is set when the claim's status moved as a consequence
	Claim *entity.ExpenseClaim
}

// linker holds the link registry rules. Callers provide the store transaction.
type linker struct {
	claims       port.ClaimRepository
	transactions port.TransactionRepository
	now          func() time.Time
}

// link adds the association unless it already exists. Only approuve and
// rembourse claims can be settled; a claim in approuve becomes reimbursed by
// the same transaction.
func (l *linker) link(ctx context.Context, req LinkRequest) (*linkOutcome, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	tx, err := l.transactions.GetByID(ctx, req.TransactionID)
	if err != nil {
		return nil, err
	}
	if tx.FindLink(req.Entity) >= 0 {
		return &linkOutcome{Transaction: tx}, nil
	}

	var claim *entity.ExpenseClaim
	if req.Entity.Type == entity.EntityTypeClaim {
		if existing, ok := tx.ClaimLink(); ok {
			return nil, &domain.LinkConflictError{TransactionID: tx.ID, ExistingClaimID: existing.EntityID}
		}
		claim, err = l.claims.GetByID(ctx, req.Entity.ID)
		if err != nil {
			return nil, err
		}
		if !claim.CanBeSettled() {
			return nil, &domain.InvalidTransitionError{ClaimID: claim.ID, From: claim.Status, Action: "link"}
		}
	}

	now := l.now()
	expected := tx.Version
	tx.Links = append(tx.Links, entity.LinkRecord{
		TransactionID: tx.ID,
		EntityType:    req.Entity.Type,
		EntityID:      req.Entity.ID,
		Confidence:    req.Confidence,
		MatchedBy:     req.MatchedBy,
		MatchedAt:     now,
		LinkedBy:      req.Actor,
	})
	tx.RecomputeReconciled()
	if err := l.transactions.SaveLinks(ctx, tx, expected); err != nil {
		return nil, err
	}

	out := &linkOutcome{Transaction: tx, Changed: true}
	if claim != nil && claim.Status == entity.StatusApproved {
		version := claim.Version
		if err := workflow.MarkReimbursed(claim, tx.ID, now); err != nil {
			return nil, err
		}
		if err := l.claims.Update(ctx, claim, version); err != nil {
			return nil, err
		}
		out.Claim = claim
	}
	return out, nil
}

// unlink removes the association if present. A reimbursed claim left without
// any claim link goes back to approuve.
func (l *linker) unlink(ctx context.Context, transactionID string, ref entity.EntityRef) (*linkOutcome, error) {
	if transactionID == "" {
		return nil, &domain.ValidationError{Field: "transaction_id", Reason: "is required"}
	}
	if !ref.IsValid() {
		return nil, &domain.ValidationError{Field: "entity", Reason: "must be a claim or activity with an id"}
	}

	tx, err := l.transactions.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	expected := tx.Version
	if !tx.RemoveLink(ref) {
		return &linkOutcome{Transaction: tx}, nil
	}
	if err := l.transactions.SaveLinks(ctx, tx, expected); err != nil {
		return nil, err
	}

	out := &linkOutcome{Transaction: tx, Changed: true}
	if ref.Type != entity.EntityTypeClaim {
		return out, nil
	}

	claim, err := l.settle(ctx, ref.ID, transactionID)
	if err != nil {
		return nil, err
	}
	out.Claim = claim
	return out, nil
}

// settle brings a reimbursed claim in line with its remaining claim links after
// removedTx stopped settling it. It returns the claim when its status changed.
func (l *linker) settle(ctx context.Context, claimID, removedTx string) (*entity.ExpenseClaim, error) {
	claim, err := l.claims.GetByID(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if claim.Status != entity.StatusReimbursed {
		return nil, nil
	}

	remaining, err := l.transactions.FindByEntity(ctx, claim.Ref())
	if err != nil {
		return nil, err
	}

	version := claim.Version
	if len(remaining) == 0 {
		if err := workflow.ReverseReimbursement(claim); err != nil {
			return nil, err
		}
		if err := l.claims.Update(ctx, claim, version); err != nil {
			return nil, err
		}
		return claim, nil
	}

	if claim.ReimbursementRef == removedTx {
		claim.ReimbursementRef = remaining[0]
		if err := l.claims.Update(ctx, claim, version); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// cascade removes every link referencing ref in chunks and returns how many
// links were removed by committed chunks. Claim statuses are left untouched.
func (l *linker) cascade(ctx context.Context, runner *batch.Runner, ref entity.EntityRef) (int, *batch.Report, error) {
	ids, err := l.transactions.FindByEntity(ctx, ref)
	if err != nil {
		return 0, nil, err
	}

	var perChunk []int
	report := batch.Run(ctx, runner, "cascade_cleanup", ids, func(ctx context.Context, chunk []string) error {
		removed := 0
		perChunk = append(perChunk, 0)
		for _, id := range chunk {
			tx, err := l.transactions.GetByID(ctx, id)
			if err != nil {
				return err
			}
			expected := tx.Version
			if !tx.RemoveLink(ref) {
				continue
			}
			if err := l.transactions.SaveLinks(ctx, tx, expected); err != nil {
				return err
			}
			removed++
		}
		perChunk[len(perChunk)-1] = removed
		return nil
	})

	total := 0
	for i, n := range perChunk {
		if report.Succeeded(i) {
			total += n
		}
	}
	return total, report, report.Err()
}

func linkEvent(evtType event.Type, tx *entity.BankTransaction, ref entity.EntityRef, actor, correlationID string) *event.Event {
	payload := map[string]interface{}{
		"transaction_id": tx.ID,
		"amount":         tx.Amount.String(),
		"reconciled":     tx.Reconciled,
	}
	if correlationID != "" {
		return event.NewEventWithCorrelation(evtType, ref.Type, ref.ID, actor, payload, correlationID)
	}
	return event.NewEvent(evtType, ref.Type, ref.ID, actor, payload)
}

func claimEvent(evtType event.Type, claim *entity.ExpenseClaim, actor string) *event.Event {
	return event.NewEvent(evtType, entity.EntityTypeClaim, claim.ID, actor, map[string]interface{}{
		"requester_id": claim.RequesterID,
		"description":  claim.Description,
		"amount":       claim.Amount.StringFixed(2),
		"status":       claim.Status,
	})
}

// statusEvent maps a claim status reached through linking to its event type
func statusEvent(claim *entity.ExpenseClaim) event.Type {
	if claim.Status == entity.StatusReimbursed {
		return event.TypeClaimReimbursed
	}
	return event.TypeReimbursementReversed
}
