package workflow

import (
	"context"
	"strings"
	"time"

	"github.com/garyjia/club-treasury/internal/domain"
	"github.com/garyjia/club-treasury/internal/domain/entity"
)

// ClaimMachine returns a machine positioned at the claim's status.
// Approval from submitted branches on the claim's double approval snapshot.
func ClaimMachine(claim *entity.ExpenseClaim) (StateMachine, error) {
	current := State(claim.Status)
	if !current.IsValid() {
		return nil, &domain.InvalidTransitionError{ClaimID: claim.ID, From: claim.Status, Action: "load"}
	}

	single := func(context.Context) bool { return !claim.RequiresDoubleApproval }
	double := func(context.Context) bool { return claim.RequiresDoubleApproval }

	b := NewBuilder()

	b.Configure(StateDraft).
		Permit(TriggerSubmit, StateSubmitted).
		Permit(TriggerDelete, StateDeleted)

	b.Configure(StateSubmitted).
		PermitIf(TriggerApprove, StateApproved, single).
		PermitIf(TriggerApprove, StateAwaitingValidation, double).
		Permit(TriggerReject, StateRejected).
		Permit(TriggerDelete, StateDeleted)

	b.Configure(StateAwaitingValidation).
		Permit(TriggerApprove, StateApproved).
		Permit(TriggerReject, StateRejected).
		Permit(TriggerDelete, StateDeleted)

	b.Configure(StateApproved).
		Permit(TriggerReimburse, StateReimbursed).
		Permit(TriggerDelete, StateDeleted)

	b.Configure(StateReimbursed).
		Permit(TriggerReverse, StateApproved).
		Permit(TriggerDelete, StateDeleted)

	b.Configure(StateRejected).
		Permit(TriggerDelete, StateDeleted)

	return b.Build(current), nil
}

// next resolves the target state or translates the machine error.
func next(claim *entity.ExpenseClaim, trigger Trigger) (State, error) {
	m, err := ClaimMachine(claim)
	if err != nil {
		return "", err
	}
	to, err := m.Peek(context.Background(), trigger)
	if err != nil {
		return "", &domain.InvalidTransitionError{
			ClaimID: claim.ID,
			From:    claim.Status,
			Action:  trigger.Action(),
		}
	}
	return to, nil
}

// Submit moves a draft to submitted and snapshots the double approval requirement.
func Submit(claim *entity.ExpenseClaim, threshold entity.ApprovalThreshold, now time.Time) error {
	to, err := next(claim, TriggerSubmit)
	if err != nil {
		return err
	}
	if strings.TrimSpace(claim.Description) == "" {
		return &domain.ValidationError{Field: "description", Reason: "is required"}
	}
	if !claim.Amount.IsPositive() {
		return &domain.ValidationError{Field: "amount", Reason: "must be positive"}
	}

	claim.Status = to.String()
	claim.SubmittedAt = &now
	claim.RequiresDoubleApproval = threshold.RequiresDoubleApproval(claim.Amount)
	return nil
}

// Approve records an approval by actor and returns the resulting state.
// Identity rules are checked before the status: the requester can never approve,
// and the first approver can never fill the second slot.
func Approve(claim *entity.ExpenseClaim, actor string, now time.Time) (State, error) {
	if actor == "" {
		return "", &domain.ValidationError{Field: "actor", Reason: "is required"}
	}
	if actor == claim.RequesterID {
		return "", &domain.SelfApprovalError{ClaimID: claim.ID, Actor: actor}
	}
	if claim.FirstApproverID != "" && actor == claim.FirstApproverID {
		return "", &domain.AlreadyApprovedError{ClaimID: claim.ID, Actor: actor}
	}

	from := State(claim.Status)
	to, err := next(claim, TriggerApprove)
	if err != nil {
		return "", err
	}

	switch from {
	case StateSubmitted:
		claim.FirstApproverID = actor
		claim.FirstApprovedAt = &now
	case StateAwaitingValidation:
		claim.SecondApproverID = actor
		claim.SecondApprovedAt = &now
	}
	claim.Status = to.String()
	return to, nil
}

// Reject refuses a claim that is still waiting for approval.
func Reject(claim *entity.ExpenseClaim, actor, reason string, now time.Time) error {
	if actor == "" {
		return &domain.ValidationError{Field: "actor", Reason: "is required"}
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return &domain.ValidationError{Field: "reason", Reason: "is required"}
	}
	to, err := next(claim, TriggerReject)
	if err != nil {
		return err
	}

	claim.Status = to.String()
	claim.RejectedBy = actor
	claim.RejectedAt = &now
	claim.RejectionReason = reason
	return nil
}

// MarkReimbursed is driven by a settling link to transactionRef.
func MarkReimbursed(claim *entity.ExpenseClaim, transactionRef string, now time.Time) error {
	to, err := next(claim, TriggerReimburse)
	if err != nil {
		return err
	}
	claim.Status = to.String()
	claim.ReimbursedAt = &now
	claim.ReimbursementRef = transactionRef
	return nil
}

// ReverseReimbursement is driven by the removal of the last settling link.
func ReverseReimbursement(claim *entity.ExpenseClaim) error {
	to, err := next(claim, TriggerReverse)
	if err != nil {
		return err
	}
	claim.Status = to.String()
	claim.ReimbursedAt = nil
	claim.ReimbursementRef = ""
	return nil
}

// Delete moves the claim to its terminal deleted status.
func Delete(claim *entity.ExpenseClaim, actor string, now time.Time) error {
	if actor == "" {
		return &domain.ValidationError{Field: "actor", Reason: "is required"}
	}
	to, err := next(claim, TriggerDelete)
	if err != nil {
		return err
	}
	claim.Status = to.String()
	claim.DeletedAt = &now
	claim.DeletedBy = actor
	return nil
}
