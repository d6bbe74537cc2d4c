// Package domain holds the error vocabulary shared by the claim workflow,
// the link registry and the reconciliation engine.
package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Sentinel errors. Typed errors below match them through errors.Is.
var (
	ErrValidation             = errors.New("validation failed")
	ErrSelfApproval           = errors.New("requester cannot approve their own claim")
	ErrAlreadyApproved        = errors.New("actor already approved this claim")
	ErrInvalidTransition      = errors.New("invalid claim transition")
	ErrConcurrentModification = errors.New("record changed concurrently, reload and retry")
	ErrForbidden              = errors.New("actor lacks required capability")
	ErrNotFound               = errors.New("record not found")
	ErrLinkConflict           = errors.New("transaction already settles another claim")
	ErrPartialBatch           = errors.New("batch partially failed")
)

// ValidationError reports a missing or malformed input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// SelfApprovalError is returned when the requester tries to approve their own claim.
type SelfApprovalError struct {
	ClaimID string
	Actor   string
}

func (e *SelfApprovalError) Error() string {
	return fmt.Sprintf("claim %s: actor %s is the requester and cannot approve it", e.ClaimID, e.Actor)
}

func (e *SelfApprovalError) Is(target error) bool { return target == ErrSelfApproval }

// AlreadyApprovedError is returned when an approver tries to fill both approval slots.
type AlreadyApprovedError struct {
	ClaimID string
	Actor   string
}

func (e *AlreadyApprovedError) Error() string {
	return fmt.Sprintf("claim %s: actor %s already holds the first approval", e.ClaimID, e.Actor)
}

func (e *AlreadyApprovedError) Is(target error) bool { return target == ErrAlreadyApproved }

// InvalidTransitionError is returned when an action is not allowed from the claim's status.
type InvalidTransitionError struct {
	ClaimID string
	From    string
	Action  string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("claim %s: cannot %s from status %s", e.ClaimID, e.Action, e.From)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// ConcurrentModificationError is returned when a conditional write lost a race.
type ConcurrentModificationError struct {
	Kind string
	ID   string
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("%s %s changed concurrently, reload and retry", e.Kind, e.ID)
}

func (e *ConcurrentModificationError) Is(target error) bool {
	return target == ErrConcurrentModification
}

// ForbiddenError is returned when the permission gate refuses a capability.
type ForbiddenError struct {
	Actor      string
	Capability string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("actor %s lacks capability %s", e.Actor, e.Capability)
}

func (e *ForbiddenError) Is(target error) bool { return target == ErrForbidden }

// NotFoundError is returned by repositories for unknown ids.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// LinkConflictError is returned when a transaction's claim slot is already taken.
type LinkConflictError struct {
	TransactionID   string
	ExistingClaimID string
}

func (e *LinkConflictError) Error() string {
	return fmt.Sprintf("transaction %s already settles claim %s", e.TransactionID, e.ExistingClaimID)
}

func (e *LinkConflictError) Is(target error) bool { return target == ErrLinkConflict }

// DuplicateDocumentWarning is informational: the same file content is already
// attached to another claim. It is returned as data, never as a failure.
type DuplicateDocumentWarning struct {
	FileName         string          `json:"file_name"`
	Digest           string          `json:"digest"`
	ClaimID          string          `json:"claim_id"`
	ClaimDescription string          `json:"claim_description"`
	ClaimAmount      decimal.Decimal `json:"claim_amount"`
	ExistingName     string          `json:"existing_name"`
	Skipped          bool            `json:"skipped"`
}

func (w *DuplicateDocumentWarning) Error() string {
	return fmt.Sprintf("file %s is already attached to claim %s (%s, %s)",
		w.FileName, w.ClaimID, w.ClaimAmount.StringFixed(2), w.ClaimDescription)
}

// ChunkFailure records why one chunk of a batch operation was rolled back.
type ChunkFailure struct {
	Index int
	Size  int
	Err   error
}

// PartialBatchFailure lists the failed chunks of a batch. Chunks not listed
// were committed and stay committed.
type PartialBatchFailure struct {
	Operation string
	Total     int
	Failures  []ChunkFailure
}

func (e *PartialBatchFailure) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("chunk %d: %v", f.Index, f.Err))
	}
	return fmt.Sprintf("%s: %d of %d chunks failed (%s)",
		e.Operation, len(e.Failures), e.Total, strings.Join(parts, "; "))
}

func (e *PartialBatchFailure) Is(target error) bool { return target == ErrPartialBatch }

// Unwrap exposes the chunk causes to errors.Is / errors.As.
func (e *PartialBatchFailure) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// FailedChunks returns the indices of the failed chunks in order.
func (e *PartialBatchFailure) FailedChunks() []int {
	idx := make([]int, 0, len(e.Failures))
	for _, f := range e.Failures {
		idx = append(idx, f.Index)
	}
	return idx
}
