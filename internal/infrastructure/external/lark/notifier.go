package lark

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/club-treasury/internal/application/port"
	"github.com/garyjia/club-treasury/internal/domain/entity"
	"github.com/garyjia/club-treasury/internal/domain/event"
)

// Notifier turns committed domain events into Lark messages for the members concerned
type Notifier struct {
	sender    port.MessageSender
	directory port.Directory
	logger    *zap.Logger
}

// NewNotifier creates a new notifier
func NewNotifier(sender port.MessageSender, directory port.Directory, logger *zap.Logger) *Notifier {
	return &Notifier{
		sender:    sender,
		directory: directory,
		logger:    logger,
	}
}

// Events lists the event types the notifier handles
func (n *Notifier) Events() []event.Type {
	return []event.Type{
		event.TypeClaimSubmitted,
		event.TypeClaimApproved,
		event.TypeClaimRejected,
		event.TypeClaimReimbursed,
		event.TypeReimbursementReversed,
		event.TypeReconciliationFinished,
	}
}

// HandleEvent is a dispatcher handler. Members without a Lark account are skipped.
func (n *Notifier) HandleEvent(ctx context.Context, evt *event.Event) error {
	recipients, text, err := n.compose(ctx, evt)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		return nil
	}

	var errs []error
	sent := 0
	for _, actor := range recipients {
		openID := n.directory.LarkOpenID(ctx, actor)
		if openID == "" {
			n.logger.Debug("Member has no Lark open id, skipping", zap.String("actor", actor))
			continue
		}
		if err := n.sender.SendText(ctx, openID, text); err != nil {
			n.logger.Error("Failed to notify member",
				zap.String("actor", actor),
				zap.String("event_type", evt.Type.String()),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("notify %s: %w", actor, err))
			continue
		}
		sent++
	}

	n.logger.Info("Notification sent",
		zap.String("event_type", evt.Type.String()),
		zap.String("entity_id", evt.EntityID),
		zap.Int("recipients", sent))
	return errors.Join(errs...)
}

// compose picks the recipients and the message for evt
func (n *Notifier) compose(ctx context.Context, evt *event.Event) ([]string, string, error) {
	requester := evt.GetPayloadString("requester_id")
	summary := fmt.Sprintf("%s (%s EUR)", evt.GetPayloadString("description"), evt.GetPayloadString("amount"))

	switch evt.Type {
	case event.TypeClaimSubmitted:
		approvers, err := n.approversExcept(ctx, requester)
		return approvers, "New expense claim to approve: " + summary, err

	case event.TypeClaimApproved:
		if evt.GetPayloadString("stage") == "first" {
			approvers, err := n.approversExcept(ctx, requester, evt.Actor)
			return approvers, "Expense claim needs a second approval: " + summary, err
		}
		return []string{requester}, "Your expense claim was approved: " + summary, nil

	case event.TypeClaimRejected:
		return []string{requester}, fmt.Sprintf("Your expense claim was rejected: %s. Reason: %s",
			summary, evt.GetPayloadString("reason")), nil

	case event.TypeClaimReimbursed:
		return []string{requester}, "Your expense claim was reimbursed: " + summary, nil

	case event.TypeReimbursementReversed:
		return []string{requester}, "The reimbursement of your expense claim was cancelled: " + summary, nil

	case event.TypeReconciliationFinished:
		review := evt.GetPayloadInt("review")
		if review == 0 {
			return nil, "", nil
		}
		reconcilers, err := n.directory.MembersWithCapability(ctx, entity.CapabilityReconcile)
		return reconcilers, fmt.Sprintf("Reconciliation linked %d transactions, %d proposals wait for review",
			evt.GetPayloadInt("linked"), review), err
	}
	return nil, "", nil
}

func (n *Notifier) approversExcept(ctx context.Context, excluded ...string) ([]string, error) {
	members, err := n.directory.MembersWithCapability(ctx, entity.CapabilityApproveClaims)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvers: %w", err)
	}
	skip := make(map[string]bool, len(excluded))
	for _, e := range excluded {
		skip[e] = true
	}
	out := make([]string, 0, len(members))
	for _, m := range members {
		if !skip[m] {
			out = append(out, m)
		}
	}
	return out, nil
}
