package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/garyjia/club-treasury/internal/domain"
	"github.com/garyjia/club-treasury/internal/domain/entity"
	"github.com/garyjia/club-treasury/internal/domain/event"
)

func TestLinkService_LinkReimbursesApprovedClaim(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()
	claim := e.approvedClaim(t, "45.50", "Shuttlecocks")
	e.transaction(t, "tx-1", "-45.50", "shuttlecocks")

	tx, err := e.links.Link(ctx, LinkRequest{TransactionID: "tx-1", Entity: claim.Ref(), Confidence: 90, Actor: treasurer})
	require.NoError(t, err)
	assert.True(t, tx.Reconciled)
	require.Len(t, tx.Links, 1)
	assert.Equal(t, entity.MatchedByManual, tx.Links[0].MatchedBy)
	assert.Equal(t, 90, tx.Links[0].Confidence)
	assert.Equal(t, treasurer, tx.Links[0].LinkedBy)

	stored := e.reload(t, claim.ID)
	assert.Equal(t, entity.StatusReimbursed, stored.Status)
	assert.Equal(t, "tx-1", stored.ReimbursementRef)
	require.NotNil(t, stored.ReimbursedAt)

	types := e.events.types()
	assert.Contains(t, types, event.TypeTransactionLinked)
	assert.Contains(t, types, event.TypeClaimReimbursed)
}

func TestLinkService_Validation(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()
	e.transaction(t, "tx-1", "-10", "")

	tests := []struct {
		name string
		req  LinkRequest
	}{
		{name: "missing transaction", req: LinkRequest{Entity: entity.ClaimRef("c"), Actor: treasurer}},
		{name: "unknown entity type", req: LinkRequest{TransactionID: "tx-1", Entity: entity.EntityRef{Type: "invoice", ID: "i"}, Actor: treasurer}},
		{name: "confidence above range", req: LinkRequest{TransactionID: "tx-1", Entity: entity.ActivityRef("a"), Confidence: 101, Actor: treasurer}},
		{name: "confidence below range", req: LinkRequest{TransactionID: "tx-1", Entity: entity.ActivityRef("a"), Confidence: -1, Actor: treasurer}},
		{name: "unknown provenance", req: LinkRequest{TransactionID: "tx-1", Entity: entity.ActivityRef("a"), MatchedBy: "ai", Actor: treasurer}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.links.Link(ctx, tt.req)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}

	_, err := e.links.Link(ctx, LinkRequest{TransactionID: "tx-1", Entity: entity.ActivityRef("a"), Actor: requester})
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.Empty(t, e.reloadTx(t, "tx-1").Links)
}

func TestLinkService_OneClaimPerTransaction(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()
	first := e.approvedClaim(t, "20", "Tape")
	second := e.approvedClaim(t, "20", "More tape")
	e.transaction(t, "tx-1", "-20", "tape")

	_, err := e.links.Link(ctx, LinkRequest{TransactionID: "tx-1", Entity: first.Ref(), Actor: treasurer})
	require.NoError(t, err)

	_, err = e.links.Link(ctx, LinkRequest{TransactionID: "tx-1", Entity: second.Ref(), Actor: treasurer})
	var conflict *domain.LinkConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, first.ID, conflict.ExistingClaimID)
	assert.Equal(t, entity.StatusApproved, e.reload(t, second.ID).Status)

	tx, err := e.links.Link(ctx, LinkRequest{TransactionID: "tx-1", Entity: entity.ActivityRef("spring-cup"), Actor: treasurer})
	require.NoError(t, err)
	assert.Len(t, tx.Links, 2)
}

func TestLinkService_DeletedClaimCannotBeLinked(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()
	claim := e.submittedClaim(t, "20", "Tape")
	_, err := e.approvals.Delete(ctx, claim.ID, requester)
	require.NoError(t, err)
	e.transaction(t, "tx-1", "-20", "tape")

	_, err = e.links.Link(ctx, LinkRequest{TransactionID: "tx-1", Entity: claim.Ref(), Actor: treasurer})
	var terr *domain.InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "link", terr.Action)
	assert.False(t, e.reloadTx(t, "tx-1").Reconciled)
}

func TestLinkService_ClaimMustBeApprovedBeforeSettling(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()
	claim := e.submittedClaim(t, "120", "Nets")
	e.transaction(t, "tx-1", "-120", "Club nets order")

	_, err := e.links.Link(ctx, LinkRequest{TransactionID: "tx-1", Entity: claim.Ref(), Confidence: 100, Actor: treasurer})
	var terr *domain.InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, entity.StatusSubmitted, terr.From)
	assert.Empty(t, e.reloadTx(t, "tx-1").Links)
	assert.False(t, e.reloadTx(t, "tx-1").Reconciled)

	approved, err := e.approvals.Approve(ctx, claim.ID, treasurer)
	require.NoError(t, err)
	require.Equal(t, entity.StatusApproved, approved.Status)

	// the transaction is still free, so the approved claim gets settled
	report, err := e.recon.PerformAutoReconciliation(ctx, ReconciliationOptions{Actor: treasurer})
	require.NoError(t, err)
	require.Len(t, report.Linked, 1)
	assert.Equal(t, entity.StatusReimbursed, e.reload(t, claim.ID).Status)
	assert.True(t, e.reloadTx(t, "tx-1").Reconciled)
}

func TestLinkService_UnlinkRestoresState(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()
	claim := e.approvedClaim(t, "45.50", "Shuttlecocks")
	e.transaction(t, "tx-1", "-45.50", "shuttlecocks")

	_, err := e.links.Link(ctx, LinkRequest{TransactionID: "tx-1", Entity: claim.Ref(), Confidence: 100, Actor: treasurer})
	require.NoError(t, err)

	tx, err := e.links.Unlink(ctx, "tx-1", claim.Ref(), treasurer)
	require.NoError(t, err)
	assert.Empty(t, tx.Links)
	assert.False(t, tx.Reconciled)

	stored := e.reload(t, claim.ID)
	assert.Equal(t, entity.StatusApproved, stored.Status)
	assert.Empty(t, stored.ReimbursementRef)
	assert.Nil(t, stored.ReimbursedAt)
	assert.Contains(t, e.events.types(), event.TypeReimbursementReversed)

	_, err = e.links.Link(ctx, LinkRequest{TransactionID: "tx-1", Entity: claim.Ref(), Confidence: 100, Actor: treasurer})
	require.NoError(t, err)
	assert.Equal(t, entity.StatusReimbursed, e.reload(t, claim.ID).Status)
	assert.True(t, e.reloadTx(t, "tx-1").Reconciled)
}

func TestLinkService_UnlinkKeepsReimbursementWhileLinksRemain(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()
	claim := e.approvedClaim(t, "60", "Hall rental")
	e.transaction(t, "tx-1", "-30", "hall")
	e.transaction(t, "tx-2", "-30", "hall")

	for _, id := range []string{"tx-1", "tx-2"} {
		_, err := e.links.Link(ctx, LinkRequest{TransactionID: id, Entity: claim.Ref(), Actor: treasurer})
		require.NoError(t, err)
	}
	require.Equal(t, "tx-1", e.reload(t, claim.ID).ReimbursementRef)

	_, err := e.links.Unlink(ctx, "tx-1", claim.Ref(), treasurer)
	require.NoError(t, err)
	stored := e.reload(t, claim.ID)
	assert.Equal(t, entity.StatusReimbursed, stored.Status)
	assert.Equal(t, "tx-2", stored.ReimbursementRef)

	_, err = e.links.Unlink(ctx, "tx-2", claim.Ref(), treasurer)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusApproved, e.reload(t, claim.ID).Status)
}

func TestLinkService_UnlinkMissingLinkIsNoop(t *testing.T) {
	e := newEnv(t, 0)
	e.transaction(t, "tx-1", "-10", "")
	before := len(e.events.types())

	tx, err := e.links.Unlink(context.Background(), "tx-1", entity.ActivityRef("a"), treasurer)
	require.NoError(t, err)
	assert.Equal(t, int64(1), tx.Version)
	assert.Len(t, e.events.types(), before)
}

func TestLinkService_CascadeCleanup(t *testing.T) {
	e := newEnv(t, 2)
	ctx := context.Background()
	activity := entity.ActivityRef("spring-cup")
	for _, id := range []string{"tx-1", "tx-2", "tx-3"} {
		e.transaction(t, id, "-5", "entry fee")
		_, err := e.links.Link(ctx, LinkRequest{TransactionID: id, Entity: activity, Actor: treasurer})
		require.NoError(t, err)
	}
	_, err := e.links.Link(ctx, LinkRequest{TransactionID: "tx-3", Entity: entity.ActivityRef("summer-cup"), Actor: treasurer})
	require.NoError(t, err)

	removed, err := e.links.CascadeCleanup(ctx, activity, treasurer)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	assert.False(t, e.reloadTx(t, "tx-1").Reconciled)
	assert.True(t, e.reloadTx(t, "tx-3").Reconciled)

	removed, err = e.links.CascadeCleanup(ctx, activity, treasurer)
	require.NoError(t, err)
	assert.Zero(t, removed)

	_, err = e.links.CascadeCleanup(ctx, entity.EntityRef{}, treasurer)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestProperty_LinkIsIdempotent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		e := newEnv(t, 0)
		ctx := context.Background()
		e.transaction(t, "tx-1", "-12", "")

		activities := rapid.SliceOfN(rapid.SampledFrom([]string{"a1", "a2", "a3"}), 1, 12).Draw(rt, "links")
		distinct := make(map[string]bool)
		for _, a := range activities {
			confidence := rapid.IntRange(0, 100).Draw(rt, "confidence")
			_, err := e.links.Link(ctx, LinkRequest{TransactionID: "tx-1", Entity: entity.ActivityRef(a), Confidence: confidence, Actor: treasurer})
			if err != nil {
				rt.Fatalf("link %s: %v", a, err)
			}
			distinct[a] = true
		}

		tx := e.reloadTx(t, "tx-1")
		if len(tx.Links) != len(distinct) {
			rt.Fatalf("got %d links for %d distinct entities", len(tx.Links), len(distinct))
		}
		if int(tx.Version) != len(distinct)+1 {
			rt.Fatalf("repeated links bumped the version to %d", tx.Version)
		}
		if !tx.Reconciled {
			rt.Fatalf("linked transaction not reconciled")
		}
	})
}
