package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/club-treasury/internal/application/batch"
	"github.com/garyjia/club-treasury/internal/application/matching"
	"github.com/garyjia/club-treasury/internal/domain/entity"
	"github.com/garyjia/club-treasury/internal/domain/event"
	"github.com/garyjia/club-treasury/internal/infrastructure/persistence/memory"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// fakeGate grants capabilities per actor and counts questions
type fakeGate struct {
	mu     sync.Mutex
	grants map[string]map[string]bool
	calls  int
}

func newGate() *fakeGate {
	return &fakeGate{grants: make(map[string]map[string]bool)}
}

func (g *fakeGate) grant(actor string, capabilities ...string) *fakeGate {
	if g.grants[actor] == nil {
		g.grants[actor] = make(map[string]bool)
	}
	for _, c := range capabilities {
		g.grants[actor][c] = true
	}
	return g
}

func (g *fakeGate) HasCapability(_ context.Context, actor, capability string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.grants[actor][capability], nil
}

// recordingPublisher keeps every dispatched event
type recordingPublisher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (p *recordingPublisher) Dispatch(_ context.Context, evt *event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) types() []event.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]event.Type, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// memBlobs is an in-memory blob store
type memBlobs struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newBlobs() *memBlobs { return &memBlobs{files: make(map[string][]byte)} }

func (b *memBlobs) Upload(_ context.Context, content []byte, path string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.files[path] = append([]byte(nil), content...)
	return path, nil
}

func (b *memBlobs) Download(_ context.Context, handle string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	content, ok := b.files[handle]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", handle)
	}
	return content, nil
}

func (b *memBlobs) PublicURL(handle string) string { return "/files/" + handle }

func (b *memBlobs) Delete(_ context.Context, handle string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.files, handle)
	return nil
}

func (b *memBlobs) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.files)
}

// env wires every service on one memory store
type env struct {
	store     *memory.Store
	gate      *fakeGate
	events    *recordingPublisher
	blobs     *memBlobs
	runner    *batch.Runner
	approvals ApprovalService
	links     LinkService
	recon     ReconciliationService
	docs      DocumentService
	txs       TransactionService
	settings  SettingsService
}

const (
	requester = "alice"
	treasurer = "bob"
	president = "carol"
)

func newEnv(t *testing.T, chunkSize int) *env {
	t.Helper()

	store := memory.NewStore()
	gate := newGate().
		grant(requester, entity.CapabilityApproveClaims).
		grant(treasurer, entity.CapabilityApproveClaims, entity.CapabilityReconcile, entity.CapabilityImportTransactions, entity.CapabilityManageSettings).
		grant(president, entity.CapabilityApproveClaims).
		grant(SystemActor, entity.CapabilityReconcile, entity.CapabilityImportTransactions)
	events := &recordingPublisher{}
	blobs := newBlobs()
	runner := batch.NewRunner(store, chunkSize, nopLogger{})

	planner, err := matching.NewPlanner(matching.DefaultConfig())
	require.NoError(t, err)

	settings := NewSettingsService(store.Settings(), entity.ApprovalThreshold{
		Amount:                decimal.NewFromInt(650),
		DoubleApprovalEnabled: true,
	}, gate, nopLogger{})

	return &env{
		store:     store,
		gate:      gate,
		events:    events,
		blobs:     blobs,
		runner:    runner,
		settings:  settings,
		approvals: NewApprovalService(store.Claims(), store.Transactions(), settings, gate, store, runner, events, nopLogger{}),
		links:     NewLinkService(store.Claims(), store.Transactions(), store, gate, runner, events, nopLogger{}),
		recon:     NewReconciliationService(store.Claims(), store.Transactions(), planner, gate, runner, events, nopLogger{}),
		docs:      NewDocumentService(store.Claims(), blobs, store, runner, events, nopLogger{}),
		txs:       NewTransactionService(store.Transactions(), gate, runner, events, nopLogger{}),
	}
}

// submittedClaim creates and submits a claim for requester
func (e *env) submittedClaim(t *testing.T, amount, description string) *entity.ExpenseClaim {
	t.Helper()
	ctx := context.Background()
	claim, err := e.approvals.CreateDraft(ctx, CreateClaimInput{
		RequesterID: requester,
		Description: description,
		Amount:      decimal.RequireFromString(amount),
		ExpenseDate: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	claim, err = e.approvals.Submit(ctx, claim.ID, requester)
	require.NoError(t, err)
	return claim
}

// approvedClaim returns a claim in approuve below the double approval threshold
func (e *env) approvedClaim(t *testing.T, amount, description string) *entity.ExpenseClaim {
	t.Helper()
	claim := e.submittedClaim(t, amount, description)
	claim, err := e.approvals.Approve(context.Background(), claim.ID, treasurer)
	require.NoError(t, err)
	require.Equal(t, entity.StatusApproved, claim.Status)
	return claim
}

func (e *env) transaction(t *testing.T, id, amount, communication string) *entity.BankTransaction {
	t.Helper()
	tx := &entity.BankTransaction{
		ID:            id,
		ExecutionDate: time.Date(2025, 4, 3, 0, 0, 0, 0, time.UTC),
		Amount:        decimal.RequireFromString(amount),
		Communication: communication,
	}
	require.NoError(t, e.store.Transactions().Create(context.Background(), tx))
	return tx
}

func (e *env) reload(t *testing.T, claimID string) *entity.ExpenseClaim {
	t.Helper()
	c, err := e.store.Claims().GetByID(context.Background(), claimID)
	require.NoError(t, err)
	return c
}

func (e *env) reloadTx(t *testing.T, id string) *entity.BankTransaction {
	t.Helper()
	tx, err := e.store.Transactions().GetByID(context.Background(), id)
	require.NoError(t, err)
	return tx
}
