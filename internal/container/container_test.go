package container

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/club-treasury/internal/application/service"
	"github.com/garyjia/club-treasury/internal/config"
	"github.com/garyjia/club-treasury/internal/domain"
	"github.com/garyjia/club-treasury/internal/domain/entity"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)

	dir := t.TempDir()
	cfg.Database.Path = filepath.Join(dir, "treasury.db")
	cfg.Storage.BaseDir = filepath.Join(dir, "documents")
	cfg.Identity = config.IdentityConfig{
		Roles: map[string][]string{"treasurer": {"*"}},
		Members: map[string]config.MemberConfig{
			"bob": {Roles: []string{"treasurer"}},
		},
	}
	return cfg
}

func TestNewContainer(t *testing.T) {
	_, err := NewContainer(nil, zap.NewNop())
	assert.Error(t, err)

	_, err = NewContainer(testConfig(t), nil)
	assert.Error(t, err)

	cfg := testConfig(t)
	cfg.Batch.ChunkSize = 0
	_, err = NewContainer(cfg, zap.NewNop())
	assert.ErrorContains(t, err, "chunk_size")
}

func TestContainerLifecycle(t *testing.T) {
	c, err := NewContainer(testConfig(t), zap.NewNop())
	require.NoError(t, err)

	health := c.Health(context.Background())
	assert.False(t, health.Overall)

	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	assert.True(t, c.Ready())
	assert.Error(t, c.Start(ctx))

	health = c.Health(ctx)
	assert.True(t, health.Overall, health.Components)
	assert.Equal(t, "sinks: metrics", health.Components["dispatcher"].Message)
	assert.NotNil(t, c.Metrics())
	assert.NotNil(t, c.StatementParser())

	services := c.Services()
	claim, err := services.Approvals.CreateDraft(ctx, service.CreateClaimInput{
		RequesterID: "alice",
		Description: "Court rental",
		Amount:      decimal.RequireFromString("80"),
		ExpenseDate: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	claim, err = services.Approvals.Submit(ctx, claim.ID, "alice")
	require.NoError(t, err)
	claim, err = services.Approvals.Approve(ctx, claim.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusApproved, claim.Status)

	require.NoError(t, c.Close())
	assert.False(t, c.Ready())
	assert.Error(t, c.Close())
	assert.Error(t, c.Start(ctx))
}

func TestContainerReopensMigratedDatabase(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	first, err := NewContainer(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, first.Start(ctx))
	require.NoError(t, first.Services().Settings.UpdateApprovalThreshold(ctx, "bob", entity.ApprovalThreshold{
		Amount:                decimal.NewFromInt(900),
		DoubleApprovalEnabled: true,
	}))
	require.NoError(t, first.Close())

	second, err := NewContainer(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, second.Start(ctx))
	defer second.Close()

	threshold, err := second.Services().Settings.ApprovalThreshold(ctx)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(900).Equal(threshold.Amount))
}

func TestConcurrentApprovalsOnSQLite(t *testing.T) {
	cfg := testConfig(t)
	cfg.Identity.Members["carol"] = config.MemberConfig{Roles: []string{"treasurer"}}
	ctx := context.Background()

	c, err := NewContainer(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))
	defer c.Close()

	approvals := c.Services().Approvals
	approvers := []string{"bob", "carol"}

	for round := 0; round < 5; round++ {
		claim, err := approvals.CreateDraft(ctx, service.CreateClaimInput{
			RequesterID: "alice",
			Description: "Tournament hall deposit",
			Amount:      decimal.RequireFromString("800"),
			ExpenseDate: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
		claim, err = approvals.Submit(ctx, claim.ID, "alice")
		require.NoError(t, err)
		require.True(t, claim.RequiresDoubleApproval)

		errs := make([]error, len(approvers))
		start := make(chan struct{})
		var wg sync.WaitGroup
		for i, actor := range approvers {
			wg.Add(1)
			go func(i int, actor string) {
				defer wg.Done()
				<-start
				_, errs[i] = approvals.Approve(ctx, claim.ID, actor)
			}(i, actor)
		}
		close(start)
		wg.Wait()

		succeeded := 0
		for i, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assert.ErrorIs(t, err, domain.ErrConcurrentModification, approvers[i])
		}

		stored, err := approvals.Get(ctx, claim.ID)
		require.NoError(t, err)
		require.Contains(t, approvers, stored.FirstApproverID)
		assert.NotEqual(t, stored.FirstApproverID, stored.SecondApproverID)

		switch succeeded {
		case 2:
			assert.Equal(t, entity.StatusApproved, stored.Status)
			assert.ElementsMatch(t, approvers, []string{stored.FirstApproverID, stored.SecondApproverID})
		case 1:
			assert.Equal(t, entity.StatusAwaitingValidation, stored.Status)
			assert.Empty(t, stored.SecondApproverID)
		default:
			t.Fatalf("round %d: no approval went through: %v", round, errs)
		}
	}
}
