package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  port: 9090
database:
  path: /tmp/treasury-test.db
approval:
  default_threshold: "500.00"
  double_approval_enabled: true
reconciliation:
  auto_link_score: 90
batch:
  chunk_size: 25
identity:
  roles:
    treasurer: [claims.approve, transactions.reconcile, transactions.import, settings.manage]
    member: []
  members:
    bob:
      roles: [treasurer]
      lark_open_id: ou_bob
    alice:
      roles: [member]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/tmp/treasury-test.db", cfg.Database.Path)
	assert.Equal(t, 5*time.Second, cfg.Database.BusyTimeout)
	assert.Equal(t, "500", cfg.Approval.ApprovalThreshold().String())
	assert.Equal(t, 90.0, cfg.Reconciliation.AutoLinkScore)
	assert.Equal(t, 35.0, cfg.Reconciliation.ReviewScore)
	assert.Equal(t, 25, cfg.Batch.ChunkSize)
	assert.Equal(t, "treasury.events", cfg.AMQP.Exchange)

	require.Contains(t, cfg.Identity.Members, "bob")
	assert.Equal(t, "ou_bob", cfg.Identity.Members["bob"].LarkOpenID)
	assert.Equal(t, []string{"treasurer"}, cfg.Identity.Members["bob"].Roles)
	assert.Len(t, cfg.Identity.Roles["treasurer"], 4)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "650", cfg.Approval.DefaultThreshold)
	assert.True(t, cfg.Approval.DoubleApprovalEnabled)
	assert.Equal(t, 0.10, cfg.Reconciliation.AmountTolerance)
	assert.Equal(t, 60, cfg.Reconciliation.DateWindowDays)
	assert.Equal(t, 500, cfg.Batch.ChunkSize)
	assert.False(t, cfg.Lark.Enabled)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("TREASURY_BATCH_CHUNK_SIZE", "7")
	t.Setenv("LARK_APP_ID", "cli_123")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Batch.ChunkSize)
	assert.Equal(t, "cli_123", cfg.Lark.AppID)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "server.port"},
		{name: "threshold not a number", mutate: func(c *Config) { c.Approval.DefaultThreshold = "lots" }, wantErr: "default_threshold"},
		{name: "negative threshold", mutate: func(c *Config) { c.Approval.DefaultThreshold = "-1" }, wantErr: "negative"},
		{name: "review above auto-link", mutate: func(c *Config) { c.Reconciliation.ReviewScore = 95 }, wantErr: "review_score"},
		{name: "bad pattern", mutate: func(c *Config) { c.Reconciliation.ReferencePattern = "(" }, wantErr: "reference_pattern"},
		{name: "zero chunk", mutate: func(c *Config) { c.Batch.ChunkSize = 0 }, wantErr: "chunk_size"},
		{name: "unknown role", mutate: func(c *Config) {
			c.Identity.Members = map[string]MemberConfig{"dave": {Roles: []string{"ghost"}}}
		}, wantErr: "unknown role"},
		{name: "lark without credentials", mutate: func(c *Config) { c.Lark.Enabled = true }, wantErr: "lark.app_id"},
		{name: "amqp without url", mutate: func(c *Config) { c.AMQP.Enabled = true }, wantErr: "amqp.url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
