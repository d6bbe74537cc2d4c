// Package container wires the treasury's dependencies and owns their lifecycle.
package container

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garyjia/club-treasury/internal/application/batch"
	"github.com/garyjia/club-treasury/internal/application/dispatcher"
	"github.com/garyjia/club-treasury/internal/application/matching"
	"github.com/garyjia/club-treasury/internal/application/port"
	"github.com/garyjia/club-treasury/internal/application/service"
	"github.com/garyjia/club-treasury/internal/config"
	"github.com/garyjia/club-treasury/internal/domain/entity"
	"github.com/garyjia/club-treasury/internal/infrastructure/bankfeed"
	"github.com/garyjia/club-treasury/internal/infrastructure/external/amqp"
	"github.com/garyjia/club-treasury/internal/infrastructure/external/lark"
	"github.com/garyjia/club-treasury/internal/infrastructure/identity"
	"github.com/garyjia/club-treasury/internal/infrastructure/persistence/repository"
	"github.com/garyjia/club-treasury/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/club-treasury/internal/infrastructure/storage"
	"github.com/garyjia/club-treasury/internal/metrics"
	"github.com/garyjia/club-treasury/pkg/database"
	"github.com/garyjia/club-treasury/pkg/utils"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	Conn      *database.DB
	TxManager *sqlite.DB
	// Applied is the number of migrations run while opening
	Applied int
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Claims       port.ClaimRepository
	Transactions port.TransactionRepository
	Settings     port.SettingsRepository
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Approvals      service.ApprovalService
	Links          service.LinkService
	Reconciliation service.ReconciliationService
	Documents      service.DocumentService
	Transactions   service.TransactionService
	Settings       service.SettingsService
}

// SinkBundle holds the event subscribers. Disabled sinks stay nil.
type SinkBundle struct {
	Notifier  *lark.Notifier
	Publisher *amqp.Publisher
	Metrics   *metrics.Metrics
}

// ProvideDatabase opens the SQLite database and applies pending migrations.
func ProvideDatabase(cfg *config.DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}

	conn, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		BusyTimeout:     cfg.BusyTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	applied, err := database.NewMigrator(conn, logger).Run()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		Conn:      conn,
		TxManager: sqlite.NewDB(conn.DB, logger),
		Applied:   applied,
	}, nil
}

// ProvideRepositories creates all repositories on the transaction manager.
func ProvideRepositories(db *sqlite.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	return &RepositoryBundle{
		Claims:       repository.NewClaimRepository(db, logger),
		Transactions: repository.NewTransactionRepository(db, logger),
		Settings:     repository.NewSettingsRepository(db, logger),
	}, nil
}

// ProvideGate builds the role based permission gate from configuration.
func ProvideGate(cfg *config.IdentityConfig, logger *zap.Logger) (*identity.Gate, error) {
	members := make(map[string]identity.Member, len(cfg.Members))
	for id, m := range cfg.Members {
		members[id] = identity.Member{Roles: m.Roles, LarkOpenID: m.LarkOpenID}
	}
	return identity.NewGate(cfg.Roles, members, logger)
}

// ProvidePlanner builds the reconciliation planner from configured thresholds.
func ProvidePlanner(cfg *config.ReconciliationConfig) (*matching.Planner, error) {
	return matching.NewPlanner(matching.Config{
		AmountTolerance:  decimal.NewFromFloat(cfg.AmountTolerance),
		AmountWeight:     cfg.AmountWeight,
		KeywordWeight:    cfg.KeywordWeight,
		DateWeight:       cfg.DateWeight,
		DateWindowDays:   cfg.DateWindowDays,
		AutoLinkScore:    cfg.AutoLinkScore,
		ReviewScore:      cfg.ReviewScore,
		ReferencePattern: cfg.ReferencePattern,
	})
}

// ProvideStatementParser returns the bank statement reader. The first sheet is used.
func ProvideStatementParser(logger *zap.Logger) *bankfeed.Parser {
	return bankfeed.NewParser("", logger)
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) dispatcher.Dispatcher {
	return dispatcher.NewDispatcher(dispatcher.WithLogger(utils.NewKVLogger(logger.Named("dispatcher"))))
}

// ServiceDeps contains dependencies for creating services.
type ServiceDeps struct {
	Repos     *RepositoryBundle
	TxManager port.TransactionManager
	Gate      port.PermissionGate
	Blobs     port.BlobStore
	Planner   *matching.Planner
	Publisher port.EventPublisher
	Approval  *config.ApprovalConfig
	ChunkSize int
	Logger    *zap.Logger
}

// ProvideServices creates all application services.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil || deps.Repos == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.Planner == nil {
		return nil, fmt.Errorf("matching planner is required")
	}

	log := utils.NewKVLogger(deps.Logger.Named("service"))
	runner := batch.NewRunner(deps.TxManager, deps.ChunkSize, utils.NewKVLogger(deps.Logger.Named("batch")))
	repos := deps.Repos

	settings := service.NewSettingsService(repos.Settings, entity.ApprovalThreshold{
		Amount:                deps.Approval.ApprovalThreshold(),
		DoubleApprovalEnabled: deps.Approval.DoubleApprovalEnabled,
	}, deps.Gate, log)

	return &ServiceBundle{
		Approvals:      service.NewApprovalService(repos.Claims, repos.Transactions, settings, deps.Gate, deps.TxManager, runner, deps.Publisher, log),
		Links:          service.NewLinkService(repos.Claims, repos.Transactions, deps.TxManager, deps.Gate, runner, deps.Publisher, log),
		Reconciliation: service.NewReconciliationService(repos.Claims, repos.Transactions, deps.Planner, deps.Gate, runner, deps.Publisher, log),
		Documents:      service.NewDocumentService(repos.Claims, deps.Blobs, deps.TxManager, runner, deps.Publisher, log),
		Transactions:   service.NewTransactionService(repos.Transactions, deps.Gate, runner, deps.Publisher, log),
		Settings:       settings,
	}, nil
}

// ProvideSinks connects the enabled event sinks and subscribes them to the
// dispatcher. Lark only receives the events it renders; the broker and the
// metrics collectors receive everything. Lark and the broker talk to remote
// services and run detached so they never hold up a request.
func ProvideSinks(cfg *config.Config, disp dispatcher.Dispatcher, directory port.Directory, logger *zap.Logger) (*SinkBundle, error) {
	sinks := &SinkBundle{}

	if cfg.Lark.Enabled {
		sdk := lark.NewSDKClient(lark.Config{
			AppID:     cfg.Lark.AppID,
			AppSecret: cfg.Lark.AppSecret,
			BaseURL:   cfg.Lark.BaseURL,
		}, logger)
		sinks.Notifier = lark.NewNotifier(lark.NewMessenger(sdk, logger), directory, logger)
		for _, t := range sinks.Notifier.Events() {
			disp.SubscribeDetached(t, "lark", sinks.Notifier.HandleEvent)
		}
		logger.Info("Lark notifications enabled", zap.String("app_id", sdk.GetAppID()))
	}

	if cfg.AMQP.Enabled {
		publisher, err := amqp.Dial(amqp.Config{
			URL:         cfg.AMQP.URL,
			Exchange:    cfg.AMQP.Exchange,
			DialTimeout: cfg.AMQP.DialTimeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect event broker: %w", err)
		}
		sinks.Publisher = publisher
		disp.SubscribeDetached(dispatcher.AllEvents, "amqp", publisher.HandleEvent)
	}

	if cfg.Metrics.Enabled {
		sinks.Metrics = metrics.New()
		disp.SubscribeAll("metrics", sinks.Metrics.HandleEvent)
	}

	return sinks, nil
}

// ProvideBlobStore creates the local document store.
func ProvideBlobStore(cfg *config.StorageConfig, logger *zap.Logger) *storage.LocalBlobStore {
	return storage.NewLocalBlobStore(cfg.BaseDir, cfg.BaseURL, logger)
}
