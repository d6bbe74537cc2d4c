package container

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/garyjia/club-treasury/internal/application/dispatcher"
	"github.com/garyjia/club-treasury/internal/config"
	"github.com/garyjia/club-treasury/internal/infrastructure/bankfeed"
	"github.com/garyjia/club-treasury/internal/infrastructure/identity"
	"github.com/garyjia/club-treasury/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/club-treasury/internal/infrastructure/storage"
	"github.com/garyjia/club-treasury/internal/metrics"
	"github.com/garyjia/club-treasury/pkg/database"
)

// Container manages all application dependencies and lifecycle.
// Components start in dependency order and close in reverse order.
type Container struct {
	config *config.Config
	logger *zap.Logger

	// Infrastructure - Data
	conn         *database.DB
	db           *sqlite.DB
	repositories *RepositoryBundle

	// Infrastructure - Identity and storage
	gate       *identity.Gate
	blobs      *storage.LocalBlobStore
	statements *bankfeed.Parser

	// Application
	dispatcher dispatcher.Dispatcher
	sinks      *SinkBundle
	services   *ServiceBundle

	// Lifecycle
	mu     sync.RWMutex
	ready  atomic.Bool
	closed atomic.Bool
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components:
// 1. Database, migrations and repositories
// 2. Permission gate, document storage and statement parser
// 3. Event dispatcher and its sinks
// 4. Application services
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.logger.Info("Starting container initialization")

	if err := c.initDatabase(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized")

	if err := c.initInfrastructure(); err != nil {
		c.teardown()
		return fmt.Errorf("failed to initialize infrastructure: %w", err)
	}
	c.logger.Info("Identity and storage initialized")

	if err := c.initDispatcher(); err != nil {
		c.teardown()
		return fmt.Errorf("failed to initialize dispatcher: %w", err)
	}
	c.logger.Info("Dispatcher initialized")

	if err := c.initServices(); err != nil {
		c.teardown()
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	c.logger.Info("Application services initialized")

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")
	errs := c.teardown()

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors", len(errs))
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// teardown releases whatever has been initialized so far
func (c *Container) teardown() []error {
	var errs []error

	// Step 1: drain async handlers before their sinks go away
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		} else {
			c.logger.Info("Dispatcher closed")
		}
		c.dispatcher = nil
	}

	// Step 2: broker connection
	if c.sinks != nil && c.sinks.Publisher != nil {
		if err := c.sinks.Publisher.Close(); err != nil {
			c.logger.Error("Failed to close event broker", zap.Error(err))
			errs = append(errs, fmt.Errorf("close event broker: %w", err))
		}
		c.sinks.Publisher = nil
	}

	// Step 3: database
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
		c.conn = nil
	}

	return errs
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	mark := func(name string, healthy bool, msg string) {
		status.Components[name] = ComponentHealth{Healthy: healthy, Message: msg}
		if !healthy {
			status.Overall = false
		}
	}

	if c.conn == nil {
		mark("database", false, "not initialized")
	} else if err := c.conn.PingContext(ctx); err != nil {
		mark("database", false, fmt.Sprintf("ping failed: %v", err))
	} else {
		mark("database", true, "")
	}

	if c.dispatcher == nil {
		mark("dispatcher", false, "not initialized")
	} else {
		mark("dispatcher", true, "sinks: "+strings.Join(c.sinkNames(), ", "))
	}

	if c.services == nil {
		mark("services", false, "not initialized")
	} else {
		mark("services", true, "")
	}

	return status
}

// initDatabase opens the database and creates the repositories.
func (c *Container) initDatabase() error {
	bundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}
	c.conn = bundle.Conn
	c.db = bundle.TxManager
	if bundle.Applied > 0 {
		c.logger.Info("Migrations applied", zap.Int("count", bundle.Applied))
	}

	repos, err := ProvideRepositories(c.db, c.logger)
	if err != nil {
		c.teardown()
		return err
	}
	c.repositories = repos
	return nil
}

// initInfrastructure creates the permission gate, blob store and statement parser.
func (c *Container) initInfrastructure() error {
	gate, err := ProvideGate(&c.config.Identity, c.logger)
	if err != nil {
		return err
	}
	c.gate = gate
	c.blobs = ProvideBlobStore(&c.config.Storage, c.logger)
	c.statements = ProvideStatementParser(c.logger)
	return nil
}

// initDispatcher creates the dispatcher and subscribes the enabled sinks.
func (c *Container) initDispatcher() error {
	c.dispatcher = ProvideDispatcher(c.logger)

	sinks, err := ProvideSinks(c.config, c.dispatcher, c.gate, c.logger)
	if err != nil {
		return err
	}
	c.sinks = sinks
	c.logger.Info("Event sinks subscribed", zap.Strings("sinks", c.sinkNames()))
	return nil
}

// sinkNames lists the catch-all sinks plus Lark, which subscribes per event type.
func (c *Container) sinkNames() []string {
	var names []string
	if c.sinks != nil && c.sinks.Notifier != nil {
		names = append(names, "lark")
	}
	for _, h := range c.dispatcher.ListHandlers(dispatcher.AllEvents) {
		names = append(names, h.Name)
	}
	return names
}

// initServices creates all application services.
func (c *Container) initServices() error {
	planner, err := ProvidePlanner(&c.config.Reconciliation)
	if err != nil {
		return err
	}

	services, err := ProvideServices(&ServiceDeps{
		Repos:     c.repositories,
		TxManager: c.db,
		Gate:      c.gate,
		Blobs:     c.blobs,
		Planner:   planner,
		Publisher: c.dispatcher,
		Approval:  &c.config.Approval,
		ChunkSize: c.config.Batch.ChunkSize,
		Logger:    c.logger,
	})
	if err != nil {
		return err
	}
	c.services = services
	return nil
}

// Getters for accessing container components

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// StatementParser returns the bank statement reader.
func (c *Container) StatementParser() *bankfeed.Parser {
	return c.statements
}

// Metrics returns the Prometheus collectors, nil when disabled.
func (c *Container) Metrics() *metrics.Metrics {
	if c.sinks == nil {
		return nil
	}
	return c.sinks.Metrics
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *config.Config {
	return c.config
}
