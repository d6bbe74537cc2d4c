package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/club-treasury/internal/container"
	httpapi "github.com/garyjia/club-treasury/internal/interfaces/http"
	"github.com/garyjia/club-treasury/pkg/utils"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API until interrupted",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := startContainer(ctx)
	if err != nil {
		return err
	}
	defer closeContainer(c)

	cfg := c.Config()
	logger := c.Logger()
	logger.Info("Starting club treasury",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("lark", cfg.Lark.Enabled),
		zap.Bool("amqp", cfg.AMQP.Enabled),
	)

	services := c.Services()
	opts := httpapi.Options{
		Statements: c.StatementParser(),
		Health:     healthFunc(c),
	}
	if m := c.Metrics(); m != nil {
		opts.MetricsHandler = m.Handler()
		opts.MetricsMiddleware = m.GinMiddleware()
	}

	server := httpapi.NewServer(httpapi.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		Mode:            cfg.Server.Mode,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		MaxUploadBytes:  cfg.Server.MaxUploadBytes,
		MetricsPath:     cfg.Metrics.Path,
	}, httpapi.Services{
		Approvals:      services.Approvals,
		Links:          services.Links,
		Reconciliation: services.Reconciliation,
		Documents:      services.Documents,
		Transactions:   services.Transactions,
		Settings:       services.Settings,
	}, opts, utils.NewKVLogger(logger.Named("http")))

	return server.Start(ctx)
}

// healthFunc flattens container health for the /health endpoint
func healthFunc(c *container.Container) httpapi.HealthFunc {
	return func(ctx context.Context) (bool, map[string]string) {
		status := c.Health(ctx)
		components := make(map[string]string, len(status.Components))
		for name, h := range status.Components {
			switch {
			case h.Healthy:
				components[name] = "ok"
			case h.Message != "":
				components[name] = h.Message
			default:
				components[name] = "unhealthy"
			}
		}
		return status.Overall, components
	}
}
