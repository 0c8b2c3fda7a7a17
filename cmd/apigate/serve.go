package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/risecrm/apigate/internal/api"
	"github.com/risecrm/apigate/internal/auditlog"
	"github.com/risecrm/apigate/internal/config"
	"github.com/risecrm/apigate/internal/db"
	"github.com/risecrm/apigate/internal/envelope"
	"github.com/risecrm/apigate/internal/gateway"
	"github.com/risecrm/apigate/internal/metrics"
	"github.com/risecrm/apigate/internal/permission"
	"github.com/risecrm/apigate/internal/ratelimit"
	"github.com/risecrm/apigate/internal/repository"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		return err
	}

	boltdb, err := ratelimit.Open(cfg.Counters.Path)
	if err != nil {
		return err
	}
	defer boltdb.Close()

	limiter, err := ratelimit.NewLimiter(boltdb)
	if err != nil {
		return err
	}

	keys := repository.NewAPIKeyRepository(database.DB)
	groups := repository.NewGroupRepository(database.DB)
	sets := repository.NewSettingsRepository(database.DB)
	logs := repository.NewAPILogRepository(database.DB)

	resources := []api.Resource{
		{Name: "clients", Store: api.NewMemoryStore(), Unwrap: true},
		{Name: "invoices", Store: api.NewMemoryStore(), Unwrap: true},
		{Name: "projects", Store: api.NewMemoryStore(), Unwrap: true},
		{Name: "tasks", Store: api.NewMemoryStore(), Unwrap: true},
	}

	m := metrics.New()
	builder := &envelope.Builder{}
	routes := permission.NewRouteTable("/api/v1", api.ResourceNames(resources))

	pipeline := gateway.NewPipeline(gateway.Deps{
		Keys:     keys,
		Groups:   groups,
		Settings: sets,
		Limiter:  limiter,
		Routes:   routes,
		Engine:   permission.NewEngine(routes),
		Recorder: auditlog.NewRecorder(logs, sets, logger),
		Envelope: builder,
		Metrics:  m,
		Logger:   logger,
	})

	srv := api.NewServer(cfg.Server, pipeline, builder, m, resources, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
