package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/anicoll/homie-bridge/internal/pkg/config"
	"github.com/anicoll/homie-bridge/internal/pkg/database"
	"github.com/anicoll/homie-bridge/internal/pkg/database/migration"
	"github.com/anicoll/homie-bridge/internal/pkg/discovery"
	"github.com/anicoll/homie-bridge/internal/pkg/entity"
	"github.com/anicoll/homie-bridge/internal/pkg/model"
	"github.com/anicoll/homie-bridge/internal/pkg/mqtt"
	"github.com/anicoll/homie-bridge/internal/pkg/publisher"
	"github.com/anicoll/homie-bridge/internal/pkg/router"
	"github.com/anicoll/homie-bridge/internal/pkg/server"
)

func BridgeCommand(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyFlags(c, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	return run(c.Context, cfg)
}

// applyFlags overrides the environment with flags given on the command line.
func applyFlags(c *cli.Context, cfg *config.Config) {
	setString := func(name string, dst *string) {
		if c.IsSet(name) {
			*dst = c.String(name)
		}
	}
	setDuration := func(name string, dst *time.Duration) {
		if c.IsSet(name) {
			*dst = c.Duration(name)
		}
	}

	setString("mqtt-host", &cfg.MQTT.Host)
	setString("mqtt-user", &cfg.MQTT.Username)
	setString("mqtt-pass", &cfg.MQTT.Password)
	setString("mqtt-client-id", &cfg.MQTT.ClientID)
	if c.IsSet("mqtt-qos") {
		cfg.MQTT.QoS = c.Int("mqtt-qos")
	}
	setString("discovery-prefix", &cfg.Discovery.Prefix)
	setDuration("settle-window", &cfg.Discovery.SettleWindow)
	setString("ha-discovery-prefix", &cfg.Discovery.HAPrefix)
	setString("database-url", &cfg.History.DatabaseURL)
	setDuration("history-retention", &cfg.History.Retention)
	setString("cleanup-schedule", &cfg.History.CleanupSchedule)
	setString("http-addr", &cfg.HTTPAddr)
	setString("log-level", &cfg.LogLevel)
}

func newLogger(level string) (*zap.Logger, error) {
	logCfg := zap.NewProductionConfig()
	var err error
	logCfg.Level, err = zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	logCfg.OutputPaths = []string{"stdout"}
	logCfg.ErrorOutputPaths = []string{"stdout"}
	logCfg.Sampling = nil
	return logCfg.Build(zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel))
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync() // flushes buffer, if any.
	}()
	zap.ReplaceGlobals(logger)

	svc, err := mqtt.Dial(cfg.MQTT)
	if err != nil {
		return err
	}
	defer svc.Disconnect()

	b := newBridge(cfg, svc, logger)

	var history HistoryStore
	if cfg.History.DatabaseURL != "" {
		if err := migration.Migrate(cfg.History.DatabaseURL); err != nil {
			return err
		}
		db, err := database.Connect(ctx, cfg.History.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		history = db
		if err := b.publisher.RegisterPublisher("postgres", db); err != nil {
			return err
		}
	}

	if cfg.Discovery.HAPrefix != "" {
		if err := b.publisher.RegisterPublisher("homeassistant", mqtt.NewDiscovery(svc, cfg.Discovery.HAPrefix)); err != nil {
			return err
		}
	}

	return serve(ctx, cfg, b, history)
}

// serve starts discovery and blocks until ctx is done or a component fails.
func serve(ctx context.Context, cfg *config.Config, b *bridge, history HistoryStore) error {
	if err := b.engine.Start(cfg.Discovery.Prefix, byte(cfg.MQTT.QoS)); err != nil {
		return err
	}
	defer func() {
		if err := b.engine.Stop(); err != nil {
			b.logger.Warn("failed to stop discovery", zap.Error(err))
		}
	}()
	b.logger.Info("discovery started", zap.String("prefix", cfg.Discovery.Prefix))

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return b.publisher.Run(ctx)
	})

	eg.Go(func() error {
		return b.runRegistrations(ctx)
	})

	if history != nil {
		eg.Go(func() error {
			return cronHistoryCleanup(ctx, history, cfg.History)
		})
	}

	srv := &http.Server{
		Handler:           server.New(b.entities, b.engine, history).Handler(),
		Addr:              cfg.HTTPAddr,
		WriteTimeout:      15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
	}
	eg.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		b.logger.Info("context done")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// bridge binds discovered nodes to entities and feeds them to the API and the
// registered publishers.
type bridge struct {
	engine        *discovery.Engine
	router        *router.Router
	entities      *entity.Registry
	publisher     *publisher.Publisher
	registrations chan model.EntityInfo
	logger        *zap.Logger
}

func newBridge(cfg *config.Config, transport discovery.Transport, logger *zap.Logger) *bridge {
	b := &bridge{
		engine: discovery.New(transport,
			discovery.WithLogger(logger),
			discovery.WithSettleWindow(cfg.Discovery.SettleWindow)),
		router:        router.New(),
		entities:      entity.NewRegistry(),
		publisher:     publisher.New(publisher.WithLogger(logger)),
		registrations: make(chan model.EntityInfo, 256),
		logger:        logger,
	}

	b.router.Register(model.TypeSwitch, b.bind(func(n *model.Node) (entity.Entity, error) {
		return entity.NewSwitch(n)
	}))
	// also routes "light-rgb"
	b.router.Register(model.TypeLight, b.bind(func(n *model.Node) (entity.Entity, error) {
		return entity.NewLight(n)
	}))
	b.router.Register(model.TypeSensor, b.bind(func(n *model.Node) (entity.Entity, error) {
		return entity.NewSensor(n)
	}))

	b.engine.OnNodeDiscovered(b.router.Dispatch)
	b.engine.OnNodeRemoved(b.unbind)
	b.engine.OnDeviceReady(func(d *model.Device) {
		b.logger.Info("device ready", zap.String("device", d.ID()), zap.Int("nodes", len(d.Nodes())))
	})
	return b
}

// bind returns a router handler adding the entity built for the node. It runs on the
// ingestion goroutine, so registrations with the publishers are queued.
func (b *bridge) bind(build func(*model.Node) (entity.Entity, error)) router.Handler {
	return func(n *model.Node) error {
		e, err := build(n)
		if err != nil {
			return err
		}
		b.entities.Add(e)
		b.publisher.Track(e.ID(), n)

		select {
		case b.registrations <- e.Info():
		default:
			b.logger.Warn("registration queue full", zap.String("entity", e.ID()))
		}
		return nil
	}
}

func (b *bridge) unbind(n *model.Node) {
	b.publisher.Untrack(n.EntityID())
	if e, ok := b.entities.Remove(n.EntityID()); ok {
		b.logger.Info("unbound entity", zap.String("entity", e.ID()), zap.String("node", n.EntityID()))
	}
}

func (b *bridge) runRegistrations(ctx context.Context) error {
	for {
		select {
		case info := <-b.registrations:
			if err := b.publisher.RegisterEntity(ctx, info); err != nil {
				b.logger.Error("failed to register entity", zap.String("entity", info.ID), zap.Error(err))
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func cleanupHistory(ctx context.Context, history HistoryStore, retention time.Duration) {
	removed, err := history.Cleanup(ctx, retention)
	if err != nil {
		zap.L().Error("error cleaning up database", zap.Error(err))
		return
	}
	zap.L().Info("cleaned up property history", zap.Int64("rows", removed))
}

func cronHistoryCleanup(ctx context.Context, history HistoryStore, cfg config.HistoryConfig) error {
	cleanupHistory(ctx, history, cfg.Retention)

	c := cron.New()
	if _, err := c.AddFunc(cfg.CleanupSchedule, func() {
		cleanupHistory(ctx, history, cfg.Retention)
	}); err != nil {
		return err
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
