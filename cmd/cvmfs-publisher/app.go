package main

import (
	"context"
	"fmt"
	"time"

	"github.com/infn-datacloud/cvmfs-publisher/internal/alerting"
	"github.com/infn-datacloud/cvmfs-publisher/internal/broker"
	"github.com/infn-datacloud/cvmfs-publisher/internal/config"
	"github.com/infn-datacloud/cvmfs-publisher/internal/cvmfs"
	"github.com/infn-datacloud/cvmfs-publisher/internal/eventbus"
	"github.com/infn-datacloud/cvmfs-publisher/internal/handler"
	"github.com/infn-datacloud/cvmfs-publisher/internal/objectstore"
	"github.com/infn-datacloud/cvmfs-publisher/internal/reconciler"
	"github.com/infn-datacloud/cvmfs-publisher/internal/secrets"
	"github.com/infn-datacloud/cvmfs-publisher/internal/server"
	"github.com/infn-datacloud/cvmfs-publisher/internal/service"
	"github.com/infn-datacloud/cvmfs-publisher/internal/staging"
	"github.com/infn-datacloud/cvmfs-publisher/internal/storage"
	"github.com/infn-datacloud/cvmfs-publisher/internal/supervisor"
	"github.com/infn-datacloud/cvmfs-publisher/internal/transaction"
	"github.com/infn-datacloud/cvmfs-publisher/pkg/command"
	"github.com/infn-datacloud/cvmfs-publisher/pkg/logger"
)

// app holds what every command shares: configuration, logging, the event
// bus with its alert and outcome consumers, and the status store.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	bus      eventbus.EventBus
	store    *storage.MemoryStore
	notifier *alerting.Notifier
	runner   command.Runner
}

func newApp(ctx context.Context, configPath string, components config.Component) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(components); err != nil {
		return nil, err
	}

	log := logger.NewWithOptions(logger.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	runner := command.NewExecRunner()
	store := storage.NewMemoryStore(0)
	bus := eventbus.New(log, &eventbus.Config{
		ChannelBuffer: cfg.EventBus.ChannelBufferSize,
		MaxRetries:    cfg.EventBus.MaxRetries,
		RetryDelay:    time.Second,
	})

	var sender alerting.Sender
	if cfg.Alerting.Enabled() {
		sender = alerting.NewZabbixSender(runner, cfg.Alerting)
	} else {
		log.Info(ctx, "Alert delivery disabled, alerts are only logged")
	}

	if err := bus.Subscribe(eventbus.EventTypeAlert, alerting.NewConsumer(sender, cfg.Alerting, log)); err != nil {
		return nil, err
	}
	if err := bus.Subscribe(eventbus.EventTypeOutcome, eventbus.NewOutcomeConsumer(store, log, 1)); err != nil {
		return nil, err
	}
	// The bus outlives the signal context so alerts raised while the other
	// components stop are still delivered; close shuts it down.
	if err := bus.Start(context.Background()); err != nil {
		return nil, err
	}

	return &app{
		cfg:      cfg,
		log:      log,
		bus:      bus,
		store:    store,
		notifier: alerting.NewNotifier(bus),
		runner:   runner,
	}, nil
}

// fail logs and alerts an unrecoverable error and hands it back.
func (a *app) fail(ctx context.Context, msg string, err error) error {
	a.log.Error(ctx, msg, "error", err)
	a.notifier.Notify(ctx, fmt.Sprintf("%s: %v", msg, err))
	return fmt.Errorf("%s: %w", msg, err)
}

// close flushes buffered alerts and outcomes.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration)
	defer cancel()

	if err := a.bus.Shutdown(ctx); err != nil {
		a.log.Error(ctx, "Event bus shutdown error", "error", err)
	}
	if dropped := a.bus.Dropped(); dropped > 0 {
		a.log.Warn(ctx, "Events dropped while the bus was full", "count", dropped)
	}
	a.log.Info(ctx, "Stopped")
	_ = a.log.Sync()
}

func (a *app) dialer() (*broker.Dialer, error) {
	return broker.NewDialer(a.cfg.Broker, a.cfg.TLS, a.log)
}

// checkBroker dials once so an unreachable broker stops startup.
func (a *app) checkBroker(ctx context.Context, dialer *broker.Dialer) error {
	conn, err := dialer.Dial(ctx)
	if err != nil {
		return err
	}
	return conn.Close()
}

func (a *app) backend() *cvmfs.Server {
	return cvmfs.NewServer(a.runner, a.cfg.CVMFS, a.log)
}

func (a *app) supervisor(ctx context.Context, dialer *broker.Dialer) (*supervisor.Supervisor, error) {
	discovery, err := broker.NewDiscovery(a.cfg.Broker, a.cfg.TLS)
	if err != nil {
		return nil, err
	}

	awsCfg, err := objectstore.LoadAWSConfig(ctx, a.cfg.ObjectStore)
	if err != nil {
		return nil, err
	}
	store := objectstore.NewS3Store(objectstore.NewS3Client(awsCfg, a.cfg.ObjectStore.Endpoint))

	parser, err := service.NewNotificationParser()
	if err != nil {
		return nil, err
	}
	dispatcher := service.NewDispatcher(a.cfg, parser, staging.New(a.cfg.CVMFS.StagingRoot), store, a.log)
	consumer := broker.NewConsumer(dialer, dispatcher.HandleMessage, a.notifier, a.log, a.cfg.Broker.PrefetchCount)

	return supervisor.New(
		supervisor.Config{
			Interval: a.cfg.Supervisor.DiscoveryInterval.Duration,
			Excluded: a.cfg.Broker.ExcludedQueues,
		},
		discovery,
		consumer.Consume,
		a.notifier,
		a.store,
		a.log,
	), nil
}

func (a *app) reconciler(backend *cvmfs.Server) *reconciler.Reconciler {
	return reconciler.New(
		a.cfg,
		staging.New(a.cfg.CVMFS.StagingRoot),
		transaction.NewManager(backend, a.log),
		a.notifier,
		eventbus.NewRecorder(a.bus),
		a.log,
	)
}

func (a *app) provisioner(ctx context.Context, dialer *broker.Dialer, backend *cvmfs.Server) (*broker.Consumer, error) {
	vault, err := secrets.NewVaultStore(a.cfg.Vault, a.log)
	if err != nil {
		return nil, err
	}

	awsCfg, err := objectstore.LoadAWSConfig(ctx, a.cfg.ObjectStore)
	if err != nil {
		return nil, err
	}
	topics := objectstore.NewTopicRegistrar(awsCfg, a.cfg.ObjectStore.Endpoint, a.cfg.Broker, a.log)
	queues := broker.NewQueueProvisioner(dialer, a.cfg.Broker.Exchange, a.log)

	gate := service.NewProvisioner(a.cfg, vault, backend, topics, queues, a.log)
	return broker.NewConsumer(dialer, gate.HandleMessage, a.notifier, a.log, a.cfg.Broker.PrefetchCount), nil
}

// consumeLoop keeps a single unsupervised queue consumed, reconnecting
// after the broker retry delay.
func (a *app) consumeLoop(ctx context.Context, consumer *broker.Consumer, queue string) error {
	for {
		err := consumer.Consume(ctx, queue)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			a.log.Error(logger.WithQueue(ctx, queue), "Consumer stopped", "error", err)
			a.notifier.Notify(logger.WithQueue(ctx, queue), fmt.Sprintf("consumer for %s stopped: %v", queue, err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(a.cfg.Broker.RetryDelay.Duration):
		}
	}
}

// serveHTTP runs the status endpoint until ctx is done. It does nothing when
// no port is configured.
func (a *app) serveHTTP(ctx context.Context) error {
	if a.cfg.Server.Port == "" {
		return nil
	}

	srv := server.New(
		a.cfg.Server,
		a.log,
		handler.NewStatusHandler(a.store, a.log),
		handler.NewHealthHandler(version),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
