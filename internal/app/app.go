package app

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mokametrics-ingest/internal/api"
	"mokametrics-ingest/internal/config"
	"mokametrics-ingest/internal/db"
	"mokametrics-ingest/internal/monitor"
	"mokametrics-ingest/internal/orders"
	"mokametrics-ingest/internal/parser"
	"mokametrics-ingest/internal/realtime"
	"mokametrics-ingest/internal/service"
	"mokametrics-ingest/internal/tsdb"

	"go.uber.org/zap"
)

const brokerCheckTimeout = 15 * time.Second

// App holds the long-lived components of the ingest service.
type App struct {
	cfg    *config.Config
	logger *zap.SugaredLogger

	DB       *db.DBManager
	Store    *tsdb.Store
	Producer *service.Producer
	Hub      *realtime.Hub
	Metrics  *monitor.Metrics
	Stats    *service.Stats
	Router   *service.Router
	Consumer *service.KafkaService
	Orders   *orders.Publisher
}

// New connects to every backing service. Any failure here is a startup
// failure.
func New(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	dbMgr, err := db.NewDBManager(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.DB = dbMgr

	store, err := tsdb.NewStore(tsdb.Settings{
		Host:     cfg.InfluxHost,
		Token:    cfg.InfluxToken,
		Database: cfg.InfluxDatabase,
	}, logger)
	if err != nil {
		dbMgr.Shutdown()
		return nil, err
	}
	a.Store = store

	bctx, cancel := context.WithTimeout(ctx, brokerCheckTimeout)
	err = service.CheckBrokers(bctx, cfg)
	cancel()
	if err != nil {
		dbMgr.Shutdown()
		_ = store.Close()
		return nil, err
	}

	producer, err := service.NewProducer(cfg, logger)
	if err != nil {
		dbMgr.Shutdown()
		_ = store.Close()
		return nil, err
	}
	a.Producer = producer

	a.Metrics = monitor.NewMetrics()
	a.Hub = realtime.NewHub(logger)
	a.Hub.OnPublish = a.Metrics.NotificationPublished
	a.Stats = service.NewStats(ctx, 30*time.Minute, logger)
	recorder := service.Recorders{a.Stats, a.Metrics}

	a.Router = service.NewRouter(parser.New(), store, a.openUnitOfWork, a.Hub, recorder, logger)
	handled := make(map[string]bool)
	for _, t := range a.Router.Topics() {
		handled[t] = true
	}
	for _, t := range cfg.KafkaTopics {
		if !handled[t] {
			logger.Warnw("subscribed topic has no handler, its records will be dropped", "topic", t)
		}
	}

	a.Consumer = service.NewKafkaService(a.Router, producer, recorder, logger,
		service.ConsumerOptionsFromConfig(cfg, cfg.KafkaTopics))
	a.Orders = orders.NewPublisher(producer, cfg.OrderTopic, cfg.ProducerRetries, logger)
	return a, nil
}

func (a *App) openUnitOfWork(ctx context.Context) (service.UnitOfWork, func(), error) {
	uow, release, err := a.DB.OpenUnitOfWork(ctx)
	if err != nil {
		return nil, release, err
	}
	return uow, release, nil
}

// Handler returns the HTTP surface: health, metrics, websocket and the
// query/publish API.
func (a *App) Handler() http.Handler {
	mux := monitor.NewHandler(monitor.Checks{
		Database:   a.DB,
		TimeSeries: a.Store,
		Consumer:   a.Consumer,
	}, a.Metrics, a.Hub, a.cfg.WSJWTSecret, a.logger)

	(&api.Handlers{
		Query:     a.Store,
		Orders:    a.DB,
		Publisher: a.Orders,
		Logger:    a.logger,
	}).Register(mux)
	return mux
}

// Run serves HTTP and consumes until a signal arrives or ctx ends, then shuts
// everything down in reverse order.
func (a *App) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.DB.StartAutoReconnect(ctx)
	srv := monitor.StartHealthCheck(a.Handler(), a.logger, a.cfg.HTTPAddr)

	topics := a.cfg.KafkaTopics
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.Consumer.StartConsumer(ctx, func(ctx context.Context) (service.MessageReader, error) {
			bctx, cancel := context.WithTimeout(ctx, brokerCheckTimeout)
			defer cancel()
			if err := service.CheckBrokers(bctx, a.cfg); err != nil {
				return nil, err
			}
			reader, err := service.NewReader(a.cfg, topics, a.logger)
			if err != nil {
				return nil, err
			}
			return reader, nil
		})
	}()

	// --- Graceful shutdown ---
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		a.logger.Infow("signal received, shutting down Kafka consumer", "signal", sig)
		cancel()
	case <-ctx.Done():
	case <-done:
		a.logger.Info("Kafka consumer finished, exiting")
	}

	// Wait for consumer goroutine to finish
	select {
	case <-done:
		a.logger.Info("Kafka consumer stopped gracefully")
	case <-time.After(a.cfg.HandlerTimeout + 5*time.Second):
		a.logger.Warn("timeout waiting for Kafka consumer to stop")
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warnw("http server shutdown", "error", err)
	}
	a.Close()
	a.logger.Info("application shutdown completed")
}

// Close releases the backing clients.
func (a *App) Close() {
	if err := a.Producer.Close(); err != nil {
		a.logger.Warnw("failed to flush producer", "error", err)
	}
	if err := a.Store.Close(); err != nil {
		a.logger.Warnw("failed to close time-series client", "error", err)
	}
	a.DB.Shutdown()
}
