package internal

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/hbomb79/Archivist/internal/api"
	"github.com/hbomb79/Archivist/internal/archive"
	"github.com/hbomb79/Archivist/internal/awsconf"
	"github.com/hbomb79/Archivist/internal/completion"
	"github.com/hbomb79/Archivist/internal/credential"
	"github.com/hbomb79/Archivist/internal/database"
	"github.com/hbomb79/Archivist/internal/download"
	"github.com/hbomb79/Archivist/internal/extract"
	"github.com/hbomb79/Archivist/internal/metrics"
	"github.com/hbomb79/Archivist/internal/queue"
	"github.com/hbomb79/Archivist/internal/storage"
	"github.com/hbomb79/Archivist/pkg/logger"
	"github.com/hbomb79/Archivist/pkg/worker"
)

var log = logger.Get("Core")

type (
	RunnableService interface {
		Run(context.Context) error
	}

	DatabaseServer interface {
		Connect(database.DatabaseConfig) error
		Close() error
	}
)

// Archivist represents the top-level object for the service, and is
// responsible for constructing the stores, clients and workers from
// the configuration, and for running them until shutdown.
type archivistImpl struct {
	config ArchivistConfig

	clients  *awsconf.Clients
	db       DatabaseServer
	store    completion.Store
	recorder metrics.Recorder
	// metricsHandler is nil unless the prometheus sink is used
	metricsHandler http.Handler

	coordinator *archive.Coordinator
	pool        *worker.WorkerPool
	gateway     RunnableService
}

func New(config ArchivistConfig) *archivistImpl {
	log.Emit(logger.DEBUG, "Bootstrapping Archivist (backend=%s metrics=%s workers=%d)\n",
		config.Completion.Backend, config.Metrics.Sink, config.Queue.Workers)
	return &archivistImpl{config: config, pool: worker.NewWorkerPool()}
}

// Run will start Archivist by bringing up all required connections and
// services, such as:
// - AWS clients
// - Completion store (and database connection, if required)
// - Queue consumer workers
// - Ops HTTP endpoint
//
// This function will not return until Archivist is stopped.
// To stop Archivist, the provided context must be cancelled; queue
// workers stop polling immediately, but any batch already received is
// allowed to finish. Errors from which Archivist cannot recover
// will also cause Archivist to stop.
func (archivist *archivistImpl) Run(parent context.Context) error {
	awsConfig, err := awsconf.Load(parent, archivist.config.AWS)
	if err != nil {
		return err
	}
	archivist.clients = awsconf.NewClients(awsConfig)

	if err := archivist.initialiseStore(); err != nil {
		return err
	}
	if archivist.db != nil {
		defer archivist.db.Close()
	}

	archivist.initialiseMetrics()
	if err := archivist.initialisePipeline(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		cancel()
	}

	archivist.gateway = api.NewOpsGateway(&archivist.config.API, archivist.pool, archivist.metricsHandler)

	wg := &sync.WaitGroup{}
	archivist.spawnAsyncService(ctx, wg, archivist.gateway, "ops-gateway", crashHandler)
	if err := archivist.pool.Start(ctx); err != nil {
		cancel()
		wg.Wait()
		return err
	}
	log.Emit(logger.SUCCESS, "Archivist services spawned! (workers=%d queue=%s)\n", archivist.config.Queue.Workers, archivist.config.Queue.URL)

	archivist.pool.Wait()
	log.Emit(logger.STOP, "Queue workers stopped, shutting down ops endpoint...\n")
	cancel()
	wg.Wait()

	return nil
}

// spawnAsyncService will run the provided service as it's own
// go-routine, ensuring that the service waitgroup is updated correctly
func (archivist *archivistImpl) spawnAsyncService(ctx context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func(wg *sync.WaitGroup, label string, crash func(string, error)) {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				crash(label, fmt.Errorf("panic %v", r))
			}
		}()

		if err := service.Run(ctx); err != nil {
			crash(label, err)
		}
	}(wg, serviceLabel, crashHandler)
}

// initialiseStore constructs the completion store for the configured
// backend. For the postgres backend, the database connection is
// established (which applies any pending migrations).
func (archivist *archivistImpl) initialiseStore() error {
	switch archivist.config.Completion.Backend {
	case BackendPostgres:
		log.Emit(logger.NEW, "Connecting to completion database...\n")
		db := database.New()
		if err := db.Connect(archivist.config.Completion.Database); err != nil {
			return err
		}

		archivist.db = db
		archivist.store = completion.NewPostgresStore(db.GetSqlxDb())
	case BackendDynamoDB:
		log.Emit(logger.INFO, "Using DynamoDB completion table %s\n", archivist.config.Completion.Table)
		archivist.store = completion.NewDynamoStore(archivist.clients.DynamoDB, archivist.config.Completion.Table)
	default:
		return fmt.Errorf("unknown completion backend %q", archivist.config.Completion.Backend)
	}

	return nil
}

func (archivist *archivistImpl) initialiseMetrics() {
	config := archivist.config.Metrics
	switch config.Sink {
	case metrics.SinkPrometheus:
		prom := metrics.NewPrometheus(config.Namespace)
		archivist.recorder = prom
		archivist.metricsHandler = prom.Handler()
	case metrics.SinkCloudWatch:
		archivist.recorder = metrics.NewCloudWatch(archivist.clients.CloudWatch, config.Namespace)
	default:
		archivist.recorder = metrics.Noop{}
	}

	log.Emit(logger.INFO, "Metrics sink: %s (namespace=%s)\n", config.Sink, config.Namespace)
}

// initialisePipeline constructs the fetch pipeline and pushes one queue
// consumer worker per configured worker in to the pool.
func (archivist *archivistImpl) initialisePipeline() error {
	config := archivist.config
	if err := os.MkdirAll(config.Extractor.WorkDir, 0o700); err != nil {
		return fmt.Errorf("failed to create work directory %q: %w", config.Extractor.WorkDir, err)
	}

	payloads := storage.NewBucket(archivist.clients.S3, config.Storage.Bucket)
	credentials := credential.New(
		storage.NewBucket(archivist.clients.S3, config.Credential.Bucket),
		credential.Config{
			ObjectKey: config.Credential.ObjectKey,
			LocalPath: config.Credential.LocalPath,
			MaxAge:    config.Credential.MaxAge,
		},
	)

	fetcher, err := download.New(extract.NewYtDlp(config.YtDlp()), credentials, payloads, config.Extractor.WorkDir)
	if err != nil {
		return err
	}

	archivist.coordinator = archive.NewCoordinator(config.Archive(), archivist.store, fetcher, archivist.recorder)
	consumer := queue.NewConsumer(config.Queue, archivist.clients.SQS, archivist.coordinator)
	for i := 0; i < config.Queue.Workers; i++ {
		if err := archivist.pool.PushWorker(worker.NewWorker(fmt.Sprintf("consumer-%d", i), consumer)); err != nil {
			return err
		}
	}

	log.Emit(logger.DEBUG, "Pipeline ready (bucket=%s credential=%s/%s region=%s)\n",
		payloads.Name(), config.Credential.Bucket, config.Credential.ObjectKey, config.AWS.Region)
	return nil
}
