package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/core/async"
	"github.com/joseph-ayodele/docscan/internal/core/dispatch"
	"github.com/joseph-ayodele/docscan/internal/core/ocr"
	"github.com/joseph-ayodele/docscan/internal/core/pipeline"
	"github.com/joseph-ayodele/docscan/internal/core/stage"
	"github.com/joseph-ayodele/docscan/internal/core/tables"
	"github.com/joseph-ayodele/docscan/internal/export"
	"github.com/joseph-ayodele/docscan/internal/ingest"
	"github.com/joseph-ayodele/docscan/internal/metrics"
	repo "github.com/joseph-ayodele/docscan/internal/repository"
	svc "github.com/joseph-ayodele/docscan/internal/server"
)

func main() {
	cfg, err := common.LoadConfigFile(os.Getenv("DOCSCAN_CONFIG"))
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(2)
	}
	logger := svc.NewLogger(cfg.Log)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("docscand exited", "error", err)
		os.Exit(1)
	}
	logger.Info("docscand stopped")
}

func run(ctx context.Context, cfg *common.Config, logger *slog.Logger) error {
	db, err := svc.ConnectDB(ctx, cfg.Database, true, logger)
	if err != nil {
		return err
	}
	defer repo.Close(db, logger)
	if err := svc.PingDB(ctx, db, logger, 3*time.Second); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	rdb, err := svc.NewRedisClient(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}
	queue := svc.NewQueue(rdb, cfg, logger)
	defer func() { _ = queue.Close() }()
	locks := svc.NewLocker(rdb, cfg.Redis)

	docs := repo.NewDocumentRepository(db, logger)
	pages := repo.NewPageRepository(db, logger)

	index, err := svc.NewIndex(ctx, cfg.Index, docs, logger)
	if err != nil {
		return err
	}
	store, closeStore, err := svc.NewPageStore(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	understander, closeLLM, err := svc.NewUnderstander(ctx, cfg.LLM, logger)
	if err != nil {
		return err
	}
	defer closeLLM()

	pcfg := pipeline.ConfigFrom(cfg)
	publisher := pipeline.NewPublisher(docs, pages, index, m, logger)
	dispatcher := dispatch.New(docs, queue, locks, publisher, cfg.Queue.LockTTL, m, logger)

	deps := pipeline.Deps{
		Documents: docs,
		Store:     store,
		Recognizer: ocr.NewTesseract(ocr.Config{
			Tesseract:   cfg.OCR.Tesseract,
			Lang:        cfg.OCR.Lang,
			TessdataDir: cfg.OCR.TessdataDir,
			PSM:         cfg.OCR.PSM,
			OEM:         cfg.OCR.OEM,
		}, logger),
		Understander: understander,
		Writer:       pipeline.NewWriter(docs, pages, cfg.Pipeline.PersistenceAttempts, pcfg.Backoff, logger),
		Publisher:    publisher,
		Locks:        locks,
		Metrics:      m,
		Logger:       logger,
	}
	if cfg.Tables.Enabled {
		deps.Tables = tables.NewLayoutExtractor(tables.Config{MinRows: cfg.Tables.MinRows, MinCols: cfg.Tables.MinCols})
	}
	orch := pipeline.New(deps, pcfg)

	retry := stage.Backoff{Initial: cfg.Pipeline.BackoffInitial, Max: cfg.Pipeline.BackoffMax}
	pool := async.NewPool(queue, orch, logger,
		async.WithWorkers(cfg.Queue.Workers),
		async.WithProcessTimeout(cfg.Queue.JobTimeout),
		async.WithMaxDeliveries(cfg.Queue.MaxDeliveries),
		async.WithRetryDelay(retry.Delay),
		async.WithDeadLetter(orch.DeadLetter),
		async.WithMetrics(m),
	)

	health := func(ctx context.Context) error { return repo.HealthCheck(ctx, db, 2*time.Second, logger) }
	httpSrv := &http.Server{
		Addr: cfg.Server.HTTPAddr,
		Handler: svc.NewRouter(svc.Deps{
			Dispatcher: dispatcher,
			Documents:  docs,
			Pages:      pages,
			Exporter:   export.NewService(docs, pages, logger),
			Publisher:  publisher,
			Health:     health,
			Gatherer:   reg,
			Logger:     logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	grpcSrv, hs := svc.NewGRPCServer()
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return err
	}

	pool.Start(ctx)
	logger.Info("docscand started",
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
		"workers", cfg.Queue.Workers,
		"index", cfg.Index.Backend,
		"llm", cfg.LLM.Provider,
		"redis", rdb != nil,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return grpcSrv.Serve(lis) })
	g.Go(func() error {
		svc.WatchHealth(gctx, hs, 10*time.Second, health, logger)
		return nil
	})
	if cfg.Pipeline.ReconcileInterval > 0 {
		rec := pipeline.NewReconciler(docs, publisher, locks, dispatcher, cfg.Pipeline.StuckAfter, m, logger)
		g.Go(func() error {
			rec.Run(gctx, cfg.Pipeline.ReconcileInterval)
			return nil
		})
	}
	if cfg.Intake.Dir != "" {
		ing := ingest.NewFSIngestor(docs, store, dispatcher, logger)
		g.Go(func() error {
			return ingest.Watch(gctx, ing, ingest.WatchConfig{
				Roots:       []string{cfg.Intake.Dir},
				InitialScan: cfg.Intake.InitialScan,
				Debounce:    cfg.Intake.Debounce,
			}, logger)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(sctx)
		grpcSrv.GracefulStop()
		pool.Shutdown(sctx)
		return nil
	})
	return g.Wait()
}
