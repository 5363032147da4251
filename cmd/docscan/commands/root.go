package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/core/dispatch"
	"github.com/joseph-ayodele/docscan/internal/core/lock"
	"github.com/joseph-ayodele/docscan/internal/core/pipeline"
	repo "github.com/joseph-ayodele/docscan/internal/repository"
	svc "github.com/joseph-ayodele/docscan/internal/server"
)

var (
	cfgFile string
	verbose bool
)

// env is what every subcommand shares once the root pre-run has connected.
type env struct {
	cfg    *common.Config
	logger *slog.Logger
	db     *repo.DB
	docs   repo.DocumentRepository
	pages  repo.PageRepository
	rdb    *redis.Client
}

var app env

var rootCmd = &cobra.Command{
	Use:           "docscan",
	Short:         "Operate the document processing pipeline",
	Long:          `docscan queues documents for processing, inspects their status, exports results and repairs the search index.`,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := common.LoadConfigFile(cfgFile)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Log.Level = "debug"
		}
		app.cfg = cfg
		app.logger = svc.NewLogger(cfg.Log)
		slog.SetDefault(app.logger)

		if cfg.Database.DSN == "" {
			return fmt.Errorf("DB_URL is required")
		}
		ctx := cmd.Context()
		db, err := svc.ConnectDB(ctx, cfg.Database, cmd.Name() == migrateCmd.Name(), app.logger)
		if err != nil {
			return err
		}
		app.db = db
		app.docs = repo.NewDocumentRepository(db, app.logger)
		app.pages = repo.NewPageRepository(db, app.logger)

		app.rdb, err = svc.NewRedisClient(ctx, cfg.Redis, app.logger)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if app.rdb != nil {
			_ = app.rdb.Close()
		}
		if app.db != nil {
			repo.Close(app.db, app.logger)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

// requireRedis guards commands that hand work to a running daemon; without Redis
// the queue and lock table only exist inside that process.
func requireRedis() error {
	if app.rdb == nil {
		return fmt.Errorf("REDIS_ADDR is required: the in-process queue is private to docscand")
	}
	return nil
}

func newDispatcher(publisher *pipeline.Publisher) (*dispatch.Dispatcher, lock.Locker, func()) {
	queue := svc.NewQueue(app.rdb, app.cfg, app.logger)
	locks := svc.NewLocker(app.rdb, app.cfg.Redis)
	d := dispatch.New(app.docs, queue, locks, publisher, app.cfg.Queue.LockTTL, nil, app.logger)
	return d, locks, func() { _ = queue.Close() }
}

func newPublisher(ctx context.Context) (*pipeline.Publisher, error) {
	index, err := svc.NewIndex(ctx, app.cfg.Index, app.docs, app.logger)
	if err != nil {
		return nil, err
	}
	return pipeline.NewPublisher(app.docs, app.pages, index, nil, app.logger), nil
}
