package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docscan/internal/core/pipeline"
)

var stuckAfter time.Duration

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Sync the search index with document status and requeue stuck documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireRedis(); err != nil {
			return err
		}
		ctx := cmd.Context()
		publisher, err := newPublisher(ctx)
		if err != nil {
			return err
		}
		d, locks, closeQueue := newDispatcher(publisher)
		defer closeQueue()

		after := stuckAfter
		if after <= 0 {
			after = app.cfg.Pipeline.StuckAfter
		}
		rep, err := pipeline.NewReconciler(app.docs, publisher, locks, d, after, nil, app.logger).Reconcile(ctx)
		if err != nil {
			return err
		}
		cmd.Printf("published=%d retracted=%d requeued=%d skipped=%d failed=%d\n", rep.Published, rep.Retracted, rep.Requeued, rep.Skipped, rep.Failed)
		return nil
	},
}

func init() {
	reconcileCmd.Flags().DurationVar(&stuckAfter, "stuck-after", 0, "requeue documents unchanged for this long (default RECONCILE_STUCK_AFTER)")
	rootCmd.AddCommand(reconcileCmd)
}
