package commands

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/core/async"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <document-id>...",
	Short: "Queue uploaded documents for processing",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return dispatchAll(cmd, args, false)
	},
}

var reprocessCmd = &cobra.Command{
	Use:   "reprocess <document-id>...",
	Short: "Reset finished documents and run them again",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return dispatchAll(cmd, args, true)
	},
}

func init() {
	rootCmd.AddCommand(enqueueCmd, reprocessCmd)
}

func dispatchAll(cmd *cobra.Command, args []string, reprocess bool) error {
	if err := requireRedis(); err != nil {
		return err
	}
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	publisher, err := newPublisher(ctx)
	if err != nil {
		return err
	}
	d, _, closeQueue := newDispatcher(publisher)
	defer closeQueue()

	failed := 0
	for _, id := range ids {
		var job async.Job
		if reprocess {
			job, err = d.Reprocess(ctx, id)
		} else {
			job, err = d.Enqueue(ctx, id, constants.ReasonInitial)
		}
		if err != nil {
			failed++
			cmd.PrintErrf("%s\terror\t%v\n", id, err)
			continue
		}
		cmd.Printf("%s\tqueued\t%s\t%s\n", id, job.Reason, job.ID)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents not queued", failed, len(ids))
	}
	return nil
}

func parseIDs(args []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(args))
	for _, a := range args {
		id, err := uuid.Parse(a)
		if err != nil {
			return nil, fmt.Errorf("invalid document id %q: %w", a, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
