package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docscan/internal/ingest"
	svc "github.com/joseph-ayodele/docscan/internal/server"
)

var (
	ingestSkipHidden bool
	ingestNoQueue    bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file-or-dir>...",
	Short: "Register page images as documents and queue them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, closeStore, err := svc.NewPageStore(ctx, app.cfg.Storage, app.logger)
		if err != nil {
			return err
		}
		defer closeStore()

		var enq ingest.Enqueuer
		if !ingestNoQueue {
			if err := requireRedis(); err != nil {
				return fmt.Errorf("%w (or pass --no-queue)", err)
			}
			publisher, err := newPublisher(ctx)
			if err != nil {
				return err
			}
			d, _, closeQueue := newDispatcher(publisher)
			defer closeQueue()
			enq = d
		}
		ing := ingest.NewFSIngestor(app.docs, store, enq, app.logger)

		var stats ingest.DirStats
		for _, target := range args {
			fi, err := os.Stat(target)
			if err != nil {
				return err
			}
			var results []ingest.IngestionResult
			if fi.IsDir() {
				var s ingest.DirStats
				results, s, err = ing.IngestDirectory(ctx, target, ingestSkipHidden)
				if err != nil {
					return err
				}
				stats.Scanned += s.Scanned
				stats.Matched += s.Matched
				stats.Succeeded += s.Succeeded
				stats.Deduplicated += s.Deduplicated
				stats.Failed += s.Failed
			} else {
				stats.Scanned++
				stats.Matched++
				r, err := ing.IngestPath(ctx, target)
				if err != nil {
					r = ingest.IngestionResult{SourcePath: target, Err: err.Error()}
					stats.Failed++
				} else {
					stats.Succeeded++
					if r.Deduplicated {
						stats.Deduplicated++
					}
				}
				results = append(results, r)
			}
			for _, r := range results {
				switch {
				case r.Err != "":
					cmd.PrintErrf("%s\terror\t%s\n", r.SourcePath, r.Err)
				case r.Deduplicated:
					cmd.Printf("%s\tduplicate\t%s\n", r.SourcePath, r.DocumentID)
				default:
					cmd.Printf("%s\tnew\t%s\n", r.SourcePath, r.DocumentID)
				}
			}
		}
		cmd.Printf("scanned=%d matched=%d ok=%d duplicates=%d failed=%d\n",
			stats.Scanned, stats.Matched, stats.Succeeded, stats.Deduplicated, stats.Failed)
		if stats.Failed > 0 {
			return fmt.Errorf("%d files failed", stats.Failed)
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestSkipHidden, "skip-hidden", true, "skip dot files and directories")
	ingestCmd.Flags().BoolVar(&ingestNoQueue, "no-queue", false, "register documents without queueing them")
	rootCmd.AddCommand(ingestCmd)
}
