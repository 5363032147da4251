package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	svc "github.com/joseph-ayodele/docscan/internal/server"
)

var attachCmd = &cobra.Command{
	Use:   "attach <document-id> <page-image>...",
	Short: "Store rasterized page images for a document, numbered in argument order",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args[:1])
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		doc, err := app.docs.GetByID(ctx, ids[0])
		if err != nil {
			return err
		}
		store, closeStore, err := svc.NewPageStore(ctx, app.cfg.Storage, app.logger)
		if err != nil {
			return err
		}
		defer closeStore()

		for i, path := range args[1:] {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			if err := store.PutPage(ctx, doc.StorageKey, i+1, data); err != nil {
				return err
			}
			cmd.Printf("page %d <- %s\n", i+1, path)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(attachCmd)
}
