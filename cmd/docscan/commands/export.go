package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docscan/internal/export"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export <document-id>",
	Short: "Write a document's pages and tables to an XLSX workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		data, err := export.NewService(app.docs, app.pages, app.logger).ExportDocumentXLSX(cmd.Context(), ids[0])
		if err != nil {
			return err
		}
		out := exportOutput
		if out == "" {
			out = ids[0].String() + ".xlsx"
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", out, err)
		}
		cmd.Printf("wrote %s (%d bytes)\n", out, len(data))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output path (default <document-id>.xlsx)")
	rootCmd.AddCommand(exportCmd)
}
