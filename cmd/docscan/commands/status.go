package commands

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status <document-id>",
	Short: "Show a document's processing status and pages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		doc, err := app.docs.GetByID(ctx, ids[0])
		if err != nil {
			return err
		}
		pages, err := app.pages.ListByDocument(ctx, doc.ID)
		if err != nil {
			return err
		}

		if statusJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"document": doc, "pages": pages})
		}

		cmd.Printf("document:  %s\n", doc.ID)
		cmd.Printf("filename:  %s\n", doc.OriginalFilename)
		cmd.Printf("status:    %s\n", doc.Status)
		if doc.FailureReason != nil {
			cmd.Printf("reason:    %s\n", *doc.FailureReason)
		}
		if doc.Category != nil {
			cmd.Printf("category:  %s\n", *doc.Category)
		}
		if doc.Summary != nil {
			cmd.Printf("summary:   %s\n", *doc.Summary)
		}
		for _, p := range pages {
			chars := 0
			if p.FullText != nil {
				chars = len([]rune(*p.FullText))
			}
			cmd.Printf("  page %-3d chars=%-6d confidence=%.4f tables=%d corrected=%t\n",
				p.PageNumber, chars, p.Confidence, len(p.Tables), p.ManuallyCorrected)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print JSON instead of text")
	rootCmd.AddCommand(statusCmd)
}
