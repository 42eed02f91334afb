package commands

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"smartshot/internal/models"
	"smartshot/internal/services"
)

func newSearchCmd(c *cli) *cobra.Command {
	var q models.SearchQuery

	cmd := &cobra.Command{
		Use:   "search [text]",
		Short: "Search recorded screenshots",
		Long: `Search OCR text, file names and window titles.

Examples:
  smartshot search invoice
  smartshot search --category Work --app Code --days 7`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				q.Query = args[0]
			}

			db, err := c.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			results, err := services.NewScreenshotService(db).Search(cmd.Context(), q)
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}

			printResults(cmd.OutOrStdout(), results)
			return nil
		},
	}

	cmd.Flags().StringVar(&q.Category, "category", "", "Only this category")
	cmd.Flags().StringVar(&q.AppName, "app", "", "Only this application")
	cmd.Flags().IntVar(&q.Days, "days", 0, "Only the last N days (0 = all)")
	cmd.Flags().IntVar(&q.Limit, "limit", 50, "Maximum results")

	return cmd
}

func printResults(w io.Writer, results []models.Screenshot) {
	if len(results) == 0 {
		fmt.Fprintln(w, "🔍 No screenshots found")
		return
	}

	fmt.Fprintf(w, "🔍 %d screenshot(s)\n\n", len(results))
	for _, shot := range results {
		fmt.Fprintf(w, "  📸 %s\n", shot.FileName)
		fmt.Fprintf(w, "     %s · %s · %s · %s\n",
			orDash(shot.Category), orDash(shot.AppName),
			humanize.Bytes(uint64(shot.FileSize)), humanize.Time(shot.CreatedAt))
		fmt.Fprintf(w, "     %s\n", shot.FilePath)
	}
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}
