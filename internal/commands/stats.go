package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"smartshot/internal/models"
	"smartshot/internal/services"
)

func newStatsCmd(c *cli) *cobra.Command {
	var (
		output string
		days   int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show library statistics",
		Long: `Show the same statistics viewers receive.

Examples:
  smartshot stats
  smartshot stats --output yaml
  smartshot stats --days 30 --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := c.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			stats := services.NewStatsService(db)
			if days > 0 {
				detailed, err := stats.ComputeDetailed(cmd.Context(), days)
				if err != nil {
					return fmt.Errorf("failed to compute stats: %w", err)
				}
				return renderDetailed(cmd.OutOrStdout(), detailed, output)
			}

			snap, err := stats.ComputeSnapshot(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to compute stats: %w", err)
			}
			return renderStats(cmd.OutOrStdout(), snap, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text, json or yaml")
	cmd.Flags().IntVar(&days, "days", 0, "Show detailed stats with trends for the last N days")

	return cmd
}

// renderStructured writes v as json or yaml; ok is false for other formats
func renderStructured(w io.Writer, v interface{}, format string) (bool, error) {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return true, enc.Encode(v)
	case "text", "":
		return false, nil
	default:
		return true, fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
	}
}

func renderStats(w io.Writer, snap *models.StatsSnapshot, format string) error {
	if done, err := renderStructured(w, snap, format); done {
		return err
	}

	fmt.Fprintln(w, "📊 SmartShot Library")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "📸 Screenshots:   %d\n", snap.TotalScreenshots)
	fmt.Fprintf(w, "🔤 OCR processed: %d\n", snap.OCRProcessed)
	fmt.Fprintf(w, "🏷️  Categorized:   %d (%d categories)\n", snap.Categorized, snap.Categories)
	printBreakdown(w, "Categories", snap.CategoryBreakdown)
	printBreakdown(w, "Applications", snap.ApplicationBreakdown)
	return nil
}

func renderDetailed(w io.Writer, d *models.DetailedStats, format string) error {
	if done, err := renderStructured(w, d, format); done {
		return err
	}

	fmt.Fprintf(w, "📊 SmartShot Library (last %d days)\n", d.Days)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "📸 Screenshots:     %d (%s)\n", d.Overview.TotalScreenshots, d.Overview.TotalSize)
	fmt.Fprintf(w, "🔤 OCR processed:   %d\n", d.Overview.OCRProcessed)
	fmt.Fprintf(w, "🏷️  Categorized:     %d\n", d.Overview.Categorized)
	fmt.Fprintf(w, "📅 Average per day: %.1f\n", d.Overview.AvgPerDay)
	fmt.Fprintf(w, "🔥 Most active day: %s\n", d.Overview.MostActiveDay)
	printBreakdown(w, "Categories", d.Categories)
	printBreakdown(w, "Applications", d.Applications)
	return nil
}

func printBreakdown(w io.Writer, title string, entries []models.BreakdownEntry) {
	if len(entries) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", title)
	for _, e := range entries {
		if e.Trend != "" {
			fmt.Fprintf(w, "  • %-20s %5d  %5.1f%%  %s\n", e.Label, e.Count, e.Percentage, e.Trend)
			continue
		}
		fmt.Fprintf(w, "  • %-20s %5d  %5.1f%%\n", e.Label, e.Count, e.Percentage)
	}
}
