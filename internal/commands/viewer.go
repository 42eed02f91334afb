package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"smartshot/internal/models"
	"smartshot/internal/syncclient"
)

func newViewerCmd(c *cli) *cobra.Command {
	var maxAttempts int

	cmd := &cobra.Command{
		Use:   "viewer",
		Short: "Follow a running server live",
		Long: `Connect to a running server and print statistics and activity as
screenshots arrive. The connection is re-established with exponential
backoff if it drops.

Examples:
  smartshot viewer
  smartshot viewer --server ws://nas.local:8000/ws --max-attempts 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			agent := syncclient.NewAgent(syncclient.Options{
				URL:         c.v.GetString(keyServerURL),
				MaxAttempts: maxAttempts,
				Verbose:     c.v.GetBool(keyVerbose),
			})
			agent.SetStateHandler(func(s syncclient.State) {
				fmt.Fprintf(out, "🔌 %s\n", s)
			})
			agent.SetEventHandler(func(ev models.Event) {
				printEvent(out, agent.Local(), ev)
			})

			fmt.Fprintf(out, "👀 Following %s (Ctrl+C to stop)\n", c.v.GetString(keyServerURL))
			err := agent.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "Give up after N attempts that never reach a baseline (0 = never)")

	return cmd
}

func printEvent(w io.Writer, local *syncclient.LocalState, ev models.Event) {
	switch e := ev.(type) {
	case models.StatsUpdate:
		fmt.Fprintf(w, "📊 %d screenshots · %d OCR processed · %d categorized\n",
			e.Snapshot.TotalScreenshots, e.Snapshot.OCRProcessed, e.Snapshot.Categorized)
	case models.NewScreenshot:
		fmt.Fprintf(w, "📸 %s  %s (%d in feed)\n", e.Activity.Message, e.Activity.Details, len(local.Activity()))
	case models.ActivityUpdate:
		fmt.Fprintf(w, "📝 %s  %s\n", e.Activity.Message, e.Activity.Details)
	}
}
