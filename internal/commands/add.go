package commands

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"smartshot/internal/models"
	"smartshot/internal/services"
)

func newAddCmd(c *cli) *cobra.Command {
	var category, app, window, ocrText string

	cmd := &cobra.Command{
		Use:   "add <path>",
		Short: "Record a screenshot file",
		Long: `Record a screenshot file in the library. Adding a path that is
already recorded updates it instead of creating a duplicate.

Running viewers pick the new record up with their next stats update.

Examples:
  smartshot add ~/Pictures/Screenshots/capture.png
  smartshot add shot.png --category Work --app Code`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("invalid path: %w", err)
			}
			if !models.IsImageFile(path) {
				return fmt.Errorf("%s is not a png, jpg, jpeg, gif or bmp file", filepath.Base(path))
			}

			db, err := c.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			ingest := services.NewIngestService(services.NewScreenshotService(db), nil, 0)
			if !c.v.GetBool(keyVerbose) {
				quiet := logrus.New()
				quiet.SetOutput(io.Discard)
				ingest.SetLogger(quiet)
			}

			id, err := ingest.Record(cmd.Context(), path, models.ScreenshotAttrs{
				Category:    models.StringPtr(category),
				AppName:     models.StringPtr(app),
				WindowTitle: models.StringPtr(window),
				OCRText:     models.StringPtr(ocrText),
			})
			if err != nil {
				return fmt.Errorf("failed to add screenshot: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✅ Recorded %s (id=%d)\n", filepath.Base(path), id)
			return nil
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "Category")
	cmd.Flags().StringVar(&app, "app", "", "Source application")
	cmd.Flags().StringVar(&window, "window", "", "Window title")
	cmd.Flags().StringVar(&ocrText, "ocr-text", "", "Recognized text")

	return cmd
}
