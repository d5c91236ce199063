package analyze

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/ecoscout/ecoscout-go/internal/app"
	"github.com/ecoscout/ecoscout-go/internal/logger"
	"github.com/ecoscout/ecoscout-go/internal/model"
	"github.com/ecoscout/ecoscout-go/internal/processor"
)

// Command analyzes a single image or video file and records it in the ledger.
func Command(load func() (*app.App, error)) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "analyze [file]",
		Short: "Analyze an image or video file",
		Long:  "Run detection and plate recognition on a local image or video, store the result in the history and print it as JSON.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := processor.KindOf(args[0]); err != nil {
				return err
			}

			a, err := load()
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.Close(); cerr != nil {
					app.GetLogger().Warn("shutdown completed with errors", logger.Error(cerr))
				}
			}()
			if err := a.LoadAnalysis(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var bar *progressbar.ProgressBar
			progress := func(done, total int) {
				if quiet {
					return
				}
				if bar == nil {
					bar = progressbar.NewOptions(total,
						progressbar.OptionSetDescription("Analyzing frames"),
						progressbar.OptionSetWriter(os.Stderr),
						progressbar.OptionShowCount(),
						progressbar.OptionClearOnFinish(),
					)
				}
				_ = bar.Set(done)
			}

			rec, err := a.Processor.ProcessFile(ctx, args[0], progress)
			if bar != nil {
				_ = bar.Finish()
			}
			if err != nil {
				return err
			}
			return printRecord(cmd, rec)
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not show the frame progress bar")
	return cmd
}

func printRecord(cmd *cobra.Command, rec *model.AnalysisRecord) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return nil
}
