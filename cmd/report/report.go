package report

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ecoscout/ecoscout-go/internal/app"
	"github.com/ecoscout/ecoscout-go/internal/errors"
	"github.com/ecoscout/ecoscout-go/internal/logger"
)

// Command renders the PDF report of a record and copies it to a local file.
func Command(load func() (*app.App, error)) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "report [id]",
		Short: "Generate the PDF report of an analysis record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.Close(); cerr != nil {
					app.GetLogger().Warn("shutdown completed with errors", logger.Error(cerr))
				}
			}()

			id := args[0]
			rec, ok := a.Ledger.Get(cmd.Context(), id)
			if !ok {
				return errors.Newf("record %s not found", id).
					Component("cli").
					Category(errors.CategoryNotFound).
					Build()
			}

			name, err := a.Reports.Generate(&rec)
			if err != nil {
				return err
			}
			if output == "" {
				output = name
			}
			if err := copyResult(a, name, output); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s\n", output)
			return err
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default report_<id>.pdf)")
	return cmd
}

func copyResult(a *app.App, name, dst string) error {
	src, err := a.Store.ResultPath(name)
	if err != nil {
		return err
	}
	in, err := os.Open(src) //nolint:gosec // path resolved inside the results root
	if err != nil {
		return errors.New(err).Component("cli").Category(errors.CategoryFileIO).FileContext(src, 0).Build()
	}
	defer in.Close() //nolint:errcheck // read only

	out, err := os.Create(dst) //nolint:gosec // user supplied output path
	if err != nil {
		return errors.New(err).Component("cli").Category(errors.CategoryFileIO).FileContext(dst, 0).Build()
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return errors.New(err).Component("cli").Category(errors.CategoryFileIO).FileContext(dst, 0).Build()
	}
	return out.Close()
}
