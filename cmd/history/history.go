package history

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ecoscout/ecoscout-go/internal/app"
	"github.com/ecoscout/ecoscout-go/internal/logger"
)

// Command lists and deletes analysis records without loading any model.
func Command(load func() (*app.App, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List or delete analysis records",
	}
	cmd.AddCommand(listCommand(load), deleteCommand(load))
	return cmd
}

func listCommand(load func() (*app.App, error)) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List analysis records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer closeApp(a)

			records := a.Ledger.ListAll(cmd.Context())
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}

			violations := a.Settings.ViolationSet()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCREATED\tMEDIA\tFILE\tDETECTIONS\tVIOLATIONS")
			for i := range records {
				rec := &records[i]
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n",
					rec.ID,
					rec.CreatedAt.Format("2006-01-02 15:04:05"),
					rec.MediaKind(),
					rec.OriginalFile,
					len(rec.Detections),
					rec.ViolationCount(violations))
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print records as JSON")
	return cmd
}

func deleteCommand(load func() (*app.App, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [id...]",
		Short: "Delete records and their media files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer closeApp(a)

			msg, err := a.Purge(cmd.Context(), args)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), msg)
			return err
		},
	}
}

func closeApp(a *app.App) {
	if err := a.Close(); err != nil {
		app.GetLogger().Warn("shutdown completed with errors", logger.Error(err))
	}
}
