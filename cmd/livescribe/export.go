package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/livescribe/internal/app"
)

var (
	exportSession string
	exportOutput  string
	exportFormat  string
	exportList    int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a stored session",
	Long: `Export reads a finished session from the configured store and writes
its transcript. With --list it prints the most recent sessions instead.`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportSession, "session", "s", "", "session ID to export")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (.srt or .txt); stdout when empty")
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "srt", "stdout format: srt or txt")
	exportCmd.Flags().IntVar(&exportList, "list", 0, "list the N most recent sessions")
	exportCmd.MarkFlagsOneRequired("session", "list")
	exportCmd.MarkFlagsMutuallyExclusive("session", "list")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	st, err := app.OpenStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	if st == nil {
		return errors.New("no session store configured; set store.driver and store.dsn")
	}
	defer st.Close()

	if exportList > 0 {
		sessions, err := st.ListSessions(ctx, exportList)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tMODE\tSOURCE\tSTARTED\tDURATION")
		for _, s := range sessions {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				s.ID, s.Mode, s.Source,
				s.StartedAt.Local().Format(time.DateTime),
				s.StoppedAt.Sub(s.StartedAt).Round(time.Second))
		}
		return tw.Flush()
	}

	sess, err := st.Session(ctx, exportSession)
	if err != nil {
		return err
	}
	return writeLines(cmd.OutOrStdout(), exportOutput, exportFormat, sess.Lines)
}
