package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"inferload/internal/report"
)

var historyPath string

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List past runs, or dump one run's full report as JSON",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := report.OpenHistory(historyPath)
		if err != nil {
			return err
		}
		defer store.Close()

		if len(args) == 1 {
			run, err := store.Get(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(run)
		}

		runs := store.List()
		if len(runs) == 0 {
			fmt.Println("No runs recorded yet.")
			return nil
		}
		for _, run := range runs {
			fmt.Printf("%s  %s  stages: %d  ok: %d/%d\n",
				run.Start.Format(time.RFC3339), run.RunID,
				len(run.Stages), run.Summary.Requests.OK, run.Summary.Requests.Total)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyPath, "db", "", "history database path (default ~/.inferload/history.db)")
}
