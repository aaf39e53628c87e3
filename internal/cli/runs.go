package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

// NewRunsCmd создаёт группу команд для истории runs.
func NewRunsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Browse run history",
	}

	cmd.AddCommand(
		newRunsListCmd(clientFn, outputFn),
		newRunsShowCmd(clientFn, outputFn),
	)

	return cmd
}

func newRunsListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var success bool
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List past runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			opts := ListRunsOpts{Limit: limit, Offset: offset}
			if cmd.Flags().Changed("success") {
				opts.Success = &success
			}

			runs, err := client.ListRuns(opts)
			if err != nil {
				return err
			}

			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = runRow(r)
			}

			out.Print(runHeaders, rows, runs)
			return nil
		},
	}

	cmd.Flags().BoolVar(&success, "success", false, "Filter by outcome (--success or --success=false)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of results to skip")

	return cmd
}

func newRunsShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show a past run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.GetRun(args[0])
			if err != nil {
				return err
			}

			if !out.jsonMode {
				out.Table(runHeaders, [][]string{runRow(*run)})
			}
			out.Print(stepHeaders, stepRows(run.Steps), run)
			return nil
		},
	}
}

var runHeaders = []string{"RUN_ID", "SUCCESS", "FAILED_STEP", "DURATION_MS", "STARTED", "ERROR"}

func runRow(r RunResponse) []string {
	return []string{
		r.RunID,
		strconv.FormatBool(r.Success),
		r.FailedStep,
		strconv.FormatInt(r.DurationMs, 10),
		r.StartTime,
		r.Error,
	}
}
