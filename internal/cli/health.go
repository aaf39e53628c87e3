package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewHealthCmd создаёт группу команд для просмотра здоровья зависимостей.
//
// Без подкоманды выводит таблицу по всем сервисам.
func NewHealthCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show dependency health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			records, err := client.Health()
			if err != nil {
				return err
			}

			rows := make([][]string, len(records))
			for i, r := range records {
				rows[i] = healthRow(r)
			}

			out.Print(healthHeaders, rows, records)
			return nil
		},
	}

	cmd.AddCommand(
		newHealthShowCmd(clientFn, outputFn),
		newHealthSummaryCmd(clientFn, outputFn),
	)

	return cmd
}

func newHealthShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "show SERVICE",
		Short: "Show health of a single service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			rec, err := client.HealthService(args[0], refresh)
			if err != nil {
				return err
			}

			out.Print(healthHeaders, [][]string{healthRow(*rec)}, rec)
			return nil
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "Probe the service now instead of showing the last result")

	return cmd
}

func newHealthSummaryCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show aggregated health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			summary, err := client.HealthSummary()
			if err != nil {
				return err
			}

			out.Print(
				[]string{"HEALTHY", "TOTAL", "RATIO", "CHECKED"},
				[][]string{{
					strconv.Itoa(summary.HealthyCount),
					strconv.Itoa(summary.TotalCount),
					fmt.Sprintf("%.0f%%", summary.Ratio*100),
					summary.CheckedAt,
				}},
				summary,
			)
			return nil
		},
	}
}

var healthHeaders = []string{"SERVICE", "STATUS", "LATENCY_MS", "INFERRED", "CHECKED", "ERROR"}

func healthRow(r HealthResponse) []string {
	errText := r.LastError
	if errText == "" {
		errText = r.Note
	}
	return []string{
		r.Service,
		r.Status,
		strconv.FormatInt(r.LatencyMs, 10),
		strconv.FormatBool(r.Inferred),
		r.LastChecked,
		errText,
	}
}
