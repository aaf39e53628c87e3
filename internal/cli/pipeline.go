package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewPipelineCmd создаёт группу команд для управления pipeline.
func NewPipelineCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Run and inspect the pipeline",
	}

	cmd.AddCommand(
		newPipelineRunCmd(clientFn, outputFn),
		newPipelineStateCmd(clientFn, outputFn),
		newPipelineStepCmd(clientFn, outputFn),
		newPipelineResetCmd(clientFn, outputFn),
	)

	return cmd
}

func newPipelineRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "run [TEXT]",
		Short: "Run the pipeline on input text",
		Long: "Run the pipeline on input text.\n\n" +
			"Text is taken from the argument, from --file, or from stdin when the argument is \"-\".",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			text, err := readInput(cmd.InOrStdin(), args, file)
			if err != nil {
				return err
			}

			run, err := client.Execute(text)
			if err != nil {
				return err
			}

			if run.Success {
				out.Success(fmt.Sprintf("Run succeeded: %s", run.RunID))
			} else {
				out.Error(fmt.Sprintf("run %s failed at %s: %s", run.RunID, run.FailedStep, run.Error))
			}

			out.Print(stepHeaders, stepRows(run.Steps), run)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Read input text from file")

	return cmd
}

func newPipelineStateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Show current pipeline state",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			state, err := client.State()
			if err != nil {
				return err
			}

			if !out.jsonMode {
				out.Table(
					[]string{"RUN_ID", "RUNNING", "CURRENT", "PARALLEL", "ERROR"},
					[][]string{{
						state.RunID,
						strconv.FormatBool(state.IsRunning),
						state.CurrentStep,
						strings.Join(state.ParallelSteps, ","),
						state.Error,
					}},
				)
				fmt.Fprintln(out.w)
			}

			out.Print(stepHeaders, stepRows(state.Steps), state)
			return nil
		},
	}
}

func newPipelineStepCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "step ID",
		Short: "Show a single pipeline step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			step, err := client.Step(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"ID", "STATUS", "DURATION_MS", "ERROR", "PAYLOAD"},
				[][]string{{step.ID, step.Status, strconv.FormatInt(step.DurationMs, 10), step.Error, string(step.Payload)}},
				step,
			)
			return nil
		},
	}
}

func newPipelineResetCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Reset pipeline state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFn().Reset(); err != nil {
				return err
			}

			outputFn().Success("Pipeline state reset")
			return nil
		},
	}
}

var stepHeaders = []string{"STEP", "STATUS", "DURATION_MS", "ERROR"}

func stepRows(steps []StepResponse) [][]string {
	rows := make([][]string, len(steps))
	for i, s := range steps {
		rows[i] = []string{s.ID, s.Status, strconv.FormatInt(s.DurationMs, 10), s.Error}
	}
	return rows
}

// readInput возвращает текст из аргумента, файла или stdin.
func readInput(stdin io.Reader, args []string, file string) (string, error) {
	var data []byte
	var err error

	switch {
	case file != "":
		data, err = os.ReadFile(file)
	case len(args) == 1 && args[0] == "-":
		data, err = io.ReadAll(stdin)
	case len(args) == 1:
		data = []byte(args[0])
	default:
		return "", errors.New("input text is required: pass TEXT, \"-\" or --file")
	}
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}

	text := string(data)
	if strings.TrimSpace(text) == "" {
		return "", errors.New("input text is empty")
	}
	return text, nil
}
