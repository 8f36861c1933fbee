package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rancher/qa-infra-pipeline/pkg/report"
)

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	Results string
}

// NewReportCmd creates the report command.
func NewReportCmd(app *App) *cobra.Command {
	var opts ReportOptions

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize a JUnit XML result file",
		Long: `Report parses a JUnit XML result file produced by the in-container
test run and prints a summary. The command exits non-zero when any test
failed or errored.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Report(opts)
		},
	}

	cmd.Flags().StringVar(&opts.Results, "results", "results.xml", "Path to the JUnit XML result file")

	return cmd
}

// Report publishes the result file summary.
func (a *App) Report(opts ReportOptions) error {
	sum, err := report.PublishFile(opts.Results)
	if err != nil {
		return err
	}

	if !sum.Passed() {
		return fmt.Errorf("%d failure(s), %d error(s) in %s", sum.Failures, sum.Errors, opts.Results)
	}

	return nil
}
