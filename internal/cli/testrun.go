package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rancher/qa-infra-pipeline/internal/resources"
)

// TestRunOptions holds flags for the test command.
type TestRunOptions struct {
	Job     string
	Build   string
	WorkDir string
	Results string
}

// NewTestCmd creates the test command.
func NewTestCmd(app *App) *cobra.Command {
	var opts TestRunOptions

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Run the in-container test suite and publish its results",
		Long: `Test runs the gotestsum suite inside the per-build tools container,
copies the JUnit result file into the artifact directory, and prints a
summary. The command exits non-zero when any test failed or errored.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.TestRun(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Job, "job", os.Getenv("JOB_NAME"), "Job name (defaults to JOB_NAME)")
	cmd.Flags().StringVar(&opts.Build, "build", os.Getenv("BUILD_NUMBER"), "Build number (defaults to BUILD_NUMBER)")
	cmd.Flags().StringVar(&opts.WorkDir, "workdir", "", "Build workspace directory (defaults to the current directory)")
	cmd.Flags().StringVar(&opts.Results, "results", "results.xml", "JUnit result file produced inside the container")

	return cmd
}

// TestRun runs the suite container and publishes its JUnit results.
func (a *App) TestRun(ctx context.Context, opts TestRunOptions) error {
	workDir := opts.WorkDir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve workdir: %w", err)
		}
		workDir = wd
	}

	p, _, err := a.newPipeline(opts.Job, opts.Build, workDir)
	if err != nil {
		return err
	}

	sum, err := p.RunTests(ctx, opts.Results)
	if err != nil {
		return err
	}

	if cleanupErr := p.CleanupResources(ctx); cleanupErr != nil {
		resources.LogLevel("warn", "Post-test cleanup incomplete: %v", cleanupErr)
	}

	if !sum.Passed() {
		return fmt.Errorf("%d failure(s), %d error(s) in %s", sum.Failures, sum.Errors, opts.Results)
	}

	return nil
}
