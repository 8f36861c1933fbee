package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rancher/qa-infra-pipeline/internal/airgap"
)

// DestroyOptions holds flags for the destroy command.
type DestroyOptions struct {
	Job         string
	Build       string
	WorkDir     string
	InfraBranch string
}

// NewDestroyCmd creates the destroy command.
func NewDestroyCmd(app *App) *cobra.Command {
	var opts DestroyOptions

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Tear down the infrastructure of a previous build",
		Long: `Destroy checks out the infrastructure repo, selects the workspace
belonging to the given job and build, destroys its resources, and
removes the workspace and the per-build container resources.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Destroy(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Job, "job", os.Getenv("JOB_NAME"), "Job name (defaults to JOB_NAME)")
	cmd.Flags().StringVar(&opts.Build, "build", os.Getenv("BUILD_NUMBER"), "Build number (defaults to BUILD_NUMBER)")
	cmd.Flags().StringVar(&opts.WorkDir, "workdir", "", "Build workspace directory (defaults to the current directory)")
	cmd.Flags().StringVar(&opts.InfraBranch, "infra-branch", "", "Branch of the infrastructure repo")

	return cmd
}

// Destroy tears down a build's infrastructure.
func (a *App) Destroy(ctx context.Context, opts DestroyOptions) error {
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

	repos := airgap.DefaultRepoSet()
	repos.InfraBranch = opts.InfraBranch

	if err := p.CheckoutRepositories(ctx, repos); err != nil {
		return err
	}

	return p.Destroy(ctx)
}
