package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// CleanupOptions holds flags for the cleanup command.
type CleanupOptions struct {
	Job     string
	Build   string
	WorkDir string
}

// NewCleanupCmd creates the cleanup command.
func NewCleanupCmd(app *App) *cobra.Command {
	var opts CleanupOptions

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove the per-build container, image, and volume",
		Long: `Cleanup removes the container, image, and volume belonging to the
given job and build. Infrastructure is left untouched; use destroy for
that.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Cleanup(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Job, "job", os.Getenv("JOB_NAME"), "Job name (defaults to JOB_NAME)")
	cmd.Flags().StringVar(&opts.Build, "build", os.Getenv("BUILD_NUMBER"), "Build number (defaults to BUILD_NUMBER)")
	cmd.Flags().StringVar(&opts.WorkDir, "workdir", "", "Build workspace directory (defaults to the current directory)")

	return cmd
}

// Cleanup removes a build's container resources.
func (a *App) Cleanup(ctx context.Context, opts CleanupOptions) error {
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

	return p.CleanupResources(ctx)
}
