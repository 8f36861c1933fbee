package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rancher/qa-infra-pipeline/internal/airgap"
	"github.com/rancher/qa-infra-pipeline/internal/resources"
)

// SetupOptions holds flags for the setup command.
type SetupOptions struct {
	Job            string
	Build          string
	WorkDir        string
	InfraBranch    string
	PlaybookBranch string
}

// NewSetupCmd creates the setup command.
func NewSetupCmd(app *App) *cobra.Command {
	var opts SetupOptions

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Provision an airgapped RKE2 cluster with Rancher",
		Long: `Setup runs the full provisioning sequence: repository checkout,
environment configuration, OpenTofu infrastructure deployment, and the
RKE2 and Rancher ansible playbooks.

On a stage failure, diagnostics for that stage are archived and, when
DESTROY_ON_FAILURE=true, the partially created infrastructure is torn
down before the per-build resources are cleaned up.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Setup(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Job, "job", os.Getenv("JOB_NAME"), "Job name (defaults to JOB_NAME)")
	cmd.Flags().StringVar(&opts.Build, "build", os.Getenv("BUILD_NUMBER"), "Build number (defaults to BUILD_NUMBER)")
	cmd.Flags().StringVar(&opts.WorkDir, "workdir", "", "Build workspace directory (defaults to the current directory)")
	cmd.Flags().StringVar(&opts.InfraBranch, "infra-branch", "", "Branch of the infrastructure repo")
	cmd.Flags().StringVar(&opts.PlaybookBranch, "playbook-branch", "", "Branch of the playbook repo")

	return cmd
}

// setupStage pairs a pipeline stage with the failure type used when it fails.
type setupStage struct {
	name        string
	failureType string
	run         func(context.Context) error
}

// Setup runs the provisioning stages in order.
func (a *App) Setup(ctx context.Context, opts SetupOptions) error {
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
	repos.PlaybookBranch = opts.PlaybookBranch

	stages := []setupStage{
		{"checkout", "checkout", func(ctx context.Context) error {
			return p.CheckoutRepositories(ctx, repos)
		}},
		{"configure-environment", "configuration", p.ConfigureEnvironment},
		{"prepare-infrastructure", "deployment", p.PrepareInfrastructure},
		{"deploy-infrastructure", "deployment", p.DeployInfrastructure},
		{"prepare-ansible", "ansible-prep", p.PrepareAnsible},
		{"deploy-rke2", "rke2", p.DeployRKE2},
		{"deploy-rancher", "rancher", p.DeployRancher},
	}

	for _, stage := range stages {
		resources.LogLevel("info", "Stage: %s", stage.name)

		if err := stage.run(ctx); err != nil {
			resources.LogLevel("error", "Stage %s failed: %v", stage.name, err)

			if cleanupErr := p.HandleFailureCleanup(ctx, stage.failureType); cleanupErr != nil {
				resources.LogLevel("warn", "Failure cleanup incomplete: %v", cleanupErr)
			}

			return fmt.Errorf("stage %s failed: %w", stage.name, err)
		}
	}

	if err := p.WriteDeploymentSummary(); err != nil {
		return err
	}

	return p.CleanupResources(ctx)
}
