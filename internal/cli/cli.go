// Package cli wires the pipeline stages into the qa-infra-pipeline command
// tree.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rancher/qa-infra-pipeline/config"
	"github.com/rancher/qa-infra-pipeline/internal/airgap"
	"github.com/rancher/qa-infra-pipeline/internal/resources"
	"github.com/rancher/qa-infra-pipeline/pkg/aws"
)

// App holds the CLI application and its wired dependencies.
type App struct {
	rootCmd *cobra.Command

	envFile string

	version string
	commit  string
	date    string
}

func New() *App {
	app := &App{}
	app.setupRootCmd()

	return app
}

// Execute runs the CLI application.
func (a *App) Execute() error {
	return a.rootCmd.Execute()
}

// SetVersion sets the build metadata reported by the version command.
func (a *App) SetVersion(version, commit, date string) {
	a.version = version
	a.commit = commit
	a.date = date
}

func (a *App) setupRootCmd() {
	a.rootCmd = &cobra.Command{
		Use:   "qa-infra-pipeline",
		Short: "Airgapped RKE2/Rancher provisioning pipeline",
		Long: `qa-infra-pipeline provisions airgapped RKE2 clusters with Rancher
via OpenTofu and Ansible, using per-build resource naming so concurrent
builds never collide.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	a.rootCmd.PersistentFlags().StringVar(&a.envFile, "env-file", "",
		"Optional .env file loaded before resolving defaults")

	a.rootCmd.AddCommand(
		NewSetupCmd(a),
		NewTestCmd(a),
		NewDestroyCmd(a),
		NewCleanupCmd(a),
		NewReportCmd(a),
		NewVersionCmd(a),
	)
}

// newPipeline loads the defaults and builds an initialized pipeline for the
// given build coordinates.
func (a *App) newPipeline(job, build, workDir string) (*airgap.SetupPipeline, *config.Defaults, error) {
	cfg, err := config.AddEnv(a.envFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}

	p := airgap.NewSetupPipeline(cfg, resources.NewExecRunner(cfg.TestTimeout))

	if cfg.S3Bucket != "" {
		s3, s3Err := aws.AddS3Client(aws.S3Config{
			Bucket: cfg.S3Bucket,
			Region: cfg.S3BucketRegion,
		})
		if s3Err != nil {
			resources.LogLevel("warn", "S3 client unavailable, skipping remote state checks: %v", s3Err)
		} else {
			p.WithS3(s3)
		}
	}

	if err := p.Initialize(job, build, workDir); err != nil {
		return nil, nil, err
	}

	return p, cfg, nil
}
