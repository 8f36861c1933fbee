package airgap

import (
	"context"
	"fmt"

	"github.com/rancher/qa-infra-pipeline/internal/resources"
	"github.com/rancher/qa-infra-pipeline/internal/tofu"
)

// Destroy tears down the infrastructure of the current workspace and removes
// the workspace itself, then cleans up the per-build container resources.
// It is the counterpart pipeline to the setup stages and assumes Initialize
// and CheckoutRepositories have run so the root module is present.
func (p *SetupPipeline) Destroy(ctx context.Context) error {
	if err := p.ensureInitialized(); err != nil {
		return err
	}

	if err := requireState("destroy", map[string]string{
		"S3Bucket":       p.state.S3Bucket,
		"S3BucketRegion": p.state.S3BucketRegion,
		"Workspace":      p.state.Workspace,
	}); err != nil {
		return err
	}

	if err := p.tofu.InitWithBackend(ctx, tofu.BackendConfig{
		Bucket: p.state.S3Bucket,
		Key:    fmt.Sprintf("state/%s/terraform.tfstate", p.state.Workspace),
		Region: p.state.S3BucketRegion,
	}); err != nil {
		return err
	}

	if err := p.tofu.WorkspaceSelect(ctx, p.state.Workspace); err != nil {
		return err
	}

	if err := p.tofu.Destroy(ctx, p.state.TFVarsFile); err != nil {
		return err
	}

	if err := p.tofu.WorkspaceDelete(ctx, p.state.Workspace); err != nil {
		// the infrastructure is gone at this point, a stuck workspace is
		// an inconvenience rather than a leak.
		resources.LogLevel("warn", "Could not delete workspace %s: %v", p.state.Workspace, err)
	}

	if p.s3 != nil {
		if err := p.s3.DeleteStatePrefix("env:/" + p.state.Workspace + "/"); err != nil {
			resources.LogLevel("warn", "Could not remove leftover state for %s: %v", p.state.Workspace, err)
		}
	}

	resources.LogLevel("info", "Infrastructure for workspace %s destroyed", p.state.Workspace)

	return p.CleanupResources(ctx)
}
