package airgap

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/rancher/qa-infra-pipeline/internal/resources"
)

// failurePatterns maps a failure type to the artifact glob patterns worth
// preserving for that kind of failure.
var failurePatterns = map[string][]string{
	"deployment":   {"artifacts/**", "terraform.tfstate", "infrastructure-outputs.json"},
	"ansible-prep": {"artifacts/**", "ansible-inventory.yml", "*.log"},
	"rke2":         {"artifacts/**", "kubeconfig.yaml", "rke2-journal.log"},
	"rancher":      {"artifacts/**", "kubeconfig.yaml", "deployment-summary.json"},
}

var defaultFailurePatterns = []string{"artifacts/**"}

// CleanupResources removes the per-build container, image, and volume. It is
// idempotent: once a cleanup pass completed, later calls are no-ops, so the
// post-build cleanup and an earlier failure-path cleanup never double-delete.
// Individual removal failures are logged and do not stop the rest of the pass.
func (p *SetupPipeline) CleanupResources(ctx context.Context) error {
	if err := p.ensureInitialized(); err != nil {
		return err
	}

	if p.state.CleanupCompleted {
		resources.LogLevel("debug", "Resource cleanup already completed, skipping")
		return nil
	}

	if err := p.docker.Remove(ctx, p.state.ContainerName, p.state.ImageName); err != nil {
		resources.LogLevel("warn", "Container cleanup incomplete: %v", err)
	}

	if err := p.docker.RemoveVolume(ctx, p.state.VolumeName); err != nil {
		resources.LogLevel("warn", "Volume cleanup incomplete: %v", err)
	}

	if p.state.SSHKeys != nil {
		if err := p.state.SSHKeys.Cleanup(); err != nil {
			resources.LogLevel("warn", "SSH key cleanup incomplete: %v", err)
		}
	}

	if err := resources.Shred(p.state.EnvFile); err != nil {
		resources.LogLevel("warn", "Env file shred incomplete: %v", err)
	}

	p.state.CleanupCompleted = true
	resources.LogLevel("info", "Per-build resources cleaned up")

	return nil
}

// HandleFailureCleanup preserves diagnostics for the given failure type and,
// when DESTROY_ON_FAILURE is enabled, tears the infrastructure down. The
// teardown reason is the failure type with dashes flattened to underscores
// plus a "_failure" suffix, e.g. "ansible-prep" becomes
// "ansible_prep_failure".
func (p *SetupPipeline) HandleFailureCleanup(ctx context.Context, failureType string) error {
	if err := p.ensureInitialized(); err != nil {
		return err
	}

	resources.LogLevel("warn", "Handling %s failure for build %s", failureType, p.state.BuildNumber)

	// pull known diagnostics into the artifact dir first so the pattern
	// archive below can pick them up. Missing sources are skipped.
	p.store.Extract(map[string]string{
		p.state.Kubeconfig:  "kubeconfig.yaml",
		p.state.OutputsFile: "infrastructure-outputs.json",
		p.state.SummaryFile: "deployment-summary.json",
	})

	patterns, ok := failurePatterns[failureType]
	if !ok {
		patterns = defaultFailurePatterns
	}

	var result *multierror.Error

	// archiving is best-effort diagnostics collection; teardown and resource
	// cleanup still run when it fails.
	archived, err := p.store.Archive(patterns)
	if err != nil {
		resources.LogLevel("warn", "Failure artifact archiving incomplete: %v", err)
	}

	if p.s3 != nil {
		prefix := "failures/" + p.state.Workspace
		for _, rel := range archived {
			if _, upErr := p.s3.UploadArtifact(prefix, filepath.Join(p.state.ArtifactDir, rel)); upErr != nil {
				resources.LogLevel("warn", "Could not upload failure artifact %s: %v", rel, upErr)
			}
		}
	}

	if strings.EqualFold(p.cfg.DestroyOnFailure, "true") {
		reason := strings.ReplaceAll(failureType, "-", "_") + "_failure"
		if err := p.teardown(ctx, reason); err != nil {
			result = multierror.Append(result, err)
		}
	} else {
		resources.LogLevel("info", "DESTROY_ON_FAILURE not set, leaving infrastructure for inspection")
	}

	if err := p.CleanupResources(ctx); err != nil {
		result = multierror.Append(result, err)
	}

	return result.ErrorOrNil()
}
