package airgap

import (
	"context"
	"fmt"
	"os"
	"path"

	"github.com/rancher/qa-infra-pipeline/internal/docker"
	"github.com/rancher/qa-infra-pipeline/pkg/report"
)

// RunTests executes the in-container test suite against the deployed cluster
// and publishes its JUnit result file. The container shares the per-build
// volume and env file; the result file is copied into the artifact directory
// after the run. On any non-zero exit the container is removed by the docker
// layer before the error surfaces.
func (p *SetupPipeline) RunTests(ctx context.Context, resultFile string) (report.Summary, error) {
	if err := p.ensureInitialized(); err != nil {
		return report.Summary{}, err
	}

	if resultFile == "" {
		resultFile = "results.xml"
	}

	if err := os.MkdirAll(p.state.ArtifactDir, 0o755); err != nil {
		return report.Summary{}, fmt.Errorf("mkdir artifact dir: %w", err)
	}

	if _, err := p.docker.Run(ctx, docker.RunConfig{
		Name:    p.state.ContainerName,
		EnvFile: p.state.EnvFile,
		WorkDir: "/workspace",
		Volumes: map[string]string{p.state.VolumeName: "/workspace"},
		Command: docker.DefaultTestCommand(p.cfg.TestTags, p.cfg.TestTimeout),
	}); err != nil {
		return report.Summary{}, err
	}

	return report.PublishFromContainer(ctx, p.docker,
		p.state.ContainerName, p.cfg.ToolsImage,
		path.Join("/workspace", resultFile), p.state.ArtifactDir)
}
