package airgap

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/rancher/qa-infra-pipeline/internal/sshkey"
)

// State is the explicit pipeline context: resolved resource names, file
// locations, and version pins for one build. It is created by Initialize and
// owned by the pipeline; stages read and mutate it in order.
type State struct {
	JobName     string
	BuildNumber string

	ContainerName string
	ImageName     string
	VolumeName    string
	Workspace     string

	WorkDir     string
	ArtifactDir string

	EnvFile       string
	TFVarsFile    string
	InventoryFile string
	VarsFile      string
	Kubeconfig    string
	OutputsFile   string
	SummaryFile   string

	RKE2Version     string
	RancherVersion  string
	RancherHostname string
	HostnamePrefix  string

	S3Bucket       string
	S3BucketRegion string

	SSHKeys *sshkey.Pair
	Outputs map[string]interface{}

	// ContainerPrepared makes container/image/volume creation idempotent per
	// build; CleanupCompleted does the same for resource cleanup.
	ContainerPrepared bool
	CleanupCompleted  bool

	initialized bool
}

func (p *SetupPipeline) ensureInitialized() error {
	if p.state == nil || !p.state.initialized {
		return errors.New("pipeline not initialized: call Initialize first")
	}

	return nil
}

// requireState fails fast when a stage precondition is missing, enumerating
// every missing key.
func requireState(stage string, fields map[string]string) error {
	var result *multierror.Error

	for key, value := range fields {
		if value == "" {
			result = multierror.Append(result,
				fmt.Errorf("%s: missing required state key %q", stage, key))
		}
	}

	return result.ErrorOrNil()
}
