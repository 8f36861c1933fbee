package airgap

import (
	"time"

	"github.com/rancher/qa-infra-pipeline/internal/resources"
	"github.com/rancher/qa-infra-pipeline/internal/tofu"
)

// DeploymentSummary is the machine-readable record of one completed setup,
// written next to the other build outputs and archived with them.
type DeploymentSummary struct {
	DeploymentInfo DeploymentInfo `json:"deployment_info"`
	Infrastructure Infrastructure `json:"infrastructure"`
}

type DeploymentInfo struct {
	Timestamp       string `json:"timestamp"`
	BuildNumber     string `json:"build_number"`
	JobName         string `json:"job_name"`
	Workspace       string `json:"workspace"`
	RKE2Version     string `json:"rke2_version"`
	RancherVersion  string `json:"rancher_version"`
	RancherHostname string `json:"rancher_hostname"`
}

type Infrastructure struct {
	TerraformVarsFile string `json:"terraform_vars_file"`
	S3Bucket          string `json:"s3_bucket"`
	S3BucketRegion    string `json:"s3_bucket_region"`
	HostnamePrefix    string `json:"hostname_prefix"`
}

// WriteDeploymentSummary writes the summary JSON for the current build.
func (p *SetupPipeline) WriteDeploymentSummary() error {
	if err := p.ensureInitialized(); err != nil {
		return err
	}

	// the tfvars file is what the root module actually consumed, so it is
	// the source of truth for the prefix when it disagrees with state.
	hostnamePrefix := p.state.HostnamePrefix
	if v, err := tofu.VarFromFile(p.state.TFVarsFile, "hostname_prefix"); err == nil && v != "" {
		hostnamePrefix = v
	}

	summary := DeploymentSummary{
		DeploymentInfo: DeploymentInfo{
			Timestamp:       time.Now().UTC().Format(time.RFC3339),
			BuildNumber:     p.state.BuildNumber,
			JobName:         p.state.JobName,
			Workspace:       p.state.Workspace,
			RKE2Version:     p.state.RKE2Version,
			RancherVersion:  p.state.RancherVersion,
			RancherHostname: p.state.RancherHostname,
		},
		Infrastructure: Infrastructure{
			TerraformVarsFile: p.state.TFVarsFile,
			S3Bucket:          p.state.S3Bucket,
			S3BucketRegion:    p.state.S3BucketRegion,
			HostnamePrefix:    hostnamePrefix,
		},
	}

	if err := writeJSON(p.state.SummaryFile, summary); err != nil {
		return err
	}

	resources.LogLevel("info", "Deployment summary written to %s", p.state.SummaryFile)

	return nil
}
