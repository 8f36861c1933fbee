// Package airgap orchestrates the airgapped cluster provisioning sequence:
// OpenTofu infrastructure creation followed by Ansible-driven RKE2 and
// Rancher installation, with per-build resource naming and best-effort
// cleanup. Stages are invoked explicitly by the caller in order; the pipeline
// enforces initialization and per-stage preconditions, not full ordering.
package airgap

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rancher/qa-infra-pipeline/config"
	"github.com/rancher/qa-infra-pipeline/internal/ansible"
	"github.com/rancher/qa-infra-pipeline/internal/artifact"
	"github.com/rancher/qa-infra-pipeline/internal/docker"
	"github.com/rancher/qa-infra-pipeline/internal/repo"
	"github.com/rancher/qa-infra-pipeline/internal/resources"
	"github.com/rancher/qa-infra-pipeline/internal/sshkey"
	"github.com/rancher/qa-infra-pipeline/internal/tofu"
	"github.com/rancher/qa-infra-pipeline/pkg/naming"
)

// archiver collects artifacts during failure handling.
type archiver interface {
	Archive(patterns []string) ([]string, error)
	Extract(files map[string]string)
}

// remoteStore is the S3 surface the pipeline uses: leftover state checks,
// failure artifact preservation, and stale state removal after destroy.
type remoteStore interface {
	StateExists(prefix string) (bool, error)
	UploadArtifact(prefix, path string) (string, error)
	DeleteStatePrefix(prefix string) error
}

type SetupPipeline struct {
	cfg    *config.Defaults
	runner resources.Runner

	docker  *docker.Docker
	tofu    *tofu.Tofu
	ansible *ansible.Ansible
	git     *repo.Git

	store    archiver
	s3       remoteStore
	teardown func(ctx context.Context, reason string) error

	state *State
}

func NewSetupPipeline(cfg *config.Defaults, runner resources.Runner) *SetupPipeline {
	p := &SetupPipeline{
		cfg:    cfg,
		runner: runner,
		docker: docker.New(cfg, runner),
		git:    repo.New(runner),
	}
	p.teardown = p.destroyInfrastructure

	return p
}

// WithS3 attaches the remote store used for leftover state checks, failure
// artifact uploads, and stale state removal.
func (p *SetupPipeline) WithS3(store remoteStore) *SetupPipeline {
	p.s3 = store
	return p
}

// State exposes the pipeline context for summary writing and inspection.
func (p *SetupPipeline) State() *State { return p.state }

// Initialize resolves all per-build names and file locations. Every other
// stage fails until this has run.
func (p *SetupPipeline) Initialize(job, build, workDir string) error {
	if err := requireState("initialize", map[string]string{
		"job":     job,
		"build":   build,
		"workDir": workDir,
	}); err != nil {
		return err
	}

	containerName := naming.ContainerName(job, build, p.cfg.ContainerSuffix)
	imageName := naming.ImageName(job, build, p.cfg.ImagePrefix)
	workspace := naming.WorkspaceName(job, build, p.cfg.WorkspacePrefix)

	for _, name := range []string{containerName, imageName, workspace} {
		if err := naming.ValidateName(name, naming.DefaultMinLen, naming.DefaultMaxLen); err != nil {
			return fmt.Errorf("generated resource name rejected: %w", err)
		}
	}

	infraDir := filepath.Join(workDir, "infra")
	ansibleDir := filepath.Join(workDir, "playbooks")

	p.state = &State{
		JobName:     job,
		BuildNumber: build,

		ContainerName: containerName,
		ImageName:     imageName,
		VolumeName:    naming.VolumeName(job, build),
		Workspace:     workspace,

		WorkDir:     workDir,
		ArtifactDir: filepath.Join(workDir, "artifacts"),

		EnvFile:       filepath.Join(workDir, ".env"),
		TFVarsFile:    filepath.Join(infraDir, "vars.tfvars"),
		InventoryFile: filepath.Join(workDir, "ansible-inventory.yml"),
		VarsFile:      filepath.Join(ansibleDir, "vars.yaml"),
		Kubeconfig:    filepath.Join(workDir, "kubeconfig.yaml"),
		OutputsFile:   filepath.Join(workDir, "infrastructure-outputs.json"),
		SummaryFile:   filepath.Join(workDir, "deployment-summary.json"),

		RKE2Version:     p.cfg.RKE2Version,
		RancherVersion:  p.cfg.RancherVersion,
		RancherHostname: p.cfg.RancherHostnamePrefix + "-" + naming.SanitizeName(build),
		HostnamePrefix:  naming.SanitizeName(fmt.Sprintf("%s-%s-%s", p.cfg.WorkspacePrefix, job, build)),

		S3Bucket:       p.cfg.S3Bucket,
		S3BucketRegion: p.cfg.S3BucketRegion,

		initialized: true,
	}

	p.tofu = tofu.New(infraDir, p.runner)
	p.ansible = ansible.New(ansibleDir, p.runner)
	if p.store == nil {
		p.store = artifact.NewStore(workDir, p.state.ArtifactDir)
	}

	resources.LogLevel("info", "Pipeline initialized for %s #%s (workspace %s)", job, build, workspace)

	return nil
}

// RepoSet names the repositories one setup run checks out.
type RepoSet struct {
	InfraURL       string
	InfraBranch    string
	PlaybookURL    string
	PlaybookBranch string
	PlaybookPaths  []string
}

func DefaultRepoSet() RepoSet {
	return RepoSet{
		InfraURL:      "https://github.com/rancher/qa-infra-automation.git",
		PlaybookURL:   "https://github.com/rancher/qa-infra-automation.git",
		PlaybookPaths: []string{"ansible/rke2", "ansible/rancher"},
	}
}

// CheckoutRepositories clones the infrastructure modules and the ansible
// playbooks into the build workspace.
func (p *SetupPipeline) CheckoutRepositories(ctx context.Context, repos RepoSet) error {
	if err := p.ensureInitialized(); err != nil {
		return err
	}

	if err := p.git.Checkout(ctx, repo.CheckoutConfig{
		URL:    repos.InfraURL,
		Branch: repos.InfraBranch,
		Dir:    filepath.Join(p.state.WorkDir, "infra"),
	}); err != nil {
		return fmt.Errorf("checkout infrastructure repo: %w", err)
	}

	if err := p.git.Checkout(ctx, repo.CheckoutConfig{
		URL:    repos.PlaybookURL,
		Branch: repos.PlaybookBranch,
		Dir:    filepath.Join(p.state.WorkDir, "playbooks"),
		Paths:  repos.PlaybookPaths,
	}); err != nil {
		return fmt.Errorf("checkout playbook repo: %w", err)
	}

	return nil
}

// ConfigureEnvironment generates the per-build SSH keypair and writes the
// pipeline env file consumed by the tool containers.
func (p *SetupPipeline) ConfigureEnvironment(ctx context.Context) error {
	if err := p.ensureInitialized(); err != nil {
		return err
	}

	keys, err := sshkey.Generate(filepath.Join(p.state.WorkDir, ".ssh"), "id_ed25519")
	if err != nil {
		return fmt.Errorf("configure environment: %w", err)
	}
	p.state.SSHKeys = keys

	envVars := map[string]string{
		"JOB_NAME":         p.state.JobName,
		"BUILD_NUMBER":     p.state.BuildNumber,
		"TF_WORKSPACE":     p.state.Workspace,
		"KUBECONFIG":       p.state.Kubeconfig,
		"S3_BUCKET":        p.state.S3Bucket,
		"S3_BUCKET_REGION": p.state.S3BucketRegion,
		"RKE2_VERSION":     p.state.RKE2Version,
		"RANCHER_VERSION":  p.state.RancherVersion,
		"RANCHER_HOSTNAME": p.state.RancherHostname,
	}
	order := []string{
		"JOB_NAME", "BUILD_NUMBER", "TF_WORKSPACE", "KUBECONFIG",
		"S3_BUCKET", "S3_BUCKET_REGION", "RKE2_VERSION", "RANCHER_VERSION",
		"RANCHER_HOSTNAME",
	}
	if err := resources.WriteEnvFile(p.state.EnvFile, envVars, order); err != nil {
		return fmt.Errorf("write env file: %w", err)
	}

	// the public key feeds the tfvars so nodes come up reachable. A key
	// already pinned in the tfvars upstream wins over the generated one.
	if _, statErr := os.Stat(p.state.TFVarsFile); statErr == nil {
		existing, readErr := tofu.VarFromFile(p.state.TFVarsFile, "public_ssh_key")
		if readErr != nil || existing == "" {
			if err := tofu.SetOrAppendVar(p.state.TFVarsFile, "public_ssh_key", keys.PublicKeyPath); err != nil {
				resources.LogLevel("warn", "Failed to set public_ssh_key in tfvars: %v", err)
			}
		}
		if err := tofu.SetOrAppendVar(p.state.TFVarsFile, "hostname_prefix", p.state.HostnamePrefix); err != nil {
			resources.LogLevel("warn", "Failed to set hostname_prefix in tfvars: %v", err)
		}
	}

	return nil
}

// PrepareInfrastructure prepares the per-build container resources and the
// OpenTofu backend and workspace.
func (p *SetupPipeline) PrepareInfrastructure(ctx context.Context) error {
	if err := p.ensureInitialized(); err != nil {
		return err
	}

	if err := requireState("prepare-infrastructure", map[string]string{
		"S3Bucket":       p.state.S3Bucket,
		"S3BucketRegion": p.state.S3BucketRegion,
		"Workspace":      p.state.Workspace,
	}); err != nil {
		return err
	}

	if err := p.prepareContainerResources(ctx); err != nil {
		return err
	}

	if p.s3 != nil {
		exists, err := p.s3.StateExists("env:/" + p.state.Workspace + "/")
		if err != nil {
			resources.LogLevel("warn", "Could not check remote state: %v", err)
		} else if exists {
			resources.LogLevel("warn", "Leftover remote state found for workspace %s", p.state.Workspace)
		}
	}

	if err := p.tofu.InitWithBackend(ctx, tofu.BackendConfig{
		Bucket: p.state.S3Bucket,
		Key:    fmt.Sprintf("state/%s/terraform.tfstate", p.state.Workspace),
		Region: p.state.S3BucketRegion,
	}); err != nil {
		return err
	}

	if err := p.tofu.WorkspaceNew(ctx, p.state.Workspace); err != nil {
		return err
	}

	return p.tofu.WorkspaceSelect(ctx, p.state.Workspace)
}

// prepareContainerResources creates the shared volume and pulls the tools
// image exactly once per build.
func (p *SetupPipeline) prepareContainerResources(ctx context.Context) error {
	if p.state.ContainerPrepared {
		resources.LogLevel("debug", "Container resources already prepared, skipping")
		return nil
	}

	if err := p.docker.CreateVolume(ctx, p.state.VolumeName); err != nil {
		return err
	}

	if err := p.docker.Pull(ctx, p.cfg.ToolsImage, p.cfg.DockerPlatform); err != nil {
		return err
	}

	p.state.ContainerPrepared = true

	return nil
}

// DeployInfrastructure applies the root module and records its outputs.
func (p *SetupPipeline) DeployInfrastructure(ctx context.Context) error {
	if err := p.ensureInitialized(); err != nil {
		return err
	}

	if err := requireState("deploy-infrastructure", map[string]string{
		"TFVarsFile": p.state.TFVarsFile,
	}); err != nil {
		return err
	}

	if err := p.tofu.Apply(ctx, p.state.TFVarsFile); err != nil {
		return err
	}

	outputs, raw, err := p.tofu.Output(ctx)
	if err != nil {
		return err
	}
	p.state.Outputs = outputs

	if err := os.WriteFile(p.state.OutputsFile, []byte(raw), 0o644); err != nil {
		return fmt.Errorf("write infrastructure outputs: %w", err)
	}

	if fqdn, ok := outputs["fqdn"].(string); ok && fqdn != "" {
		p.state.RancherHostname = fqdn
	}

	resources.LogLevel("info", "Infrastructure deployed, outputs written to %s", p.state.OutputsFile)

	return nil
}

// PrepareAnsible renders the static inventory and vars file from the
// infrastructure outputs.
func (p *SetupPipeline) PrepareAnsible(ctx context.Context) error {
	if err := p.ensureInitialized(); err != nil {
		return err
	}

	if p.state.Outputs == nil {
		return fmt.Errorf("prepare-ansible: missing required state key %q", "Outputs")
	}
	if p.state.SSHKeys == nil {
		return fmt.Errorf("prepare-ansible: missing required state key %q", "SSHKeys")
	}

	inv := inventoryFromOutputs(p.state.Outputs, p.state.SSHKeys.PrivateKeyPath)
	if err := ansible.WriteInventory(p.state.InventoryFile, inv); err != nil {
		return err
	}

	vars := map[string]string{
		"kubernetes_version": p.state.RKE2Version,
		"kubeconfig_file":    p.state.Kubeconfig,
	}
	if err := ansible.WriteVarsFile(p.state.VarsFile, vars); err != nil {
		return err
	}

	// airgapped nodes pull images through the registry the root module
	// provisions; the playbook ships a registries template with a
	// placeholder address.
	if host, ok := p.state.Outputs["registry_host"].(string); ok && host != "" {
		registries := filepath.Join(p.ansible.Dir, "registries.yaml")
		if _, statErr := os.Stat(registries); statErr == nil {
			if err := resources.ReplaceFileContents(registries, map[string]string{
				"REGISTRY_HOST": host,
			}); err != nil {
				resources.LogLevel("warn", "Could not template registries file: %v", err)
			}
		}
	}

	if out, err := p.ansible.InventoryList(ctx, p.state.InventoryFile); err != nil {
		resources.LogLevel("warn", "Could not render inventory listing: %v", err)
	} else {
		resources.LogLevel("debug", "Resolved inventory:\n%s", out)
	}

	return nil
}

// inventoryFromOutputs builds the server/agent groups from the comma-joined
// IP outputs of the root module.
func inventoryFromOutputs(outputs map[string]interface{}, privKeyPath string) ansible.Inventory {
	inv := ansible.Inventory{
		All: ansible.InventoryGroup{
			Vars: map[string]string{
				"ansible_ssh_private_key_file": privKeyPath,
				"ansible_host_key_checking":    "False",
			},
			Children: map[string]ansible.InventoryHost{},
		},
	}

	groups := map[string]string{
		"servers": "server_ips",
		"agents":  "worker_ips",
	}
	for group, key := range groups {
		raw, ok := outputs[key].(string)
		if !ok || raw == "" {
			continue
		}

		hosts := map[string]map[string]string{}
		for i, ip := range strings.Split(raw, ",") {
			ip = strings.TrimSpace(ip)
			if ip == "" {
				continue
			}
			hosts[fmt.Sprintf("%s-%d", strings.TrimSuffix(group, "s"), i)] = map[string]string{
				"ansible_host": ip,
			}
		}

		if len(hosts) > 0 {
			inv.All.Children[group] = ansible.InventoryHost{Hosts: hosts}
		}
	}

	return inv
}

// DeployRKE2 runs the rke2 playbook against the rendered inventory.
func (p *SetupPipeline) DeployRKE2(ctx context.Context) error {
	if err := p.ensureInitialized(); err != nil {
		return err
	}

	if err := requireState("deploy-rke2", map[string]string{
		"InventoryFile": p.state.InventoryFile,
		"RKE2Version":   p.state.RKE2Version,
	}); err != nil {
		return err
	}

	return p.ansible.Playbook(ctx, ansible.PlaybookConfig{
		Playbook:  "rke2-playbook.yml",
		Inventory: p.state.InventoryFile,
		ExtraVars: map[string]string{
			"kubernetes_version": p.state.RKE2Version,
			"kubeconfig_file":    p.state.Kubeconfig,
		},
	})
}

// DeployRancher runs the rancher playbook after RKE2 is up.
func (p *SetupPipeline) DeployRancher(ctx context.Context) error {
	if err := p.ensureInitialized(); err != nil {
		return err
	}

	if err := requireState("deploy-rancher", map[string]string{
		"InventoryFile":   p.state.InventoryFile,
		"RancherVersion":  p.state.RancherVersion,
		"RancherHostname": p.state.RancherHostname,
	}); err != nil {
		return err
	}

	return p.ansible.Playbook(ctx, ansible.PlaybookConfig{
		Playbook:  "rancher-playbook.yml",
		Inventory: p.state.InventoryFile,
		ExtraVars: map[string]string{
			"rancher_version":  p.state.RancherVersion,
			"rancher_hostname": p.state.RancherHostname,
			"kubeconfig_file":  p.state.Kubeconfig,
		},
	})
}

// destroyInfrastructure is the default teardown used by failure handling.
// When TEARDOWN_SCRIPT is configured, that script is run with the reason as
// its argument instead of the built-in tofu destroy sequence.
func (p *SetupPipeline) destroyInfrastructure(ctx context.Context, reason string) error {
	resources.LogLevel("warn", "Tearing down infrastructure, reason: %s", reason)

	if p.cfg.TeardownScript != "" {
		out, err := resources.RunCommandHost(p.cfg.TeardownScript + " " + reason)
		if err != nil {
			return fmt.Errorf("teardown script failed: %w", err)
		}
		if out != "" {
			resources.LogLevel("debug", "Teardown script output:\n%s", out)
		}

		return nil
	}

	if err := p.tofu.WorkspaceSelect(ctx, p.state.Workspace); err != nil {
		return err
	}
	if err := p.tofu.Destroy(ctx, p.state.TFVarsFile); err != nil {
		return err
	}

	return p.tofu.WorkspaceDelete(ctx, p.state.Workspace)
}

// writeJSON writes v pretty-printed to path.
func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}

	return os.WriteFile(path, append(data, '\n'), 0o644)
}
