package airgap

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rancher/qa-infra-pipeline/config"
	"github.com/rancher/qa-infra-pipeline/internal/resources"
)

func testDefaults(destroyOnFailure string) *config.Defaults {
	return &config.Defaults{
		ToolsImage:       "rancher/infra-tools:latest",
		DockerPlatform:   "linux/amd64",
		TestTimeout:      30 * time.Minute,
		WorkspacePrefix:  "qa",
		DestroyOnFailure: destroyOnFailure,

		S3Bucket:       "qa-tf-state",
		S3BucketRegion: "us-east-1",

		RKE2Version:           "v1.30.1+rke2r1",
		RancherVersion:        "2.9.0",
		RancherHostnamePrefix: "rancher",
	}
}

// newTestPipeline returns an initialized pipeline backed by a fake runner and
// archiver, rooted in a temp workdir.
func newTestPipeline(destroyOnFailure string) (*SetupPipeline, *fakeRunner, *fakeArchiver) {
	runner := newFakeRunner()
	arch := &fakeArchiver{}

	p := NewSetupPipeline(testDefaults(destroyOnFailure), runner)
	p.store = arch

	Expect(p.Initialize("infra/airgap", "42", GinkgoT().TempDir())).To(Succeed())

	return p, runner, arch
}

var _ = Describe("Initialize", func() {
	It("resolves deterministic per-build resource names", func() {
		p, _, _ := newTestPipeline("false")

		st := p.State()
		Expect(st.ContainerName).To(Equal("infra-airgap-42"))
		Expect(st.ImageName).To(Equal("infra-airgap-42"))
		Expect(st.VolumeName).To(Equal("infra-airgap-42-vol"))
		Expect(st.Workspace).To(Equal("qa-infra-airgap-42"))
		Expect(st.RancherHostname).To(Equal("rancher-42"))
	})

	It("enumerates every missing argument", func() {
		p := NewSetupPipeline(testDefaults("false"), newFakeRunner())

		err := p.Initialize("", "", "")
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring(`missing required state key "job"`))
		Expect(err.Error()).To(ContainSubstring(`missing required state key "build"`))
		Expect(err.Error()).To(ContainSubstring(`missing required state key "workDir"`))
	})

	It("gates every other stage", func() {
		p := NewSetupPipeline(testDefaults("false"), newFakeRunner())
		ctx := context.Background()

		Expect(p.PrepareInfrastructure(ctx)).To(MatchError(ContainSubstring("not initialized")))
		Expect(p.DeployRKE2(ctx)).To(MatchError(ContainSubstring("not initialized")))
		Expect(p.CleanupResources(ctx)).To(MatchError(ContainSubstring("not initialized")))
		Expect(p.HandleFailureCleanup(ctx, "deployment")).To(MatchError(ContainSubstring("not initialized")))
	})
})

var _ = Describe("ConfigureEnvironment", func() {
	It("generates an SSH keypair and writes the env file", func() {
		p, _, _ := newTestPipeline("false")

		Expect(p.ConfigureEnvironment(context.Background())).To(Succeed())

		st := p.State()
		Expect(st.SSHKeys).NotTo(BeNil())
		Expect(st.SSHKeys.PrivateKeyPath).To(BeAnExistingFile())
		Expect(st.SSHKeys.PublicKeyPath).To(BeAnExistingFile())

		data, err := os.ReadFile(st.EnvFile)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(ContainSubstring("TF_WORKSPACE=qa-infra-airgap-42"))
		Expect(string(data)).To(ContainSubstring("RKE2_VERSION=v1.30.1+rke2r1"))
	})

	It("leaves a pinned public_ssh_key in the tfvars untouched", func() {
		p, _, _ := newTestPipeline("false")
		st := p.State()

		Expect(os.MkdirAll(filepath.Dir(st.TFVarsFile), 0o755)).To(Succeed())
		Expect(os.WriteFile(st.TFVarsFile,
			[]byte("public_ssh_key = \"ssh-ed25519 AAA pinned\"\n"), 0o644)).To(Succeed())

		Expect(p.ConfigureEnvironment(context.Background())).To(Succeed())

		data, err := os.ReadFile(st.TFVarsFile)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(ContainSubstring(`public_ssh_key = "ssh-ed25519 AAA pinned"`))
		Expect(string(data)).To(ContainSubstring(`hostname_prefix = "qa-infra-airgap-42"`))
	})
})

var _ = Describe("PrepareInfrastructure", func() {
	It("fails fast when backend settings are missing, without running anything", func() {
		runner := newFakeRunner()
		cfg := testDefaults("false")
		cfg.S3Bucket = ""
		cfg.S3BucketRegion = ""

		p := NewSetupPipeline(cfg, runner)
		p.store = &fakeArchiver{}
		Expect(p.Initialize("infra/airgap", "42", GinkgoT().TempDir())).To(Succeed())

		err := p.PrepareInfrastructure(context.Background())
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring(`missing required state key "S3Bucket"`))
		Expect(err.Error()).To(ContainSubstring(`missing required state key "S3BucketRegion"`))
		Expect(runner.callCount()).To(BeZero())
	})

	It("prepares container resources and the backend workspace", func() {
		p, runner, _ := newTestPipeline("false")

		Expect(p.PrepareInfrastructure(context.Background())).To(Succeed())

		calls := runner.joinedCalls()
		Expect(calls).To(ContainElement("docker volume create infra-airgap-42-vol"))
		Expect(calls).To(ContainElement("docker pull --platform linux/amd64 rancher/infra-tools:latest"))
		Expect(calls).To(ContainElement(
			"tofu init -backend-config=bucket=qa-tf-state " +
				"-backend-config=key=state/qa-infra-airgap-42/terraform.tfstate " +
				"-backend-config=region=us-east-1"))
		Expect(calls).To(ContainElement("tofu workspace new qa-infra-airgap-42"))
		Expect(calls).To(ContainElement("tofu workspace select qa-infra-airgap-42"))
	})

	It("prepares container resources only once per build", func() {
		p, runner, _ := newTestPipeline("false")
		ctx := context.Background()

		Expect(p.PrepareInfrastructure(ctx)).To(Succeed())
		Expect(p.PrepareInfrastructure(ctx)).To(Succeed())

		Expect(runner.callsContaining("docker volume create")).To(Equal(1))
		Expect(runner.callsContaining("docker pull")).To(Equal(1))
	})
})

var _ = Describe("DeployInfrastructure", func() {
	const outputJSON = `{
		"fqdn":          {"value": "rancher-42.qa.example.com", "type": "string"},
		"server_ips":    {"value": "10.0.1.10,10.0.1.11", "type": "string"},
		"worker_ips":    {"value": "10.0.2.10", "type": "string"},
		"registry_host": {"value": "10.0.3.5", "type": "string"}
	}`

	It("applies the root module and records the outputs", func() {
		p, runner, _ := newTestPipeline("false")
		runner.stubOn("output -json", outputJSON)

		Expect(p.DeployInfrastructure(context.Background())).To(Succeed())

		st := p.State()
		Expect(st.Outputs).To(HaveKeyWithValue("server_ips", "10.0.1.10,10.0.1.11"))
		Expect(st.RancherHostname).To(Equal("rancher-42.qa.example.com"))
		Expect(st.OutputsFile).To(BeAnExistingFile())
		Expect(runner.callsContaining("apply -auto-approve -var-file=")).To(Equal(1))
	})

	It("builds the ansible inventory from the recorded outputs", func() {
		p, runner, _ := newTestPipeline("false")
		runner.stubOn("output -json", outputJSON)
		ctx := context.Background()

		Expect(p.ConfigureEnvironment(ctx)).To(Succeed())
		Expect(p.DeployInfrastructure(ctx)).To(Succeed())
		Expect(p.PrepareAnsible(ctx)).To(Succeed())

		data, err := os.ReadFile(p.State().InventoryFile)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(ContainSubstring("servers"))
		Expect(string(data)).To(ContainSubstring("10.0.1.11"))
		Expect(string(data)).To(ContainSubstring("agents"))
		Expect(string(data)).To(ContainSubstring("10.0.2.10"))
	})

	It("templates the registries file with the provisioned registry address", func() {
		p, runner, _ := newTestPipeline("false")
		runner.stubOn("output -json", outputJSON)
		ctx := context.Background()

		registries := filepath.Join(p.State().WorkDir, "playbooks", "registries.yaml")
		Expect(os.MkdirAll(filepath.Dir(registries), 0o755)).To(Succeed())
		Expect(os.WriteFile(registries,
			[]byte("mirrors:\n  docker.io:\n    endpoint:\n      - \"https://REGISTRY_HOST:5000\"\n"), 0o644)).To(Succeed())

		Expect(p.ConfigureEnvironment(ctx)).To(Succeed())
		Expect(p.DeployInfrastructure(ctx)).To(Succeed())
		Expect(p.PrepareAnsible(ctx)).To(Succeed())

		data, err := os.ReadFile(registries)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(ContainSubstring("https://10.0.3.5:5000"))
		Expect(string(data)).NotTo(ContainSubstring("REGISTRY_HOST"))
	})
})

var _ = Describe("Playbook stages", func() {
	It("runs the rke2 playbook with the version pin", func() {
		p, runner, _ := newTestPipeline("false")

		Expect(p.DeployRKE2(context.Background())).To(Succeed())
		Expect(runner.callsContaining("ansible-playbook")).To(Equal(1))
		Expect(runner.callsContaining("kubernetes_version=v1.30.1+rke2r1")).To(Equal(1))
	})

	It("runs the rancher playbook with hostname and version", func() {
		p, runner, _ := newTestPipeline("false")

		Expect(p.DeployRancher(context.Background())).To(Succeed())
		Expect(runner.callsContaining("rancher-playbook.yml")).To(Equal(1))
		Expect(runner.callsContaining("rancher_hostname=rancher-42")).To(Equal(1))
		Expect(runner.callsContaining("rancher_version=2.9.0")).To(Equal(1))
	})
})

var _ = Describe("CleanupResources", func() {
	It("removes container, image, and volume exactly once", func() {
		p, runner, _ := newTestPipeline("false")
		ctx := context.Background()

		Expect(p.CleanupResources(ctx)).To(Succeed())
		Expect(p.CleanupResources(ctx)).To(Succeed())

		Expect(runner.callsContaining("docker rm -f infra-airgap-42")).To(Equal(1))
		Expect(runner.callsContaining("docker rmi -f infra-airgap-42")).To(Equal(1))
		Expect(runner.callsContaining("docker volume rm -f infra-airgap-42-vol")).To(Equal(1))
	})

	It("shreds the env file and removes the SSH keypair", func() {
		p, _, _ := newTestPipeline("false")
		ctx := context.Background()

		Expect(p.ConfigureEnvironment(ctx)).To(Succeed())
		Expect(p.CleanupResources(ctx)).To(Succeed())

		Expect(p.State().EnvFile).NotTo(BeAnExistingFile())
		Expect(p.State().SSHKeys.PrivateKeyPath).NotTo(BeAnExistingFile())
		Expect(p.State().SSHKeys.PublicKeyPath).NotTo(BeAnExistingFile())
	})

	It("keeps going when individual removals fail", func() {
		p, runner, _ := newTestPipeline("false")
		runner.failOn("docker rm", errors.New("no such container"))

		Expect(p.CleanupResources(context.Background())).To(Succeed())
		Expect(runner.callsContaining("docker volume rm")).To(Equal(1))
		Expect(p.State().CleanupCompleted).To(BeTrue())
	})
})

var _ = Describe("HandleFailureCleanup", func() {
	recordTeardown := func(p *SetupPipeline) *[]string {
		var mu sync.Mutex
		reasons := &[]string{}
		p.teardown = func(_ context.Context, reason string) error {
			mu.Lock()
			defer mu.Unlock()
			*reasons = append(*reasons, reason)
			return nil
		}

		return reasons
	}

	It("archives the deployment failure patterns", func() {
		p, _, arch := newTestPipeline("false")

		Expect(p.HandleFailureCleanup(context.Background(), "deployment")).To(Succeed())

		Expect(arch.archivedPatterns()).To(ConsistOf(
			[]string{"artifacts/**", "terraform.tfstate", "infrastructure-outputs.json"},
		))
		Expect(arch.extracted).To(HaveLen(1), "known diagnostics are extracted before archiving")
	})

	It("falls back to the default pattern for unknown failure types", func() {
		p, _, arch := newTestPipeline("false")

		Expect(p.HandleFailureCleanup(context.Background(), "mystery")).To(Succeed())
		Expect(arch.archivedPatterns()).To(ConsistOf([]string{"artifacts/**"}))
	})

	It("leaves infrastructure up when DESTROY_ON_FAILURE is off", func() {
		p, _, _ := newTestPipeline("false")
		reasons := recordTeardown(p)

		Expect(p.HandleFailureCleanup(context.Background(), "deployment")).To(Succeed())
		Expect(*reasons).To(BeEmpty())
	})

	It("tears down with a flattened reason when DESTROY_ON_FAILURE is on", func() {
		p, _, _ := newTestPipeline("true")
		reasons := recordTeardown(p)

		Expect(p.HandleFailureCleanup(context.Background(), "ansible-prep")).To(Succeed())
		Expect(*reasons).To(Equal([]string{"ansible_prep_failure"}))
	})

	It("honours DESTROY_ON_FAILURE case-insensitively", func() {
		p, _, _ := newTestPipeline("TRUE")
		reasons := recordTeardown(p)

		Expect(p.HandleFailureCleanup(context.Background(), "rke2")).To(Succeed())
		Expect(*reasons).To(Equal([]string{"rke2_failure"}))
	})

	It("runs the external teardown script with the reason when configured", func() {
		marker := filepath.Join(GinkgoT().TempDir(), "teardown.log")
		cfg := testDefaults("true")
		cfg.TeardownScript = "echo >>" + marker

		runner := newFakeRunner()
		p := NewSetupPipeline(cfg, runner)
		p.store = &fakeArchiver{}
		Expect(p.Initialize("infra/airgap", "42", GinkgoT().TempDir())).To(Succeed())

		Expect(p.HandleFailureCleanup(context.Background(), "deployment")).To(Succeed())

		data, err := os.ReadFile(marker)
		Expect(err).NotTo(HaveOccurred())
		Expect(strings.TrimSpace(string(data))).To(Equal("deployment_failure"))
		Expect(runner.callsContaining("destroy -auto-approve")).To(BeZero())
	})

	It("still tears down and cleans up when archiving fails", func() {
		p, _, _ := newTestPipeline("true")
		p.store = &fakeArchiver{archiveErr: errors.New("disk full")}
		reasons := recordTeardown(p)

		Expect(p.HandleFailureCleanup(context.Background(), "deployment")).To(Succeed())
		Expect(*reasons).To(Equal([]string{"deployment_failure"}))
		Expect(p.State().CleanupCompleted).To(BeTrue())
	})

	It("uploads archived diagnostics when a remote store is attached", func() {
		p, _, _ := newTestPipeline("false")
		remote := &fakeRemote{}
		p.WithS3(remote)

		Expect(p.HandleFailureCleanup(context.Background(), "rke2")).To(Succeed())

		Expect(remote.uploads).To(HaveLen(3))
		Expect(remote.uploads[0]).To(HavePrefix("failures/qa-infra-airgap-42/"))
	})

	It("cleans up per-build resources afterwards", func() {
		p, runner, _ := newTestPipeline("false")

		Expect(p.HandleFailureCleanup(context.Background(), "rancher")).To(Succeed())
		Expect(runner.callsContaining("docker rm -f infra-airgap-42")).To(Equal(1))
		Expect(p.State().CleanupCompleted).To(BeTrue())
	})
})

var _ = Describe("Destroy", func() {
	It("destroys the workspace infrastructure and cleans up", func() {
		p, runner, _ := newTestPipeline("false")

		Expect(p.Destroy(context.Background())).To(Succeed())

		calls := runner.joinedCalls()
		Expect(calls).To(ContainElement("tofu workspace select qa-infra-airgap-42"))
		Expect(runner.callsContaining("destroy -auto-approve")).To(Equal(1))
		Expect(calls).To(ContainElement("tofu workspace delete qa-infra-airgap-42"))
		Expect(runner.callsContaining("docker volume rm -f infra-airgap-42-vol")).To(Equal(1))
	})

	It("treats a stuck workspace delete as non-fatal", func() {
		p, runner, _ := newTestPipeline("false")
		runner.failOn("workspace delete", errors.New("workspace not empty"))

		Expect(p.Destroy(context.Background())).To(Succeed())
	})

	It("removes leftover remote state when a remote store is attached", func() {
		p, _, _ := newTestPipeline("false")
		remote := &fakeRemote{}
		p.WithS3(remote)

		Expect(p.Destroy(context.Background())).To(Succeed())
		Expect(remote.deleted).To(Equal([]string{"env:/qa-infra-airgap-42/"}))
	})
})

var _ = Describe("RunTests", func() {
	const junitXML = `<testsuites>
  <testsuite name="airgap" tests="2" failures="0" errors="0" skipped="0" time="4.2">
    <testcase classname="airgap" name="TestClusterUp" time="2.1"></testcase>
    <testcase classname="airgap" name="TestRancherReachable" time="2.1"></testcase>
  </testsuite>
</testsuites>`

	It("runs the suite container and publishes the copied results", func() {
		p, runner, _ := newTestPipeline("false")
		runner.cpContent = junitXML

		sum, err := p.RunTests(context.Background(), "results.xml")
		Expect(err).NotTo(HaveOccurred())
		Expect(sum.Tests).To(Equal(2))
		Expect(sum.Passed()).To(BeTrue())

		Expect(runner.callsContaining("docker run --name infra-airgap-42")).To(Equal(1))
		Expect(runner.callsContaining("-v infra-airgap-42-vol:/workspace")).To(Equal(1))
		Expect(runner.callsContaining("gotestsum")).To(Equal(1))
		Expect(runner.callsContaining("docker cp")).To(Equal(1))
		Expect(filepath.Join(p.State().ArtifactDir, "results.xml")).To(BeAnExistingFile())
	})

	It("surfaces a failed container run after removing it", func() {
		p, runner, _ := newTestPipeline("false")
		runner.failOn("docker run", &resources.CommandError{Cmd: "docker run", Status: 137, Stderr: "killed"})

		_, err := p.RunTests(context.Background(), "results.xml")
		Expect(err).To(MatchError(ContainSubstring("docker run infra-airgap-42 failed")))
		Expect(runner.callsContaining("docker rm -f infra-airgap-42")).To(Equal(1))
	})

	It("removes the container when the result copy fails", func() {
		p, runner, _ := newTestPipeline("false")
		runner.failOn("docker cp", errors.New("no such file"))

		_, err := p.RunTests(context.Background(), "")
		Expect(err).To(MatchError(ContainSubstring("copy results from container")))
		Expect(runner.callsContaining("docker rm -f infra-airgap-42")).To(Equal(1))
	})
})

var _ = Describe("WriteDeploymentSummary", func() {
	It("records deployment and infrastructure details", func() {
		p, _, _ := newTestPipeline("false")

		Expect(p.WriteDeploymentSummary()).To(Succeed())

		data, err := os.ReadFile(p.State().SummaryFile)
		Expect(err).NotTo(HaveOccurred())

		var summary map[string]map[string]string
		Expect(json.Unmarshal(data, &summary)).To(Succeed())
		Expect(summary["deployment_info"]).To(HaveKeyWithValue("job_name", "infra/airgap"))
		Expect(summary["deployment_info"]).To(HaveKeyWithValue("build_number", "42"))
		Expect(summary["deployment_info"]).To(HaveKeyWithValue("workspace", "qa-infra-airgap-42"))
		Expect(summary["infrastructure"]).To(HaveKeyWithValue("s3_bucket", "qa-tf-state"))
		Expect(summary["infrastructure"]).To(HaveKey("terraform_vars_file"))
		Expect(summary["deployment_info"]["timestamp"]).NotTo(BeEmpty())
	})

	It("reads the hostname prefix back from the tfvars file when present", func() {
		p, _, _ := newTestPipeline("false")
		st := p.State()

		Expect(os.MkdirAll(filepath.Dir(st.TFVarsFile), 0o755)).To(Succeed())
		Expect(os.WriteFile(st.TFVarsFile,
			[]byte("hostname_prefix = \"pinned-prefix\"\n"), 0o644)).To(Succeed())

		Expect(p.WriteDeploymentSummary()).To(Succeed())

		data, err := os.ReadFile(st.SummaryFile)
		Expect(err).NotTo(HaveOccurred())

		var summary map[string]map[string]string
		Expect(json.Unmarshal(data, &summary)).To(Succeed())
		Expect(summary["infrastructure"]).To(HaveKeyWithValue("hostname_prefix", "pinned-prefix"))
	})
})

var _ = Describe("CheckoutRepositories", func() {
	It("clones the infra and playbook repositories into the workdir", func() {
		p, runner, _ := newTestPipeline("false")

		Expect(p.CheckoutRepositories(context.Background(), DefaultRepoSet())).To(Succeed())

		Expect(runner.callsContaining("git clone --depth 1")).To(Equal(2))
		Expect(runner.callsContaining("sparse-checkout set ansible/rke2 ansible/rancher")).To(Equal(1))
		Expect(runner.callsContaining(filepath.Join(p.State().WorkDir, "infra"))).To(BeNumerically(">=", 1))
	})
})
