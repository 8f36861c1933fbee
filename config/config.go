package config

import (
	"fmt"
	"time"
)

// Defaults holds the environment-overridable values every tool invoker falls
// back to when a per-call config omits the field.
//
// Environment surface:
//
//	RANCHER_INFRA_TOOLS_IMAGE  image used for tool containers
//	DOCKER_PLATFORM            platform passed to docker run
//	TEST_DEFAULT_TAGS          build tags passed to the in-container test run
//	TEST_DEFAULT_TIMEOUT       timeout for the in-container test run
//	CONTAINER_SUFFIX           suffix appended to generated container names
//	IMAGE_PREFIX               prefix prepended to generated image names
//	WORKSPACE_PREFIX           prefix for OpenTofu workspace names
//	DESTROY_ON_FAILURE         "true" runs teardown during failure cleanup
//	TEARDOWN_SCRIPT            external script run instead of the built-in teardown
//	S3_BUCKET                  remote state / artifact bucket
//	S3_BUCKET_REGION           region of S3_BUCKET
//	RKE2_VERSION               rke2 version pin
//	RANCHER_VERSION            rancher version pin
//	RANCHER_HOSTNAME_PREFIX    prefix for the generated rancher hostname
type Defaults struct {
	ToolsImage       string
	DockerPlatform   string
	TestTags         string
	TestTimeout      time.Duration
	ContainerSuffix  string
	ImagePrefix      string
	WorkspacePrefix  string
	DestroyOnFailure string
	TeardownScript   string

	S3Bucket       string
	S3BucketRegion string

	RKE2Version           string
	RancherVersion        string
	RancherHostnamePrefix string
}

func loadDefaults() (*Defaults, error) {
	d := &Defaults{
		ToolsImage:       getEnvOr("RANCHER_INFRA_TOOLS_IMAGE", "rancher/infra-tools:latest"),
		DockerPlatform:   getEnvOr("DOCKER_PLATFORM", "linux/amd64"),
		TestTags:         getEnvOr("TEST_DEFAULT_TAGS", ""),
		ContainerSuffix:  getEnvOr("CONTAINER_SUFFIX", ""),
		ImagePrefix:      getEnvOr("IMAGE_PREFIX", ""),
		WorkspacePrefix:  getEnvOr("WORKSPACE_PREFIX", "qa"),
		DestroyOnFailure: getEnvOr("DESTROY_ON_FAILURE", "false"),
		TeardownScript:   getEnvOr("TEARDOWN_SCRIPT", ""),

		S3Bucket:       getEnvOr("S3_BUCKET", ""),
		S3BucketRegion: getEnvOr("S3_BUCKET_REGION", "us-east-1"),

		RKE2Version:           getEnvOr("RKE2_VERSION", ""),
		RancherVersion:        getEnvOr("RANCHER_VERSION", ""),
		RancherHostnamePrefix: getEnvOr("RANCHER_HOSTNAME_PREFIX", "rancher"),
	}

	timeout := getEnvOr("TEST_DEFAULT_TIMEOUT", "30m")
	parsed, err := time.ParseDuration(timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid TEST_DEFAULT_TIMEOUT %q: %w", timeout, err)
	}
	d.TestTimeout = parsed

	return d, nil
}
