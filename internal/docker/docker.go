// Package docker wraps the docker CLI for the per-build tool containers.
// All effects happen through a resources.Runner so argument assembly stays
// testable without a docker daemon.
package docker

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/rancher/qa-infra-pipeline/config"
	"github.com/rancher/qa-infra-pipeline/internal/resources"
)

type Docker struct {
	defaults *config.Defaults
	runner   resources.Runner
}

func New(defaults *config.Defaults, runner resources.Runner) *Docker {
	return &Docker{defaults: defaults, runner: runner}
}

// RunConfig describes one container run. Command is the shell form of the
// container command, Params the exec form; setting both is a configuration
// conflict and fails validation before any subprocess runs.
type RunConfig struct {
	Name     string
	Image    string
	Platform string
	Command  string
	Params   []string
	EnvFile  string
	WorkDir  string
	Env      map[string]string
	Volumes  map[string]string
	Timeout  time.Duration
}

func (c *RunConfig) validate() error {
	var result *multierror.Error

	if c.Name == "" {
		result = multierror.Append(result, fmt.Errorf("missing required field: Name"))
	}

	if c.Command != "" && len(c.Params) > 0 {
		result = multierror.Append(result,
			fmt.Errorf("Command and Params are mutually exclusive, set only one"))
	}

	return result.ErrorOrNil()
}

// applyDefaults fills omitted optional fields from the global configuration.
func (c *RunConfig) applyDefaults(d *config.Defaults) {
	if c.Image == "" {
		c.Image = d.ToolsImage
	}
	if c.Platform == "" {
		c.Platform = d.DockerPlatform
	}
	if c.Timeout == 0 {
		c.Timeout = d.TestTimeout
	}
}

func buildRunArgs(c *RunConfig) []string {
	args := []string{"run", "--name", c.Name}

	if c.Platform != "" {
		args = append(args, "--platform", c.Platform)
	}
	if c.EnvFile != "" {
		args = append(args, "--env-file", c.EnvFile)
	}
	if c.WorkDir != "" {
		args = append(args, "-w", c.WorkDir)
	}

	for _, k := range sortedKeys(c.Env) {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, c.Env[k]))
	}
	for _, v := range sortedKeys(c.Volumes) {
		args = append(args, "-v", fmt.Sprintf("%s:%s", v, c.Volumes[v]))
	}

	args = append(args, c.Image)

	if c.Command != "" {
		args = append(args, "sh", "-c", c.Command)
	} else {
		args = append(args, c.Params...)
	}

	return args
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}

// Run validates the config, runs the container, and waits for it to exit.
// On any non-zero exit, including a timeout kill (137), the container is
// removed with the same name/image pair before the error is returned, so a
// failed run never leaks resources.
func (d *Docker) Run(ctx context.Context, cfg RunConfig) (string, error) {
	if err := cfg.validate(); err != nil {
		return "", fmt.Errorf("invalid run config: %w", err)
	}
	cfg.applyDefaults(d.defaults)

	out, err := d.runner.Run(ctx, "", "docker", buildRunArgs(&cfg)...)
	if err != nil {
		status := resources.ExitStatus(err)
		resources.LogLevel("warn", "Container %s exited with status %d, removing it", cfg.Name, status)

		if rmErr := d.Remove(ctx, cfg.Name, cfg.Image); rmErr != nil {
			resources.LogLevel("warn", "Failed to remove container %s after run failure: %v", cfg.Name, rmErr)
		}

		return out, fmt.Errorf("docker run %s failed: %w", cfg.Name, err)
	}

	resources.LogLevel("info", "Container %s completed", cfg.Name)

	return out, nil
}

// Stop stops a running container.
func (d *Docker) Stop(ctx context.Context, name string) error {
	if _, err := d.runner.Run(ctx, "", "docker", "stop", name); err != nil {
		return fmt.Errorf("docker stop %s failed: %w", name, err)
	}

	return nil
}

// Remove force-removes the container and, when image is non-empty, its image.
func (d *Docker) Remove(ctx context.Context, name, image string) error {
	var result *multierror.Error

	if _, err := d.runner.Run(ctx, "", "docker", "rm", "-f", name); err != nil {
		result = multierror.Append(result, fmt.Errorf("docker rm %s failed: %w", name, err))
	}

	if image != "" {
		if err := d.RemoveImage(ctx, image); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}

// RemoveImage removes an image.
func (d *Docker) RemoveImage(ctx context.Context, image string) error {
	if _, err := d.runner.Run(ctx, "", "docker", "rmi", "-f", image); err != nil {
		return fmt.Errorf("docker rmi %s failed: %w", image, err)
	}

	return nil
}

// Pull pulls an image, optionally pinned to a platform.
func (d *Docker) Pull(ctx context.Context, image, platform string) error {
	args := []string{"pull"}
	if platform != "" {
		args = append(args, "--platform", platform)
	}
	args = append(args, image)

	if _, err := d.runner.Run(ctx, "", "docker", args...); err != nil {
		return fmt.Errorf("docker pull %s failed: %w", image, err)
	}

	return nil
}

// CreateVolume creates a named volume used to pass files between the build
// agent and the tool containers.
func (d *Docker) CreateVolume(ctx context.Context, name string) error {
	if _, err := d.runner.Run(ctx, "", "docker", "volume", "create", name); err != nil {
		return fmt.Errorf("docker volume create %s failed: %w", name, err)
	}

	return nil
}

// RemoveVolume removes a named volume.
func (d *Docker) RemoveVolume(ctx context.Context, name string) error {
	if _, err := d.runner.Run(ctx, "", "docker", "volume", "rm", "-f", name); err != nil {
		return fmt.Errorf("docker volume rm %s failed: %w", name, err)
	}

	return nil
}

// Copy copies a path out of a container onto the host.
func (d *Docker) Copy(ctx context.Context, container, src, dst string) error {
	if _, err := d.runner.Run(ctx, "", "docker", "cp", container+":"+src, dst); err != nil {
		return fmt.Errorf("docker cp from %s failed: %w", container, err)
	}

	return nil
}

// DefaultTestCommand builds the in-container test invocation from the global
// tag and timeout defaults.
func DefaultTestCommand(tags string, timeout time.Duration) string {
	cmd := "gotestsum --format standard-verbose --"
	if tags != "" {
		cmd += " -tags=" + tags
	}
	cmd += fmt.Sprintf(" -timeout=%s ./...", timeout)

	return cmd
}
