// Package tofu wraps the OpenTofu CLI: backend init, workspace lifecycle,
// apply/destroy, and structured output retrieval.
package tofu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"github.com/gruntwork-io/terratest/modules/terraform"
	"github.com/hashicorp/go-multierror"
	tfjson "github.com/hashicorp/terraform-json"
	testingi "github.com/mitchellh/go-testing-interface"

	"github.com/rancher/qa-infra-pipeline/internal/resources"
)

type Tofu struct {
	// Dir is the working directory holding the root module.
	Dir    string
	binary string
	runner resources.Runner
}

func New(dir string, runner resources.Runner) *Tofu {
	binary := os.Getenv("TOFU_BINARY")
	if binary == "" {
		binary = "tofu"
	}

	return &Tofu{Dir: dir, binary: binary, runner: runner}
}

// BackendConfig identifies the S3 remote state location.
type BackendConfig struct {
	Bucket string
	Key    string
	Region string
}

func (b BackendConfig) validate() error {
	var result *multierror.Error

	if b.Bucket == "" {
		result = multierror.Append(result, fmt.Errorf("missing required field: Bucket"))
	}
	if b.Key == "" {
		result = multierror.Append(result, fmt.Errorf("missing required field: Key"))
	}
	if b.Region == "" {
		result = multierror.Append(result, fmt.Errorf("missing required field: Region"))
	}

	return result.ErrorOrNil()
}

// InitWithBackend runs init against the S3 backend. All three backend values
// are required and validation fails fast before any subprocess call.
func (t *Tofu) InitWithBackend(ctx context.Context, backend BackendConfig) error {
	if err := backend.validate(); err != nil {
		return fmt.Errorf("invalid backend config: %w", err)
	}

	args := []string{
		"init",
		"-backend-config=bucket=" + backend.Bucket,
		"-backend-config=key=" + backend.Key,
		"-backend-config=region=" + backend.Region,
	}

	if _, err := t.runner.Run(ctx, t.Dir, t.binary, args...); err != nil {
		return fmt.Errorf("%s init failed: %w", t.binary, err)
	}

	return nil
}

// Init runs a plain init without backend overrides.
func (t *Tofu) Init(ctx context.Context) error {
	if _, err := t.runner.Run(ctx, t.Dir, t.binary, "init"); err != nil {
		return fmt.Errorf("%s init failed: %w", t.binary, err)
	}

	return nil
}

func (t *Tofu) WorkspaceNew(ctx context.Context, name string) error {
	if _, err := t.runner.Run(ctx, t.Dir, t.binary, "workspace", "new", name); err != nil {
		return fmt.Errorf("%s workspace new %s failed: %w", t.binary, name, err)
	}

	return nil
}

func (t *Tofu) WorkspaceSelect(ctx context.Context, name string) error {
	if _, err := t.runner.Run(ctx, t.Dir, t.binary, "workspace", "select", name); err != nil {
		return fmt.Errorf("%s workspace select %s failed: %w", t.binary, name, err)
	}

	return nil
}

func (t *Tofu) WorkspaceDelete(ctx context.Context, name string) error {
	// deleting the active workspace is not allowed, drop back to default first.
	if _, err := t.runner.Run(ctx, t.Dir, t.binary, "workspace", "select", "default"); err != nil {
		return fmt.Errorf("%s workspace select default failed: %w", t.binary, err)
	}

	if _, err := t.runner.Run(ctx, t.Dir, t.binary, "workspace", "delete", name); err != nil {
		return fmt.Errorf("%s workspace delete %s failed: %w", t.binary, name, err)
	}

	return nil
}

// Apply runs apply -auto-approve, optionally with a var file.
func (t *Tofu) Apply(ctx context.Context, varFile string) error {
	args := []string{"apply", "-auto-approve"}
	if varFile != "" {
		args = append(args, "-var-file="+varFile)
	}

	if _, err := t.runner.Run(ctx, t.Dir, t.binary, args...); err != nil {
		return fmt.Errorf("%s apply failed: %w", t.binary, err)
	}

	return nil
}

// Destroy runs destroy -auto-approve, optionally with a var file.
func (t *Tofu) Destroy(ctx context.Context, varFile string) error {
	args := []string{"destroy", "-auto-approve"}
	if varFile != "" {
		args = append(args, "-var-file="+varFile)
	}

	if _, err := t.runner.Run(ctx, t.Dir, t.binary, args...); err != nil {
		return fmt.Errorf("%s destroy failed: %w", t.binary, err)
	}

	return nil
}

// Output retrieves all root module outputs as a key-value map. The raw JSON
// is always returned; when it cannot be parsed the map is nil and a warning
// is logged instead of failing the stage.
func (t *Tofu) Output(ctx context.Context) (map[string]interface{}, string, error) {
	raw, err := t.runner.Run(ctx, t.Dir, t.binary, "output", "-json")
	if err != nil {
		return nil, raw, fmt.Errorf("%s output failed: %w", t.binary, err)
	}

	var parsed map[string]*tfjson.StateOutput
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		resources.LogLevel("warn", "Could not parse %s output as JSON, returning raw string: %v", t.binary, err)
		return nil, raw, nil
	}

	outputs := make(map[string]interface{}, len(parsed))
	for name, out := range parsed {
		outputs[name] = out.Value
	}

	return outputs, raw, nil
}

// VarFromFile reads a single variable value from a tfvars file.
func VarFromFile(varFile, key string) (string, error) {
	rt := &testingi.RuntimeT{}

	value, err := terraform.GetVariableAsStringFromVarFileE(rt, varFile, key)
	if err != nil {
		return "", fmt.Errorf("read %s from %s: %w", key, varFile, err)
	}

	return value, nil
}

// SetOrAppendVar sets or appends a key-value pair in the tfvars file, so
// variables missing upstream can be added without breaking existing ones.
func SetOrAppendVar(tfvarsPath, key, value string) error {
	fileData, err := os.ReadFile(tfvarsPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", tfvarsPath, err)
	}

	reg := regexp.MustCompile(`(?m)^\s*` + regexp.QuoteMeta(key) + `\s*=\s*".*"\s*$`)
	line := []byte(fmt.Sprintf(`%s = %q`, key, value))

	if reg.Match(fileData) {
		fileData = reg.ReplaceAll(fileData, line)
	} else {
		if len(fileData) > 0 && !bytes.HasSuffix(fileData, []byte{'\n'}) {
			fileData = append(fileData, '\n')
		}

		fileData = append(fileData, append(line, '\n')...)
	}

	return os.WriteFile(tfvarsPath, fileData, 0o644)
}
