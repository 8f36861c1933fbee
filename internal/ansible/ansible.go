// Package ansible wraps ansible-playbook and ansible-inventory for the
// RKE2/Rancher installation stages.
package ansible

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/rancher/qa-infra-pipeline/internal/resources"
)

type Ansible struct {
	// Dir is the directory holding the playbooks and ansible.cfg.
	Dir    string
	runner resources.Runner
}

func New(dir string, runner resources.Runner) *Ansible {
	return &Ansible{Dir: dir, runner: runner}
}

// PlaybookConfig describes one ansible-playbook invocation.
type PlaybookConfig struct {
	Playbook  string
	Inventory string
	ExtraVars map[string]string
	Tags      string
	Limit     string
}

func (c *PlaybookConfig) validate() error {
	var result *multierror.Error

	if c.Playbook == "" {
		result = multierror.Append(result, fmt.Errorf("missing required field: Playbook"))
	}
	if c.Inventory == "" {
		result = multierror.Append(result, fmt.Errorf("missing required field: Inventory"))
	}

	return result.ErrorOrNil()
}

func buildPlaybookArgs(c *PlaybookConfig) []string {
	args := []string{"-i", c.Inventory, c.Playbook}

	for _, k := range sortedKeys(c.ExtraVars) {
		args = append(args, "--extra-vars", fmt.Sprintf("%s=%s", k, c.ExtraVars[k]))
	}

	if c.Tags != "" {
		args = append(args, "--tags", c.Tags)
	}
	if c.Limit != "" {
		args = append(args, "--limit", c.Limit)
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

// Playbook validates the config and runs ansible-playbook.
func (a *Ansible) Playbook(ctx context.Context, cfg PlaybookConfig) error {
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("invalid playbook config: %w", err)
	}

	resources.LogLevel("info", "Running playbook %s with inventory %s", cfg.Playbook, cfg.Inventory)

	if _, err := a.runner.Run(ctx, a.Dir, "ansible-playbook", buildPlaybookArgs(&cfg)...); err != nil {
		return fmt.Errorf("ansible playbook %s failed: %w", cfg.Playbook, err)
	}

	resources.LogLevel("info", "Ansible playbook execution completed successfully")

	return nil
}

// InventoryList renders the inventory as seen by ansible, useful for
// diagnostics before the playbook stages run.
func (a *Ansible) InventoryList(ctx context.Context, inventory string) (string, error) {
	if inventory == "" {
		return "", fmt.Errorf("missing required field: inventory")
	}

	out, err := a.runner.Run(ctx, a.Dir, "ansible-inventory", "-i", inventory, "--list")
	if err != nil {
		return "", fmt.Errorf("ansible-inventory failed: %w", err)
	}

	return out, nil
}

// WriteVarsFile writes the playbook variables as YAML.
func WriteVarsFile(path string, vars map[string]string) error {
	data, err := yaml.Marshal(vars)
	if err != nil {
		return fmt.Errorf("marshal ansible vars: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir vars dir: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Inventory models the static YAML inventory generated from the
// infrastructure outputs.
type Inventory struct {
	All InventoryGroup `yaml:"all"`
}

type InventoryGroup struct {
	Vars     map[string]string        `yaml:"vars,omitempty"`
	Children map[string]InventoryHost `yaml:"children,omitempty"`
}

type InventoryHost struct {
	Hosts map[string]map[string]string `yaml:"hosts"`
}

// WriteInventory writes the inventory file with one group per node role.
func WriteInventory(path string, inv Inventory) error {
	data, err := yaml.Marshal(inv)
	if err != nil {
		return fmt.Errorf("marshal inventory: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir inventory dir: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}
