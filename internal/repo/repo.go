// Package repo checks out the playbook and infrastructure repositories.
package repo

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/rancher/qa-infra-pipeline/internal/resources"
)

type Git struct {
	runner resources.Runner
}

func New(runner resources.Runner) *Git {
	return &Git{runner: runner}
}

// CheckoutConfig describes one repository checkout. Paths selects a sparse
// checkout when non-empty.
type CheckoutConfig struct {
	URL    string
	Branch string
	Dir    string
	Paths  []string
}

func (c *CheckoutConfig) validate() error {
	var result *multierror.Error

	if c.URL == "" {
		result = multierror.Append(result, fmt.Errorf("missing required field: URL"))
	}
	if c.Dir == "" {
		result = multierror.Append(result, fmt.Errorf("missing required field: Dir"))
	}

	return result.ErrorOrNil()
}

// Checkout clones the repository shallowly. With Paths set, a blobless sparse
// clone is used and only the listed paths are materialized.
func (g *Git) Checkout(ctx context.Context, cfg CheckoutConfig) error {
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("invalid checkout config: %w", err)
	}

	branch := cfg.Branch
	if branch == "" {
		branch = "main"
	}

	args := []string{"clone", "--depth", "1"}
	if len(cfg.Paths) > 0 {
		args = append(args, "--filter=blob:none", "--sparse")
	}
	args = append(args, "--branch", branch, cfg.URL, cfg.Dir)

	if _, err := g.runner.Run(ctx, "", "git", args...); err != nil {
		return fmt.Errorf("git clone %s failed: %w", cfg.URL, err)
	}

	if len(cfg.Paths) > 0 {
		sparseArgs := append([]string{"sparse-checkout", "set"}, cfg.Paths...)
		if _, err := g.runner.Run(ctx, cfg.Dir, "git", sparseArgs...); err != nil {
			return fmt.Errorf("git sparse-checkout failed: %w", err)
		}
	}

	resources.LogLevel("info", "Checked out %s (%s) into %s", cfg.URL, branch, cfg.Dir)

	return nil
}
