// Package naming generates deterministic, identifier-safe names for the
// per-build Docker and OpenTofu resources. Every build derives its container,
// image, and workspace names from the job name and build number, so resource
// isolation between builds comes from naming rather than locking.
package naming

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

const (
	// FallbackName is returned by SanitizeName when nothing survives sanitization.
	FallbackName = "resource"

	// DefaultMinLen and DefaultMaxLen bound generated resource names.
	// 63 is the common DNS label limit shared by Docker and cloud providers.
	DefaultMinLen = 2
	DefaultMaxLen = 63

	replacement = '-'
)

func isAllowed(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '.' || r == '-' || r == '_':
		return true
	}

	return false
}

// SanitizeName maps an arbitrary string to the identifier-safe charset
// [a-zA-Z0-9._-]. Disallowed runes become a single dash, runs of dashes
// collapse to one, and leading/trailing separators are stripped. An input
// that sanitizes to nothing yields FallbackName.
func SanitizeName(s string) string {
	var b strings.Builder
	lastWasDash := false

	for _, r := range s {
		if !isAllowed(r) {
			r = replacement
		}
		if r == replacement {
			if lastWasDash {
				continue
			}
			lastWasDash = true
		} else {
			lastWasDash = false
		}
		b.WriteRune(r)
	}

	out := strings.Trim(b.String(), "-._")
	if out == "" {
		return FallbackName
	}

	return out
}

// ValidateName checks length bounds and charset, enumerating every violation
// rather than stopping at the first.
func ValidateName(name string, minLen, maxLen int) error {
	var result *multierror.Error

	if len(name) < minLen {
		result = multierror.Append(result,
			fmt.Errorf("name %q is shorter than %d characters", name, minLen))
	}

	if len(name) > maxLen {
		result = multierror.Append(result,
			fmt.Errorf("name %q is longer than %d characters", name, maxLen))
	}

	for _, r := range name {
		if !isAllowed(r) {
			result = multierror.Append(result,
				fmt.Errorf("name %q contains disallowed character %q", name, r))
			break
		}
	}

	return result.ErrorOrNil()
}

// ContainerName returns the container name for one build, with an optional
// sanitized suffix.
func ContainerName(job, build, suffix string) string {
	name := SanitizeName(fmt.Sprintf("%s-%s", job, build))
	if suffix != "" {
		name = name + "-" + SanitizeName(suffix)
	}

	return name
}

// ImageName returns the image name for one build, with an optional sanitized
// prefix.
func ImageName(job, build, prefix string) string {
	name := SanitizeName(fmt.Sprintf("%s-%s", job, build))
	if prefix != "" {
		name = SanitizeName(prefix) + "-" + name
	}

	return strings.ToLower(name)
}

// WorkspaceName returns the OpenTofu workspace name for one build.
func WorkspaceName(job, build, prefix string) string {
	if prefix == "" {
		prefix = "qa"
	}

	return SanitizeName(fmt.Sprintf("%s-%s-%s", prefix, job, build))
}

// VolumeName returns the shared volume name for one build.
func VolumeName(job, build string) string {
	return SanitizeName(fmt.Sprintf("%s-%s-vol", job, build))
}
