package config

import (
	"bufio"
	"os"
	"strings"
	"sync"

	"github.com/rancher/qa-infra-pipeline/pkg/logger"
)

var (
	defaults *Defaults
	once     sync.Once
	l        = logger.AddLogger()
)

// AddEnv loads the optional .env file and resolves the pipeline defaults.
// The resolved set is a process-wide singleton; per-call overrides belong
// on the individual tool configs, not here.
func AddEnv(envFile string) (*Defaults, error) {
	var err error
	once.Do(func() {
		if envFile != "" {
			if setErr := SetEnv(envFile); setErr != nil {
				l.Warnf("could not load env file %s: %v", envFile, setErr)
			}
		}

		defaults, err = loadDefaults()
	})

	return defaults, err
}

// SetEnv reads KEY=value lines from fullPath into the process environment.
func SetEnv(fullPath string) error {
	file, err := os.Open(fullPath)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		err = os.Setenv(strings.Trim(key, "\""), strings.Trim(value, "\""))
		if err != nil {
			l.Errorf("failed to set environment variables: %v\n", err)
			return err
		}
	}

	return scanner.Err()
}

func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}
