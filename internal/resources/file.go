package resources

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CopyFileContents copies a regular file from srcPath to destPath.
// If mode is provided, it sets the destination permissions to that mode.
func CopyFileContents(srcPath, destPath string, mode ...os.FileMode) error {
	if srcPath == "" || destPath == "" {
		return errors.New("src and dest must be non-empty")
	}

	// choose perms.
	srcInfo, err := os.Stat(srcPath)
	if err != nil {
		return fmt.Errorf("stat src: %w", err)
	}
	perm := srcInfo.Mode().Perm()
	if len(mode) > 0 {
		perm = mode[0]
	}

	// ensure dest dir exists.
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("mkdir dest dir: %w", err)
	}

	data, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("read src: %w", err)
	}

	if err := os.WriteFile(destPath, data, perm); err != nil {
		return fmt.Errorf("write dest: %w", err)
	}

	return nil
}

// ReplaceFileContents reads file from local path and replaces them based on key value pair provided.
func ReplaceFileContents(filePath string, replaceKV map[string]string) error {
	contents, err := os.ReadFile(filePath)
	if err != nil {
		return ReturnLogError("File does not exist: %v", filePath)
	}

	for key, value := range replaceKV {
		if strings.Contains(string(contents), key) {
			contents = bytes.ReplaceAll(contents, []byte(key), []byte(value))
		}
	}

	err = os.WriteFile(filePath, contents, 0o666)
	if err != nil {
		return ReturnLogError("Write to File failed: %v", filePath)
	}

	return nil
}

// Shred overwrites the file with random bytes before removing it, so
// credential-bearing files such as the pipeline env file do not linger
// on the build agent.
func Shred(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("stat %s: %w", path, err)
	}

	if info.IsDir() {
		return fmt.Errorf("refusing to shred directory: %s", path)
	}

	junk := make([]byte, info.Size())
	if _, err := rand.Read(junk); err != nil {
		return fmt.Errorf("generate overwrite data: %w", err)
	}

	if err := os.WriteFile(path, junk, info.Mode().Perm()); err != nil {
		return fmt.Errorf("overwrite %s: %w", path, err)
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}

	return nil
}

// WriteEnvFile writes KEY=value lines in a stable order.
func WriteEnvFile(path string, vars map[string]string, keys []string) error {
	var b strings.Builder
	for _, k := range keys {
		v, ok := vars[k]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%s=%s\n", k, v)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir env dir: %w", err)
	}

	return os.WriteFile(path, []byte(b.String()), 0o600)
}
