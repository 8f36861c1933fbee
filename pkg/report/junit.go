// Package report ingests JUnit XML result files produced by the in-container
// test runs and publishes a pass/fail summary.
package report

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rancher/qa-infra-pipeline/internal/docker"
	"github.com/rancher/qa-infra-pipeline/internal/resources"
)

type TestSuites struct {
	XMLName xml.Name    `xml:"testsuites"`
	Suites  []TestSuite `xml:"testsuite"`
}

type TestSuite struct {
	Name     string     `xml:"name,attr"`
	Tests    int        `xml:"tests,attr"`
	Failures int        `xml:"failures,attr"`
	Errors   int        `xml:"errors,attr"`
	Skipped  int        `xml:"skipped,attr"`
	Time     float64    `xml:"time,attr"`
	Cases    []TestCase `xml:"testcase"`
}

type TestCase struct {
	Name      string   `xml:"name,attr"`
	Classname string   `xml:"classname,attr"`
	Time      float64  `xml:"time,attr"`
	Failure   *Message `xml:"failure"`
	Error     *Message `xml:"error"`
	Skipped   *Message `xml:"skipped"`
}

type Message struct {
	Type    string `xml:"type,attr"`
	Text    string `xml:"message,attr"`
	Content string `xml:",chardata"`
}

// Summary aggregates all suites in one result file.
type Summary struct {
	Tests    int
	Failures int
	Errors   int
	Skipped  int
	Failed   []string
}

func (s Summary) Passed() bool { return s.Failures == 0 && s.Errors == 0 }

// Parse reads a JUnit XML document. Both a <testsuites> root and a bare
// <testsuite> root are accepted.
func Parse(r io.Reader) (*TestSuites, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}

	var suites TestSuites
	if err := xml.Unmarshal(data, &suites); err == nil && len(suites.Suites) > 0 {
		return &suites, nil
	}

	var single TestSuite
	if err := xml.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("parse junit xml: %w", err)
	}

	return &TestSuites{Suites: []TestSuite{single}}, nil
}

// Summarize flattens the suites into one summary.
func Summarize(suites *TestSuites) Summary {
	var sum Summary
	for _, suite := range suites.Suites {
		sum.Tests += suite.Tests
		sum.Failures += suite.Failures
		sum.Errors += suite.Errors
		sum.Skipped += suite.Skipped

		for _, tc := range suite.Cases {
			if tc.Failure != nil || tc.Error != nil {
				sum.Failed = append(sum.Failed, suite.Name+"/"+tc.Name)
			}
		}
	}

	return sum
}

// PublishFile parses the result file and logs its summary.
func PublishFile(path string) (Summary, error) {
	file, err := os.Open(path)
	if err != nil {
		return Summary{}, fmt.Errorf("open results %s: %w", path, err)
	}
	defer file.Close()

	suites, err := Parse(file)
	if err != nil {
		return Summary{}, err
	}

	sum := Summarize(suites)
	resources.LogLevel("info", "Test results: %d tests, %d failures, %d errors, %d skipped",
		sum.Tests, sum.Failures, sum.Errors, sum.Skipped)
	for _, name := range sum.Failed {
		resources.LogLevel("warn", "Failed: %s", name)
	}

	return sum, nil
}

// PublishFromContainer copies the named result file out of the container and
// publishes it. When the copy fails, the container and image are removed
// before the error is returned so a broken test container does not linger.
func PublishFromContainer(ctx context.Context, d *docker.Docker, containerName, imageName, resultFile, destDir string) (Summary, error) {
	destPath := filepath.Join(destDir, filepath.Base(resultFile))

	if err := d.Copy(ctx, containerName, resultFile, destPath); err != nil {
		resources.LogLevel("warn", "Could not copy %s from container %s, removing it", resultFile, containerName)

		if rmErr := d.Remove(ctx, containerName, imageName); rmErr != nil {
			resources.LogLevel("warn", "Failed to remove container %s: %v", containerName, rmErr)
		}

		return Summary{}, fmt.Errorf("copy results from container %s: %w", containerName, err)
	}

	return PublishFile(destPath)
}
