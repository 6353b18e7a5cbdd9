//go:build integration

// Package integration runs fasjson-client against a live FASJSON
// deployment. A Kerberos ticket for the configured principal must exist.
package integration

import (
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestConfig holds configuration for integration tests.
type TestConfig struct {
	URL        string
	Principal  string
	BinaryPath string
	Verbose    bool
}

// LoadTestConfig loads configuration from environment variables.
func LoadTestConfig() *TestConfig {
	return &TestConfig{
		URL:        os.Getenv("FASJSON_INTEGRATION_URL"),
		Principal:  os.Getenv("FASJSON_INTEGRATION_PRINCIPAL"),
		BinaryPath: binaryPath(),
		Verbose:    os.Getenv("FASJSON_INTEGRATION_VERBOSE") == "true",
	}
}

func binaryPath() string {
	if path := os.Getenv("FASJSON_CLIENT_BINARY"); path != "" {
		return path
	}

	for _, candidate := range []string{"../../fasjson-client", "./fasjson-client"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return "fasjson-client"
}

// SkipIfMissingConfig skips the test when no deployment is configured.
func (config *TestConfig) SkipIfMissingConfig(t *testing.T) {
	t.Helper()

	if config.URL == "" {
		t.Skip("FASJSON_INTEGRATION_URL not set, skipping integration test")
	}
}

// SkipIfMissingBinary skips the test when the CLI has not been built.
func (config *TestConfig) SkipIfMissingBinary(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath(config.BinaryPath); err != nil {
		t.Skipf("fasjson-client binary not found at %s, skipping integration test", config.BinaryPath)
	}
}

// CommandRunner runs the fasjson-client binary against the deployment.
type CommandRunner struct {
	config *TestConfig
	t      *testing.T
}

// NewCommandRunner creates a new command runner.
func NewCommandRunner(config *TestConfig, t *testing.T) *CommandRunner {
	return &CommandRunner{config: config, t: t}
}

// Run executes a command with the deployment URL and principal set, and
// returns its output.
func (runner *CommandRunner) Run(args ...string) (stdout, stderr string, err error) {
	full := []string{"--url", runner.config.URL}
	if runner.config.Principal != "" {
		full = append(full, "--principal", runner.config.Principal)
	}

	full = append(full, args...)

	cmd := exec.Command(runner.config.BinaryPath, full...)
	cmd.Env = append(os.Environ(), "FASJSON_CLIENT_CONF=/dev/null")

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	if runner.config.Verbose {
		runner.t.Logf("Running: %s %s", runner.config.BinaryPath, strings.Join(full, " "))
	}

	err = cmd.Run()
	stdout = stdoutBuf.String()
	stderr = stderrBuf.String()

	if runner.config.Verbose && err != nil {
		runner.t.Logf("Command failed: %v\nStdout: %s\nStderr: %s", err, stdout, stderr)
	}

	return stdout, stderr, err
}

// RunJSON executes a command with JSON output and decodes it into target.
func (runner *CommandRunner) RunJSON(target interface{}, args ...string) {
	runner.t.Helper()

	stdout, stderr, err := runner.Run(append([]string{"--output", "json"}, args...)...)
	require.NoError(runner.t, err, "stderr: %s", stderr)
	require.NoError(runner.t, json.Unmarshal([]byte(stdout), target), "stdout: %s", stdout)
}
