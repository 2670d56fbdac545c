package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/bridgeq/internal/config"
)

func run(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := runCLI(args, strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeConfig(t *testing.T, body string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "data", "bridgeq.db")
	path := filepath.Join(dir, "config.yaml")
	content := "service:\n  log_level: error\nstate:\n  path: " + dbPath + "\n" + body
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path, dbPath
}

func TestCommandTree(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "config", "vault", "functions", "queue", "history", "token", "version"} {
		assert.True(t, names[want], "missing command %q", want)
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestUnknownCommandFails(t *testing.T) {
	code, _, stderr := run(t, "", "frobnicate")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "unknown command")
}

func TestVersionJSON(t *testing.T) {
	code, stdout, _ := run(t, "", "version", "--json")
	require.Equal(t, 0, code)

	var info versionInfo
	require.NoError(t, json.Unmarshal([]byte(stdout), &info))
	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.Commit)
}

func TestShortenCommit(t *testing.T) {
	assert.Equal(t, "abc", shortenCommit("abc"))
	assert.Equal(t, "0123456789ab", shortenCommit("0123456789abcdef"))
}

func TestVaultBuildFromStdin(t *testing.T) {
	tc := `{"function_name":"machine_ssh_test","team_name":"Private","machine_name":"m1","bridge_name":"b1",
"machine_vault":{"ip":"10.0.0.1","user":"root"}}`

	code, stdout, stderr := run(t, tc, "vault", "build", "--api-url", "https://queue.example.com")
	require.Equal(t, 0, code, stderr)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &doc))
	machine, ok := doc["machine"].(map[string]any)
	require.True(t, ok, "machine section missing: %s", stdout)
	assert.Equal(t, "10.0.0.1", machine["ip"])
	ctx, ok := doc["context"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "https://queue.example.com", ctx["api_url"])

	code, digest, _ := run(t, tc, "vault", "build", "--api-url", "https://queue.example.com", "--digest")
	require.Equal(t, 0, code)
	assert.Len(t, strings.TrimSpace(digest), 16)
}

func TestVaultBuildValidationExitCode(t *testing.T) {
	code, stdout, stderr := run(t, `{"function_name":"no_such_function","machine_name":"m1"}`, "vault", "build")
	assert.Equal(t, 3, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "Error:")
}

func TestVaultBuildRejectsBadJSON(t *testing.T) {
	code, _, stderr := run(t, "{", "vault", "build")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "decode task context")
}

func TestFunctionsList(t *testing.T) {
	code, stdout, _ := run(t, "", "functions")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "machine_ssh_test")

	code, stdout, _ = run(t, "", "functions", "--json")
	require.Equal(t, 0, code)
	var fns []map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &fns))
	assert.NotEmpty(t, fns)
	for _, fn := range fns {
		assert.Equal(t, true, fn["public"], "internal function listed without --all: %v", fn["name"])
	}
}

func TestConfigCheckExitCodes(t *testing.T) {
	path, _ := writeConfig(t, "")

	code, stdout, _ := run(t, "", "config", "check", "--config", path)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "Configuration valid (1 warning(s))")
	assert.Contains(t, stdout, "remote.token")

	code, _, _ = run(t, "", "config", "check", "--config", path, "--strict")
	assert.Equal(t, 2, code)

	code, stdout, _ = run(t, "", "config", "check", "--config", path, "--json")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, `"valid": true`)
}

func TestConfigCheckInvalid(t *testing.T) {
	path, _ := writeConfig(t, "remote:\n  retry:\n    base_delay: 5s\n    max_delay: 1s\n")
	code, stdout, _ := run(t, "", "config", "check", "--config", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "remote.retry.max_delay")
}

func TestConfigGetRedactsSecrets(t *testing.T) {
	path, _ := writeConfig(t, "remote:\n  token: super-secret\n")

	code, stdout, _ := run(t, "", "config", "get", "--config", path, "remote.token")
	require.Equal(t, 0, code)
	assert.Equal(t, "[redacted]\n", stdout)

	code, stdout, _ = run(t, "", "config", "show", "--config", path)
	require.Equal(t, 0, code)
	assert.NotContains(t, stdout, "super-secret")
	assert.Contains(t, stdout, "base_url:")

	code, _, stderr := run(t, "", "config", "get", "--config", path, "remote.nope")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "not found")
}

func TestConfigLockRelocksEditedFile(t *testing.T) {
	path, _ := writeConfig(t, "")

	code, stdout, _ := run(t, "", "config", "lock", "--config", path, "--dry-run")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "Would write")
	_, err := os.Stat(filepath.Join(filepath.Dir(path), config.ChecksumFile))
	assert.True(t, os.IsNotExist(err), "dry run wrote a manifest")

	code, stdout, _ = run(t, "", "config", "lock", "--config", path)
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "Wrote")

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString("dispatch:\n  max_submit_attempts: 4\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	code, _, stderr := run(t, "", "config", "get", "--config", path, "dispatch.max_submit_attempts")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "hash mismatch")

	code, _, _ = run(t, "", "config", "lock", "--config", path)
	require.Equal(t, 0, code)
	code, stdout, _ = run(t, "", "config", "get", "--config", path, "dispatch.max_submit_attempts")
	require.Equal(t, 0, code)
	assert.Equal(t, "4\n", stdout)
}

func TestTokenSetAndShow(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "bridgeq.db")

	code, stdout, _ := run(t, "", "token", "show", "--db", dbPath)
	require.Equal(t, 0, code)
	assert.Equal(t, "<none>\n", stdout)

	code, _, stderr := run(t, "abcdefghijkl\n", "token", "set", "-", "--db", dbPath)
	require.Equal(t, 0, code, stderr)

	code, stdout, _ = run(t, "", "token", "show", "--db", dbPath)
	require.Equal(t, 0, code)
	assert.Equal(t, "abcd****ijkl\n", stdout)

	code, _, stderr = run(t, "   ", "token", "set", "-", "--db", dbPath)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "token is empty")
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "<none>", maskToken(""))
	assert.Equal(t, "*****", maskToken("short"))
	assert.Equal(t, "abcd**wxyz", maskToken("abcdefwxyz"))
}

func TestHistoryOnEmptyDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "bridgeq.db")

	code, stdout, _ := run(t, "", "history", "list", "--db", dbPath)
	require.Equal(t, 0, code)
	assert.Empty(t, stdout)

	code, _, stderr := run(t, "", "history", "inspect", "--db", dbPath, "--task", "t-1")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, `task "t-1" not found`)
}

func TestQueueListRequiresKey(t *testing.T) {
	t.Setenv("BRIDGEQ_API_KEY", "")
	code, _, stderr := run(t, "", "queue", "list")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "API key required")
}
