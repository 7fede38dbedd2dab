package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"BASE_URL", "AUTH_EMAIL", "AUTH_PASSWORD", "CALLBACK_PATH", "LOG_LEVEL",
	"REQUEST_TIMEOUT", "PROBE_PATHS", "PROBE_CONCURRENCY",
}

// clearEnv unsets every key the config reads and restores it after the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestParseDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := ParseArgs("", nil)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:3000", cfg.BaseURL)
	assert.Equal(t, "/dashboard", cfg.CallbackPath)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 4, cfg.ProbeConcurrency)
	assert.Empty(t, cfg.ProbePaths)
}

func TestEnvWinsOverFlags(t *testing.T) {
	clearEnv(t)
	t.Setenv("BASE_URL", "http://api.test:8080/")
	t.Setenv("REQUEST_TIMEOUT", "5s")
	t.Setenv("PROBE_PATHS", "GET /api/admin/users, GET /api/admin/companies,")

	cfg, err := ParseArgs("", []string{"-b", "http://flag.test", "-e", "a@b.com", "-t", "1s", "-quiet"})
	require.NoError(t, err)

	assert.Equal(t, "http://api.test:8080", cfg.BaseURL)
	assert.Equal(t, "a@b.com", cfg.Email)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.True(t, cfg.Quiet)
	assert.Equal(t, []string{"GET /api/admin/users", "GET /api/admin/companies"}, cfg.ProbePaths)
}

func TestDotenvDoesNotOverrideEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTH_EMAIL", "env@b.com")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("AUTH_EMAIL=file@b.com\nAUTH_PASSWORD=secret\n"), 0o600))

	cfg, err := ParseArgs(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "env@b.com", cfg.Email)
	assert.Equal(t, "secret", cfg.Password)
}

func TestFlagsWinOverDotenv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("BASE_URL=http://dotenv.test\nREQUEST_TIMEOUT=9s\n"), 0o600))

	cfg, err := ParseArgs(path, []string{"-b", "http://flag.test"})
	require.NoError(t, err)

	assert.Equal(t, "http://flag.test", cfg.BaseURL)
	assert.Equal(t, 9*time.Second, cfg.Timeout, "keys without a flag still come from the file")
	_, exported := os.LookupEnv("BASE_URL")
	assert.False(t, exported, "the file must not leak into the process environment")
}

func TestMissingDotenvIsIgnored(t *testing.T) {
	clearEnv(t)

	_, err := ParseArgs(filepath.Join(t.TempDir(), "nope.env"), nil)
	require.NoError(t, err)
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		args []string
	}{
		{name: "bad timeout env", env: map[string]string{"REQUEST_TIMEOUT": "soon"}},
		{name: "bad concurrency env", env: map[string]string{"PROBE_CONCURRENCY": "many"}},
		{name: "zero timeout flag", args: []string{"-t", "0s"}},
		{name: "empty base url", env: map[string]string{"BASE_URL": ""}},
		{name: "unknown flag", args: []string{"-x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := ParseArgs("", tc.args)
			require.Error(t, err)
		})
	}
}
