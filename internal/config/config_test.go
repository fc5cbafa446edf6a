package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv makes sure the host environment does not leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	keys := append([]string{KeyEnvFile}, Keys...)
	for _, key := range keys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"localhost:12321"}, cfg.Servers)
	assert.Equal(t, 1.0, cfg.Priority)
	assert.Equal(t, "permuters.yaml", cfg.JobsFile)
	assert.Equal(t, 30*time.Second, cfg.DialTimeout)
	assert.Zero(t, cfg.QueueDepth)
	assert.Empty(t, cfg.OutputDir)
	assert.False(t, cfg.Debug)
	assert.Equal(t, "INFO", cfg.LogLevel)

	key, err := cfg.SecretKey()
	require.NoError(t, err)
	assert.Nil(t, key)
}

func TestLoad_Precedence(t *testing.T) {
	clearEnv(t)
	envFile := writeEnvFile(t, strings.Join([]string{
		"PERMFARM_SERVERS=file-a:1, file-b:2",
		"PERMFARM_PRIORITY=0.5",
		"PERMFARM_QUEUE_DEPTH=4",
		"PERMFARM_DIAL_TIMEOUT=5s",
		"UNRELATED=ignored",
	}, "\n"))
	t.Setenv(KeyPriority, "2.5")
	t.Setenv(KeyOutputDir, "/tmp/out")

	cfg, err := Load(envFile, map[string]string{KeyQueueDepth: "8", KeyDebug: ""})
	require.NoError(t, err)

	assert.Equal(t, []string{"file-a:1", "file-b:2"}, cfg.Servers)
	assert.Equal(t, 2.5, cfg.Priority)
	assert.Equal(t, 8, cfg.QueueDepth)
	assert.Equal(t, 5*time.Second, cfg.DialTimeout)
	assert.Equal(t, "/tmp/out", cfg.OutputDir)
	assert.False(t, cfg.Debug)
}

func TestLoad_MissingEnvFileIsSkipped(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost:12321"}, cfg.Servers)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name        string
		overrides   map[string]string
		errContains string
	}{
		{
			name:        "zero priority",
			overrides:   map[string]string{KeyPriority: "0"},
			errContains: "priority must be positive",
		},
		{
			name:        "negative priority",
			overrides:   map[string]string{KeyPriority: "-1"},
			errContains: "priority must be positive",
		},
		{
			name:        "priority not a number",
			overrides:   map[string]string{KeyPriority: "high"},
			errContains: "invalid configuration",
		},
		{
			name:        "negative queue depth",
			overrides:   map[string]string{KeyQueueDepth: "-2"},
			errContains: "queue depth must not be negative",
		},
		{
			name:        "bad duration",
			overrides:   map[string]string{KeyDialTimeout: "soon"},
			errContains: "invalid configuration",
		},
		{
			name:        "only separators in server list",
			overrides:   map[string]string{KeyServers: " , ,"},
			errContains: "no servers configured",
		},
		{
			name:        "short secret",
			overrides:   map[string]string{KeySecret: "abcd"},
			errContains: "PERMFARM_SECRET must be 64 hex characters",
		},
		{
			name:        "secret not hex",
			overrides:   map[string]string{KeySecret: strings.Repeat("zz", 32)},
			errContains: "PERMFARM_SECRET must be 64 hex characters",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := Load("", tt.overrides)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestSecretKey(t *testing.T) {
	cfg := &Config{Secret: strings.Repeat("0f", 32)}

	key, err := cfg.SecretKey()
	require.NoError(t, err)
	require.NotNil(t, key)
	for _, b := range key {
		assert.Equal(t, byte(0x0f), b)
	}
}

func TestResolveEnvFile(t *testing.T) {
	clearEnv(t)
	assert.Equal(t, DefaultEnvFile, ResolveEnvFile(""))

	t.Setenv(KeyEnvFile, "/etc/permfarm.env")
	assert.Equal(t, "/etc/permfarm.env", ResolveEnvFile(""))
	assert.Equal(t, "custom.env", ResolveEnvFile("custom.env"))
}

func TestApplyLogging(t *testing.T) {
	clearEnv(t)

	cfg := &Config{Debug: true, LogLevel: "WARNING"}
	cfg.ApplyLogging()

	assert.Equal(t, "true", os.Getenv(KeyDebug))
	assert.Equal(t, "WARNING", os.Getenv(KeyLogLevel))
}
