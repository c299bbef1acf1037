package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/inboxpilot/internal/backends"
	"github.com/teemow/inboxpilot/internal/checkpoint"
	"github.com/teemow/inboxpilot/internal/credentials"
	"github.com/teemow/inboxpilot/internal/service"
)

func TestParseCommaSeparatedList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: nil,
		},
		{
			name:     "single value",
			input:    "google",
			expected: []string{"google"},
		},
		{
			name:     "multiple values",
			input:    "google,memory",
			expected: []string{"google", "memory"},
		},
		{
			name:     "values with spaces around comma",
			input:    "google, memory",
			expected: []string{"google", "memory"},
		},
		{
			name:     "values with leading/trailing spaces",
			input:    "  google  ,  memory  ",
			expected: []string{"google", "memory"},
		},
		{
			name:     "trailing comma",
			input:    "google,memory,",
			expected: []string{"google", "memory"},
		},
		{
			name:     "leading comma",
			input:    ",google,memory",
			expected: []string{"google", "memory"},
		},
		{
			name:     "multiple consecutive commas",
			input:    "google,,memory",
			expected: []string{"google", "memory"},
		},
		{
			name:     "only commas and spaces",
			input:    ",  , , ",
			expected: nil,
		},
		{
			name:     "single value with surrounding whitespace",
			input:    "  google  ",
			expected: []string{"google"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseCommaSeparatedList(tt.input))
		})
	}
}

func TestLoadServeEnvVars(t *testing.T) {
	t.Setenv("GOOGLE_CLIENT_ID", "env-client")
	t.Setenv("CREDENTIAL_STORE", "pgx")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("METRICS_ENABLED", "false")
	t.Setenv("OPENAI_MODEL", "env-model")
	t.Setenv("INBOXPILOT_PROVIDERS", "google")

	cmd := newServeCmd()
	require.NoError(t, cmd.Flags().Set("model", "flag-model"))

	var config ServeConfig
	config.Planner.Model = "flag-model"
	config.Metrics.Enabled = true
	loadServeEnvVars(cmd, &config)

	assert.Equal(t, "env-client", config.GoogleClientID)
	assert.Equal(t, "pgx", config.Storage.Credentials)
	assert.Equal(t, 3, config.Storage.Redis.DB)
	assert.False(t, config.Metrics.Enabled)
	assert.Equal(t, "flag-model", config.Planner.Model, "explicit flags win over the environment")
	assert.Equal(t, []string{"google"}, config.Providers)
}

func TestLoadEngineConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := loadEngineConfig(ServeConfig{PolicyFile: "/etc/policy.yaml"})
		require.NoError(t, err)
		assert.Equal(t, []string{"google", "memory"}, providerNames(cfg))
		assert.Equal(t, "/etc/policy.yaml", cfg.PolicyFile)
	})

	t.Run("file and provider filter", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "engine.yaml")
		doc := `
providers:
  - name: memory
    kind: memory
    auth: none
  - name: crm
    kind: mcp
    url: https://crm.example.com/mcp
    auth: oauth
cacheTTL: 10m
`
		require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

		cfg, err := loadEngineConfig(ServeConfig{ConfigFile: path, Providers: []string{"crm"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"crm"}, providerNames(cfg))
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := loadEngineConfig(ServeConfig{Providers: []string{"google", "slack", "jira"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "jira, slack")
	})
}

func TestOAuthProviders(t *testing.T) {
	cfg := service.Config{Servers: []backends.ServerConfig{
		{Name: "google", Kind: backends.KindGoogle, Auth: backends.AuthOAuth},
		{Name: "memory", Kind: backends.KindMemory, Auth: backends.AuthNone},
		{Name: "crm", Kind: backends.KindMCP, URL: "https://crm.example.com", Auth: backends.AuthOAuth},
	}}

	withSecret := oauthProviders(cfg, "id", "secret")
	require.Len(t, withSecret, 2)
	assert.Equal(t, "google", withSecret[0].Name)
	assert.Equal(t, credentials.GoogleTokenPrefix, withSecret[0].TokenPrefix)
	require.NotNil(t, withSecret[0].OAuth2)
	assert.Equal(t, "id", withSecret[0].OAuth2.ClientID)
	assert.Equal(t, "crm", withSecret[1].Name)
	assert.Nil(t, withSecret[1].OAuth2)

	withoutSecret := oauthProviders(cfg, "", "")
	require.Len(t, withoutSecret, 2)
	assert.Nil(t, withoutSecret[0].OAuth2)
}

func TestOpenCredentialStore(t *testing.T) {
	store, closeStore, err := openCredentialStore(StorageConfig{Credentials: "memory"}, []string{"google"})
	require.NoError(t, err)
	defer closeStore()

	ctx := context.Background()
	require.NoError(t, store.Update(ctx, credentials.Credential{UserID: "alice", Provider: "google", AccessToken: "ya29.a"}))
	got, err := store.Get(ctx, "alice", "google")
	require.NoError(t, err)
	assert.Equal(t, "ya29.a", got.AccessToken)

	_, _, err = openCredentialStore(StorageConfig{Credentials: "postgres"}, nil)
	assert.Error(t, err, "a database store needs a DSN")

	_, _, err = openCredentialStore(StorageConfig{Credentials: "etcd"}, nil)
	assert.ErrorContains(t, err, "unsupported credential store")
}

func TestOpenCheckpointStore(t *testing.T) {
	ctx := context.Background()

	store, closeStore, err := openCheckpointStore(ctx, StorageConfig{})
	require.NoError(t, err)
	closeStore()
	assert.IsType(t, &checkpoint.MemoryStore{}, store)

	mr := miniredis.RunT(t)
	store, closeStore, err = openCheckpointStore(ctx, StorageConfig{
		Checkpoints: "redis",
		Redis:       checkpoint.RedisConfig{Addr: mr.Addr()},
	})
	require.NoError(t, err)
	defer closeStore()
	assert.IsType(t, &checkpoint.RedisStore{}, store)

	_, _, err = openCheckpointStore(ctx, StorageConfig{Checkpoints: "s3"})
	assert.ErrorContains(t, err, "unsupported checkpoint store")
}
