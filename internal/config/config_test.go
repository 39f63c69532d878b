package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadJSONResolvesRelativeSQLitePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"basic_config": {"server_address": ":9000", "synthesis_threshold": 8},
		"databases": {"sqlite3": {"dsn": "data/memochat.db"}},
		"providers": {"openai": {"model": "gpt-4o-mini"}}
	}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.BasicConfig.ServerAddress)
	require.Equal(t, 8, cfg.BasicConfig.SynthesisThreshold)
	require.Equal(t, filepath.Join(dir, "data/memochat.db"), cfg.Databases["sqlite3"].DSN)
	require.Equal(t, "gpt-4o-mini", cfg.Provider("openai").Model)
	require.Empty(t, cfg.Provider("anthropic").Model)
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[basic_config]
server_address = ":8091"
timezone = "UTC"

[databases.sqlite3]
dsn = ":memory:"

[providers.ollama]
base_url = "http://127.0.0.1:11434"
model = "llama3.2"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8091", cfg.BasicConfig.ServerAddress)
	require.Equal(t, ":memory:", cfg.Databases["sqlite3"].DSN)
	require.Equal(t, "llama3.2", cfg.Provider("ollama").Model)
	require.Equal(t, "UTC", cfg.Location().String())
}

func TestLoadRejectsMissingDatabases(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"basic_config": {}}`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsBadTimezone(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"basic_config": {"timezone": "Mars/Olympus"},
		"databases": {"sqlite3": {"dsn": ":memory:"}}
	}`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}
