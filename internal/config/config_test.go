package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0o644))
	return dir
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	dir := writeConfig(t, `
database = "data/app.db"
schema = "/etc/relq/schema.yaml"
max_depth = 3

[query]
session_args = ["userId", "orgId"]
allow_unbound = true
parallelism = 4

[log]
level = "debug"
format = "json"
`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "data/app.db"), cfg.Database)
	assert.Equal(t, "/etc/relq/schema.yaml", cfg.Schema)
	assert.Equal(t, 3, cfg.MaxDepth)
	assert.Equal(t, []string{"userId", "orgId"}, cfg.Query.SessionArgs)
	assert.True(t, cfg.Query.AllowUnbound)
	assert.Equal(t, 4, cfg.Query.Parallelism)
	assert.Equal(t, "json", cfg.Log.Format)

	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoad_PartialKeepsDefaults(t *testing.T) {
	dir := writeConfig(t, `schema = "blog.cue"`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "relq.db"), cfg.Database)
	assert.Equal(t, filepath.Join(dir, "blog.cue"), cfg.Schema)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"syntax", `database = `, "failed to parse config"},
		{"unknown key", `databse = "x.db"`, "unknown keys: databse"},
		{"negative depth", `max_depth = -1`, "max_depth must not be negative"},
		{"bad level", "[log]\nlevel = \"loud\"", "log.level"},
		{"bad format", "[log]\nformat = \"xml\"", "log.format must be text or json"},
		{"negative parallelism", "[query]\nparallelism = -2", "query.parallelism"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestWrite_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	cfg := Default()
	cfg.Query.SessionArgs = []string{"userId"}
	require.NoError(t, cfg.Write(path))

	got, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"userId"}, got.Query.SessionArgs)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "relq.db"), got.Database)

	assert.Error(t, cfg.Write(path), "existing file is not overwritten")
}
