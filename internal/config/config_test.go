package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, BackendFile, cfg.Backend)
	assert.Equal(t, "default", cfg.Ref.Suite)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "preferences", cfg.NATS.Bucket)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.NotEmpty(t, cfg.File.Path)
}

func TestLoadFileEnvAndFlagPrecedence(t *testing.T) {
	path := writeFile(t, "prefctl.yaml", `
backend: redis
ref:
  suite: editor
  scope: user
  scope_id: u42
redis:
  addr: cache:6379
  db: 2
`)
	t.Setenv("PREFCTL_REDIS_ADDR", "env-cache:6380")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, BackendRedis, cfg.Backend)
	assert.Equal(t, "env-cache:6380", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)

	identifier, err := cfg.Ref.State().Identifier()
	require.NoError(t, err)
	assert.Equal(t, "user/u42/editor", identifier)

	flags := pflag.NewFlagSet("prefctl", pflag.ContinueOnError)
	flags.String("backend", "", "")
	flags.String("suite", "", "")
	require.NoError(t, flags.Parse([]string{"--backend", "SQLite", "--suite", "terminal"}))

	cfg, err = Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.Backend)
	assert.Equal(t, "terminal", cfg.Ref.Suite)
	assert.Equal(t, "u42", cfg.Ref.ScopeID)
}

func TestLoadUnchangedFlagsKeepFileValues(t *testing.T) {
	path := writeFile(t, "prefctl.yaml", "backend: memory\n")

	flags := pflag.NewFlagSet("prefctl", pflag.ContinueOnError)
	flags.String("backend", "", "")
	require.NoError(t, flags.Parse(nil))

	cfg, err := Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Backend)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "memory", cfg: Config{Backend: BackendMemory}},
		{name: "file", cfg: Config{Backend: BackendFile, File: File{Path: "prefs.yaml"}}},
		{name: "file without path", cfg: Config{Backend: BackendFile}, wantErr: true},
		{name: "sqlite", cfg: Config{Backend: BackendSQLite, Ref: Ref{Suite: "editor"}}},
		{name: "nats missing owner", cfg: Config{Backend: BackendNATS, Ref: Ref{Suite: "editor", Scope: "user"}}, wantErr: true},
		{name: "unknown", cfg: Config{Backend: "etcd"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}

	assert.ErrorIs(t, Config{Backend: "etcd"}.Validate(), ErrUnknownBackend)
}

func TestLoadRegistrationKeepsKeyCase(t *testing.T) {
	path := writeFile(t, "defaults.yaml", "fontSize: 12\nshowTips: true\n")

	defaults, err := LoadRegistration(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"fontSize": 12, "showTips": true}, defaults)

	none, err := LoadRegistration("")
	require.NoError(t, err)
	assert.Nil(t, none)
}
