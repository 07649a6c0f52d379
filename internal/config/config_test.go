package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/repoql/internal/ir"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, Config{
		Database:  Database{Driver: "sqlite3", DSN: ":memory:"},
		Log:       Log{Level: "info", Format: "text"},
		Contracts: "contracts",
	}, *cfg)
	assert.Equal(t, ir.DialectSQLite, cfg.Store().Driver)
}

func TestLoadPrecedence(t *testing.T) {
	file := writeFile(t, "repoql.yaml", `
database:
  driver: pgx
  dsn: postgres://file
log:
  level: warn
contracts: ./from-file
`)
	t.Setenv("REPOQL_DATABASE_DSN", "postgres://env")
	t.Setenv("REPOQL_LOG_LEVEL", "error")

	v := New()
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("log-level", "", "")
	require.NoError(t, v.BindPFlag(KeyLogLevel, cmd.Flags().Lookup("log-level")))
	require.NoError(t, cmd.Flags().Set("log-level", "debug"))

	cfg, err := Load(v, file)
	require.NoError(t, err)

	assert.Equal(t, "pgx", cfg.Database.Driver, "file over default")
	assert.Equal(t, "postgres://env", cfg.Database.DSN, "env over file")
	assert.Equal(t, "debug", cfg.Log.Level, "flag over env")
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "./from-file", cfg.Contracts)
}

func TestLoadFindsConfigInWorkingDirectory(t *testing.T) {
	dir := filepath.Dir(writeFile(t, "repoql.yaml", "contracts: ./mine\n"))
	t.Chdir(dir)

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, "./mine", cfg.Contracts)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		file    string
		wantErr string
	}{
		{
			name:    "missing explicit file",
			file:    filepath.Join(os.TempDir(), "repoql-missing", "repoql.yaml"),
			wantErr: "read config",
		},
		{
			name:    "unsupported driver",
			env:     map[string]string{"REPOQL_DATABASE_DRIVER": "mysql"},
			wantErr: `unsupported driver "mysql"`,
		},
		{
			name:    "bad level",
			env:     map[string]string{"REPOQL_LOG_LEVEL": "loud"},
			wantErr: "log.level",
		},
		{
			name:    "bad format",
			env:     map[string]string{"REPOQL_LOG_FORMAT": "xml"},
			wantErr: "log.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(New(), tt.file)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := &Config{Log: Log{Level: "warn", Format: "json"}}

	logger := cfg.Logger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "op", "MemberRepository.findByAge")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"op":"MemberRepository.findByAge"`)
}
