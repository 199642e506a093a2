package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestDefaults(t *testing.T) {
	d := Defaults()

	assert.Equal(t, BackendDrive, d.Backend)
	assert.Equal(t, 2*time.Second, d.Sync.Debounce)
	assert.Equal(t, 10, d.Sync.RetentionCount)
	assert.Equal(t, 5*time.Minute, d.Sync.RenewalLookahead)
	assert.Equal(t, "invoicekeeper.db", filepath.Base(d.DatabasePath))
	assert.Equal(t, GoogleTokenURL, d.OAuth.TokenURL)
	assert.Equal(t, "slog", d.Log.Backend)
}

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := load(nil, noEnv)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(Defaults(), *cfg))
}

func TestLoad_Precedence(t *testing.T) {
	path := writeTempJSON(t, "", "", map[string]any{
		"backend":       "s3",
		"database_path": "/from/json.db",
		"s3":            map[string]any{"bucket": "json-bucket", "region": "eu-west-1"},
		"sync":          map[string]any{"debounce": "5s", "retention_count": 4},
	})
	env := envMap(map[string]string{
		"INVOICEKEEPER_CONFIG":         path,
		"INVOICEKEEPER_S3_BUCKET":      "env-bucket",
		"INVOICEKEEPER_SYNC_RETENTION": "6",
		"INVOICEKEEPER_LOG_LEVEL":      "debug",
	})
	fs := newFlags(t, "--retention", "8", "--log-backend", "zap")

	cfg, err := load(fs, env)
	require.NoError(t, err)

	want := Defaults()
	want.Backend = BackendS3
	want.DatabasePath = "/from/json.db"
	want.S3.Region = "eu-west-1"
	want.S3.Bucket = "env-bucket"
	want.Sync.Debounce = 5 * time.Second
	want.Sync.RetentionCount = 8
	want.Log.Level = "debug"
	want.Log.Backend = "zap"
	assert.Empty(t, cmp.Diff(want, *cfg))
}

func TestLoad_ConfigFlagOverridesEnvPath(t *testing.T) {
	envPath := writeTempJSON(t, "", "env.json", map[string]any{"environment": "from-env"})
	flagPath := writeTempJSON(t, "", "flag.json", map[string]any{"environment": "from-flag"})

	cfg, err := load(newFlags(t, "-c", flagPath), envMap(map[string]string{"INVOICEKEEPER_CONFIG": envPath}))
	require.NoError(t, err)
	assert.Equal(t, "from-flag", cfg.Environment)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		args []string
	}{
		{name: "unknown backend", args: []string{"--backend", "ftp"}},
		{name: "zero debounce", args: []string{"--debounce", "0s"}},
		{name: "negative retention", args: []string{"--retention", "-1"}},
		{name: "bad env duration", env: map[string]string{"INVOICEKEEPER_SYNC_DEBOUNCE": "soon"}},
		{name: "bad env bool", env: map[string]string{"INVOICEKEEPER_S3_PATH_STYLE": "maybe"}},
		{name: "missing json", env: map[string]string{"INVOICEKEEPER_CONFIG": filepath.Join(os.TempDir(), "does-not-exist.json")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(newFlags(t, tt.args...), envMap(tt.env))
			require.Error(t, err)
		})
	}
}

func TestLoad_BackendIsNormalized(t *testing.T) {
	cfg, err := load(newFlags(t, "--backend", " S3 "), noEnv)
	require.NoError(t, err)
	assert.Equal(t, BackendS3, cfg.Backend)
}

func TestBuildClientID(t *testing.T) {
	cfg := Defaults()
	cfg.OAuth.ClientID = "configured.apps.example.com"
	assert.Equal(t, "configured.apps.example.com", cfg.BuildClientID())
}
