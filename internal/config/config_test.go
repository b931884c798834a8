package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
cache_dir    = "/tmp/cominavi"
instance_id  = "104"
log_level    = "debug"
sample_every = 50

catalog_api {
  base_url  = "https://api.example.test"
  event_id  = 190
  token_env = "CIRCLEMS_TOKEN"
}

manifest {
  primary {
    url    = "https://cdn.example.test/main.db.gz"
    digest = "ABCDEF"
  }
  imagery {
    url    = "https://cdn.example.test/image1.db.gz"
    digest = "012345"
  }
}

http {
  listen = ":9000"
}
`

func TestParse(t *testing.T) {
	cfg, err := Parse("cominavi.hcl", []byte(sample))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/tmp/cominavi", cfg.CacheDir)
	assert.Equal(t, "104", cfg.InstanceID)
	assert.Equal(t, slog.LevelDebug, cfg.Level())
	assert.Equal(t, 50, cfg.SampleEvery)
	assert.Equal(t, 190, cfg.CatalogAPI.EventID)
	assert.Equal(t, "CIRCLEMS_TOKEN", cfg.TokenEnv())
	assert.Equal(t, ":9000", cfg.HTTPListen())
	assert.Equal(t, DefaultNFS, cfg.NFSListen())

	m, ok := cfg.InlineManifest()
	require.True(t, ok)
	assert.Equal(t, "abcdef", m.Primary.Digest)
	assert.Equal(t, "https://cdn.example.test/image1.db.gz", m.Imagery.URL)
}

func TestDefaults(t *testing.T) {
	cfg, err := Parse("empty.hcl", nil)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, slog.LevelInfo, cfg.Level())
	assert.Equal(t, DefaultTokenEnv, cfg.TokenEnv())
	assert.Equal(t, DefaultListen, cfg.HTTPListen())
	assert.Equal(t, filepath.Join("/c", "state.db"), cfg.StatePath("/c"))
	_, ok := cfg.InlineManifest()
	assert.False(t, ok)
	assert.Empty(t, cfg.DefaultInstance())
}

func TestApplyEnv(t *testing.T) {
	cfg, err := Parse("cominavi.hcl", []byte(sample))
	require.NoError(t, err)
	env := map[string]string{
		EnvCacheDir: "/override",
		EnvInstance: "105",
		EnvStateDB:  "/state/kv.db",
	}
	require.NoError(t, cfg.ApplyEnv(func(k string) string { return env[k] }))
	assert.Equal(t, "/override", cfg.CacheDir)
	assert.Equal(t, "105", cfg.InstanceID)
	assert.Equal(t, "/state/kv.db", cfg.StatePath("/override"))
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestValidate(t *testing.T) {
	tests := map[string]string{
		"bad level":       `log_level = "loud"`,
		"negative every":  `sample_every = -1`,
		"bad instance":    `instance_id = "../x"`,
		"half manifest":   "manifest {\n primary {\n url = \"u\"\n digest = \"d\"\n }\n}",
		"file and inline": "manifest {\n file = \"x.json\"\n primary {\n url = \"u\"\n digest = \"d\"\n }\n imagery {\n url = \"u\"\n digest = \"d\"\n }\n}",
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			cfg, err := Parse("c.hcl", []byte(src))
			require.NoError(t, err)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cominavi.hcl")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	t.Setenv(EnvLogLevel, "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, cfg.Level())
	assert.Equal(t, "104", cfg.DefaultInstance())

	_, err = Load(filepath.Join(t.TempDir(), "missing.hcl"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.hcl")
	require.NoError(t, os.WriteFile(bad, []byte(`cache_dir = `), 0o644))
	_, err = Load(bad)
	assert.Error(t, err)
}

func TestDefaultInstanceFromEvent(t *testing.T) {
	cfg, err := Parse("c.hcl", []byte("catalog_api {\n event_id = 190\n}"))
	require.NoError(t, err)
	assert.Equal(t, "190", cfg.DefaultInstance())
}
