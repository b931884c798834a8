// Package config loads the cominavi HCL configuration file and overlays the
// COMINAVI_* environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/agentic-research/cominavi/api"
	"github.com/agentic-research/cominavi/internal/cache"
)

const (
	EnvCacheDir = "COMINAVI_CACHE_DIR"
	EnvStateDB  = "COMINAVI_STATE_DB"
	EnvLogLevel = "COMINAVI_LOG_LEVEL"
	EnvInstance = "COMINAVI_INSTANCE"

	DefaultFile     = "cominavi.hcl"
	DefaultTokenEnv = "COMINAVI_TOKEN"
	DefaultListen   = "127.0.0.1:8104"
	DefaultNFS      = "127.0.0.1:0"
)

// Config mirrors cominavi.hcl:
//
//	cache_dir   = "/var/cache/cominavi"
//	instance_id = "104"
//
//	catalog_api {
//	  event_id  = 190
//	  token_env = "CIRCLEMS_TOKEN"
//	}
//
//	manifest {
//	  primary { url = "..."  digest = "..." }
//	  imagery { url = "..."  digest = "..." }
//	}
type Config struct {
	CacheDir    string `hcl:"cache_dir,optional"`
	StateDB     string `hcl:"state_db,optional"`
	LogLevel    string `hcl:"log_level,optional"`
	InstanceID  string `hcl:"instance_id,optional"`
	SampleEvery int    `hcl:"sample_every,optional"`

	CatalogAPI *CatalogAPI `hcl:"catalog_api,block"`
	Manifest   *Manifest   `hcl:"manifest,block"`
	HTTP       *Listener   `hcl:"http,block"`
	NFS        *Listener   `hcl:"nfs,block"`
}

// CatalogAPI configures live manifest discovery.
type CatalogAPI struct {
	BaseURL  string `hcl:"base_url,optional"`
	EventID  int    `hcl:"event_id"`
	TokenEnv string `hcl:"token_env,optional"`
}

// Manifest pins the snapshot locations, either inline or through a saved
// catalog-base document.
type Manifest struct {
	File    string      `hcl:"file,optional"`
	Primary *RemoteFile `hcl:"primary,block"`
	Imagery *RemoteFile `hcl:"imagery,block"`
}

type RemoteFile struct {
	URL    string `hcl:"url"`
	Digest string `hcl:"digest"`
}

type Listener struct {
	Listen string `hcl:"listen,optional"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{LogLevel: "info"}
}

// Load decodes path (when non-empty), fills defaults, overlays the process
// environment and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := hclsimple.DecodeFile(path, nil, cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
		if cfg.LogLevel == "" {
			cfg.LogLevel = "info"
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes HCL source; filename only selects the syntax and labels
// diagnostics.
func Parse(filename string, src []byte) (*Config, error) {
	cfg := Default()
	if err := hclsimple.Decode(filename, src, nil, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", filename, err)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

// ApplyEnv overrides fields from COMINAVI_* variables that are set.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvCacheDir); v != "" {
		c.CacheDir = v
	}
	if v := getenv(EnvStateDB); v != "" {
		c.StateDB = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := getenv(EnvInstance); v != "" {
		c.InstanceID = v
	}
	return nil
}

// Validate checks the fields that can be checked without I/O.
func (c *Config) Validate() error {
	var errs []error
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.SampleEvery < 0 {
		errs = append(errs, fmt.Errorf("sample_every must be >= 0, got %d", c.SampleEvery))
	}
	if c.InstanceID != "" {
		if strings.ContainsAny(c.InstanceID, `/\`) || c.InstanceID == "." || c.InstanceID == ".." {
			errs = append(errs, fmt.Errorf("instance_id %q is not a valid path segment", c.InstanceID))
		}
	}
	if c.CatalogAPI != nil && c.CatalogAPI.EventID <= 0 {
		errs = append(errs, fmt.Errorf("catalog_api.event_id must be positive"))
	}
	if m := c.Manifest; m != nil {
		inline := m.Primary != nil || m.Imagery != nil
		if inline && (m.Primary == nil || m.Imagery == nil) {
			errs = append(errs, errors.New("manifest needs both primary and imagery blocks"))
		}
		if inline && m.File != "" {
			errs = append(errs, errors.New("manifest: set either file or primary/imagery blocks"))
		}
	}
	return errors.Join(errs...)
}

// ResolveCacheDir returns the cache root, falling back to cache.DefaultRoot.
func (c *Config) ResolveCacheDir() (string, error) {
	if c.CacheDir != "" {
		return c.CacheDir, nil
	}
	return cache.DefaultRoot()
}

// StatePath is the marker database, state.db in the cache root by default.
func (c *Config) StatePath(cacheDir string) string {
	if c.StateDB != "" {
		return c.StateDB
	}
	return filepath.Join(cacheDir, "state.db")
}

// InlineManifest returns the manifest pinned in the file, if any.
func (c *Config) InlineManifest() (api.DatasetManifest, bool) {
	m := c.Manifest
	if m == nil || m.Primary == nil || m.Imagery == nil {
		return api.DatasetManifest{}, false
	}
	return api.DatasetManifest{
		Primary: api.RemoteFile{URL: m.Primary.URL, Digest: strings.ToLower(m.Primary.Digest)},
		Imagery: api.RemoteFile{URL: m.Imagery.URL, Digest: strings.ToLower(m.Imagery.Digest)},
	}, true
}

// ManifestFile is the saved catalog-base document path, if configured.
func (c *Config) ManifestFile() string {
	if c.Manifest == nil {
		return ""
	}
	return c.Manifest.File
}

// TokenEnv names the variable holding the catalog service bearer token.
func (c *Config) TokenEnv() string {
	if c.CatalogAPI != nil && c.CatalogAPI.TokenEnv != "" {
		return c.CatalogAPI.TokenEnv
	}
	return DefaultTokenEnv
}

// DefaultInstance derives the instance from the event when none is set.
func (c *Config) DefaultInstance() string {
	if c.InstanceID != "" {
		return c.InstanceID
	}
	if c.CatalogAPI != nil && c.CatalogAPI.EventID > 0 {
		return strconv.Itoa(c.CatalogAPI.EventID)
	}
	return ""
}

func (c *Config) HTTPListen() string {
	if c.HTTP != nil && c.HTTP.Listen != "" {
		return c.HTTP.Listen
	}
	return DefaultListen
}

func (c *Config) NFSListen() string {
	if c.NFS != nil && c.NFS.Listen != "" {
		return c.NFS.Listen
	}
	return DefaultNFS
}

func (c *Config) Level() slog.Level {
	l, _ := ParseLevel(c.LogLevel)
	return l
}

// ParseLevel accepts debug, info, warn/warning and error.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}
