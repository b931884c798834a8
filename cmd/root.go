package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/agentic-research/cominavi/api"
	"github.com/agentic-research/cominavi/internal/cache"
	"github.com/agentic-research/cominavi/internal/config"
	"github.com/agentic-research/cominavi/internal/fetch"
	"github.com/agentic-research/cominavi/internal/manifest"
	"github.com/agentic-research/cominavi/internal/state"
	"github.com/agentic-research/cominavi/internal/syncer"
)

// version is set at link time.
var version = "dev"

var (
	configPath string
	cacheDir   string
	instanceID string
	logLevel   string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default ./"+config.DefaultFile+" when present)")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "Cache root directory")
	rootCmd.PersistentFlags().StringVarP(&instanceID, "instance", "i", "", "Catalog instance id")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

var rootCmd = &cobra.Command{
	Use:           "cominavi",
	Short:         "Comiket catalog sync engine",
	Long:          "Downloads the Comiket web catalog snapshots, extracts circle images and serves the catalog.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// app is the composition root shared by the subcommands.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	kv       *state.SQLiteStore
	resolver *cache.Resolver
	instance string
}

// loadConfig reads the config file, then applies flag overrides.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		if _, err := os.Stat(config.DefaultFile); err == nil {
			path = config.DefaultFile
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cacheDir != "" {
		cfg.CacheDir = cacheDir
	}
	if instanceID != "" {
		cfg.InstanceID = instanceID
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()})
	return slog.New(h).With("run_id", uuid.NewString())
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log := newLogger(cfg)
	slog.SetDefault(log)

	instance := cfg.DefaultInstance()
	if instance == "" {
		return nil, errors.New("no instance: set instance_id, --instance or catalog_api.event_id")
	}
	root, err := cfg.ResolveCacheDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}
	kv, err := state.OpenSQLite(cfg.StatePath(root))
	if err != nil {
		return nil, err
	}
	log.Debug("cache ready", "root", root, "instance", instance)
	return &app{
		cfg:      cfg,
		log:      log,
		kv:       kv,
		resolver: cache.New(root, state.NewMarkers(kv)),
		instance: instance,
	}, nil
}

func (a *app) Close() error {
	return a.kv.Close()
}

func (a *app) tokens() manifest.EnvToken {
	return manifest.EnvToken(a.cfg.TokenEnv())
}

// manifest resolves the dataset manifest: pinned in the config, read from a
// saved catalog-base document, or fetched from the catalog service.
func (a *app) manifest(ctx context.Context) (api.DatasetManifest, error) {
	if m, ok := a.cfg.InlineManifest(); ok {
		return m, nil
	}
	if file := a.cfg.ManifestFile(); file != "" {
		return manifest.LoadFile(file)
	}
	if remote := a.cfg.CatalogAPI; remote != nil {
		c := &manifest.Client{BaseURL: remote.BaseURL, Tokens: a.tokens(), Logger: a.log}
		return c.Fetch(ctx, remote.EventID)
	}
	return api.DatasetManifest{}, errors.New("no manifest: configure a manifest block or catalog_api")
}

// start resolves the manifest and begins a sync run.
func (a *app) start(ctx context.Context) (*syncer.Orchestrator, error) {
	m, err := a.manifest(ctx)
	if err != nil {
		return nil, err
	}
	a.log.Info("manifest", "primary", m.Primary.URL, "imagery", m.Imagery.URL, "updated_at", m.UpdatedAt)
	return syncer.Start(ctx, syncer.Options{
		InstanceID:  a.instance,
		Manifest:    m,
		Resolver:    a.resolver,
		Fetcher:     &fetch.Fetcher{Tokens: a.tokens(), Logger: a.log},
		SampleEvery: a.cfg.SampleEvery,
		Logger:      a.log,
	}), nil
}

// withApp runs fn with a ready app and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, a)
}

// syncReady starts a run and blocks until it is terminal. A failed run is
// returned as an error.
func syncReady(ctx context.Context, a *app) (*syncer.Orchestrator, error) {
	o, err := a.start(ctx)
	if err != nil {
		return nil, err
	}
	r, err := o.Wait(ctx)
	if err == nil && r.State == syncer.Failed {
		err = fmt.Errorf("sync failed [%s]: %s", r.Code, r.Message)
	}
	if err != nil {
		_ = o.Close()
		return nil, err
	}
	return o, nil
}
