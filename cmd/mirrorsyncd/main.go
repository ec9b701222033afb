package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/mirrorsync/mirrorsyncd/internal/config"
	"github.com/mirrorsync/mirrorsyncd/internal/git"
	"github.com/mirrorsync/mirrorsyncd/internal/provision"
	"github.com/mirrorsync/mirrorsyncd/internal/sync"
	"github.com/mirrorsync/mirrorsyncd/internal/webhook"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	dryRun    bool
	pushSeed  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mirrorsyncd",
	Short: "Mirror the latest upstream version branch into a tracking repository",
	Long: `mirrorsyncd keeps a mirror repository in sync with the highest-numbered
version branch ("{locale}-{N}") of an upstream repository.

It can run as a oneshot sync (via cron or a hosted scheduler) or as a
long-running daemon that syncs periodically and on GitHub push webhooks.`,
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Perform a one-time sync of the mirror",
	Long: `Sync resolves the latest upstream version branch, compares it with the
persisted version marker, and when they differ replaces the mirror content
with the upstream tree (keeping the preserved paths), commits, tags and
pushes the result.`,
	RunE: runSync,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the periodic and webhook-triggered sync daemon",
	Long: `Serve performs an initial sync, then keeps syncing on the configured
interval and whenever a GitHub push webhook for an upstream version branch
arrives.`,
	RunE: runServe,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Provision the mirror repository",
	Long: `Init creates the local mirror checkout (cloning the configured mirror URL
when one is set), seeds the version marker, README and workflow file, and
commits them. Safe to re-run; existing files are kept.`,
	RunE: runInit,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mirrorsyncd %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/mirrorsyncd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	// Sync command flags
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")

	// Init command flags
	initCmd.Flags().BoolVar(&pushSeed, "push", false, "push the provisioning commit to the mirror remote")

	// Add commands
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	engine, unlock, err := buildEngine(cfg, logger, dryRun)
	if err != nil {
		return err
	}
	defer unlock()

	outcome, err := engine.Run(ctx)
	if err != nil {
		logger.Error("sync failed", "error", err)
		return err
	}

	logger.Info("sync finished",
		"status", outcome.Status,
		"previous", outcome.Previous,
		"current", outcome.Current)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Serve.Enabled {
		return fmt.Errorf("serve is not enabled in the configuration")
	}

	engine, unlock, err := buildEngine(cfg, logger, false)
	if err != nil {
		return err
	}
	defer unlock()

	server, err := webhook.NewServer(cfg, engine, logger)
	if err != nil {
		return fmt.Errorf("failed to create trigger server: %w", err)
	}

	return server.Start(ctx)
}

func runInit(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	auth, err := git.NewAuthMethod(cfg.Auth)
	if err != nil {
		return err
	}

	mirror, err := openOrCreateMirror(ctx, cfg, logger, auth)
	if err != nil {
		return err
	}

	provisioner := provision.New(cfg, mirror, logger)
	return provisioner.Run(ctx, pushSeed)
}

// buildEngine wires the sync engine and takes the advisory lock that
// serializes sync-capable invocations against the same mirror.
func buildEngine(cfg *config.Config, logger *slog.Logger, dry bool) (*sync.Engine, func(), error) {
	auth, err := git.NewAuthMethod(cfg.Auth)
	if err != nil {
		return nil, nil, err
	}

	mirror, err := git.OpenMirror(cfg.Mirror.Path, mirrorOptions(cfg, auth))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open mirror (run \"mirrorsyncd init\" first): %w", err)
	}

	lock := flock.New(cfg.LockFilePath())
	locked, err := lock.TryLock()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	if !locked {
		return nil, nil, fmt.Errorf("another sync is already running against %s", cfg.Mirror.Path)
	}
	unlock := func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release sync lock", "error", err)
		}
	}

	upstream := git.NewUpstream(cfg.Upstream.URL, auth, cfg.Sync.Timeout.Std())
	engine := sync.NewEngine(cfg, upstream, mirror, logger, dry)
	return engine, unlock, nil
}

// openOrCreateMirror opens the local mirror checkout, cloning or creating
// it when missing.
func openOrCreateMirror(ctx context.Context, cfg *config.Config, logger *slog.Logger, auth transport.AuthMethod) (*git.Mirror, error) {
	opts := mirrorOptions(cfg, auth)

	mirror, err := git.OpenMirror(cfg.Mirror.Path, opts)
	if err == nil {
		logger.Info("mirror checkout already exists", "path", cfg.Mirror.Path)
		return mirror, nil
	}

	if cfg.Mirror.URL != "" {
		logger.Info("cloning mirror", "url", cfg.Mirror.URL, "path", cfg.Mirror.Path)
		mirror, err = git.CloneMirror(ctx, cfg.Mirror.Path, cfg.Mirror.URL, opts)
		if err == nil {
			return mirror, nil
		}
		if !errors.Is(err, transport.ErrEmptyRemoteRepository) {
			return nil, err
		}
		// Empty destination repository: fall through and start from scratch.
		logger.Info("mirror remote is empty, initializing fresh checkout")
	}

	logger.Info("initializing mirror", "path", cfg.Mirror.Path)
	return git.InitMirror(cfg.Mirror.Path, cfg.Mirror.URL, opts)
}

func mirrorOptions(cfg *config.Config, auth transport.AuthMethod) git.MirrorOptions {
	return git.MirrorOptions{
		Remote:      cfg.Mirror.Remote,
		Branch:      cfg.Mirror.Branch,
		Auth:        auth,
		AuthorName:  cfg.Sync.AuthorName,
		AuthorEmail: cfg.Sync.AuthorEmail,
		Timeout:     cfg.Sync.Timeout.Std(),
	}
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	// Determine config file path
	configPath := cfgFile
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		configPath = fmt.Sprintf("%s/.config/mirrorsyncd/config.yaml", home)
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"upstream", cfg.Upstream.URL,
		"locale", cfg.Upstream.Locale,
		"mirror", cfg.Mirror.Path,
		"marker", cfg.Sync.MarkerFile)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
