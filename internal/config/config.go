package config

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete mirrorsyncd configuration
type Config struct {
	Upstream UpstreamConfig `yaml:"upstream"`
	Mirror   MirrorConfig   `yaml:"mirror"`
	Sync     SyncConfig     `yaml:"sync"`
	Auth     AuthConfig     `yaml:"auth"`
	Serve    ServeConfig    `yaml:"serve"`
}

// UpstreamConfig configures the upstream source of version branches
type UpstreamConfig struct {
	URL    string `yaml:"url"`
	Locale string `yaml:"locale"`
}

// MirrorConfig configures the destination mirror repository
type MirrorConfig struct {
	Path   string `yaml:"path"`
	URL    string `yaml:"url"`
	Remote string `yaml:"remote"`
	Branch string `yaml:"branch"`
}

// SyncConfig configures sync behavior
type SyncConfig struct {
	MarkerFile  string   `yaml:"marker_file"`
	Preserve    []string `yaml:"preserve"`
	Interval    Duration `yaml:"interval"`
	Timeout     Duration `yaml:"timeout"`
	AuthorName  string   `yaml:"author_name"`
	AuthorEmail string   `yaml:"author_email"`
}

// Duration wraps time.Duration so YAML values like "6h" parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string like \"10m\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String returns the duration in time.Duration notation.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// AuthConfig configures Git authentication
type AuthConfig struct {
	SSHKeyFile     string `yaml:"ssh_key_file"`
	HTTPSTokenFile string `yaml:"https_token_file"`
}

// ServeConfig configures the trigger server
type ServeConfig struct {
	Enabled                 bool     `yaml:"enabled"`
	ListenAddr              string   `yaml:"listen_addr"`
	GitHubWebhookSecretFile string   `yaml:"github_webhook_secret_file"`
	AllowedEventTypes       []string `yaml:"allowed_event_types"`
}

var localePattern = regexp.MustCompile(`^[a-z]{1,8}$`)

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Expand environment variables in string fields
	cfg.expandEnv()

	// Apply defaults
	cfg.applyDefaults()

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Upstream.URL = os.ExpandEnv(c.Upstream.URL)
	c.Upstream.Locale = os.ExpandEnv(c.Upstream.Locale)
	c.Mirror.Path = os.ExpandEnv(c.Mirror.Path)
	c.Mirror.URL = os.ExpandEnv(c.Mirror.URL)
	c.Sync.MarkerFile = os.ExpandEnv(c.Sync.MarkerFile)
	c.Auth.SSHKeyFile = os.ExpandEnv(c.Auth.SSHKeyFile)
	c.Auth.HTTPSTokenFile = os.ExpandEnv(c.Auth.HTTPSTokenFile)
	c.Serve.ListenAddr = os.ExpandEnv(c.Serve.ListenAddr)
	c.Serve.GitHubWebhookSecretFile = os.ExpandEnv(c.Serve.GitHubWebhookSecretFile)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Mirror.Remote == "" {
		c.Mirror.Remote = "origin"
	}
	if c.Mirror.Branch == "" {
		c.Mirror.Branch = "main"
	}
	if c.Sync.MarkerFile == "" {
		c.Sync.MarkerFile = "UPSTREAM_VERSION"
	}
	if len(c.Sync.Preserve) == 0 {
		c.Sync.Preserve = []string{"README.md", ".github"}
	}
	// The marker must survive replacement no matter what the operator lists.
	if !contains(c.Sync.Preserve, c.Sync.MarkerFile) {
		c.Sync.Preserve = append(c.Sync.Preserve, c.Sync.MarkerFile)
	}
	if c.Sync.Interval == 0 {
		c.Sync.Interval = Duration(6 * time.Hour)
	}
	if c.Sync.Timeout == 0 {
		c.Sync.Timeout = Duration(10 * time.Minute)
	}
	if c.Sync.AuthorName == "" {
		c.Sync.AuthorName = "mirrorsyncd"
	}
	if c.Sync.AuthorEmail == "" {
		c.Sync.AuthorEmail = "mirrorsyncd@localhost"
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	// Validate upstream config
	if c.Upstream.URL == "" {
		return fmt.Errorf("upstream.url is required")
	}
	if c.Upstream.Locale == "" {
		return fmt.Errorf("upstream.locale is required")
	}
	if !localePattern.MatchString(c.Upstream.Locale) {
		return fmt.Errorf("upstream.locale must be 1-8 lowercase letters: %s", c.Upstream.Locale)
	}

	// Validate mirror config
	if c.Mirror.Path == "" {
		return fmt.Errorf("mirror.path is required")
	}
	if !filepath.IsAbs(c.Mirror.Path) {
		return fmt.Errorf("mirror.path must be an absolute path: %s", c.Mirror.Path)
	}

	// The marker is a single file at the mirror root; nested or absolute
	// paths would escape the replace/restore procedure.
	if strings.ContainsAny(c.Sync.MarkerFile, `/\`) {
		return fmt.Errorf("sync.marker_file must be a plain file name at the mirror root: %s", c.Sync.MarkerFile)
	}
	for _, p := range c.Sync.Preserve {
		clean := path.Clean(filepath.ToSlash(p))
		if filepath.IsAbs(p) || clean == ".." || strings.HasPrefix(clean, "../") {
			return fmt.Errorf("sync.preserve entries must be relative paths within the mirror: %s", p)
		}
	}

	if c.Sync.Interval.Std() < time.Minute {
		return fmt.Errorf("sync.interval must be at least one minute: %s", c.Sync.Interval)
	}
	if c.Sync.Timeout <= 0 {
		return fmt.Errorf("sync.timeout must be positive: %s", c.Sync.Timeout)
	}

	// Validate auth: only one auth method may be configured
	if c.Auth.SSHKeyFile != "" && c.Auth.HTTPSTokenFile != "" {
		return fmt.Errorf("auth: only one of ssh_key_file or https_token_file may be set")
	}

	// Validate auth: when auth is configured, the URL scheme must match
	if c.Auth.SSHKeyFile != "" && !c.IsSSH() {
		return fmt.Errorf("auth.ssh_key_file is set but upstream.url does not use an SSH scheme (git@ or ssh://)")
	}
	if c.Auth.HTTPSTokenFile != "" && !c.IsHTTPS() {
		return fmt.Errorf("auth.https_token_file is set but upstream.url does not use HTTPS scheme")
	}

	// Validate serve config if enabled
	if c.Serve.Enabled {
		if c.Serve.ListenAddr == "" {
			return fmt.Errorf("serve.listen_addr is required when serve is enabled")
		}
		if c.Serve.GitHubWebhookSecretFile == "" {
			return fmt.Errorf("serve.github_webhook_secret_file is required when serve is enabled")
		}
	}

	return nil
}

// LockFilePath returns the path of the advisory lock guarding sync runs
func (c *Config) LockFilePath() string {
	return filepath.Join(c.Mirror.Path, ".git", "mirrorsyncd.lock")
}

// MarkerPath returns the marker file path inside the mirror working tree
func (c *Config) MarkerPath() string {
	return filepath.Join(c.Mirror.Path, c.Sync.MarkerFile)
}

// AuthMethod returns a description of the configured auth method
func (c *Config) AuthMethod() string {
	if c.Auth.SSHKeyFile != "" {
		return "ssh"
	}
	if c.Auth.HTTPSTokenFile != "" {
		return "https"
	}
	return "none"
}

// IsHTTPS returns true if the upstream URL uses HTTPS
func (c *Config) IsHTTPS() bool {
	return strings.HasPrefix(c.Upstream.URL, "https://")
}

// IsSSH returns true if the upstream URL uses SSH
func (c *Config) IsSSH() bool {
	return strings.HasPrefix(c.Upstream.URL, "git@") || strings.HasPrefix(c.Upstream.URL, "ssh://")
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
