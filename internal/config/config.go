// Package config loads the hookbox YAML configuration, applies defaults and
// environment overrides, and validates the result.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultRoutePrefix    = "webhooks"
	DefaultBranch         = "main"
	DefaultEnvironment    = "production"
	DefaultStepTimeout    = 120
	DefaultLockTTL        = 30 * time.Minute
	DefaultRetentionDays  = 30
	DefaultPruneInterval  = time.Hour
	DefaultNPMBuildScript = "production"
)

// Environment variables that override file values.
const (
	EnvSecret       = "GITHUB_WEBHOOK_SECRET"
	EnvRoutePrefix  = "GITHUB_WEBHOOK_ROUTE_PREFIX"
	EnvStore        = "GITHUB_WEBHOOK_STORE"
	EnvGitHubToken  = "HOOKBOX_GITHUB_TOKEN"
	EnvSlackWebhook = "SLACK_WEBHOOK_URL"
)

// Config is the root configuration structure.
type Config struct {
	Secret                   string                 `yaml:"secret"`
	RoutePrefix              string                 `yaml:"route_prefix"`
	Middleware               []string               `yaml:"middleware"`
	StoreWebhooks            bool                   `yaml:"store_webhooks"`
	Handlers                 map[string]HandlerList `yaml:"handlers"`
	ContinueOnHandlerFailure bool                   `yaml:"continue_on_handler_failure"`
	AutoUpdateBranches       []string               `yaml:"auto_update_branches"`
	Branch                   string                 `yaml:"branch"`
	Environment              string                 `yaml:"environment"`
	RepositoryPath           string                 `yaml:"repository_path"`
	RepositoryStoragePath    string                 `yaml:"repository_storage_path"`
	Deployment               Deployment             `yaml:"deployment"`
	Steps                    Steps                  `yaml:"steps"`
	RollbackSteps            Steps                  `yaml:"rollback_steps"`
	Lock                     Lock                   `yaml:"lock"`
	Audit                    Audit                  `yaml:"audit"`
	Notifications            Notifications          `yaml:"notifications"`
	Metrics                  Metrics                `yaml:"metrics"`
	HTTP                     HTTP                   `yaml:"http"`
	LogLevel                 string                 `yaml:"log_level"`
}

// Deployment toggles the built-in pipeline steps.
type Deployment struct {
	RunComposer       bool   `yaml:"run_composer"`
	RunMigrations     bool   `yaml:"run_migrations"`
	RunNPM            bool   `yaml:"run_npm"`
	CacheClear        bool   `yaml:"cache_clear"`
	Optimize          bool   `yaml:"optimize"`
	CreateStorageLink bool   `yaml:"create_storage_link"`
	RestartQueue      bool   `yaml:"restart_queue"`
	NPMBuildScript    string `yaml:"npm_build_script"`
	PHPBinary         string `yaml:"php_binary"`
	Remote            string `yaml:"remote"`
	HardReset         bool   `yaml:"hard_reset"`
	Retry             Retry  `yaml:"retry"`
}

// Retry is the single retry policy applied to source sync.
type Retry struct {
	MaxRetries int           `yaml:"max_retries"`
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Mode       string        `yaml:"mode"` // fixed|linear|exponential
}

// Lock selects the deployment lease backend.
type Lock struct {
	Backend       string        `yaml:"backend"` // memory|redis
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`
}

// Audit configures the sqlite delivery log.
type Audit struct {
	DBPath        string        `yaml:"db_path"`
	RetentionDays int           `yaml:"retention_days"`
	PruneInterval time.Duration `yaml:"prune_interval"`
}

type Notifications struct {
	ImportantBranches []string     `yaml:"important_branches"`
	Slack             Slack        `yaml:"slack"`
	NATS              NATS         `yaml:"nats"`
	GitHubStatus      GitHubStatus `yaml:"github_status"`
}

type Slack struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
}

type NATS struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type GitHubStatus struct {
	Token     string `yaml:"token"`
	Context   string `yaml:"context"`
	TargetURL string `yaml:"target_url"`
	BaseURL   string `yaml:"base_url"`
}

type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type HTTP struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// HandlerList is an ordered list of handler identifiers. A single scalar in
// YAML is accepted as a one-element list.
type HandlerList []string

func (h *HandlerList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			*h = nil
			return nil
		}
		*h = HandlerList{node.Value}
		return nil
	case yaml.SequenceNode:
		var ids []string
		if err := node.Decode(&ids); err != nil {
			return err
		}
		*h = ids
		return nil
	default:
		return fmt.Errorf("line %d: handlers must be a string or a list of strings", node.Line)
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		RoutePrefix:              DefaultRoutePrefix,
		StoreWebhooks:            true,
		Handlers:                 map[string]HandlerList{},
		ContinueOnHandlerFailure: true,
		AutoUpdateBranches:       []string{"main", "master", "develop"},
		Branch:                   DefaultBranch,
		Environment:              DefaultEnvironment,
		RepositoryPath:           ".",
		RepositoryStoragePath:    "./repositories",
		Deployment: Deployment{
			RunComposer:    true,
			RunMigrations:  true,
			RunNPM:         true,
			CacheClear:     true,
			NPMBuildScript: DefaultNPMBuildScript,
			PHPBinary:      "php",
			Remote:         "origin",
			HardReset:      true,
			Retry: Retry{
				MaxRetries: 2,
				Initial:    time.Second,
				Max:        30 * time.Second,
				Mode:       "linear",
			},
		},
		Lock: Lock{
			Backend: "memory",
			TTL:     DefaultLockTTL,
		},
		Audit: Audit{
			DBPath:        "./hookbox.db",
			RetentionDays: DefaultRetentionDays,
			PruneInterval: DefaultPruneInterval,
		},
		Notifications: Notifications{
			ImportantBranches: []string{"main", "master", "develop"},
			NATS:              NATS{Subject: "hookbox.events"},
			GitHubStatus:      GitHubStatus{Context: "hookbox/deploy"},
		},
		Metrics:  Metrics{Path: "/metrics"},
		HTTP:     HTTP{Host: "127.0.0.1", Port: 8080},
		LogLevel: "info",
	}
}

// Load reads, defaults, overrides and validates the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if problems := Validate(cfg); len(problems) > 0 {
		return nil, fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}

	return cfg, nil
}

// Parse decodes YAML on top of the defaults and applies environment
// overrides. It does not validate.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if cfg.Handlers == nil {
		cfg.Handlers = map[string]HandlerList{}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.RoutePrefix = strings.Trim(cfg.RoutePrefix, "/")

	return cfg, nil
}

// LoadDotEnv loads KEY=value pairs from path into the process environment.
// A missing file is not an error. Variables already set win.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvSecret); v != "" {
		c.Secret = v
	}
	if v := os.Getenv(EnvRoutePrefix); v != "" {
		c.RoutePrefix = v
	}
	if v := os.Getenv(EnvStore); v != "" {
		store, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s must be a boolean, got %q", EnvStore, v)
		}
		c.StoreWebhooks = store
	}
	if v := os.Getenv(EnvGitHubToken); v != "" {
		c.Notifications.GitHubStatus.Token = v
	}
	if v := os.Getenv(EnvSlackWebhook); v != "" {
		c.Notifications.Slack.WebhookURL = v
	}
	return nil
}

// WebhookPath is the route the GitHub endpoint is mounted on.
func (c *Config) WebhookPath() string {
	if c.RoutePrefix == "" {
		return "/github"
	}
	return "/" + c.RoutePrefix + "/github"
}

// SecretsForRedaction lists configured credentials that must never reach
// logs or stored step output.
func (c *Config) SecretsForRedaction() []string {
	return []string{
		c.Secret,
		c.Notifications.GitHubStatus.Token,
		c.Notifications.Slack.WebhookURL,
		c.Lock.RedisPassword,
	}
}

// HandlerCount returns the total number of configured handler bindings.
func (c *Config) HandlerCount() int {
	n := 0
	for _, ids := range c.Handlers {
		n += len(ids)
	}
	return n
}

// HandlerBindings returns the handlers mapping as plain string slices.
func (c *Config) HandlerBindings() map[string][]string {
	out := make(map[string][]string, len(c.Handlers))
	for event, ids := range c.Handlers {
		out[event] = append([]string(nil), ids...)
	}
	return out
}
