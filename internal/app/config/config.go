package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort        = 993
	DefaultFolder      = "INBOX"
	DefaultCriteria    = "UNSEEN"
	DefaultMaxBodySize = "16KB"
	DefaultTaskTimeout = 10 * time.Minute
)

type Config struct {
	LogLevel       string           `yaml:"log_level"`       // Logging level: debug, info, warn, error.
	PollInterval   time.Duration    `yaml:"poll_interval"`   // Interval between triage runs, zero runs once.
	TaskTimeout    time.Duration    `yaml:"task_timeout"`    // Upper bound for a single triage run.
	DryRun         bool             `yaml:"dry_run"`         // Route messages without moving them.
	JournalPath    string           `yaml:"journal_path"`    // SQLite file recording per-message outcomes, empty disables.
	MetricsAddress string           `yaml:"metrics_address"` // Listen address for Prometheus metrics, empty disables.
	IMAP           IMAPConfig       `yaml:"imap"`            // Mail store connection.
	Triage         TriageConfig     `yaml:"triage"`          // Message selection.
	Classifier     ClassifierConfig `yaml:"classifier"`      // Classification service.
}

type IMAPConfig struct {
	Host           string `yaml:"host"`            // Mail server host name.
	Port           int    `yaml:"port"`            // Mail server port, 993 by default.
	Security       string `yaml:"security"`        // tls (default), starttls or none.
	Login          string `yaml:"login"`           // Mailbox user name.
	Password       string `yaml:"password"`        // Mailbox password, may come from the environment.
	KeyringService string `yaml:"keyring_service"` // OS keyring service holding the password when Password is empty.
	Debug          bool   `yaml:"debug"`           // Dump the protocol exchange to stderr.
}

type TriageConfig struct {
	Folder      string `yaml:"folder"`        // Folder to triage.
	Criteria    string `yaml:"criteria"`      // Search criteria expression, UNSEEN by default.
	TodayOnly   bool   `yaml:"today_only"`    // Only process messages dated today.
	Limit       int    `yaml:"limit"`         // Maximum messages per run, zero is unlimited.
	MaxBodySize string `yaml:"max_body_size"` // Body size sent to the classifier, e.g. 16KB.
}

type ClassifierConfig struct {
	URL      string        `yaml:"url"`      // Chat completions endpoint.
	APIKey   string        `yaml:"api_key"`  // Bearer token.
	Model    string        `yaml:"model"`    // Model name passed to the service.
	Timeout  time.Duration `yaml:"timeout"`  // Per-request timeout.
	Preamble string        `yaml:"preamble"` // Overrides the built-in policy preamble.
}

// Address returns host:port of the mail server.
func (c IMAPConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// MaxBodyBytes returns the classifier body limit in bytes.
func (c TriageConfig) MaxBodyBytes() int {
	n, err := humanize.ParseBytes(c.MaxBodySize)
	if err != nil {
		return 0
	}

	return int(n)
}

// Level maps LogLevel onto slog levels, info when unset.
func (c Config) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}

	return level
}

func LoadConfig(cfgFilepath, envFilepath string) (Config, error) {
	var cfg Config

	if _, err := os.Stat(envFilepath); err == nil {
		if err = godotenv.Load(envFilepath); err != nil {
			return cfg, fmt.Errorf("load environment variables from file: %w", err)
		}
	}

	//nolint:gosec
	fileBytes, err := os.ReadFile(cfgFilepath)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrNotExist):
			return cfg, fmt.Errorf("configuration file %q doesn't exist: %w", cfgFilepath, err)
		case errors.Is(err, os.ErrPermission):
			return cfg, fmt.Errorf("permission denied for accessing configuration file: %w", err)
		default:
			return cfg, fmt.Errorf("read configuration file: %w", err)
		}
	}

	return Parse(fileBytes)
}

// Parse decodes YAML configuration after expanding ${VAR} references,
// applies defaults and validates the result.
func Parse(data []byte) (Config, error) {
	var cfg Config

	envExpanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(envExpanded), &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal configuration: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func (c *Config) setDefaults() {
	if c.IMAP.Port == 0 {
		c.IMAP.Port = DefaultPort
	}
	if c.IMAP.Security == "" {
		c.IMAP.Security = "tls"
	}
	if c.Triage.Folder == "" {
		c.Triage.Folder = DefaultFolder
	}
	if strings.TrimSpace(c.Triage.Criteria) == "" {
		c.Triage.Criteria = DefaultCriteria
	}
	if c.Triage.MaxBodySize == "" {
		c.Triage.MaxBodySize = DefaultMaxBodySize
	}
	if c.TaskTimeout == 0 {
		c.TaskTimeout = DefaultTaskTimeout
	}
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	if c.IMAP.Host == "" {
		errs = append(errs, errors.New("imap.host is required"))
	}
	if c.IMAP.Login == "" {
		errs = append(errs, errors.New("imap.login is required"))
	}
	switch c.IMAP.Security {
	case "tls", "starttls", "none":
	default:
		errs = append(errs, fmt.Errorf("imap.security %q is not one of tls, starttls, none", c.IMAP.Security))
	}
	if c.Classifier.URL == "" {
		errs = append(errs, errors.New("classifier.url is required"))
	}
	if c.Triage.Limit < 0 {
		errs = append(errs, errors.New("triage.limit must not be negative"))
	}
	if _, err := humanize.ParseBytes(c.Triage.MaxBodySize); err != nil {
		errs = append(errs, fmt.Errorf("triage.max_body_size: %w", err))
	}
	if c.PollInterval < 0 {
		errs = append(errs, errors.New("poll_interval must not be negative"))
	}

	return errors.Join(errs...)
}
