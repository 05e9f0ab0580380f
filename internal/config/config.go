// Package config loads linechain settings from a YAML file, LINECHAIN_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jmerrifield20/linechain/internal/auth"
	"github.com/jmerrifield20/linechain/internal/chain"
	"github.com/jmerrifield20/linechain/internal/digest"
	"github.com/jmerrifield20/linechain/internal/logging"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. LINECHAIN_LOG_LEVEL.
const EnvPrefix = "LINECHAIN"

// Config is the fully resolved configuration.
type Config struct {
	Chain    ChainConfig    `mapstructure:"chain"`
	Log      logging.Config `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Serve    ServeConfig    `mapstructure:"serve"`
	Watch    WatchConfig    `mapstructure:"watch"`
	Alert    AlertConfig    `mapstructure:"alert"`
	Remote   RemoteConfig   `mapstructure:"remote"`
}

// ChainConfig holds defaults for build, append and verify.
type ChainConfig struct {
	Algorithm    string `mapstructure:"algorithm"`
	Format       string `mapstructure:"format"`
	MaxLineBytes int    `mapstructure:"max_line_bytes"`
}

type DatabaseConfig struct {
	// URL of the Postgres checkpoint store. Empty disables anchoring.
	URL string `mapstructure:"url"`
}

// ServeConfig configures the read-only HTTP API.
type ServeConfig struct {
	Port         int           `mapstructure:"port"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
	RateLimitRPS float64       `mapstructure:"rate_limit_rps"`
	Chains       []ChainSource `mapstructure:"chains"`

	// AuditInterval re-verifies every chain in the background. Zero disables it.
	AuditInterval  time.Duration `mapstructure:"audit_interval"`
	VerifyCacheTTL time.Duration `mapstructure:"verify_cache_ttl"`

	Auth AuthConfig `mapstructure:"auth"`
}

// AuthConfig enables bearer-token auth on the API when Secret is set.
// The same settings are used by `linechain token` to mint tokens.
type AuthConfig struct {
	Secret   string        `mapstructure:"secret"`
	Issuer   string        `mapstructure:"issuer"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// RemoteConfig points `linechain remote` at a server.
type RemoteConfig struct {
	Server  string        `mapstructure:"server"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ChainSource names one log and its artifact for the HTTP API.
type ChainSource struct {
	Name     string `mapstructure:"name"`
	Log      string `mapstructure:"log"`
	Artifact string `mapstructure:"artifact"`
}

type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
	Poll     bool          `mapstructure:"poll"`
}

// AlertConfig selects where audit state changes are sent. Both channels
// are optional.
type AlertConfig struct {
	WebhookURL    string     `mapstructure:"webhook_url"`
	WebhookSecret string     `mapstructure:"webhook_secret"`
	SMTP          SMTPConfig `mapstructure:"smtp"`
}

type SMTPConfig struct {
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"algorithm":      "chain.algorithm",
	"format":         "chain.format",
	"max-line-bytes": "chain.max_line_bytes",
	"log-level":      "log.level",
	"log-format":     "log.format",
	"log-file":       "log.file",
	"database-url":   "database.url",
	"port":           "serve.port",
	"debounce":       "watch.debounce",
	"poll":           "watch.poll",
	"server":         "remote.server",
	"token":          "remote.token",
	"timeout":        "remote.timeout",
}

// New returns a viper instance with defaults and environment binding set.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME/.linechain")
	v.AddConfigPath("/etc/linechain")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("chain.algorithm", digest.Default)
	v.SetDefault("chain.format", string(chain.FormatJSONL))
	v.SetDefault("chain.max_line_bytes", chain.DefaultMaxLineBytes)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("database.url", "")
	v.SetDefault("serve.port", 8080)
	v.SetDefault("serve.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("serve.rate_limit_rps", 20)
	v.SetDefault("serve.chains", []ChainSource{})
	v.SetDefault("serve.audit_interval", "0s")
	v.SetDefault("serve.verify_cache_ttl", "30s")
	v.SetDefault("serve.auth.secret", "")
	v.SetDefault("serve.auth.issuer", "linechain")
	v.SetDefault("serve.auth.token_ttl", "24h")
	v.SetDefault("remote.server", "http://localhost:8080")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.timeout", "30s")
	v.SetDefault("watch.debounce", "500ms")
	v.SetDefault("watch.poll", false)
	v.SetDefault("alert.webhook_url", "")
	v.SetDefault("alert.webhook_secret", "")
	v.SetDefault("alert.smtp.host", "")
	v.SetDefault("alert.smtp.port", 587)
	v.SetDefault("alert.smtp.username", "")
	v.SetDefault("alert.smtp.password", "")
	v.SetDefault("alert.smtp.from", "")
	v.SetDefault("alert.smtp.to", []string{})
	return v
}

// BindFlags binds every known flag present in fs to its configuration key.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// Load reads file (or the default search path when file is empty) into v
// and returns the validated configuration. A missing default config file
// is not an error; a missing explicit one is. The returned string is the
// file actually used, empty when none.
func Load(v *viper.Viper, file string) (*Config, string, error) {
	if file != "" {
		v.SetConfigFile(file)
	}
	if err := v.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &cfgNotFound) {
			return nil, "", fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return &cfg, v.ConfigFileUsed(), nil
}

// Validate rejects values no command could run with.
func (c *Config) Validate() error {
	if _, err := digest.Lookup(c.Chain.Algorithm); err != nil {
		return fmt.Errorf("chain.algorithm: %w", err)
	}
	if _, err := chain.ParseFormat(c.Chain.Format); err != nil {
		return fmt.Errorf("chain.format: %w", err)
	}
	if c.Chain.MaxLineBytes < 0 {
		return fmt.Errorf("chain.max_line_bytes must not be negative")
	}
	if c.Serve.Port <= 0 || c.Serve.Port > 65535 {
		return fmt.Errorf("serve.port %d out of range", c.Serve.Port)
	}
	if c.Serve.RateLimitRPS <= 0 {
		return fmt.Errorf("serve.rate_limit_rps must be positive")
	}
	if c.Serve.AuditInterval < 0 || c.Serve.VerifyCacheTTL < 0 {
		return fmt.Errorf("serve.audit_interval and serve.verify_cache_ttl must not be negative")
	}
	if s := c.Serve.Auth.Secret; s != "" && len(s) < auth.MinSecretBytes {
		return fmt.Errorf("serve.auth.secret must be at least %d bytes", auth.MinSecretBytes)
	}
	if c.Remote.Timeout <= 0 {
		return fmt.Errorf("remote.timeout must be positive")
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative")
	}
	if u := c.Alert.WebhookURL; u != "" {
		parsed, err := url.Parse(u)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return fmt.Errorf("alert.webhook_url %q is not an http(s) URL", u)
		}
	}
	if c.Alert.SMTP.Host != "" && (c.Alert.SMTP.From == "" || len(c.Alert.SMTP.To) == 0) {
		return fmt.Errorf("alert.smtp: from and to are required when host is set")
	}
	seen := make(map[string]bool, len(c.Serve.Chains))
	for i, src := range c.Serve.Chains {
		if src.Name == "" || src.Log == "" {
			return fmt.Errorf("serve.chains[%d]: name and log are required", i)
		}
		if seen[src.Name] {
			return fmt.Errorf("serve.chains[%d]: duplicate name %q", i, src.Name)
		}
		seen[src.Name] = true
	}
	return nil
}

// ArtifactPath returns the configured artifact for src, or the default
// path next to its log.
func (src ChainSource) ArtifactPath(format chain.Format) string {
	if src.Artifact != "" {
		return src.Artifact
	}
	return chain.DefaultArtifactPath(src.Log, format)
}
