// Package config loads BlueKit settings from flags, BLUEKIT_* environment
// variables, <home>/config.toml and built-in defaults, in that order.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/bluekit-app/bluekit/internal/apperr"
	"github.com/bluekit-app/bluekit/internal/watcher"
)

// EnvPrefix prefixes every environment override, e.g. BLUEKIT_GITHUB_TOKEN.
const EnvPrefix = "BLUEKIT"

// FileName is the config file looked up in the home directory.
const FileName = "config.toml"

// Config is the resolved configuration.
type Config struct {
	Home     string         `mapstructure:"home"`
	Database DatabaseConfig `mapstructure:"database"`
	GitHub   GitHubConfig   `mapstructure:"github"`
	Watcher  WatcherConfig  `mapstructure:"watcher"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`

	// File is the config file that was read, empty when none existed.
	File string `mapstructure:"-"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type GitHubConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
	Branch  string `mapstructure:"branch"`
}

type WatcherConfig struct {
	Debounce    time.Duration `mapstructure:"debounce"`
	ChannelSize int           `mapstructure:"channel_size"`
	MaxErrors   int           `mapstructure:"max_errors"`
	MaxRestarts int           `mapstructure:"max_restarts"`
	RestartBase time.Duration `mapstructure:"restart_base"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	File   string `mapstructure:"file"`
	Stderr bool   `mapstructure:"stderr"`
}

// RegistryPath is the legacy project registry inside the home directory.
func (c *Config) RegistryPath() string {
	return filepath.Join(c.Home, "projectRegistry.json")
}

// WatcherSettings converts the watcher section for watcher.NewFleet.
func (c *Config) WatcherSettings() *watcher.Config {
	return &watcher.Config{
		Debounce:    c.Watcher.Debounce,
		ChannelSize: c.Watcher.ChannelSize,
		MaxErrors:   c.Watcher.MaxErrors,
		MaxRestarts: c.Watcher.MaxRestarts,
		RestartBase: c.Watcher.RestartBase,
	}
}

// flagKeys binds command-line flags to config keys.
var flagKeys = map[string]string{
	"home":   "home",
	"db":     "database.path",
	"addr":   "server.addr",
	"token":  "github.token",
	"branch": "github.branch",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("github.base_url", "https://api.github.com")
	v.SetDefault("github.token", "")
	v.SetDefault("github.branch", "")
	v.SetDefault("watcher.debounce", "300ms")
	v.SetDefault("watcher.channel_size", 100)
	v.SetDefault("watcher.max_errors", 10)
	v.SetDefault("watcher.max_restarts", 5)
	v.SetDefault("watcher.restart_base", "1s")
	v.SetDefault("server.addr", "127.0.0.1:7430")
	v.SetDefault("log.stderr", true)
	// Derived from home after loading.
	v.SetDefault("database.path", "")
	v.SetDefault("log.file", "")
}

// DefaultHome returns $HOME/.bluekit.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bluekit"
	}
	return filepath.Join(home, ".bluekit")
}

// Load resolves the configuration. flags may be nil; only flags named in
// the binding table that the user set take precedence.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("home", DefaultHome())
	setDefaults(v)

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	home := v.GetString("home")
	file := filepath.Join(home, FileName)
	if _, err := os.Stat(file); err == nil {
		v.SetConfigFile(file)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read %s: %v: %w", file, err, apperr.ErrParse)
		}
	} else if errors.Is(err, fs.ErrNotExist) {
		file = ""
	} else {
		return nil, fmt.Errorf("failed to stat %s: %v: %w", file, err, apperr.ErrIO)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %v: %w", err, apperr.ErrParse)
	}
	cfg.File = file
	cfg.resolve()
	return &cfg, nil
}

func (c *Config) resolve() {
	if c.Home == "" {
		c.Home = DefaultHome()
	}
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(c.Home, "bluekit.db")
	}
	if c.Log.File == "" {
		c.Log.File = filepath.Join(c.Home, "logs", "bluekit.log")
	}
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults(home string) *Config {
	cfg := &Config{
		Home:   home,
		GitHub: GitHubConfig{BaseURL: "https://api.github.com"},
		Watcher: WatcherConfig{
			Debounce:    300 * time.Millisecond,
			ChannelSize: 100,
			MaxErrors:   10,
			MaxRestarts: 5,
			RestartBase: time.Second,
		},
		Server: ServerConfig{Addr: "127.0.0.1:7430"},
		Log:    LogConfig{Stderr: true},
	}
	cfg.resolve()
	return cfg
}

// Write encodes cfg as TOML. The token is never written.
func Write(w io.Writer, cfg *Config) error {
	doc := map[string]any{
		"home": cfg.Home,
		"database": map[string]any{
			"path": cfg.Database.Path,
		},
		"github": map[string]any{
			"base_url": cfg.GitHub.BaseURL,
			"branch":   cfg.GitHub.Branch,
		},
		"watcher": map[string]any{
			"debounce":     cfg.Watcher.Debounce.String(),
			"channel_size": cfg.Watcher.ChannelSize,
			"max_errors":   cfg.Watcher.MaxErrors,
			"max_restarts": cfg.Watcher.MaxRestarts,
			"restart_base": cfg.Watcher.RestartBase.String(),
		},
		"server": map[string]any{
			"addr": cfg.Server.Addr,
		},
		"log": map[string]any{
			"file":   cfg.Log.File,
			"stderr": cfg.Log.Stderr,
		},
	}
	if err := toml.NewEncoder(w).Encode(doc); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// Init writes the defaults for home to <home>/config.toml and returns the
// path. An existing file is never overwritten.
func Init(home string) (string, error) {
	path := filepath.Join(home, FileName)
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("config file already exists at %s: %w", path, apperr.ErrConflict)
	}
	if err := os.MkdirAll(home, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %v: %w", home, err, apperr.ErrIO)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %v: %w", path, err, apperr.ErrIO)
	}
	defer f.Close()
	if err := Write(f, Defaults(home)); err != nil {
		return "", err
	}
	return path, nil
}
