// Package config loads impactscan settings from defaults, an optional TOML
// file and IMPACTSCAN_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/phobologic/impactscan/internal/impact"
	"github.com/phobologic/impactscan/internal/logging"
)

// EnvPrefix prefixes environment overrides, e.g. IMPACTSCAN_BUDGET_TIMEOUT.
const EnvPrefix = "IMPACTSCAN"

// FileName is the config file searched for without an explicit path.
const FileName = "impactscan.toml"

// Config is the complete impactscan configuration.
type Config struct {
	Budget   BudgetConfig   `mapstructure:"budget"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Matching MatchingConfig `mapstructure:"matching"`
	Ignore   IgnoreConfig   `mapstructure:"ignore"`
	Log      LogConfig      `mapstructure:"log"`

	// File is the config file that was read, or "" when none was found.
	File string `mapstructure:"-"`
}

// BudgetConfig bounds a single analysis.
type BudgetConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxFiles        int           `mapstructure:"max_files"`
	MaxMatches      int           `mapstructure:"max_matches"`
	MaxNoMatchFiles int           `mapstructure:"max_no_match_files"`
}

// CacheConfig sizes the in-process caches.
type CacheConfig struct {
	DirEntries  int `mapstructure:"dir_entries"`
	FileResults int `mapstructure:"file_results"`
	Queries     int `mapstructure:"queries"`
}

// MatchingConfig tunes reference matching.
type MatchingConfig struct {
	StrictArgumentTypes bool `mapstructure:"strict_argument_types"`
}

// IgnoreConfig adds exclusion globs to the built-in set.
type IgnoreConfig struct {
	Extra []string `mapstructure:"extra"`
}

// LogConfig controls diagnostic logging.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	b := impact.DefaultBudget()
	return &Config{
		Budget: BudgetConfig{
			Timeout:         b.Timeout,
			MaxFiles:        b.MaxFiles,
			MaxMatches:      b.MaxMatches,
			MaxNoMatchFiles: b.MaxNoMatchFiles,
		},
		Cache: CacheConfig{
			DirEntries:  4096,
			FileResults: 8192,
			Queries:     64,
		},
		Ignore: IgnoreConfig{Extra: []string{}},
		Log:    LogConfig{Level: "info"},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("budget.timeout", d.Budget.Timeout)
	v.SetDefault("budget.max_files", d.Budget.MaxFiles)
	v.SetDefault("budget.max_matches", d.Budget.MaxMatches)
	v.SetDefault("budget.max_no_match_files", d.Budget.MaxNoMatchFiles)
	v.SetDefault("cache.dir_entries", d.Cache.DirEntries)
	v.SetDefault("cache.file_results", d.Cache.FileResults)
	v.SetDefault("cache.queries", d.Cache.Queries)
	v.SetDefault("matching.strict_argument_types", d.Matching.StrictArgumentTypes)
	v.SetDefault("ignore.extra", d.Ignore.Extra)
	v.SetDefault("log.level", d.Log.Level)
}

// SearchDirs returns the directories searched for FileName: the working
// directory, then the user config directory.
func SearchDirs() []string {
	dirs := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		dirs = append(dirs, filepath.Join(dir, "impactscan"))
	}
	return dirs
}

// Load reads the configuration. An explicit path must exist; otherwise
// FileName is looked up in dirs and its absence is not an error.
func Load(explicit string, dirs ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if explicit != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", explicit, err)
		}
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.SetConfigType("toml")
		for _, d := range dirs {
			v.AddConfigPath(d)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Error describes an invalid configuration value.
type Error struct {
	Key     string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Message)
}

// Validate checks that every limit is positive and the log level is known.
func (c *Config) Validate() error {
	positive := []struct {
		key string
		val int64
	}{
		{"budget.timeout", int64(c.Budget.Timeout)},
		{"budget.max_files", int64(c.Budget.MaxFiles)},
		{"budget.max_matches", int64(c.Budget.MaxMatches)},
		{"budget.max_no_match_files", int64(c.Budget.MaxNoMatchFiles)},
		{"cache.dir_entries", int64(c.Cache.DirEntries)},
		{"cache.file_results", int64(c.Cache.FileResults)},
		{"cache.queries", int64(c.Cache.Queries)},
	}
	for _, p := range positive {
		if p.val <= 0 {
			return &Error{Key: p.key, Message: "must be positive"}
		}
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return &Error{Key: "log.level", Message: err.Error()}
	}
	return nil
}

// LogLevel returns the configured level. Validate has already rejected
// unknown names.
func (c *Config) LogLevel() slog.Level {
	level, _ := logging.ParseLevel(c.Log.Level)
	return level
}

// EngineOptions maps the configuration onto impact.Options.
func (c *Config) EngineOptions(logger *slog.Logger) impact.Options {
	return impact.Options{
		Budget: impact.Budget{
			Timeout:         c.Budget.Timeout,
			MaxFiles:        c.Budget.MaxFiles,
			MaxMatches:      c.Budget.MaxMatches,
			MaxNoMatchFiles: c.Budget.MaxNoMatchFiles,
		},
		DirCacheSize:        c.Cache.DirEntries,
		ResultCacheSize:     c.Cache.FileResults,
		QueryCacheSize:      c.Cache.Queries,
		StrictArgumentTypes: c.Matching.StrictArgumentTypes,
		ExtraIgnore:         c.Ignore.Extra,
		Logger:              logger,
	}
}

// tomlConfig mirrors Config with durations as strings so the dump can be
// read back by Load.
type tomlConfig struct {
	Budget struct {
		Timeout         string `toml:"timeout"`
		MaxFiles        int    `toml:"max_files"`
		MaxMatches      int    `toml:"max_matches"`
		MaxNoMatchFiles int    `toml:"max_no_match_files"`
	} `toml:"budget"`
	Cache struct {
		DirEntries  int `toml:"dir_entries"`
		FileResults int `toml:"file_results"`
		Queries     int `toml:"queries"`
	} `toml:"cache"`
	Matching struct {
		StrictArgumentTypes bool `toml:"strict_argument_types"`
	} `toml:"matching"`
	Ignore struct {
		Extra []string `toml:"extra"`
	} `toml:"ignore"`
	Log struct {
		Level string `toml:"level"`
	} `toml:"log"`
}

// TOML renders the effective configuration in the format Load reads.
func (c *Config) TOML() ([]byte, error) {
	var t tomlConfig
	t.Budget.Timeout = c.Budget.Timeout.String()
	t.Budget.MaxFiles = c.Budget.MaxFiles
	t.Budget.MaxMatches = c.Budget.MaxMatches
	t.Budget.MaxNoMatchFiles = c.Budget.MaxNoMatchFiles
	t.Cache.DirEntries = c.Cache.DirEntries
	t.Cache.FileResults = c.Cache.FileResults
	t.Cache.Queries = c.Cache.Queries
	t.Matching.StrictArgumentTypes = c.Matching.StrictArgumentTypes
	t.Ignore.Extra = c.Ignore.Extra
	if t.Ignore.Extra == nil {
		t.Ignore.Extra = []string{}
	}
	t.Log.Level = c.Log.Level

	data, err := toml.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return data, nil
}
