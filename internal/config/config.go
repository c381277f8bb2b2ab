package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"modelreg/internal/jobs"
	"modelreg/internal/logging"
)

// CurrentVersion is the config schema version written by this build.
const CurrentVersion = 1

// Dir is the directory, relative to the root, holding the config file.
const Dir = ".modelreg"

// Config represents the complete registry configuration
type Config struct {
	Version int `json:"version" mapstructure:"version" yaml:"version" toml:"version"`

	Cache    CacheConfig    `json:"cache" mapstructure:"cache" yaml:"cache" toml:"cache"`
	Executor ExecutorConfig `json:"executor" mapstructure:"executor" yaml:"executor" toml:"executor"`
	Datasets DatasetsConfig `json:"datasets" mapstructure:"datasets" yaml:"datasets" toml:"datasets"`
	Query    QueryConfig    `json:"query" mapstructure:"query" yaml:"query" toml:"query"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging" yaml:"logging" toml:"logging"`
	Metrics  MetricsConfig  `json:"metrics" mapstructure:"metrics" yaml:"metrics" toml:"metrics"`
}

// CacheConfig selects the model cache backend
type CacheConfig struct {
	// Backend is "memory" or "sqlite"
	Backend string `json:"backend" mapstructure:"backend" yaml:"backend" toml:"backend"`
	// Dir holds the sqlite database
	Dir string `json:"dir" mapstructure:"dir" yaml:"dir" toml:"dir"`
}

// ExecutorConfig sizes the worker pools
type ExecutorConfig struct {
	// Workers per provider
	Workers int `json:"workers" mapstructure:"workers" yaml:"workers" toml:"workers"`
	// QueueSize per provider
	QueueSize int `json:"queueSize" mapstructure:"queueSize" yaml:"queueSize" toml:"queueSize"`
	// CacheWorkers bounds concurrent cache reads of one query
	CacheWorkers int `json:"cacheWorkers" mapstructure:"cacheWorkers" yaml:"cacheWorkers" toml:"cacheWorkers"`
}

// DatasetsConfig points at the dataset provider files
type DatasetsConfig struct {
	Dir string `json:"dir" mapstructure:"dir" yaml:"dir" toml:"dir"`
}

// QueryConfig contains query execution settings
type QueryConfig struct {
	TimeoutSeconds int `json:"timeoutSeconds" mapstructure:"timeoutSeconds" yaml:"timeoutSeconds" toml:"timeoutSeconds"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format     string `json:"format" mapstructure:"format" yaml:"format" toml:"format"`
	Level      string `json:"level" mapstructure:"level" yaml:"level" toml:"level"`
	File       string `json:"file,omitempty" mapstructure:"file" yaml:"file,omitempty" toml:"file,omitempty"`
	MaxSizeMB  int    `json:"maxSizeMb" mapstructure:"maxSizeMb" yaml:"maxSizeMb" toml:"maxSizeMb"`
	MaxBackups int    `json:"maxBackups" mapstructure:"maxBackups" yaml:"maxBackups" toml:"maxBackups"`
	MaxAgeDays int    `json:"maxAgeDays" mapstructure:"maxAgeDays" yaml:"maxAgeDays" toml:"maxAgeDays"`
	Compress   bool   `json:"compress" mapstructure:"compress" yaml:"compress" toml:"compress"`
}

// MetricsConfig contains the prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled" yaml:"enabled" toml:"enabled"`
	Listen  string `json:"listen" mapstructure:"listen" yaml:"listen" toml:"listen"`
	// Runtime adds the Go runtime and process collectors
	Runtime bool `json:"runtime" mapstructure:"runtime" yaml:"runtime" toml:"runtime"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		Cache: CacheConfig{
			Backend: "memory",
			Dir:     filepath.Join(Dir, "cache"),
		},
		Executor: ExecutorConfig{
			Workers:      4,
			QueueSize:    100,
			CacheWorkers: 4,
		},
		Datasets: DatasetsConfig{
			Dir: filepath.Join(Dir, "datasets"),
		},
		Query: QueryConfig{
			TimeoutSeconds: 30,
		},
		Logging: LoggingConfig{
			Format:     "human",
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "localhost:9464",
		},
	}
}

// LoggerConfig converts the logging section for the logging package
func (c LoggingConfig) LoggerConfig() logging.Config {
	return logging.Config{
		Format: logging.Format(c.Format),
		Level:  logging.LogLevel(c.Level),
		File:   c.File,
		Rotation: logging.Rotation{
			MaxSizeMB:  c.MaxSizeMB,
			MaxBackups: c.MaxBackups,
			MaxAgeDays: c.MaxAgeDays,
			Compress:   c.Compress,
		},
	}
}

// PoolConfig converts the executor section for provider pools
func (c ExecutorConfig) PoolConfig() jobs.PoolConfig {
	return jobs.PoolConfig{WorkerCount: c.Workers, QueueSize: c.QueueSize}
}

// LoadResult contains the loaded config and metadata about how it was loaded
type LoadResult struct {
	Config       *Config
	ConfigPath   string // empty when defaults were used
	UsedDefaults bool
	EnvOverrides []EnvOverride
}

// LoadConfig loads configuration from .modelreg/config.{json,yaml,toml}
func LoadConfig(root string) (*Config, error) {
	result, err := LoadConfigWithDetails(root)
	if err != nil {
		return nil, err
	}
	return result.Config, nil
}

// LoadConfigWithDetails loads configuration and reports where it came from.
// MODELREG_CONFIG_PATH, when set, names the file to read. Environment
// overrides are applied last.
func LoadConfigWithDetails(root string) (*LoadResult, error) {
	result := &LoadResult{}

	if path := os.Getenv("MODELREG_CONFIG_PATH"); path != "" {
		cfg, err := LoadConfigFromPath(path)
		if err != nil {
			return nil, err
		}
		result.Config = cfg
		result.ConfigPath = path
	} else {
		v := viper.New()
		v.SetConfigName("config")
		v.AddConfigPath(filepath.Join(root, Dir))

		if err := v.ReadInConfig(); err != nil {
			// If config doesn't exist, use the defaults
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, err
			}
			result.Config = DefaultConfig()
			result.UsedDefaults = true
		} else {
			cfg := DefaultConfig()
			if err := v.Unmarshal(cfg); err != nil {
				return nil, err
			}
			result.Config = cfg
			result.ConfigPath = v.ConfigFileUsed()
		}
	}

	result.EnvOverrides = applyEnvOverrides(result.Config)
	return result, nil
}

// LoadConfigFromPath loads configuration from a specific file. The format
// follows the file extension.
func LoadConfigFromPath(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to .modelreg/config.json
func (c *Config) Save(root string) error {
	dir := filepath.Join(root, Dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return &ConfigError{Field: "version", Message: "unsupported config version " + strconv.Itoa(c.Version)}
	}
	switch c.Cache.Backend {
	case "memory":
	case "sqlite":
		if c.Cache.Dir == "" {
			return &ConfigError{Field: "cache.dir", Message: "required for the sqlite backend"}
		}
	default:
		return &ConfigError{Field: "cache.backend", Message: "must be memory or sqlite, got " + strconv.Quote(c.Cache.Backend)}
	}
	if c.Executor.Workers <= 0 {
		return &ConfigError{Field: "executor.workers", Message: "must be positive"}
	}
	if c.Executor.QueueSize < 0 {
		return &ConfigError{Field: "executor.queueSize", Message: "must not be negative"}
	}
	if c.Executor.CacheWorkers <= 0 {
		return &ConfigError{Field: "executor.cacheWorkers", Message: "must be positive"}
	}
	if c.Query.TimeoutSeconds < 0 {
		return &ConfigError{Field: "query.timeoutSeconds", Message: "must not be negative"}
	}
	switch logging.LogLevel(c.Logging.Level) {
	case logging.DebugLevel, logging.InfoLevel, logging.WarnLevel, logging.ErrorLevel:
	default:
		return &ConfigError{Field: "logging.level", Message: "unknown level " + strconv.Quote(c.Logging.Level)}
	}
	switch logging.Format(c.Logging.Format) {
	case logging.JSONFormat, logging.HumanFormat:
	default:
		return &ConfigError{Field: "logging.format", Message: "unknown format " + strconv.Quote(c.Logging.Format)}
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return &ConfigError{Field: "metrics.listen", Message: "required when metrics are enabled"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}

// EnvOverride records one environment variable applied to the config
type EnvOverride struct {
	EnvVar string      `json:"envVar"`
	Path   string      `json:"path"`
	Value  interface{} `json:"value"`
}

type valueKind int

const (
	kindString valueKind = iota
	kindInt
	kindBool
)

type envVarMapping struct {
	path string
	kind valueKind
}

var envVarMappings = map[string]envVarMapping{
	"MODELREG_CACHE_BACKEND":          {"cache.backend", kindString},
	"MODELREG_CACHE_DIR":              {"cache.dir", kindString},
	"MODELREG_EXECUTOR_WORKERS":       {"executor.workers", kindInt},
	"MODELREG_EXECUTOR_QUEUE_SIZE":    {"executor.queueSize", kindInt},
	"MODELREG_EXECUTOR_CACHE_WORKERS": {"executor.cacheWorkers", kindInt},
	"MODELREG_DATASETS_DIR":           {"datasets.dir", kindString},
	"MODELREG_QUERY_TIMEOUT_SECONDS":  {"query.timeoutSeconds", kindInt},
	"MODELREG_LOG_LEVEL":              {"logging.level", kindString},
	"MODELREG_LOG_FORMAT":             {"logging.format", kindString},
	"MODELREG_LOG_FILE":               {"logging.file", kindString},
	"MODELREG_METRICS_ENABLED":        {"metrics.enabled", kindBool},
	"MODELREG_METRICS_LISTEN":         {"metrics.listen", kindString},
}

// GetSupportedEnvVars returns the environment variables that override config
func GetSupportedEnvVars() []string {
	vars := make([]string, 0, len(envVarMappings))
	for k := range envVarMappings {
		vars = append(vars, k)
	}
	sort.Strings(vars)
	return vars
}

// applyEnvOverrides applies MODELREG_* variables to cfg. Values that do not
// parse are skipped.
func applyEnvOverrides(cfg *Config) []EnvOverride {
	var applied []EnvOverride
	for _, envVar := range GetSupportedEnvVars() {
		raw, ok := os.LookupEnv(envVar)
		if !ok {
			continue
		}
		m := envVarMappings[envVar]

		var value interface{}
		switch m.kind {
		case kindInt:
			n, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil {
				continue
			}
			value = n
		case kindBool:
			b, err := strconv.ParseBool(strings.TrimSpace(raw))
			if err != nil {
				continue
			}
			value = b
		default:
			value = raw
		}

		if applyOverride(cfg, m.path, value) {
			applied = append(applied, EnvOverride{EnvVar: envVar, Path: m.path, Value: value})
		}
	}
	return applied
}

// applyOverride sets the field at path. It reports false for unknown paths
// and values of the wrong type.
func applyOverride(cfg *Config, path string, value interface{}) bool {
	s, isString := value.(string)
	n, isInt := value.(int)
	b, isBool := value.(bool)

	switch path {
	case "cache.backend":
		if isString {
			cfg.Cache.Backend = s
		}
		return isString
	case "cache.dir":
		if isString {
			cfg.Cache.Dir = s
		}
		return isString
	case "executor.workers":
		if isInt {
			cfg.Executor.Workers = n
		}
		return isInt
	case "executor.queueSize":
		if isInt {
			cfg.Executor.QueueSize = n
		}
		return isInt
	case "executor.cacheWorkers":
		if isInt {
			cfg.Executor.CacheWorkers = n
		}
		return isInt
	case "datasets.dir":
		if isString {
			cfg.Datasets.Dir = s
		}
		return isString
	case "query.timeoutSeconds":
		if isInt {
			cfg.Query.TimeoutSeconds = n
		}
		return isInt
	case "logging.level":
		if isString {
			cfg.Logging.Level = s
		}
		return isString
	case "logging.format":
		if isString {
			cfg.Logging.Format = s
		}
		return isString
	case "logging.file":
		if isString {
			cfg.Logging.File = s
		}
		return isString
	case "metrics.enabled":
		if isBool {
			cfg.Metrics.Enabled = b
		}
		return isBool
	case "metrics.listen":
		if isString {
			cfg.Metrics.Listen = s
		}
		return isString
	}
	return false
}
