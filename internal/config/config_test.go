package config

import (
	"os"
	"path/filepath"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for envVar := range envVarMappings {
		if v, ok := os.LookupEnv(envVar); ok {
			os.Unsetenv(envVar)
			t.Cleanup(func() { os.Setenv(envVar, v) })
		}
	}
	if v, ok := os.LookupEnv("MODELREG_CONFIG_PATH"); ok {
		os.Unsetenv("MODELREG_CONFIG_PATH")
		t.Cleanup(func() { os.Setenv("MODELREG_CONFIG_PATH", v) })
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Version != CurrentVersion {
		t.Errorf("Version = %d, want %d", cfg.Version, CurrentVersion)
	}
	if cfg.Cache.Backend != "memory" {
		t.Errorf("Cache.Backend = %q, want memory", cfg.Cache.Backend)
	}
	if cfg.Executor.Workers <= 0 {
		t.Error("Executor.Workers should be positive")
	}
	if cfg.Metrics.Enabled {
		t.Error("Metrics should be disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config is invalid: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantField string
	}{
		{"valid", func(c *Config) {}, ""},
		{"sqlite backend", func(c *Config) { c.Cache.Backend = "sqlite" }, ""},
		{"wrong version", func(c *Config) { c.Version = 99 }, "version"},
		{"unknown backend", func(c *Config) { c.Cache.Backend = "redis" }, "cache.backend"},
		{"sqlite without dir", func(c *Config) { c.Cache.Backend = "sqlite"; c.Cache.Dir = "" }, "cache.dir"},
		{"no workers", func(c *Config) { c.Executor.Workers = 0 }, "executor.workers"},
		{"negative queue", func(c *Config) { c.Executor.QueueSize = -1 }, "executor.queueSize"},
		{"no cache workers", func(c *Config) { c.Executor.CacheWorkers = 0 }, "executor.cacheWorkers"},
		{"negative timeout", func(c *Config) { c.Query.TimeoutSeconds = -1 }, "query.timeoutSeconds"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"metrics without listen", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Listen = "" }, "metrics.listen"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			cerr, ok := err.(*ConfigError)
			if !ok {
				t.Fatalf("Validate() error = %v, want *ConfigError", err)
			}
			if cerr.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", cerr.Field, tt.wantField)
			}
		})
	}
}

func TestConfigError_Error(t *testing.T) {
	err := &ConfigError{Field: "cache.backend", Message: "bad"}
	want := "config error in field 'cache.backend': bad"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestLoadConfig_Default(t *testing.T) {
	clearEnv(t)
	result, err := LoadConfigWithDetails(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfigWithDetails() error = %v", err)
	}
	if !result.UsedDefaults {
		t.Error("UsedDefaults should be true when no config file exists")
	}
	if result.ConfigPath != "" {
		t.Errorf("ConfigPath = %q, want empty", result.ConfigPath)
	}
}

func TestLoadConfig_Formats(t *testing.T) {
	tests := []struct {
		file    string
		content string
	}{
		{"config.json", `{"version": 1, "cache": {"backend": "sqlite"}, "executor": {"workers": 9}}`},
		{"config.yaml", "version: 1\ncache:\n  backend: sqlite\nexecutor:\n  workers: 9\n"},
		{"config.toml", "version = 1\n[cache]\nbackend = \"sqlite\"\n[executor]\nworkers = 9\n"},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			clearEnv(t)
			root := t.TempDir()
			if err := os.MkdirAll(filepath.Join(root, Dir), 0755); err != nil {
				t.Fatal(err)
			}
			path := filepath.Join(root, Dir, tt.file)
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}

			result, err := LoadConfigWithDetails(root)
			if err != nil {
				t.Fatalf("LoadConfigWithDetails() error = %v", err)
			}
			cfg := result.Config
			if result.UsedDefaults || result.ConfigPath != path {
				t.Errorf("ConfigPath = %q UsedDefaults = %v", result.ConfigPath, result.UsedDefaults)
			}
			if cfg.Cache.Backend != "sqlite" {
				t.Errorf("Cache.Backend = %q, want sqlite", cfg.Cache.Backend)
			}
			if cfg.Executor.Workers != 9 {
				t.Errorf("Executor.Workers = %d, want 9", cfg.Executor.Workers)
			}
			// Unset keys keep their defaults.
			if cfg.Executor.QueueSize != DefaultConfig().Executor.QueueSize {
				t.Errorf("Executor.QueueSize = %d, want default", cfg.Executor.QueueSize)
			}
		})
	}
}

func TestLoadConfigWithDetails_EnvConfigPath(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "custom.json")
	if err := os.WriteFile(path, []byte(`{"version": 1, "query": {"timeoutSeconds": 7}}`), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MODELREG_CONFIG_PATH", path)

	result, err := LoadConfigWithDetails(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfigWithDetails() error = %v", err)
	}
	if result.ConfigPath != path {
		t.Errorf("ConfigPath = %q, want %q", result.ConfigPath, path)
	}
	if result.Config.Query.TimeoutSeconds != 7 {
		t.Errorf("Query.TimeoutSeconds = %d, want 7", result.Config.Query.TimeoutSeconds)
	}
}

func TestLoadConfigFromPath_Errors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadConfigFromPath(bad); err == nil {
		t.Error("LoadConfigFromPath() should fail on invalid JSON")
	}
	if _, err := LoadConfigFromPath(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("LoadConfigFromPath() should fail on a missing file")
	}
}

func TestConfig_Save(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.Cache.Backend = "sqlite"
	cfg.Metrics.Enabled = true

	if err := cfg.Save(root); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, err := LoadConfig(root)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if loaded.Cache.Backend != "sqlite" || !loaded.Metrics.Enabled {
		t.Errorf("loaded = %+v", loaded)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		validate func(t *testing.T, cfg *Config, overrides []EnvOverride)
	}{
		{
			name:    "log level",
			envVars: map[string]string{"MODELREG_LOG_LEVEL": "debug"},
			validate: func(t *testing.T, cfg *Config, overrides []EnvOverride) {
				if cfg.Logging.Level != "debug" {
					t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
				}
				if len(overrides) != 1 || overrides[0].Path != "logging.level" {
					t.Errorf("overrides = %+v", overrides)
				}
			},
		},
		{
			name: "int and bool",
			envVars: map[string]string{
				"MODELREG_EXECUTOR_WORKERS": "16",
				"MODELREG_METRICS_ENABLED":  "true",
			},
			validate: func(t *testing.T, cfg *Config, overrides []EnvOverride) {
				if cfg.Executor.Workers != 16 {
					t.Errorf("Executor.Workers = %d, want 16", cfg.Executor.Workers)
				}
				if !cfg.Metrics.Enabled {
					t.Error("Metrics.Enabled should be true")
				}
				if len(overrides) != 2 {
					t.Errorf("len(overrides) = %d, want 2", len(overrides))
				}
			},
		},
		{
			name: "invalid values ignored",
			envVars: map[string]string{
				"MODELREG_EXECUTOR_WORKERS": "many",
				"MODELREG_METRICS_ENABLED":  "perhaps",
			},
			validate: func(t *testing.T, cfg *Config, overrides []EnvOverride) {
				if cfg.Executor.Workers != DefaultConfig().Executor.Workers {
					t.Errorf("Executor.Workers = %d, want default", cfg.Executor.Workers)
				}
				if len(overrides) != 0 {
					t.Errorf("len(overrides) = %d, want 0", len(overrides))
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}
			cfg := DefaultConfig()
			tt.validate(t, cfg, applyEnvOverrides(cfg))
		})
	}
}

func TestApplyOverride(t *testing.T) {
	tests := []struct {
		path  string
		value interface{}
		want  bool
	}{
		{"cache.backend", "sqlite", true},
		{"cache.backend", 1, false},
		{"executor.queueSize", 10, true},
		{"executor.queueSize", "10", false},
		{"metrics.enabled", true, true},
		{"metrics.enabled", "yes", false},
		{"logging", "debug", false},
		{"unknown.path", "x", false},
		{"cache.backend.extra", "x", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := applyOverride(DefaultConfig(), tt.path, tt.value); got != tt.want {
				t.Errorf("applyOverride(%q, %v) = %v, want %v", tt.path, tt.value, got, tt.want)
			}
		})
	}
}

func TestGetSupportedEnvVars(t *testing.T) {
	vars := GetSupportedEnvVars()
	if len(vars) != len(envVarMappings) {
		t.Errorf("len = %d, want %d", len(vars), len(envVarMappings))
	}
	found := false
	for _, v := range vars {
		if v == "MODELREG_LOG_LEVEL" {
			found = true
		}
	}
	if !found {
		t.Error("GetSupportedEnvVars() should include MODELREG_LOG_LEVEL")
	}
}

func TestLoggerAndPoolConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.File = "/tmp/modelreg.log"

	lc := cfg.Logging.LoggerConfig()
	if string(lc.Level) != cfg.Logging.Level || lc.File != cfg.Logging.File {
		t.Errorf("LoggerConfig() = %+v", lc)
	}
	if lc.Rotation.MaxSizeMB != cfg.Logging.MaxSizeMB {
		t.Errorf("Rotation.MaxSizeMB = %d", lc.Rotation.MaxSizeMB)
	}
	pc := cfg.Executor.PoolConfig()
	if pc.WorkerCount != cfg.Executor.Workers || pc.QueueSize != cfg.Executor.QueueSize {
		t.Errorf("PoolConfig() = %+v", pc)
	}
}
