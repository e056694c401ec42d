package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	shellwords "github.com/mattn/go-shellwords"
	toml "github.com/pelletier/go-toml/v2"
	yaml "gopkg.in/yaml.v3"
)

// Config holds the daemon configuration. Values are resolved in three layers:
// built-in defaults, then an optional config file, then OPENLLM_* environment
// variables.
type Config struct {
	// Socket is the unix socket path the daemon listens on.
	Socket string `json:"socket" yaml:"socket" toml:"socket"`
	// Port is an optional TCP port. When set it takes precedence over Socket.
	Port string `json:"port" yaml:"port" toml:"port"`
	// StorePath is the artifact store root directory.
	StorePath string `json:"store_path" yaml:"store_path" toml:"store_path"`
	// HubURL is the base URL of the model hub weights are imported from.
	HubURL string `json:"hub_url" yaml:"hub_url" toml:"hub_url"`
	// EnginePath is the directory holding installed inference engine binaries.
	EnginePath string `json:"engine_path" yaml:"engine_path" toml:"engine_path"`
	// EngineArgs holds extra engine arguments in shell syntax.
	EngineArgs string `json:"engine_args" yaml:"engine_args" toml:"engine_args"`
	// Origins lists allowed CORS origins.
	Origins []string `json:"origins" yaml:"origins" toml:"origins"`
	// ActivityPath is the sqlite database recording daemon activity. API
	// keys live in keys.db in the same directory.
	ActivityPath string `json:"activity_path" yaml:"activity_path" toml:"activity_path"`
	// RequireAPIKey enables bearer-key authentication on the HTTP API.
	RequireAPIKey bool `json:"require_api_key" yaml:"require_api_key" toml:"require_api_key"`
	// DisableMetrics disables the /metrics endpoint.
	DisableMetrics bool `json:"disable_metrics" yaml:"disable_metrics" toml:"disable_metrics"`
	// MaxConcurrentImports bounds parallel model imports.
	MaxConcurrentImports int `json:"max_concurrent_imports" yaml:"max_concurrent_imports" toml:"max_concurrent_imports"`
}

// Default returns the built-in configuration.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	root := filepath.Join(home, ".openllm")
	return Config{
		Socket:               "openllm.sock",
		StorePath:            filepath.Join(root, "artifacts"),
		HubURL:               "https://huggingface.co",
		EnginePath:           filepath.Join(root, "engines"),
		ActivityPath:         filepath.Join(root, "activity.db"),
		MaxConcurrentImports: 2,
	}
}

// Load resolves the configuration: defaults, then the file at path (skipped
// when path is empty), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyFile merges values from a config file, chosen by extension.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse yaml config %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse toml config %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse json config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q (want .yaml, .toml or .json)", ext)
	}
	return nil
}

// applyEnv overlays OPENLLM_* environment variables onto the configuration.
func (c *Config) applyEnv() {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&c.Socket, "OPENLLM_SOCK")
	setString(&c.Port, "OPENLLM_PORT")
	setString(&c.StorePath, "OPENLLM_STORE_PATH")
	setString(&c.HubURL, "OPENLLM_HUB_URL")
	setString(&c.EnginePath, "OPENLLM_ENGINE_PATH")
	setString(&c.EngineArgs, "OPENLLM_ENGINE_ARGS")
	setString(&c.ActivityPath, "OPENLLM_ACTIVITY_PATH")
	if v := os.Getenv("OPENLLM_ORIGINS"); v != "" {
		c.Origins = c.Origins[:0]
		for _, origin := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				c.Origins = append(c.Origins, trimmed)
			}
		}
	}
	if _, ok := os.LookupEnv("OPENLLM_REQUIRE_API_KEY"); ok {
		c.RequireAPIKey = true
	}
	if os.Getenv("OPENLLM_DISABLE_METRICS") == "1" {
		c.DisableMetrics = true
	}
}

// reservedEngineArgs are controlled by the runner and may not be overridden
// through EngineArgs.
var reservedEngineArgs = []string{"--model", "--host", "--embeddings", "--mmproj"}

// ParseEngineArgs splits EngineArgs with shell quoting rules and rejects
// arguments the runner reserves for itself.
func (c Config) ParseEngineArgs() ([]string, error) {
	if c.EngineArgs == "" {
		return nil, nil
	}
	args, err := shellwords.Parse(c.EngineArgs)
	if err != nil {
		return nil, fmt.Errorf("parse engine args: %w", err)
	}
	for _, arg := range args {
		for _, reserved := range reservedEngineArgs {
			if arg == reserved {
				return nil, fmt.Errorf("engine args may not override %s", reserved)
			}
		}
	}
	return args, nil
}
