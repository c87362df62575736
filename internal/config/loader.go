package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/baaaht/chatmesh/pkg/types"
)

// envVarPattern matches ${VAR_NAME} and ${VAR_NAME:-default}
var envVarPattern = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)(:-([^}]*))?\}`)

// interpolateEnvVars replaces environment variable placeholders with their values
// Supports ${VAR_NAME} and ${VAR_NAME:-default_value} syntax
func interpolateEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultValue := ""
		if len(parts) >= 4 && parts[3] != "" {
			defaultValue = parts[3]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// validateFilePath checks if the file path is valid and has the correct extension
func validateFilePath(path string) error {
	if path == "" {
		return types.NewError(types.ErrCodeInvalidArgument, "configuration file path cannot be empty")
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return types.NewError(types.ErrCodeInvalidArgument,
			"configuration file must have .yaml or .yml extension, got: "+ext)
	}

	return nil
}

// validateYAMLContent rejects empty documents and syntax errors with file context
func validateYAMLContent(data []byte, path string) error {
	if strings.TrimSpace(string(data)) == "" {
		return types.NewError(types.ErrCodeInvalid, "configuration file is empty: "+path)
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return types.WrapError(types.ErrCodeInvalid, "invalid YAML syntax in "+path, err)
	}
	if node.Kind == 0 && len(node.Content) == 0 {
		return types.NewError(types.ErrCodeInvalid, "configuration file contains no valid YAML content: "+path)
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file. Unset fields take
// their defaults; environment overrides are not applied.
func LoadFromFile(path string) (*Config, error) {
	if err := validateFilePath(path); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.WrapError(types.ErrCodeNotFound, "configuration file not found: "+path, err)
		}
		return nil, types.WrapError(types.ErrCodeInvalidArgument, "failed to read configuration file: "+path, err)
	}

	if err := validateYAMLContent(data, path); err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		if yamlErr, ok := err.(*yaml.TypeError); ok {
			return nil, types.WrapError(types.ErrCodeInvalid, "YAML type error in "+path, yamlErr)
		}
		return nil, types.WrapError(types.ErrCodeInvalid, "failed to parse YAML configuration from "+path, err)
	}

	interpolateEnvVarsInConfig(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, types.WrapError(types.ErrCodeInvalid, "configuration validation failed for "+path, err)
	}

	return &cfg, nil
}

// LoadPath loads path when it is set, or the default location otherwise,
// and applies environment overrides on top.
func LoadPath(path string) (*Config, error) {
	if path == "" {
		return Load()
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// interpolateEnvVarsInConfig interpolates environment variables in all string fields
func interpolateEnvVarsInConfig(cfg *Config) {
	cfg.Group.Address = interpolateEnvVars(cfg.Group.Address)
	cfg.Group.Mode = interpolateEnvVars(cfg.Group.Mode)

	cfg.Relay.ChannelPrefix = interpolateEnvVars(cfg.Relay.ChannelPrefix)
	cfg.Relay.LogPath = interpolateEnvVars(cfg.Relay.LogPath)

	cfg.Probe.Address = interpolateEnvVars(cfg.Probe.Address)

	cfg.Server.ListenAddress = interpolateEnvVars(cfg.Server.ListenAddress)

	cfg.Logging.Level = interpolateEnvVars(cfg.Logging.Level)
	cfg.Logging.Format = interpolateEnvVars(cfg.Logging.Format)
	cfg.Logging.Output = interpolateEnvVars(cfg.Logging.Output)
}
