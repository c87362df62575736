package config

import (
	"os"
	"path/filepath"
	"time"
)

// testConfigPath is an override for the default config path used in testing
// If set, GetDefaultConfigPath will return this value instead of the standard path
var testConfigPath string

// SetTestConfigPath sets a custom config path for testing purposes
// This should only be called from tests
func SetTestConfigPath(path string) {
	testConfigPath = path
}

// GetConfigDir returns the chatmesh configuration directory
// Uses ~/.config/chatmesh/ on Unix systems
func GetConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "chatmesh"), nil
}

// GetDefaultConfigPath returns the default config file path
func GetDefaultConfigPath() (string, error) {
	if testConfigPath != "" {
		return testConfigPath, nil
	}

	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

const (
	// Environment variable names
	EnvGroupAddress         = "CHATMESH_GROUP"
	EnvGroupMode            = "CHATMESH_MODE"
	EnvRelayChannelPrefix   = "CHATMESH_RELAY_PREFIX"
	EnvRelayGraceInterval   = "CHATMESH_RELAY_GRACE"
	EnvRelayLogPath         = "CHATMESH_RELAY_LOG"
	EnvRelayConnectAttempts = "CHATMESH_RELAY_CONNECT_ATTEMPTS"
	EnvProbeAddress         = "CHATMESH_PROBE_GROUP"
	EnvProbeTimeout         = "CHATMESH_PROBE_TIMEOUT"
	EnvServerListen         = "CHATMESH_LISTEN"
	EnvLogLevel             = "LOG_LEVEL"
	EnvLogFormat            = "LOG_FORMAT"
	EnvLogOutput            = "LOG_OUTPUT"
)

// Communicator modes
const (
	ModeDirect  = "direct"
	ModeRelayed = "relayed"
)

const (
	// Default group settings: the chat discovery group
	DefaultGroupAddress = "224.0.0.123:4983"
	DefaultGroupMode    = ModeRelayed

	// Default relay settings
	DefaultChannelPrefix   = "multicast_communicator"
	DefaultGraceInterval   = 10 * time.Second
	DefaultRelayLogPath    = "/tmp/multicast_communicator.log"
	DefaultConnectAttempts = 10
	DefaultConnectDelay    = 20 * time.Millisecond
	DefaultConnectMaxDelay = 1 * time.Second
	DefaultClientQueueSize = 64
	DefaultWriteTimeout    = 2 * time.Second

	// Default probe settings
	DefaultProbeAddress = "224.0.0.125:28324"
	DefaultProbeTimeout = 5 * time.Second

	// Default chat server settings
	DefaultListenAddress   = "0.0.0.0:0"
	DefaultServerQueueSize = 8

	// Default logging settings
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
)

// DefaultGroupConfig returns the default group configuration
func DefaultGroupConfig() GroupConfig {
	return GroupConfig{
		Address: DefaultGroupAddress,
		Mode:    DefaultGroupMode,
		TTL:     0,
	}
}

// DefaultRelayConfig returns the default relay configuration
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		ChannelPrefix:   DefaultChannelPrefix,
		GraceInterval:   DefaultGraceInterval,
		LogPath:         DefaultRelayLogPath,
		ConnectAttempts: DefaultConnectAttempts,
		ConnectDelay:    DefaultConnectDelay,
		ConnectMaxDelay: DefaultConnectMaxDelay,
		ClientQueueSize: DefaultClientQueueSize,
		WriteTimeout:    DefaultWriteTimeout,
	}
}

// DefaultProbeConfig returns the default IP probe configuration
func DefaultProbeConfig() ProbeConfig {
	return ProbeConfig{
		Address: DefaultProbeAddress,
		Timeout: DefaultProbeTimeout,
	}
}

// DefaultServerConfig returns the default chat server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddress: DefaultListenAddress,
		QueueSize:     DefaultServerQueueSize,
	}
}

// DefaultLoggingConfig returns the default logging configuration
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  DefaultLogLevel,
		Format: DefaultLogFormat,
		Output: "stderr",
	}
}
