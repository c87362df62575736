package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"time"

	"github.com/baaaht/chatmesh/pkg/types"
)

// Config represents the complete configuration for chatmesh
type Config struct {
	Group   GroupConfig   `json:"group" yaml:"group"`
	Relay   RelayConfig   `json:"relay" yaml:"relay"`
	Probe   ProbeConfig   `json:"probe" yaml:"probe"`
	Server  ServerConfig  `json:"server" yaml:"server"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// GroupConfig selects the multicast group and how this process reaches it
type GroupConfig struct {
	Address         string `json:"address" yaml:"address"` // ipv4 multicast ip:port
	Mode            string `json:"mode" yaml:"mode"`       // direct, relayed
	TTL             int    `json:"ttl" yaml:"ttl"`         // 0 keeps the OS default
	DisableLoopback bool   `json:"disable_loopback" yaml:"disable_loopback"`
	DisableReuse    bool   `json:"disable_reuse" yaml:"disable_reuse"`
}

// RelayConfig contains relay broker and relay client configuration
type RelayConfig struct {
	ChannelPrefix   string        `json:"channel_prefix" yaml:"channel_prefix"`
	GraceInterval   time.Duration `json:"grace_interval" yaml:"grace_interval"`
	LogPath         string        `json:"log_path" yaml:"log_path"`
	ConnectAttempts int           `json:"connect_attempts" yaml:"connect_attempts"`
	ConnectDelay    time.Duration `json:"connect_delay" yaml:"connect_delay"`
	ConnectMaxDelay time.Duration `json:"connect_max_delay" yaml:"connect_max_delay"`
	ClientQueueSize int           `json:"client_queue_size" yaml:"client_queue_size"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout"`
}

// ProbeConfig contains the outward IP probe configuration
type ProbeConfig struct {
	Address string        `json:"address" yaml:"address"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// ServerConfig contains the TCP chat listener configuration
type ServerConfig struct {
	ListenAddress string `json:"listen_address" yaml:"listen_address"`
	QueueSize     int    `json:"queue_size" yaml:"queue_size"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
	Output string `json:"output" yaml:"output"` // stdout, stderr, file path
}

// applyDefaults fills zero-valued fields left unset by a partial YAML file
func applyDefaults(cfg *Config) {
	defaultGroup := DefaultGroupConfig()
	if cfg.Group.Address == "" {
		cfg.Group.Address = defaultGroup.Address
	}
	if cfg.Group.Mode == "" {
		cfg.Group.Mode = defaultGroup.Mode
	}

	defaultRelay := DefaultRelayConfig()
	if cfg.Relay.ChannelPrefix == "" {
		cfg.Relay.ChannelPrefix = defaultRelay.ChannelPrefix
	}
	if cfg.Relay.GraceInterval == 0 {
		cfg.Relay.GraceInterval = defaultRelay.GraceInterval
	}
	if cfg.Relay.LogPath == "" {
		cfg.Relay.LogPath = defaultRelay.LogPath
	}
	if cfg.Relay.ConnectAttempts == 0 {
		cfg.Relay.ConnectAttempts = defaultRelay.ConnectAttempts
	}
	if cfg.Relay.ConnectDelay == 0 {
		cfg.Relay.ConnectDelay = defaultRelay.ConnectDelay
	}
	if cfg.Relay.ConnectMaxDelay == 0 {
		cfg.Relay.ConnectMaxDelay = defaultRelay.ConnectMaxDelay
	}
	if cfg.Relay.ClientQueueSize == 0 {
		cfg.Relay.ClientQueueSize = defaultRelay.ClientQueueSize
	}
	if cfg.Relay.WriteTimeout == 0 {
		cfg.Relay.WriteTimeout = defaultRelay.WriteTimeout
	}

	defaultProbe := DefaultProbeConfig()
	if cfg.Probe.Address == "" {
		cfg.Probe.Address = defaultProbe.Address
	}
	if cfg.Probe.Timeout == 0 {
		cfg.Probe.Timeout = defaultProbe.Timeout
	}

	defaultServer := DefaultServerConfig()
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = defaultServer.ListenAddress
	}
	if cfg.Server.QueueSize == 0 {
		cfg.Server.QueueSize = defaultServer.QueueSize
	}

	defaultLogging := DefaultLoggingConfig()
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaultLogging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaultLogging.Format
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = defaultLogging.Output
	}
}

// applyEnvOverrides overrides configuration values from the environment
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv(EnvGroupAddress); v != "" {
		cfg.Group.Address = v
	}
	if v := os.Getenv(EnvGroupMode); v != "" {
		cfg.Group.Mode = v
	}

	if v := os.Getenv(EnvRelayChannelPrefix); v != "" {
		cfg.Relay.ChannelPrefix = v
	}
	if v := os.Getenv(EnvRelayGraceInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return types.WrapError(types.ErrCodeInvalidArgument, "invalid "+EnvRelayGraceInterval, err)
		}
		cfg.Relay.GraceInterval = d
	}
	if v := os.Getenv(EnvRelayLogPath); v != "" {
		cfg.Relay.LogPath = v
	}
	if v := os.Getenv(EnvRelayConnectAttempts); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return types.WrapError(types.ErrCodeInvalidArgument, "invalid "+EnvRelayConnectAttempts, err)
		}
		cfg.Relay.ConnectAttempts = n
	}

	if v := os.Getenv(EnvProbeAddress); v != "" {
		cfg.Probe.Address = v
	}
	if v := os.Getenv(EnvProbeTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return types.WrapError(types.ErrCodeInvalidArgument, "invalid "+EnvProbeTimeout, err)
		}
		cfg.Probe.Timeout = d
	}

	if v := os.Getenv(EnvServerListen); v != "" {
		cfg.Server.ListenAddress = v
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv(EnvLogOutput); v != "" {
		cfg.Logging.Output = v
	}

	return nil
}

// Default returns a configuration made only of defaults
func Default() *Config {
	return &Config{
		Group:   DefaultGroupConfig(),
		Relay:   DefaultRelayConfig(),
		Probe:   DefaultProbeConfig(),
		Server:  DefaultServerConfig(),
		Logging: DefaultLoggingConfig(),
	}
}

// Load loads the configuration from the default config file if it exists,
// falling back to defaults, then applies environment overrides.
func Load() (*Config, error) {
	var cfg *Config

	configPath, err := GetDefaultConfigPath()
	if err == nil {
		if _, err := os.Stat(configPath); err == nil {
			cfg, err = LoadFromFile(configPath)
			if err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to check config file: %w", err)
		}
	}

	if cfg == nil {
		cfg = Default()
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for validity
func (c *Config) Validate() error {
	// Group
	ap, err := netip.ParseAddrPort(c.Group.Address)
	if err != nil {
		return types.WrapError(types.ErrCodeInvalidArgument, "invalid group address: "+c.Group.Address, err)
	}
	if !ap.Addr().Is4() || !ap.Addr().IsMulticast() {
		return types.NewError(types.ErrCodeNotMulticast,
			fmt.Sprintf("group address %s must be an IPv4 multicast address", c.Group.Address))
	}
	if c.Group.Mode != ModeDirect && c.Group.Mode != ModeRelayed {
		return types.NewError(types.ErrCodeInvalidArgument,
			fmt.Sprintf("invalid group mode: %s (must be %s or %s)", c.Group.Mode, ModeDirect, ModeRelayed))
	}
	if c.Group.TTL < 0 || c.Group.TTL > 255 {
		return types.NewError(types.ErrCodeInvalidArgument, "group ttl must be between 0 and 255")
	}

	// Relay
	if c.Relay.ChannelPrefix == "" {
		return types.NewError(types.ErrCodeInvalidArgument, "relay channel prefix cannot be empty")
	}
	if c.Relay.GraceInterval <= 0 {
		return types.NewError(types.ErrCodeInvalidArgument, "relay grace interval must be positive")
	}
	if c.Relay.ConnectAttempts < 1 {
		return types.NewError(types.ErrCodeInvalidArgument, "relay connect attempts must be at least 1")
	}
	if c.Relay.ConnectDelay <= 0 {
		return types.NewError(types.ErrCodeInvalidArgument, "relay connect delay must be positive")
	}
	if c.Relay.ConnectMaxDelay < c.Relay.ConnectDelay {
		return types.NewError(types.ErrCodeInvalidArgument, "relay connect max delay cannot be below connect delay")
	}
	if c.Relay.ClientQueueSize < 1 {
		return types.NewError(types.ErrCodeInvalidArgument, "relay client queue size must be at least 1")
	}

	// Probe
	if _, err := netip.ParseAddrPort(c.Probe.Address); err != nil {
		return types.WrapError(types.ErrCodeInvalidArgument, "invalid probe address: "+c.Probe.Address, err)
	}
	if c.Probe.Timeout <= 0 {
		return types.NewError(types.ErrCodeInvalidArgument, "probe timeout must be positive")
	}

	// Server
	if c.Server.ListenAddress == "" {
		return types.NewError(types.ErrCodeInvalidArgument, "server listen address cannot be empty")
	}
	if c.Server.QueueSize < 1 {
		return types.NewError(types.ErrCodeInvalidArgument, "server queue size must be at least 1")
	}

	// Logging
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return types.NewError(types.ErrCodeInvalidArgument,
			fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level))
	}
	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return types.NewError(types.ErrCodeInvalidArgument,
			fmt.Sprintf("invalid log format: %s (must be json or text)", c.Logging.Format))
	}

	return nil
}

// ApplyOverrides applies CLI overrides on top of the loaded configuration
func (c *Config) ApplyOverrides(opts OverrideOptions) {
	if opts.GroupAddress != "" {
		c.Group.Address = opts.GroupAddress
	}
	if opts.Mode != "" {
		c.Group.Mode = opts.Mode
	}
	if opts.LogLevel != "" {
		c.Logging.Level = opts.LogLevel
	}
	if opts.LogFormat != "" {
		c.Logging.Format = opts.LogFormat
	}
	if opts.LogOutput != "" {
		c.Logging.Output = opts.LogOutput
	}
	if opts.ListenAddress != "" {
		c.Server.ListenAddress = opts.ListenAddress
	}
}

// OverrideOptions holds values set on the command line
type OverrideOptions struct {
	GroupAddress  string
	Mode          string
	LogLevel      string
	LogFormat     string
	LogOutput     string
	ListenAddress string
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Group: %s, Relay: %s, Probe: %s, Server: %s, Logging: %s}",
		c.Group, c.Relay, c.Probe, c.Server, c.Logging)
}

func (c GroupConfig) String() string {
	return fmt.Sprintf("GroupConfig{Address: %s, Mode: %s, TTL: %d, Loopback: %t}",
		c.Address, c.Mode, c.TTL, !c.DisableLoopback)
}

func (c RelayConfig) String() string {
	return fmt.Sprintf("RelayConfig{Prefix: %s, Grace: %s, Log: %s, Attempts: %d, Delay: %s..%s}",
		c.ChannelPrefix, c.GraceInterval, c.LogPath, c.ConnectAttempts, c.ConnectDelay, c.ConnectMaxDelay)
}

func (c ProbeConfig) String() string {
	return fmt.Sprintf("ProbeConfig{Address: %s, Timeout: %s}", c.Address, c.Timeout)
}

func (c ServerConfig) String() string {
	return fmt.Sprintf("ServerConfig{Listen: %s, Queue: %d}", c.ListenAddress, c.QueueSize)
}

func (c LoggingConfig) String() string {
	return fmt.Sprintf("LoggingConfig{Level: %s, Format: %s, Output: %s}", c.Level, c.Format, c.Output)
}
