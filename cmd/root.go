package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/baaaht/chatmesh/internal/config"
	"github.com/baaaht/chatmesh/internal/logger"
	"github.com/baaaht/chatmesh/pkg/group"
)

// Version is the chatmesh release
const Version = "0.1.0"

var (
	// CLI flags
	cfgFile      string
	logLevel     string
	logFormat    string
	logOutput    string
	groupAddress string
	groupMode    string

	// Global variables
	rootLog *logger.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chatmesh",
	Short: "chatmesh - LAN chat discovery over IPv4 multicast",
	Long: `chatmesh finds chat peers on the local network through an IPv4 multicast
group. Processes on one host share the group through a relay broker that is
started on demand and exits once nobody uses it.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// initLogger installs the global logger described by cfg
func initLogger(cfg *config.Config) error {
	log, err := logger.InitGlobal(cfg.Logging)
	if err != nil {
		return err
	}
	rootLog = log
	return nil
}

// loadConfig loads the configuration file (if any), environment variables
// and CLI overrides, in that order of precedence
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadPath(cfgFile)
	if err != nil {
		return nil, err
	}

	cfg.ApplyOverrides(config.OverrideOptions{
		GroupAddress:  groupAddress,
		Mode:          groupMode,
		LogLevel:      logLevel,
		LogFormat:     logFormat,
		LogOutput:     logOutput,
		ListenAddress: listenAddress,
	})

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setup loads configuration, installs the logger and parses the group
func setup() (*config.Config, group.Address, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, group.Address{}, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := initLogger(cfg); err != nil {
		return nil, group.Address{}, fmt.Errorf("failed to initialize logger: %w", err)
	}
	addr, err := group.Parse(cfg.Group.Address)
	if err != nil {
		return nil, group.Address{}, err
	}
	return cfg, addr, nil
}

// brokerArgs are the flags a spawned broker inherits from this process
func brokerArgs() []string {
	var args []string
	if cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}
	if logLevel != "" {
		args = append(args, "--log-level", logLevel)
	}
	if logFormat != "" {
		args = append(args, "--log-format", logFormat)
	}
	return args
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("Command execution failed", "error", err)
		if rootLog != nil {
			rootLog.Close()
		}
		os.Exit(1)
	}
	if rootLog != nil {
		rootLog.Close()
	}
}

func init() {
	// Config file flag
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"Config file path (default: use environment variables)")

	// Logging flags
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn, error (default: from config or env)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Log format: json, text (default: from config or env)")
	rootCmd.PersistentFlags().StringVar(&logOutput, "log-output", "",
		"Log output: stdout, stderr, or file path (default: from config or env)")

	// Group flags
	rootCmd.PersistentFlags().StringVar(&groupAddress, "group", "",
		"Multicast group address ip:port (default: "+config.DefaultGroupAddress+")")
	rootCmd.PersistentFlags().StringVar(&groupMode, "mode", "",
		"Group access mode: direct, relayed (default: relayed)")

	rootCmd.AddCommand(joinCmd, probeCmd, brokerCmd)
}
