package cli

import (
	"fmt"
	"os"

	"github.com/luhtfiimanal/go-serial-arbiter/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags
	cfgFile  string
	device   string
	baudRate int
	verbose  bool

	// Shared state set during PersistentPreRun
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd is the base command for serialarb.
var rootCmd = &cobra.Command{
	Use:   "serialarb",
	Short: "Talk to a serial device through the arbiter",
	Long: `serialarb opens a serial device through the arbiter engine, so writes are
deadline-bounded and the device is reopened automatically when it comes back
after being unplugged.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = config.DefaultPath()
		}
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Override config with flags
		if device != "" {
			cfg.Device = device
		}
		if baudRate != 0 {
			cfg.BaudRate = baudRate
		}

		if verbose {
			logger, err = zap.NewDevelopment()
		} else {
			zc := zap.NewProductionConfig()
			zc.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
			logger, err = zc.Build()
		}
		if err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Sync()
		}
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// RootCmd returns the root cobra.Command for testing purposes.
func RootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.serialarb/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&device, "device", "d", "", "serial device path")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 0, "baud rate")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}
