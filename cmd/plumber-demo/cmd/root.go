package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/jrepp/prism-plumber/pkg/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Global flags
	configFile string

	v = config.New()
)

var rootCmd = &cobra.Command{
	Use:   "plumber-demo",
	Short: "Host process for the plumber leak mitigations",
	Long: `plumber-demo runs a synthetic host with looper worker threads, recycle
pools and a lifecycle dispatcher, and applies the plumber leak mitigations to it.

Commands:
  - run: start the host and apply the mitigations
  - patches: list the catalog and which entries apply at the configured level
  - config: print the effective configuration

Settings come from defaults, --config, PLUMBER_* environment variables and flags.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().Int("api-level", 34, "Platform API level the mitigations are gated on")
	rootCmd.PersistentFlags().StringSlice("disable", nil, "Patches to leave out (e.g. user-manager,text-line-pool)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")

	bind(rootCmd, "runtime.api_level", "api-level")
	bind(rootCmd, "patches.disabled", "disable")
	bind(rootCmd, "log.level", "log-level")
	bind(rootCmd, "log.format", "log-format")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(patchesCmd)
	rootCmd.AddCommand(configCmd)
}

func bind(c *cobra.Command, key, flag string) {
	f := c.PersistentFlags().Lookup(flag)
	if f == nil {
		f = c.Flags().Lookup(flag)
	}
	if err := v.BindPFlag(key, f); err != nil {
		panic(fmt.Sprintf("bind %s: %v", flag, err))
	}
}

// loadConfig reads the effective configuration and installs the default logger
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return nil, nil, err
	}

	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// settings exposes the viper instance to subcommands
func settings() *viper.Viper {
	return v
}
