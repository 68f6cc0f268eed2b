package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var rawSettings bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE:  runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&rawSettings, "raw", false, "Print the merged settings before decoding")
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	var doc any = cfg
	if rawSettings {
		doc = settings().AllSettings()
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), string(out))
	return nil
}
