package cmd

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configShowReveal bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the merged configuration as YAML",
	Long:  "Print defaults, config file and environment overrides merged. Secrets are masked unless --reveal is set.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			return err
		}
		shown := cfg.Redacted()
		if configShowReveal {
			shown = *cfg
		}

		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(shown); err != nil {
			return err
		}
		return enc.Close()
	},
}

func init() {
	configShowCmd.Flags().BoolVar(&configShowReveal, "reveal", false, "print secrets in clear text")
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
