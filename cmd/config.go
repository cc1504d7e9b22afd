package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var printConfig bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the configuration",
	RunE:  runConfigValidate,
}

func init() {
	configValidateCmd.Flags().BoolVar(&printConfig, "print", false, "print the effective configuration")
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if printConfig {
		redacted := *cfg
		redact(&redacted.MQTT.Password)
		redact(&redacted.Sentry.DSN)
		redact(&redacted.Storage.DSN)
		// round-trip through JSON so keys match the config file
		raw, err := json.Marshal(redacted)
		if err != nil {
			return err
		}
		var tree map[string]any
		if err := json.Unmarshal(raw, &tree); err != nil {
			return err
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(tree); err != nil {
			return err
		}
		return enc.Close()
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), "configuration OK")
	return err
}

func redact(s *string) {
	if *s != "" {
		*s = "***"
	}
}
