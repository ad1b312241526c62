package cmd

import (
	"fmt"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/draftmill/draftmill/cli/internal/output"
	appconfig "github.com/draftmill/draftmill/pkg/config"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Manage AI providers",
}

var providersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		base, err := appconfig.Load(serviceName)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		settings, err := appconfig.LoadProviders(base.ProvidersFile)
		if err != nil {
			return err
		}

		w := output.NewWriter(cfg.Format)
		if cfg.Format == "json" || cfg.Format == "yaml" {
			type row struct {
				ID      string `json:"id" yaml:"id"`
				BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
				Model   string `json:"model,omitempty" yaml:"model,omitempty"`
				APIKey  string `json:"api_key" yaml:"api_key"`
				Enabled bool   `json:"enabled" yaml:"enabled"`
				Default bool   `json:"default" yaml:"default"`
			}
			rows := make([]row, 0, len(settings))
			for _, s := range settings {
				rows = append(rows, row{
					ID:      s.ID,
					BaseURL: s.BaseURL,
					Model:   s.Model,
					APIKey:  maskSecret(s.APIKey),
					Enabled: s.Enabled,
					Default: s.Default,
				})
			}
			return w.Print(rows)
		}

		table := output.Table{
			Headers: []string{"ID", "MODEL", "BASE URL", "KEY", "ENABLED", "DEFAULT"},
		}
		for _, s := range settings {
			table.Rows = append(table.Rows, []string{
				s.ID,
				s.Model,
				s.BaseURL,
				maskSecret(s.APIKey),
				strconv.FormatBool(s.Enabled),
				strconv.FormatBool(s.Default),
			})
		}
		return w.Print(table)
	},
}

var providersValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the providers file",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		base, err := appconfig.Load(serviceName)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		settings, err := appconfig.LoadProviders(base.ProvidersFile)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		enabled := 0
		for _, s := range settings {
			if s.Enabled {
				enabled++
			}
		}
		output.Success("%s: %d providers (%d enabled)", base.ProvidersFile, len(settings), enabled)
		return nil
	},
}

// maskSecret hides all but a short suffix of a credential.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return fmt.Sprintf("****%s", s[len(s)-4:])
}

func init() {
	providersCmd.AddCommand(providersListCmd)
	providersCmd.AddCommand(providersValidateCmd)
}
