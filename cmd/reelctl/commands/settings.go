package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func (a *app) settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change kernel settings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the current settings (secrets masked)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.client.GetSettings(cmd.Context())
			if err != nil {
				return fmt.Errorf("error fetching settings: %w", err)
			}
			return printJSON(cmd, cfg)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key=value>...",
		Short: "Update settings, e.g. pipeline.words_per_minute=170",
		Long: `Update settings using dotted JSON keys. Values are parsed as JSON when
possible and sent as strings otherwise:

  reelctl settings set providers.script.mode=remote providers.script.api_key=sk-...
  reelctl settings set 'providers.images.sources=["pexels","placeholder"]'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := buildSettingsPatch(args)
			if err != nil {
				return err
			}
			cfg, err := a.client.UpdateSettings(cmd.Context(), patch)
			if err != nil {
				return fmt.Errorf("error updating settings: %w", err)
			}
			return printJSON(cmd, cfg)
		},
	})
	return cmd
}

// buildSettingsPatch turns key=value pairs into a nested settings document.
func buildSettingsPatch(pairs []string) (map[string]any, error) {
	patch := map[string]any{}
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid setting %q, expected key=value", pair)
		}

		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}

		parts := strings.Split(key, ".")
		node := patch
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]any)
			if !ok {
				if _, exists := node[part]; exists {
					return nil, fmt.Errorf("setting %q conflicts with another value", key)
				}
				child = map[string]any{}
				node[part] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = value
	}
	return patch, nil
}
