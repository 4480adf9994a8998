package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/manthysbr/reelforge/pkg/client"
)

const (
	flagServer = "server"
	envServer  = "REELFORGE_SERVER"
)

// app carries state shared by every subcommand.
type app struct {
	client client.Client
	server string
}

// NewRootCmd builds the reelctl command tree. When c is nil the API client
// is created from --server (or REELFORGE_SERVER) before a subcommand runs.
func NewRootCmd(c client.Client) *cobra.Command {
	a := &app{client: c}

	root := &cobra.Command{
		Use:   "reelctl",
		Short: "reelctl - command line client for the ReelForge kernel",
		Long: `reelctl submits topics to a ReelForge kernel, follows their progress and
fetches the finished videos.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if a.client != nil {
				return nil
			}
			// Flag > env > default
			if !cmd.Flags().Changed(flagServer) {
				if env := os.Getenv(envServer); env != "" {
					a.server = env
				}
			}
			if a.server == "" {
				return fmt.Errorf("server address cannot be empty")
			}
			api, err := client.NewClient(&client.Options{BaseURL: a.server, Timeout: client.DefaultTimeout})
			if err != nil {
				return err
			}
			a.client = api
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.server, flagServer, "s", client.DefaultBaseURL, "Address of the ReelForge kernel (env: REELFORGE_SERVER)")

	root.AddCommand(
		a.submitCmd(),
		a.statusCmd(),
		a.listCmd(),
		a.cancelCmd(),
		a.watchCmd(),
		a.topicsCmd(),
		a.videosCmd(),
		a.downloadCmd(),
		a.settingsCmd(),
		a.healthCmd(),
	)
	return root
}

func printJSON(cmd *cobra.Command, v any) error {
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("error formatting response: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(pretty))
	return nil
}
