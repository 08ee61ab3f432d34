package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

const defaultAPIURL = "http://localhost:8080"

type commandContext struct {
	apiURL   string
	clientID string
	timeout  time.Duration
	asJSON   bool
}

func (c *commandContext) client() *apiClient {
	return newAPIClient(c.apiURL, c.clientID, c.timeout)
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "jobctl",
		Short:         "Operate opportunity pipeline jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	apiURL := os.Getenv("JOBCTL_API_URL")
	if apiURL == "" {
		apiURL = defaultAPIURL
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&ctx.apiURL, "api-url", apiURL, "Base URL of the pipeline API (env JOBCTL_API_URL)")
	flags.StringVar(&ctx.clientID, "client-id", os.Getenv("JOBCTL_CLIENT_ID"), "Identity sent in the X-Client-ID header")
	flags.DurationVar(&ctx.timeout, "timeout", 15*time.Second, "HTTP request timeout")
	flags.BoolVar(&ctx.asJSON, "json", false, "Print raw JSON instead of tables")

	rootCmd.AddCommand(newTriggerCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newListCommand(ctx))
	rootCmd.AddCommand(newWatchCommand(ctx))
	rootCmd.AddCommand(newContinueCommand(ctx))

	return rootCmd
}
