package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"hookbox/internal/githubapi"
)

var (
	hookURL    string
	hookEvents []string
)

var githubCmd = &cobra.Command{
	Use:   "github",
	Short: "GitHub repository setup",
}

var githubInstallHookCmd = &cobra.Command{
	Use:   "install-hook <owner/repo>",
	Short: "Register the hookbox webhook on a repository",
	Long: `Create a repository webhook that delivers to hookbox, signed with the
configured secret. An existing webhook with the same URL is left alone.

Requires a token with admin:repo_hook scope in HOOKBOX_GITHUB_TOKEN or
notifications.github_status.token.`,
	Example: `  hookbox github install-hook acme/shop --url https://deploy.example.com/webhooks/github`,
	Args:    cobra.ExactArgs(1),
	RunE:    runGitHubInstallHook,
}

func init() {
	githubInstallHookCmd.Flags().StringVar(&hookURL, "url", "", "Public URL of the hookbox webhook endpoint")
	githubInstallHookCmd.Flags().StringSliceVar(&hookEvents, "events", githubapi.DefaultHookEvents, "Events to subscribe to")
	_ = githubInstallHookCmd.MarkFlagRequired("url")
	githubCmd.AddCommand(githubInstallHookCmd)
}

func runGitHubInstallHook(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(configFile)
	if err != nil {
		return err
	}

	gh := cfg.Notifications.GitHubStatus
	client, err := githubapi.NewClient(gh.Token, gh.BaseURL)
	if err != nil {
		return err
	}

	created, id, err := githubapi.EnsureHook(cmd.Context(), client, args[0], githubapi.HookSpec{
		URL:    hookURL,
		Secret: cfg.Secret,
		Events: hookEvents,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if created {
		fmt.Fprintf(out, "✓ Webhook %d created on %s\n", id, args[0])
	} else {
		fmt.Fprintf(out, "✓ Webhook %d already exists on %s\n", id, args[0])
	}
	if cfg.Secret == "" {
		fmt.Fprintln(out, "! No webhook secret configured; deliveries will not be signed")
	}
	return nil
}
