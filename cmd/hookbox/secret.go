package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"hookbox/internal/security"
)

var secretLength int

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage the webhook secret",
}

var secretGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a random webhook secret",
	Long: `Print a cryptographically random secret suitable for GITHUB_WEBHOOK_SECRET
and the secret field of the GitHub webhook settings.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, err := security.GenerateSecret(secretLength)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), secret)
		return nil
	},
}

func init() {
	secretGenerateCmd.Flags().IntVarP(&secretLength, "length", "l", security.DefaultSecretLength, "Secret length in characters")
	secretCmd.AddCommand(secretGenerateCmd)
}
