package admin

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/codelens/internal/api/middleware"
)

func APIKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
		Long: "Generate API keys and compute their fingerprints.\n" +
			"Keys are not stored; list them in CODELENS_API_KEYS (comma separated).",
	}

	cmd.AddCommand(APIKeyGenerateCmd())
	cmd.AddCommand(APIKeyFingerprintCmd())

	return cmd
}

func APIKeyGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a new API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")

			key, err := middleware.GenerateAPIKey()
			if err != nil {
				return fmt.Errorf("failed to generate API key: %w", err)
			}

			if output == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]string{
					"key":    key,
					"key_id": middleware.KeyFingerprint(key),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "API key: %s\n", key)
			fmt.Fprintf(cmd.OutOrStdout(), "Key ID:  %s\n", middleware.KeyFingerprint(key))
			fmt.Fprintln(cmd.OutOrStdout(), "\nAdd the key to CODELENS_API_KEYS and restart the server. It is not shown again.")
			return nil
		},
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

// APIKeyFingerprintCmd prints the key id that access logs and traces record
// for a key.
func APIKeyFingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint <key>",
		Short: "Print the key id logged for an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := strings.TrimSpace(args[0])
			if key == "" {
				return fmt.Errorf("key cannot be empty")
			}
			if !middleware.IsValidAPIKey(key) {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: key was not generated by codelensd")
			}
			fmt.Fprintln(cmd.OutOrStdout(), middleware.KeyFingerprint(key))
			return nil
		},
	}
}
