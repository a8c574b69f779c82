package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/auth"
)

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [api-key]",
	Short: "Generate an Argon2id hash for an admin API key",
	Long: `Generate an Argon2id hash of an API key for use in config.

The output is a PHC-format string ("$argon2id$...") which can be used
directly in the auth.api_keys.key_hash field.

Example:
  fiduciary-gate hash-key "my-secret-api-key"

Security note: The key will appear in shell history.
Consider clearing history after use or using an environment variable:
  fiduciary-gate hash-key "$MY_API_KEY"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := auth.HashKey(args[0])
		if err != nil {
			return fmt.Errorf("failed to hash key: %w", err)
		}
		fmt.Println(hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashKeyCmd)
}
