package cmd

import (
	"fmt"

	"github.com/imagen-apex/apex/internal/utils/hashutil"
	"github.com/imagen-apex/apex/internal/utils/randutil"
	"github.com/spf13/cobra"
)

var apiKeyCmd = &cobra.Command{
	Use:   "api-key",
	Short: "Manage prediction server API keys",
}

func init() {
	newAPIKeyCmd := &cobra.Command{
		Use:   "new",
		Short: "Creates a new API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			length, err := cmd.Flags().GetInt("length")
			if err != nil {
				return err
			}

			key, err := randutil.RandomString(length)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "API key created: %s\n", key)
			fmt.Fprintf(out, "Mask: %s\n", randutil.MaskString(key, 4, 4))
			fmt.Fprintf(out, "SHA3-256: %s\n", hashutil.Sha3256Hash([]byte(key)))
			fmt.Fprintln(out, "Set it as SAM3D_API_KEY on both the server and its clients.")
			return nil
		},
	}
	newAPIKeyCmd.Flags().Int("length", 32, "Number of characters in the key")

	apiKeyCmd.AddCommand(newAPIKeyCmd)
}
