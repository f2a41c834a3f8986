package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agevault/agevault/internal/passphrase"
	"github.com/agevault/agevault/internal/registry"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage registered keys",
}

var keygenCmd = &cobra.Command{
	Use:   "generate <label>",
	Short: "Generate a new passphrase-protected key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pass, err := ReadPasswordInteractive(true)
		if err != nil {
			return err
		}

		score := passphrase.ScoreStrength(pass)
		fmt.Fprintf(os.Stderr, "Passphrase strength: %s\n", score.Strength.Description())

		gen, err := appCore.Passphrase.Generate(args[0], pass)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Key id:     %s\n", gen.KeyID)
		fmt.Fprintf(os.Stdout, "Public key: %s\n", gen.PublicKey)
		return nil
	},
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered keys by type",
	RunE: func(cmd *cobra.Command, args []string) error {
		pass, yks, err := appCore.Registry.ListByType()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TYPE\tID\tLABEL\tSTATUS\tDETAIL")
		for _, p := range pass {
			fmt.Fprintf(w, "passphrase\t%s\t%s\t%s\t%s\n",
				p.KeyID, p.Label, p.Lifecycle.Status, p.KeyFilename)
		}
		for _, y := range yks {
			fmt.Fprintf(w, "yubikey\t%s\t%s\t%s\tserial %s slot %d\n",
				y.KeyID, y.Label, y.Lifecycle.Status, y.Serial, y.PIVSlot)
		}
		return w.Flush()
	},
}

var keysVerifyCmd = &cobra.Command{
	Use:   "verify <key-id>",
	Short: "Verify the passphrase for a key without unlocking anything",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pass, err := ReadPasswordInteractive(false)
		if err != nil {
			return err
		}
		ok, err := appCore.Passphrase.VerifyPassphrase(args[0], pass)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("passphrase does not unlock this key")
		}
		fmt.Fprintln(os.Stdout, "Passphrase verified")
		return nil
	},
}

func lifecycleCmd(use, short string, to registry.LifecycleStatus) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <key-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := appCore.Registry.Transition(args[0], to); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Key %s is now %s\n", args[0], to)
			return nil
		},
	}
}

var keysEraseCmd = &cobra.Command{
	Use:   "erase <key-id>",
	Short: "Permanently delete a key entry from the registry",
	Long: `Permanently delete a key entry. Unlike deactivation this cannot be
undone; ciphertexts addressed to the key stay decryptable only if the
holder still possesses the secret.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := appCore.Registry.Erase(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Key %s erased\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keygenCmd)
	keysCmd.AddCommand(keysListCmd)
	keysCmd.AddCommand(keysVerifyCmd)
	keysCmd.AddCommand(lifecycleCmd("suspend", "Suspend an active key", registry.StatusSuspended))
	keysCmd.AddCommand(lifecycleCmd("activate", "Reactivate a suspended or recently deactivated key", registry.StatusActive))
	keysCmd.AddCommand(lifecycleCmd("deactivate", "Soft-delete a key (restorable for 30 days)", registry.StatusDeactivated))
	keysCmd.AddCommand(keysEraseCmd)
}
