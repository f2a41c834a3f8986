package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Manage vaults and their recipients",
}

var vaultCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new empty vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		desc, _ := cmd.Flags().GetString("description")
		meta, err := appCore.Vaults.CreateVault(args[0], desc)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Vault id: %s\n", meta.ID)
		return nil
	},
}

var vaultListCmd = &cobra.Command{
	Use:   "list",
	Short: "List vaults (the current vault is marked with *)",
	RunE: func(cmd *cobra.Command, args []string) error {
		vaults, err := appCore.Vaults.ListVaults()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, " \tID\tNAME\tRECIPIENTS\tUPDATED")
		for _, v := range vaults {
			marker := " "
			if v.IsCurrent {
				marker = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				marker, v.ID, v.Name, len(v.Recipients), v.UpdatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var vaultUseCmd = &cobra.Command{
	Use:   "use <vault-id>",
	Short: "Make a vault the current default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		meta, err := appCore.Vaults.SetCurrent(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Current vault: %s\n", meta.Name)
		return nil
	},
}

var vaultCurrentCmd = &cobra.Command{
	Use:   "current",
	Short: "Show the current vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		meta, err := appCore.Vaults.CurrentVault()
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%s\t%s\n", meta.ID, meta.Name)
		return nil
	},
}

var vaultAddKeyCmd = &cobra.Command{
	Use:   "add-key <vault-id> <key-id>",
	Short: "Attach a registered passphrase key to a vault (YubiKey keys are not accepted)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := appCore.Passphrase.AttachToVault(args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, "Key attached")
		return nil
	},
}

var vaultRemoveKeyCmd = &cobra.Command{
	Use:   "remove-key <vault-id> <key-id>",
	Short: "Detach a recipient from a vault",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		meta, err := appCore.Vaults.GetVault(args[0])
		if err != nil {
			return err
		}
		if err := appCore.Vaults.RemoveRecipient(meta, args[1]); err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, "Recipient removed")
		return nil
	},
}

var vaultRenameCmd = &cobra.Command{
	Use:   "rename <vault-id> <new-name>",
	Short: "Rename a vault",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		meta, err := appCore.Vaults.Rename(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Vault renamed to %s\n", meta.Name)
		return nil
	},
}

var vaultDeleteCmd = &cobra.Command{
	Use:   "delete <vault-id>",
	Short: "Delete a vault (a .bak copy of its metadata is kept)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := appCore.Vaults.DeleteVault(args[0]); err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, "Vault deleted")
		return nil
	},
}

var vaultShowCmd = &cobra.Command{
	Use:   "show <vault-id>",
	Short: "Show a vault's recipients",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		meta, err := appCore.Vaults.GetVault(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Name: %s\n", meta.Name)
		if meta.Description != "" {
			fmt.Fprintf(os.Stdout, "Description: %s\n", meta.Description)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TYPE\tKEY ID\tLABEL")
		for _, r := range meta.Recipients {
			fmt.Fprintf(w, "%s\t%s\t%s\n", r.Type, r.KeyID, r.Label)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(vaultCmd)
	vaultCreateCmd.Flags().String("description", "", "Vault description")
	vaultCmd.AddCommand(vaultCreateCmd)
	vaultCmd.AddCommand(vaultListCmd)
	vaultCmd.AddCommand(vaultUseCmd)
	vaultCmd.AddCommand(vaultCurrentCmd)
	vaultCmd.AddCommand(vaultShowCmd)
	vaultCmd.AddCommand(vaultAddKeyCmd)
	vaultCmd.AddCommand(vaultRemoveKeyCmd)
	vaultCmd.AddCommand(vaultRenameCmd)
	vaultCmd.AddCommand(vaultDeleteCmd)
}
