package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/agevault/agevault/internal/archive"
	"github.com/agevault/agevault/internal/core"
)

var encryptCmd = &cobra.Command{
	Use:   "encrypt",
	Short: "Encrypt files into a .age vault artifact",
	Long: `Encrypt one or more files, or a directory, into an age-encrypted
archive with a sidecar integrity manifest.

Recipients come from a vault (all of its keys) or from a single key.

Examples:
  # Encrypt a directory to a vault's recipients
  agevault encrypt --vault <vault-id> -d ~/documents -o backup.age

  # Encrypt individual files to one key
  agevault encrypt --key <key-id> -i a.txt -i b.txt -o out.age`,
	RunE: runEncrypt,
}

// Encrypt flags
var (
	encVaultID string
	encKeyID   string
	encInput   []string
	encDir     string
	encOutput  string
	encQuiet   bool
)

func init() {
	rootCmd.AddCommand(encryptCmd)

	encryptCmd.Flags().StringVar(&encVaultID, "vault", "", "Vault id providing the recipients")
	encryptCmd.Flags().StringVar(&encKeyID, "key", "", "Single key id to encrypt to")
	encryptCmd.Flags().StringArrayVarP(&encInput, "input", "i", nil, "Input file (can be specified multiple times)")
	encryptCmd.Flags().StringVarP(&encDir, "dir", "d", "", "Directory to encrypt recursively (instead of --input)")
	encryptCmd.Flags().StringVarP(&encOutput, "output", "o", "", "Output .age file path")
	encryptCmd.Flags().BoolVarP(&encQuiet, "quiet", "q", false, "Suppress progress output")

	_ = encryptCmd.MarkFlagRequired("output")
}

func runEncrypt(cmd *cobra.Command, args []string) error {
	if encVaultID == "" && encKeyID == "" {
		// Fall back to the current vault when neither is named.
		meta, err := appCore.Vaults.CurrentVault()
		if err != nil {
			return fmt.Errorf("either --vault or --key is required (no current vault is set)")
		}
		encVaultID = meta.ID
	}
	if len(encInput) == 0 && encDir == "" {
		return fmt.Errorf("at least one --input file or a --dir is required")
	}

	sel := archive.Selection{Directory: encDir}
	if encDir == "" {
		// Expand glob patterns the shell did not.
		for _, input := range encInput {
			matches, err := filepath.Glob(input)
			if err != nil || len(matches) == 0 {
				matches = []string{input}
			}
			sel.Files = append(sel.Files, matches...)
		}
	}

	reporter := NewReporter(encQuiet)
	defer reporter.Done()

	res, err := appCore.Encrypt(rootCtx, core.EncryptRequest{
		VaultID:    encVaultID,
		KeyID:      encKeyID,
		Selection:  sel,
		OutputPath: encOutput,
		OnProgress: reporter.Callback(),
	})
	if err != nil {
		return err
	}

	reporter.Done()
	fmt.Fprintf(os.Stdout, "Encrypted %d files to %s\n", res.FileCount, res.CiphertextPath)
	fmt.Fprintf(os.Stdout, "Manifest: %s\n", res.ManifestPath)
	return nil
}
