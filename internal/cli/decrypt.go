package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agevault/agevault/internal/core"
	"github.com/agevault/agevault/internal/yubikey"
)

var decryptCmd = &cobra.Command{
	Use:   "decrypt",
	Short: "Decrypt a .age vault artifact",
	Long: `Decrypt a vault artifact into an output directory with any one of
its recipients, then verify the sidecar manifest.

Examples:
  # Unlock with a passphrase key (prompts for the passphrase)
  agevault decrypt --key <key-id> -i backup.age -o restore/

  # Unlock with a YubiKey (prompts for the PIN, then touch)
  agevault decrypt --serial 31310024 -i backup.age -o restore/`,
	RunE: runDecrypt,
}

// Decrypt flags
var (
	decKeyID     string
	decSerial    string
	decInput     string
	decOutputDir string
	decPassStdin bool
	decQuiet     bool
)

func init() {
	rootCmd.AddCommand(decryptCmd)

	decryptCmd.Flags().StringVar(&decKeyID, "key", "", "Passphrase key id to unlock with")
	decryptCmd.Flags().StringVar(&decSerial, "serial", "", "YubiKey serial to unlock with")
	decryptCmd.Flags().StringVarP(&decInput, "input", "i", "", "Input .age file")
	decryptCmd.Flags().StringVarP(&decOutputDir, "output", "o", "", "Output directory")
	decryptCmd.Flags().BoolVarP(&decPassStdin, "passphrase-stdin", "P", false, "Read the passphrase or PIN from stdin")
	decryptCmd.Flags().BoolVarP(&decQuiet, "quiet", "q", false, "Suppress progress output")

	_ = decryptCmd.MarkFlagRequired("input")
	_ = decryptCmd.MarkFlagRequired("output")
}

func runDecrypt(cmd *cobra.Command, args []string) error {
	if (decKeyID == "") == (decSerial == "") {
		return fmt.Errorf("exactly one of --key and --serial is required")
	}

	var method core.UnlockMethod

	if decSerial != "" {
		serial, err := yubikey.NewSerial(decSerial)
		if err != nil {
			return err
		}
		secret, err := readSecret("PIN: ")
		if err != nil {
			return err
		}
		pin, err := yubikey.NewPin(secret)
		if err != nil {
			return err
		}
		defer pin.Close()
		method = core.UnlockMethod{Serial: serial, Pin: pin}
	} else {
		secret, err := readSecret("Passphrase: ")
		if err != nil {
			return err
		}
		method = core.UnlockMethod{KeyID: decKeyID, Passphrase: secret}
	}

	reporter := NewReporter(decQuiet)
	defer reporter.Done()

	res, err := appCore.Decrypt(rootCtx, core.DecryptRequest{
		CiphertextPath: decInput,
		OutputDir:      decOutputDir,
		Method:         method,
		OnProgress:     reporter.Callback(),
	})
	if err != nil {
		return err
	}

	reporter.Done()
	fmt.Fprintf(os.Stdout, "Restored %d files to %s\n", len(res.Files), decOutputDir)
	if res.ManifestVerified {
		fmt.Fprintln(os.Stdout, "Manifest verified")
	} else {
		fmt.Fprintln(os.Stdout, "Warning: manifest not verified")
	}
	return nil
}

// readSecret honors --passphrase-stdin, falling back to the interactive
// hidden prompt.
func readSecret(prompt string) (string, error) {
	if decPassStdin {
		return ReadPasswordFromStdin()
	}
	return readPasswordSecure(prompt)
}
