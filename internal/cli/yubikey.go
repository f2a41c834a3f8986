package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agevault/agevault/internal/yubikey"
)

var yubikeyCmd = &cobra.Command{
	Use:   "yubikey",
	Short: "Manage hardware token identities",
}

var ykListCmd = &cobra.Command{
	Use:   "list",
	Short: "List YubiKeys with their registration state",
	RunE: func(cmd *cobra.Command, args []string) error {
		devices, err := appCore.YubiKeys.ListWithState(rootCtx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SERIAL\tSTATE\tMODEL\tFIRMWARE\tKEY ID")
		for _, d := range devices {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				d.Device.Serial.Redacted(), d.State, d.Device.Model,
				d.Device.FirmwareVersion, d.KeyID)
		}
		return w.Flush()
	},
}

var ykInitCmd = &cobra.Command{
	Use:   "init <serial>",
	Short: "Initialize a YubiKey and register its identity",
	Long: `Initialize a YubiKey for vault use:

  1. Replace the factory PIV management key with a random protected key
  2. Change the PIN from the factory default to your PIN
  3. Generate an age identity in a retired slot
  4. Display a one-time recovery code (only its hash is stored)`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		serial, err := yubikey.NewSerial(args[0])
		if err != nil {
			return err
		}
		label, _ := cmd.Flags().GetString("label")
		slot, _ := cmd.Flags().GetInt("slot")

		secret, err := readPasswordSecure("New PIN (6-8 digits): ")
		if err != nil {
			return err
		}
		pin, err := yubikey.NewPin(secret)
		if err != nil {
			return err
		}
		defer pin.Close()

		fmt.Fprintln(os.Stderr, "Initializing hardware (this renders the slot unusable without the PIN)...")
		code, err := appCore.YubiKeys.InitializeDeviceHardware(rootCtx, serial, pin)
		if err != nil {
			return err
		}

		fmt.Fprintln(os.Stderr, "Generating identity (touch the key when it blinks)...")
		dev, identity, keyID, err := appCore.YubiKeys.InitializeDevice(
			rootCtx, serial, pin, slot, yubikey.HashRecoveryCode(code), label)
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "Device:     %s (firmware %s)\n", dev.Model, dev.FirmwareVersion)
		fmt.Fprintf(os.Stdout, "Key id:     %s\n", keyID)
		fmt.Fprintf(os.Stdout, "Recipient:  %s\n", identity.Recipient)
		fmt.Fprintf(os.Stdout, "\nRecovery code (write it down, it is NOT stored):\n  %s\n", code)
		return nil
	},
}

var ykVerifyPinCmd = &cobra.Command{
	Use:   "verify-pin <serial>",
	Short: "Check a PIN against the device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		serial, err := yubikey.NewSerial(args[0])
		if err != nil {
			return err
		}
		secret, err := readPasswordSecure("PIN: ")
		if err != nil {
			return err
		}
		pin, err := yubikey.NewPin(secret)
		if err != nil {
			return err
		}
		defer pin.Close()

		ok, err := appCore.YubiKeys.VerifyPin(rootCtx, serial, pin)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("PIN rejected by the device")
		}
		fmt.Fprintln(os.Stdout, "PIN verified")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(yubikeyCmd)
	ykInitCmd.Flags().String("label", "", "Display label for the new key")
	ykInitCmd.Flags().Int("slot", yubikey.DefaultSlot, "Retired PIV slot to provision")
	yubikeyCmd.AddCommand(ykListCmd)
	yubikeyCmd.AddCommand(ykInitCmd)
	yubikeyCmd.AddCommand(ykVerifyPinCmd)
}
