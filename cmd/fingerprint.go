package cmd

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/tapsucode/stealthfleet/internal/fingerprint"
)

var fingerprintFlags struct {
	customFile string
}

// fingerprintCmd needs no database; it only exercises the generator.
var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint",
	Short: "Generate a browser fingerprint and print it as JSON.",
	Long: `Fingerprint emits a randomized, internally consistent fingerprint.
With --custom, values from the given JSON file override the random
baseline; everything left unset is still drawn from the datasets.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		gen := fingerprint.New(nil)

		mode := fingerprint.ModeRandom
		var input *fingerprint.CustomInput
		if fingerprintFlags.customFile != "" {
			raw, err := os.ReadFile(fingerprintFlags.customFile)
			if err != nil {
				return fmt.Errorf("failed to read custom input: %w", err)
			}
			input = &fingerprint.CustomInput{}
			if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(raw, input); err != nil {
				return fmt.Errorf("failed to parse custom input: %w", err)
			}
			mode = fingerprint.ModeCustom
		}

		fp, err := gen.Generate(mode, input)
		if err != nil {
			return err
		}
		out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(fp, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	fingerprintCmd.Flags().StringVar(&fingerprintFlags.customFile, "custom", "", "JSON file with custom fingerprint overrides")
	rootCmd.AddCommand(fingerprintCmd)
}
