package cmd

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	"anchorlink/pda"
)

var deriveCmd = &cobra.Command{
	Use:   "derive <program> <seed>...",
	Short: "Derive the program-owned address for a set of string seeds.",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		program, err := solana.PublicKeyFromBase58(args[0])
		if err != nil {
			return fmt.Errorf("bad program id: %w", err)
		}
		seeds := make([][]byte, 0, len(args)-1)
		for _, s := range args[1:] {
			seeds = append(seeds, []byte(s))
		}

		addr, bump, err := pda.Derive(seeds, program)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", labelStyle.Render("address:"), addr)
		fmt.Printf("%s %d\n", labelStyle.Render("bump:"), bump)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deriveCmd)
}
