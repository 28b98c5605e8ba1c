package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	"anchorlink/program"
)

var flagFetchTimeout time.Duration

var fetchCmd = &cobra.Command{
	Use:   "fetch <idl.json> <account-type> [address]",
	Short: "Fetch and decode program accounts of one layout.",
	Long: `With an address, fetches and decodes that single account. Without one,
scans the program for every account of the layout, matching on the
discriminator at offset zero.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		schema, err := loadSchema(args[0])
		if err != nil {
			return err
		}
		client, _, err := buildClient()
		if err != nil {
			return err
		}
		defer client.Close()

		prog, err := program.New(schema, client)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), flagFetchTimeout)
		defer cancel()

		if len(args) == 3 {
			addr, err := solana.PublicKeyFromBase58(args[2])
			if err != nil {
				return fmt.Errorf("bad account address: %w", err)
			}
			fields, err := prog.FetchAccount(ctx, args[1], addr)
			if err != nil {
				return err
			}
			return printJSON(fields)
		}

		accounts, err := prog.FetchAccounts(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("%s %d\n", labelStyle.Render("accounts:"), len(accounts))
		for _, acc := range accounts {
			fmt.Println(headerStyle.Render(acc.PublicKey.String()))
			if err := printJSON(acc.Fields); err != nil {
				return err
			}
		}
		return nil
	},
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	fetchCmd.Flags().DurationVar(&flagFetchTimeout, "timeout", 30*time.Second, "request timeout")
	rootCmd.AddCommand(fetchCmd)
}
