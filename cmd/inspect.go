package cmd

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <idl.json>",
	Short: "Print the instructions, accounts, and events a schema declares.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSchema(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("%s %s (%s)\n", headerStyle.Render("program:"), s.Name, s.Version)
		if s.Address != "" {
			fmt.Printf("%s %s\n", labelStyle.Render("address:"), s.Address)
		}

		fmt.Println(headerStyle.Render("\ninstructions"))
		for _, ins := range s.Instructions() {
			fmt.Printf("  %-24s %s  args=%d accounts=%d\n",
				ins.Name, hex.EncodeToString(ins.Discriminator[:]), len(ins.Args), len(ins.Accounts))
			for _, acc := range ins.Accounts {
				fmt.Printf("      %-20s %s\n", acc.Name, roleFlags(acc.Writable, acc.Signer, acc.Optional))
			}
		}

		fmt.Println(headerStyle.Render("\naccounts"))
		for _, acc := range s.Accounts() {
			fmt.Printf("  %-24s %s  fields=%d\n",
				acc.Name, hex.EncodeToString(acc.Discriminator[:]), len(acc.Def.Fields))
		}

		fmt.Println(headerStyle.Render("\nevents"))
		for _, ev := range s.Events() {
			fmt.Printf("  %-24s %s  fields=%d\n",
				ev.Name, hex.EncodeToString(ev.Discriminator[:]), len(ev.Def.Fields))
		}
		return nil
	},
}

func roleFlags(writable, signer, optional bool) string {
	out := ""
	if writable {
		out += "writable "
	}
	if signer {
		out += "signer "
	}
	if optional {
		out += "optional "
	}
	if out == "" {
		return "readonly"
	}
	return out[:len(out)-1]
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
