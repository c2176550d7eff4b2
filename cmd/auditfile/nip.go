package main

import (
	"fmt"

	"github.com/smallbiznis/auditfile/internal/taxid"
	"github.com/spf13/cobra"
)

var nipCheckDigit bool

var nipCmd = &cobra.Command{
	Use:   "nip VALUE...",
	Short: "Check Polish tax identifiers (NIP)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if nipCheckDigit {
			for _, prefix := range args {
				digit := taxid.CheckDigit(taxid.Normalize(prefix))
				if digit < 0 {
					fmt.Fprintf(out, "%s\tno valid check digit\n", prefix)
					continue
				}
				fmt.Fprintf(out, "%s\t%d\n", prefix, digit)
			}
			return nil
		}

		invalid := 0
		for _, value := range args {
			verdict := "valid"
			if !taxid.ValidNIP(value) {
				verdict = "invalid"
				invalid++
			}
			fmt.Fprintf(out, "%s\t%s\n", value, verdict)
		}
		if invalid > 0 {
			return fmt.Errorf("%d invalid NIP(s)", invalid)
		}
		return nil
	},
}

func init() {
	nipCmd.Flags().BoolVar(&nipCheckDigit, "check-digit", false, "treat each value as a 9-digit prefix and print its check digit")
}
