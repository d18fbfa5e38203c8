package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/calspread/internal/models"
)

var instrumentsCmd = &cobra.Command{
	Use:   "instruments",
	Short: "List the supported instruments and their contract codes",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TICKER\tCODE\tNAME\tSPREAD")
		for _, inst := range models.Instruments() {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", inst, inst.ContractCode(), inst.Name(), inst.SpreadLabel())
		}
		return w.Flush()
	},
}
