// osdpctl runs either side of an OSDP link from the command line: a
// control panel polling a set of peripheral devices, or a peripheral
// device answering a panel. Both read a YAML config and talk over a
// serial line.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "osdpctl",
		Short: "OSDP control panel and peripheral device runner",
		Long: `osdpctl speaks OSDP (IEC 60839-11-5) over a serial line. The cp
command polls peripheral devices as a control panel; the pd command
answers as a peripheral device.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newCPCmd())
	rootCmd.AddCommand(newPDCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the osdpctl version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}
