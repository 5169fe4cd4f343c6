package main

import (
	"github.com/spf13/cobra"

	"github.com/vlanhop/vlanhop/pkg/resolver"
)

var modeFlag string

func addModeFlag(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&modeFlag, "mode", "m", "auto", "identifier type: ip, mac or auto")
}

func newLocateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locate <ip|mac>",
		Short: "Find the access port a host is attached to",
		Long: `Resolve an IP (through the gateway ARP table) or MAC address and walk the
MAC address tables and CDP neighbours from the seed switches to the access
port where the host is learned.

Examples:
  vlanhop locate 10.20.30.40
  vlanhop locate 0011.2233.4455 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := resolver.ParseMode(modeFlag)
			if err != nil {
				return err
			}
			st, err := app.load(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			run, err := st.runner.Locate(cmd.Context(), args[0], mode)
			if app.jsonOutput {
				if jerr := printJSON(cmd.OutOrStdout(), run); jerr != nil {
					return jerr
				}
				return err
			}
			printLocation(cmd.OutOrStdout(), run)
			return err
		},
	}
	addModeFlag(cmd)
	return cmd
}
