// vlanhop - find the switchport a host is attached to and change its VLAN
//
// vlanhop resolves an IP or MAC address to the access port it is learned on
// by walking MAC address tables and CDP from a set of seed switches, then
// optionally moves that port to a new access and voice VLAN over the Cisco
// CLI with verification and rollback.
//
// Usage:
//
//	vlanhop locate <ip|mac>                          Show the path to the host
//	vlanhop change <ip|mac> --vlan 100 [--voice 200] Preview the change
//	vlanhop change <ip|mac> --vlan 100 -x            Apply, verify and save
//	vlanhop rollback <device> <interface> --vlan 10  Restore recorded VLANs
//	vlanhop check                                    Probe every inventory device
//	vlanhop audit list                               Show recorded runs
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vlanhop/vlanhop/pkg/settings"
	"github.com/vlanhop/vlanhop/pkg/util"
	"github.com/vlanhop/vlanhop/pkg/version"
)

// App holds global flags and lazily built components.
type App struct {
	inventoryPath string
	verbose       bool
	logJSON       bool
	jsonOutput    bool

	settings *settings.Settings
}

var app = &App{}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, red("Error:"), err)
		os.Exit(exitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:               "vlanhop",
	Short:             "Locate a host's access switchport and change its VLAN",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	Long: `vlanhop walks MAC address tables and CDP neighbours from seed switches
to the access port an end host is attached to, and changes that port's access
and voice VLAN over SSH. Changes preview by default; use -x to execute.

  vlanhop change 10.20.30.40 --vlan 100 --voice 200 -x`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if app.verbose {
			util.SetLogLevel("debug")
		} else {
			util.SetLogLevel("warn")
		}
		if app.logJSON {
			util.SetJSONFormat()
		}

		s, err := settings.Load()
		if err != nil {
			util.Warnf("Could not load settings: %v", err)
			s = &settings.Settings{}
		}
		app.settings = s
		if app.inventoryPath == "" {
			app.inventoryPath = os.Getenv("VLANHOP_INVENTORY")
		}
		if app.inventoryPath == "" {
			app.inventoryPath = s.GetInventory()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&app.inventoryPath, "inventory", "I", "", "inventory file (default from VLANHOP_INVENTORY or settings)")
	rootCmd.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&app.logJSON, "log-json", false, "log as JSON to stderr")

	rootCmd.AddGroup(
		&cobra.Group{ID: "port", Title: "Port Operations:"},
		&cobra.Group{ID: "ops", Title: "Operational Checks:"},
		&cobra.Group{ID: "meta", Title: "Configuration & Meta:"},
	)

	for _, cmd := range []*cobra.Command{newLocateCmd(), newChangeCmd(), newRollbackCmd()} {
		cmd.GroupID = "port"
		addOutputFlags(cmd)
		rootCmd.AddCommand(cmd)
	}

	checkCmd := newCheckCmd()
	checkCmd.GroupID = "ops"
	addOutputFlags(checkCmd)
	rootCmd.AddCommand(checkCmd)

	auditCmd, versionCmd := newAuditCmd(), newVersionCmd()
	addOutputFlags(auditCmd)
	addOutputFlags(versionCmd)
	for _, cmd := range []*cobra.Command{auditCmd, newSettingsCmd(), versionCmd} {
		cmd.GroupID = "meta"
		rootCmd.AddCommand(cmd)
	}
}

func addOutputFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().BoolVar(&app.jsonOutput, "json", false, "output as JSON")
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.jsonOutput {
				return printJSON(cmd.OutOrStdout(), version.Fields())
			}
			if version.Version == "dev" {
				fmt.Fprintln(cmd.OutOrStdout(), "vlanhop dev build (set version ldflags for release info)")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "vlanhop %s\n", version.Info())
			}
			return nil
		},
	}
}
