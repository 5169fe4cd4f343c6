package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vlanhop/vlanhop/pkg/util"
)

var (
	rollbackVLAN  int
	rollbackVoice int
	rollbackSave  bool
)

func newRollbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback <device> <interface> --vlan <id>",
		Short: "Restore a port to recorded VLANs",
		Long: `Restore an access port to the VLANs it had before a change, as recorded
in the audit log (pre_access_vlan, pre_voice_vlan). A voice VLAN of 0
removes it. The running configuration is saved only with --save.

Examples:
  vlanhop rollback access-sw3 Gi1/0/12 --vlan 10
  vlanhop rollback access-sw3 Gi1/0/12 --vlan 10 --voice 200 --save -x`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := util.ValidateVLANID(rollbackVLAN); err != nil {
				return err
			}
			if rollbackVoice != 0 {
				if err := util.ValidateVLANID(rollbackVoice); err != nil {
					return err
				}
			}
			intf := util.ShortInterfaceName(args[1])
			w := cmd.OutOrStdout()

			if !executeMode {
				fmt.Fprintf(w, "Would restore %s %s to access %s, voice %s", args[0], intf, vlanText(rollbackVLAN), vlanText(rollbackVoice))
				if rollbackSave {
					fmt.Fprint(w, " and save")
				}
				fmt.Fprintln(w)
				fmt.Fprintln(w, "\n"+yellow("DRY-RUN: No changes applied. Use -x to execute."))
				return nil
			}

			st, err := app.load(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()
			dev, err := st.inv.Device(args[0])
			if err != nil {
				return err
			}

			run, err := st.runner.Rollback(cmd.Context(), dev, intf, rollbackVLAN, rollbackVoice, rollbackSave)
			if app.jsonOutput {
				if jerr := printJSON(w, run); jerr != nil {
					return jerr
				}
				return err
			}
			printResult(w, run.Result)
			if err == nil {
				fmt.Fprintln(w, "\n"+green("Port restored."))
			}
			return err
		},
	}
	cmd.Flags().IntVar(&rollbackVLAN, "vlan", 0, "access VLAN to restore (required)")
	cmd.Flags().IntVar(&rollbackVoice, "voice", 0, "voice VLAN to restore (0 removes it)")
	cmd.Flags().BoolVar(&rollbackSave, "save", false, "save the configuration after restoring")
	cmd.Flags().BoolVarP(&executeMode, "execute", "x", false, "apply the rollback (default is preview)")
	cmd.MarkFlagRequired("vlan")
	return cmd
}
