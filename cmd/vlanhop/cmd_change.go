package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vlanhop/vlanhop/pkg/operations"
	"github.com/vlanhop/vlanhop/pkg/resolver"
)

var (
	changeVLAN        int
	changeVoice       int
	changeRemoveVoice bool
	changeNoRollback  bool
	executeMode       bool
)

func newChangeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "change <ip|mac> --vlan <id>",
		Short: "Move a host's access port to another VLAN",
		Long: `Locate the host, then set the access VLAN (and optionally the voice VLAN)
of its access port. Without -x the planned commands are shown and nothing is
changed. With -x the change is pushed, read back, and saved; a push or
verification failure restores the previous VLANs unless --no-rollback is set.

Examples:
  vlanhop change 10.20.30.40 --vlan 100
  vlanhop change 10.20.30.40 --vlan 100 --voice 200 -x
  vlanhop change 0011.2233.4455 --vlan 30 --remove-voice -x`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := resolver.ParseMode(modeFlag)
			if err != nil {
				return err
			}
			target, err := changeTarget()
			if err != nil {
				return err
			}
			st, err := app.load(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			w := cmd.OutOrStdout()
			var run *operations.Run
			if executeMode {
				run, err = st.runner.Change(cmd.Context(), args[0], mode, target)
			} else {
				run, err = st.runner.Preview(cmd.Context(), args[0], mode, target)
			}
			if app.jsonOutput {
				if jerr := printJSON(w, run); jerr != nil {
					return jerr
				}
				return err
			}

			printLocation(w, run)
			switch {
			case run.Result != nil:
				printResult(w, run.Result)
			case run.Plan != nil:
				printPlan(w, run.Plan)
			}
			if run.Archive != "" {
				fmt.Fprintf(w, "Archived to %s\n", run.Archive)
			}
			return err
		},
	}
	addModeFlag(cmd)
	cmd.Flags().IntVar(&changeVLAN, "vlan", 0, "new access VLAN (required)")
	cmd.Flags().IntVar(&changeVoice, "voice", 0, "new voice VLAN")
	cmd.Flags().BoolVar(&changeRemoveVoice, "remove-voice", false, "remove the voice VLAN")
	cmd.Flags().BoolVar(&changeNoRollback, "no-rollback", false, "leave the port as pushed if the change fails")
	cmd.Flags().BoolVarP(&executeMode, "execute", "x", false, "apply the change (default is preview)")
	cmd.MarkFlagRequired("vlan")
	return cmd
}

func changeTarget() (operations.Target, error) {
	if changeRemoveVoice && changeVoice != 0 {
		return operations.Target{}, fmt.Errorf("--voice and --remove-voice are mutually exclusive")
	}
	return operations.Target{
		AccessVLAN:  changeVLAN,
		VoiceVLAN:   changeVoice,
		RemoveVoice: changeRemoveVoice,
		Rollback:    !changeNoRollback,
	}, nil
}
