package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/vlanhop/vlanhop/pkg/cli"
	"github.com/vlanhop/vlanhop/pkg/operations"
)

var checkParallel int

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify every inventory device is reachable",
		Long: `Open a session to every inventory device concurrently and report whether it
answered, which credential set worked, and the measured latency and timeout
multiplier. Exits non-zero if any device is unreachable.

Examples:
  vlanhop check
  vlanhop check --parallel 16 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := app.loadBroker()
			if err != nil {
				return err
			}
			parallel := checkParallel
			if parallel <= 0 {
				parallel = app.settings.GetParallel()
			}

			results := operations.CheckReachability(cmd.Context(), st.broker, st.inv.DeviceList(), parallel)
			failed := 0
			for _, r := range results {
				if !r.Reachable {
					failed++
				}
			}

			w := cmd.OutOrStdout()
			if app.jsonOutput {
				if err := printJSON(w, results); err != nil {
					return err
				}
			} else {
				printReachability(w, results)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d devices unreachable", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&checkParallel, "parallel", "p", 0, "concurrent sessions (default from settings)")
	return cmd
}

func printReachability(w io.Writer, results []operations.Reachability) {
	t := cli.NewTableTo(w, "DEVICE", "HOST", "TYPE", "STATUS", "CREDENTIAL", "LATENCY", "MULTIPLIER", "ERROR")
	for _, r := range results {
		cred, latency, mult := "-", "-", "-"
		if r.Reachable {
			cred = r.Credential
			latency = r.Timing.Latency.Round(time.Millisecond).String()
			mult = fmt.Sprintf("x%.1f", r.Timing.Multiplier)
		}
		errText := r.Error
		if errText == "" {
			errText = "-"
		}
		t.Row(r.Device, r.Host, r.DeviceType, cli.Status(r.Reachable), cred, latency, mult, errText)
	}
	t.Flush()
}
