package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vlanhop/vlanhop/pkg/audit"
	"github.com/vlanhop/vlanhop/pkg/cli"
	"github.com/vlanhop/vlanhop/pkg/util"
)

var (
	auditDevice    string
	auditMAC       string
	auditOperation string
	auditUser      string
	auditLast      string
	auditLimit     int
	auditFailures  bool
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "View the audit log",
		Long: `View recorded locate, change, and rollback runs.

Every run records the user, target host, access port, path, the VLANs the
port had before the change, and the outcome.

Examples:
  vlanhop audit list --device access-sw3
  vlanhop audit list --last 7d --failures
  vlanhop audit list --mac 0011.2233.4455 --json`,
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List audit events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := audit.Filter{
				Device:      auditDevice,
				Operation:   auditOperation,
				User:        auditUser,
				Limit:       auditLimit,
				FailureOnly: auditFailures,
			}
			if auditMAC != "" {
				mac, err := util.NormalizeMAC(auditMAC)
				if err != nil {
					return err
				}
				filter.MAC = mac
			}
			if auditLast != "" {
				d, err := parseSince(auditLast)
				if err != nil {
					return err
				}
				filter.StartTime = time.Now().Add(-d)
			}

			logger, err := audit.NewFileLogger(app.settings.GetAuditLog(), audit.RotationConfig{})
			if err != nil {
				return fmt.Errorf("opening audit log: %w", err)
			}
			defer logger.Close()

			events, err := logger.Query(filter)
			if err != nil {
				return fmt.Errorf("querying audit log: %w", err)
			}

			w := cmd.OutOrStdout()
			if app.jsonOutput {
				return printJSON(w, events)
			}
			if len(events) == 0 {
				fmt.Fprintln(w, "No audit events found")
				return nil
			}

			t := cli.NewTableTo(w, "TIMESTAMP", "USER", "OPERATION", "TARGET", "PORT", "BEFORE", "AFTER", "STATUS")
			for _, e := range events {
				t.Row(
					e.Timestamp.Format("2006-01-02 15:04:05"),
					e.User,
					e.Operation,
					dash(e.Identifier),
					dash(strings.TrimSpace(e.Device+" "+e.Interface)),
					vlanPair(e.Operation, e.PreAccessVLAN, e.PreVoiceVLAN),
					vlanPair(e.Operation, e.AccessVLAN, e.VoiceVLAN),
					eventStatus(e),
				)
			}
			t.Flush()
			return nil
		},
	}
	list.Flags().StringVar(&auditDevice, "device", "", "filter by device")
	list.Flags().StringVar(&auditMAC, "mac", "", "filter by host MAC")
	list.Flags().StringVar(&auditOperation, "operation", "", "filter by operation (locate, preview, change, rollback)")
	list.Flags().StringVar(&auditUser, "user", "", "filter by user")
	list.Flags().StringVar(&auditLast, "last", "", "show events from the last duration (e.g. 24h, 7d)")
	list.Flags().IntVar(&auditLimit, "limit", 100, "maximum events to show")
	list.Flags().BoolVar(&auditFailures, "failures", false, "show only failed runs")

	cmd.AddCommand(list)
	return cmd
}

// parseSince accepts Go durations plus a whole-day suffix.
func parseSince(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %s", s)
	}
	return d, nil
}

func vlanPair(op string, access, voice int) string {
	if op != audit.OpChange && op != audit.OpRollback {
		return "-"
	}
	return vlanText(access) + "/" + vlanText(voice)
}

func eventStatus(e *audit.Event) string {
	switch {
	case e.RollbackError != "":
		return red("rollback failed")
	case e.RolledBack:
		return yellow("rolled back")
	case !e.Success:
		return red("failed")
	case !e.ExecuteMode && e.Operation == audit.OpPreview:
		return yellow("dry-run")
	}
	return green("ok")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
