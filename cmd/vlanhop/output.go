package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/vlanhop/vlanhop/pkg/change"
	"github.com/vlanhop/vlanhop/pkg/cli"
	"github.com/vlanhop/vlanhop/pkg/operations"
)

func green(s string) string  { return cli.Green(s) }
func yellow(s string) string { return cli.Yellow(s) }
func red(s string) string    { return cli.Red(s) }
func bold(s string) string   { return cli.Bold(s) }

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func vlanText(id int) string {
	if id == 0 {
		return "-"
	}
	return strconv.Itoa(id)
}

// printLocation writes the resolution and the hop table of a run.
func printLocation(w io.Writer, run *operations.Run) {
	if res := run.Resolution; res != nil {
		fmt.Fprintf(w, "Host: %s", bold(res.MAC))
		if res.IP != "" {
			fmt.Fprintf(w, " (%s via %s)", res.IP, res.Gateway)
		}
		if res.Vendor != "" {
			fmt.Fprintf(w, " %s", res.Vendor)
		}
		fmt.Fprintln(w)
	}
	if run.Path == nil {
		return
	}

	t := cli.NewTableTo(w, "HOP", "DEVICE", "HOST", "INTERFACE", "MEMBER", "NEIGHBOR PORT", "VLAN")
	for i, h := range run.Path.Hops {
		member := h.Member
		if member == "" {
			member = "-"
		}
		next := h.NeighborInterface
		if next == "" {
			next = "-"
		}
		t.Row(strconv.Itoa(i+1), h.Device, h.Host, h.Interface, member, next, strconv.Itoa(h.VLAN))
	}
	fmt.Fprintln(w)
	t.Flush()

	edge := run.Path.Edge()
	fmt.Fprintf(w, "\nAccess port: %s\n", green(edge.Device+" "+edge.Interface))
	for _, warn := range run.Path.Warnings {
		fmt.Fprintf(w, "%s %s\n", yellow("warning:"), warn)
	}
}

// printPlan writes a change preview.
func printPlan(w io.Writer, p *change.Plan) {
	fmt.Fprintln(w)
	fmt.Fprint(w, p.Preview())
	fmt.Fprintln(w, "\n"+yellow("DRY-RUN: No changes applied. Use -x to execute."))
}

// printResult writes the outcome of an applied change or rollback.
func printResult(w io.Writer, res *change.Result) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Port:        %s %s\n", res.Request.Device, res.Request.Interface)
	fmt.Fprintf(w, "Before:      access %s, voice %s\n", vlanText(res.PreAccessVLAN), vlanText(res.PreVoiceVLAN))
	fmt.Fprintf(w, "Requested:   access %s, voice %s\n", vlanText(res.Request.AccessVLAN), vlanText(res.Request.VoiceVLAN))
	fmt.Fprintf(w, "State:       %s\n", cli.State(res.State.String()))
	if res.Credential != "" {
		fmt.Fprintf(w, "Credential:  %s\n", res.Credential)
	}
	if res.Attempts > 0 {
		fmt.Fprintf(w, "Attempts:    %d\n", res.Attempts)
	}

	t := cli.NewTableTo(w, "APPLIED", "VERIFIED", "SAVED", "ROLLED BACK")
	t.Row(cli.YesNo(res.Applied), cli.YesNo(res.Verified), cli.YesNo(res.Saved), cli.YesNo(res.RolledBack))
	fmt.Fprintln(w)
	t.Flush()

	if len(res.Verification) > 0 {
		fmt.Fprintln(w)
		vt := cli.NewTableTo(w, "FIELD", "EXPECTED", "ACTUAL")
		for _, m := range res.Verification {
			vt.Row(m.Field, m.Expected, m.Actual)
		}
		vt.Flush()
	}
	if res.RollbackErr != nil {
		fmt.Fprintf(w, "\n%s %v\n", red("rollback failed:"), res.RollbackErr)
	}
	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "%s %s\n", yellow("warning:"), warn)
	}
	if res.OK() {
		fmt.Fprintln(w, "\n"+green("Change applied and saved."))
	}
}
