package change

import (
	"context"
	"fmt"
	"strings"

	"github.com/vlanhop/vlanhop/pkg/dialect"
	"github.com/vlanhop/vlanhop/pkg/session"
	"github.com/vlanhop/vlanhop/pkg/util"
)

// Plan is what Apply would do, built from a read of the port without
// changing it.
type Plan struct {
	Device     string              `json:"device"`
	Interface  string              `json:"interface"`
	Current    *dialect.Switchport `json:"current"`
	AccessVLAN int                 `json:"access_vlan"`
	VoiceVLAN  int                 `json:"voice_vlan"`
	Commands   []string            `json:"commands"`
	Save       string              `json:"save"`
}

// NoOp reports whether the port already has the target VLANs.
func (p *Plan) NoOp() bool {
	return p.Current != nil && p.Current.AccessVLAN == p.AccessVLAN &&
		p.Current.VoiceVLAN == p.VoiceVLAN && !p.Current.IsTrunk()
}

// Preview renders the plan for a terminal.
func (p *Plan) Preview() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Device: %s\n", p.Device)
	fmt.Fprintf(&sb, "Interface: %s\n", p.Interface)
	if p.Current != nil {
		fmt.Fprintf(&sb, "Access VLAN: %d -> %d\n", p.Current.AccessVLAN, p.AccessVLAN)
		fmt.Fprintf(&sb, "Voice VLAN: %s -> %s\n", vlanText(p.Current.VoiceVLAN), vlanText(p.VoiceVLAN))
	}
	if p.NoOp() {
		sb.WriteString("Port already matches; the commands below would be re-applied.\n")
	}
	sb.WriteString("Commands:\n")
	sb.WriteString("  configure terminal\n")
	for _, c := range p.Commands {
		fmt.Fprintf(&sb, "  %s\n", c)
	}
	sb.WriteString("  end\n")
	fmt.Fprintf(&sb, "  %s\n", p.Save)
	return sb.String()
}

// Plan validates req and reads the port to show the change Apply would make.
// Trunk ports and undefined VLANs are refused here as in Apply.
func (e *Engine) Plan(ctx context.Context, req Request) (*Plan, error) {
	if err := req.Validate(e.cfg.AllowedVLANs); err != nil {
		return nil, err
	}
	var plan *Plan
	err := e.opener.With(ctx, req.Device, func(s session.Session) error {
		pre, err := e.rb.Capture(ctx, s, req.Interface)
		if err != nil {
			return err
		}
		if err := refuseTrunk(req, pre); err != nil {
			return err
		}
		if err := requireVLANs(ctx, s, req); err != nil {
			return err
		}
		want := expectedAfter(req, *pre)
		plan = &Plan{
			Device:     req.Device.Name,
			Interface:  util.LongInterfaceName(req.Interface),
			Current:    pre,
			AccessVLAN: want.accessVLAN,
			VoiceVLAN:  want.voiceVLAN,
			Commands:   s.Dialect().AccessPortCommands(req.access()),
			Save:       s.Dialect().SaveCommand(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

func refuseTrunk(req Request, pre *dialect.Switchport) error {
	if !pre.IsTrunk() {
		return nil
	}
	return util.NewPreconditionError("change vlan", req.Device.Name+" "+req.Interface,
		"port must be an access port", "mode is "+pre.Mode)
}
