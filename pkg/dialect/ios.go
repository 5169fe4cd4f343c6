package dialect

import (
	"fmt"
	"strings"

	"github.com/vlanhop/vlanhop/pkg/util"
)

// ios covers Cisco IOS and IOS-XE, which share every command used here.
type ios struct {
	name string
}

func newIOS(name string) *ios { return &ios{name: name} }

func (d *ios) Name() string         { return d.name }
func (d *ios) ProbeCommand() string { return "show version | include uptime" }
func (d *ios) ReliableEcho() bool   { return true }

func (d *ios) SetupCommands() []string {
	return []string{"terminal length 0", "terminal width 511"}
}

func (d *ios) ArpCommand(ip string) string { return "show ip arp " + ip }

func (d *ios) ParseArp(output string) ([]ArpEntry, error) { return parseArp(output) }

func (d *ios) MacTableCommand(mac string) string {
	return "show mac address-table address " + mac
}

func (d *ios) ParseMacTable(output string) ([]MacTableEntry, error) { return parseMacTable(output) }

func (d *ios) CdpCommand(intf string) string {
	return fmt.Sprintf("show cdp neighbors %s detail", util.LongInterfaceName(intf))
}

func (d *ios) ParseCdp(output string) ([]CdpNeighbor, error) { return parseCdpDetail(output) }

func (d *ios) PortChannelCommand() string { return "show etherchannel summary" }

func (d *ios) ParsePortChannels(output string) ([]PortChannel, error) {
	return parsePortChannelSummary(output)
}

func (d *ios) SwitchportCommand(intf string) string {
	return fmt.Sprintf("show interfaces %s switchport", util.LongInterfaceName(intf))
}

func (d *ios) ParseSwitchport(output string) (*Switchport, error) { return parseSwitchport(output) }

func (d *ios) VLANCommand() string { return "show vlan brief" }

func (d *ios) ParseVLANs(output string) (util.VLANSet, error) { return parseVLANBrief(output) }

func (d *ios) InterfaceCommand(intf string) string {
	return fmt.Sprintf("show interfaces %s", util.LongInterfaceName(intf))
}

func (d *ios) ParseInterface(output string) (*InterfaceStatus, error) {
	return parseInterface(output)
}

func (d *ios) AccessPortCommands(c AccessChange) []string {
	return accessPortCommands(c)
}

func (d *ios) SaveCommand() string { return "write memory" }

func (d *ios) CheckSave(output string) error {
	if err := d.CheckOutput(output); err != nil {
		return err
	}
	if !strings.Contains(output, "[OK]") {
		return fmt.Errorf("save did not report [OK]")
	}
	return nil
}

func (d *ios) CheckOutput(output string) error {
	return checkMarkers(output, "% ")
}

// accessPortCommands is the configuration body shared by every dialect.
func accessPortCommands(c AccessChange) []string {
	cmds := []string{
		"interface " + util.LongInterfaceName(c.Interface),
		"switchport mode access",
		fmt.Sprintf("switchport access vlan %d", c.AccessVLAN),
	}
	switch {
	case c.RemoveVoice:
		cmds = append(cmds, "no switchport voice vlan")
	case c.VoiceVLAN > 0:
		cmds = append(cmds, fmt.Sprintf("switchport voice vlan %d", c.VoiceVLAN))
	}
	return cmds
}
