package dialect

import (
	"fmt"
	"strings"

	"github.com/vlanhop/vlanhop/pkg/util"
)

// nxos is Cisco NX-OS. Its CLI echo is not dependable over an interactive
// shell, so command output is matched on the prompt alone.
type nxos struct{}

func (d *nxos) Name() string         { return "cisco_nxos" }
func (d *nxos) ProbeCommand() string { return "show version | include uptime" }
func (d *nxos) ReliableEcho() bool   { return false }

func (d *nxos) SetupCommands() []string {
	return []string{"terminal length 0", "terminal width 511"}
}

func (d *nxos) ArpCommand(ip string) string { return "show ip arp " + ip + " vrf all" }

func (d *nxos) ParseArp(output string) ([]ArpEntry, error) { return parseArp(output) }

func (d *nxos) MacTableCommand(mac string) string {
	return "show mac address-table address " + mac
}

func (d *nxos) ParseMacTable(output string) ([]MacTableEntry, error) { return parseMacTable(output) }

func (d *nxos) CdpCommand(intf string) string {
	return fmt.Sprintf("show cdp neighbors interface %s detail", util.LongInterfaceName(intf))
}

func (d *nxos) ParseCdp(output string) ([]CdpNeighbor, error) { return parseCdpDetail(output) }

func (d *nxos) PortChannelCommand() string { return "show port-channel summary" }

func (d *nxos) ParsePortChannels(output string) ([]PortChannel, error) {
	return parsePortChannelSummary(output)
}

func (d *nxos) SwitchportCommand(intf string) string {
	return fmt.Sprintf("show interface %s switchport", util.LongInterfaceName(intf))
}

func (d *nxos) ParseSwitchport(output string) (*Switchport, error) { return parseSwitchport(output) }

func (d *nxos) VLANCommand() string { return "show vlan brief" }

func (d *nxos) ParseVLANs(output string) (util.VLANSet, error) { return parseVLANBrief(output) }

func (d *nxos) InterfaceCommand(intf string) string {
	return fmt.Sprintf("show interface %s", util.LongInterfaceName(intf))
}

func (d *nxos) ParseInterface(output string) (*InterfaceStatus, error) {
	return parseInterface(output)
}

func (d *nxos) AccessPortCommands(c AccessChange) []string {
	return accessPortCommands(c)
}

func (d *nxos) SaveCommand() string { return "copy running-config startup-config" }

func (d *nxos) CheckSave(output string) error {
	if err := d.CheckOutput(output); err != nil {
		return err
	}
	if !strings.Contains(strings.ToLower(output), "copy complete") {
		return fmt.Errorf("save did not report completion")
	}
	return nil
}

func (d *nxos) CheckOutput(output string) error {
	return checkMarkers(output, "% ", "error:")
}
