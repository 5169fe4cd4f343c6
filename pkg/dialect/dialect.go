// Package dialect holds the per-platform knowledge of the Cisco CLI: which
// show commands to run, how to parse their output, which configuration lines
// change an access port, and which output means a command was rejected.
package dialect

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/vlanhop/vlanhop/pkg/util"
)

// ArpEntry is one row of the ARP table.
type ArpEntry struct {
	IP        string `json:"ip"`
	MAC       string `json:"mac"`
	Interface string `json:"interface,omitempty"`
}

// MacTableEntry is one row of the MAC address table.
type MacTableEntry struct {
	MAC       string `json:"mac"`
	VLAN      int    `json:"vlan"`
	Interface string `json:"interface"`
	Type      string `json:"type"`
}

// CdpNeighbor is one CDP neighbour learned on LocalInterface.
type CdpNeighbor struct {
	LocalInterface  string   `json:"local_interface"`
	DeviceID        string   `json:"device_id"`
	Address         string   `json:"address,omitempty"`
	RemoteInterface string   `json:"remote_interface"`
	Platform        string   `json:"platform,omitempty"`
	Capabilities    []string `json:"capabilities,omitempty"`
}

// Hostname is the device id without domain or serial suffix.
func (n CdpNeighbor) Hostname() string {
	return util.ShortHostname(n.DeviceID)
}

// IsSwitch reports whether the neighbour forwards frames, i.e. the walk can
// continue through it.
func (n CdpNeighbor) IsSwitch() bool {
	for _, c := range n.Capabilities {
		if strings.EqualFold(c, "Switch") || strings.EqualFold(c, "Router") {
			return true
		}
	}
	return false
}

// PortChannel is a bundle and its members in the order the device lists them.
type PortChannel struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// Switchport is the layer-2 state of one interface.
type Switchport struct {
	Interface  string `json:"interface"`
	AdminMode  string `json:"admin_mode"`
	Mode       string `json:"mode"`
	AccessVLAN int    `json:"access_vlan"`
	VoiceVLAN  int    `json:"voice_vlan"` // 0 when none
}

// IsTrunk reports whether the port is, or is configured to become, a trunk.
func (s *Switchport) IsTrunk() bool {
	return strings.Contains(s.Mode, "trunk") || strings.Contains(s.AdminMode, "trunk")
}

// InterfaceStatus is the link state and error counters of one interface.
type InterfaceStatus struct {
	Interface    string `json:"interface"`
	LineProtocol string `json:"line_protocol"`
	InputErrors  int    `json:"input_errors"`
	OutputErrors int    `json:"output_errors"`
	CRC          int    `json:"crc"`
	Collisions   int    `json:"collisions"`
}

// Warnings lists what an operator should look at: a down line protocol and
// every non-zero error counter.
func (s *InterfaceStatus) Warnings() []string {
	var w []string
	if s.LineProtocol != "up" {
		w = append(w, fmt.Sprintf("%s line protocol is %s", s.Interface, s.LineProtocol))
	}
	for _, c := range []struct {
		name string
		n    int
	}{
		{"input errors", s.InputErrors},
		{"output errors", s.OutputErrors},
		{"CRC errors", s.CRC},
		{"collisions", s.Collisions},
	} {
		if c.n > 0 {
			w = append(w, fmt.Sprintf("%s has %d %s", s.Interface, c.n, c.name))
		}
	}
	return w
}

// AccessChange is the target state for an access port.
type AccessChange struct {
	Interface   string
	AccessVLAN  int
	VoiceVLAN   int // 0 leaves the voice vlan untouched
	RemoveVoice bool
}

// Dialect is the CLI behaviour of one platform family.
type Dialect interface {
	Name() string

	// ProbeCommand is a cheap read used to measure round-trip latency.
	ProbeCommand() string
	// SetupCommands prepare a fresh shell for scripted use.
	SetupCommands() []string

	ArpCommand(ip string) string
	ParseArp(output string) ([]ArpEntry, error)

	MacTableCommand(mac string) string
	ParseMacTable(output string) ([]MacTableEntry, error)

	CdpCommand(intf string) string
	ParseCdp(output string) ([]CdpNeighbor, error)

	PortChannelCommand() string
	ParsePortChannels(output string) ([]PortChannel, error)

	SwitchportCommand(intf string) string
	ParseSwitchport(output string) (*Switchport, error)

	// VLANCommand lists the VLANs defined on the device.
	VLANCommand() string
	ParseVLANs(output string) (util.VLANSet, error)

	InterfaceCommand(intf string) string
	ParseInterface(output string) (*InterfaceStatus, error)

	// AccessPortCommands are the configuration-mode lines for c, without
	// entering or leaving configuration mode.
	AccessPortCommands(c AccessChange) []string

	SaveCommand() string
	// CheckSave returns an error unless output shows the save completed.
	CheckSave(output string) error

	// CheckOutput returns an error when output contains a rejection marker.
	CheckOutput(output string) error

	// ReliableEcho reports whether the device echoes every command line
	// verbatim before its output.
	ReliableEcho() bool
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Dialect{}
)

// Register adds d under its name and any aliases. Later registrations
// replace earlier ones.
func Register(d Dialect, aliases ...string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[d.Name()] = d
	for _, a := range aliases {
		registry[a] = d
	}
}

// Lookup returns the dialect for a device type such as "cisco_ios".
func Lookup(deviceType string) (Dialect, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if d, ok := registry[strings.ToLower(strings.TrimSpace(deviceType))]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("unknown device type %q (known: %s)", deviceType, strings.Join(namesLocked(), ", "))
}

// Names lists the registered device types.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return namesLocked()
}

func namesLocked() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register(newIOS("cisco_ios"), "ios")
	Register(newIOS("cisco_xe"), "cisco_iosxe", "iosxe")
	Register(&nxos{}, "nxos")
}
