// Package testutil provides test helpers: an in-memory Cisco switch that
// answers CLI commands with real IOS and NX-OS output, a network of them
// that implements session.Dialer, and an SSH server in front of a switch.
package testutil

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/vlanhop/vlanhop/pkg/dialect"
	"github.com/vlanhop/vlanhop/pkg/util"
)

// Port is one switchport of a FakeSwitch.
type Port struct {
	Name       string
	Mode       string // "access" or "trunk"
	AccessVLAN int
	VoiceVLAN  int
	Down       bool
	CRC        int
}

// FakeSwitch is a simulated Cisco switch.
type FakeSwitch struct {
	mu sync.Mutex

	Hostname   string
	DeviceType string
	Address    string
	Platform   string

	// Users maps username to password. Empty accepts any login.
	Users        map[string]string
	EnableSecret string
	Unreachable  bool

	ports        map[string]*Port
	vlans        map[int]bool
	arp          []dialect.ArpEntry
	macs         []dialect.MacTableEntry
	cdp          []dialect.CdpNeighbor
	portChannels []dialect.PortChannel

	// Fault injection. Counters are consumed one per matching command.
	RejectAccessVLAN int
	IgnoreConfig     bool
	FailSave         int
	Timeouts         map[string]int

	// Hook runs after every command, outside the switch lock.
	Hook func(cmd string)

	commands []string
	saves    int
}

// NewSwitch creates a switch with no ports.
func NewSwitch(hostname, deviceType, address string) *FakeSwitch {
	platform := "cisco WS-C3850-48P"
	if deviceType == "cisco_nxos" {
		platform = "N9K-C93180YC-EX"
	}
	return &FakeSwitch{
		Hostname:   hostname,
		DeviceType: deviceType,
		Address:    address,
		Platform:   platform,
		ports:      make(map[string]*Port),
		vlans:      vlanMap(defaultVLANs),
		Timeouts:   make(map[string]int),
	}
}

var defaultVLANs = []int{1, 10, 20, 30, 100, 150, 200}

func vlanMap(ids []int) map[int]bool {
	m := map[int]bool{1: true}
	for _, v := range ids {
		m[v] = true
	}
	return m
}

// VLANs replaces the defined VLANs. VLAN 1 is always defined.
func (s *FakeSwitch) VLANs(ids ...int) *FakeSwitch {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vlans = vlanMap(ids)
	return s
}

// HasVLAN reports whether vlan is defined.
func (s *FakeSwitch) HasVLAN(vlan int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vlans[vlan]
}

// LinkState sets a port's line protocol and CRC error count.
func (s *FakeSwitch) LinkState(name string, up bool, crc int) *FakeSwitch {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.ports[util.ShortInterfaceName(name)]; ok {
		p.Down = !up
		p.CRC = crc
	}
	return s
}

func (s *FakeSwitch) nxos() bool { return s.DeviceType == "cisco_nxos" }

// AccessPort adds an access port.
func (s *FakeSwitch) AccessPort(name string, vlan, voice int) *FakeSwitch {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := util.ShortInterfaceName(name)
	s.ports[n] = &Port{Name: n, Mode: "access", AccessVLAN: vlan, VoiceVLAN: voice}
	return s
}

// TrunkPort adds a trunk port.
func (s *FakeSwitch) TrunkPort(name string) *FakeSwitch {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := util.ShortInterfaceName(name)
	s.ports[n] = &Port{Name: n, Mode: "trunk", AccessVLAN: 1}
	return s
}

// LearnMAC adds a dynamic MAC table entry.
func (s *FakeSwitch) LearnMAC(mac string, vlan int, port string) *FakeSwitch {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, _ := util.NormalizeMAC(mac)
	s.macs = append(s.macs, dialect.MacTableEntry{MAC: m, VLAN: vlan, Interface: util.ShortInterfaceName(port), Type: "dynamic"})
	return s
}

// LearnARP adds an ARP entry.
func (s *FakeSwitch) LearnARP(ip, mac, intf string) *FakeSwitch {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, _ := util.NormalizeMAC(mac)
	s.arp = append(s.arp, dialect.ArpEntry{IP: ip, MAC: m, Interface: intf})
	return s
}

// Neighbor adds a CDP neighbour seen on local.
func (s *FakeSwitch) Neighbor(local string, n dialect.CdpNeighbor) *FakeSwitch {
	s.mu.Lock()
	defer s.mu.Unlock()
	n.LocalInterface = util.ShortInterfaceName(local)
	s.cdp = append(s.cdp, n)
	return s
}

// Bundle adds a port-channel with members; the bundle is a trunk.
func (s *FakeSwitch) Bundle(name string, members ...string) *FakeSwitch {
	s.mu.Lock()
	pc := dialect.PortChannel{Name: util.ShortInterfaceName(name)}
	for _, m := range members {
		pc.Members = append(pc.Members, util.ShortInterfaceName(m))
	}
	s.portChannels = append(s.portChannels, pc)
	s.mu.Unlock()
	s.TrunkPort(name)
	for _, m := range members {
		s.TrunkPort(m)
	}
	return s
}

// Port returns a copy of a port's state.
func (s *FakeSwitch) Port(name string) (Port, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.ports[util.ShortInterfaceName(name)]
	if !ok {
		return Port{}, false
	}
	return *p, true
}

// Commands returns every command received, in order.
func (s *FakeSwitch) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// CommandCount counts received commands equal to cmd.
func (s *FakeSwitch) CommandCount(cmd string) int {
	n := 0
	for _, c := range s.Commands() {
		if c == cmd {
			n++
		}
	}
	return n
}

// Saves returns the number of successful saves.
func (s *FakeSwitch) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// CLI is one login's view of the switch; configuration mode is per login.
type CLI struct {
	sw         *FakeSwitch
	userMode   bool
	config     bool
	configIntf string
}

// NewCLI starts a CLI at the privileged prompt, or at the user prompt when
// the switch has an enable secret.
func (s *FakeSwitch) NewCLI() *CLI {
	return &CLI{sw: s, userMode: s.EnableSecret != ""}
}

// Prompt returns the current prompt.
func (c *CLI) Prompt() string {
	switch {
	case c.userMode:
		return c.sw.Hostname + ">"
	case c.configIntf != "":
		return c.sw.Hostname + "(config-if)#"
	case c.config:
		return c.sw.Hostname + "(config)#"
	}
	return c.sw.Hostname + "#"
}

// Enable leaves user mode when secret matches.
func (c *CLI) Enable(secret string) bool {
	if secret == c.sw.EnableSecret {
		c.userMode = false
	}
	return !c.userMode
}

const invalidInput = "              ^\n% Invalid input detected at '^' marker.\n"

// Run executes one command line and returns its output.
func (c *CLI) Run(line string) string {
	s := c.sw
	s.mu.Lock()
	out := c.run(strings.TrimSpace(line))
	hook := s.Hook
	s.mu.Unlock()
	if hook != nil {
		hook(strings.TrimSpace(line))
	}
	return out
}

func (c *CLI) run(cmd string) string {
	s := c.sw
	s.commands = append(s.commands, cmd)
	if cmd == "" {
		return ""
	}
	if c.config {
		return c.runConfig(cmd)
	}

	switch {
	case strings.HasPrefix(cmd, "terminal "):
		return ""
	case strings.HasPrefix(cmd, "show version"):
		return fmt.Sprintf("%s uptime is 12 weeks, 3 days, 4 hours, 5 minutes\n", s.Hostname)
	case cmd == "configure terminal":
		if c.userMode {
			return invalidInput
		}
		c.config = true
		return "Enter configuration commands, one per line.  End with CNTL/Z.\n"
	case strings.HasPrefix(cmd, "show ip arp "):
		return s.renderArp(strings.Fields(cmd)[3])
	case strings.HasPrefix(cmd, "show mac address-table address "):
		return s.renderMacs(strings.Fields(cmd)[4])
	case strings.HasPrefix(cmd, "show cdp neighbors "):
		f := strings.Fields(cmd)
		intf := f[3]
		if f[3] == "interface" {
			intf = f[4]
		}
		return s.renderCdp(intf)
	case cmd == "show etherchannel summary" || cmd == "show port-channel summary":
		return s.renderPortChannels()
	case strings.HasPrefix(cmd, "show interface") && strings.HasSuffix(cmd, " switchport"):
		return s.renderSwitchport(strings.Fields(cmd)[2])
	case strings.HasPrefix(cmd, "show interface") && len(strings.Fields(cmd)) == 3:
		return s.renderInterface(strings.Fields(cmd)[2])
	case cmd == "show vlan brief":
		return s.renderVLANs()
	case cmd == "write memory" || cmd == "copy running-config startup-config":
		return s.save()
	}
	return invalidInput
}

func (c *CLI) runConfig(cmd string) string {
	s := c.sw
	if cmd == "end" {
		c.config = false
		c.configIntf = ""
		return ""
	}
	if strings.HasPrefix(cmd, "interface ") {
		name := util.ShortInterfaceName(strings.TrimPrefix(cmd, "interface "))
		if _, ok := s.ports[name]; !ok {
			return invalidInput
		}
		c.configIntf = name
		return ""
	}
	p := s.ports[c.configIntf]
	if p == nil {
		return invalidInput
	}

	f := strings.Fields(cmd)
	switch {
	case cmd == "switchport mode access":
		if !s.IgnoreConfig {
			p.Mode = "access"
		}
		return ""
	case len(f) == 4 && f[0] == "switchport" && f[1] == "access" && f[2] == "vlan":
		if s.RejectAccessVLAN > 0 {
			s.RejectAccessVLAN--
			return invalidInput
		}
		v, err := strconv.Atoi(f[3])
		if err != nil || util.ValidateVLANID(v) != nil {
			return invalidInput
		}
		if !s.IgnoreConfig {
			p.AccessVLAN = v
		}
		return s.createVLAN("Access", v)
	case len(f) == 4 && f[0] == "switchport" && f[1] == "voice" && f[2] == "vlan":
		v, err := strconv.Atoi(f[3])
		if err != nil || util.ValidateVLANID(v) != nil {
			return invalidInput
		}
		if !s.IgnoreConfig {
			p.VoiceVLAN = v
		}
		return s.createVLAN("Voice", v)
	case cmd == "no switchport voice vlan":
		if !s.IgnoreConfig {
			p.VoiceVLAN = 0
		}
		return ""
	}
	return invalidInput
}

// createVLAN defines an unknown VLAN the way IOS does when a port is put
// into it.
func (s *FakeSwitch) createVLAN(kind string, v int) string {
	if s.vlans[v] {
		return ""
	}
	s.vlans[v] = true
	return fmt.Sprintf("%% %s VLAN does not exist. Creating vlan %d\n", kind, v)
}

func (s *FakeSwitch) save() string {
	if s.FailSave > 0 {
		s.FailSave--
		if s.nxos() {
			return "ERROR: configuration update in progress, try later\n"
		}
		return "Building configuration...\n% Error opening nvram:/startup-config (Device or resource busy)\n"
	}
	s.saves++
	if s.nxos() {
		return "[########################################] 100%\nCopy complete.\n"
	}
	return "Building configuration...\n[OK]\n"
}

func (s *FakeSwitch) renderArp(ip string) string {
	var b strings.Builder
	if s.nxos() {
		b.WriteString("\nIP ARP Table for all contexts\n")
		b.WriteString("Address         Age       MAC Address     Interface       Flags\n")
		for _, e := range s.arp {
			if e.IP == ip {
				fmt.Fprintf(&b, "%-15s 00:03:21  %s  %s\n", e.IP, e.MAC, util.LongInterfaceName(e.Interface))
			}
		}
		return b.String()
	}
	b.WriteString("Protocol  Address          Age (min)  Hardware Addr   Type   Interface\n")
	for _, e := range s.arp {
		if e.IP == ip {
			fmt.Fprintf(&b, "Internet  %-15s %7d   %s  ARPA   %s\n", e.IP, 3, e.MAC, util.LongInterfaceName(e.Interface))
		}
	}
	return b.String()
}

func (s *FakeSwitch) renderMacs(mac string) string {
	var b strings.Builder
	want, _ := util.NormalizeMAC(mac)
	if s.nxos() {
		b.WriteString("   VLAN     MAC Address      Type      age     Secure NTFY Ports\n")
		b.WriteString("---------+-----------------+--------+---------+------+----+------------------\n")
		for _, e := range s.macs {
			if e.MAC == want {
				fmt.Fprintf(&b, "*  %4d     %s   dynamic  0         F      F    %s\n", e.VLAN, e.MAC, e.Interface)
			}
		}
		return b.String()
	}
	b.WriteString("          Mac Address Table\n-------------------------------------------\n\n")
	b.WriteString("Vlan    Mac Address       Type        Ports\n----    -----------       --------    -----\n")
	n := 0
	for _, e := range s.macs {
		if e.MAC == want {
			fmt.Fprintf(&b, "%4d    %s    DYNAMIC     %s\n", e.VLAN, e.MAC, e.Interface)
			n++
		}
	}
	fmt.Fprintf(&b, "Total Mac Addresses for this criterion: %d\n", n)
	return b.String()
}

func (s *FakeSwitch) renderCdp(intf string) string {
	local := util.ShortInterfaceName(intf)
	var b strings.Builder
	n := 0
	for _, e := range s.cdp {
		if e.LocalInterface != local {
			continue
		}
		n++
		b.WriteString("-------------------------\n")
		if s.nxos() {
			fmt.Fprintf(&b, "Device ID:%s\n", e.DeviceID)
			b.WriteString("\nInterface address(es):\n")
			if e.Address != "" {
				fmt.Fprintf(&b, "    IPv4 Address: %s\n", e.Address)
			}
			fmt.Fprintf(&b, "Platform: %s, Capabilities: %s\n", e.Platform, strings.Join(e.Capabilities, " "))
			fmt.Fprintf(&b, "Interface: %s, Port ID (outgoing port): %s\n",
				util.LongInterfaceName(e.LocalInterface), util.LongInterfaceName(e.RemoteInterface))
			b.WriteString("Holdtime: 171 sec\n\n")
			continue
		}
		fmt.Fprintf(&b, "Device ID: %s\nEntry address(es): \n", e.DeviceID)
		if e.Address != "" {
			fmt.Fprintf(&b, "  IP address: %s\n", e.Address)
		}
		fmt.Fprintf(&b, "Platform: %s,  Capabilities: %s \n", e.Platform, strings.Join(e.Capabilities, " "))
		fmt.Fprintf(&b, "Interface: %s,  Port ID (outgoing port): %s\n",
			util.LongInterfaceName(e.LocalInterface), util.LongInterfaceName(e.RemoteInterface))
		b.WriteString("Holdtime : 150 sec\n\n")
	}
	fmt.Fprintf(&b, "\nTotal cdp entries displayed : %d\n", n)
	return b.String()
}

func (s *FakeSwitch) renderPortChannels() string {
	var b strings.Builder
	b.WriteString("Flags:  D - down        P - bundled in port-channel\n")
	b.WriteString("        U - in use      S - Layer2\n\n")
	b.WriteString("Group  Port-channel  Protocol    Ports\n")
	b.WriteString("------+-------------+-----------+-----------------------------------------------\n")
	for _, pc := range s.portChannels {
		num := strings.TrimPrefix(pc.Name, "Po")
		fmt.Fprintf(&b, "%-6s %s(SU)       LACP      ", num, pc.Name)
		for i, m := range pc.Members {
			if i > 0 && i%2 == 0 {
				b.WriteString("\n                                 ")
			}
			fmt.Fprintf(&b, "%s(P)  ", m)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (s *FakeSwitch) renderSwitchport(intf string) string {
	p, ok := s.ports[util.ShortInterfaceName(intf)]
	if !ok {
		return invalidInput
	}
	mode := "static access"
	if p.Mode == "trunk" {
		mode = "trunk"
	}
	if s.nxos() && mode == "static access" {
		mode = "access"
	}
	voice := "none"
	if p.VoiceVLAN > 0 {
		voice = fmt.Sprintf("%d (VLAN%04d)", p.VoiceVLAN, p.VoiceVLAN)
	}
	return fmt.Sprintf(`Name: %s
Switchport: Enabled
Administrative Mode: %s
Operational Mode: %s
Administrative Trunking Encapsulation: dot1q
Negotiation of Trunking: Off
Access Mode VLAN: %d (VLAN%04d)
Trunking Native Mode VLAN: 1 (default)
Voice VLAN: %s
`, p.Name, mode, mode, p.AccessVLAN, p.AccessVLAN, voice)
}

func (s *FakeSwitch) renderVLANs() string {
	ids := make([]int, 0, len(s.vlans))
	for v := range s.vlans {
		ids = append(ids, v)
	}
	sort.Ints(ids)
	var b strings.Builder
	b.WriteString("\nVLAN Name                             Status    Ports\n")
	b.WriteString("---- -------------------------------- --------- -------------------------------\n")
	for _, v := range ids {
		name := fmt.Sprintf("VLAN%04d", v)
		if v == 1 {
			name = "default"
		}
		var members []string
		for _, n := range s.sortedPorts() {
			if p := s.ports[n]; p.Mode == "access" && p.AccessVLAN == v {
				members = append(members, n)
			}
		}
		fmt.Fprintf(&b, "%-4d %-32s active    %s\n", v, name, strings.Join(members, ", "))
	}
	return b.String()
}

func (s *FakeSwitch) renderInterface(intf string) string {
	p, ok := s.ports[util.ShortInterfaceName(intf)]
	if !ok {
		return invalidInput
	}
	long := util.LongInterfaceName(p.Name)
	state := "up"
	if p.Down {
		state = "down"
	}
	if s.nxos() {
		return fmt.Sprintf(`%s is %s
admin state is up, Dedicated Interface
  RX
    0 unicast packets  0 multicast packets  0 broadcast packets
    0 input error  0 short frame  0 overrun   0 underrun  0 ignored
    0 runts  0 giants  %d CRC  0 no buffer
  TX
    0 output error  0 collision  0 deferred  0 late collision
`, long, state, p.CRC)
	}
	return fmt.Sprintf(`%s is %s, line protocol is %s
  Hardware is Gigabit Ethernet, address is 70ca.9b1e.8a18 (bia 70ca.9b1e.8a18)
     %d input errors, %d CRC, 0 frame, 0 overrun, 0 ignored
     0 output errors, 0 collisions, 1 interface resets
`, long, state, state, p.CRC, p.CRC)
}

func (s *FakeSwitch) sortedPorts() []string {
	names := make([]string, 0, len(s.ports))
	for n := range s.ports {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// PortNames lists the switch's ports, sorted.
func (s *FakeSwitch) PortNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedPorts()
}
