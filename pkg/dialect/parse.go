package dialect

import (
	"bufio"
	"fmt"
	"net"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/vlanhop/vlanhop/pkg/util"
)

var (
	reIPv4     = regexp.MustCompile(`\b(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})\b`)
	reDotMAC   = regexp.MustCompile(`\b([0-9A-Fa-f]{4}\.[0-9A-Fa-f]{4}\.[0-9A-Fa-f]{4})\b`)
	reMacTable = regexp.MustCompile(`^\s*[*+GRO]?\s*(\d+)\s+([0-9A-Fa-f]{4}\.[0-9A-Fa-f]{4}\.[0-9A-Fa-f]{4})\s+(\S+)\s+(?:.*\s)?(\S+)\s*$`)
	reBundled  = regexp.MustCompile(`^(\S+?)\(([A-Za-z]+)\)$`)

	reCdpDeviceID  = regexp.MustCompile(`^\s*Device ID:\s*(.+?)\s*$`)
	reCdpSysName   = regexp.MustCompile(`^\s*System Name:\s*(.+?)\s*$`)
	reCdpAddress   = regexp.MustCompile(`^\s*(?:IP address|IPv4 Address):\s*(\S+)\s*$`)
	reCdpPlatform  = regexp.MustCompile(`^\s*Platform:\s*([^,]+?)\s*,\s*Capabilities:\s*(.*?)\s*$`)
	reCdpInterface = regexp.MustCompile(`^\s*Interface:\s*([^,]+?)\s*,\s*Port ID \(outgoing port\):\s*(.+?)\s*$`)

	reSwitchportName = regexp.MustCompile(`^\s*Name:\s*(\S+)`)
	reAdminMode      = regexp.MustCompile(`^\s*Administrative Mode:\s*(.+?)\s*$`)
	reOperMode       = regexp.MustCompile(`^\s*Operational Mode:\s*(.+?)\s*$`)
	reAccessVLAN     = regexp.MustCompile(`^\s*Access Mode VLAN:\s*(\d+)`)
	reVoiceVLAN      = regexp.MustCompile(`^\s*Voice VLAN:\s*(\S+)`)

	reIntfHeader   = regexp.MustCompile(`^(\S+) is (?:administratively )?(up|down)\b`)
	reLineProtocol = regexp.MustCompile(`line protocol is (\w+)`)
	reInputErrors  = regexp.MustCompile(`\b(\d+) input errors?\b`)
	reOutputErrors = regexp.MustCompile(`\b(\d+) output errors?\b`)
	reCRC          = regexp.MustCompile(`\b(\d+) CRC\b`)
	reCollisions   = regexp.MustCompile(`(?:^|,|\s\s)\s*(\d+) collisions?\b`)
)

func lines(output string) *bufio.Scanner {
	sc := bufio.NewScanner(strings.NewReader(output))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	return sc
}

// parseArp accepts both the IOS layout
//
//	Internet  10.0.10.5   3   001a.2b3c.4d5e  ARPA   Vlan10
//
// and the NX-OS layout
//
//	10.0.10.5   00:01:12  001a.2b3c.4d5e  Vlan10
//
// Incomplete entries carry no MAC and are skipped.
func parseArp(output string) ([]ArpEntry, error) {
	var entries []ArpEntry
	sc := lines(output)
	for sc.Scan() {
		line := sc.Text()
		ipm := reIPv4.FindStringSubmatch(line)
		macm := reDotMAC.FindStringSubmatch(line)
		if ipm == nil || macm == nil || net.ParseIP(ipm[1]) == nil {
			continue
		}
		mac, err := util.NormalizeMAC(macm[1])
		if err != nil {
			continue
		}
		e := ArpEntry{IP: ipm[1], MAC: mac}
		fields := strings.Fields(line)
		if last := fields[len(fields)-1]; last != macm[1] && last != "ARPA" {
			e.Interface = util.ShortInterfaceName(last)
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}

// parseMacTable accepts the IOS layout
//
//	  10    001a.2b3c.4d5e    DYNAMIC     Gi1/0/24
//
// and the NX-OS layout
//
//	* 10     001a.2b3c.4d5e   dynamic  0         F      F    Eth1/5
func parseMacTable(output string) ([]MacTableEntry, error) {
	var entries []MacTableEntry
	sc := lines(output)
	for sc.Scan() {
		m := reMacTable.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		vlan, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		mac, err := util.NormalizeMAC(m[2])
		if err != nil {
			continue
		}
		entries = append(entries, MacTableEntry{
			MAC:       mac,
			VLAN:      vlan,
			Interface: util.ShortInterfaceName(m[4]),
			Type:      strings.ToLower(m[3]),
		})
	}
	return entries, sc.Err()
}

// parseCdpDetail parses "show cdp neighbors ... detail" blocks. Each block
// starts at "Device ID:". When a block carries several addresses the first
// one wins.
func parseCdpDetail(output string) ([]CdpNeighbor, error) {
	var (
		out []CdpNeighbor
		cur *CdpNeighbor
	)
	flush := func() {
		if cur != nil && cur.DeviceID != "" && cur.LocalInterface != "" {
			out = append(out, *cur)
		}
		cur = nil
	}

	sc := lines(output)
	for sc.Scan() {
		line := sc.Text()
		if m := reCdpDeviceID.FindStringSubmatch(line); m != nil {
			flush()
			cur = &CdpNeighbor{DeviceID: m[1]}
			continue
		}
		if cur == nil {
			continue
		}
		switch {
		case reCdpSysName.MatchString(line):
			// NX-OS sends the bare hostname here; prefer it over a serial-suffixed id.
			cur.DeviceID = reCdpSysName.FindStringSubmatch(line)[1]
		case reCdpAddress.MatchString(line):
			if cur.Address == "" {
				cur.Address = reCdpAddress.FindStringSubmatch(line)[1]
			}
		case reCdpPlatform.MatchString(line):
			m := reCdpPlatform.FindStringSubmatch(line)
			cur.Platform = m[1]
			cur.Capabilities = strings.Fields(m[2])
		case reCdpInterface.MatchString(line):
			m := reCdpInterface.FindStringSubmatch(line)
			cur.LocalInterface = util.ShortInterfaceName(m[1])
			cur.RemoteInterface = util.ShortInterfaceName(m[2])
		}
	}
	flush()
	return out, sc.Err()
}

// parsePortChannelSummary handles "show etherchannel summary" and NX-OS
// "show port-channel summary". Member lists may wrap onto continuation
// lines that do not start with a group number.
func parsePortChannelSummary(output string) ([]PortChannel, error) {
	var (
		out     []PortChannel
		cur     *PortChannel
		inTable bool
	)
	sc := lines(output)
	for sc.Scan() {
		line := sc.Text()
		trim := strings.TrimSpace(line)
		if strings.HasPrefix(trim, "----") {
			inTable = true
			continue
		}
		if !inTable || trim == "" {
			continue
		}
		fields := strings.Fields(trim)
		if _, err := strconv.Atoi(fields[0]); err == nil {
			if cur != nil {
				out = append(out, *cur)
			}
			cur = nil
			for i, f := range fields[1:] {
				m := reBundled.FindStringSubmatch(f)
				if m == nil || !util.IsPortChannel(m[1]) {
					continue
				}
				cur = &PortChannel{Name: util.ShortInterfaceName(m[1])}
				cur.Members = appendMembers(cur.Members, fields[i+2:])
				break
			}
			continue
		}
		if cur != nil && (line[0] == ' ' || line[0] == '\t') {
			cur.Members = appendMembers(cur.Members, fields)
		}
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out, sc.Err()
}

func appendMembers(members []string, fields []string) []string {
	for _, f := range fields {
		if m := reBundled.FindStringSubmatch(f); m != nil && !util.IsPortChannel(m[1]) {
			members = append(members, util.ShortInterfaceName(m[1]))
		}
	}
	return members
}

// parseSwitchport parses "show interfaces X switchport".
func parseSwitchport(output string) (*Switchport, error) {
	sp := &Switchport{}
	sawAccess := false
	sc := lines(output)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case reSwitchportName.MatchString(line):
			sp.Interface = util.ShortInterfaceName(reSwitchportName.FindStringSubmatch(line)[1])
		case reAdminMode.MatchString(line):
			sp.AdminMode = strings.ToLower(reAdminMode.FindStringSubmatch(line)[1])
		case reOperMode.MatchString(line):
			sp.Mode = strings.ToLower(reOperMode.FindStringSubmatch(line)[1])
		case reAccessVLAN.MatchString(line):
			v, err := strconv.Atoi(reAccessVLAN.FindStringSubmatch(line)[1])
			if err != nil {
				return nil, fmt.Errorf("access vlan: %w", err)
			}
			sp.AccessVLAN = v
			sawAccess = true
		case reVoiceVLAN.MatchString(line):
			val := reVoiceVLAN.FindStringSubmatch(line)[1]
			if v, err := strconv.Atoi(val); err == nil {
				sp.VoiceVLAN = v
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if !sawAccess {
		return nil, fmt.Errorf("no switchport data in output")
	}
	return sp, nil
}

// checkMarkers returns the first line that starts with one of the rejection
// prefixes.
func checkMarkers(output string, prefixes ...string) error {
	sc := lines(output)
	for sc.Scan() {
		trim := strings.TrimSpace(sc.Text())
		lower := strings.ToLower(trim)
		for _, p := range prefixes {
			if strings.HasPrefix(lower, p) {
				return fmt.Errorf("%s", trim)
			}
		}
	}
	return nil
}

// parseVLANBrief parses "show vlan brief", which IOS and NX-OS print alike:
//
//	VLAN Name                             Status    Ports
//	---- -------------------------------- --------- -------------------------
//	1    default                          active    Gi1/0/1, Gi1/0/2
//	                                                Gi1/0/3
//	10   USERS                            active    Gi1/0/24
//
// Port lists wrap onto indented lines, which carry no VLAN id.
func parseVLANBrief(output string) (util.VLANSet, error) {
	var (
		ids    []int
		header bool
	)
	sc := lines(output)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "VLAN ") && strings.Contains(line, "Status") {
			header = true
			continue
		}
		if !header || line == "" || line[0] == ' ' || line[0] == '\t' {
			continue
		}
		id, err := strconv.Atoi(strings.Fields(line)[0])
		if err != nil || util.ValidateVLANID(id) != nil {
			continue
		}
		ids = append(ids, id)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if !header {
		return nil, fmt.Errorf("no vlan table in output")
	}
	sort.Ints(ids)
	return util.VLANSet(ids), nil
}

// parseInterface reads the line protocol and error counters from
// "show interfaces X" on IOS
//
//	GigabitEthernet1/0/24 is up, line protocol is up (connected)
//	     0 input errors, 0 CRC, 0 frame, 0 overrun, 0 ignored
//	     0 output errors, 0 collisions, 1 interface resets
//
// and "show interface X" on NX-OS, which has no line protocol and reports
// the link on the first line:
//
//	Ethernet1/5 is down (Link not connected)
//	    0 input error  0 short frame  0 overrun   0 underrun  0 ignored
//	    0 runts  0 giants  0 CRC  0 no buffer
//	    0 output error  0 collision  0 deferred  0 late collision
func parseInterface(output string) (*InterfaceStatus, error) {
	st := &InterfaceStatus{}
	link := ""
	sc := lines(output)
	for sc.Scan() {
		line := sc.Text()
		if st.Interface == "" {
			if m := reIntfHeader.FindStringSubmatch(line); m != nil {
				st.Interface = util.ShortInterfaceName(m[1])
				link = strings.ToLower(m[2])
			}
		}
		if m := reLineProtocol.FindStringSubmatch(line); m != nil && st.LineProtocol == "" {
			st.LineProtocol = strings.ToLower(m[1])
		}
		counter(line, reInputErrors, &st.InputErrors)
		counter(line, reOutputErrors, &st.OutputErrors)
		counter(line, reCRC, &st.CRC)
		counter(line, reCollisions, &st.Collisions)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if st.Interface == "" {
		return nil, fmt.Errorf("no interface status in output")
	}
	if st.LineProtocol == "" {
		st.LineProtocol = link
	}
	return st, nil
}

// counter stores the first match of re in line into dst.
func counter(line string, re *regexp.Regexp, dst *int) {
	if m := re.FindStringSubmatch(line); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			*dst = n
		}
	}
}
