package util

import (
	"fmt"
	"net"
	"strings"
)

// ParseMAC accepts Cisco dotted (aabb.ccdd.eeff), colon, dash, or bare hex
// notation and returns the 48-bit hardware address.
func ParseMAC(s string) (net.HardwareAddr, error) {
	s = strings.TrimSpace(s)
	if len(s) == 12 && !strings.ContainsAny(s, ".:-") {
		s = s[0:4] + "." + s[4:8] + "." + s[8:12]
	}
	hw, err := net.ParseMAC(s)
	if err != nil {
		return nil, fmt.Errorf("invalid mac %q", s)
	}
	if len(hw) != 6 {
		return nil, fmt.Errorf("invalid mac %q: not a 48-bit address", s)
	}
	return hw, nil
}

// CiscoMAC formats a hardware address as IOS prints it: "001a.2b3c.4d5e".
func CiscoMAC(hw net.HardwareAddr) string {
	return fmt.Sprintf("%02x%02x.%02x%02x.%02x%02x", hw[0], hw[1], hw[2], hw[3], hw[4], hw[5])
}

// NormalizeMAC converts any accepted notation to Cisco dotted lowercase.
func NormalizeMAC(s string) (string, error) {
	hw, err := ParseMAC(s)
	if err != nil {
		return "", err
	}
	return CiscoMAC(hw), nil
}

// IsUnicastMAC reports whether hw can identify a single host. Broadcast and
// multicast (group bit set) addresses cannot.
func IsUnicastMAC(hw net.HardwareAddr) bool {
	return len(hw) == 6 && hw[0]&0x01 == 0
}
