package util

import (
	"strings"
)

// ifPrefix is one interface family: its canonical short form, the long form
// IOS prints in config and CDP output, and the abbreviations seen in show
// command tables.
type ifPrefix struct {
	short   string
	long    string
	aliases []string
}

var ifPrefixes = []ifPrefix{
	{"Gi", "GigabitEthernet", []string{"gi", "gig", "gige"}},
	{"Fa", "FastEthernet", []string{"fa", "fas"}},
	{"Te", "TenGigabitEthernet", []string{"te", "ten", "tengig", "tengige"}},
	{"Twe", "TwentyFiveGigE", []string{"twe", "twentyfivegigabitethernet"}},
	{"Tw", "TwoGigabitEthernet", []string{"tw", "two"}},
	{"Fi", "FiveGigabitEthernet", []string{"fi", "five"}},
	{"Fo", "FortyGigabitEthernet", []string{"fo", "forty"}},
	{"Hu", "HundredGigE", []string{"hu", "hundredgigabitethernet"}},
	{"Ap", "AppGigabitEthernet", []string{"ap"}},
	{"Eth", "Ethernet", []string{"eth", "et"}},
	{"Po", "Port-channel", []string{"po", "portchannel", "port-channel"}},
	{"Vl", "Vlan", []string{"vl"}},
}

var (
	prefixByAlias = map[string]*ifPrefix{}
	prefixByShort = map[string]*ifPrefix{}
)

func init() {
	for i := range ifPrefixes {
		p := &ifPrefixes[i]
		prefixByAlias[strings.ToLower(p.long)] = p
		prefixByShort[p.short] = p
		for _, a := range p.aliases {
			prefixByAlias[a] = p
		}
	}
}

// splitInterfaceName splits "GigabitEthernet1/0/24" into
// ("GigabitEthernet", "1/0/24").
func splitInterfaceName(name string) (string, string) {
	name = strings.TrimSpace(name)
	for i, c := range name {
		if c >= '0' && c <= '9' {
			return strings.TrimSpace(name[:i]), name[i:]
		}
	}
	return name, ""
}

// ShortInterfaceName returns the canonical short form of an interface name
// ("GigabitEthernet1/0/24" -> "Gi1/0/24", "port-channel10" -> "Po10").
// Unknown families are returned unchanged.
func ShortInterfaceName(name string) string {
	prefix, num := splitInterfaceName(name)
	if num == "" {
		return strings.TrimSpace(name)
	}
	if p, ok := prefixByAlias[strings.ToLower(prefix)]; ok {
		return p.short + num
	}
	return prefix + num
}

// LongInterfaceName returns the full form used in configuration mode
// ("Gi1/0/24" -> "GigabitEthernet1/0/24").
func LongInterfaceName(name string) string {
	short := ShortInterfaceName(name)
	prefix, num := splitInterfaceName(short)
	if p, ok := prefixByShort[prefix]; ok {
		return p.long + num
	}
	return short
}

// SameInterface compares interface names across abbreviations.
func SameInterface(a, b string) bool {
	return ShortInterfaceName(a) == ShortInterfaceName(b)
}

// IsPortChannel reports whether name is a port-channel interface.
func IsPortChannel(name string) bool {
	return strings.HasPrefix(ShortInterfaceName(name), "Po")
}

// IsSVI reports whether name is a VLAN interface.
func IsSVI(name string) bool {
	return strings.HasPrefix(ShortInterfaceName(name), "Vl")
}

// ShortHostname strips the domain part and any NX-OS serial suffix from a
// CDP device id ("edge1.campus.local" -> "edge1", "dist(FOC123)" -> "dist").
func ShortHostname(deviceID string) string {
	h := strings.TrimSpace(deviceID)
	if i := strings.Index(h, "("); i > 0 {
		h = h[:i]
	}
	if i := strings.Index(h, "."); i > 0 {
		h = h[:i]
	}
	return strings.ToLower(h)
}
