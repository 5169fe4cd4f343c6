// Package topology walks the switched network hop by hop, following the MAC
// address table and CDP, to find the access port where a host is attached.
package topology

import (
	"fmt"
	"strings"
)

// Hop is one device on the path. Interface is where the MAC was learned;
// for a port-channel, Member is the member whose CDP neighbour led on.
// NeighborInterface is the port on the next device; it is empty on the
// final hop.
type Hop struct {
	Device            string `json:"device"`
	Host              string `json:"host"`
	DeviceType        string `json:"device_type"`
	Interface         string `json:"interface"`
	Member            string `json:"member,omitempty"`
	NeighborInterface string `json:"neighbor_interface,omitempty"`
	VLAN              int    `json:"vlan"`
}

func (h Hop) String() string {
	if h.Member != "" {
		return fmt.Sprintf("%s %s(%s)", h.Device, h.Interface, h.Member)
	}
	return h.Device + " " + h.Interface
}

// Path is the ordered result of a walk. No device appears twice.
type Path struct {
	MAC      string   `json:"mac"`
	Hops     []Hop    `json:"hops"`
	Warnings []string `json:"warnings,omitempty"`
}

// Edge returns the last hop: the access port.
func (p *Path) Edge() Hop {
	if len(p.Hops) == 0 {
		return Hop{}
	}
	return p.Hops[len(p.Hops)-1]
}

// Devices lists device names in walk order.
func (p *Path) Devices() []string {
	names := make([]string, len(p.Hops))
	for i, h := range p.Hops {
		names[i] = h.Device
	}
	return names
}

func (p *Path) String() string {
	parts := make([]string, len(p.Hops))
	for i, h := range p.Hops {
		parts[i] = h.String()
	}
	return strings.Join(parts, " -> ")
}

func (p *Path) warn(format string, args ...interface{}) {
	p.Warnings = append(p.Warnings, fmt.Sprintf(format, args...))
}
