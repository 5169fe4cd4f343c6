// Package resolver turns an end-host identifier, an IP or a MAC address,
// into the MAC the topology walk searches for.
package resolver

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"strings"

	"github.com/google/gopacket/macs"

	"github.com/vlanhop/vlanhop/pkg/session"
	"github.com/vlanhop/vlanhop/pkg/util"
)

// Mode selects how an identifier is interpreted.
type Mode string

const (
	ModeAuto Mode = "auto"
	ModeIP   Mode = "ip"
	ModeMAC  Mode = "mac"
)

// ParseMode parses a mode name; the empty string is ModeAuto.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeIP:
		return ModeIP, nil
	case ModeMAC:
		return ModeMAC, nil
	}
	return "", fmt.Errorf("unknown mode %q (want ip, mac or auto)", s)
}

// Gateway is a device holding ARP state for a subnet.
type Gateway struct {
	Prefix netip.Prefix
	Device session.Device
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	Identifier string `json:"identifier"`
	Mode       Mode   `json:"mode"`
	MAC        string `json:"mac"`
	IP         string `json:"ip,omitempty"`
	Vendor     string `json:"vendor,omitempty"`
	Gateway    string `json:"gateway,omitempty"`
	Interface  string `json:"arp_interface,omitempty"`
}

// Opener runs a function on a session to a device. session.Broker is one.
type Opener interface {
	With(ctx context.Context, dev session.Device, fn func(session.Session) error) error
}

// Resolver maps identifiers to MAC addresses.
type Resolver struct {
	opener   Opener
	gateways []Gateway
	seeds    []session.Device
}

// New creates a resolver. Gateways are matched longest prefix first; when
// none matches, the first seed is asked.
func New(opener Opener, gateways []Gateway, seeds []session.Device) *Resolver {
	gws := append([]Gateway(nil), gateways...)
	sort.SliceStable(gws, func(i, j int) bool { return gws[i].Prefix.Bits() > gws[j].Prefix.Bits() })
	return &Resolver{opener: opener, gateways: gws, seeds: seeds}
}

// GatewayFor picks the device to ask for ip's ARP entry.
func (r *Resolver) GatewayFor(ip netip.Addr) (session.Device, error) {
	for _, gw := range r.gateways {
		if gw.Prefix.Contains(ip) {
			return gw.Device, nil
		}
	}
	if len(r.seeds) > 0 {
		return r.seeds[0], nil
	}
	return session.Device{}, fmt.Errorf("no gateway for %s and no seed devices", ip)
}

// Resolve interprets identifier per mode and returns its MAC.
func (r *Resolver) Resolve(ctx context.Context, identifier string, mode Mode) (*Resolution, error) {
	identifier = strings.TrimSpace(identifier)
	if mode == ModeAuto {
		if _, err := netip.ParseAddr(identifier); err == nil {
			mode = ModeIP
		} else {
			mode = ModeMAC
		}
	}

	switch mode {
	case ModeMAC:
		return resolveMAC(identifier)
	case ModeIP:
		return r.resolveIP(ctx, identifier)
	}
	return nil, fmt.Errorf("unknown mode %q", mode)
}

func resolveMAC(identifier string) (*Resolution, error) {
	hw, err := util.ParseMAC(identifier)
	if err != nil {
		return nil, err
	}
	if !util.IsUnicastMAC(hw) {
		return nil, fmt.Errorf("mac %s is broadcast or multicast and cannot identify a host", identifier)
	}
	return &Resolution{
		Identifier: identifier,
		Mode:       ModeMAC,
		MAC:        util.CiscoMAC(hw),
		Vendor:     Vendor(hw),
	}, nil
}

func (r *Resolver) resolveIP(ctx context.Context, identifier string) (*Resolution, error) {
	ip, err := netip.ParseAddr(identifier)
	if err != nil || !ip.Is4() {
		return nil, fmt.Errorf("invalid IPv4 address %q", identifier)
	}
	gw, err := r.GatewayFor(ip)
	if err != nil {
		return nil, err
	}

	log := util.WithDevice(gw.String())
	log.Debugf("resolving %s via ARP", ip)

	var res *Resolution
	err = r.opener.With(ctx, gw, func(s session.Session) error {
		d := s.Dialect()
		out, err := s.Exec(ctx, d.ArpCommand(ip.String()))
		if err != nil {
			return err
		}
		entries, err := d.ParseArp(out)
		if err != nil {
			return fmt.Errorf("parse arp on %s: %w", gw, err)
		}
		for _, e := range entries {
			if e.IP != ip.String() {
				continue
			}
			hw, err := util.ParseMAC(e.MAC)
			if err != nil {
				continue
			}
			res = &Resolution{
				Identifier: identifier,
				Mode:       ModeIP,
				MAC:        e.MAC,
				IP:         e.IP,
				Vendor:     Vendor(hw),
				Gateway:    gw.Name,
				Interface:  e.Interface,
			}
			return nil
		}
		return util.NewNotFoundError("ip", ip.String(), gw.String())
	})
	if err != nil {
		return nil, err
	}
	log.Infof("%s is at %s", ip, res.MAC)
	return res, nil
}

// Vendor returns the IEEE OUI registrant of hw, or "" when unknown.
func Vendor(hw net.HardwareAddr) string {
	if len(hw) < 3 {
		return ""
	}
	return macs.ValidMACPrefixMap[[3]byte{hw[0], hw[1], hw[2]}]
}
