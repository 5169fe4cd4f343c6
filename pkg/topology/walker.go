package topology

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vlanhop/vlanhop/pkg/dialect"
	"github.com/vlanhop/vlanhop/pkg/session"
	"github.com/vlanhop/vlanhop/pkg/util"
)

// DefaultMaxHops bounds a walk when the inventory sets no limit.
const DefaultMaxHops = 8

// Opener runs a function on a session to a device. session.Broker is one.
type Opener interface {
	With(ctx context.Context, dev session.Device, fn func(session.Session) error) error
}

// Walker locates hosts. It is safe for concurrent use; each walk opens its
// own sessions and holds at most one at a time.
type Walker struct {
	opener  Opener
	maxHops int
	byName  map[string]session.Device
	byAddr  map[string]session.Device
}

// NewWalker creates a walker that maps CDP neighbours onto devices.
func NewWalker(opener Opener, devices []session.Device, maxHops int) *Walker {
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	w := &Walker{
		opener:  opener,
		maxHops: maxHops,
		byName:  make(map[string]session.Device),
		byAddr:  make(map[string]session.Device),
	}
	for _, d := range devices {
		w.byName[util.ShortHostname(d.Name)] = d
		w.byAddr[d.Host] = d
	}
	return w
}

// visit is what one device contributed to the walk.
type visit struct {
	found    bool
	hop      Hop
	next     *dialect.CdpNeighbor
	warnings []string
	// stuck is set when the MAC was found but the walk cannot go on from
	// here; it becomes a TopologyError once the hop is on the path.
	stuck string
}

// parseError marks output a reachable device returned that could not be
// parsed. It is never a reason to try another seed.
type parseError struct {
	what string
	err  error
}

func (e *parseError) Error() string { return "parse " + e.what + ": " + e.err.Error() }
func (e *parseError) Unwrap() error { return e.err }

// Locate walks from the first seed whose MAC table holds mac to the access
// port behind it. Seeds that cannot be reached are skipped with a warning;
// once a seed holds the MAC the walk never falls back to another seed.
func (w *Walker) Locate(ctx context.Context, mac string, seeds []session.Device) (*Path, error) {
	mac, err := util.NormalizeMAC(mac)
	if err != nil {
		return nil, err
	}
	if len(seeds) == 0 {
		return nil, fmt.Errorf("locate %s: no seed devices", mac)
	}

	path := &Path{MAC: mac}
	log := util.WithField("mac", mac)

	var (
		start    session.Device
		first    *visit
		seedErrs []error
	)
	for _, seed := range seeds {
		v, err := w.visit(ctx, seed, mac)
		if err != nil {
			var pe *parseError
			if ctx.Err() != nil || errors.As(err, &pe) {
				return nil, err
			}
			log.Warnf("seed %s skipped: %v", seed, err)
			path.warn("seed %s unreachable: %v", seed, err)
			seedErrs = append(seedErrs, err)
			continue
		}
		if v.found {
			start, first = seed, v
			break
		}
		log.Debugf("seed %s has no entry", seed)
	}
	if first == nil {
		if len(seedErrs) == len(seeds) {
			return nil, fmt.Errorf("locate %s: every seed failed: %w", mac, errors.Join(seedErrs...))
		}
		return nil, util.NewNotFoundError("mac", mac, "")
	}

	visited := map[string]bool{}
	dev, v := start, first
	for {
		visited[dev.Addr()] = true
		path.Hops = append(path.Hops, v.hop)
		path.Warnings = append(path.Warnings, v.warnings...)
		log.Debugf("hop %d: %s", len(path.Hops), v.hop)

		if v.stuck != "" {
			return nil, w.topologyError(mac, dev, v.stuck, path)
		}
		if v.next == nil {
			log.Infof("located at %s", v.hop)
			return path, nil
		}

		nextDev, warn, err := w.neighborDevice(dev, *v.next)
		if err != nil {
			return nil, w.topologyError(mac, dev, err.Error(), path)
		}
		if warn != "" {
			path.warn("%s", warn)
		}
		if visited[nextDev.Addr()] {
			return nil, w.topologyError(mac, nextDev, "loop detected, device already visited", path)
		}
		if len(path.Hops) >= w.maxHops {
			return nil, w.topologyError(mac, nextDev, fmt.Sprintf("hop limit %d reached", w.maxHops), path)
		}

		path.Hops[len(path.Hops)-1].NeighborInterface = v.next.RemoteInterface
		dev = nextDev
		v, err = w.visit(ctx, dev, mac)
		if err != nil {
			return nil, err
		}
		if !v.found {
			return nil, w.topologyError(mac, dev, "mac not in address table", path)
		}
	}
}

func (w *Walker) topologyError(mac string, dev session.Device, reason string, path *Path) error {
	hops := make([]string, len(path.Hops))
	for i, h := range path.Hops {
		hops[i] = h.String()
	}
	return &util.TopologyError{MAC: mac, Device: dev.String(), Reason: reason, Path: hops}
}

// neighborDevice maps a CDP neighbour onto an inventory device, by hostname
// first and then by advertised address. An unknown neighbour with an
// address is reached with the current device's type.
func (w *Walker) neighborDevice(cur session.Device, n dialect.CdpNeighbor) (session.Device, string, error) {
	if d, ok := w.byName[n.Hostname()]; ok {
		return d, "", nil
	}
	if d, ok := w.byAddr[n.Address]; ok && n.Address != "" {
		return d, "", nil
	}
	if n.Address == "" {
		return session.Device{}, "", fmt.Errorf("neighbour %s on %s is not in the inventory and advertises no address", n.DeviceID, n.LocalInterface)
	}
	d := session.Device{Name: n.Hostname(), Host: n.Address, Port: cur.Port, DeviceType: cur.DeviceType}
	return d, fmt.Sprintf("neighbour %s not in inventory, using CDP address %s as %s", n.DeviceID, n.Address, cur.DeviceType), nil
}

// visit runs the per-device part of the walk on one session.
func (w *Walker) visit(ctx context.Context, dev session.Device, mac string) (*visit, error) {
	v := &visit{}
	err := w.opener.With(ctx, dev, func(s session.Session) error {
		d := s.Dialect()

		out, err := s.Exec(ctx, d.MacTableCommand(mac))
		if err != nil {
			return err
		}
		entries, err := d.ParseMacTable(out)
		if err != nil {
			return &parseError{"mac table", err}
		}
		entry, ok := pickEntry(entries, mac)
		if !ok {
			return nil
		}
		v.found = true
		v.hop = Hop{
			Device:     dev.Name,
			Host:       dev.Host,
			DeviceType: dev.DeviceType,
			Interface:  entry.Interface,
			VLAN:       entry.VLAN,
		}

		if util.IsPortChannel(entry.Interface) {
			return w.followBundle(ctx, s, v)
		}

		out, err = s.Exec(ctx, d.SwitchportCommand(entry.Interface))
		if err != nil {
			return err
		}
		sp, err := d.ParseSwitchport(out)
		if err != nil {
			return &parseError{"switchport " + entry.Interface, err}
		}
		if !sp.IsTrunk() {
			return nil
		}

		ns, err := w.neighbors(ctx, s, entry.Interface)
		if err != nil {
			return err
		}
		if len(ns) == 0 {
			v.stuck = fmt.Sprintf("trunk %s has no CDP neighbour", entry.Interface)
			return nil
		}
		w.chooseNeighbor(v, dev, entry.Interface, ns)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// followBundle asks CDP on each member of the port-channel, in order, and
// continues through the first member with a neighbour. A bundle with no
// members or no neighbour on any member is unresolvable.
func (w *Walker) followBundle(ctx context.Context, s session.Session, v *visit) error {
	d := s.Dialect()
	out, err := s.Exec(ctx, d.PortChannelCommand())
	if err != nil {
		return err
	}
	pcs, err := d.ParsePortChannels(out)
	if err != nil {
		return &parseError{"port-channels", err}
	}
	var members []string
	for _, pc := range pcs {
		if util.SameInterface(pc.Name, v.hop.Interface) {
			members = pc.Members
			break
		}
	}
	if len(members) == 0 {
		v.stuck = fmt.Sprintf("port-channel %s unresolvable: no members", v.hop.Interface)
		return nil
	}

	for _, m := range members {
		ns, err := w.neighbors(ctx, s, m)
		if err != nil {
			return err
		}
		if len(ns) == 0 {
			continue
		}
		v.hop.Member = m
		w.chooseNeighbor(v, s.Device(), m, ns)
		return nil
	}
	v.stuck = fmt.Sprintf("port-channel %s unresolvable: no CDP neighbour on members %s",
		v.hop.Interface, strings.Join(members, ", "))
	return nil
}

func (w *Walker) neighbors(ctx context.Context, s session.Session, intf string) ([]dialect.CdpNeighbor, error) {
	d := s.Dialect()
	out, err := s.Exec(ctx, d.CdpCommand(intf))
	if err != nil {
		return nil, err
	}
	ns, err := d.ParseCdp(out)
	if err != nil {
		return nil, &parseError{"cdp on " + intf, err}
	}
	return ns, nil
}

// chooseNeighbor takes the first neighbour. A neighbour that does not
// forward frames ends the walk at this interface.
func (w *Walker) chooseNeighbor(v *visit, dev session.Device, intf string, ns []dialect.CdpNeighbor) {
	if len(ns) > 1 {
		ids := make([]string, len(ns))
		for i, n := range ns {
			ids[i] = n.DeviceID
		}
		v.warnings = append(v.warnings, fmt.Sprintf("%s %s: %d CDP neighbours (%s), following %s",
			dev, intf, len(ns), strings.Join(ids, ", "), ns[0].DeviceID))
	}
	n := ns[0]
	if !n.IsSwitch() {
		v.warnings = append(v.warnings, fmt.Sprintf("%s %s: neighbour %s (%s) is not a switch, treating as the edge",
			dev, intf, n.DeviceID, n.Platform))
		return
	}
	v.next = &n
}

// pickEntry returns the first entry for mac on a physical or bundle port.
func pickEntry(entries []dialect.MacTableEntry, mac string) (dialect.MacTableEntry, bool) {
	for _, e := range entries {
		if e.MAC != mac || util.IsSVI(e.Interface) || strings.EqualFold(e.Interface, "CPU") {
			continue
		}
		return e, true
	}
	return dialect.MacTableEntry{}, false
}
