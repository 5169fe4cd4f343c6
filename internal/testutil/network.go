package testutil

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vlanhop/vlanhop/pkg/dialect"
	"github.com/vlanhop/vlanhop/pkg/session"
	"github.com/vlanhop/vlanhop/pkg/util"
)

// Network is a set of fake switches addressed by management IP. It
// implements session.Dialer.
type Network struct {
	mu       sync.Mutex
	switches map[string]*FakeSwitch
	dials    []string
}

var _ session.Dialer = (*Network)(nil)

// NewNetwork creates a network from switches.
func NewNetwork(switches ...*FakeSwitch) *Network {
	n := &Network{switches: make(map[string]*FakeSwitch)}
	for _, s := range switches {
		n.Add(s)
	}
	return n
}

// Add registers a switch under its address.
func (n *Network) Add(s *FakeSwitch) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.switches[s.Address] = s
}

// Device returns the inventory entry for a switch.
func (n *Network) Device(s *FakeSwitch) session.Device {
	return session.Device{Name: s.Hostname, Host: s.Address, DeviceType: s.DeviceType}
}

// Devices returns inventory entries for every switch, sorted by name.
func (n *Network) Devices() []session.Device {
	n.mu.Lock()
	defer n.mu.Unlock()
	var devs []session.Device
	for _, s := range n.switches {
		devs = append(devs, session.Device{Name: s.Hostname, Host: s.Address, DeviceType: s.DeviceType})
	}
	sort.Slice(devs, func(i, j int) bool { return devs[i].Name < devs[j].Name })
	return devs
}

// Dials returns "host/credential" for every dial attempt, in order.
func (n *Network) Dials() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.dials...)
}

// Dial implements session.Dialer.
func (n *Network) Dial(ctx context.Context, dev session.Device, cred session.Credential, timeout time.Duration) (session.Conn, error) {
	n.mu.Lock()
	n.dials = append(n.dials, dev.Host+"/"+cred.Name)
	s, ok := n.switches[dev.Host]
	n.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ok || s.Unreachable {
		return nil, fmt.Errorf("dial tcp %s: connect: connection refused", dev.Addr())
	}
	if len(s.Users) > 0 {
		if pw, ok := s.Users[cred.Username]; !ok || pw != cred.Password {
			return nil, errors.New("ssh: handshake failed: ssh: unable to authenticate, attempted methods [none password], no supported methods remain")
		}
	}
	cli := s.NewCLI()
	if !cli.Enable(enableSecret(cred)) {
		return nil, errors.New("enable: privileged mode refused")
	}
	return &Conn{sw: s, cli: cli}, nil
}

func enableSecret(cred session.Credential) string {
	if cred.EnableSecret != "" {
		return cred.EnableSecret
	}
	return cred.Password
}

// Conn is a session.Conn on a FakeSwitch.
type Conn struct {
	sw     *FakeSwitch
	cli    *CLI
	closed bool
}

// Exec implements session.Conn. Commands listed in the switch's Timeouts
// fail with util.ErrTimeout until their counter is spent.
func (c *Conn) Exec(ctx context.Context, cmd string, timeout time.Duration) (string, error) {
	if c.closed {
		return "", errors.New("session closed")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.sw.mu.Lock()
	if c.sw.Timeouts[cmd] > 0 {
		c.sw.Timeouts[cmd]--
		c.sw.commands = append(c.sw.commands, cmd)
		c.sw.mu.Unlock()
		return "", fmt.Errorf("no prompt after %v: %w", timeout, util.ErrTimeout)
	}
	c.sw.mu.Unlock()
	return c.cli.Run(cmd), nil
}

// Close implements session.Conn.
func (c *Conn) Close() error {
	c.closed = true
	return nil
}

// Link connects two switches with a trunk and CDP in both directions.
func Link(a *FakeSwitch, aPort string, b *FakeSwitch, bPort string) {
	a.TrunkPort(aPort)
	b.TrunkPort(bPort)
	a.Neighbor(aPort, neighborOf(b, bPort))
	b.Neighbor(bPort, neighborOf(a, aPort))
}

// LinkBundle connects two switches through port-channels whose members are
// paired in order.
func LinkBundle(a *FakeSwitch, aPo string, aMembers []string, b *FakeSwitch, bPo string, bMembers []string) {
	a.Bundle(aPo, aMembers...)
	b.Bundle(bPo, bMembers...)
	for i := range aMembers {
		if i >= len(bMembers) {
			break
		}
		a.Neighbor(aMembers[i], neighborOf(b, bMembers[i]))
		b.Neighbor(bMembers[i], neighborOf(a, aMembers[i]))
	}
}

func neighborOf(s *FakeSwitch, port string) dialect.CdpNeighbor {
	return dialect.CdpNeighbor{
		DeviceID:        s.Hostname + ".campus.local",
		Address:         s.Address,
		RemoteInterface: util.ShortInterfaceName(port),
		Platform:        s.Platform,
		Capabilities:    []string{"Router", "Switch", "IGMP"},
	}
}

// Phone adds an IP phone CDP neighbour on port.
func Phone(s *FakeSwitch, port, deviceID string) {
	s.Neighbor(port, dialect.CdpNeighbor{
		DeviceID:        deviceID,
		Address:         "10.0.200.50",
		RemoteInterface: "Port 1",
		Platform:        "Cisco IP Phone 8845",
		Capabilities:    []string{"Host", "Phone", "Two-port", "Mac", "Relay"},
	})
}
