package topology

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vlanhop/vlanhop/internal/testutil"
	"github.com/vlanhop/vlanhop/pkg/dialect"
	"github.com/vlanhop/vlanhop/pkg/retry"
	"github.com/vlanhop/vlanhop/pkg/session"
	"github.com/vlanhop/vlanhop/pkg/util"
)

const host = "001a.2b3c.4d5e"

func newBroker(n *testutil.Network) *session.Broker {
	return session.NewBroker(n, session.Config{
		Credentials:  []session.Credential{{Name: "primary", Username: "netops", Password: "pw"}},
		CommandRetry: retry.Once,
	})
}

// campus builds core Gi1/0/1 <-> edge1 Gi1/0/48 with the host on edge1 Gi1/0/24.
func campus() (*testutil.Network, *testutil.FakeSwitch, *testutil.FakeSwitch) {
	core := testutil.NewSwitch("core", "cisco_ios", "10.0.0.1")
	edge := testutil.NewSwitch("edge1", "cisco_ios", "10.0.0.11").
		AccessPort("Gi1/0/24", 10, 0)
	testutil.Link(core, "Gi1/0/1", edge, "Gi1/0/48")
	core.LearnMAC(host, 10, "Gi1/0/1")
	edge.LearnMAC(host, 10, "Gi1/0/24")
	return testutil.NewNetwork(core, edge), core, edge
}

func topoErr(t *testing.T, err error) *util.TopologyError {
	t.Helper()
	require.Error(t, err)
	var te *util.TopologyError
	require.True(t, errors.As(err, &te), "want *TopologyError, got %T: %v", err, err)
	assert.ErrorIs(t, err, util.ErrTopology)
	return te
}

func TestLocate_TwoHops(t *testing.T) {
	n, core, _ := campus()
	w := NewWalker(newBroker(n), n.Devices(), 0)

	path, err := w.Locate(context.Background(), "00:1A:2B:3C:4D:5E", []session.Device{n.Device(core)})
	require.NoError(t, err)

	require.Len(t, path.Hops, 2)
	assert.Equal(t, "core", path.Hops[0].Device)
	assert.Equal(t, "Gi1/0/1", path.Hops[0].Interface)
	assert.Equal(t, "Gi1/0/48", path.Hops[0].NeighborInterface)
	assert.Equal(t, "edge1", path.Hops[1].Device)
	assert.Equal(t, "Gi1/0/24", path.Hops[1].Interface)
	assert.Equal(t, 10, path.Hops[1].VLAN)
	assert.Empty(t, path.Hops[1].NeighborInterface)
	assert.Equal(t, "edge1 Gi1/0/24", path.Edge().String())
	assert.Equal(t, []string{"core", "edge1"}, path.Devices())
	assert.Equal(t, host, path.MAC)
	assert.Empty(t, path.Warnings)
}

func TestLocate_HostOnSeed(t *testing.T) {
	core := testutil.NewSwitch("core", "cisco_ios", "10.0.0.1").
		AccessPort("Gi1/0/5", 20, 0).
		LearnMAC(host, 20, "Gi1/0/5")
	n := testutil.NewNetwork(core)

	path, err := NewWalker(newBroker(n), n.Devices(), 0).
		Locate(context.Background(), host, []session.Device{n.Device(core)})
	require.NoError(t, err)
	require.Len(t, path.Hops, 1)
	assert.Equal(t, "Gi1/0/5", path.Edge().Interface)
	assert.NotContains(t, core.Commands(), "show cdp neighbors GigabitEthernet1/0/5 detail")
}

func TestLocate_PortChannel(t *testing.T) {
	core := testutil.NewSwitch("core", "cisco_ios", "10.0.0.1")
	dist := testutil.NewSwitch("dist1", "cisco_nxos", "10.0.0.2").
		AccessPort("Eth1/10", 30, 0)
	testutil.LinkBundle(core, "Po1", []string{"Te1/1/1", "Te1/1/2"}, dist, "Po10", []string{"Eth1/49", "Eth1/50"})
	core.LearnMAC(host, 30, "Po1")
	dist.LearnMAC(host, 30, "Eth1/10")
	n := testutil.NewNetwork(core, dist)

	path, err := NewWalker(newBroker(n), n.Devices(), 0).
		Locate(context.Background(), host, []session.Device{n.Device(core)})
	require.NoError(t, err)
	require.Len(t, path.Hops, 2)
	assert.Equal(t, "Po1", path.Hops[0].Interface)
	assert.Equal(t, "Te1/1/1", path.Hops[0].Member)
	assert.Equal(t, "Eth1/49", path.Hops[0].NeighborInterface)
	assert.Equal(t, "dist1", path.Hops[1].Device)
	assert.Equal(t, "Eth1/10", path.Hops[1].Interface)
	assert.Contains(t, core.Commands(), "show etherchannel summary")
	assert.Contains(t, dist.Commands(), "show interface Ethernet1/10 switchport")
}

func TestLocate_PortChannelSkipsSilentMember(t *testing.T) {
	core := testutil.NewSwitch("core", "cisco_ios", "10.0.0.1").
		Bundle("Po1", "Te1/1/1", "Te1/1/2")
	edge := testutil.NewSwitch("edge1", "cisco_ios", "10.0.0.11").
		AccessPort("Gi1/0/24", 10, 0).
		LearnMAC(host, 10, "Gi1/0/24")
	core.Neighbor("Te1/1/2", dialect.CdpNeighbor{
		DeviceID: "edge1", Address: "10.0.0.11", RemoteInterface: "Te1/1/4",
		Capabilities: []string{"Switch"},
	})
	core.LearnMAC(host, 10, "Po1")
	n := testutil.NewNetwork(core, edge)

	path, err := NewWalker(newBroker(n), n.Devices(), 0).
		Locate(context.Background(), host, []session.Device{n.Device(core)})
	require.NoError(t, err)
	assert.Equal(t, "Te1/1/2", path.Hops[0].Member)
	assert.Equal(t, "edge1", path.Edge().Device)
}

func TestLocate_Loop(t *testing.T) {
	core := testutil.NewSwitch("core", "cisco_ios", "10.0.0.1")
	edge := testutil.NewSwitch("edge1", "cisco_ios", "10.0.0.11")
	testutil.Link(core, "Gi1/0/1", edge, "Gi1/0/48")
	core.LearnMAC(host, 10, "Gi1/0/1")
	edge.LearnMAC(host, 10, "Gi1/0/48")
	n := testutil.NewNetwork(core, edge)

	_, err := NewWalker(newBroker(n), n.Devices(), 0).
		Locate(context.Background(), host, []session.Device{n.Device(core)})
	te := topoErr(t, err)
	assert.Contains(t, te.Reason, "loop")
	assert.Equal(t, []string{"core Gi1/0/1", "edge1 Gi1/0/48"}, te.Path)
}

func TestLocate_HopLimit(t *testing.T) {
	a := testutil.NewSwitch("a", "cisco_ios", "10.0.0.1")
	b := testutil.NewSwitch("b", "cisco_ios", "10.0.0.2")
	c := testutil.NewSwitch("c", "cisco_ios", "10.0.0.3")
	d := testutil.NewSwitch("d", "cisco_ios", "10.0.0.4").AccessPort("Gi1/0/1", 10, 0)
	testutil.Link(a, "Gi1/0/48", b, "Gi1/0/47")
	testutil.Link(b, "Gi1/0/48", c, "Gi1/0/47")
	testutil.Link(c, "Gi1/0/48", d, "Gi1/0/47")
	a.LearnMAC(host, 10, "Gi1/0/48")
	b.LearnMAC(host, 10, "Gi1/0/48")
	c.LearnMAC(host, 10, "Gi1/0/48")
	d.LearnMAC(host, 10, "Gi1/0/1")
	n := testutil.NewNetwork(a, b, c, d)
	seeds := []session.Device{n.Device(a)}

	_, err := NewWalker(newBroker(n), n.Devices(), 2).Locate(context.Background(), host, seeds)
	te := topoErr(t, err)
	assert.Contains(t, te.Reason, "hop limit 2")
	assert.Len(t, te.Path, 2)
	assert.Empty(t, c.Commands())

	path, err := NewWalker(newBroker(n), n.Devices(), 4).Locate(context.Background(), host, seeds)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, path.Devices())
}

func TestLocate_AmbiguousNeighbors(t *testing.T) {
	n, core, _ := campus()
	core.Neighbor("Gi1/0/1", dialect.CdpNeighbor{
		DeviceID: "rogue", Address: "10.9.9.9", RemoteInterface: "Gi0/1",
		Capabilities: []string{"Switch"},
	})

	path, err := NewWalker(newBroker(n), n.Devices(), 0).
		Locate(context.Background(), host, []session.Device{n.Device(core)})
	require.NoError(t, err)
	assert.Equal(t, "edge1", path.Edge().Device)
	require.Len(t, path.Warnings, 1)
	assert.Contains(t, path.Warnings[0], "2 CDP neighbours")
}

func TestLocate_PhoneOnTrunkEndsWalk(t *testing.T) {
	edge := testutil.NewSwitch("edge1", "cisco_ios", "10.0.0.11").
		TrunkPort("Gi1/0/7").
		LearnMAC(host, 10, "Gi1/0/7")
	testutil.Phone(edge, "Gi1/0/7", "SEP001A2B3C4D5E")
	n := testutil.NewNetwork(edge)

	path, err := NewWalker(newBroker(n), n.Devices(), 0).
		Locate(context.Background(), host, []session.Device{n.Device(edge)})
	require.NoError(t, err)
	require.Len(t, path.Hops, 1)
	assert.Equal(t, "Gi1/0/7", path.Edge().Interface)
	require.Len(t, path.Warnings, 1)
	assert.Contains(t, path.Warnings[0], "not a switch")
}

func TestLocate_TrunkWithoutNeighbor(t *testing.T) {
	t.Run("on the seed", func(t *testing.T) {
		core := testutil.NewSwitch("core", "cisco_ios", "10.0.0.1").
			TrunkPort("Gi1/0/1").
			LearnMAC(host, 10, "Gi1/0/1")
		n := testutil.NewNetwork(core)

		_, err := NewWalker(newBroker(n), n.Devices(), 0).
			Locate(context.Background(), host, []session.Device{n.Device(core)})
		te := topoErr(t, err)
		assert.Equal(t, "trunk Gi1/0/1 has no CDP neighbour", te.Reason)
		assert.Equal(t, []string{"core Gi1/0/1"}, te.Path)
	})

	t.Run("downstream", func(t *testing.T) {
		n, core, edge := campus()
		edge.TrunkPort("Gi1/0/2").LearnMAC("0011.2233.4455", 10, "Gi1/0/2")
		core.LearnMAC("0011.2233.4455", 10, "Gi1/0/1")

		_, err := NewWalker(newBroker(n), n.Devices(), 0).
			Locate(context.Background(), "0011.2233.4455", []session.Device{n.Device(core)})
		te := topoErr(t, err)
		assert.Contains(t, te.Reason, "no CDP neighbour")
		assert.Contains(t, te.Device, "edge1")
		assert.Equal(t, []string{"core Gi1/0/1", "edge1 Gi1/0/2"}, te.Path)
	})
}

func TestLocate_SeedHoldingMACIsFinal(t *testing.T) {
	// The first seed learns the MAC on a dead-end trunk; the second seed
	// could reach the host but must not be consulted.
	n, core, _ := campus()
	stub := testutil.NewSwitch("stub", "cisco_ios", "10.0.0.50").
		TrunkPort("Gi1/0/9").
		LearnMAC(host, 10, "Gi1/0/9")
	n.Add(stub)

	_, err := NewWalker(newBroker(n), n.Devices(), 0).
		Locate(context.Background(), host, []session.Device{n.Device(stub), n.Device(core)})
	te := topoErr(t, err)
	assert.Contains(t, te.Device, "stub")
	assert.Empty(t, core.Commands())

	// Gi1/0/7 is not a port on garbled, so its switchport read cannot be parsed.
	garbled := testutil.NewSwitch("garbled", "cisco_ios", "10.0.0.51").
		LearnMAC(host, 10, "Gi1/0/7")
	n.Add(garbled)
	_, err = NewWalker(newBroker(n), n.Devices(), 0).
		Locate(context.Background(), host, []session.Device{n.Device(garbled), n.Device(core)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse switchport Gi1/0/7")
	assert.NotErrorIs(t, err, util.ErrNotFound)
	assert.Empty(t, core.Commands())
}

func TestLocate_PortChannelUnresolvable(t *testing.T) {
	t.Run("no neighbour on any member", func(t *testing.T) {
		core := testutil.NewSwitch("core", "cisco_ios", "10.0.0.1").
			Bundle("Po1", "Te1/1/1", "Te1/1/2").
			LearnMAC(host, 10, "Po1")
		n := testutil.NewNetwork(core)

		path, err := NewWalker(newBroker(n), n.Devices(), 0).
			Locate(context.Background(), host, []session.Device{n.Device(core)})
		assert.Nil(t, path)
		te := topoErr(t, err)
		assert.Contains(t, te.Reason, "port-channel Po1 unresolvable")
		assert.Contains(t, te.Reason, "Te1/1/1, Te1/1/2")
		assert.Equal(t, []string{"core Po1"}, te.Path)
		assert.Contains(t, core.Commands(), "show cdp neighbors TenGigabitEthernet1/1/2 detail")
	})

	t.Run("no members", func(t *testing.T) {
		core := testutil.NewSwitch("core", "cisco_ios", "10.0.0.1").
			LearnMAC(host, 10, "Po7")
		n := testutil.NewNetwork(core)

		_, err := NewWalker(newBroker(n), n.Devices(), 0).
			Locate(context.Background(), host, []session.Device{n.Device(core)})
		te := topoErr(t, err)
		assert.Equal(t, "port-channel Po7 unresolvable: no members", te.Reason)
	})
}

func TestLocate_MACMissingDownstream(t *testing.T) {
	core := testutil.NewSwitch("core", "cisco_ios", "10.0.0.1")
	edge := testutil.NewSwitch("edge1", "cisco_ios", "10.0.0.11")
	testutil.Link(core, "Gi1/0/1", edge, "Gi1/0/48")
	core.LearnMAC(host, 10, "Gi1/0/1")
	n := testutil.NewNetwork(core, edge)

	_, err := NewWalker(newBroker(n), n.Devices(), 0).
		Locate(context.Background(), host, []session.Device{n.Device(core)})
	te := topoErr(t, err)
	assert.Equal(t, "mac not in address table", te.Reason)
	assert.Contains(t, te.Device, "edge1")
}

func TestLocate_NeighborOutsideInventory(t *testing.T) {
	n, core, _ := campus()
	// Only core is in the inventory; edge1 is reached by its CDP address.
	path, err := NewWalker(newBroker(n), []session.Device{n.Device(core)}, 0).
		Locate(context.Background(), host, []session.Device{n.Device(core)})
	require.NoError(t, err)
	assert.Equal(t, "edge1", path.Edge().Device)
	assert.Equal(t, "10.0.0.11", path.Edge().Host)
	require.Len(t, path.Warnings, 1)
	assert.Contains(t, path.Warnings[0], "not in inventory")
}

func TestLocate_Seeds(t *testing.T) {
	n, core, _ := campus()
	down := testutil.NewSwitch("down", "cisco_ios", "10.0.0.99")
	down.Unreachable = true
	empty := testutil.NewSwitch("empty", "cisco_ios", "10.0.0.98")
	n.Add(down)
	n.Add(empty)
	w := NewWalker(newBroker(n), n.Devices(), 0)
	ctx := context.Background()

	t.Run("unreachable skipped", func(t *testing.T) {
		path, err := w.Locate(ctx, host, []session.Device{n.Device(down), n.Device(empty), n.Device(core)})
		require.NoError(t, err)
		assert.Equal(t, "edge1", path.Edge().Device)
		require.Len(t, path.Warnings, 1)
		assert.Contains(t, path.Warnings[0], "down")
	})

	t.Run("not learned anywhere", func(t *testing.T) {
		_, err := w.Locate(ctx, "0011.2233.4455", []session.Device{n.Device(empty), n.Device(core)})
		assert.ErrorIs(t, err, util.ErrNotFound)
	})

	t.Run("every seed down", func(t *testing.T) {
		_, err := w.Locate(ctx, host, []session.Device{n.Device(down)})
		require.Error(t, err)
		assert.ErrorIs(t, err, util.ErrConnection)
		assert.NotErrorIs(t, err, util.ErrNotFound)
	})

	t.Run("no seeds", func(t *testing.T) {
		_, err := w.Locate(ctx, host, nil)
		assert.Error(t, err)
	})

	t.Run("bad mac", func(t *testing.T) {
		_, err := w.Locate(ctx, "not-a-mac", []session.Device{n.Device(core)})
		assert.Error(t, err)
	})
}
