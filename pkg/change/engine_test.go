package change

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vlanhop/vlanhop/internal/testutil"
	"github.com/vlanhop/vlanhop/pkg/lock"
	"github.com/vlanhop/vlanhop/pkg/retry"
	"github.com/vlanhop/vlanhop/pkg/session"
	"github.com/vlanhop/vlanhop/pkg/util"
)

func testConfig() Config {
	return Config{
		ConfigRetry:     retry.Policy{MaxAttempts: 3, Delay: time.Millisecond},
		SaveRetry:       retry.Policy{MaxAttempts: 2, Delay: time.Millisecond},
		SaveTimeout:     time.Second,
		RollbackRetry:   retry.Policy{MaxAttempts: 2, Delay: time.Millisecond},
		RollbackTimeout: 5 * time.Second,
	}
}

func setup(deviceType string) (*testutil.FakeSwitch, *testutil.Network, *session.Broker) {
	sw := testutil.NewSwitch("edge1", deviceType, "10.0.0.11").
		AccessPort("Gi1/0/24", 10, 0).
		TrunkPort("Gi1/0/48")
	n := testutil.NewNetwork(sw)
	b := session.NewBroker(n, session.Config{
		Credentials:  []session.Credential{{Name: "primary", Username: "netops", Password: "pw"}},
		CommandRetry: retry.Once,
	})
	return sw, n, b
}

func request(n *testutil.Network, sw *testutil.FakeSwitch, access, voice int) Request {
	return Request{Device: n.Device(sw), Interface: "Gi1/0/24", AccessVLAN: access, VoiceVLAN: voice, Rollback: true}
}

func port(t *testing.T, sw *testutil.FakeSwitch) testutil.Port {
	t.Helper()
	p, ok := sw.Port("Gi1/0/24")
	require.True(t, ok)
	return p
}

func TestApply(t *testing.T) {
	sw, n, b := setup("cisco_ios")
	e := NewEngine(b, testConfig())

	res := e.Apply(context.Background(), request(n, sw, 100, 200))
	require.NoError(t, res.Err)
	assert.True(t, res.OK())
	assert.Equal(t, Saved, res.State)
	assert.True(t, res.Applied)
	assert.True(t, res.Verified)
	assert.True(t, res.Saved)
	assert.False(t, res.RolledBack)
	assert.Equal(t, 10, res.PreAccessVLAN)
	assert.Equal(t, 0, res.PreVoiceVLAN)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "primary", res.Credential)
	assert.Equal(t, []string{
		"interface GigabitEthernet1/0/24",
		"switchport mode access",
		"switchport access vlan 100",
		"switchport voice vlan 200",
	}, res.Commands)

	p := port(t, sw)
	assert.Equal(t, 100, p.AccessVLAN)
	assert.Equal(t, 200, p.VoiceVLAN)
	assert.Equal(t, 1, sw.Saves())
	assert.Equal(t, 1, sw.CommandCount("write memory"))
	assert.Equal(t, 1, sw.CommandCount("show vlan brief"))
	assert.Empty(t, res.Warnings)
}

func TestApply_NXOS(t *testing.T) {
	sw, n, b := setup("cisco_nxos")
	res := NewEngine(b, testConfig()).Apply(context.Background(), request(n, sw, 30, 0))
	require.NoError(t, res.Err)
	assert.Equal(t, 30, port(t, sw).AccessVLAN)
	assert.Equal(t, 1, sw.CommandCount("copy running-config startup-config"))
}

func TestApply_Idempotent(t *testing.T) {
	sw, n, b := setup("cisco_ios")
	e := NewEngine(b, testConfig())
	req := request(n, sw, 100, 200)

	first := e.Apply(context.Background(), req)
	require.NoError(t, first.Err)
	second := e.Apply(context.Background(), req)
	require.NoError(t, second.Err)

	assert.Equal(t, Saved, second.State)
	assert.Equal(t, 100, second.PreAccessVLAN)
	assert.Equal(t, 200, second.PreVoiceVLAN)
	p := port(t, sw)
	assert.Equal(t, 100, p.AccessVLAN)
	assert.Equal(t, 200, p.VoiceVLAN)
}

func TestApply_VoiceVLAN(t *testing.T) {
	sw, n, b := setup("cisco_ios")
	sw.AccessPort("Gi1/0/24", 10, 150)
	e := NewEngine(b, testConfig())

	res := e.Apply(context.Background(), request(n, sw, 20, 0))
	require.NoError(t, res.Err)
	assert.Equal(t, 150, res.PreVoiceVLAN)
	assert.Equal(t, 150, port(t, sw).VoiceVLAN)
	assert.NotContains(t, res.Commands, "no switchport voice vlan")

	req := request(n, sw, 20, 0)
	req.RemoveVoice = true
	res = e.Apply(context.Background(), req)
	require.NoError(t, res.Err)
	assert.Contains(t, res.Commands, "no switchport voice vlan")
	assert.Equal(t, 0, port(t, sw).VoiceVLAN)
}

func TestApply_TrunkRefused(t *testing.T) {
	sw, n, b := setup("cisco_ios")
	req := request(n, sw, 100, 0)
	req.Interface = "Gi1/0/48"

	res := NewEngine(b, testConfig()).Apply(context.Background(), req)
	assert.Equal(t, Failed, res.State)
	assert.ErrorIs(t, res.Err, util.ErrPreconditionFailed)
	assert.False(t, res.Applied)
	assert.False(t, res.RolledBack)
	assert.Zero(t, sw.CommandCount("configure terminal"))
}

func TestApply_UnknownInterface(t *testing.T) {
	sw, n, b := setup("cisco_ios")
	req := request(n, sw, 100, 0)
	req.Interface = "Gi1/0/99"

	res := NewEngine(b, testConfig()).Apply(context.Background(), req)
	assert.Equal(t, Failed, res.State)
	assert.ErrorIs(t, res.Err, util.ErrNotFound)
	assert.Zero(t, sw.CommandCount("configure terminal"))
}

func TestApply_VLANMissing(t *testing.T) {
	for _, deviceType := range []string{"cisco_ios", "cisco_nxos"} {
		t.Run(deviceType, func(t *testing.T) {
			for name, req := range map[string]func(*testutil.Network, *testutil.FakeSwitch) Request{
				"access": func(n *testutil.Network, sw *testutil.FakeSwitch) Request { return request(n, sw, 300, 0) },
				"voice":  func(n *testutil.Network, sw *testutil.FakeSwitch) Request { return request(n, sw, 100, 300) },
			} {
				t.Run(name, func(t *testing.T) {
					sw, n, b := setup(deviceType)
					sw.VLANs(10, 100, 200)

					res := NewEngine(b, testConfig()).Apply(context.Background(), req(n, sw))
					assert.Equal(t, Failed, res.State)
					assert.ErrorIs(t, res.Err, util.ErrConfigPush)
					var pe *util.ConfigPushError
					require.True(t, errors.As(res.Err, &pe))
					assert.Equal(t, "show vlan brief", pe.Command)
					assert.Contains(t, pe.Error(), "vlan 300 is not defined")

					assert.False(t, res.Applied)
					assert.False(t, res.RolledBack)
					assert.Zero(t, sw.CommandCount("configure terminal"))
					assert.False(t, sw.HasVLAN(300))
					p := port(t, sw)
					assert.Equal(t, 10, p.AccessVLAN)
					assert.Equal(t, 0, p.VoiceVLAN)
				})
			}
		})
	}
}

func TestApply_VLANCreatedByPushIsRejected(t *testing.T) {
	sw, n, b := setup("cisco_ios")
	// VLAN 100 disappears between the check and every push attempt.
	sw.Hook = func(cmd string) {
		if cmd == "interface GigabitEthernet1/0/24" {
			sw.VLANs(10)
		}
	}

	res := NewEngine(b, testConfig()).Apply(context.Background(), request(n, sw, 100, 0))
	assert.Equal(t, Failed, res.State)
	assert.Equal(t, 3, res.Attempts)
	var pe *util.ConfigPushError
	require.True(t, errors.As(res.Err, &pe))
	assert.Contains(t, pe.Error(), "Creating vlan 100")
	assert.True(t, res.RolledBack)
	assert.Equal(t, 10, port(t, sw).AccessVLAN)
	assert.Zero(t, sw.Saves())
}

func TestApply_LinkWarnings(t *testing.T) {
	for _, deviceType := range []string{"cisco_ios", "cisco_nxos"} {
		t.Run(deviceType, func(t *testing.T) {
			sw, n, b := setup(deviceType)
			sw.LinkState("Gi1/0/24", false, 5)

			res := NewEngine(b, testConfig()).Apply(context.Background(), request(n, sw, 100, 0))
			require.NoError(t, res.Err)
			assert.True(t, res.OK())
			assert.Contains(t, res.Warnings, "Gi1/0/24 line protocol is down")
			assert.Contains(t, res.Warnings, "Gi1/0/24 has 5 CRC errors")
			assert.Equal(t, 100, port(t, sw).AccessVLAN)
		})
	}
}

func TestApply_PushRetried(t *testing.T) {
	sw, n, b := setup("cisco_ios")
	sw.RejectAccessVLAN = 1

	res := NewEngine(b, testConfig()).Apply(context.Background(), request(n, sw, 100, 0))
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 100, port(t, sw).AccessVLAN)
}

func TestApply_PushFailsRolledBack(t *testing.T) {
	sw, n, b := setup("cisco_ios")
	sw.RejectAccessVLAN = 3

	res := NewEngine(b, testConfig()).Apply(context.Background(), request(n, sw, 100, 0))
	assert.Equal(t, Failed, res.State)
	assert.Equal(t, 3, res.Attempts)
	assert.ErrorIs(t, res.Err, util.ErrConfigPush)
	assert.False(t, res.Applied)
	assert.True(t, res.RolledBack)
	assert.NoError(t, res.RollbackErr)
	assert.Equal(t, 10, port(t, sw).AccessVLAN)
	assert.Zero(t, sw.Saves())
}

func TestApply_RollbackFailure(t *testing.T) {
	sw, n, b := setup("cisco_ios")
	sw.RejectAccessVLAN = 100

	res := NewEngine(b, testConfig()).Apply(context.Background(), request(n, sw, 100, 0))
	assert.Equal(t, Failed, res.State)
	assert.ErrorIs(t, res.Err, util.ErrConfigPush)
	assert.False(t, res.RolledBack)

	require.Error(t, res.RollbackErr)
	assert.ErrorIs(t, res.RollbackErr, util.ErrRollback)
	assert.NotErrorIs(t, res.RollbackErr, util.ErrConfigPush)
	var rf *util.RollbackFailure
	require.True(t, errors.As(res.RollbackErr, &rf))
	assert.Same(t, res.Err, rf.Original)
	assert.Equal(t, "Gi1/0/24", rf.Interface)
}

func TestApply_VerificationMismatch(t *testing.T) {
	sw, n, b := setup("cisco_ios")
	sw.IgnoreConfig = true

	res := NewEngine(b, testConfig()).Apply(context.Background(), request(n, sw, 100, 0))
	assert.Equal(t, Failed, res.State)
	assert.True(t, res.Applied)
	assert.False(t, res.Verified)
	assert.ErrorIs(t, res.Err, util.ErrVerification)
	var vm *util.VerificationMismatch
	require.True(t, errors.As(res.Err, &vm))
	require.Len(t, res.Verification, 1)
	assert.Equal(t, util.FieldMismatch{Field: "access_vlan", Expected: "100", Actual: "10"}, res.Verification[0])

	// The port never moved, so the restore reads back clean.
	assert.True(t, res.RolledBack)
	assert.Zero(t, sw.Saves())
}

func TestApply_NoRollback(t *testing.T) {
	sw, n, b := setup("cisco_ios")
	sw.IgnoreConfig = true
	req := request(n, sw, 100, 0)
	req.Rollback = false

	res := NewEngine(b, testConfig()).Apply(context.Background(), req)
	assert.ErrorIs(t, res.Err, util.ErrVerification)
	assert.False(t, res.RolledBack)
	assert.Equal(t, 1, sw.CommandCount("configure terminal"))
}

func TestApply_SaveRetried(t *testing.T) {
	sw, n, b := setup("cisco_ios")
	sw.FailSave = 1

	res := NewEngine(b, testConfig()).Apply(context.Background(), request(n, sw, 100, 0))
	require.NoError(t, res.Err)
	assert.Equal(t, 2, sw.CommandCount("write memory"))
	assert.Equal(t, 1, sw.Saves())
}

func TestApply_SaveFails(t *testing.T) {
	sw, n, b := setup("cisco_ios")
	sw.FailSave = 10

	res := NewEngine(b, testConfig()).Apply(context.Background(), request(n, sw, 100, 0))
	assert.Equal(t, Failed, res.State)
	assert.ErrorIs(t, res.Err, util.ErrConfigPush)
	var pe *util.ConfigPushError
	require.True(t, errors.As(res.Err, &pe))
	assert.Equal(t, "write memory", pe.Command)
	assert.True(t, res.Applied)
	assert.True(t, res.Verified)
	assert.False(t, res.Saved)
	assert.False(t, res.RolledBack)
	assert.Equal(t, 100, port(t, sw).AccessVLAN)
}

func TestApply_CancelledAfterPushRollsBack(t *testing.T) {
	sw, n, b := setup("cisco_ios")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sw.Hook = func(cmd string) {
		if cmd == "switchport access vlan 100" {
			cancel()
		}
	}

	res := NewEngine(b, testConfig()).Apply(ctx, request(n, sw, 100, 0))
	assert.Equal(t, Failed, res.State)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.True(t, res.Applied)
	assert.True(t, res.RolledBack)
	assert.NoError(t, res.RollbackErr)
	assert.Equal(t, 10, port(t, sw).AccessVLAN)
	assert.Zero(t, sw.Saves())
}

func TestApply_DeviceLocked(t *testing.T) {
	sw, n, b := setup("cisco_ios")
	l := lock.NewLocal()
	release, err := l.Acquire(context.Background(), "edge1")
	require.NoError(t, err)

	e := NewEngine(b, testConfig(), WithLocker(l))
	res := e.Apply(context.Background(), request(n, sw, 100, 0))
	assert.Equal(t, Failed, res.State)
	assert.ErrorIs(t, res.Err, util.ErrDeviceLocked)
	assert.Empty(t, n.Dials())

	require.NoError(t, release(context.Background()))
	res = e.Apply(context.Background(), request(n, sw, 100, 0))
	require.NoError(t, res.Err)

	// The engine gave its lock back.
	r2, err := l.Acquire(context.Background(), "edge1")
	require.NoError(t, err)
	require.NoError(t, r2(context.Background()))
}

func TestApply_Unreachable(t *testing.T) {
	sw, n, b := setup("cisco_ios")
	sw.Unreachable = true

	res := NewEngine(b, testConfig()).Apply(context.Background(), request(n, sw, 100, 0))
	assert.Equal(t, Failed, res.State)
	assert.ErrorIs(t, res.Err, util.ErrConnection)
	assert.False(t, res.RolledBack)
	assert.NoError(t, res.RollbackErr)
}

func TestApply_Invalid(t *testing.T) {
	sw, n, b := setup("cisco_ios")
	cfg := testConfig()
	cfg.AllowedVLANs = util.VLANSet{100, 101, 102}
	e := NewEngine(b, cfg)

	for name, req := range map[string]Request{
		"vlan range":    request(n, sw, 5000, 0),
		"not allowed":   request(n, sw, 300, 0),
		"voice clash":   request(n, sw, 100, 100),
		"no interface":  {Device: n.Device(sw), AccessVLAN: 100},
		"svi":           {Device: n.Device(sw), Interface: "Vlan100", AccessVLAN: 100},
		"voice removal": {Device: n.Device(sw), Interface: "Gi1/0/24", AccessVLAN: 100, VoiceVLAN: 101, RemoveVoice: true},
	} {
		t.Run(name, func(t *testing.T) {
			res := e.Apply(context.Background(), req)
			assert.Equal(t, Failed, res.State)
			assert.ErrorIs(t, res.Err, util.ErrValidationFailed)
		})
	}
	assert.Empty(t, n.Dials())
}

func TestRollback(t *testing.T) {
	sw, n, b := setup("cisco_ios")
	e := NewEngine(b, testConfig())
	res := e.Apply(context.Background(), request(n, sw, 100, 200))
	require.NoError(t, res.Err)

	ok, err := e.Rollbacker().Rollback(context.Background(), n.Device(sw), "Gi1/0/24", res.PreAccessVLAN, res.PreVoiceVLAN)
	require.NoError(t, err)
	assert.True(t, ok)
	p := port(t, sw)
	assert.Equal(t, 10, p.AccessVLAN)
	assert.Equal(t, 0, p.VoiceVLAN)

	require.NoError(t, e.Save(context.Background(), n.Device(sw)))
	assert.Equal(t, 2, sw.Saves())
}

func TestRollback_Failure(t *testing.T) {
	sw, n, b := setup("cisco_ios")
	sw.Unreachable = true

	ok, err := NewRollbacker(b, retry.Once, time.Second).Rollback(context.Background(), n.Device(sw), "Gi1/0/24", 10, 0)
	assert.False(t, ok)
	assert.ErrorIs(t, err, util.ErrRollback)
	var rf *util.RollbackFailure
	require.True(t, errors.As(err, &rf))
	assert.ErrorIs(t, rf.Err, util.ErrConnection)
}

func TestPlan(t *testing.T) {
	sw, n, b := setup("cisco_ios")
	e := NewEngine(b, testConfig())

	plan, err := e.Plan(context.Background(), request(n, sw, 100, 200))
	require.NoError(t, err)
	assert.Equal(t, 10, plan.Current.AccessVLAN)
	assert.Equal(t, 100, plan.AccessVLAN)
	assert.Equal(t, 200, plan.VoiceVLAN)
	assert.Equal(t, "write memory", plan.Save)
	assert.False(t, plan.NoOp())

	preview := plan.Preview()
	assert.Contains(t, preview, "Access VLAN: 10 -> 100")
	assert.Contains(t, preview, "Voice VLAN: none -> 200")
	assert.Contains(t, preview, "  switchport access vlan 100\n")
	assert.Zero(t, sw.CommandCount("configure terminal"))

	req := request(n, sw, 100, 0)
	req.Interface = "Gi1/0/48"
	_, err = e.Plan(context.Background(), req)
	assert.ErrorIs(t, err, util.ErrPreconditionFailed)

	plan, err = e.Plan(context.Background(), request(n, sw, 10, 0))
	require.NoError(t, err)
	assert.True(t, plan.NoOp())

	_, err = e.Plan(context.Background(), request(n, sw, 999, 0))
	assert.ErrorIs(t, err, util.ErrConfigPush)
	assert.Zero(t, sw.CommandCount("configure terminal"))
}

func TestResultJSON(t *testing.T) {
	sw, n, b := setup("cisco_ios")
	sw.IgnoreConfig = true
	res := NewEngine(b, testConfig()).Apply(context.Background(), request(n, sw, 100, 0))

	data, err := json.Marshal(res)
	require.NoError(t, err)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "failed", got["state"])
	assert.Equal(t, true, got["rolled_back"])
	assert.Contains(t, got["error"], "access_vlan expected 100")
	assert.NotContains(t, got, "rollback_error")
}

func TestState(t *testing.T) {
	assert.Equal(t, "verifying", Verifying.String())
	assert.True(t, Saved.Terminal())
	assert.False(t, Configuring.Terminal())
	var s State
	require.NoError(t, s.UnmarshalText([]byte("saved")))
	assert.Equal(t, Saved, s)
	assert.Error(t, s.UnmarshalText([]byte("bogus")))
}
