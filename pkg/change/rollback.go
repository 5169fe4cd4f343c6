package change

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vlanhop/vlanhop/pkg/dialect"
	"github.com/vlanhop/vlanhop/pkg/retry"
	"github.com/vlanhop/vlanhop/pkg/session"
	"github.com/vlanhop/vlanhop/pkg/util"
)

// Opener runs a function on a session to a device. session.Broker is one.
type Opener interface {
	With(ctx context.Context, dev session.Device, fn func(session.Session) error) error
}

// Rollbacker captures switchport state and restores it.
type Rollbacker struct {
	opener  Opener
	policy  retry.Policy
	timeout time.Duration
}

// NewRollbacker creates a Rollbacker. Each Rollback is bounded by timeout
// and retried under policy.
func NewRollbacker(opener Opener, policy retry.Policy, timeout time.Duration) *Rollbacker {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Rollbacker{opener: opener, policy: policy, timeout: timeout}
}

// Capture reads the port's current switchport state.
func (r *Rollbacker) Capture(ctx context.Context, s session.Session, intf string) (*dialect.Switchport, error) {
	return readSwitchport(ctx, s, intf)
}

// Rollback puts origAccess and origVoice back on the port and reads them
// back. origVoice 0 removes any voice VLAN. It reports whether the port was
// restored; a failure is a *util.RollbackFailure.
func (r *Rollbacker) Rollback(ctx context.Context, dev session.Device, intf string, origAccess, origVoice int) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	log := util.WithPort(dev.Name, intf)
	log.Warnf("rolling back to access vlan %d, voice vlan %s", origAccess, vlanText(origVoice))

	c := dialect.AccessChange{
		Interface:   intf,
		AccessVLAN:  origAccess,
		VoiceVLAN:   origVoice,
		RemoveVoice: origVoice == 0,
	}
	want := expected{accessVLAN: origAccess, voiceVLAN: origVoice}

	err := r.opener.With(ctx, dev, func(s session.Session) error {
		cmds := s.Dialect().AccessPortCommands(c)
		_, err := retry.Do(ctx, "rollback "+intf, r.policy.Scaled(s.Timing().Multiplier), restorable, func(int) error {
			if _, err := s.Configure(ctx, cmds); err != nil {
				return err
			}
			got, err := readSwitchport(ctx, s, intf)
			if err != nil {
				return err
			}
			if mm := compare(want, *got); len(mm) > 0 {
				return &util.VerificationMismatch{Device: dev.String(), Interface: intf, Mismatches: mm}
			}
			return nil
		})
		return err
	})
	if err != nil {
		log.Errorf("rollback failed: %v", err)
		return false, &util.RollbackFailure{Device: dev.String(), Interface: intf, Err: err}
	}
	log.Infof("rolled back")
	return true, nil
}

// restorable retries every rollback failure except cancellation.
func restorable(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func readSwitchport(ctx context.Context, s session.Session, intf string) (*dialect.Switchport, error) {
	d := s.Dialect()
	out, err := s.Exec(ctx, d.SwitchportCommand(intf))
	if err != nil {
		return nil, err
	}
	if err := d.CheckOutput(out); err != nil {
		return nil, util.NewNotFoundError("interface", intf, s.Device().String())
	}
	sp, err := d.ParseSwitchport(out)
	if err != nil {
		return nil, fmt.Errorf("reading %s on %s: %w", intf, s.Device(), err)
	}
	return sp, nil
}
