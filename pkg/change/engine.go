package change

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vlanhop/vlanhop/pkg/dialect"
	"github.com/vlanhop/vlanhop/pkg/lock"
	"github.com/vlanhop/vlanhop/pkg/retry"
	"github.com/vlanhop/vlanhop/pkg/session"
	"github.com/vlanhop/vlanhop/pkg/util"
)

// Config holds the engine's budgets. Retry delays are scaled per device by
// its measured timing.
type Config struct {
	ConfigRetry     retry.Policy
	SaveRetry       retry.Policy
	SaveTimeout     time.Duration
	RollbackRetry   retry.Policy
	RollbackTimeout time.Duration
	// AllowedVLANs, when non-empty, restricts assignable VLANs.
	AllowedVLANs util.VLANSet
}

// DefaultConfig returns the budgets used when the inventory sets none.
func DefaultConfig() Config {
	return Config{
		ConfigRetry:     retry.Policy{MaxAttempts: 3, Delay: 2 * time.Second, Increment: time.Second},
		SaveRetry:       retry.Policy{MaxAttempts: 3, Delay: 2 * time.Second, Increment: 2 * time.Second},
		SaveTimeout:     60 * time.Second,
		RollbackRetry:   retry.Policy{MaxAttempts: 2, Delay: time.Second},
		RollbackTimeout: 60 * time.Second,
	}
}

// Engine applies VLAN changes.
type Engine struct {
	opener Opener
	locker lock.Locker
	cfg    Config
	rb     *Rollbacker
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocker makes Apply hold the device lock from l for the whole change.
func WithLocker(l lock.Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// NewEngine creates an engine opening sessions through opener.
func NewEngine(opener Opener, cfg Config, opts ...Option) *Engine {
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = DefaultConfig().SaveTimeout
	}
	e := &Engine{
		opener: opener,
		locker: lock.Nop{},
		cfg:    cfg,
		rb:     NewRollbacker(opener, cfg.RollbackRetry, cfg.RollbackTimeout),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Rollbacker returns the engine's rollback controller.
func (e *Engine) Rollbacker() *Rollbacker { return e.rb }

// Apply runs one change to completion. It never panics on device errors;
// every failure is reported in the Result.
//
// A failure after the push started and before verification passed rolls
// the port back when req.Rollback is set, on a context detached from ctx so
// a cancelled caller still gets its port restored. A failed save is
// reported without rollback: the running configuration was verified.
func (e *Engine) Apply(ctx context.Context, req Request) *Result {
	res := &Result{Request: req, State: Idle}
	log := util.WithPort(req.Device.Name, req.Interface)

	if err := req.Validate(e.cfg.AllowedVLANs); err != nil {
		return res.fail(err)
	}

	res.State = Connecting
	release, err := e.locker.Acquire(ctx, req.Device.Name)
	if err != nil {
		return res.fail(err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warnf("releasing device lock: %v", err)
		}
	}()

	err = e.opener.With(ctx, req.Device, func(s session.Session) error {
		res.Credential = s.CredentialName()
		return e.run(ctx, s, req, res)
	})
	if err == nil {
		res.State = Saved
		log.Infof("access vlan %d -> %d saved", res.PreAccessVLAN, req.AccessVLAN)
		return res
	}

	stage := res.State
	res.fail(err)
	log.Errorf("change failed while %s: %v", stage, err)

	if (stage == Configuring || stage == Verifying) && !res.Verified && req.Rollback {
		ok, rerr := e.rb.Rollback(context.WithoutCancel(ctx), req.Device, req.Interface, res.PreAccessVLAN, res.PreVoiceVLAN)
		res.RolledBack = ok
		if rerr != nil {
			var rf *util.RollbackFailure
			if errors.As(rerr, &rf) {
				rf.Original = err
			}
			res.RollbackErr = rerr
		}
	}
	return res
}

func (e *Engine) run(ctx context.Context, s session.Session, req Request, res *Result) error {
	log := util.WithPort(req.Device.Name, req.Interface)
	d := s.Dialect()

	pre, err := e.rb.Capture(ctx, s, req.Interface)
	if err != nil {
		return err
	}
	res.PreAccessVLAN, res.PreVoiceVLAN = pre.AccessVLAN, pre.VoiceVLAN
	if err := refuseTrunk(req, pre); err != nil {
		return err
	}
	if err := requireVLANs(ctx, s, req); err != nil {
		return err
	}

	res.State = Configuring
	res.Commands = d.AccessPortCommands(req.access())
	log.Debugf("pushing %d commands", len(res.Commands))
	res.Attempts, err = retry.Do(ctx, "configure "+req.Interface, e.cfg.ConfigRetry.Scaled(s.Timing().Multiplier), nil,
		func(int) error {
			_, err := s.Configure(ctx, res.Commands)
			return err
		})
	if err != nil {
		return err
	}
	res.Applied = true

	res.State = Verifying
	got, err := readSwitchport(ctx, s, req.Interface)
	if err != nil {
		return err
	}
	if mm := compare(expectedAfter(req, *pre), *got); len(mm) > 0 {
		res.Verification = mm
		return &util.VerificationMismatch{Device: req.Device.String(), Interface: req.Interface, Mismatches: mm}
	}
	res.Verified = true

	if err := e.save(ctx, s); err != nil {
		return err
	}
	res.Saved = true

	res.Warnings = linkWarnings(ctx, s, req.Interface)
	for _, w := range res.Warnings {
		log.Warn(w)
	}
	return nil
}

// requireVLANs checks that every VLAN req assigns is defined on the device.
// Cisco switches create a missing VLAN instead of rejecting the port line.
func requireVLANs(ctx context.Context, s session.Session, req Request) error {
	d := s.Dialect()
	cmd := d.VLANCommand()
	out, err := s.Exec(ctx, cmd)
	if err != nil {
		return err
	}
	defined, err := d.ParseVLANs(out)
	if err != nil {
		return &util.ConfigPushError{Device: s.Device().String(), Command: cmd, Err: err}
	}
	for _, v := range []int{req.AccessVLAN, req.VoiceVLAN} {
		if v > 0 && !defined.Contains(v) {
			return &util.ConfigPushError{
				Device:  s.Device().String(),
				Command: cmd,
				Err:     fmt.Errorf("vlan %d is not defined", v),
			}
		}
	}
	return nil
}

// linkWarnings reads the port's line protocol and error counters. Nothing
// here fails the change: a port with no cable attached is a valid target.
func linkWarnings(ctx context.Context, s session.Session, intf string) []string {
	d := s.Dialect()
	out, err := s.Exec(ctx, d.InterfaceCommand(intf))
	if err == nil {
		err = d.CheckOutput(out)
	}
	var st *dialect.InterfaceStatus
	if err == nil {
		st, err = d.ParseInterface(out)
	}
	if err != nil {
		return []string{fmt.Sprintf("link status of %s unavailable: %v", intf, err)}
	}
	return st.Warnings()
}

// Save writes the running configuration of dev to startup.
func (e *Engine) Save(ctx context.Context, dev session.Device) error {
	return e.opener.With(ctx, dev, func(s session.Session) error {
		return e.save(ctx, s)
	})
}

func (e *Engine) save(ctx context.Context, s session.Session) error {
	d := s.Dialect()
	cmd := d.SaveCommand()
	_, err := retry.Do(ctx, "save "+s.Device().Name, e.cfg.SaveRetry.Scaled(s.Timing().Multiplier), nil,
		func(int) error {
			out, err := s.ExecOnce(ctx, cmd, e.cfg.SaveTimeout)
			if err != nil {
				return &util.ConfigPushError{Device: s.Device().String(), Command: cmd, Err: err}
			}
			if err := d.CheckSave(out); err != nil {
				return &util.ConfigPushError{Device: s.Device().String(), Command: cmd, Output: out, Err: err}
			}
			return nil
		})
	return err
}
