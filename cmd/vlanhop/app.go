package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/vlanhop/vlanhop/pkg/archive"
	"github.com/vlanhop/vlanhop/pkg/audit"
	"github.com/vlanhop/vlanhop/pkg/change"
	"github.com/vlanhop/vlanhop/pkg/inventory"
	"github.com/vlanhop/vlanhop/pkg/lock"
	"github.com/vlanhop/vlanhop/pkg/operations"
	"github.com/vlanhop/vlanhop/pkg/resolver"
	"github.com/vlanhop/vlanhop/pkg/session"
	"github.com/vlanhop/vlanhop/pkg/topology"
	"github.com/vlanhop/vlanhop/pkg/util"
)

// Exit statuses by failure kind.
const (
	exitFailure      = 1
	exitInvalid      = 2
	exitNotFound     = 3
	exitTopology     = 4
	exitConnection   = 5
	exitChange       = 6
	exitRollback     = 7
	exitDeviceLocked = 8
)

func exitCode(err error) int {
	switch {
	case errors.Is(err, util.ErrRollback):
		return exitRollback
	case errors.Is(err, util.ErrDeviceLocked):
		return exitDeviceLocked
	case errors.Is(err, util.ErrConfigPush), errors.Is(err, util.ErrVerification):
		return exitChange
	case errors.Is(err, util.ErrConnection):
		return exitConnection
	case errors.Is(err, util.ErrTopology):
		return exitTopology
	case errors.Is(err, util.ErrNotFound):
		return exitNotFound
	case errors.Is(err, util.ErrValidationFailed), errors.Is(err, util.ErrPreconditionFailed):
		return exitInvalid
	}
	return exitFailure
}

// stack is the set of components one command runs against.
type stack struct {
	inv     *inventory.Inventory
	broker  *session.Broker
	runner  *operations.Runner
	closers []func() error
}

func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			util.Debugf("close: %v", err)
		}
	}
}

// loadBroker reads the inventory and credentials and builds the session
// broker over SSH.
func (a *App) loadBroker() (*stack, error) {
	inv, err := inventory.Load(a.inventoryPath)
	if err != nil {
		return nil, err
	}
	creds, err := inv.LoadCredentials(os.Getenv)
	if err != nil {
		return nil, err
	}
	dialer := &session.SSHDialer{
		KnownHostsFile:   inv.SSH.KnownHosts,
		LegacyAlgorithms: inv.SSH.LegacyAlgorithms,
	}
	return &stack{inv: inv, broker: session.NewBroker(dialer, inv.SessionConfig(creds))}, nil
}

// load builds the full stack: broker, resolver, walker, change engine with
// its device lock, audit log, and archive.
func (a *App) load(ctx context.Context) (*stack, error) {
	st, err := a.loadBroker()
	if err != nil {
		return nil, err
	}
	inv := st.inv
	user := a.settings.GetUser()

	var locker lock.Locker = lock.NewLocal()
	if inv.Lock.Redis != "" {
		rl, client, err := lock.Dial(ctx, inv.Lock.Redis, inv.Lock.DB, inv.Lock.TTL, user)
		if err != nil {
			return nil, fmt.Errorf("device lock: %w", err)
		}
		st.closers = append(st.closers, client.Close)
		locker = rl
	}

	var auditLog audit.Logger = audit.Nop{}
	fl, err := audit.NewFileLogger(a.settings.GetAuditLog(), audit.RotationConfig{
		MaxSize:    10 * 1024 * 1024,
		MaxBackups: 10,
	})
	if err != nil {
		util.Warnf("Could not initialize audit logging: %v", err)
	} else {
		auditLog = fl
		st.closers = append(st.closers, fl.Close)
	}

	var archiver archive.Archiver
	if ac := inv.Archive; ac.Host != "" {
		archiver = archive.NewSFTPArchiver(archive.Config{
			Host:       ac.Host,
			Username:   os.Getenv(ac.UsernameEnv),
			Password:   os.Getenv(ac.PasswordEnv),
			Dir:        ac.Dir,
			KnownHosts: ac.KnownHosts,
			Timeout:    inv.Timing.ConnectTimeout,
		})
	}

	seeds := inv.SeedDevices()
	st.runner = &operations.Runner{
		Resolver: resolver.New(st.broker, inv.GatewayList(), seeds),
		Walker:   topology.NewWalker(st.broker, inv.DeviceList(), inv.Walk.MaxHops),
		Engine:   change.NewEngine(st.broker, inv.ChangeConfig(), change.WithLocker(locker)),
		Seeds:    seeds,
		Lookup: func(name string) (session.Device, bool) {
			d, err := inv.Device(name)
			return d, err == nil
		},
		Audit:    auditLog,
		Archiver: archiver,
		User:     user,
	}
	return st, nil
}
