// Package lock serialises VLAN changes per device across processes.
package lock

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vlanhop/vlanhop/pkg/util"
)

// Release gives a lock back.
type Release func(ctx context.Context) error

// Locker grants exclusive change rights on a device. Acquire returns
// util.ErrDeviceLocked when another holder has it.
type Locker interface {
	Acquire(ctx context.Context, device string) (Release, error)
}

// Nop grants every request.
type Nop struct{}

func (Nop) Acquire(context.Context, string) (Release, error) {
	return func(context.Context) error { return nil }, nil
}

// Local locks devices within one process.
type Local struct {
	mu   sync.Mutex
	held map[string]string
}

// NewLocal creates an in-process locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]string)}
}

func (l *Local) Acquire(_ context.Context, device string) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.held[device]; ok {
		return nil, fmt.Errorf("%s held by %s: %w", device, h, util.ErrDeviceLocked)
	}
	holder := NewHolder("local")
	l.held[device] = holder
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[device] == holder {
			delete(l.held, device)
		}
		return nil
	}, nil
}

// NewHolder builds a holder identity: "<owner>@<host>/<uuid>".
func NewHolder(owner string) string {
	host, _ := os.Hostname()
	if host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s@%s/%s", owner, host, uuid.NewString())
}

// Info describes a held lock.
type Info struct {
	Holder   string
	Acquired time.Time
	TTL      time.Duration
}
