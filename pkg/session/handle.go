package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vlanhop/vlanhop/pkg/dialect"
	"github.com/vlanhop/vlanhop/pkg/retry"
	"github.com/vlanhop/vlanhop/pkg/util"
)

// Handle is an acquired session. It is not safe for concurrent use; one
// command is in flight at a time.
type Handle struct {
	dev      Device
	cred     string
	conn     Conn
	dialect  dialect.Dialect
	timing   Timing
	readBase time.Duration
	cmdRetry retry.Policy

	slot chan struct{}
	once sync.Once
}

var _ Session = (*Handle)(nil)

func (h *Handle) Device() Device           { return h.dev }
func (h *Handle) Dialect() dialect.Dialect { return h.dialect }
func (h *Handle) Timing() Timing           { return h.timing }
func (h *Handle) CredentialName() string   { return h.cred }

func (h *Handle) release() {
	h.once.Do(func() {
		if err := h.conn.Close(); err != nil {
			util.WithDevice(h.dev.String()).Debugf("close: %v", err)
		}
		if h.slot != nil {
			<-h.slot
		}
	})
}

// Exec implements Session.
func (h *Handle) Exec(ctx context.Context, cmd string) (string, error) {
	var out string
	policy := h.cmdRetry.Scaled(h.timing.Multiplier)
	_, err := retry.Do(ctx, h.dev.String()+": "+cmd, policy, nil, func(int) error {
		o, err := h.conn.Exec(ctx, cmd, h.timing.Scale(h.readBase))
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%s: %s: %w", h.dev, cmd, err)
	}
	return out, nil
}

// ExecOnce implements Session.
func (h *Handle) ExecOnce(ctx context.Context, cmd string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = h.readBase
	}
	return h.conn.Exec(ctx, cmd, h.timing.Scale(timeout))
}

// Configure implements Session. Rejections are *util.ConfigPushError.
func (h *Handle) Configure(ctx context.Context, cmds []string) (string, error) {
	var transcript strings.Builder
	timeout := h.timing.Scale(h.readBase)

	if _, err := h.conn.Exec(ctx, "configure terminal", timeout); err != nil {
		return "", &util.ConfigPushError{Device: h.dev.String(), Command: "configure terminal", Err: err}
	}
	defer func() {
		if _, err := h.conn.Exec(context.WithoutCancel(ctx), "end", timeout); err != nil {
			util.WithDevice(h.dev.String()).Warnf("leaving configuration mode: %v", err)
		}
	}()

	for _, cmd := range cmds {
		out, err := h.conn.Exec(ctx, cmd, timeout)
		transcript.WriteString(cmd + "\n")
		if out != "" {
			transcript.WriteString(out + "\n")
		}
		if err != nil {
			return transcript.String(), &util.ConfigPushError{Device: h.dev.String(), Command: cmd, Err: err}
		}
		if err := h.dialect.CheckOutput(out); err != nil {
			return transcript.String(), &util.ConfigPushError{Device: h.dev.String(), Command: cmd, Output: out}
		}
	}
	return transcript.String(), nil
}
