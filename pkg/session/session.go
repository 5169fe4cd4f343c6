// Package session owns every CLI session vlanhop opens. A Broker hands out
// one Handle per device at a time, trying credential sets in order and
// measuring the device's latency so later timeouts scale to it.
package session

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/vlanhop/vlanhop/pkg/dialect"
)

// Credential is one named login. Only Name is ever logged or reported.
type Credential struct {
	Name         string
	Username     string
	Password     string
	EnableSecret string
}

// String returns the credential name so a stray %v never prints secrets.
func (c Credential) String() string { return c.Name }

// Device identifies a switch reachable over SSH.
type Device struct {
	Name       string `json:"name" yaml:"name"`
	Host       string `json:"host" yaml:"host"`
	Port       int    `json:"port,omitempty" yaml:"port,omitempty"`
	DeviceType string `json:"device_type" yaml:"device_type"`
}

// Addr returns host:port, defaulting to port 22.
func (d Device) Addr() string {
	port := d.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(d.Host, strconv.Itoa(port))
}

func (d Device) String() string {
	if d.Name != "" {
		return d.Name
	}
	return d.Host
}

// Timing is the per-device latency profile measured by the probe.
type Timing struct {
	Latency    time.Duration `json:"latency"`
	Multiplier float64       `json:"multiplier"`
}

// Scale stretches a base timeout by the device multiplier.
func (t Timing) Scale(d time.Duration) time.Duration {
	if t.Multiplier <= 1 {
		return d
	}
	return time.Duration(float64(d) * t.Multiplier)
}

func (t Timing) String() string {
	return fmt.Sprintf("%v (x%.1f)", t.Latency.Round(time.Millisecond), t.Multiplier)
}

// Conn is one open CLI stream positioned at the privileged prompt.
type Conn interface {
	// Exec sends one command line and returns its output without the echo
	// and trailing prompt. A timeout leaves the stream resynchronised to
	// the prompt before returning an error wrapping util.ErrTimeout.
	Exec(ctx context.Context, cmd string, timeout time.Duration) (string, error)
	Close() error
}

// Dialer opens a Conn to a device with one credential set.
type Dialer interface {
	Dial(ctx context.Context, dev Device, cred Credential, timeout time.Duration) (Conn, error)
}

// Session is the view of an acquired device given to callers.
type Session interface {
	Device() Device
	Dialect() dialect.Dialect
	Timing() Timing
	// CredentialName is the credential set that opened the session.
	CredentialName() string

	// Exec runs a read-only command under the broker's command retry
	// policy.
	Exec(ctx context.Context, cmd string) (string, error)
	// ExecOnce runs a command once with base timeout scaled by Timing.
	ExecOnce(ctx context.Context, cmd string, timeout time.Duration) (string, error)
	// Configure enters configuration mode, sends cmds, and always leaves
	// configuration mode. The first rejected line stops the push.
	Configure(ctx context.Context, cmds []string) (string, error)
}
