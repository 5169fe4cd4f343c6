package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vlanhop/vlanhop/pkg/dialect"
	"github.com/vlanhop/vlanhop/pkg/retry"
	"github.com/vlanhop/vlanhop/pkg/util"
)

// Config holds the broker's credential sets and timing budget.
type Config struct {
	Credentials []Credential

	ConnectTimeout time.Duration
	ProbeTimeout   time.Duration
	// ReadTimeout is the base per-command timeout before scaling.
	ReadTimeout time.Duration

	// BaselineLatency is the probe round trip that maps to multiplier 1.
	BaselineLatency time.Duration
	MaxMultiplier   float64

	// CommandRetry applies to read-only commands.
	CommandRetry retry.Policy
}

// DefaultConfig returns the timing used when the inventory sets none.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:  15 * time.Second,
		ProbeTimeout:    10 * time.Second,
		ReadTimeout:     30 * time.Second,
		BaselineLatency: 250 * time.Millisecond,
		MaxMultiplier:   4,
		CommandRetry:    retry.Policy{MaxAttempts: 2, Delay: time.Second},
	}
}

// Broker hands out at most one Handle per host at a time.
type Broker struct {
	dialer Dialer
	cfg    Config
	now    func() time.Time

	mu    sync.Mutex
	slots map[string]chan struct{}
}

// Option configures a Broker.
type Option func(*Broker)

// WithClock replaces the clock used to measure probe latency.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) { b.now = now }
}

// NewBroker creates a broker over dialer.
func NewBroker(dialer Dialer, cfg Config, opts ...Option) *Broker {
	def := DefaultConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.BaselineLatency <= 0 {
		cfg.BaselineLatency = def.BaselineLatency
	}
	if cfg.MaxMultiplier < 1 {
		cfg.MaxMultiplier = def.MaxMultiplier
	}
	if cfg.CommandRetry.MaxAttempts < 1 {
		cfg.CommandRetry = def.CommandRetry
	}
	b := &Broker{
		dialer: dialer,
		cfg:    cfg,
		now:    time.Now,
		slots:  make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Broker) slot(dev Device) chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := dev.Addr()
	s, ok := b.slots[key]
	if !ok {
		s = make(chan struct{}, 1)
		b.slots[key] = s
	}
	return s
}

// Acquire opens a session on dev, waiting while another handle holds the
// same host. Credential sets are tried in order; the first one that logs
// in and answers the probe wins.
func (b *Broker) Acquire(ctx context.Context, dev Device) (*Handle, error) {
	dl, err := dialect.Lookup(dev.DeviceType)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", dev, err)
	}

	slot := b.slot(dev)
	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for %s: %w", dev, ctx.Err())
	}

	log := util.WithDevice(dev.String())
	cerr := &util.ConnectionError{Device: dev.String()}
	for _, cred := range b.cfg.Credentials {
		if err := ctx.Err(); err != nil {
			<-slot
			return nil, fmt.Errorf("connect %s: %w", dev, err)
		}
		h, err := b.open(ctx, dev, dl, cred)
		if err != nil {
			log.Debugf("credential %s failed: %v", cred.Name, err)
			cerr.Attempts = append(cerr.Attempts, util.CredentialFailure{Credential: cred.Name, Reason: err.Error()})
			continue
		}
		h.slot = slot
		log.Infof("connected with credential %s, latency %s", cred.Name, h.timing)
		return h, nil
	}

	<-slot
	return nil, cerr
}

func (b *Broker) open(ctx context.Context, dev Device, dl dialect.Dialect, cred Credential) (*Handle, error) {
	conn, err := b.dialer.Dial(ctx, dev, cred, b.cfg.ConnectTimeout)
	if err != nil {
		return nil, err
	}
	for _, cmd := range dl.SetupCommands() {
		if _, err := conn.Exec(ctx, cmd, b.cfg.ProbeTimeout); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%s: %w", cmd, err)
		}
	}

	start := b.now()
	if _, err := conn.Exec(ctx, dl.ProbeCommand(), b.cfg.ProbeTimeout); err != nil {
		conn.Close()
		return nil, fmt.Errorf("probe: %w", err)
	}
	latency := b.now().Sub(start)

	return &Handle{
		dev:      dev,
		cred:     cred.Name,
		conn:     conn,
		dialect:  dl,
		timing:   b.timing(latency),
		readBase: b.cfg.ReadTimeout,
		cmdRetry: b.cfg.CommandRetry,
	}, nil
}

// timing maps a probe latency to a multiplier clamped to [1, MaxMultiplier].
func (b *Broker) timing(latency time.Duration) Timing {
	m := float64(latency) / float64(b.cfg.BaselineLatency)
	if m < 1 {
		m = 1
	}
	if m > b.cfg.MaxMultiplier {
		m = b.cfg.MaxMultiplier
	}
	return Timing{Latency: latency, Multiplier: m}
}

// Release closes the handle's stream and frees its host. Releasing twice is
// a no-op.
func (b *Broker) Release(h *Handle) {
	if h == nil {
		return
	}
	h.release()
}

// With runs fn on a session to dev and always releases it.
func (b *Broker) With(ctx context.Context, dev Device, fn func(Session) error) error {
	h, err := b.Acquire(ctx, dev)
	if err != nil {
		return err
	}
	defer b.Release(h)
	return fn(h)
}

// Probe opens and immediately releases a session, reporting the credential
// used and the measured timing.
func (b *Broker) Probe(ctx context.Context, dev Device) (string, Timing, error) {
	h, err := b.Acquire(ctx, dev)
	if err != nil {
		return "", Timing{}, err
	}
	defer b.Release(h)
	return h.cred, h.timing, nil
}
