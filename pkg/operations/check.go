package operations

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vlanhop/vlanhop/pkg/session"
)

// Prober opens and closes a session, reporting the credential and timing.
// session.Broker is one.
type Prober interface {
	Probe(ctx context.Context, dev session.Device) (string, session.Timing, error)
}

// Reachability is one device's pre-flight result.
type Reachability struct {
	Device     string         `json:"device"`
	Host       string         `json:"host"`
	DeviceType string         `json:"device_type"`
	Reachable  bool           `json:"reachable"`
	Credential string         `json:"credential,omitempty"`
	Timing     session.Timing `json:"timing"`
	Elapsed    time.Duration  `json:"elapsed"`
	Error      string         `json:"error,omitempty"`
}

// CheckReachability probes every device with at most parallel sessions in
// flight. Results are sorted by device name.
func CheckReachability(ctx context.Context, p Prober, devices []session.Device, parallel int) []Reachability {
	if parallel < 1 {
		parallel = 1
	}
	results := make([]Reachability, len(devices))
	sem := make(chan struct{}, parallel)

	var wg sync.WaitGroup
	for i, dev := range devices {
		wg.Add(1)
		go func(i int, dev session.Device) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			start := time.Now()
			r := Reachability{Device: dev.Name, Host: dev.Host, DeviceType: dev.DeviceType}
			cred, timing, err := p.Probe(ctx, dev)
			r.Elapsed = time.Since(start)
			if err != nil {
				r.Error = err.Error()
			} else {
				r.Reachable, r.Credential, r.Timing = true, cred, timing
			}
			results[i] = r
		}(i, dev)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Device < results[j].Device })
	return results
}
