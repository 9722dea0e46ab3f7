// Package netmon watches connectivity to the sync backend and wakes the
// retry machinery when the network comes back.
//
// The monitor probes on a fixed interval and tracks the reachable state
// between probes. Only the unreachable-to-reachable edge fires the callback,
// and edges inside the debounce window are swallowed, so a flapping link
// cannot pile up concurrent retry sweeps.
package netmon

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultInterval between reachability probes.
	DefaultInterval = 30 * time.Second
	// DefaultDebounce suppresses repeat callbacks after a recovery.
	DefaultDebounce = 10 * time.Second
	// probeTimeout bounds a single dial attempt.
	probeTimeout = 5 * time.Second
)

// Monitor probes the backend and reports recovery transitions.
//
// Configure the exported fields before Start; they must not change after.
type Monitor struct {
	// Probe reports whether the backend is reachable right now.
	Probe func(ctx context.Context) bool

	// Interval is the time between probes. Zero means DefaultInterval.
	Interval time.Duration

	// Debounce is the minimum gap between OnReachable calls. A recovery
	// inside the window is swallowed, not deferred. Zero means
	// DefaultDebounce.
	Debounce time.Duration

	// OnReachable runs on each debounced unreachable-to-reachable
	// transition. Optional; without it the monitor only tracks state.
	OnReachable func()

	// Logger receives transition messages. Defaults to stderr.
	Logger *log.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	started   bool
	baselined bool
	reachable bool
	lastFire  time.Time
}

// Start begins probing. The first probe only establishes the baseline;
// callbacks fire on later transitions.
func (m *Monitor) Start(ctx context.Context) error {
	if m.Probe == nil {
		return fmt.Errorf("netmon: Probe is required")
	}
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("netmon: already started")
	}
	m.started = true
	m.mu.Unlock()

	if m.Interval <= 0 {
		m.Interval = DefaultInterval
	}
	if m.Debounce <= 0 {
		m.Debounce = DefaultDebounce
	}
	if m.Logger == nil {
		m.Logger = log.New(os.Stderr, "[netmon] ", log.LstdFlags)
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.loop(ctx)
	return nil
}

// Stop halts probing and waits for the loop to exit. A callback already in
// flight completes first.
func (m *Monitor) Stop() {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if !started {
		return
	}
	m.cancel()
	m.wg.Wait()
}

// Reachable reports the state observed by the most recent probe.
func (m *Monitor) Reachable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reachable
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	m.observe(m.probe(ctx))

	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.observe(m.probe(ctx))
		}
	}
}

func (m *Monitor) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return m.Probe(ctx)
}

func (m *Monitor) observe(up bool) {
	m.mu.Lock()
	was := m.reachable
	seen := m.baselined
	m.reachable = up
	m.baselined = true

	fire := false
	if seen && up && !was && time.Since(m.lastFire) >= m.Debounce {
		fire = true
		m.lastFire = time.Now()
	}
	m.mu.Unlock()

	if !seen {
		return
	}
	switch {
	case fire:
		m.Logger.Printf("Backend reachable again, waking queued retries")
		if m.OnReachable != nil {
			m.OnReachable()
		}
	case up && !was:
		m.Logger.Printf("Backend reachable again (inside debounce window)")
	case !up && was:
		m.Logger.Printf("WARNING: backend unreachable")
	}
}

// EndpointProbe returns a probe that dials the sync endpoint's host. It
// accepts the same URL the sync credentials carry.
func EndpointProbe(endpoint string) func(ctx context.Context) bool {
	addr, err := probeAddr(endpoint)
	return func(ctx context.Context) bool {
		if err != nil {
			return false
		}
		var d net.Dialer
		conn, derr := d.DialContext(ctx, "tcp", addr)
		if derr != nil {
			return false
		}
		_ = conn.Close()
		return true
	}
}

// probeAddr extracts a dialable host:port from a sync endpoint URL.
// Schemeless values are assumed to already be host:port.
func probeAddr(endpoint string) (string, error) {
	if endpoint == "" {
		return "", fmt.Errorf("empty endpoint")
	}
	if !strings.Contains(endpoint, "://") {
		return endpoint, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("endpoint %q has no host", endpoint)
	}
	if u.Port() != "" {
		return u.Host, nil
	}
	switch u.Scheme {
	case "http", "ws":
		return net.JoinHostPort(u.Hostname(), "80"), nil
	default:
		// libsql, https and wss all terminate on 443.
		return net.JoinHostPort(u.Hostname(), "443"), nil
	}
}
