package netmon

import (
	"context"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeLink is a probe target the test flips up and down. The probe counter
// lets tests wait until the monitor has actually observed a state.
type fakeLink struct {
	mu     sync.Mutex
	up     bool
	probes int
}

func (l *fakeLink) probe(ctx context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.probes++
	return l.up
}

func (l *fakeLink) set(up bool) {
	l.mu.Lock()
	l.up = up
	l.mu.Unlock()
}

func (l *fakeLink) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.probes
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

// waitProbes blocks until the monitor has run n more probes, so a state
// flipped beforehand is guaranteed observed.
func waitProbes(t *testing.T, l *fakeLink, n int) {
	t.Helper()
	base := l.count()
	waitFor(t, 2*time.Second, func() bool { return l.count() >= base+n }, "monitor stopped probing")
}

func startMonitor(t *testing.T, l *fakeLink, debounce time.Duration, fires *atomic.Int32) *Monitor {
	t.Helper()
	m := &Monitor{
		Probe:       l.probe,
		Interval:    2 * time.Millisecond,
		Debounce:    debounce,
		OnReachable: func() { fires.Add(1) },
		Logger:      log.New(io.Discard, "", 0),
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(m.Stop)
	return m
}

func TestMonitor_FiresOnRecovery(t *testing.T) {
	link := &fakeLink{}
	var fires atomic.Int32
	m := startMonitor(t, link, time.Nanosecond, &fires)

	waitProbes(t, link, 1)
	if m.Reachable() {
		t.Fatal("expected unreachable baseline")
	}

	link.set(true)
	waitFor(t, 2*time.Second, func() bool { return fires.Load() == 1 }, "recovery never fired")
	if !m.Reachable() {
		t.Error("expected reachable state after recovery")
	}

	// Staying reachable must not fire again.
	waitProbes(t, link, 3)
	if got := fires.Load(); got != 1 {
		t.Errorf("steady reachable state re-fired: %d calls", got)
	}
}

func TestMonitor_ReachableBaselineDoesNotFire(t *testing.T) {
	link := &fakeLink{up: true}
	var fires atomic.Int32
	m := startMonitor(t, link, time.Nanosecond, &fires)

	waitProbes(t, link, 3)
	if got := fires.Load(); got != 0 {
		t.Errorf("baseline fired %d times", got)
	}
	if !m.Reachable() {
		t.Error("expected reachable state")
	}
}

func TestMonitor_DebounceSwallowsFlapping(t *testing.T) {
	link := &fakeLink{}
	var fires atomic.Int32
	startMonitor(t, link, time.Hour, &fires)

	waitProbes(t, link, 1)
	link.set(true)
	waitFor(t, 2*time.Second, func() bool { return fires.Load() == 1 }, "first recovery never fired")

	// Flap down and back up inside the window: swallowed, not deferred.
	link.set(false)
	waitProbes(t, link, 2)
	link.set(true)
	waitProbes(t, link, 3)

	if got := fires.Load(); got != 1 {
		t.Errorf("flapping fired %d times, want 1", got)
	}
}

func TestMonitor_SeparateRecoveriesFire(t *testing.T) {
	link := &fakeLink{}
	var fires atomic.Int32
	startMonitor(t, link, time.Nanosecond, &fires)

	waitProbes(t, link, 1)
	link.set(true)
	waitFor(t, 2*time.Second, func() bool { return fires.Load() == 1 }, "first recovery never fired")

	link.set(false)
	waitProbes(t, link, 2)
	link.set(true)
	waitFor(t, 2*time.Second, func() bool { return fires.Load() == 2 }, "second recovery never fired")
}

func TestMonitor_StopHaltsProbing(t *testing.T) {
	link := &fakeLink{up: true}
	var fires atomic.Int32
	m := startMonitor(t, link, time.Nanosecond, &fires)

	waitProbes(t, link, 2)
	m.Stop()
	after := link.count()
	time.Sleep(20 * time.Millisecond)
	if link.count() != after {
		t.Error("monitor kept probing after Stop")
	}
	// Second Stop is a no-op.
	m.Stop()
}

func TestMonitor_RequiresProbe(t *testing.T) {
	m := &Monitor{}
	if err := m.Start(context.Background()); err == nil {
		t.Error("expected error for missing probe")
	}
}

func TestProbeAddr(t *testing.T) {
	cases := []struct {
		endpoint string
		want     string
		wantErr  bool
	}{
		{"libsql://study-db.turso.io", "study-db.turso.io:443", false},
		{"https://sync.example.com", "sync.example.com:443", false},
		{"wss://sync.example.com", "sync.example.com:443", false},
		{"http://localhost:8080", "localhost:8080", false},
		{"ws://relay.local", "relay.local:80", false},
		{"example.com:9000", "example.com:9000", false},
		{"", "", true},
		{"libsql://", "", true},
	}
	for _, tc := range cases {
		got, err := probeAddr(tc.endpoint)
		if tc.wantErr {
			if err == nil {
				t.Errorf("probeAddr(%q): expected error", tc.endpoint)
			}
			continue
		}
		if err != nil {
			t.Errorf("probeAddr(%q): %v", tc.endpoint, err)
			continue
		}
		if got != tc.want {
			t.Errorf("probeAddr(%q) = %q, want %q", tc.endpoint, got, tc.want)
		}
	}
}

func TestEndpointProbe_BadEndpointIsUnreachable(t *testing.T) {
	probe := EndpointProbe("")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if probe(ctx) {
		t.Error("empty endpoint should never be reachable")
	}
}
