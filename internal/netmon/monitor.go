// Package netmon provides the boolean connectivity signal the sync engine
// consumes. The probe monitor derives it from the remote health endpoint;
// the static monitor is for tests and forced-offline mode.
package netmon

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Monitor is a subscribable online/offline signal. Subscriptions are
// edge-triggered: a value is delivered only when the state changes.
type Monitor interface {
	Online() bool
	Subscribe() <-chan bool
	Unsubscribe(<-chan bool)
}

// broadcaster implements subscription bookkeeping shared by both monitors.
type broadcaster struct {
	mu     sync.Mutex
	online bool
	subs   map[chan bool]struct{}
}

func newBroadcaster(online bool) *broadcaster {
	return &broadcaster{
		online: online,
		subs:   make(map[chan bool]struct{}),
	}
}

// Online returns the last observed connectivity state.
func (b *broadcaster) Online() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.online
}

// Subscribe returns a channel receiving connectivity transitions. The
// channel holds only the latest transition; a slow reader sees the most
// recent state, never a stale one.
func (b *broadcaster) Subscribe() <-chan bool {
	ch := make(chan bool, 1)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscription.
func (b *broadcaster) Unsubscribe(ch <-chan bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		if sub == ch {
			delete(b.subs, sub)
			return
		}
	}
}

// set records a state change and notifies subscribers. No-op when the state
// is unchanged.
func (b *broadcaster) set(online bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.online == online {
		return
	}
	b.online = online

	for ch := range b.subs {
		// Latest transition wins; drain a stale value if the reader lagged.
		select {
		case ch <- online:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- online
		}
	}
}

// ProbeMonitor polls the remote health endpoint to derive connectivity.
type ProbeMonitor struct {
	*broadcaster
	url      string
	interval time.Duration
	client   *http.Client
}

// NewProbeMonitor creates a monitor probing healthURL every interval.
// The initial state is offline until the first probe succeeds.
func NewProbeMonitor(healthURL string, interval time.Duration, timeout time.Duration) *ProbeMonitor {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ProbeMonitor{
		broadcaster: newBroadcaster(false),
		url:         healthURL,
		interval:    interval,
		client:      &http.Client{Timeout: timeout},
	}
}

// Run starts the probe loop. Blocks until ctx is cancelled.
func (m *ProbeMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.set(m.probe(ctx))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			online := m.probe(ctx)
			if online != m.Online() {
				slog.Info("connectivity changed",
					"online", online,
					"component", "netmon",
				)
			}
			m.set(online)
		}
	}
}

func (m *ProbeMonitor) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url, nil)
	if err != nil {
		return false
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// StaticMonitor is a manually driven connectivity signal.
type StaticMonitor struct {
	*broadcaster
}

// NewStaticMonitor creates a monitor with a fixed initial state.
func NewStaticMonitor(online bool) *StaticMonitor {
	return &StaticMonitor{broadcaster: newBroadcaster(online)}
}

// SetOnline changes the state and notifies subscribers on transition.
func (m *StaticMonitor) SetOnline(online bool) {
	m.set(online)
}
