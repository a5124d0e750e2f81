// Package netstate tracks server reachability and publishes online/offline
// transitions on the event bus.
package netstate

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/iudanet/jobsync/internal/client/events"
)

// ProbeFunc checks connectivity; a nil error means the server is reachable.
type ProbeFunc func(ctx context.Context) error

// Default probe settings
const (
	DefaultInterval = 15 * time.Second
	DefaultTimeout  = 5 * time.Second
)

const (
	stateUnknown int32 = iota
	stateOnline
	stateOffline
)

// Monitor runs the probe periodically. Only transitions are published, so
// subscribers see one event per change of state.
type Monitor struct {
	probe      ProbeFunc
	bus        *events.Bus
	logger     *slog.Logger
	loopCtx    context.Context
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	interval   time.Duration
	timeout    time.Duration
	state      atomic.Int32
	running    atomic.Bool
}

// NewMonitor creates a monitor. Non-positive interval or timeout fall back to
// the defaults.
func NewMonitor(probe ProbeFunc, bus *events.Bus, interval, timeout time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		probe:      probe,
		bus:        bus,
		logger:     logger,
		loopCtx:    ctx,
		loopCancel: cancel,
		loopDone:   make(chan struct{}),
		interval:   interval,
		timeout:    timeout,
	}
}

// Online reports the last known state. The server is assumed reachable until
// a failed health check or ReportFailure says otherwise.
func (m *Monitor) Online() bool {
	return m.state.Load() != stateOffline
}

// Check probes once and publishes a transition if the state changed.
func (m *Monitor) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.probe(ctx)
	online := err == nil
	m.Set(online)

	if err != nil {
		m.logger.Debug("Connectivity probe failed", "error", err)
	}
	return online
}

// Set records an externally observed state, e.g. a request that failed with
// a network error.
func (m *Monitor) Set(online bool) {
	next := stateOffline
	if online {
		next = stateOnline
	}

	prev := m.state.Swap(next)
	if prev == next {
		return
	}

	kind := events.Offline
	if online {
		kind = events.Online
	}
	// Первый результат пробы "онлайн" не считается восстановлением связи
	if prev == stateUnknown && online {
		return
	}

	m.logger.Info("Connectivity changed", "online", online)
	m.bus.Publish(events.Event{Kind: kind, Source: "netstate"})
}

// ReportFailure marks the server offline after a request failed without
// reaching it. The next successful Check brings the state back online.
func (m *Monitor) ReportFailure(err error) {
	m.logger.Debug("Request failed in transport", "error", err)
	m.Set(false)
}

// Run starts the probe loop in the background
func (m *Monitor) Run() {
	m.running.Store(true)
	go m.loop()
}

func (m *Monitor) loop() {
	defer close(m.loopDone)

	m.Check(m.loopCtx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.loopCtx.Done():
			return
		case <-ticker.C:
			m.Check(m.loopCtx)
		}
	}
}

// Close stops the loop and waits for it to exit
func (m *Monitor) Close() {
	if !m.running.Load() {
		return
	}
	m.loopCancel()
	<-m.loopDone
}
