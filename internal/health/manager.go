// Package health runs periodic self checks: a status round trip against the
// responder's own listener, the installed content and host load.
package health

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/energizer-project/pingcache/internal/events"
	"github.com/energizer-project/pingcache/internal/motd"
	"github.com/energizer-project/pingcache/internal/network"
	"github.com/energizer-project/pingcache/internal/util"
)

const (
	// DefaultInterval is used when the configured interval is not positive.
	DefaultInterval = time.Minute
	probeTimeout    = 5 * time.Second

	cpuWarnPercent    = 90
	memoryWarnPercent = 90
)

// ContentSource reports which content generation is installed.
type ContentSource interface {
	Generation() int64
}

// ProbeFunc performs one status round trip.
type ProbeFunc func(ctx context.Context, addr string, protocolNumber int, timeout time.Duration) (network.ProbeResult, error)

// Options configure a Manager.
type Options struct {
	// ListenAddress is the status listener's bind address. Unspecified
	// hosts are probed on loopback.
	ListenAddress string
	Interval      time.Duration
	Content       ContentSource
	Bus           *events.EventBus
	Logger        zerolog.Logger
	// Probe defaults to network.Probe.
	Probe ProbeFunc
	// Usage defaults to util.GetUsage.
	Usage func() util.Usage
}

// Report is the outcome of one check round.
type Report struct {
	Healthy    bool          `json:"healthy"`
	CheckedAt  time.Time     `json:"checked_at"`
	Latency    time.Duration `json:"latency_ns"`
	Generation int64         `json:"generation"`
	Usage      util.Usage    `json:"usage"`
	Problems   []string      `json:"problems,omitempty"`
	Warnings   []string      `json:"warnings,omitempty"`
}

// Manager runs the health checks on a ticker.
type Manager struct {
	opts   Options
	target string
	last   atomic.Pointer[Report]
}

// NewManager creates a health check manager.
func NewManager(opts Options) *Manager {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Probe == nil {
		opts.Probe = network.Probe
	}
	if opts.Usage == nil {
		opts.Usage = util.GetUsage
	}
	return &Manager{opts: opts, target: ProbeAddress(opts.ListenAddress)}
}

// ProbeAddress turns a bind address into one that can be dialled.
func ProbeAddress(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

// Start checks once immediately, then every interval until ctx is
// cancelled.
func (m *Manager) Start(ctx context.Context) error {
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	m.opts.Logger.Info().
		Str("target", m.target).
		Dur("interval", m.opts.Interval).
		Msg("health check manager started")

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			m.opts.Logger.Info().Msg("health check manager stopped")
			return nil
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check runs one round, stores and publishes the report.
func (m *Manager) Check(ctx context.Context) Report {
	r := Report{CheckedAt: time.Now()}

	if m.opts.Content != nil {
		r.Generation = m.opts.Content.Generation()
		if r.Generation == 0 {
			r.Problems = append(r.Problems, "no content installed")
		}
	}

	result, err := m.opts.Probe(ctx, m.target, motd.MaximumProtocol, probeTimeout)
	switch {
	case err != nil:
		r.Problems = append(r.Problems, fmt.Sprintf("self probe failed: %v", err))
	case result.Pong:
		r.Latency = result.Latency
	}

	r.Usage = m.opts.Usage()
	if r.Usage.CPUPercent >= cpuWarnPercent {
		r.Warnings = append(r.Warnings, fmt.Sprintf("cpu at %.0f%%", r.Usage.CPUPercent))
	}
	if r.Usage.MemoryPercent >= memoryWarnPercent {
		r.Warnings = append(r.Warnings, fmt.Sprintf("memory at %.0f%%", r.Usage.MemoryPercent))
	}

	r.Healthy = len(r.Problems) == 0
	m.last.Store(&r)
	m.log(r)

	if m.opts.Bus != nil {
		payload := events.HealthPayload{
			Healthy: r.Healthy,
			Latency: r.Latency,
			CPU:     r.Usage.CPUPercent,
			Memory:  r.Usage.MemoryPercent,
		}
		if len(r.Problems) > 0 {
			payload.LastError = r.Problems[0]
		}
		m.opts.Bus.Emit(ctx, events.New(events.EventHealth, "health", payload))
	}
	return r
}

func (m *Manager) log(r Report) {
	if !r.Healthy {
		m.opts.Logger.Warn().Strs("problems", r.Problems).Msg("health check failed")
		return
	}
	if len(r.Warnings) > 0 {
		m.opts.Logger.Warn().Strs("warnings", r.Warnings).Msg("health check passed with warnings")
		return
	}
	m.opts.Logger.Debug().Dur("latency", r.Latency).Msg("health check passed")
}

// Last returns the most recent report and whether one exists.
func (m *Manager) Last() (Report, bool) {
	r := m.last.Load()
	if r == nil {
		return Report{}, false
	}
	return *r, true
}
