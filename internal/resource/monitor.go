// Package resource samples host load so capture work can back off while
// the machine is busy or running low on battery.
package resource

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/process"
	"go.uber.org/zap"

	"github.com/snaptrail/snaptrail/internal/config"
)

// cpuMaxAge bounds how often the system CPU counters are read. Shorter
// spans make cpu.Percent(0) too noisy to act on.
const cpuMaxAge = 2 * time.Second

// Usage is one sample of this process.
type Usage struct {
	CPUPercent float64
	MemoryMB   float64
	Threads    int32
}

// Stats summarises the Usage samples taken by Record.
type Stats struct {
	Samples      int
	PeakCPU      float64
	AvgCPU       float64
	PeakMemoryMB float64
	AvgMemoryMB  float64
}

// Monitor answers whether captures should be skipped and how fast the
// tracker should poll.
type Monitor struct {
	cfg    config.ResourceConfig
	logger *zap.Logger

	systemCPU func() (float64, error)
	battery   func() (*Battery, error)
	self      func() (Usage, error)
	now       func() time.Time

	mu      sync.Mutex
	cpuAt   time.Time
	cpuLast float64

	statsMu  sync.Mutex
	samples  int
	peakCPU  float64
	peakMem  float64
	totalCPU float64
	totalMem float64
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

// New creates a Monitor for the current process.
func New(cfg config.ResourceConfig, opts ...Option) (*Monitor, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open own process")
	}
	// Percent(0) measures against the previous call, so prime it.
	_, _ = p.Percent(0)

	m := newMonitor(cfg, opts...)
	m.self = func() (Usage, error) { return processUsage(p) }
	m.logger.Info("resource monitor initialized",
		zap.Float64("screenshot_cpu_threshold", cfg.ScreenshotCPUThreshold),
		zap.Float64("throttle_cpu_threshold", cfg.ThrottleCPUThreshold),
		zap.Float64("battery_threshold", cfg.BatteryThreshold))
	return m, nil
}

func newMonitor(cfg config.ResourceConfig, opts ...Option) *Monitor {
	m := &Monitor{
		cfg:       cfg,
		logger:    zap.NewNop(),
		systemCPU: systemCPU,
		battery:   func() (*Battery, error) { return readBattery(powerSupplyDir) },
		self:      func() (Usage, error) { return Usage{}, nil },
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func systemCPU() (float64, error) {
	pct, err := cpu.Percent(0, false)
	if err != nil {
		return 0, errors.Wrap(err, "failed to read system cpu")
	}
	if len(pct) == 0 {
		return 0, errors.New("no cpu figures reported")
	}
	return pct[0], nil
}

func processUsage(p *process.Process) (Usage, error) {
	var u Usage
	pct, err := p.Percent(0)
	if err != nil {
		return u, errors.Wrap(err, "failed to read process cpu")
	}
	u.CPUPercent = pct

	mem, err := p.MemoryInfo()
	if err != nil {
		return u, errors.Wrap(err, "failed to read process memory")
	}
	u.MemoryMB = float64(mem.RSS) / (1024 * 1024)

	if n, err := p.NumThreads(); err == nil {
		u.Threads = n
	}
	return u, nil
}

// cpuLoad returns the system CPU percentage, reusing a reading younger
// than cpuMaxAge. Errors read as an idle machine.
func (m *Monitor) cpuLoad() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if !m.cpuAt.IsZero() && now.Sub(m.cpuAt) < cpuMaxAge {
		return m.cpuLast
	}
	pct, err := m.systemCPU()
	if err != nil {
		m.logger.Warn("failed to read cpu load", zap.Error(err))
		pct = 0
	}
	m.cpuAt, m.cpuLast = now, pct
	return pct
}

// ShouldSkipScreenshot reports whether a periodic capture should be
// skipped: system CPU above ScreenshotCPUThreshold, or a discharging
// battery below BatteryThreshold.
func (m *Monitor) ShouldSkipScreenshot() (string, bool) {
	if load := m.cpuLoad(); load > m.cfg.ScreenshotCPUThreshold {
		return fmt.Sprintf("cpu at %.0f%%", load), true
	}

	b, err := m.battery()
	if err != nil {
		m.logger.Warn("failed to read battery", zap.Error(err))
		return "", false
	}
	if b != nil && b.Discharging && b.Percent < m.cfg.BatteryThreshold {
		return fmt.Sprintf("battery at %.0f%%", b.Percent), true
	}
	return "", false
}

// PollInterval returns the tracker wait for the given idle time. Long idle
// stretches poll at IdlePollInterval and a busy host at
// ThrottledPollInterval; the result is never shorter than base.
func (m *Monitor) PollInterval(idleSeconds float64, base time.Duration) time.Duration {
	if idleSeconds > m.cfg.IdlePollAfter.Seconds() {
		return max(base, m.cfg.IdlePollInterval)
	}
	if m.cpuLoad() > m.cfg.ThrottleCPUThreshold {
		return max(base, m.cfg.ThrottledPollInterval)
	}
	return base
}

// Record samples this process and folds the sample into Stats.
func (m *Monitor) Record() (Usage, error) {
	u, err := m.self()
	if err != nil {
		return u, err
	}

	m.statsMu.Lock()
	m.samples++
	m.peakCPU = max(m.peakCPU, u.CPUPercent)
	m.peakMem = max(m.peakMem, u.MemoryMB)
	m.totalCPU += u.CPUPercent
	m.totalMem += u.MemoryMB
	m.statsMu.Unlock()

	m.logger.Debug("resource usage",
		zap.Float64("cpu_percent", u.CPUPercent),
		zap.Float64("memory_mb", u.MemoryMB),
		zap.Int32("threads", u.Threads))
	return u, nil
}

// Stats returns peak and average usage over all recorded samples.
func (m *Monitor) Stats() Stats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()

	st := Stats{Samples: m.samples, PeakCPU: m.peakCPU, PeakMemoryMB: m.peakMem}
	if m.samples > 0 {
		st.AvgCPU = m.totalCPU / float64(m.samples)
		st.AvgMemoryMB = m.totalMem / float64(m.samples)
	}
	return st
}

// Run records usage every MonitoringInterval until ctx is done, then logs
// the summary.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.MonitoringInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if st := m.Stats(); st.Samples > 0 {
				m.logger.Info("resource usage summary",
					zap.Int("samples", st.Samples),
					zap.Float64("peak_cpu", st.PeakCPU),
					zap.Float64("avg_cpu", st.AvgCPU),
					zap.Float64("peak_memory_mb", st.PeakMemoryMB),
					zap.Float64("avg_memory_mb", st.AvgMemoryMB))
			}
			return nil
		case <-ticker.C:
			if _, err := m.Record(); err != nil {
				m.logger.Warn("failed to sample resource usage", zap.Error(err))
			}
		}
	}
}
