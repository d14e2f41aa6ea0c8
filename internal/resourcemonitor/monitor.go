// Package resourcemonitor periodically samples host CPU/memory
// utilization via gopsutil and exposes an AdmissionGuard the Transcode
// Manager consults before starting a job, so a saturated host sheds load
// instead of piling on more concurrent encodes.
package resourcemonitor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// Monitor samples host resource usage on an interval and reports
// whether the host has headroom to admit another job.
type Monitor struct {
	cpuThreshold float64
	memThreshold float64
	interval     time.Duration
	logger       hclog.Logger

	saturated atomic.Bool
	lastCPU   atomic.Value // float64
	lastMem   atomic.Value // float64
}

// New creates a Monitor. cpuThreshold/memThreshold are percentages
// (0-100); sampling at or above either marks the host saturated until the
// next sample reports otherwise.
func New(cpuThreshold, memThreshold float64, interval time.Duration, logger hclog.Logger) *Monitor {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	m := &Monitor{
		cpuThreshold: cpuThreshold,
		memThreshold: memThreshold,
		interval:     interval,
		logger:       logger.Named("resourcemonitor"),
	}
	m.lastCPU.Store(0.0)
	m.lastMem.Store(0.0)
	return m
}

// Run samples on Monitor's interval until ctx is cancelled. Call it in
// its own goroutine.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample(ctx)
		}
	}
}

func (m *Monitor) sample(ctx context.Context) {
	cpuPercent := 0.0
	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		cpuPercent = percents[0]
	} else if err != nil {
		m.logger.Debug("sampling cpu failed", "error", err)
	}

	memPercent := 0.0
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		memPercent = vm.UsedPercent
	} else {
		m.logger.Debug("sampling memory failed", "error", err)
	}

	m.lastCPU.Store(cpuPercent)
	m.lastMem.Store(memPercent)

	saturated := cpuPercent >= m.cpuThreshold || memPercent >= m.memThreshold
	if saturated != m.saturated.Load() {
		m.logger.Info("admission state changed", "saturated", saturated, "cpu_percent", cpuPercent, "mem_percent", memPercent)
	}
	m.saturated.Store(saturated)
}

// Admit implements transcodemanager.AdmissionGuard.
func (m *Monitor) Admit() bool {
	return !m.saturated.Load()
}

// LastSample returns the most recently observed (cpuPercent, memPercent).
func (m *Monitor) LastSample() (float64, float64) {
	return m.lastCPU.Load().(float64), m.lastMem.Load().(float64)
}
