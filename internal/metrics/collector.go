/*
 * Package metrics reports local host resources for the farm client.
 *
 * The client does no evaluation itself, so these numbers are informational:
 * a startup status line, periodic debug samples while a session runs, and
 * the default depth of the shared task queue (one slot per logical core).
 */
package metrics

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/ZerkerEOD/permfarm/pkg/console"
	"github.com/ZerkerEOD/permfarm/pkg/debug"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
)

// HostMetrics holds one sample of local resource usage
type HostMetrics struct {
	LogicalCores int
	CPUUsage     float64
	MemoryUsage  float64
	MemoryTotal  uint64
}

// Collector samples host metrics
type Collector struct {
	interval     time.Duration
	sampleWindow time.Duration
}

// Config defines the configuration for the metrics collector
type Config struct {
	// CollectionInterval is the period of Watch
	CollectionInterval time.Duration
	// SampleWindow is how long CPU usage is measured for each sample
	SampleWindow time.Duration
}

// New creates a new metrics collector
func New(config Config) (*Collector, error) {
	interval := config.CollectionInterval
	if interval == 0 {
		interval = 30 * time.Second
	}
	window := config.SampleWindow
	if window == 0 {
		window = time.Second
	}
	if interval < 0 || window < 0 {
		return nil, fmt.Errorf("metrics intervals must not be negative")
	}

	return &Collector{
		interval:     interval,
		sampleWindow: window,
	}, nil
}

// Collect gathers current host metrics. Individual probe failures are logged
// and leave the corresponding field at zero.
func (c *Collector) Collect() *HostMetrics {
	metrics := &HostMetrics{LogicalCores: LogicalCores()}

	if err := c.collectCPUMetrics(metrics); err != nil {
		debug.Error("Failed to collect CPU metrics: %v", err)
	}
	if err := c.collectMemoryMetrics(metrics); err != nil {
		debug.Error("Failed to collect memory metrics: %v", err)
	}

	return metrics
}

func (c *Collector) collectCPUMetrics(metrics *HostMetrics) error {
	percentage, err := cpu.Percent(c.sampleWindow, false)
	if err != nil {
		return fmt.Errorf("failed to get CPU usage: %w", err)
	}

	if len(percentage) > 0 {
		metrics.CPUUsage = percentage[0]
	}
	return nil
}

func (c *Collector) collectMemoryMetrics(metrics *HostMetrics) error {
	vmem, err := mem.VirtualMemory()
	if err != nil {
		return fmt.Errorf("failed to get memory info: %w", err)
	}

	metrics.MemoryUsage = vmem.UsedPercent
	metrics.MemoryTotal = vmem.Total
	return nil
}

// Watch samples every collection interval and hands each sample to report
// until ctx is cancelled.
func (c *Collector) Watch(ctx context.Context, report func(*HostMetrics)) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report(c.Collect())
		}
	}
}

// GetInterval returns the collection interval
func (c *Collector) GetInterval() time.Duration {
	return c.interval
}

// LogicalCores returns the number of logical CPUs, falling back to the Go
// runtime's count when gopsutil cannot tell.
func LogicalCores() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		if err != nil {
			debug.Debug("cpu.Counts failed, using runtime.NumCPU: %v", err)
		}
		return runtime.NumCPU()
	}
	return n
}

// DefaultQueueDepth resolves a configured task queue depth, where 0 means
// one slot per logical core.
func DefaultQueueDepth(configured int) int {
	if configured > 0 {
		return configured
	}
	return LogicalCores()
}

// String renders the sample as a one-line status.
func (m *HostMetrics) String() string {
	return fmt.Sprintf("%d cores, CPU %.1f%%, memory %.1f%% of %s",
		m.LogicalCores, m.CPUUsage, m.MemoryUsage, console.FormatBytes(int64(m.MemoryTotal)))
}
