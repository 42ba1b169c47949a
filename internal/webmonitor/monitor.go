package webmonitor

import (
	"time"

	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/latest"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/metrics"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/snapshot"
)

// CameraStats reports successful and failed device reads.
type CameraStats interface {
	Stats() (reads, failures uint64)
}

// RegistryInfo describes the plate registry. *plate.Resolver satisfies it.
type RegistryInfo interface {
	Registry() []string
	Threshold() float64
}

// SnapshotStats is satisfied by *snapshot.Store.
type SnapshotStats interface {
	GetStatus() snapshot.Status
}

// Monitor assembles the health snapshot from the live components.
type Monitor struct {
	startTime time.Time
	latest    *latest.Store
	metrics   *metrics.Metrics
	frames    *FrameBroadcaster
	results   *ResultBroadcaster
	hub       *Hub
	camera    CameraStats
	registry  RegistryInfo
	snapshots SnapshotStats
}

// NewMonitor creates a Monitor. The optional deps (Camera, Registry,
// Snapshots) may be nil and are then left out of the report.
func NewMonitor(deps Deps, frames *FrameBroadcaster, results *ResultBroadcaster, hub *Hub) *Monitor {
	return &Monitor{
		startTime: time.Now(),
		latest:    deps.Latest,
		metrics:   deps.Metrics,
		frames:    frames,
		results:   results,
		hub:       hub,
		camera:    deps.Camera,
		registry:  deps.Registry,
		snapshots: deps.Snapshots,
	}
}

// Snapshot returns the current stats.
func (m *Monitor) Snapshot() MonitorStats {
	stats := MonitorStats{
		Status:        "ok",
		UptimeSeconds: time.Since(m.startTime).Seconds(),
		StreamClients: m.frames.ClientCount(),
		EventClients:  m.results.ClientCount() + m.hub.ClientCount(),
		FramesSent:    m.metrics.StreamFramesSent.Load(),
		StreamReads:   m.metrics.StreamReads.Load(),
		LatestVersion: m.latest.Load().Version,
	}
	if m.camera != nil {
		stats.CameraReads, stats.CameraErrors = m.camera.Stats()
	}
	if m.registry != nil {
		stats.Registry = m.registry.Registry()
		stats.Threshold = m.registry.Threshold()
	}
	if m.snapshots != nil {
		st := m.snapshots.GetStatus()
		stats.Snapshots = &st
	}
	return stats
}
