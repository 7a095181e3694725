package health

import (
	"time"

	"billbook-backend/internal/storage"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// StatusSource reports the storage connection state.
type StatusSource interface {
	Status() storage.Status
}

type HealthChecker struct {
	source     StatusSource
	offlineDir string
	started    time.Time
}

type HealthStatus struct {
	Status  string        `json:"status"`
	Storage StorageHealth `json:"storage"`
	System  *SystemHealth `json:"system,omitempty"`
}

type StorageHealth struct {
	State     storage.State `json:"state"`
	Backend   string        `json:"backend"`
	Message   string        `json:"message"`
	LastError string        `json:"last_error,omitempty"`
	Since     time.Time     `json:"since"`
}

type SystemHealth struct {
	UptimeSeconds   int64   `json:"uptime_seconds"`
	MemoryUsedPct   float64 `json:"memory_used_percent"`
	OfflineDir      string  `json:"offline_dir"`
	DiskFreeBytes   uint64  `json:"disk_free_bytes"`
	DiskUsedPercent float64 `json:"disk_used_percent"`
}

func NewHealthChecker(source StatusSource, offlineDir string) *HealthChecker {
	return &HealthChecker{source: source, offlineDir: offlineDir, started: time.Now()}
}

// CheckBasic is healthy when a remote backend is connected and degraded when
// bills are going to local storage. Until storage has been initialized the
// service is unhealthy.
func (h *HealthChecker) CheckBasic() HealthStatus {
	st := h.source.Status()

	status := StatusHealthy
	switch st.State {
	case storage.StateOffline:
		status = StatusDegraded
	case storage.StateUninitialized:
		status = StatusUnhealthy
	}

	return HealthStatus{
		Status: status,
		Storage: StorageHealth{
			State:     st.State,
			Backend:   st.Backend,
			Message:   st.Message,
			LastError: st.LastError,
			Since:     st.Since,
		},
	}
}

// Ready reports whether requests can be served. Offline mode still serves.
func (h *HealthChecker) Ready() (HealthStatus, bool) {
	status := h.CheckBasic()
	return status, status.Status != StatusUnhealthy
}

// CheckDetailed adds host memory and free space on the offline store's disk.
// Probe failures leave the corresponding fields zero.
func (h *HealthChecker) CheckDetailed() HealthStatus {
	status := h.CheckBasic()

	sys := &SystemHealth{
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		OfflineDir:    h.offlineDir,
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		sys.MemoryUsedPct = vm.UsedPercent
	}
	if h.offlineDir != "" {
		if usage, err := disk.Usage(h.offlineDir); err == nil {
			sys.DiskFreeBytes = usage.Free
			sys.DiskUsedPercent = usage.UsedPercent
		}
	}
	status.System = sys
	return status
}
