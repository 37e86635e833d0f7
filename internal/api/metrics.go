package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string             `json:"timestamp"`
	Version       string             `json:"version"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Runtime       RuntimeMetrics     `json:"runtime"`
	Devices       DeviceMetrics      `json:"devices"`
	Aggregator    *AggregatorMetrics `json:"aggregator,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// DeviceMetrics contains paired device registry statistics.
type DeviceMetrics struct {
	Total          int            `json:"total"`
	ByDistribution map[string]int `json:"by_distribution"`
}

// AggregatorMetrics describes a running shard collection.
type AggregatorMetrics struct {
	Port            int `json:"port"`
	ShardsCollected int `json:"shards_collected"`
}

// handleSystem returns runtime and pairing statistics.
func (s *Server) handleSystem(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Devices: DeviceMetrics{ByDistribution: make(map[string]int)},
	}

	for _, d := range s.registry.Devices() {
		m.Devices.Total++
		m.Devices.ByDistribution[d.DistributionID()]++
	}

	if s.aggregator != nil {
		m.Aggregator = &AggregatorMetrics{
			Port:            s.aggregator.Port(),
			ShardsCollected: s.aggregator.Count(),
		}
	}

	writeJSON(w, http.StatusOK, m)
}
