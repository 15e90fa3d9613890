package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/spatweave/spatweave/internal/infrastructure/cache"
)

// HealthHandler provides the system health status endpoint
type HealthHandler struct {
	cache     cache.GraphCache
	startTime time.Time
	version   string
}

// NewHealthHandler creates a health check handler
func NewHealthHandler(graphCache cache.GraphCache, version string) *HealthHandler {
	return &HealthHandler{
		cache:     graphCache,
		startTime: time.Now(),
		version:   version,
	}
}

// HealthResponse is the health endpoint payload
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	System    SystemInfo             `json:"system"`
	Checks    map[string]CheckResult `json:"checks"`
}

// SystemInfo contains runtime system information
type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	NumGoroutine int    `json:"num_goroutine"`
	MemAllocMB   uint64 `json:"mem_alloc_mb"`
	MemSysMB     uint64 `json:"mem_sys_mb"`
	NumGC        uint32 `json:"num_gc"`
}

// CheckResult represents an individual health check outcome
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Value   string `json:"value,omitempty"`
}

// ServeHTTP handles health check requests
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	checks := map[string]CheckResult{
		"memory":     h.checkMemory(&memStats),
		"goroutines": h.checkGoroutines(),
		"cache":      h.checkCache(),
	}

	status := "healthy"
	httpStatus := http.StatusOK
	for _, check := range checks {
		switch check.Status {
		case "fail":
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		case "warn":
			if status == "healthy" {
				status = "degraded"
			}
		}
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Version:   h.version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		System: SystemInfo{
			GoVersion:    runtime.Version(),
			NumGoroutine: runtime.NumGoroutine(),
			MemAllocMB:   memStats.Alloc / 1024 / 1024,
			MemSysMB:     memStats.Sys / 1024 / 1024,
			NumGC:        memStats.NumGC,
		},
		Checks: checks,
	}

	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(response)
}

// checkMemory warns above 1GB allocated, fails above 4GB
func (h *HealthHandler) checkMemory(memStats *runtime.MemStats) CheckResult {
	allocMB := memStats.Alloc / 1024 / 1024
	result := CheckResult{Value: fmt.Sprintf("%dMB", allocMB)}
	switch {
	case allocMB > 4096:
		result.Status = "fail"
		result.Message = "memory allocation critically high"
	case allocMB > 1024:
		result.Status = "warn"
		result.Message = "memory allocation elevated"
	default:
		result.Status = "pass"
	}
	return result
}

// checkGoroutines warns above 1000 goroutines, fails above 10000
func (h *HealthHandler) checkGoroutines() CheckResult {
	count := runtime.NumGoroutine()
	result := CheckResult{Value: fmt.Sprintf("%d", count)}
	switch {
	case count > 10000:
		result.Status = "fail"
		result.Message = "goroutine count critically high"
	case count > 1000:
		result.Status = "warn"
		result.Message = "goroutine count elevated"
	default:
		result.Status = "pass"
	}
	return result
}

// checkCache reports graph cache effectiveness and error pressure
func (h *HealthHandler) checkCache() CheckResult {
	stats := h.cache.Stats()
	total := stats.Hits + stats.Misses
	result := CheckResult{
		Value: fmt.Sprintf("hits=%d misses=%d errors=%d", stats.Hits, stats.Misses, stats.Errors),
	}
	switch {
	case stats.Errors > 0 && stats.Errors >= total:
		result.Status = "warn"
		result.Message = "cache backend erroring on most operations"
	default:
		result.Status = "pass"
	}
	return result
}
