package handler

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/mstgnz/gamevault/infra/config"
	"github.com/mstgnz/gamevault/infra/response"
)

// Pinger reports whether the transaction store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// DropCounter reports notifications lost to a full queue
type DropCounter interface {
	Dropped() uint64
}

// HealthHandler handles health check requests
type HealthHandler struct {
	store       Pinger
	gateway     string
	notifier    DropCounter
	environment string
	startTime   time.Time
}

// HealthStatus represents overall system health
type HealthStatus struct {
	Status      string                    `json:"status"`
	Version     string                    `json:"version"`
	Timestamp   time.Time                 `json:"timestamp"`
	Uptime      string                    `json:"uptime"`
	Environment string                    `json:"environment"`
	Database    *DatabaseHealth           `json:"database"`
	System      *SystemHealth             `json:"system"`
	Services    map[string]*ServiceHealth `json:"services"`
}

// DatabaseHealth represents database health status
type DatabaseHealth struct {
	Status       string `json:"status"`
	Connected    bool   `json:"connected"`
	ResponseTime string `json:"response_time"`
	Error        string `json:"error,omitempty"`
}

// SystemHealth represents process resource usage
type SystemHealth struct {
	Alloc      string `json:"alloc"`
	Sys        string `json:"sys"`
	GCRuns     uint32 `json:"gc_runs"`
	GoRoutines int    `json:"goroutines"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status      string `json:"status"`
	Healthy     bool   `json:"healthy"`
	Description string `json:"description,omitempty"`
	Error       string `json:"error,omitempty"`
}

// NewHealthHandler creates a new health handler. notifier may be nil.
func NewHealthHandler(store Pinger, gateway string, notifier DropCounter) *HealthHandler {
	return &HealthHandler{
		store:       store,
		gateway:     gateway,
		notifier:    notifier,
		environment: config.GetEnv("APP_ENV", "development"),
		startTime:   time.Now(),
	}
}

// CheckHealth reports store reachability and service wiring
func (h *HealthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := &HealthStatus{
		Version:     "1.0.0",
		Timestamp:   time.Now().UTC(),
		Uptime:      time.Since(h.startTime).Round(time.Second).String(),
		Environment: h.environment,
		Database:    h.checkDatabaseHealth(ctx),
		System:      checkSystemHealth(),
		Services:    h.checkServicesHealth(),
	}
	health.Status = determineOverallStatus(health)

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	response.WriteJSON(w, statusCode, response.Response{
		Code:    statusCode,
		Success: health.Status != "unhealthy",
		Message: fmt.Sprintf("Service is %s", health.Status),
		Data:    health,
	})
}

func (h *HealthHandler) checkDatabaseHealth(ctx context.Context) *DatabaseHealth {
	if h.store == nil {
		return &DatabaseHealth{Status: "not_configured", Error: "Database not configured"}
	}

	start := time.Now()
	err := h.store.Ping(ctx)
	elapsed := time.Since(start)

	db := &DatabaseHealth{ResponseTime: fmt.Sprintf("%dms", elapsed.Milliseconds())}
	switch {
	case err != nil:
		db.Status = "unhealthy"
		db.Error = err.Error()
	case elapsed > time.Second:
		db.Status = "degraded"
		db.Connected = true
	default:
		db.Status = "healthy"
		db.Connected = true
	}
	return db
}

func checkSystemHealth() *SystemHealth {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return &SystemHealth{
		Alloc:      formatBytes(memStats.Alloc),
		Sys:        formatBytes(memStats.Sys),
		GCRuns:     memStats.NumGC,
		GoRoutines: runtime.NumGoroutine(),
	}
}

func (h *HealthHandler) checkServicesHealth() map[string]*ServiceHealth {
	services := make(map[string]*ServiceHealth, 2)

	if h.gateway != "" {
		services["payment_gateway"] = &ServiceHealth{Status: "healthy", Healthy: true, Description: h.gateway}
	} else {
		services["payment_gateway"] = &ServiceHealth{Status: "unhealthy", Error: "Payment gateway not initialized"}
	}

	notifications := &ServiceHealth{Status: "healthy", Healthy: true, Description: "Sale event notifications"}
	switch {
	case h.notifier == nil:
		notifications.Status = "not_configured"
	case h.notifier.Dropped() > 0:
		notifications.Status = "degraded"
		notifications.Error = fmt.Sprintf("%d events dropped", h.notifier.Dropped())
	}
	services["notifications"] = notifications

	return services
}

func determineOverallStatus(health *HealthStatus) string {
	if health.Database == nil || (health.Database.Status != "healthy" && health.Database.Status != "degraded") {
		return "unhealthy"
	}
	if gateway, ok := health.Services["payment_gateway"]; ok && !gateway.Healthy {
		return "unhealthy"
	}
	if health.Database.Status == "degraded" {
		return "degraded"
	}
	for _, service := range health.Services {
		if service.Status == "degraded" {
			return "degraded"
		}
	}
	return "healthy"
}

func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
