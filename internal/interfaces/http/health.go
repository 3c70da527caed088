package http

import (
	"net/http"
	"time"

	"github.com/emgflow/emgflow/internal/cache"
	"github.com/emgflow/emgflow/internal/persistence"
)

// HealthChecker aggregates subsystem health for the /health endpoint.
type HealthChecker struct {
	repoHealth     persistence.RepositoryHealth
	resultCache    *cache.ResultCache
	storageHealthy func() bool
	queueDepth     func() int
	queueCapacity  func() int
}

// NewHealthChecker wires the health surface.
func NewHealthChecker(repoHealth persistence.RepositoryHealth, rc *cache.ResultCache,
	storageHealthy func() bool, queueDepth, queueCapacity func() int) *HealthChecker {
	return &HealthChecker{
		repoHealth:     repoHealth,
		resultCache:    rc,
		storageHealthy: storageHealthy,
		queueDepth:     queueDepth,
		queueCapacity:  queueCapacity,
	}
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status    string                  `json:"status"`
	Timestamp time.Time               `json:"timestamp"`
	Database  persistence.HealthCheck `json:"database"`
	Cache     CacheHealth             `json:"cache"`
	Storage   StorageHealth           `json:"storage"`
	Queue     QueueHealth             `json:"queue"`
}

// CacheHealth is the cache section of the health payload.
type CacheHealth struct {
	Healthy bool             `json:"healthy"`
	Stats   cache.LayerStats `json:"stats"`
}

// StorageHealth is the object storage section.
type StorageHealth struct {
	Healthy bool `json:"healthy"`
}

// QueueHealth is the processing queue section. Saturated means new uploads
// stay pending rather than being queued.
type QueueHealth struct {
	Depth     int  `json:"depth"`
	Capacity  int  `json:"capacity"`
	Saturated bool `json:"saturated"`
}

// Health is the GET /health handler. Degraded subsystems answer 200 with
// status "degraded"; only a dead database answers 503.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	hc := h.health

	dbHealth := hc.repoHealth.Health(r.Context())
	cacheHealthy := hc.resultCache.Healthy(r.Context())
	storageHealthy := hc.storageHealthy == nil || hc.storageHealthy()
	depth, capacity := hc.queueDepth(), hc.queueCapacity()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Database:  dbHealth,
		Cache:     CacheHealth{Healthy: cacheHealthy, Stats: hc.resultCache.Stats()},
		Storage:   StorageHealth{Healthy: storageHealthy},
		Queue: QueueHealth{
			Depth:     depth,
			Capacity:  capacity,
			Saturated: depth >= capacity,
		},
	}

	status := http.StatusOK
	switch {
	case !dbHealth.Healthy:
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	case !cacheHealthy || !storageHealthy || resp.Queue.Saturated:
		resp.Status = "degraded"
	}
	writeJSON(w, status, resp)
}
