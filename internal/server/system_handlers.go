package server

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/fulcrumtrading/fulcrum/internal/database"
)

// SystemHandlers serves liveness and system health endpoints.
type SystemHandlers struct {
	databases []*database.DB
	startup   time.Time
	log       zerolog.Logger
}

// NewSystemHandlers creates the system handlers.
func NewSystemHandlers(databases []*database.DB, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		databases: databases,
		startup:   time.Now(),
		log:       log.With().Str("handlers", "system").Logger(),
	}
}

// HandleLiveness is the cheap liveness probe.
func (h *SystemHandlers) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// HandleSystemHealth reports database health plus host CPU and memory load.
// Databases are probed with a quick integrity check; a failing database
// degrades the overall status.
func (h *SystemHandlers) HandleSystemHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"

	dbHealth := make(map[string]string, len(h.databases))
	for _, db := range h.databases {
		if err := db.QuickCheck(ctx); err != nil {
			h.log.Warn().Err(err).Str("database", db.Name()).Msg("Database health probe failed")
			dbHealth[db.Name()] = "unhealthy: " + err.Error()
			status = "degraded"
		} else {
			dbHealth[db.Name()] = "healthy"
		}
	}

	system := map[string]any{}
	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		system["cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		system["memory_percent"] = vm.UsedPercent
		system["memory_used_mb"] = vm.Used / 1024 / 1024
		system["memory_total_mb"] = vm.Total / 1024 / 1024
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":         status,
		"uptime_seconds": int(time.Since(h.startup).Seconds()),
		"databases":      dbHealth,
		"system":         system,
	})
}
