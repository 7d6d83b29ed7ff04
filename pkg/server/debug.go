package server

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/stashdav/stashdav/internal/request"
	"github.com/stashdav/stashdav/pkg/store"
)

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	stats := map[string]any{
		// Memory stats
		"heap_alloc_mb":  fmt.Sprintf("%.2fMB", float64(memStats.HeapAlloc)/1024/1024),
		"total_alloc_mb": fmt.Sprintf("%.2fMB", float64(memStats.TotalAlloc)/1024/1024),
		"memory_used":    fmt.Sprintf("%.2fMB", float64(memStats.Sys)/1024/1024),

		// GC stats
		"gc_cycles": memStats.NumGC,
		// Goroutine stats
		"goroutines": runtime.NumGoroutine(),

		// System info
		"num_cpu": runtime.NumCPU(),

		// OS info
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"go_version": runtime.Version(),
	}

	db := s.store.DB().WithContext(r.Context())
	var principals, liveFiles, trashedFiles, sessions int64
	db.Model(&store.Principal{}).Count(&principals)
	db.Model(&store.File{}).Where("is_deleted = ?", false).Count(&liveFiles)
	db.Model(&store.File{}).Where("is_deleted = ?", true).Count(&trashedFiles)
	db.Model(&store.Session{}).Count(&sessions)

	var usedBytes int64
	db.Model(&store.Quota{}).Select("COALESCE(SUM(used_bytes), 0)").Scan(&usedBytes)

	stats["storage"] = map[string]any{
		"principals":    principals,
		"live_files":    liveFiles,
		"trashed_files": trashedFiles,
		"sessions":      sessions,
		"used_bytes":    usedBytes,
	}

	request.JSONResponse(w, stats, http.StatusOK)
}
