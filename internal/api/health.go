package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/ecoscout/ecoscout-go/internal/logger"
)

// UsageStatus is the usage of one resource in bytes.
type UsageStatus struct {
	Total       uint64  `json:"total"`
	Free        uint64  `json:"free"`
	UsedPercent float64 `json:"used_percent"`
}

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status        string       `json:"status"`
	Version       string       `json:"version"`
	Uptime        string       `json:"uptime"`
	UptimeSeconds float64      `json:"uptime_seconds"`
	Timestamp     string       `json:"timestamp"`
	Records       int          `json:"records"`
	ResultsDisk   *UsageStatus `json:"results_disk,omitempty"`
	Memory        *UsageStatus `json:"memory,omitempty"`
}

func (s *Server) health(c echo.Context) error {
	uptime := time.Since(s.startTime)
	resp := HealthResponse{
		Status:        "healthy",
		Version:       s.version,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		Timestamp:     time.Now().Format(time.RFC3339),
		Records:       len(s.analyzer.History(c.Request().Context())),
	}

	if usage, err := disk.Usage(s.store.ResultsDir()); err == nil {
		resp.ResultsDisk = &UsageStatus{Total: usage.Total, Free: usage.Free, UsedPercent: usage.UsedPercent}
	} else {
		s.log.Debug("disk usage unavailable", logger.Error(err))
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resp.Memory = &UsageStatus{Total: vm.Total, Free: vm.Available, UsedPercent: vm.UsedPercent}
	} else {
		s.log.Debug("memory usage unavailable", logger.Error(err))
	}

	return c.JSON(http.StatusOK, resp)
}
