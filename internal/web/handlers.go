package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/events"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/health"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/state"
)

// handleHealth returns the full health report; 503 when unhealthy
func (s *Server) handleHealth(c *gin.Context) {
	if s.deps.Health == nil {
		c.JSON(http.StatusOK, gin.H{"status": health.StatusHealthy, "service": "web-server"})
		return
	}

	report := s.deps.Health.Check(c.Request.Context())
	code := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}

// handleLiveness answers as long as the process serves requests
func (s *Server) handleLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleStatus summarizes the appliance state
func (s *Server) handleStatus(c *gin.Context) {
	ctx := c.Request.Context()
	uptime := time.Since(s.startTime)

	resp := gin.H{
		"version":        s.version,
		"uptime":         uptime.Round(time.Second).String(),
		"uptime_seconds": int64(uptime.Seconds()),
		"timestamp":      time.Now().Format(time.RFC3339),
	}

	if s.deps.Coordinator != nil {
		act := gin.H{"state": s.deps.Coordinator.State().String()}
		if err := s.deps.Coordinator.LastError(); err != nil {
			act["last_error"] = err.Error()
		}
		resp["actuation"] = act
	}

	if s.deps.Connectivity != nil {
		resp["online"] = s.deps.Connectivity.Online()
	}

	if s.deps.Queue != nil {
		q := gin.H{"path": s.deps.Queue.Path()}
		if n, err := s.deps.Queue.Len(ctx); err != nil {
			q["error"] = err.Error()
		} else {
			q["depth"] = n
		}
		resp["queue"] = q
	}

	if s.deps.Sensor != nil {
		if snap, ok := s.deps.Sensor.Last(); ok {
			resp["sensor"] = snap
		}
	}

	if s.deps.Ledger != nil {
		if counts, err := s.deps.Ledger.CountByStatus(ctx); err != nil {
			s.logger.Warn("Failed to count detections", "error", err)
		} else {
			resp["detections"] = counts
		}
		if drain, err := s.deps.Ledger.LastDrain(ctx); err != nil {
			s.logger.Warn("Failed to read last drain", "error", err)
		} else if drain != nil {
			resp["last_drain"] = drainToAPIResponse(drain)
		}
		for _, key := range []string{state.KeyLastStartedAt, state.KeyLastOnlineAt} {
			if v, err := s.deps.Ledger.GetSystemState(ctx, key); err == nil && v != "" {
				resp[key] = v
			}
		}
	}

	c.JSON(http.StatusOK, resp)
}

// handleListDetections lists ledger entries, newest first
func (s *Server) handleListDetections(c *gin.Context) {
	if s.deps.Ledger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Ledger not available"})
		return
	}

	status := state.DetectionStatus(c.Query("status"))
	switch status {
	case "", state.StatusPending, state.StatusPersisted, state.StatusArchived:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown status " + string(status)})
		return
	}

	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n <= 0 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}

	records, err := s.deps.Ledger.ListDetections(c.Request.Context(), status, limit)
	if err != nil {
		s.logger.Error("Failed to list detections", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list detections"})
		return
	}

	out := make([]gin.H, 0, len(records))
	for i := range records {
		out = append(out, detectionToAPIResponse(&records[i]))
	}
	c.JSON(http.StatusOK, gin.H{
		"detections": out,
		"count":      len(out),
		"limit":      limit,
	})
}

// handleGetDetection returns one ledger entry
func (s *Server) handleGetDetection(c *gin.Context) {
	if s.deps.Ledger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Ledger not available"})
		return
	}

	id := c.Param("id")
	rec, err := s.deps.Ledger.GetDetection(c.Request.Context(), id)
	if err != nil {
		s.logger.Error("Failed to get detection", "error", err, "event_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get detection"})
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Detection not found"})
		return
	}
	c.JSON(http.StatusOK, detectionToAPIResponse(rec))
}

// handleListQueue lists events waiting for upload. Images stay on disk.
func (s *Server) handleListQueue(c *gin.Context) {
	if s.deps.Queue == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Queue not available"})
		return
	}

	list, err := s.deps.Queue.List(c.Request.Context())
	if err != nil {
		s.logger.Error("Failed to read queue", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read queue"})
		return
	}

	out := make([]gin.H, 0, len(list))
	for _, e := range list {
		out = append(out, queuedToAPIResponse(e))
	}
	c.JSON(http.StatusOK, gin.H{
		"events": out,
		"count":  len(out),
		"path":   s.deps.Queue.Path(),
	})
}

// handleDrainQueue runs one drain cycle now
func (s *Server) handleDrainQueue(c *gin.Context) {
	if s.deps.Drainer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Drain not available"})
		return
	}

	result, err := s.deps.Drainer.DrainNow(c.Request.Context())
	resp := gin.H{
		"uploaded":  result.Uploaded,
		"skipped":   result.Skipped,
		"remaining": result.Remaining,
		"removed":   result.Removed,
	}
	if err != nil {
		resp["error"] = err.Error()
		c.JSON(http.StatusBadGateway, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func detectionToAPIResponse(rec *state.DetectionRecord) gin.H {
	resp := gin.H{
		"id":              rec.ID,
		"species_name":    rec.SpeciesName,
		"scientific_name": rec.ScientificName,
		"confidence":      rec.Confidence,
		"image_path":      rec.ImagePath,
		"status":          rec.Status,
		"created_at":      rec.CreatedAt.Format(time.RFC3339),
		"updated_at":      rec.UpdatedAt.Format(time.RFC3339),
	}
	if !rec.CapturedAt.IsZero() {
		resp["captured_at"] = rec.CapturedAt.Format(time.RFC3339)
	}
	if rec.Detail != "" {
		resp["detail"] = rec.Detail
	}
	return resp
}

func drainToAPIResponse(rec *state.DrainRecord) gin.H {
	resp := gin.H{
		"started_at":  rec.StartedAt.Format(time.RFC3339),
		"finished_at": rec.FinishedAt.Format(time.RFC3339),
		"uploaded":    rec.Uploaded,
		"skipped":     rec.Skipped,
		"remaining":   rec.Remaining,
	}
	if rec.Error != "" {
		resp["error"] = rec.Error
	}
	return resp
}

func queuedToAPIResponse(e *events.DetectionEvent) gin.H {
	return gin.H{
		"id":              e.ID,
		"species_name":    e.SpeciesName,
		"scientific_name": e.ScientificName,
		"confidence":      e.Confidence,
		"risk_level":      e.RiskLevel,
		"sensor":          e.Sensor,
		"image_path":      e.Image.Path,
		"date":            e.CapturedAt.Date,
		"time":            e.CapturedAt.Time,
	}
}
