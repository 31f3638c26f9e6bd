package server

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// webhookEvent is the subset of the CI job event payload we act on.
type webhookEvent struct {
	ObjectKind    string  `json:"object_kind"`
	BuildID       int64   `json:"build_id"`
	BuildName     string  `json:"build_name"`
	BuildStatus   string  `json:"build_status"`
	BuildDuration float64 `json:"build_duration"`
	Runner        struct {
		ID          int    `json:"id"`
		Description string `json:"description"`
	} `json:"runner"`
}

// handleWebhook ingests CI job events. Running jobs keep capacity alive,
// finished jobs arm the idle stop and feed the learning loop.
func (s *Server) handleWebhook(c *gin.Context) {
	if s.cfg.WebhookSecret != "" {
		token := c.GetHeader("X-Gitlab-Token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.WebhookSecret)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook token"})
			return
		}
	}

	var ev webhookEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if ev.ObjectKind != "" && ev.ObjectKind != "build" {
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": "not a job event"})
		return
	}

	runnerKey := s.runnerKey(ev)
	if runnerKey == "" {
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": "no runner on event"})
		return
	}

	switch ev.BuildStatus {
	case "running":
		if s.lifecycle != nil {
			s.lifecycle.RecordJobStarted(runnerKey)
		}
		c.JSON(http.StatusOK, gin.H{"status": "tracked", "runner_key": runnerKey})
	case "success", "failed":
		if s.lifecycle != nil {
			s.lifecycle.RecordJobFinished(runnerKey)
		}
		reward, err := s.facade.ReportOutcome(c.Request.Context(), runnerKey, ev.BuildStatus == "success", ev.BuildDuration, -1)
		if err != nil {
			// A runner we never registered; the lifecycle bookkeeping above
			// already ignored it, so just say so.
			s.logger.Warn("webhook: outcome for unknown runner %q dropped: %v", runnerKey, err)
			c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": "unknown runner"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "recorded", "runner_key": runnerKey, "reward": reward})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": "status " + ev.BuildStatus})
	}
}

// runnerKey resolves the event's runner to a configured runner key: by ID
// when a mapping is configured, otherwise the runner description is taken as
// the key.
func (s *Server) runnerKey(ev webhookEvent) string {
	if len(s.cfg.RunnerKeys) > 0 {
		if key, ok := s.cfg.RunnerKeys[ev.Runner.ID]; ok {
			return key
		}
	}
	return ev.Runner.Description
}
