package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wolfram-laube/backoffice/internal/bandit"
	"github.com/wolfram-laube/backoffice/internal/ontology"
	"github.com/wolfram-laube/backoffice/internal/requirements"
)

type selectRequest struct {
	JobName     string                   `json:"job_name" binding:"required"`
	Declaration requirements.Declaration `json:"declaration"`
}

type outcomeRequest struct {
	RunnerKey       string   `json:"runner_key" binding:"required"`
	Success         bool     `json:"success"`
	DurationSeconds float64  `json:"duration_seconds"`
	CostPerMinute   *float64 `json:"cost_per_minute,omitempty"`
}

func (s *Server) handleSelect(c *gin.Context) {
	var req selectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d := s.facade.SelectRunner(c.Request.Context(), req.Declaration, req.JobName)
	status := http.StatusOK
	if !d.Selected() {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, d)
}

func (s *Server) handleOutcome(c *gin.Context) {
	var req outcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.DurationSeconds < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "duration_seconds must be non-negative"})
		return
	}
	costPerMinute := -1.0
	if req.CostPerMinute != nil {
		if *req.CostPerMinute < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cost_per_minute must be non-negative"})
			return
		}
		costPerMinute = *req.CostPerMinute
	}
	reward, err := s.facade.ReportOutcome(c.Request.Context(), req.RunnerKey, req.Success, req.DurationSeconds, costPerMinute)
	if err != nil {
		var notFound *ontology.NotFoundError
		var unknown *bandit.UnknownRunnerError
		if errors.As(err, &notFound) || errors.As(err, &unknown) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runner_key": req.RunnerKey, "reward": reward})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"arms": s.facade.Stats(c.Request.Context())})
}

func (s *Server) handleReset(c *gin.Context) {
	if err := s.facade.Reset(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

func (s *Server) handleDecisions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"decisions": s.facade.RecentDecisions()})
}

func (s *Server) handleLifecycle(c *gin.Context) {
	if s.lifecycle == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	c.JSON(http.StatusOK, s.lifecycle.CurrentStatus())
}
