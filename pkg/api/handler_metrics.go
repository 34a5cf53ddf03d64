package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// handleMetrics returns the aggregated window snapshot.
func (s *Server) handleMetrics(c *gin.Context) {
	minutes, _ := strconv.Atoi(c.DefaultQuery("minutes", "60"))
	if minutes <= 0 {
		minutes = 60
	}
	c.JSON(http.StatusOK, s.metrics.Snapshot(time.Duration(minutes)*time.Minute))
}

// handleMetricsHealth reports whether recent jobs are succeeding.
func (s *Server) handleMetricsHealth(c *gin.Context) {
	summary := s.metrics.Snapshot(15 * time.Minute)
	healthy := summary.JobsTotal == 0 || summary.SuccessRate >= 0.5
	c.JSON(http.StatusOK, gin.H{
		"healthy":      healthy,
		"jobs_total":   summary.JobsTotal,
		"success_rate": summary.SuccessRate,
	})
}

// handleMetricsRecent returns the last 15 minutes of per-stage stats.
func (s *Server) handleMetricsRecent(c *gin.Context) {
	c.JSON(http.StatusOK, s.metrics.Snapshot(15*time.Minute))
}

// handleMetricsLLMCost returns token totals and cost projections.
func (s *Server) handleMetricsLLMCost(c *gin.Context) {
	summary := s.metrics.Snapshot(time.Hour)
	c.JSON(http.StatusOK, gin.H{
		"tokens_by_provider": summary.TokensByProv,
		"cost":               summary.Cost,
	})
}

// handleFlags returns the current feature flag snapshot.
func (s *Server) handleFlags(c *gin.Context) {
	c.JSON(http.StatusOK, s.flags.Current())
}

// handleFlagsCheck reports the pipeline routing decision for a user/job.
func (s *Server) handleFlagsCheck(c *gin.Context) {
	userID := c.Query("user_id")
	jobID := c.Query("job_id")
	c.JSON(http.StatusOK, gin.H{
		"user_id":          userID,
		"job_id":           jobID,
		"use_new_pipeline": s.flags.UseNewPipelineFor(userID, jobID),
	})
}

// handleFlagsReload re-reads the flags from the environment.
func (s *Server) handleFlagsReload(c *gin.Context) {
	s.flags.Reload()
	c.JSON(http.StatusOK, gin.H{"success": true, "flags": s.flags.Current()})
}
