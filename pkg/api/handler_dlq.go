package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// handleDLQStats returns entry counts by job type, error type, and user.
func (s *Server) handleDLQStats(c *gin.Context) {
	stats, err := s.queue.DLQStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error_message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
}

// handleDLQEntries lists entries with optional job_type and user_id
// filters.
func (s *Server) handleDLQEntries(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	entries, err := s.queue.ListDLQ(c.Request.Context(),
		c.Query("job_type"), c.Query("user_id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error_message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "entries": entries, "count": len(entries)})
}

// handleDLQEntry fetches one entry with its traceback.
func (s *Server) handleDLQEntry(c *gin.Context) {
	entry, err := s.queue.GetDLQEntry(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error_message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "entry": entry})
}

// handleDLQRetry re-enqueues the failed job with its original kwargs.
func (s *Server) handleDLQRetry(c *gin.Context) {
	job, err := s.queue.RetryDLQEntry(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error_message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "job_id": job.JobID, "status": "requeued"})
}

// handleDLQDelete removes one entry.
func (s *Server) handleDLQDelete(c *gin.Context) {
	if err := s.queue.DeleteDLQEntry(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error_message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleDLQClear removes every entry.
func (s *Server) handleDLQClear(c *gin.Context) {
	dropped, err := s.queue.ClearDLQ(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error_message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "cleared": dropped})
}
