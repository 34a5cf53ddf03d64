package api

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/talenthive/cvflow/pkg/database"
	"github.com/talenthive/cvflow/pkg/models"
	"github.com/talenthive/cvflow/pkg/orchestrator"
	"github.com/talenthive/cvflow/pkg/queue"
	"github.com/talenthive/cvflow/pkg/router"
)

// handleParse extracts text from an uploaded file without running the
// full pipeline.
func (s *Server) handleParse(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error_message": "file is required"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error_message": "cannot open upload"})
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error_message": "cannot read upload"})
		return
	}

	verdict := router.Classify(data, fileHeader.Filename)
	if verdict.Rejected {
		c.JSON(http.StatusOK, gin.H{
			"success":       false,
			"file_type":     verdict.Type,
			"is_encrypted":  verdict.Encrypted,
			"page_count":    verdict.PageCount,
			"error_message": verdict.RejectReason,
			"warnings":      verdict.Warnings,
		})
		return
	}

	doc, err := s.dispatcher.Parse(c.Request.Context(), verdict.Type, data)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{
			"success":       false,
			"file_type":     verdict.Type,
			"error_message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"text":         doc.Text,
		"file_type":    verdict.Type,
		"parse_method": doc.Method,
		"page_count":   doc.PageCount,
		"is_encrypted": false,
		"warnings":     doc.Warnings,
	})
}

type analyzeRequest struct {
	Text   string `json:"text" binding:"required"`
	UserID string `json:"user_id" binding:"required"`
	JobID  string `json:"job_id"`
	Mode   string `json:"mode" binding:"omitempty,oneof=phase_1 phase_2"`
}

// handleAnalyze runs extraction and cross-check over pre-parsed text
// without persistence.
func (s *Server) handleAnalyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error_message": err.Error()})
		return
	}

	start := time.Now()
	result := s.orch.Run(c.Request.Context(), &orchestrator.Input{
		JobID:      req.JobID,
		UserID:     req.UserID,
		Text:       req.Text,
		Mode:       req.Mode,
		MaskPII:    true,
		SkipCredit: true,
	})

	c.JSON(http.StatusOK, gin.H{
		"success":            result.Success,
		"data":               result.Data,
		"confidence_score":   result.Confidence,
		"field_confidence":   result.FieldConfidence,
		"warnings":           result.Warnings,
		"processing_time_ms": time.Since(start).Milliseconds(),
		"mode":               req.Mode,
		"error_code":         result.ErrorCode,
		"error_message":      result.UserMessage,
	})
}

type processRequest struct {
	Text               string `json:"text" binding:"required"`
	UserID             string `json:"user_id" binding:"required"`
	JobID              string `json:"job_id"`
	Mode               string `json:"mode" binding:"omitempty,oneof=phase_1 phase_2"`
	GenerateEmbeddings bool   `json:"generate_embeddings"`
	MaskPII            bool   `json:"mask_pii"`
	SaveToDB           bool   `json:"save_to_db"`
	SourceFile         string `json:"source_file"`
	FileType           string `json:"file_type"`
}

// handleProcess runs the pipeline over pre-parsed text with per-request
// toggles for embedding, masking, and persistence.
func (s *Server) handleProcess(c *gin.Context) {
	var req processRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error_message": err.Error()})
		return
	}

	result := s.orch.Run(c.Request.Context(), &orchestrator.Input{
		JobID:              req.JobID,
		UserID:             req.UserID,
		Text:               req.Text,
		FileName:           req.SourceFile,
		Mode:               req.Mode,
		GenerateEmbeddings: req.GenerateEmbeddings,
		MaskPII:            req.MaskPII,
		SaveToDB:           req.SaveToDB,
	})

	c.JSON(http.StatusOK, gin.H{
		"success":            result.Success,
		"candidate_id":       result.CandidateID,
		"data":               result.Data,
		"confidence_score":   result.Confidence,
		"pii_count":          result.PIICount,
		"pii_types":          result.PIITypes,
		"chunk_count":        result.ChunkCount,
		"chunks_saved":       result.ChunksSaved,
		"embedding_tokens":   result.EmbeddingTokens,
		"processing_time_ms": result.ProcessingTime.Milliseconds(),
		"error_code":         result.ErrorCode,
		"error_message":      result.UserMessage,
	})
}

type pipelineRequest struct {
	FileURL             string `json:"file_url" binding:"required"`
	FileName            string `json:"file_name" binding:"required"`
	UserID              string `json:"user_id" binding:"required"`
	JobID               string `json:"job_id" binding:"required"`
	CandidateID         string `json:"candidate_id"`
	Mode                string `json:"mode" binding:"omitempty,oneof=phase_1 phase_2"`
	IsRetry             bool   `json:"is_retry"`
	SkipCreditDeduction bool   `json:"skip_credit_deduction"`
}

// handlePipeline runs the full pipeline synchronously from a storage
// path.
func (s *Server) handlePipeline(c *gin.Context) {
	var req pipelineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error_message": err.Error()})
		return
	}

	result := s.orch.Run(c.Request.Context(), &orchestrator.Input{
		JobID:              req.JobID,
		UserID:             req.UserID,
		CandidateID:        req.CandidateID,
		FilePath:           req.FileURL,
		FileName:           req.FileName,
		Mode:               req.Mode,
		IsRetry:            req.IsRetry,
		SkipCredit:         req.SkipCreditDeduction,
		GenerateEmbeddings: true,
		MaskPII:            true,
		SaveToDB:           true,
	})

	message := "pipeline completed"
	if !result.Success {
		message = result.UserMessage
	}
	c.JSON(http.StatusOK, gin.H{
		"success": result.Success,
		"message": message,
		"job_id":  req.JobID,
	})
}

type enqueueRequest struct {
	JobID    string `json:"job_id" binding:"required"`
	UserID   string `json:"user_id" binding:"required"`
	FilePath string `json:"file_path" binding:"required"`
	FileName string `json:"file_name" binding:"required"`
	Mode     string `json:"mode" binding:"omitempty,oneof=phase_1 phase_2"`
}

// handleEnqueue admits a job onto its queue lane, applying back-pressure
// to slow-lane uploads.
func (s *Server) handleEnqueue(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error_message": err.Error()})
		return
	}

	jobType := queue.RouteByExtension(req.FileName)
	if jobType == models.JobTypeSlowPipeline {
		throttle, err := s.queue.ShouldThrottle(c.Request.Context())
		if err == nil && throttle {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"status":  "throttled",
				"error_message": "slow queue is saturated; retry later",
			})
			return
		}
	}

	job := &models.PipelineJob{
		JobID:    req.JobID,
		UserID:   req.UserID,
		Type:     jobType,
		FilePath: req.FilePath,
		FileName: req.FileName,
		Mode:     req.Mode,
	}
	if err := s.queue.Enqueue(c.Request.Context(), job); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error_message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"job_id":    req.JobID,
		"rq_job_id": uuid.NewString(),
		"status":    "enqueued",
	})
}

// handleQueueStatus reports queue availability and depths.
func (s *Server) handleQueueStatus(c *gin.Context) {
	stats, err := s.queue.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"available": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"available":          true,
		"parse_queue_size":   stats[string(models.JobTypeFastPipeline)],
		"process_queue_size": stats[string(models.JobTypeSlowPipeline)],
	})
}

// handleHealth reports service health; detailed=true adds database and
// queue internals.
func (s *Server) handleHealth(c *gin.Context) {
	detailed, _ := strconv.ParseBool(c.Query("detailed"))

	reqCtx := c.Request.Context()
	dbHealth := database.Health(reqCtx, s.db.DB())
	queueErr := s.queue.Ping(reqCtx)

	healthy := dbHealth.Reachable && queueErr == nil
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	body := gin.H{
		"status":   statusWord(healthy),
		"database": dbHealth.Reachable,
		"queue":    queueErr == nil,
	}
	if detailed {
		body["database_detail"] = dbHealth
		if stats, err := s.queue.Stats(reqCtx); err == nil {
			body["queue_depths"] = stats
		}
	}
	c.JSON(status, body)
}

// handleDebug dumps non-sensitive runtime configuration. Registered only
// outside production.
func (s *Server) handleDebug(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"environment":    s.cfg.Environment,
		"analysis_mode":  s.cfg.Pipeline.AnalysisMode,
		"parallel_llm":   s.cfg.Pipeline.UseParallelLLM,
		"split_queues":   s.cfg.Queue.UseSplitQueues,
		"flags":          s.flags.Current(),
		"min_text_len":   s.cfg.Pipeline.MinTextLength,
		"conf_threshold": s.cfg.Pipeline.ConfidenceThreshold,
	})
}

func statusWord(healthy bool) string {
	if healthy {
		return "healthy"
	}
	return "unhealthy"
}

