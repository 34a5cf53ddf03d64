package orchestrator

import (
	"time"

	"github.com/talenthive/cvflow/pkg/models"
	"github.com/talenthive/cvflow/pkg/persistence"
)

// Input carries one pipeline request. Exactly one of Data, Text, or
// FilePath must be set: raw bytes, pre-extracted text, or a storage path
// to download.
type Input struct {
	JobID       string
	UserID      string
	CandidateID string

	Data     []byte
	Text     string
	FilePath string
	FileName string

	Mode string // phase_1 | phase_2; empty uses the configured default

	IsRetry            bool
	SkipCredit         bool
	GenerateEmbeddings bool
	MaskPII            bool
	SaveToDB           bool

	Source string
}

// Result is the pipeline outcome for one job.
type Result struct {
	Success bool                   `json:"success"`
	Status  models.CandidateStatus `json:"status"`

	CandidateID string            `json:"candidate_id,omitempty"`
	Data        *models.Candidate `json:"data,omitempty"`

	Confidence      float64            `json:"confidence_score"`
	FieldConfidence map[string]float64 `json:"field_confidence,omitempty"`

	PIICount int      `json:"pii_count"`
	PIITypes []string `json:"pii_types,omitempty"`

	ChunkCount      int `json:"chunk_count"`
	ChunksSaved     int `json:"chunks_saved"`
	EmbeddingTokens int `json:"embedding_tokens"`

	IsUpdate bool   `json:"is_update"`
	ParentID string `json:"parent_id,omitempty"`

	ErrorCode   persistence.ErrorCode `json:"error_code,omitempty"`
	UserMessage string                `json:"error_message,omitempty"`

	Warnings       []string      `json:"warnings,omitempty"`
	ProcessingTime time.Duration `json:"processing_time"`
	CreditConsumed bool          `json:"credit_consumed"`
}
