package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/talenthive/cvflow/pkg/models"
)

// ErrRace signals a lost version-stacking race: another writer flipped
// the latest row first. The caller must not consume credit.
var ErrRace = errors.New("race condition: candidate version already superseded")

// ErrNoCredit signals the user has no spare or monthly credit left.
var ErrNoCredit = errors.New("insufficient credits")

// Record is a candidate ready for persistence: masked contact fields on
// the candidate, ciphertexts and dedup keys computed from the plaintext
// before masking.
type Record struct {
	Candidate      *models.Candidate
	PhoneEncrypted string
	EmailEncrypted string
	PhoneHash      string
	EmailHash      string
	PhonePrefix    string
}

// DuplicateMatch is the dedup waterfall's verdict.
type DuplicateMatch struct {
	MatchType   string  `json:"match_type"` // phone_hash | email_hash | name_phone_prefix | name_birth_year
	CandidateID string  `json:"candidate_id"`
	Confidence  float64 `json:"confidence"`
}

// SaveResult reports one completed save.
type SaveResult struct {
	CandidateID string `json:"candidate_id"`
	IsUpdate    bool   `json:"is_update"`
	ParentID    string `json:"parent_id,omitempty"`
	ChunksSaved int    `json:"chunks_saved"`
}

// Service persists candidates and chunks.
type Service struct {
	db *sql.DB
}

// NewService creates the persistence service over the pooled handle.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// DB exposes the handle for save-context compensation tracking.
func (s *Service) DB() *sql.DB {
	return s.db
}

// CheckDuplicate walks the dedup waterfall in user scope; the first match
// wins. Steps: phone_hash (1.0), email_hash (0.95), name + phone-prefix
// (0.85), name + birth_year (0.70). Only is_latest rows participate.
func (s *Service) CheckDuplicate(ctx context.Context, userID string, rec *Record) (*DuplicateMatch, error) {
	type step struct {
		matchType  string
		confidence float64
		query      string
		args       []any
		skip       bool
	}
	name := rec.Candidate.Name
	steps := []step{
		{
			matchType: "phone_hash", confidence: 1.0,
			query: `SELECT id FROM candidates
			         WHERE user_id = $1 AND phone_hash = $2 AND is_latest = TRUE AND status != 'deleted'
			         LIMIT 1`,
			args: []any{userID, rec.PhoneHash},
			skip: rec.PhoneHash == "",
		},
		{
			matchType: "email_hash", confidence: 0.95,
			query: `SELECT id FROM candidates
			         WHERE user_id = $1 AND email_hash = $2 AND is_latest = TRUE AND status != 'deleted'
			         LIMIT 1`,
			args: []any{userID, rec.EmailHash},
			skip: rec.EmailHash == "",
		},
		{
			matchType: "name_phone_prefix", confidence: 0.85,
			query: `SELECT id FROM candidates
			         WHERE user_id = $1 AND name = $2 AND phone_prefix = $3 AND is_latest = TRUE AND status != 'deleted'
			         LIMIT 1`,
			args: []any{userID, name, rec.PhonePrefix},
			skip: name == "" || rec.PhonePrefix == "",
		},
		{
			matchType: "name_birth_year", confidence: 0.70,
			query: `SELECT id FROM candidates
			         WHERE user_id = $1 AND name = $2 AND birth_year = $3 AND is_latest = TRUE AND status != 'deleted'
			         LIMIT 1`,
			args: []any{userID, name, rec.Candidate.BirthYear},
			skip: name == "" || rec.Candidate.BirthYear == 0,
		},
	}

	for _, st := range steps {
		if st.skip {
			continue
		}
		var id string
		err := s.db.QueryRowContext(ctx, st.query, st.args...).Scan(&id)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("dedup query (%s): %w", st.matchType, err)
		}
		return &DuplicateMatch{MatchType: st.matchType, CandidateID: id, Confidence: st.confidence}, nil
	}
	return nil, nil
}

// SaveCandidate runs the dedup waterfall and inserts the new row. On a
// duplicate match the superseded row is backed up, flipped off latest
// with a CAS guard, and referenced as the new row's parent. Tracked
// actions go onto sc for compensation.
func (s *Service) SaveCandidate(ctx context.Context, sc *SaveContext, userID string, rec *Record) (*SaveResult, error) {
	match, err := s.CheckDuplicate(ctx, userID, rec)
	if err != nil {
		return nil, err
	}

	result := &SaveResult{}
	if match != nil {
		if err := s.supersede(ctx, sc, match.CandidateID); err != nil {
			return nil, err
		}
		result.IsUpdate = true
		result.ParentID = match.CandidateID
		slog.Info("Duplicate detected, stacking new version",
			"match_type", match.MatchType, "confidence", match.Confidence,
			"parent_id", match.CandidateID)
	}

	id, err := s.insertCandidate(ctx, userID, rec, result.ParentID)
	if err != nil {
		return nil, err
	}
	sc.TrackInsert("candidates", id)
	result.CandidateID = id
	rec.Candidate.ID = id
	rec.Candidate.IsLatest = true
	rec.Candidate.ParentID = result.ParentID
	return result, nil
}

// supersede backs up and flips the existing latest row. The UPDATE
// carries a WHERE is_latest = TRUE guard; losing the CAS aborts with
// ErrRace before any insert happens.
func (s *Service) supersede(ctx context.Context, sc *SaveContext, id string) error {
	var isLatest bool
	var updatedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT is_latest, updated_at FROM candidates WHERE id = $1`, id).
		Scan(&isLatest, &updatedAt)
	if err != nil {
		return fmt.Errorf("backup read: %w", err)
	}
	if !isLatest {
		return fmt.Errorf("%w (id %s)", ErrRace, id)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE candidates SET is_latest = FALSE, updated_at = now()
		  WHERE id = $1 AND is_latest = TRUE`, id)
	if err != nil {
		return fmt.Errorf("version flip: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("version flip rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w (id %s)", ErrRace, id)
	}

	// Verify the transition landed.
	var verify bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT is_latest FROM candidates WHERE id = $1`, id).Scan(&verify); err != nil {
		return fmt.Errorf("verify read: %w", err)
	}
	if verify {
		return fmt.Errorf("%w (id %s not flipped)", ErrRace, id)
	}

	sc.TrackUpdate("candidates", id, map[string]any{
		"is_latest":  isLatest,
		"updated_at": updatedAt,
	})
	return nil
}

func (s *Service) insertCandidate(ctx context.Context, userID string, rec *Record, parentID string) (string, error) {
	c := rec.Candidate
	careers, _ := json.Marshal(c.Careers)
	educations, _ := json.Marshal(c.Educations)
	skills, _ := json.Marshal(c.Skills)
	projects, _ := json.Marshal(c.Projects)
	urls, _ := json.Marshal(c.URLs)
	fieldConfidence, _ := json.Marshal(c.FieldConfidence)
	warnings, _ := json.Marshal(c.Warnings)

	var parent any
	if parentID != "" {
		parent = parentID
	}

	var id string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO candidates (
			user_id, job_id, name,
			phone_masked, email_masked, address_masked,
			phone_encrypted, email_encrypted,
			phone_hash, email_hash, phone_prefix,
			birth_year, exp_years, current_company, current_position,
			careers, educations, skills, projects, urls,
			summary, match_reason,
			overall_confidence, field_confidence, warnings,
			status, source_file, file_type,
			is_latest, parent_id
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28,
			TRUE, $29
		) RETURNING id`,
		userID, nullable(c.JobID), nullable(c.Name),
		nullable(c.Phone), nullable(c.Email), nullable(c.Address),
		nullable(rec.PhoneEncrypted), nullable(rec.EmailEncrypted),
		nullable(rec.PhoneHash), nullable(rec.EmailHash), nullable(rec.PhonePrefix),
		zeroNull(c.BirthYear), c.ExpYears, nullable(c.CurrentCompany), nullable(c.CurrentPosition),
		careers, educations, skills, projects, urls,
		nullable(c.Summary), nullable(c.MatchReason),
		c.OverallConfidence, fieldConfidence, warnings,
		string(c.Status), nullable(c.SourceFile), nullable(c.FileType),
		parent,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert candidate: %w", err)
	}
	return id, nil
}

// UpdateStatus writes an intermediate or terminal candidate status.
func (s *Service) UpdateStatus(ctx context.Context, id string, status models.CandidateStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE candidates SET status = $1, updated_at = now() WHERE id = $2`,
		string(status), id)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

// SoftDelete marks a failed candidate deleted with its error taxonomy
// entry. When the deleted row superseded a parent, the parent is restored
// to latest so a usable version remains.
func (s *Service) SoftDelete(ctx context.Context, id string, code ErrorCode, errMsg string) error {
	var parentID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`UPDATE candidates
		    SET status = 'deleted', is_latest = FALSE,
		        error_code = $1, error_message = $2,
		        deleted_at = now(), updated_at = now()
		  WHERE id = $3
		  RETURNING parent_id`,
		string(code), errMsg, id).Scan(&parentID)
	if err != nil {
		return fmt.Errorf("soft delete: %w", err)
	}

	if parentID.Valid {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE candidates SET is_latest = TRUE, updated_at = now() WHERE id = $1`,
			parentID.String); err != nil {
			return fmt.Errorf("restore parent version: %w", err)
		}
		slog.Info("Restored parent version after soft delete",
			"deleted_id", id, "parent_id", parentID.String)
	}
	return nil
}

// PurgeDeleted hard-deletes soft-deleted rows older than the retention
// window (the ≥7-day batch process).
func (s *Service) PurgeDeleted(ctx context.Context, retention time.Duration) (int64, error) {
	if retention < 7*24*time.Hour {
		retention = 7 * 24 * time.Hour
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM candidates
		  WHERE status = 'deleted' AND deleted_at < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int(retention.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("purge deleted: %w", err)
	}
	return res.RowsAffected()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func zeroNull(n int) any {
	if n == 0 {
		return nil
	}
	return n
}
