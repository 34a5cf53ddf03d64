package persistence

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/talenthive/cvflow/pkg/models"
)

// SaveChunks inserts the embedded chunks for a candidate, first deleting
// any chunks of the superseded parent version. Inserts are tracked on sc
// so a later failure rolls back every chunk written in this job.
func (s *Service) SaveChunks(ctx context.Context, sc *SaveContext, candidateID, parentID string, chunks []models.Chunk) (int, error) {
	if parentID != "" {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM candidate_chunks WHERE candidate_id = $1`, parentID); err != nil {
			return 0, fmt.Errorf("delete superseded chunks: %w", err)
		}
	}

	saved := 0
	for _, chunk := range chunks {
		if chunk.Embedding == nil {
			continue // failed chunks are excluded; the record is not searchable over them
		}
		metadata := chunk.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		metaJSON, err := marshalJSON(metadata)
		if err != nil {
			return saved, fmt.Errorf("encode chunk metadata: %w", err)
		}

		var id string
		err = s.db.QueryRowContext(ctx, `
			INSERT INTO candidate_chunks (candidate_id, chunk_index, chunk_type, content, metadata, embedding)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			candidateID, chunk.Index, string(chunk.Type), chunk.Content, metaJSON,
			pgvector.NewVector(chunk.Embedding),
		).Scan(&id)
		if err != nil {
			return saved, fmt.Errorf("insert chunk %d (%s): %w", chunk.Index, chunk.Type, err)
		}
		sc.TrackInsert("candidate_chunks", id)
		saved++
	}
	return saved, nil
}

// ChunkCount returns the number of stored chunks for a candidate.
func (s *Service) ChunkCount(ctx context.Context, candidateID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM candidate_chunks WHERE candidate_id = $1`, candidateID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}
