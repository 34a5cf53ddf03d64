package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// HasCredit reports whether the user has a spare credit or monthly
// allowance remaining, without consuming anything.
func (s *Service) HasCredit(ctx context.Context, userID string) (bool, error) {
	var credits, used, cap int
	err := s.db.QueryRowContext(ctx,
		`SELECT credits, credits_used_this_month, monthly_cap
		   FROM user_credits WHERE user_id = $1`, userID).
		Scan(&credits, &used, &cap)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("credit check: %w", err)
	}
	return credits > 0 || used < cap, nil
}

// DeductCredit atomically debits one credit through the deduct_credit
// stored procedure (spare balance first, else monthly usage up to the
// plan cap) and records the transaction. Returns ErrNoCredit when
// nothing could be debited.
func (s *Service) DeductCredit(ctx context.Context, userID, candidateID string) error {
	var kind sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT deduct_credit($1)`, userID).Scan(&kind)
	if err != nil {
		return fmt.Errorf("deduct credit: %w", err)
	}
	if !kind.Valid {
		return ErrNoCredit
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO credit_transactions (user_id, candidate_id, amount, kind)
		 VALUES ($1, $2, 1, $3)`,
		userID, nullable(candidateID), kind.String); err != nil {
		return fmt.Errorf("record credit transaction: %w", err)
	}
	return nil
}

func marshalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}
