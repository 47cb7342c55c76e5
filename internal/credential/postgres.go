package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/valinor-ai/useradmin/internal/platform/database"
)

// PostgresBackend keeps hashes in the credentials table.
type PostgresBackend struct {
	q database.Querier
}

func NewPostgresBackend(q database.Querier) *PostgresBackend {
	return &PostgresBackend{q: q}
}

func (p *PostgresBackend) PutHash(ctx context.Context, userID int64, hash []byte) error {
	_, err := p.q.Exec(ctx,
		`INSERT INTO credentials (user_id, hash, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (user_id) DO UPDATE
		 SET hash = EXCLUDED.hash, updated_at = now()`,
		userID, hash,
	)
	if err != nil {
		return fmt.Errorf("storing credential: %w", err)
	}
	return nil
}

func (p *PostgresBackend) GetHash(ctx context.Context, userID int64) ([]byte, error) {
	var hash []byte
	err := p.q.QueryRow(ctx, `SELECT hash FROM credentials WHERE user_id = $1`, userID).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting credential: %w", err)
	}
	return hash, nil
}

func (p *PostgresBackend) DeleteHash(ctx context.Context, userID int64) error {
	if _, err := p.q.Exec(ctx, `DELETE FROM credentials WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}
	return nil
}
