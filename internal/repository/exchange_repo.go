package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"coliblanco-backend/internal/models"
)

const maxExchangePage = 100

type ExchangeRepo struct {
	pool *pgxpool.Pool
}

func NewExchangeRepo(pool *pgxpool.Pool) *ExchangeRepo {
	return &ExchangeRepo{pool: pool}
}

func (r *ExchangeRepo) Create(ctx context.Context, ex *models.Exchange) error {
	if ex.ID == uuid.Nil {
		ex.ID = uuid.New()
	}
	if ex.Source == "" {
		ex.Source = "voice"
	}

	query := `INSERT INTO voice_exchanges (id, session_id, source, user_text, assistant_text, audio_file)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`

	return r.pool.QueryRow(ctx, query,
		ex.ID, ex.SessionID, ex.Source, ex.UserText, ex.AssistantText, ex.AudioFile,
	).Scan(&ex.CreatedAt)
}

// ListBySession returns the newest exchanges of a session, newest first.
func (r *ExchangeRepo) ListBySession(ctx context.Context, sessionID string, limit int) ([]models.Exchange, error) {
	limit = clampLimit(limit)

	query := `SELECT id, session_id, source, user_text, assistant_text, audio_file, created_at
		FROM voice_exchanges WHERE session_id = $1
		ORDER BY created_at DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	exchanges := make([]models.Exchange, 0)
	for rows.Next() {
		var ex models.Exchange
		if err := rows.Scan(&ex.ID, &ex.SessionID, &ex.Source, &ex.UserText, &ex.AssistantText, &ex.AudioFile, &ex.CreatedAt); err != nil {
			return nil, err
		}
		exchanges = append(exchanges, ex)
	}
	return exchanges, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > maxExchangePage {
		return maxExchangePage
	}
	return limit
}
