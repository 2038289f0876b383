package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Record struct {
	ID        int64           `json:"id"`
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Topic     string          `json:"topic"`
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at"`
}

// Source is a queue of records that still have to be relayed.
type Source interface {
	FetchPending(ctx context.Context, limit int) ([]Record, error)
	MarkSent(ctx context.Context, id int64) error
}

// InsertTx writes rec in the caller's transaction so it commits or rolls
// back together with the state change it describes.
func InsertTx(ctx context.Context, tx pgx.Tx, rec Record) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox(event_id, event_type, topic, key, payload)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.EventID, rec.EventType, rec.Topic, rec.Key, []byte(rec.Payload))
	return err
}

type PGSource struct{ DB *pgxpool.Pool }

func (s *PGSource) MarkSent(ctx context.Context, id int64) error {
	_, err := s.DB.Exec(ctx, `UPDATE outbox SET sent_at=now() WHERE id=$1`, id)
	return err
}

func (s *PGSource) FetchPending(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, event_id, event_type, topic, key, payload, created_at, sent_at
		FROM outbox WHERE sent_at IS NULL ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.EventType, &rec.Topic, &rec.Key, &rec.Payload, &rec.CreatedAt, &rec.SentAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
