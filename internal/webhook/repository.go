package webhook

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/marketsim/tradingcore/internal/store"
)

// PostgresRepository persists webhook subscriptions. Webhook management
// is the sole writer of the webhooks table (§3 Ownership).
type PostgresRepository struct {
	pool   *store.Pool
	logger zerolog.Logger
}

func NewPostgresRepository(pool *store.Pool, logger zerolog.Logger) *PostgresRepository {
	return &PostgresRepository{pool: pool, logger: logger.With().Str("component", "webhook.repository").Logger()}
}

func (r *PostgresRepository) Insert(ctx context.Context, s *Subscription) error {
	const q = `INSERT INTO webhooks (id, url, event_types, secret, active, created_at) VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := r.pool.Exec(ctx, q, s.ID, s.URL, s.Events, "", s.Active, s.CreatedAt); err != nil {
		return fmt.Errorf("inserting webhook %s: %w", s.ID, err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	const q = `SELECT id, url, event_types, active, created_at FROM webhooks WHERE id = $1`
	row := r.pool.QueryRow(ctx, q, id)

	var s Subscription
	if err := row.Scan(&s.ID, &s.URL, &s.Events, &s.Active, &s.CreatedAt); err != nil {
		return nil, fmt.Errorf("reading webhook %s: %w", id, err)
	}
	return &s, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]*Subscription, error) {
	const q = `SELECT id, url, event_types, active, created_at FROM webhooks`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing webhooks: %w", err)
	}
	defer rows.Close()

	var out []*Subscription
	for rows.Next() {
		var s Subscription
		if err := rows.Scan(&s.ID, &s.URL, &s.Events, &s.Active, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning webhook row: %w", err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Update(ctx context.Context, s *Subscription) error {
	const q = `UPDATE webhooks SET url = $2, event_types = $3, active = $4 WHERE id = $1`
	if _, err := r.pool.Exec(ctx, q, s.ID, s.URL, s.Events, s.Active); err != nil {
		return fmt.Errorf("updating webhook %s: %w", s.ID, err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	const q = `DELETE FROM webhooks WHERE id = $1`
	if _, err := r.pool.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("deleting webhook %s: %w", id, err)
	}
	return nil
}
