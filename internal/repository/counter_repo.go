package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// CounterRepository persists named integer counters.
type CounterRepository struct {
	db *sqlx.DB
}

func NewCounterRepository(db *sqlx.DB) *CounterRepository {
	return &CounterRepository{db: db}
}

// Load returns the stored value of name, or 0 if it was never stored.
func (r *CounterRepository) Load(ctx context.Context, name string) (int64, error) {
	var value int64
	err := r.db.GetContext(ctx, &value, r.db.Rebind(`SELECT value FROM counters WHERE name = ?`), name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load counter %s: %w", name, err)
	}
	return value, nil
}

// Store upserts the value of name.
func (r *CounterRepository) Store(ctx context.Context, name string, value int64) error {
	query := r.db.Rebind(`
		INSERT INTO counters (name, value) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET value = excluded.value
	`)
	if _, err := r.db.ExecContext(ctx, query, name, value); err != nil {
		return fmt.Errorf("failed to store counter %s: %w", name, err)
	}
	return nil
}
