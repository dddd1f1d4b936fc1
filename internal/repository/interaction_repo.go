package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"aicaptcha/internal/models"
)

// InteractionRepository persists interaction records.
type InteractionRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewInteractionRepository creates a new repository
func NewInteractionRepository(db *sqlx.DB, logger *zap.Logger) *InteractionRepository {
	return &InteractionRepository{
		db:     db,
		logger: logger,
	}
}

type interactionRow struct {
	InteractionID   string          `db:"interaction_id"`
	SessionID       string          `db:"session_id"`
	CreatedAt       time.Time       `db:"created_at"`
	InteractionData string          `db:"interaction_data"`
	Duration        float64         `db:"duration"`
	Label           sql.NullFloat64 `db:"label"`
	UserAgent       string          `db:"user_agent"`
	Viewport        string          `db:"viewport"`
	LoadTimestamp   float64         `db:"load_timestamp"`
}

const interactionColumns = `interaction_id, session_id, created_at, interaction_data,
	duration, label, user_agent, viewport, load_timestamp`

// Create inserts rec. An empty InteractionID is filled with a new UUID and a
// zero Timestamp with the current UTC time.
func (r *InteractionRepository) Create(ctx context.Context, rec *models.InteractionRecord) error {
	if rec.InteractionID == "" {
		rec.InteractionID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	ua, err := json.Marshal(rec.UserAgent)
	if err != nil {
		return fmt.Errorf("failed to encode user agent: %w", err)
	}
	vp, err := json.Marshal(rec.Viewport)
	if err != nil {
		return fmt.Errorf("failed to encode viewport: %w", err)
	}

	query := r.db.Rebind(`
		INSERT INTO interactions (` + interactionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err = r.db.ExecContext(ctx, query,
		rec.InteractionID,
		rec.SessionID,
		rec.Timestamp,
		string(rec.InteractionData),
		rec.Duration,
		nullFloat(rec.Label),
		string(ua),
		string(vp),
		rec.LoadTimestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to save interaction: %w", err)
	}
	return nil
}

// Get returns the record with the given id, or ErrNotFound.
func (r *InteractionRepository) Get(ctx context.Context, id string) (*models.InteractionRecord, error) {
	var row interactionRow
	query := r.db.Rebind(`SELECT ` + interactionColumns + ` FROM interactions WHERE interaction_id = ?`)
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get interaction: %w", err)
	}
	return row.record()
}

// UpdateLabel overwrites the label of one record in a single statement and
// leaves every other column untouched.
func (r *InteractionRepository) UpdateLabel(ctx context.Context, id string, label float64) error {
	query := r.db.Rebind(`UPDATE interactions SET label = ? WHERE interaction_id = ?`)
	res, err := r.db.ExecContext(ctx, query, label, id)
	if err != nil {
		return fmt.Errorf("failed to update label: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListLabeled returns every labeled record in creation order.
func (r *InteractionRepository) ListLabeled(ctx context.Context) ([]models.InteractionRecord, error) {
	var rows []interactionRow
	query := `SELECT ` + interactionColumns + ` FROM interactions WHERE label IS NOT NULL ORDER BY created_at`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to query labeled interactions: %w", err)
	}

	records := make([]models.InteractionRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			r.logger.Error("Skipping unreadable interaction", zap.String("interaction_id", row.InteractionID), zap.Error(err))
			continue
		}
		records = append(records, *rec)
	}
	return records, nil
}

// List returns up to limit records, newest first. limit <= 0 means all.
func (r *InteractionRepository) List(ctx context.Context, limit int) ([]models.InteractionRecord, error) {
	var rows []interactionRow
	query := `SELECT ` + interactionColumns + ` FROM interactions ORDER BY created_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}

	records := make([]models.InteractionRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

// LabelCounts returns the label histogram and the number of unlabeled records.
func (r *InteractionRepository) LabelCounts(ctx context.Context) ([]models.LabelCount, int, error) {
	counts := []models.LabelCount{}
	query := `
		SELECT label, COUNT(*) AS count
		FROM interactions
		WHERE label IS NOT NULL
		GROUP BY label
		ORDER BY label
	`
	if err := r.db.SelectContext(ctx, &counts, query); err != nil {
		return nil, 0, fmt.Errorf("failed to count labels: %w", err)
	}

	var unlabeled int
	if err := r.db.GetContext(ctx, &unlabeled, `SELECT COUNT(*) FROM interactions WHERE label IS NULL`); err != nil {
		return nil, 0, fmt.Errorf("failed to count unlabeled interactions: %w", err)
	}
	return counts, unlabeled, nil
}

func (row interactionRow) record() (*models.InteractionRecord, error) {
	rec := &models.InteractionRecord{
		InteractionID:   row.InteractionID,
		SessionID:       row.SessionID,
		Timestamp:       row.CreatedAt.UTC(),
		InteractionData: json.RawMessage(row.InteractionData),
		Duration:        row.Duration,
		LoadTimestamp:   row.LoadTimestamp,
	}
	if row.Label.Valid {
		label := row.Label.Float64
		rec.Label = &label
	}
	if err := json.Unmarshal([]byte(row.UserAgent), &rec.UserAgent); err != nil {
		return nil, fmt.Errorf("failed to decode user agent of %s: %w", row.InteractionID, err)
	}
	if err := json.Unmarshal([]byte(row.Viewport), &rec.Viewport); err != nil {
		return nil, fmt.Errorf("failed to decode viewport of %s: %w", row.InteractionID, err)
	}
	return rec, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
