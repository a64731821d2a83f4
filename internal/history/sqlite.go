// Package history stores what has been published so the selector can refuse
// exact repeats inside the dedup window.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/ObiAU/commentcurator/internal/models"
	"github.com/ObiAU/commentcurator/internal/storage"
)

const historyTable = "published_history"

// SQLite is the persistent history store.
type SQLite struct {
	db *storage.DB
}

var _ models.HistoryStore = (*SQLite)(nil)

func NewSQLite(db *storage.DB) *SQLite {
	return &SQLite{db: db}
}

// Exists reports whether content was published after since with a non-null
// publish id.
func (s *SQLite) Exists(ctx context.Context, content string, since time.Time) (bool, error) {
	query, args, err := sq.Select("COUNT(*)").
		From(historyTable).
		Where(sq.Eq{"content": content}).
		Where(sq.Gt{"published_at": since.UnixMilli()}).
		Where(sq.NotEq{"publish_id": nil}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build exists query: %w", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("query history: %w", err)
	}
	return count > 0, nil
}

// Append inserts one record. An empty publish id is stored as NULL.
func (s *SQLite) Append(ctx context.Context, record models.Record) error {
	if record.PublishedAt.IsZero() {
		record.PublishedAt = time.Now()
	}

	var publishID sql.NullString
	if record.PublishID != "" {
		publishID = sql.NullString{String: record.PublishID, Valid: true}
	}

	query, args, err := sq.Insert(historyTable).
		Columns("content", "publish_id", "published_at", "entry_id", "source", "confidence").
		Values(record.Content, publishID, record.PublishedAt.UnixMilli(), record.EntryID, record.Source, record.Confidence).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	return s.db.WithWriteLock(func() error {
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
		return nil
	})
}

// Recent returns the newest records first, up to limit.
func (s *SQLite) Recent(ctx context.Context, limit int) ([]models.Record, error) {
	query, args, err := sq.Select("content", "publish_id", "published_at", "entry_id", "source", "confidence").
		From(historyTable).
		OrderBy("published_at DESC", "id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var out []models.Record
	for rows.Next() {
		var (
			r          models.Record
			publishID  sql.NullString
			entryID    sql.NullString
			source     sql.NullString
			confidence sql.NullFloat64
			millis     int64
		)
		if err := rows.Scan(&r.Content, &publishID, &millis, &entryID, &source, &confidence); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.PublishID = publishID.String
		r.PublishedAt = time.UnixMilli(millis)
		r.EntryID = entryID.String
		r.Source = source.String
		r.Confidence = confidence.Float64
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}
