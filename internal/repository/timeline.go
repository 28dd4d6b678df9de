package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"chirpfeed/internal/cursor"
	"chirpfeed/internal/model"
)

type timelineRepository struct {
	db *sqlx.DB
}

func NewTimelineRepository(db *sqlx.DB) TimelineRepository {
	return &timelineRepository{db: db}
}

// Append writes one fan-out delivery. The unique (owner_user_id, post_id)
// constraint turns redelivered or retried appends into no-ops, which is what
// makes at-least-once delivery safe.
func (r *timelineRepository) Append(ctx context.Context, ownerID, postID, orderingKey int64) (bool, error) {
	query := `
		INSERT INTO timeline_entries (owner_user_id, post_id, ordering_key)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner_user_id, post_id) DO NOTHING
	`
	result, err := r.db.ExecContext(ctx, query, ownerID, postID, orderingKey)
	if err != nil {
		return false, fmt.Errorf("append timeline entry: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rows > 0, nil
}

// ReadPage pages one owner's timeline newest-first. The keyset predicate on
// (ordering_key, post_id) means entries appended mid-pagination can never
// duplicate or hide entries that existed before the first page was read.
func (r *timelineRepository) ReadPage(ctx context.Context, ownerID int64, cur *cursor.Key, limit int) ([]model.TimelineEntry, *cursor.Key, error) {
	var query string
	var args []interface{}

	if cur == nil {
		query = `
			SELECT owner_user_id, post_id, ordering_key
			FROM timeline_entries
			WHERE owner_user_id = $1
			ORDER BY ordering_key DESC, post_id DESC
			LIMIT $2
		`
		args = []interface{}{ownerID, limit + 1}
	} else {
		query = `
			SELECT owner_user_id, post_id, ordering_key
			FROM timeline_entries
			WHERE owner_user_id = $1 AND (ordering_key, post_id) < ($2, $3)
			ORDER BY ordering_key DESC, post_id DESC
			LIMIT $4
		`
		args = []interface{}{ownerID, cur.Ord, cur.ID, limit + 1}
	}

	var entries []model.TimelineEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, nil, fmt.Errorf("read timeline page: %w", err)
	}

	var next *cursor.Key
	if len(entries) > limit {
		entries = entries[:limit]
		last := entries[len(entries)-1]
		next = &cursor.Key{Ord: last.OrderingKey, ID: last.PostID}
	}

	return entries, next, nil
}

func (r *timelineRepository) Remove(ctx context.Context, ownerID, postID int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM timeline_entries WHERE owner_user_id = $1 AND post_id = $2`,
		ownerID, postID)
	if err != nil {
		return fmt.Errorf("remove timeline entry: %w", err)
	}
	return nil
}

func (r *timelineRepository) RemoveByAuthor(ctx context.Context, ownerID, authorID int64) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM timeline_entries te
		USING posts p
		WHERE te.post_id = p.id AND te.owner_user_id = $1 AND p.user_id = $2
	`, ownerID, authorID)
	if err != nil {
		return 0, fmt.Errorf("remove timeline entries by author: %w", err)
	}
	return result.RowsAffected()
}

// RecordFailure upserts an exhausted delivery into fanout_failures so the
// out-of-band reconciler can replay it. An append retried past its budget
// must end up here instead of failing the whole fan-out.
func (r *timelineRepository) RecordFailure(ctx context.Context, ownerID, postID, orderingKey int64, reason string) error {
	query := `
		INSERT INTO fanout_failures (owner_user_id, post_id, ordering_key, status, attempts, last_error)
		VALUES ($1, $2, $3, 'pending', 1, $4)
		ON CONFLICT (owner_user_id, post_id) DO UPDATE
		SET attempts = fanout_failures.attempts + 1, last_error = EXCLUDED.last_error
	`
	_, err := r.db.ExecContext(ctx, query, ownerID, postID, orderingKey, reason)
	if err != nil {
		return fmt.Errorf("record fanout failure: %w", err)
	}
	return nil
}
