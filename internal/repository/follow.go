package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"chirpfeed/internal/cursor"
	"chirpfeed/internal/model"
)

type followRepository struct {
	db *sqlx.DB
}

func NewFollowRepository(db *sqlx.DB) FollowRepository {
	return &followRepository{db: db}
}

// Follow inserts the edge and bumps both denormalized counters in one
// transaction. `ON CONFLICT DO NOTHING` makes a duplicate call an idempotent
// success that returns the existing edge; counters only move on a real insert.
func (r *followRepository) Follow(ctx context.Context, followerID, followeeID int64) (*model.Follow, bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var createdAt time.Time
	query := `
		INSERT INTO follows (follower_id, followee_id)
		VALUES ($1, $2)
		ON CONFLICT (follower_id, followee_id) DO NOTHING
		RETURNING created_at
	`
	err = tx.GetContext(ctx, &createdAt, query, followerID, followeeID)
	if err == sql.ErrNoRows {
		// Edge already exists; return it with its original created_at.
		var existing model.Follow
		getQuery := `
			SELECT follower_id, followee_id, created_at
			FROM follows
			WHERE follower_id = $1 AND followee_id = $2
		`
		if err := tx.GetContext(ctx, &existing, getQuery, followerID, followeeID); err != nil {
			return nil, false, fmt.Errorf("get existing follow: %w", err)
		}
		return &existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("create follow: %w", err)
	}

	_, err = tx.ExecContext(ctx, `UPDATE users SET follower_count = follower_count + 1 WHERE id = $1`, followeeID)
	if err != nil {
		return nil, false, fmt.Errorf("increment follower count: %w", err)
	}
	_, err = tx.ExecContext(ctx, `UPDATE users SET following_count = following_count + 1 WHERE id = $1`, followerID)
	if err != nil {
		return nil, false, fmt.Errorf("increment following count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit transaction: %w", err)
	}

	return &model.Follow{
		FollowerID: followerID,
		FolloweeID: followeeID,
		CreatedAt:  createdAt,
	}, true, nil
}

// Unfollow hard-deletes the edge so a re-follow gets a fresh created_at.
// A missing edge removes nothing and succeeds.
func (r *followRepository) Unfollow(ctx context.Context, followerID, followeeID int64) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`DELETE FROM follows WHERE follower_id = $1 AND followee_id = $2`,
		followerID, followeeID)
	if err != nil {
		return false, fmt.Errorf("delete follow: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `UPDATE users SET follower_count = follower_count - 1 WHERE id = $1`, followeeID)
	if err != nil {
		return false, fmt.Errorf("decrement follower count: %w", err)
	}
	_, err = tx.ExecContext(ctx, `UPDATE users SET following_count = following_count - 1 WHERE id = $1`, followerID)
	if err != nil {
		return false, fmt.Errorf("decrement following count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}

	return true, nil
}

func (r *followRepository) Exists(ctx context.Context, followerID, followeeID int64) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM follows WHERE follower_id = $1 AND followee_id = $2)`
	var exists bool
	err := r.db.GetContext(ctx, &exists, query, followerID, followeeID)
	if err != nil {
		return false, fmt.Errorf("check follow existence: %w", err)
	}
	return exists, nil
}

// edgeRole selects which side of the edge a listing walks: the users who
// follow someone, or the users someone follows. One parametrized query
// serves both directions instead of two near-duplicate implementations.
type edgeRole int

const (
	roleFollowers edgeRole = iota
	roleFollowing
)

// listEdges pages one side of the graph newest-first. Keyset pagination on
// (created_at, adjacent user id) keeps pages stable while edges are being
// created: fetch limit+1 rows to probe for more, trim, and cursor on the
// last row's position.
func (r *followRepository) listEdges(ctx context.Context, role edgeRole, userID int64, cur *cursor.Key, limit int) ([]model.FollowEdgeUser, *cursor.Key, error) {
	joinCol, whereCol := "follower_id", "followee_id"
	if role == roleFollowing {
		joinCol, whereCol = "followee_id", "follower_id"
	}

	var query string
	var args []interface{}

	if cur == nil {
		query = fmt.Sprintf(`
			SELECT u.id, u.username, u.display_name, u.avatar_url, f.created_at AS followed_at
			FROM follows f
			JOIN users u ON u.id = f.%s
			WHERE f.%s = $1
			ORDER BY f.created_at DESC, f.%s DESC
			LIMIT $2
		`, joinCol, whereCol, joinCol)
		args = []interface{}{userID, limit + 1}
	} else {
		query = fmt.Sprintf(`
			SELECT u.id, u.username, u.display_name, u.avatar_url, f.created_at AS followed_at
			FROM follows f
			JOIN users u ON u.id = f.%s
			WHERE f.%s = $1 AND (f.created_at, f.%s) < ($2, $3)
			ORDER BY f.created_at DESC, f.%s DESC
			LIMIT $4
		`, joinCol, whereCol, joinCol, joinCol)
		args = []interface{}{userID, time.UnixMicro(cur.Ord).UTC(), cur.ID, limit + 1}
	}

	var results []model.FollowEdgeUser
	if err := r.db.SelectContext(ctx, &results, query, args...); err != nil {
		return nil, nil, fmt.Errorf("list edges: %w", err)
	}

	var next *cursor.Key
	if len(results) > limit {
		results = results[:limit]
		last := results[len(results)-1]
		next = &cursor.Key{Ord: last.FollowedAt.UnixMicro(), ID: last.ID}
	}

	return results, next, nil
}

func (r *followRepository) ListFollowers(ctx context.Context, userID int64, cur *cursor.Key, limit int) ([]model.FollowEdgeUser, *cursor.Key, error) {
	return r.listEdges(ctx, roleFollowers, userID, cur, limit)
}

func (r *followRepository) ListFollowing(ctx context.Context, userID int64, cur *cursor.Key, limit int) ([]model.FollowEdgeUser, *cursor.Key, error) {
	return r.listEdges(ctx, roleFollowing, userID, cur, limit)
}

func (r *followRepository) CountFollowers(ctx context.Context, userID int64) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM follows WHERE followee_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("count followers: %w", err)
	}
	return count, nil
}

func (r *followRepository) CountFollowing(ctx context.Context, userID int64) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM follows WHERE follower_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("count following: %w", err)
	}
	return count, nil
}

func (r *followRepository) CheckFollows(ctx context.Context, followerID int64, followeeIDs []int64) (map[int64]bool, error) {
	if len(followeeIDs) == 0 {
		return make(map[int64]bool), nil
	}

	query := `SELECT followee_id FROM follows WHERE follower_id = $1 AND followee_id = ANY($2)`
	var followedIDs []int64
	err := r.db.SelectContext(ctx, &followedIDs, query, followerID, pq.Array(followeeIDs))
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("check follows: %w", err)
	}

	result := make(map[int64]bool)
	for _, id := range followeeIDs {
		result[id] = false
	}
	for _, id := range followedIDs {
		result[id] = true
	}

	return result, nil
}

func (r *followRepository) GetFolloweeIDs(ctx context.Context, userID int64) ([]int64, error) {
	var ids []int64
	err := r.db.SelectContext(ctx, &ids,
		`SELECT followee_id FROM follows WHERE follower_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("get followee ids: %w", err)
	}
	return ids, nil
}

// FollowerIDPage walks the follower set in bounded pages ordered by follower
// ID, so fan-out never materializes a high-follower author's full adjacency
// in memory and a retried batch can resume where it stopped.
func (r *followRepository) FollowerIDPage(ctx context.Context, userID, afterID int64, limit int) ([]int64, error) {
	var ids []int64
	err := r.db.SelectContext(ctx, &ids, `
		SELECT follower_id FROM follows
		WHERE followee_id = $1 AND follower_id > $2
		ORDER BY follower_id ASC
		LIMIT $3
	`, userID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("follower id page: %w", err)
	}
	return ids, nil
}

func (r *followRepository) CelebrityFolloweeIDs(ctx context.Context, viewerID int64, threshold int) ([]int64, error) {
	var ids []int64
	err := r.db.SelectContext(ctx, &ids, `
		SELECT f.followee_id
		FROM follows f
		JOIN users u ON u.id = f.followee_id
		WHERE f.follower_id = $1 AND u.follower_count >= $2
	`, viewerID, threshold)
	if err != nil {
		return nil, fmt.Errorf("celebrity followee ids: %w", err)
	}
	return ids, nil
}
