package repository_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"chirpfeed/internal/cursor"
	"chirpfeed/internal/model"
	"chirpfeed/internal/repository"
)

const postTestSchema = `
CREATE TABLE IF NOT EXISTS users (
    id              BIGSERIAL PRIMARY KEY,
    username        TEXT NOT NULL UNIQUE,
    password_hashed TEXT NOT NULL,
    display_name    TEXT,
    avatar_url      TEXT,
    follower_count  INTEGER NOT NULL DEFAULT 0,
    following_count INTEGER NOT NULL DEFAULT 0,
    post_count      INTEGER NOT NULL DEFAULT 0,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS posts (
    id         BIGSERIAL PRIMARY KEY,
    user_id    BIGINT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
    content    TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    deleted_at TIMESTAMPTZ
);
`

func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping database test")
	}

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		t.Skipf("Database not available, skipping test: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(postTestSchema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	if _, err := db.Exec(`TRUNCATE posts, users RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("reset tables: %v", err)
	}
	return db
}

func createTestUser(t *testing.T, db *sqlx.DB, username string) int64 {
	t.Helper()

	var id int64
	err := db.Get(&id, `INSERT INTO users (username, password_hashed) VALUES ($1, 'x') RETURNING id`, username)
	if err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return id
}

func TestPostRepositoryDelete_DistinguishesOwnership(t *testing.T) {
	db := setupTestDB(t)
	repo := repository.NewPostRepository(db)
	ctx := context.Background()

	author := createTestUser(t, db, "author")
	other := createTestUser(t, db, "other")

	post, err := repo.Create(ctx, author, "hello")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := repo.Delete(ctx, post.ID, other); !errors.Is(err, model.ErrNotPostOwner) {
		t.Fatalf("delete by non-owner: got %v, want ErrNotPostOwner", err)
	}
	if _, err := repo.GetByID(ctx, post.ID); err != nil {
		t.Fatalf("post must survive a non-owner delete: %v", err)
	}

	if err := repo.Delete(ctx, post.ID, author); err != nil {
		t.Fatalf("delete by owner: %v", err)
	}

	if err := repo.Delete(ctx, post.ID, author); !errors.Is(err, model.ErrPostNotFound) {
		t.Fatalf("second delete: got %v, want ErrPostNotFound", err)
	}
	if err := repo.Delete(ctx, 999999, author); !errors.Is(err, model.ErrPostNotFound) {
		t.Fatalf("delete of unknown post: got %v, want ErrPostNotFound", err)
	}
}

func TestPostRepositoryListByAuthor_PagesToExhaustion(t *testing.T) {
	db := setupTestDB(t)
	repo := repository.NewPostRepository(db)
	ctx := context.Background()

	author := createTestUser(t, db, "author")
	bystander := createTestUser(t, db, "bystander")

	created := make(map[int64]bool)
	for i := 0; i < 5; i++ {
		post, err := repo.Create(ctx, author, "post")
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		created[post.ID] = true
	}
	if _, err := repo.Create(ctx, bystander, "other author"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	var got []int64
	var cur *cursor.Key
	for pages := 0; pages < 10; pages++ {
		posts, next, err := repo.ListByAuthor(ctx, author, cur, 2)
		if err != nil {
			t.Fatalf("ListByAuthor page %d: %v", pages, err)
		}
		for _, p := range posts {
			got = append(got, p.ID)
			if p.Author == nil || p.Author.Username != "author" {
				t.Errorf("post %d missing author summary: %+v", p.ID, p.Author)
			}
		}
		if next == nil {
			break
		}
		cur = next
	}

	if len(got) != len(created) {
		t.Fatalf("paged %d posts, want %d", len(got), len(created))
	}
	seen := make(map[int64]bool)
	for i, id := range got {
		if !created[id] {
			t.Errorf("unexpected post %d in listing", id)
		}
		if seen[id] {
			t.Errorf("post %d returned twice", id)
		}
		seen[id] = true
		if i > 0 && got[i] > got[i-1] {
			t.Errorf("listing not newest-first: %v", got)
		}
	}
}
