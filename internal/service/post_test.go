package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"chirpfeed/internal/cursor"
	"chirpfeed/internal/model"
	"chirpfeed/internal/queue"
)

// =============================================================================
// HELPERS
// =============================================================================

// authorPosts builds a newest-first post list for one author with ordering
// keys derived from synthetic creation times.
func authorPosts(authorID int64, ids ...int64) []model.Post {
	posts := make([]model.Post, len(ids))
	for i, id := range ids {
		posts[i] = model.Post{
			ID:        id,
			UserID:    authorID,
			Content:   "post",
			CreatedAt: time.UnixMicro(id * 100).UTC(),
		}
	}
	return posts
}

// keysetListByAuthor serves pages from a fixed newest-first post list the
// way the repository does: posts strictly after the cursor position, a
// limit+1 probe deciding the next key.
func keysetListByAuthor(posts []model.Post) func(ctx context.Context, authorID int64, cur *cursor.Key, limit int) ([]model.Post, *cursor.Key, error) {
	return func(ctx context.Context, authorID int64, cur *cursor.Key, limit int) ([]model.Post, *cursor.Key, error) {
		var page []model.Post
		for _, p := range posts {
			ord := model.TimelineOrderingKey(p.CreatedAt)
			if cur != nil {
				after := ord < cur.Ord || (ord == cur.Ord && p.ID < cur.ID)
				if !after {
					continue
				}
			}
			page = append(page, p)
			if len(page) == limit+1 {
				break
			}
		}

		var next *cursor.Key
		if len(page) > limit {
			page = page[:limit]
			last := page[limit-1]
			next = &cursor.Key{Ord: model.TimelineOrderingKey(last.CreatedAt), ID: last.ID}
		}
		return page, next, nil
	}
}

func newPostService(posts *mockPostRepository, pub *mockPublisher) *PostService {
	var p queue.Publisher
	if pub != nil {
		p = pub
	}
	return NewPostService(posts, p, false)
}

// =============================================================================
// TESTS
// =============================================================================

func TestPostService_Create_PublishesEvent(t *testing.T) {
	pub := &mockPublisher{}
	svc := newPostService(&mockPostRepository{}, pub)

	post, err := svc.Create(context.Background(), 1, &model.CreatePostRequest{Content: "  hello  "})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if post.Content != "hello" {
		t.Errorf("content not trimmed: %q", post.Content)
	}
	if len(pub.published) != 1 || pub.published[0].Type != queue.EventPostCreated {
		t.Fatalf("expected one post_created event, got %+v", pub.published)
	}
}

func TestPostService_Create_RejectsBadContent(t *testing.T) {
	svc := newPostService(&mockPostRepository{}, nil)

	if _, err := svc.Create(context.Background(), 1, &model.CreatePostRequest{Content: "   "}); err != model.ErrContentEmpty {
		t.Errorf("blank content: got %v, want ErrContentEmpty", err)
	}

	long := strings.Repeat("a", model.MaxPostContentLength+1)
	if _, err := svc.Create(context.Background(), 1, &model.CreatePostRequest{Content: long}); err != model.ErrContentTooLong {
		t.Errorf("oversized content: got %v, want ErrContentTooLong", err)
	}
}

func TestPostService_Delete_PublishesEvent(t *testing.T) {
	pub := &mockPublisher{}
	svc := newPostService(&mockPostRepository{}, pub)

	if err := svc.Delete(context.Background(), 10, 1); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(pub.published) != 1 || pub.published[0].Type != queue.EventPostDeleted {
		t.Fatalf("expected one post_deleted event, got %+v", pub.published)
	}
}

func TestPostService_ListByAuthor_PagesToExhaustion(t *testing.T) {
	posts := &mockPostRepository{
		listByAuthorFn: keysetListByAuthor(authorPosts(7, 50, 40, 30, 20, 10)),
	}
	svc := newPostService(posts, nil)

	var got []int64
	var token *string
	for i := 0; i < 10; i++ {
		resp, err := svc.ListByAuthor(context.Background(), 7, token, 2)
		if err != nil {
			t.Fatalf("ListByAuthor page %d: %v", i, err)
		}
		for _, p := range resp.Posts {
			got = append(got, p.ID)
		}
		if !resp.HasMore {
			break
		}
		token = resp.NextCursor
	}

	want := []int64{50, 40, 30, 20, 10}
	if len(got) != len(want) {
		t.Fatalf("paged to exhaustion: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("paged to exhaustion: got %v, want %v", got, want)
		}
	}
}

func TestPostService_ListByAuthor_NextCursorRoundTrip(t *testing.T) {
	posts := &mockPostRepository{
		listByAuthorFn: keysetListByAuthor(authorPosts(7, 30, 20, 10)),
	}
	svc := newPostService(posts, nil)

	resp, err := svc.ListByAuthor(context.Background(), 7, nil, 2)
	if err != nil {
		t.Fatalf("ListByAuthor: %v", err)
	}
	if !resp.HasMore || resp.NextCursor == nil {
		t.Fatalf("expected next cursor, got %+v", resp)
	}

	key, err := cursor.Decode(*resp.NextCursor)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := cursor.Key{Ord: 2000, ID: 20}
	if key != want {
		t.Errorf("cursor mismatch: got %+v want %+v", key, want)
	}
}

func TestPostService_ListByAuthor_LimitClamped(t *testing.T) {
	var gotLimit int
	posts := &mockPostRepository{
		listByAuthorFn: func(ctx context.Context, authorID int64, cur *cursor.Key, limit int) ([]model.Post, *cursor.Key, error) {
			gotLimit = limit
			return nil, nil, nil
		},
	}
	svc := newPostService(posts, nil)

	if _, err := svc.ListByAuthor(context.Background(), 7, nil, 9999); err != nil {
		t.Fatalf("ListByAuthor: %v", err)
	}
	if gotLimit != PostListMaxLimit {
		t.Errorf("expected limit clamped to %d, got %d", PostListMaxLimit, gotLimit)
	}

	if _, err := svc.ListByAuthor(context.Background(), 7, nil, 0); err != nil {
		t.Fatalf("ListByAuthor: %v", err)
	}
	if gotLimit != PostListDefaultLimit {
		t.Errorf("expected default limit %d, got %d", PostListDefaultLimit, gotLimit)
	}
}
