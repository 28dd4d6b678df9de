package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"chirpfeed/internal/cache"
	"chirpfeed/internal/cursor"
	"chirpfeed/internal/model"
	"chirpfeed/internal/queue"
	"chirpfeed/internal/repository"
)

const (
	// PostListDefaultLimit is the default number of posts per page
	PostListDefaultLimit = 20

	// PostListMaxLimit is the maximum number of posts per page
	PostListMaxLimit = 100
)

type PostService struct {
	postRepo      repository.PostRepository
	publisher     queue.Publisher
	strictCursors bool
}

func NewPostService(postRepo repository.PostRepository, publisher queue.Publisher, strictCursors bool) *PostService {
	return &PostService{
		postRepo:      postRepo,
		publisher:     publisher,
		strictCursors: strictCursors,
	}
}

// Create validates and stores a post, then emits the event that drives
// fan-out. Publishing happens only after the post is durably committed;
// if the publish fails the post still exists and a reconciliation sweep
// can re-emit it.
func (s *PostService) Create(ctx context.Context, userID int64, req *model.CreatePostRequest) (*model.Post, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, model.ErrContentEmpty
	}
	if len(content) > model.MaxPostContentLength {
		return nil, model.ErrContentTooLong
	}

	post, err := s.postRepo.Create(ctx, userID, content)
	if err != nil {
		return nil, err
	}

	if s.publisher != nil {
		event := queue.NewPostCreatedEvent(post.ID, userID, model.TimelineOrderingKey(post.CreatedAt))
		msgID, err := s.publisher.Publish(ctx, queue.StreamTimeline, event)
		if err != nil {
			log.Printf("[PostService] Failed to publish PostCreated event: post=%d err=%v", post.ID, err)
		} else {
			log.Printf("[PostService] Published PostCreated: post=%d author=%d msgID=%s", post.ID, userID, msgID)
		}
	}

	return post, nil
}

func (s *PostService) GetByID(ctx context.Context, postID int64) (*model.Post, error) {
	return s.postRepo.GetByID(ctx, postID)
}

// ListByAuthor returns one page of a user's posts, newest first, with the
// same opaque keyset cursor the follow listings and timeline use.
func (s *PostService) ListByAuthor(ctx context.Context, authorID int64, cursorToken *string, limit int) (*model.PostListResponse, error) {
	if limit <= 0 {
		limit = PostListDefaultLimit
	}
	if limit > PostListMaxLimit {
		limit = PostListMaxLimit
	}

	cur, err := decodeCursor(cursorToken, s.strictCursors)
	if err != nil {
		return nil, err
	}

	posts, next, err := s.postRepo.ListByAuthor(ctx, authorID, cur, limit)
	if err != nil {
		return nil, fmt.Errorf("list posts by author: %w", err)
	}
	if posts == nil {
		posts = []model.Post{}
	}

	s.enrichAuthors(ctx, posts)

	var nextToken *string
	if next != nil {
		token := cursor.Encode(*next)
		nextToken = &token
	}

	return &model.PostListResponse{
		Posts:      posts,
		NextCursor: nextToken,
		HasMore:    next != nil,
	}, nil
}

// enrichAuthors marks which post authors the viewer follows, via the
// request-scoped following set. Best-effort.
func (s *PostService) enrichAuthors(ctx context.Context, posts []model.Post) {
	set := cache.FromContext(ctx)
	if set == nil || len(posts) == 0 {
		return
	}

	authorIDs := make([]int64, 0, len(posts))
	for _, p := range posts {
		if p.Author != nil {
			authorIDs = append(authorIDs, p.Author.ID)
		}
	}

	followMap, err := set.HasFollowedAny(ctx, authorIDs)
	if err != nil {
		log.Printf("[PostService] author follow enrichment failed: %v", err)
		return
	}

	for i := range posts {
		if posts[i].Author != nil {
			posts[i].Author.HasFollowed = followMap[posts[i].Author.ID]
		}
	}
}

// Delete soft-deletes the caller's post and emits the event that scrubs it
// from follower timelines.
func (s *PostService) Delete(ctx context.Context, postID, userID int64) error {
	if err := s.postRepo.Delete(ctx, postID, userID); err != nil {
		return err
	}

	if s.publisher != nil {
		event := queue.NewPostDeletedEvent(postID, userID)
		msgID, err := s.publisher.Publish(ctx, queue.StreamTimeline, event)
		if err != nil {
			log.Printf("[PostService] Failed to publish PostDeleted event: post=%d err=%v", postID, err)
		} else {
			log.Printf("[PostService] Published PostDeleted: post=%d msgID=%s", postID, msgID)
		}
	}

	return nil
}
