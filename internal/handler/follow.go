package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"chirpfeed/internal/cursor"
	"chirpfeed/internal/httputil"
	"chirpfeed/internal/model"
	"chirpfeed/internal/service"
	"chirpfeed/internal/transport/http/middleware"
)

type FollowHandler struct {
	followService *service.FollowService
}

func NewFollowHandler(followService *service.FollowService) *FollowHandler {
	return &FollowHandler{
		followService: followService,
	}
}

// Follow creates a follow edge
// POST /users/{id}/follow
func (h *FollowHandler) Follow(w http.ResponseWriter, r *http.Request) {
	followerID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	followeeID, err := parseIDParam(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "Invalid user ID")
		return
	}

	edge, err := h.followService.Follow(r.Context(), followerID, followeeID)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrCannotFollowSelf):
			httputil.WriteBadRequest(w, err.Error())
		case errors.Is(err, model.ErrUserNotFound):
			httputil.WriteNotFound(w, err.Error())
		default:
			log.Printf("[ERROR] Follow handler: %v", err)
			httputil.WriteInternalError(w, "Failed to follow user")
		}
		return
	}

	httputil.WriteJSON(w, http.StatusOK, edge)
}

// Unfollow removes a follow edge; removing a missing edge still succeeds
// DELETE /users/{id}/follow
func (h *FollowHandler) Unfollow(w http.ResponseWriter, r *http.Request) {
	followerID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	followeeID, err := parseIDParam(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "Invalid user ID")
		return
	}

	if err := h.followService.Unfollow(r.Context(), followerID, followeeID); err != nil {
		log.Printf("[ERROR] Unfollow handler: %v", err)
		httputil.WriteInternalError(w, "Failed to unfollow user")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Successfully unfollowed user",
	})
}

// GetFollowers lists a user's followers
// GET /users/{id}/followers?cursor=&limit=
func (h *FollowHandler) GetFollowers(w http.ResponseWriter, r *http.Request) {
	h.listEdges(w, r, h.followService.GetFollowers)
}

// GetFollowing lists who a user follows
// GET /users/{id}/following?cursor=&limit=
func (h *FollowHandler) GetFollowing(w http.ResponseWriter, r *http.Request) {
	h.listEdges(w, r, h.followService.GetFollowing)
}

type edgeLister func(ctx context.Context, userID int64, cursorToken *string, limit int, viewerID *int64) (*model.FollowListResponse, error)

func (h *FollowHandler) listEdges(w http.ResponseWriter, r *http.Request, list edgeLister) {
	userID, err := parseIDParam(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "Invalid user ID")
		return
	}

	cursorToken := optionalQuery(r, "cursor")

	limit, err := parseLimit(r, service.FollowListDefaultLimit, service.FollowListMaxLimit)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	var viewerID *int64
	if id, ok := middleware.GetUserIDFromContext(r.Context()); ok {
		viewerID = &id
	}

	resp, err := list(r.Context(), userID, cursorToken, limit, viewerID)
	if err != nil {
		if errors.Is(err, cursor.ErrInvalid) {
			httputil.WriteBadRequest(w, "Invalid cursor")
			return
		}
		log.Printf("[ERROR] List follows handler: %v", err)
		httputil.WriteInternalError(w, "Failed to list follows")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HasFollowed answers whether the viewer follows a user
// GET /users/{id}/has-followed
func (h *FollowHandler) HasFollowed(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	userID, err := parseIDParam(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "Invalid user ID")
		return
	}

	followed, err := h.followService.HasFollowed(r.Context(), viewerID, userID)
	if err != nil {
		log.Printf("[ERROR] HasFollowed handler: %v", err)
		httputil.WriteInternalError(w, "Failed to check follow status")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]bool{
		"has_followed": followed,
	})
}

// Counts returns follower and following totals
// GET /users/{id}/follow-counts
func (h *FollowHandler) Counts(w http.ResponseWriter, r *http.Request) {
	userID, err := parseIDParam(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "Invalid user ID")
		return
	}

	counts, err := h.followService.Counts(r.Context(), userID)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			httputil.WriteNotFound(w, err.Error())
			return
		}
		log.Printf("[ERROR] Follow counts handler: %v", err)
		httputil.WriteInternalError(w, "Failed to get counts")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, counts)
}

func parseIDParam(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

func optionalQuery(r *http.Request, name string) *string {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil
	}
	return &v
}

func parseLimit(r *http.Request, def, max int) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit < 1 || limit > max {
		return 0, errors.New("Limit must be between 1 and " + strconv.Itoa(max))
	}
	return limit, nil
}
