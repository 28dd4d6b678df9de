package handler

import (
	"errors"
	"log"
	"net/http"

	"chirpfeed/internal/cursor"
	"chirpfeed/internal/httputil"
	"chirpfeed/internal/service"
	"chirpfeed/internal/transport/http/middleware"
)

type TimelineHandler struct {
	timelineService *service.TimelineService
}

func NewTimelineHandler(timelineService *service.TimelineService) *TimelineHandler {
	return &TimelineHandler{
		timelineService: timelineService,
	}
}

// Get returns one page of the viewer's home timeline
// GET /timeline?cursor=&limit=
func (h *TimelineHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	cursorToken := optionalQuery(r, "cursor")

	limit, err := parseLimit(r, service.TimelineDefaultLimit, service.TimelineMaxLimit)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	resp, err := h.timelineService.GetTimeline(r.Context(), userID, cursorToken, limit)
	if err != nil {
		if errors.Is(err, cursor.ErrInvalid) {
			httputil.WriteBadRequest(w, "Invalid cursor")
			return
		}
		log.Printf("[ERROR] Timeline handler: %v", err)
		httputil.WriteInternalError(w, "Failed to load timeline")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}
