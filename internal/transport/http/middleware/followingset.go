package middleware

import (
	"net/http"

	"chirpfeed/internal/cache"
)

// FollowingSetMiddleware installs a request-scoped following set for
// authenticated viewers. The set lazily loads the viewer's followee IDs at
// most once per request, so every membership check downstream shares one
// snapshot. Anonymous requests get no set; readers treat that as
// "follows nobody" without touching storage.
func FollowingSetMiddleware(lookup cache.FollowingLookup, maxSize int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			viewerID, ok := GetUserIDFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			set := cache.NewFollowingSet(viewerID, lookup, maxSize)
			ctx := cache.IntoContext(r.Context(), set)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
