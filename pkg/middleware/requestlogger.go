package middleware

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/storefront-sync/pkg/logger"
)

// RequestLogger stores a request-scoped logger in context, enriched with
// request_id, user_id, trace_id and span_id. userID reports the identity of
// the current session and may be nil.
//
// Mount it after RequestLogging and Tracing.
func RequestLogger(base *slog.Logger, userID func() string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if userID != nil {
				if id := userID(); id != "" {
					ctx = logger.WithUserID(ctx, id)
				}
			}

			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
