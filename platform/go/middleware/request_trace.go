package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	platformlogging "github.com/opencourt/opencourt/platform/go/logging"
	"github.com/opencourt/opencourt/platform/go/requesttrace"
)

// ActorHeader carries the caller's user id. Identity verification happens
// upstream at the gateway; the id arrives here already authenticated.
const ActorHeader = "X-User-Id"

// RequestTrace populates the context with request-scoped AuditInfo so services
// and repositories can stamp who triggered a change.
func RequestTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := platformlogging.FromRequest(r, nil)
		requestID, _ := r.Context().Value(middleware.RequestIDKey).(string)

		var audit requesttrace.AuditInfo
		if raw := r.Header.Get(ActorHeader); raw != "" {
			userID, err := uuid.Parse(raw)
			if err != nil {
				if logger != nil {
					logger.Warn("malformed actor header", zap.Error(err))
				}
				http.Error(w, "malformed "+ActorHeader+" header", http.StatusBadRequest)
				return
			}
			audit = requesttrace.ForUser(userID, requestID)
		} else {
			audit = requesttrace.Anonymous(requestID)
		}

		ctx := requesttrace.IntoContext(r.Context(), audit)
		if logger != nil {
			fields := []zap.Field{zap.String("actor_kind", string(audit.ActorKind))}
			if audit.UserID != nil {
				fields = append(fields, zap.String("user_id", audit.UserID.String()))
			}
			logger = logger.With(fields...)
			ctx = platformlogging.WithLogger(ctx, logger)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
