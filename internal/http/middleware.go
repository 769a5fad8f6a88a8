package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/go_cart/cartsync/internal/auth"
	"github.com/fjod/go_cart/cartsync/internal/session"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const SessionHeader = "X-Session-ID"

type ctxKey int

const sessionKey ctxKey = iota

// SessionMiddleware attaches the client session named by X-Session-ID, issuing a new one
// when the header is missing or stale. A bearer token signs the session in as the token's
// user; an invalid token is rejected.
func SessionMiddleware(registry *session.Registry, verifier auth.Verifier, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := registry.Get(r.Header.Get(SessionHeader))
			if err != nil {
				respondError(w, http.StatusServiceUnavailable, "shutting_down", "server is shutting down")
				return
			}
			w.Header().Set(SessionHeader, sess.ID)

			if token, ok := auth.BearerToken(r.Header.Get("Authorization")); ok {
				identity, err := verifier.Verify(r.Context(), token)
				if err != nil {
					logger.Info("bearer token rejected",
						zap.String("session_id", sess.ID),
						zap.String("request_id", middleware.GetReqID(r.Context())),
						zap.Error(err))
					respondError(w, http.StatusUnauthorized, "unauthorized", "invalid bearer token")
					return
				}
				sess.Gate.SignIn(identity.UserID, token)
			}

			ctx := context.WithValue(r.Context(), sessionKey, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func sessionFromContext(ctx context.Context) *session.Session {
	if sess, ok := ctx.Value(sessionKey).(*session.Session); ok {
		return sess
	}
	return nil
}

// RequestLogger logs one line per request.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
