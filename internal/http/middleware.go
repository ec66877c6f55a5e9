package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/fjod/go_cart/cart-pricing-service/internal/domain"
)

const (
	HeaderUserID     = "X-User-ID"
	HeaderGuestToken = "X-Guest-Token"
)

type ctxKey int

const ownerKey ctxKey = iota

// OwnerMiddleware resolves the cart owner from the identity headers set by
// the gateway. An authenticated user wins over a guest token.
func OwnerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ref domain.CartRef
		if userID := r.Header.Get(HeaderUserID); userID != "" {
			ref = domain.UserRef(userID)
		} else if token := r.Header.Get(HeaderGuestToken); token != "" {
			ref = domain.GuestRef(token)
		} else {
			respondJSON(w, http.StatusUnauthorized, ErrorResponse{
				Error: "missing user or guest identity",
				Code:  "UNAUTHORIZED",
			})
			return
		}

		ctx := context.WithValue(r.Context(), ownerKey, ref)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func ownerFromContext(ctx context.Context) (domain.CartRef, bool) {
	ref, ok := ctx.Value(ownerKey).(domain.CartRef)
	return ref, ok
}

// RequestLogger logs one line per request with the chi request id.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("http request",
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
