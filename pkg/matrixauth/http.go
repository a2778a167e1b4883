package matrixauth

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/armorclaw/matrixcore/pkg/keystore"
	"github.com/armorclaw/matrixcore/pkg/logger"
)

// originContextKey is the request context key VerifiedOrigin reads.
type originContextKey struct{}

// Middleware returns the mux-wrapping handler the teacher's
// corsMiddleware models: verify X-Matrix on every request, reject with
// 401 M_UNAUTHORIZED on failure, and attach the verified origin server
// name to the request context for handlers that need it.
func Middleware(keys *keystore.KeyStore, fetch keystore.FetchServerKeysFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, `{"errcode":"M_UNKNOWN","error":"failed to read body"}`, http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			result := VerifyRequest(r.Context(), keys, fetch, r.Method, r.URL.RequestURI(), body, r.Header.Get("Authorization"))
			if !result.Allowed {
				logger.Global().WithComponent("matrixauth").Warn("rejected federation request",
					"origin", result.Origin, "reason", result.DenialReason, "path", r.URL.Path)
				http.Error(w, `{"errcode":"M_UNAUTHORIZED","error":"`+result.DenialReason+`"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), originContextKey{}, result.Origin)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// VerifiedOrigin returns the server name Middleware verified for this
// request, if any.
func VerifiedOrigin(ctx context.Context) (string, bool) {
	origin, ok := ctx.Value(originContextKey{}).(string)
	return origin, ok
}
