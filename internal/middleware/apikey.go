// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// NewAPIKeyMiddleware は内部APIキーによる認証ミドルウェアを返す。
// x-api-keyヘッダーまたはAuthorization: Bearerのいずれかでキーを受け付ける。
// キーの照合はタイミング攻撃を避けるため定数時間比較で行う。
func NewAPIKeyMiddleware(apiKey string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get("x-api-key")
			if presented == "" {
				auth := r.Header.Get("Authorization")
				if strings.HasPrefix(auth, "Bearer ") {
					presented = strings.TrimPrefix(auth, "Bearer ")
				}
			}

			if presented == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, "MISSING_API_KEY", "APIキーが指定されていません。")
				return
			}

			if subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) != 1 {
				slog.Warn("invalid api key",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, "INVALID_API_KEY", "APIキーが不正です。")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
