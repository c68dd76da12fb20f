package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
)

var clientIPContextKey = contextKey("client_ip")

// NewClientIPMiddleware はリクエストのクライアントIPを確定してコンテキストに格納する。
// trustProxyがtrueならX-Forwarded-Forの先頭を採用する。前段のリバースプロキシが
// このヘッダーを上書きしている構成でのみ有効にすること。直接公開する場合はfalseにし、
// 接続元のRemoteAddrだけを使う。
func NewClientIPMiddleware(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := resolveClientIP(r, trustProxy)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientIPContextKey, ip)))
		})
	}
}

// ClientIP はクライアントIPを返す。
// NewClientIPMiddlewareを通過していればそこで確定した値を返す。
// 通過していなければプロキシを信頼する前提でX-Forwarded-Forの先頭、
// なければRemoteAddrのホスト部を返す。X-Forwarded-Forはクライアントが自由に
// 設定できるため、プロキシを介さない運用ではミドルウェアでtrustProxy=falseにすること。
func ClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPContextKey).(string); ok {
		return ip
	}
	return resolveClientIP(r, true)
}

func resolveClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
