package middleware

import (
	"crypto/subtle"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

const internalSecretHeader = "X-Internal-Secret"

// InternalOnly пропускает служебные запросы (/internal/rooms) из loopback и приватных
// сетей, либо с заголовком X-Internal-Secret. Пустой secret отключает проверку по заголовку.
func InternalOnly(secret string) func(http.Handler) http.Handler {
	want := []byte(strings.TrimSpace(secret))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get(internalSecretHeader))
			trusted := len(want) > 0 && subtle.ConstantTimeCompare(got, want) == 1
			if !trusted {
				addr, err := netip.ParseAddr(clientIP(r))
				trusted = err == nil && (addr.IsLoopback() || addr.IsPrivate())
			}
			if !trusted {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"forbidden","code":"authorization"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP — адрес клиента из RemoteAddr. Заголовки прокси уже разобраны chi RealIP
// на уровне роутера, здесь им не доверяем.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
