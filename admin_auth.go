package main

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AdminTokenHeader carries the operator secret. "Authorization: Bearer" is
// accepted too.
const AdminTokenHeader = "X-Admin-Token"

// requireAdmin rejects requests that do not present token. An empty token
// leaves next open.
func requireAdmin(token string, next http.HandlerFunc) http.HandlerFunc {
	if token == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !secureCompare(presentedToken(r), token) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="calendar-watcher"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func presentedToken(r *http.Request) string {
	if t := r.Header.Get(AdminTokenHeader); t != "" {
		return t
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
