package middleware

import (
	"net/http"
	"strings"
)

// UnknownClient is the client key used when no forwarded address is present.
const UnknownClient = "unknown"

// ClientKey identifies the caller by the first X-Forwarded-For entry.
func ClientKey(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded == "" {
		return UnknownClient
	}
	first, _, _ := strings.Cut(forwarded, ",")
	if first = strings.TrimSpace(first); first != "" {
		return first
	}
	return UnknownClient
}
