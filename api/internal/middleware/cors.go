package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/cors"
)

// CORSMiddleware lets the admin frontend call the API from its own origin. An empty
// AllowedOrigins list allows any origin.
type CORSMiddleware struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
	Skip             func(*http.Request) bool
}

func (m CORSMiddleware) Wrap(next http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   m.allowedOrigins(),
		AllowedMethods:   m.allowedMethods(),
		AllowedHeaders:   m.allowedHeaders(),
		ExposedHeaders:   m.ExposedHeaders,
		AllowCredentials: m.AllowCredentials,
		MaxAge:           int(max(m.MaxAge, 0) / time.Second),
	})
	wrapped := c.Handler(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skip != nil && m.Skip(r) {
			next.ServeHTTP(w, r)
			return
		}
		wrapped.ServeHTTP(w, r)
	})
}

func (m CORSMiddleware) allowedOrigins() []string {
	out := make([]string, 0, len(m.AllowedOrigins))
	for _, o := range m.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

func (m CORSMiddleware) allowedMethods() []string {
	if len(m.AllowedMethods) > 0 {
		return m.AllowedMethods
	}
	return []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}
}

func (m CORSMiddleware) allowedHeaders() []string {
	if len(m.AllowedHeaders) > 0 {
		return m.AllowedHeaders
	}
	return []string{"Authorization", "Content-Type", "X-Request-ID"}
}
