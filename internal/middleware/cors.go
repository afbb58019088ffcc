package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

type CORSConfig struct {
	Enabled        bool
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// CORS applies the configured headers and answers every OPTIONS request with
// 200 and an empty body, before rate limiting and authentication.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	var apply func(http.Handler) http.Handler
	if cfg.Enabled {
		// without OptionsPassthrough, preflights are answered 200 by cors itself
		apply = cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: cfg.AllowedMethods,
			AllowedHeaders: cfg.AllowedHeaders,
			ExposedHeaders: []string{RequestIDHeader, "Retry-After"},
			MaxAge:         300,
		})
	}
	return func(next http.Handler) http.Handler {
		h := http.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		}))
		if apply != nil {
			h = apply(h)
		}
		return h
	}
}
