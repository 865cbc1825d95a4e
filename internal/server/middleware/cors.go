package middleware

import (
	"net/http"
	"strings"
)

// corsMethods covers every route the routing API registers; the engine has
// no PUT or DELETE endpoints.
const corsMethods = "GET, POST, OPTIONS"

const corsHeaders = "Content-Type, Authorization, X-API-Key"

// CORS returns middleware that answers preflight requests and stamps the
// dashboard origins allowed to call the API. An empty origin list, or a "*"
// entry, allows every origin.
func CORS(origins []string) func(http.Handler) http.Handler {
	allowAll := len(origins) == 0
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
			continue
		}
		allowed[strings.ToLower(o)] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" {
				// The response varies per origin, so caches must key on it.
				w.Header().Add("Vary", "Origin")

				_, ok := allowed[strings.ToLower(origin)]
				if allowAll || ok {
					h := w.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Set("Access-Control-Allow-Methods", corsMethods)
					h.Set("Access-Control-Allow-Headers", corsHeaders)
					h.Set("Access-Control-Max-Age", "86400")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
