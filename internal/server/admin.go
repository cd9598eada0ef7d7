package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/dvcrn/frollo-sdk-go/internal/logger"
)

// adminMiddleware checks for valid admin API key from either
// 'Authorization: Bearer <key>', 'X-API-Key: <key>' or the 'key' query parameter.
// With no key configured every request is let through.
func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		log := logger.Get().With().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Logger()

		var provided string
		switch {
		case r.Header.Get("Authorization") != "":
			// Expect "Bearer <token>" format, case-insensitive
			parts := strings.Split(r.Header.Get("Authorization"), " ")
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				log.Warn().Msg("Invalid Authorization header format for admin endpoint")
				writeError(w, http.StatusUnauthorized, "", "Invalid Authorization header format")
				return
			}
			provided = parts[1]
		case r.Header.Get("X-API-Key") != "":
			provided = r.Header.Get("X-API-Key")
		case r.URL.Query().Get("key") != "":
			provided = r.URL.Query().Get("key")
		default:
			log.Warn().Msg("Missing admin credentials")
			writeError(w, http.StatusUnauthorized, "", "Unauthorized")
			return
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.adminKey)) != 1 {
			log.Warn().Msg("Invalid admin API key provided")
			writeError(w, http.StatusUnauthorized, "", "Unauthorized")
			return
		}

		log.Debug().Msg("Admin request authorized")
		next.ServeHTTP(w, r)
	})
}
