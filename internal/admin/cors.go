package admin

import (
	"net/http"

	"github.com/rs/cors"
)

// CORS allows the single browser origin the client is served from, with
// credentials. Preflight requests are answered without reaching next. An
// empty origin disables cross-origin access.
func CORS(origin string) func(http.Handler) http.Handler {
	if origin == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	return cors.New(cors.Options{
		AllowedOrigins:   []string{origin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler
}
