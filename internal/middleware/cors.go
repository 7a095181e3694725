package middleware

import (
	"net/http"

	"billbook-backend/internal/config"

	"github.com/rs/cors"
)

var (
	defaultMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	defaultHeaders = []string{"Content-Type", "Accept"}
)

func NewCORS(cfg *config.Config) func(http.Handler) http.Handler {
	methods := cfg.Server.CorsAllowedMethods
	if len(methods) == 0 {
		methods = defaultMethods
	}
	headers := cfg.Server.CorsAllowedHeaders
	if len(headers) == 0 {
		headers = defaultHeaders
	}

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.Server.CorsAllowedOrigins,
		AllowedMethods: methods,
		AllowedHeaders: headers,
		MaxAge:         300, // 5 minutes
	})

	return c.Handler
}
