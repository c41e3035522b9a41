package config

import "strings"

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// CORSAllowedOrigins lists the origins permitted by the CORS
	// middleware. The original front end is a browser app, so the
	// default is permissive; tighten it in production.
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`

	// ReadHeaderTimeoutSeconds guards against slow-header clients.
	ReadHeaderTimeoutSeconds int `env:"HTTP_READ_HEADER_TIMEOUT_SECONDS" envDefault:"10"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	h.Addr = strings.TrimSpace(h.Addr)
	if h.Addr == "" {
		h.Addr = ":8080"
	}
	if len(h.CORSAllowedOrigins) == 0 {
		h.CORSAllowedOrigins = []string{"*"}
	}
	if h.ReadHeaderTimeoutSeconds < 1 {
		h.ReadHeaderTimeoutSeconds = 10
	}
}
