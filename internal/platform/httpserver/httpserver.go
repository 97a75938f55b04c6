// Package httpserver builds the API listener.
package httpserver

import (
	"log/slog"
	"net/http"

	"careverify/internal/platform/config"
)

// New returns a server whose timeouts come from server.* config. Attachment
// uploads are not accepted, so request bodies stay small and the read timeout
// can be short.
func New(cfg config.Server, handler http.Handler, logger *slog.Logger) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
}
