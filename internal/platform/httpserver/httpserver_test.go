package httpserver

import (
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"careverify/internal/platform/config"
)

func TestNew_UsesConfiguredTimeouts(t *testing.T) {
	cfg := config.Server{
		Addr:              ":9090",
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       2 * time.Second,
		WriteTimeout:      3 * time.Second,
		IdleTimeout:       4 * time.Second,
	}
	srv := New(cfg, http.NotFoundHandler(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.Equal(t, ":9090", srv.Addr)
	assert.Equal(t, time.Second, srv.ReadHeaderTimeout)
	assert.Equal(t, 2*time.Second, srv.ReadTimeout)
	assert.Equal(t, 3*time.Second, srv.WriteTimeout)
	assert.Equal(t, 4*time.Second, srv.IdleTimeout)
	assert.NotNil(t, srv.ErrorLog)
}
