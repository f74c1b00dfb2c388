package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/NamanBalaji/hlsdm/internal/logger"
)

// Server serves the control API over HTTP.
type Server struct {
	echo *echo.Echo
	http *http.Server
}

func NewServer(addr string, eng Engine, gatherer prometheus.Gatherer) *Server {
	e := echo.New()
	RegisterRoutes(e, eng, gatherer)

	return &Server{
		echo: e,
		http: &http.Server{
			Addr:              addr,
			Handler:           e,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler returns the router, for mounting in tests or another server.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Serve accepts connections on l until Shutdown is called.
func (s *Server) Serve(l net.Listener) error {
	logger.Infof("API listening on %s", l.Addr())

	if err := s.http.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}

	return s.Serve(l)
}

// Shutdown stops accepting requests and waits for active ones, including
// open event streams, until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
