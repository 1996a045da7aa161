package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	logx "flowwatch/pkg/logx"
)

type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Server owns the listener for the ingest router.
type Server struct {
	cfg ServerConfig
	srv *http.Server
	log logx.Logger
}

func NewServer(cfg ServerConfig, h http.Handler, log logx.Logger) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return &Server{
		cfg: cfg,
		log: log.Named("http"),
		srv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
}

// Listen binds the address so bind errors surface at startup.
func (s *Server) Listen() (net.Listener, error) {
	return net.Listen("tcp", s.cfg.Addr)
}

// Serve blocks until the server is shut down.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("http server listening", logx.String("addr", ln.Addr().String()))
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
