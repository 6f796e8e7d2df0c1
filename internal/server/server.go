package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/alexdev-tb/prescription-pdf/internal/config"
)

var ErrServerClosed = http.ErrServerClosed

const readHeaderTimeout = 5 * time.Second

type Server struct {
	cfg  config.HTTP
	http *http.Server
	log  zerolog.Logger
}

func New(cfg config.HTTP, handler http.Handler, log zerolog.Logger) *Server {
	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		ErrorLog:          newErrorLog(log),
	}

	return &Server{cfg: cfg, http: httpSrv, log: log}
}

// Run serves until ctx is done, then drains in-flight requests for up to the
// shutdown timeout. It returns ErrServerClosed after a clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)

	go func() {
		errCh <- s.http.Serve(ln)
	}()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("http server listening")

	select {
	case <-ctx.Done():
		s.log.Info().Dur("timeout", s.cfg.ShutdownTimeout).Msg("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return ErrServerClosed
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return ErrServerClosed
		}
		return err
	}
}
