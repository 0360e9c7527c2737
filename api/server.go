package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kilianp07/dronedispatch/infra/logger"
)

// NewRouter builds the gin engine serving h.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(Recovery(h.logger), Logging(h.logger))
	h.Register(r)
	return r
}

// Server runs the HTTP API until its context is cancelled.
type Server struct {
	handler         http.Handler
	shutdownTimeout time.Duration
	logger          logger.Logger
}

func NewServer(h *Handler, shutdownTimeout time.Duration) *Server {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 5 * time.Second
	}
	return &Server{handler: NewRouter(h), shutdownTimeout: shutdownTimeout, logger: h.logger}
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln. In-flight requests get the shutdown
// timeout to finish once ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.handler, ReadHeaderTimeout: 5 * time.Second}
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Errorf("api shutdown: %v", err)
		}
	}()
	s.logger.Infof("serving api on %s", ln.Addr())
	err := srv.Serve(ln)
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-done
	return nil
}
