package server

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"
)

// Server is the admin API HTTP server.
type Server struct {
	srv     *http.Server
	tlsCert string
	tlsKey  string
}

// New creates a server on port. It serves TLS when both tlsCert and tlsKey
// are set.
func New(handler http.Handler, port, tlsCert, tlsKey string) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         ":" + port,
			Handler:      handler,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		tlsCert: tlsCert,
		tlsKey:  tlsKey,
	}
}

// Addr returns the listen address.
func (s *Server) Addr() string { return s.srv.Addr }

// TLS reports whether the server serves HTTPS.
func (s *Server) TLS() bool { return s.tlsCert != "" && s.tlsKey != "" }

// Start serves in the background. The returned channel receives the error
// that stopped the server, unless it was stopped by Shutdown.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)

	go func() {
		var err error
		if s.TLS() {
			s.srv.TLSConfig = &tls.Config{
				MinVersion: tls.VersionTLS12,
			}
			err = s.srv.ListenAndServeTLS(s.tlsCert, s.tlsKey)
		} else {
			err = s.srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
