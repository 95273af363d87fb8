package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// Server represents an HTTP server with a handler and address
type Server struct {
	server    http.Server // Wrapped http.Server that serves handler once Start binds an address
	handler   http.Handler
	addr      string   // Optional address to start the server on
	fallbacks []string // Tried in order if addr is already in use
}

// Start binds addr and serves until Shutdown, or until ListenAndServe
// otherwise fails. If addr is already in use, each configured fallback
// address is tried in order before giving up.
func (s *Server) Start() error {
	s.server.Handler = s.handler

	addrs := append([]string{s.addr}, s.fallbacks...)
	var ln net.Listener
	var err error
	for i, addr := range addrs {
		ln, err = net.Listen("tcp", addr)
		if err == nil {
			s.server.Addr = addr
			break
		}
		if !errors.Is(err, syscall.EADDRINUSE) || i == len(addrs)-1 {
			return fmt.Errorf("http: listen %s: %w", addr, err)
		}
	}
	return s.server.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server via http.Server.Shutdown.
// It does not close transport sessions itself.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// NewServer returns a Server that binds addr, falling back to each address
// in fallbacks, in order, if addr is already taken.
func NewServer(addr string, handler http.Handler, fallbacks ...string) *Server {
	return &Server{
		addr:      addr,
		handler:   handler,
		fallbacks: fallbacks,
	}
}
