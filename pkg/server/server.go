// Package server implements the accept loop, TLS wiring and graceful
// shutdown described in spec §2 "Server": accept loop, TLS wiring,
// graceful shutdown, and §6's socket-level external interface.
package server

import (
	"context"
	"crypto/tls"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/krukov/levin/pkg/component"
	"github.com/krukov/levin/pkg/connection"
	"github.com/krukov/levin/pkg/tlsconfig"
)

// Server accepts connections on one listener and hands each to a
// connection.Connection bound to the Application's compiled Handler.
type Server struct {
	Addr      string
	TLSConfig *tls.Config
	Handler   component.Handler
	Log       *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
	conns    map[*connection.Connection]struct{}
}

// ListenAndServe binds Addr — plain TCP if TLSConfig is nil, otherwise a
// TLS listener negotiating ALPN between "h2" and "http/1.1" — and serves
// until ctx is cancelled, then waits for in-flight connections to finish
// (spec §2 "graceful shutdown").
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	if s.TLSConfig != nil {
		ln = tls.NewListener(ln, s.TLSConfig)
	}

	s.mu.Lock()
	s.listener = ln
	s.conns = map[*connection.Connection]struct{}{}
	s.mu.Unlock()

	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
				return err
			}
		}
		s.wg.Add(1)
		go s.serve(ctx, conn, log)
	}
}

func (s *Server) serve(ctx context.Context, conn net.Conn, log *zap.Logger) {
	defer s.wg.Done()

	scheme := "http"
	if tlsConn, ok := conn.(*tls.Conn); ok {
		scheme = "https"
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			log.Debug("tls handshake failed", zap.Error(err))
			conn.Close()
			return
		}
		state := tlsConn.ConnectionState()
		version := tlsconfig.GetVersionName(state.Version)
		if tlsconfig.IsVersionDeprecated(state.Version) {
			log.Warn("negotiated deprecated tls version", zap.String("version", version))
		} else {
			log.Debug("tls handshake complete",
				zap.String("version", version),
				zap.String("cipher_suite", tlsconfig.GetCipherSuiteName(state.CipherSuite)))
		}
	}

	c := connection.New(conn, scheme, s.Handler, log)

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
	}()

	c.Serve(ctx)
}

// Shutdown stops accepting new connections and waits for in-flight ones to
// drain; it is safe to call concurrently with ListenAndServe's ctx
// cancellation, which triggers the same path.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	err := ln.Close()
	s.wg.Wait()
	return err
}
