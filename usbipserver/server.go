package usbipserver

import (
	"context"
	"log/slog"
	"net"

	"github.com/kevmo314/usbipd/internal/metrics"
	"github.com/kevmo314/usbipd/usbdevice"
)

// Server accepts USB/IP connections against an immutable device list.
type Server struct {
	devices []*usbdevice.Device
	logger  *slog.Logger
	metrics *metrics.Metrics
	opts    Options

	ln net.Listener
}

// New constructs a Server exporting devices. devices is never mutated after
// construction and is shared read-only across all accepted connections.
func New(devices []*usbdevice.Device, logger *slog.Logger, m *metrics.Metrics, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{devices: devices, logger: logger, metrics: m, opts: opts}
}

// ListenAndServe binds addr and accepts connections until ctx is cancelled
// or Close is called. Each connection is served in its own goroutine; one
// connection's I/O error never affects another.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.logger.Info("usbipserver: listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	c := NewConnection(conn, s.devices, s.logger, s.metrics, s.opts)
	if err := c.Serve(ctx); err != nil {
		s.logger.Warn("usbipserver: connection terminated", "remote", conn.RemoteAddr().String(), "err", err)
		return
	}
	s.logger.Info("usbipserver: connection closed", "remote", conn.RemoteAddr().String())
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

// Addr returns the bound listener address, or nil before ListenAndServe.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}
