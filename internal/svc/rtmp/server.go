// Package rtmp serves RTMP publishers and players on top of the session
// state machines. Published media is fanned out to players through the bus.
package rtmp

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"rtmpsess/internal/core/bus"
	"rtmpsess/internal/metrics"
)

// Server accepts RTMP connections and runs one session per connection.
type Server struct {
	opts     Options
	registry *bus.Registry
	metrics  *metrics.Collector
	logger   *zap.Logger
	limiter  *rate.Limiter

	mu       sync.Mutex
	listener net.Listener
	conns    map[*connection]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewServer creates a new RTMP server.
func NewServer(opts Options, registry *bus.Registry, collector *metrics.Collector, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if opts.AcceptRate > 0 {
		limit = rate.Limit(opts.AcceptRate)
	}
	burst := opts.AcceptBurst
	if burst < 1 {
		burst = 1
	}
	return &Server{
		opts:     opts,
		registry: registry,
		metrics:  collector,
		logger:   logger.Named("rtmp"),
		limiter:  rate.NewLimiter(limit, burst),
		conns:    make(map[*connection]struct{}),
	}
}

// Listen starts listening on the specified address.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the listener address, nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until ctx is done or the listener fails.
// It returns nil after a shutdown.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("rtmp server is not listening")
	}

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		raw, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			return err
		}
		if !s.limiter.Allow() {
			s.metrics.AcceptThrottled()
			s.logger.Warn("accept rate exceeded", zap.String("remote", raw.RemoteAddr().String()))
			_ = raw.Close()
			continue
		}

		c := newConnection(s, raw, uuid.NewString())
		if !s.track(c) {
			_ = raw.Close()
			return nil
		}
		go func() {
			defer s.untrack(c)
			c.run()
		}()
	}
}

func (s *Server) track(c *connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *connection) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops accepting, closes every connection and waits for their
// goroutines to finish.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.wg.Wait()
		return nil
	}
	s.closed = true
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for c := range s.conns {
		_ = c.raw.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}
