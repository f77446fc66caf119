// Package socket accepts raw TCP punch streams.
//
// Each listener is bound to one device serial. Devices write
// newline-delimited, tab-separated lines (userId, timestamp, status, ...);
// status "1" is an arrival and any other status a departure.
package socket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/punchsync/internal/ingest"
	"github.com/roach88/punchsync/internal/punch"
)

// DefaultIdleTimeout closes connections that send nothing for this long.
const DefaultIdleTimeout = 5 * time.Minute

// Listener is the raw socket adapter for one device.
type Listener struct {
	addr   string
	serial string
	sink   ingest.Sink
	idle   time.Duration
	loc    *time.Location
	logger *slog.Logger

	ready chan struct{}
	ln    net.Listener

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// Option configures a Listener.
type Option func(*Listener)

// WithIdleTimeout sets the per-connection read deadline.
func WithIdleTimeout(d time.Duration) Option {
	return func(l *Listener) {
		if d > 0 {
			l.idle = d
		}
	}
}

// WithLocation sets the zone of device timestamps.
func WithLocation(loc *time.Location) Option {
	return func(l *Listener) {
		if loc != nil {
			l.loc = loc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Listener) {
		l.logger = logger
	}
}

// New creates a listener on addr for the device with the given serial.
func New(addr, serial string, sink ingest.Sink, opts ...Option) *Listener {
	l := &Listener{
		addr:   addr,
		serial: serial,
		sink:   sink,
		idle:   DefaultIdleTimeout,
		loc:    time.Local,
		logger: slog.Default(),
		ready:  make(chan struct{}),
		conns:  make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("device_serial", serial)
	return l
}

// Name implements ingest.Adapter.
func (l *Listener) Name() string { return "socket:" + l.serial }

// Addr blocks until the listener is bound and returns its address.
func (l *Listener) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-l.ready:
		return l.ln.Addr(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run accepts connections until ctx is cancelled. Open connections are
// closed on shutdown and Run waits for their handlers to return.
func (l *Listener) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("socket listen %s: %w", l.addr, err)
	}
	l.ln = ln
	close(l.ready)
	l.logger.Info("socket listener starting", "addr", ln.Addr().String())

	stop := context.AfterFunc(ctx, func() {
		ln.Close()
		l.closeConns()
	})
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				l.logger.Info("socket listener stopped")
				return nil
			}
			return fmt.Errorf("socket accept: %w", err)
		}
		if !l.track(conn) {
			conn.Close()
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer l.untrack(conn)
			l.serve(conn)
		}()
	}
}

func (l *Listener) serve(conn net.Conn) {
	session := uuid.NewString()
	logger := l.logger.With("session_id", session, "remote", conn.RemoteAddr().String())
	logger.Debug("socket session opened")

	opts := ingest.Options{Location: l.loc, Origin: punch.OriginSocket}
	var accepted, malformed int
	err := ingest.ScanLines(&deadlineReader{conn: conn, idle: l.idle}, ingest.FormatSocket, l.serial, opts,
		func(t punch.RawTransaction) {
			if l.sink.Submit(t) {
				accepted++
			}
		},
		func(err error) {
			malformed++
			ingest.LogMalformed(logger, punch.OriginSocket, err)
		},
	)

	var ne net.Error
	switch {
	case err == nil, errors.Is(err, net.ErrClosed):
	case errors.As(err, &ne) && ne.Timeout():
		logger.Debug("socket session idle timeout")
	default:
		logger.Warn("socket read failed", "error", err)
	}
	logger.Debug("socket session closed", "accepted", accepted, "malformed", malformed)
}

// track registers conn; false once shutdown started.
func (l *Listener) track(conn net.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conns == nil {
		return false
	}
	l.conns[conn] = struct{}{}
	return true
}

func (l *Listener) untrack(conn net.Conn) {
	l.mu.Lock()
	if l.conns != nil {
		delete(l.conns, conn)
	}
	l.mu.Unlock()
	conn.Close()
}

func (l *Listener) closeConns() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for c := range l.conns {
		c.Close()
	}
	l.conns = nil
}

// deadlineReader extends the read deadline before every read.
type deadlineReader struct {
	conn net.Conn
	idle time.Duration
}

func (r *deadlineReader) Read(p []byte) (int, error) {
	if err := r.conn.SetReadDeadline(time.Now().Add(r.idle)); err != nil {
		return 0, err
	}
	return r.conn.Read(p)
}
