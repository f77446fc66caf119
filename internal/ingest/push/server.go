// Package push receives transactions that devices or integrators send to us.
//
// Two surfaces are served on one chi router: the ADMS endpoints terminals
// call natively (/iclock/...), and a JSON endpoint taking vendor records.
// An optional Server-Sent Events stream relays attendance events.
package push

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/punchsync/internal/ingest"
	"github.com/roach88/punchsync/internal/notify"
	"github.com/roach88/punchsync/internal/punch"
)

const (
	DefaultAddr = ":8081"
	// maxBodyBytes bounds one push request body.
	maxBodyBytes    = 8 << 20
	shutdownTimeout = 10 * time.Second
)

// Server is the push listener adapter.
type Server struct {
	addr   string
	sink   ingest.Sink
	hub    *notify.Hub
	token  string
	loc    *time.Location
	logger *slog.Logger

	// ready is closed once the listener is bound; Addr is valid after.
	ready    chan struct{}
	listener net.Listener
}

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(s *Server) {
		if addr != "" {
			s.addr = addr
		}
	}
}

// WithHub enables the /api/v1/events stream.
func WithHub(h *notify.Hub) Option {
	return func(s *Server) {
		s.hub = h
	}
}

// WithToken requires "Authorization: Bearer <token>" on the /api routes.
// The /iclock routes stay open because terminals cannot send custom headers.
func WithToken(token string) Option {
	return func(s *Server) {
		s.token = token
	}
}

// WithLocation sets the zone of naive device timestamps.
func WithLocation(loc *time.Location) Option {
	return func(s *Server) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// New creates a Server delivering to sink.
func New(sink ingest.Sink, opts ...Option) *Server {
	s := &Server{
		addr:   DefaultAddr,
		sink:   sink,
		loc:    time.Local,
		logger: slog.Default(),
		ready:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements ingest.Adapter.
func (s *Server) Name() string { return "push" }

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusOK, "ok")
	})

	r.Route("/iclock", func(r chi.Router) {
		r.Get("/cdata", s.handshake)
		r.Post("/cdata", s.receiveTable)
		r.Get("/getrequest", func(w http.ResponseWriter, _ *http.Request) {
			writeText(w, http.StatusOK, "OK")
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authorize)
		r.Post("/transactions", s.receiveRecords)
		if s.hub != nil {
			r.Get("/events", s.events)
		}
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("push listen %s: %w", s.addr, err)
	}
	s.listener = ln
	close(s.ready)

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("push listener starting", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("push serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("push shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("push serve: %w", err)
	}
	s.logger.Info("push listener stopped")
	return nil
}

// Addr blocks until the listener is bound and returns its address.
func (s *Server) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-s.ready:
		return s.listener.Addr(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// handshake answers the terminal's initial option request.
func (s *Server) handshake(w http.ResponseWriter, r *http.Request) {
	sn := strings.TrimSpace(r.URL.Query().Get("SN"))
	if sn == "" {
		writeText(w, http.StatusBadRequest, "missing SN")
		return
	}
	s.logger.Debug("device handshake", "device_serial", sn, "remote", r.RemoteAddr)
	writeText(w, http.StatusOK, strings.Join([]string{
		"GET OPTION FROM: " + sn,
		"ATTLOGStamp=None",
		"OPERLOGStamp=9999",
		"ErrorDelay=30",
		"Delay=10",
		"TransTimes=00:00;14:05",
		"TransInterval=1",
		"TransFlag=TransData AttLog",
		"Realtime=1",
		"Encrypt=None",
	}, "\n"))
}

// receiveTable accepts ADMS uploads. Only ATTLOG carries punches; other
// tables are acknowledged and ignored so the terminal does not resend them.
func (s *Server) receiveTable(w http.ResponseWriter, r *http.Request) {
	sn := strings.TrimSpace(r.URL.Query().Get("SN"))
	if sn == "" {
		writeText(w, http.StatusBadRequest, "missing SN")
		return
	}
	table := r.URL.Query().Get("table")
	if !strings.EqualFold(table, "ATTLOG") {
		s.logger.Debug("push table ignored", "device_serial", sn, "table", table)
		writeText(w, http.StatusOK, "OK")
		return
	}

	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	opts := ingest.Options{Location: s.loc, Origin: punch.OriginPush}
	accepted, closed := 0, false
	err := ingest.ScanLines(body, ingest.FormatATTLOG, sn, opts,
		func(t punch.RawTransaction) {
			if closed {
				return
			}
			if !s.sink.Submit(t) {
				closed = true
				return
			}
			accepted++
		},
		func(err error) { ingest.LogMalformed(s.logger, punch.OriginPush, err) },
	)
	if err != nil {
		s.logger.Warn("push body read failed", "device_serial", sn, "error", err)
		writeText(w, http.StatusBadRequest, "bad body")
		return
	}
	if closed {
		writeText(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	writeText(w, http.StatusOK, fmt.Sprintf("OK: %d", accepted))
}

// RecordsResponse is the reply to POST /api/v1/transactions.
type RecordsResponse struct {
	Accepted  int      `json:"accepted"`
	Malformed int      `json:"malformed"`
	Errors    []string `json:"errors,omitempty"`
}

func (s *Server) receiveRecords(w http.ResponseWriter, r *http.Request) {
	recs, err := ingest.DecodeRecords(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	opts := ingest.Options{
		DeviceSerial: r.URL.Query().Get("SN"),
		Location:     s.loc,
		Origin:       punch.OriginPush,
	}
	var resp RecordsResponse
	for _, rec := range recs {
		t, err := ingest.NormalizeRecord(rec, opts)
		if err != nil {
			resp.Malformed++
			resp.Errors = append(resp.Errors, err.Error())
			ingest.LogMalformed(s.logger, punch.OriginPush, err)
			continue
		}
		if !s.sink.Submit(t) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "shutting down"})
			return
		}
		resp.Accepted++
	}
	status := http.StatusOK
	if resp.Accepted < len(recs) {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, resp)
}

// events streams attendance events as Server-Sent Events.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ch, cancel := s.hub.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				s.logger.Error("encode event failed", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: attendance\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("Authorization"))
		if s.token != "" && subtle.ConstantTimeCompare(got, []byte("Bearer "+s.token)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
