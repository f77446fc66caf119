// Package poll pulls transactions from vendor terminals on a schedule.
//
// Each pass fetches every target device concurrently, each under its own
// timeout, starting from the device's sync cursor minus a lookback window.
// Re-fetched transactions come back as duplicates from the pipeline, so the
// overlap is safe.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/punchsync/internal/ingest"
	"github.com/roach88/punchsync/internal/punch"
	"github.com/roach88/punchsync/internal/store"
)

const (
	DefaultSchedule      = "@every 5m"
	DefaultTimeout       = 30 * time.Second
	DefaultLookback      = 15 * time.Minute
	DefaultInitialWindow = 24 * time.Hour
	// maxPages bounds one device fetch if the vendor keeps returning a next link.
	maxPages = 1000
)

// CursorStore persists per-device sync positions. *store.Store satisfies it.
type CursorStore interface {
	SyncCursor(ctx context.Context, serial string) (store.SyncCursor, bool, error)
	SaveSyncCursor(ctx context.Context, serial string, lastPunchAt time.Time, runID string) error
}

// Target is one device to poll.
type Target struct {
	Serial string
	// Timeout bounds the whole fetch for this device. Zero uses the poller default.
	Timeout time.Duration
}

// DeviceReport summarizes one device fetch.
type DeviceReport struct {
	Serial    string
	Since     time.Time
	Fetched   int
	Submitted int
	Malformed int
	Cursor    time.Time
	Err       error
}

// Report summarizes one pass.
type Report struct {
	RunID   string
	Devices []DeviceReport
}

// Err joins the per-device errors of the pass.
func (r Report) Err() error {
	var errs []error
	for _, d := range r.Devices {
		if d.Err != nil {
			errs = append(errs, d.Err)
		}
	}
	return errors.Join(errs...)
}

// Poller is the scheduled polling adapter.
type Poller struct {
	client   Client
	sink     ingest.Sink
	cursors  CursorStore
	targets  []Target
	schedule string
	timeout  time.Duration
	lookback time.Duration
	initial  time.Duration
	loc      *time.Location
	now      func() time.Time
	runID    func() string
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// Option configures a Poller.
type Option func(*Poller)

// WithSchedule sets the cron expression of the pass, e.g. "@every 5m" or
// "*/10 * * * *".
func WithSchedule(spec string) Option {
	return func(p *Poller) {
		if spec != "" {
			p.schedule = spec
		}
	}
}

// WithTimeout sets the per-device default timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithLookback sets how far before the cursor each pass starts.
func WithLookback(d time.Duration) Option {
	return func(p *Poller) {
		if d >= 0 {
			p.lookback = d
		}
	}
}

// WithInitialWindow sets how far back the first pass for a device reaches.
func WithInitialWindow(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.initial = d
		}
	}
}

// WithLocation sets the zone of vendor timestamps.
func WithLocation(loc *time.Location) Option {
	return func(p *Poller) {
		if loc != nil {
			p.loc = loc
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		p.now = now
	}
}

// WithRunIDs overrides the pass ID generator.
func WithRunIDs(gen func() string) Option {
	return func(p *Poller) {
		p.runID = gen
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) {
		p.logger = l
	}
}

// New creates a Poller for targets.
func New(client Client, sink ingest.Sink, cursors CursorStore, targets []Target, opts ...Option) *Poller {
	p := &Poller{
		client:   client,
		sink:     sink,
		cursors:  cursors,
		targets:  targets,
		schedule: DefaultSchedule,
		timeout:  DefaultTimeout,
		lookback: DefaultLookback,
		initial:  DefaultInitialWindow,
		loc:      time.Local,
		now:      time.Now,
		runID:    newRunID,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Name implements ingest.Adapter.
func (p *Poller) Name() string { return "poll" }

// Run executes a pass on the schedule until ctx is cancelled. A pass still
// running when the next one is due is skipped.
func (p *Poller) Run(ctx context.Context) error {
	c := cron.New(
		cron.WithLocation(p.loc),
		cron.WithLogger(cron.PrintfLogger(slog.NewLogLogger(p.logger.Handler(), slog.LevelDebug))),
	)
	if _, err := c.AddFunc(p.schedule, func() {
		if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("poll pass incomplete", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("poll schedule %q: %w", p.schedule, err)
	}

	p.logger.Info("poller starting", "schedule", p.schedule, "devices", len(p.targets))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	p.logger.Info("poller stopped")
	return nil
}

// PollOnce runs one pass over every target. Device failures are recorded in
// the report and do not stop the other devices; the returned error joins them.
func (p *Poller) PollOnce(ctx context.Context) (Report, error) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		p.logger.Debug("poll pass skipped: previous pass still running")
		return Report{}, nil
	}
	p.running = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	report := Report{RunID: p.runID(), Devices: make([]DeviceReport, len(p.targets))}
	logger := p.logger.With("run_id", report.RunID)

	var g errgroup.Group
	for i, target := range p.targets {
		i, target := i, target
		g.Go(func() error {
			report.Devices[i] = p.pollDevice(ctx, report.RunID, target, logger)
			return nil
		})
	}
	_ = g.Wait()

	for _, d := range report.Devices {
		if d.Err != nil {
			logger.Warn("device poll failed", "device_serial", d.Serial, "error", d.Err)
			continue
		}
		logger.Info("device polled",
			"device_serial", d.Serial,
			"fetched", d.Fetched,
			"submitted", d.Submitted,
			"malformed", d.Malformed,
		)
	}
	return report, report.Err()
}

func (p *Poller) pollDevice(ctx context.Context, runID string, target Target, logger *slog.Logger) DeviceReport {
	rep := DeviceReport{Serial: target.Serial}

	timeout := target.Timeout
	if timeout <= 0 {
		timeout = p.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cursor, ok, err := p.cursors.SyncCursor(ctx, target.Serial)
	if err != nil {
		rep.Err = fmt.Errorf("poll %s: %w", target.Serial, err)
		return rep
	}
	if ok && !cursor.LastPunchAt.IsZero() {
		rep.Since = cursor.LastPunchAt.In(p.loc).Add(-p.lookback)
		rep.Cursor = cursor.LastPunchAt
	} else {
		rep.Since = p.now().In(p.loc).Add(-p.initial)
	}

	opts := ingest.Options{DeviceSerial: target.Serial, Location: p.loc, Origin: punch.OriginPoll}
	for page := 1; page <= maxPages; page++ {
		res, err := p.client.Transactions(ctx, target.Serial, rep.Since, page)
		if err != nil {
			rep.Err = fmt.Errorf("poll %s page %d: %w", target.Serial, page, err)
			break
		}
		for _, rec := range res.Data {
			rep.Fetched++
			t, err := ingest.NormalizeRecord(rec, opts)
			if err != nil {
				rep.Malformed++
				ingest.LogMalformed(logger, punch.OriginPoll, err)
				continue
			}
			if !p.sink.Submit(t) {
				rep.Err = fmt.Errorf("poll %s: pipeline closed", target.Serial)
				break
			}
			rep.Submitted++
			if t.PunchTimestamp.After(rep.Cursor) {
				rep.Cursor = t.PunchTimestamp
			}
		}
		if rep.Err != nil || res.Next == "" || len(res.Data) == 0 {
			break
		}
	}

	// Progress made before a failure is kept; the lookback re-covers the gap.
	if rep.Cursor.IsZero() {
		return rep
	}
	saveCtx, saveCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer saveCancel()
	if err := p.cursors.SaveSyncCursor(saveCtx, target.Serial, rep.Cursor, runID); err != nil {
		rep.Err = errors.Join(rep.Err, fmt.Errorf("poll %s: %w", target.Serial, err))
	}
	return rep
}
