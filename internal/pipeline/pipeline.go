package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/punchsync/internal/aggregate"
	"github.com/roach88/punchsync/internal/ledger"
	"github.com/roach88/punchsync/internal/notify"
	"github.com/roach88/punchsync/internal/punch"
	"github.com/roach88/punchsync/internal/resolve"
)

// DefaultWorkers is the worker pool size used by Run.
const DefaultWorkers = 4

// Directory is the lookup surface the pipeline needs. *store.Store
// satisfies it.
type Directory interface {
	resolve.Directory
	Device(ctx context.Context, serial string) (punch.Device, bool, error)
}

// Applier persists admitted punches. *aggregate.Aggregator satisfies it.
type Applier interface {
	Apply(ctx context.Context, p aggregate.Punch) (aggregate.Applied, error)
}

// Outcome is the fate of one transaction.
type Outcome int

const (
	// OutcomeApplied means the day changed.
	OutcomeApplied Outcome = iota + 1
	// OutcomeUnchanged means the punch was recorded but matched a boundary
	// the day already had.
	OutcomeUnchanged
	// OutcomeDuplicate means the transaction was already applied.
	OutcomeDuplicate
	// OutcomeDropped means the transaction was rejected; Result.Err says why.
	OutcomeDropped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Result reports what Process did with a transaction.
type Result struct {
	Outcome    Outcome
	DedupKey   string
	EmployeeID int64
	Date       punch.Date
	Kind       punch.Kind
	Strategy   resolve.Strategy
	Day        *punch.AttendanceDay // Set for applied and unchanged
	Err        error                // *DropError when dropped
}

// Stats counts outcomes since the pipeline was created.
type Stats struct {
	Applied   int64 `json:"applied"`
	Unchanged int64 `json:"unchanged"`
	Duplicate int64 `json:"duplicate"`
	Dropped   int64 `json:"dropped"`
}

// Pipeline wires resolver, ledger, aggregator and notifier together.
type Pipeline struct {
	dir      Directory
	resolver *resolve.Resolver
	ledger   ledger.Ledger
	applier  Applier
	notifier notify.Notifier
	logger   *slog.Logger
	loc      *time.Location
	workers  int
	onResult func(punch.RawTransaction, Result)

	queue *txnQueue

	applied, unchanged, duplicate, dropped atomic.Int64
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLedger overrides the in-memory ledger.
func WithLedger(l ledger.Ledger) Option {
	return func(p *Pipeline) {
		p.ledger = l
	}
}

// WithNotifier sets the notifier called after each applied punch.
func WithNotifier(n notify.Notifier) Option {
	return func(p *Pipeline) {
		p.notifier = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// WithLocation sets the tenant wall-clock location. Punch timestamps are
// converted into it before the dedup key and civil date are derived.
func WithLocation(loc *time.Location) Option {
	return func(p *Pipeline) {
		p.loc = loc
	}
}

// WithWorkers sets the worker pool size used by Run.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithResultHook registers a callback invoked by workers after each
// transaction. Called concurrently from worker goroutines.
func WithResultHook(fn func(punch.RawTransaction, Result)) Option {
	return func(p *Pipeline) {
		p.onResult = fn
	}
}

// New creates a Pipeline.
func New(dir Directory, applier Applier, opts ...Option) *Pipeline {
	p := &Pipeline{
		dir:      dir,
		resolver: resolve.New(dir),
		ledger:   ledger.NewMemory(),
		applier:  applier,
		notifier: notify.Discard{},
		logger:   slog.Default(),
		loc:      time.Local,
		workers:  DefaultWorkers,
		queue:    newTxnQueue(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit queues a transaction for the worker pool. It never blocks and
// returns false once the pipeline is closed.
func (p *Pipeline) Submit(t punch.RawTransaction) bool {
	return p.queue.Enqueue(t)
}

// Pending returns the number of queued transactions.
func (p *Pipeline) Pending() int {
	return p.queue.Len()
}

// Close stops intake. Run returns after the queue drains.
func (p *Pipeline) Close() {
	p.queue.Close()
}

// Stats returns outcome counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Applied:   p.applied.Load(),
		Unchanged: p.unchanged.Load(),
		Duplicate: p.duplicate.Load(),
		Dropped:   p.dropped.Load(),
	}
}

// Run drains the intake queue with the worker pool until the queue is closed
// and empty (returns nil) or ctx is cancelled (returns ctx.Err()).
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline starting", "workers", p.workers)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			return p.work(ctx)
		})
	}
	err := g.Wait()
	if err != nil {
		p.logger.Info("pipeline stopping: context cancelled", "pending", p.queue.Len())
		return err
	}
	p.logger.Info("pipeline stopping: queue drained")
	return nil
}

func (p *Pipeline) work(ctx context.Context) error {
	for {
		if t, ok := p.queue.TryDequeue(); ok {
			res := p.Process(ctx, t)
			if p.onResult != nil {
				p.onResult(t, res)
			}
			continue
		}
		if p.queue.Drained() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.queue.Wait():
		}
	}
}

// Process runs every stage for one transaction and reports the outcome.
// Drops and failures are logged here; callers only need the Result.
func (p *Pipeline) Process(ctx context.Context, t punch.RawTransaction) Result {
	res := p.process(ctx, t)
	p.record(t, res)
	return res
}

func (p *Pipeline) process(ctx context.Context, t punch.RawTransaction) Result {
	t.DeviceSerial = strings.TrimSpace(t.DeviceSerial)
	if t.DeviceSerial == "" {
		return dropped(NewMalformed("device serial is required", identifiers(t), nil))
	}
	if t.PunchTimestamp.IsZero() {
		return dropped(NewMalformed("punch timestamp is required", identifiers(t), nil))
	}
	if p.loc != nil {
		t.PunchTimestamp = t.PunchTimestamp.In(p.loc)
	}

	key, err := punch.DedupKey(t)
	if err != nil {
		return dropped(NewMalformed("cannot fingerprint transaction", identifiers(t), err))
	}
	res := Result{DedupKey: key, Date: punch.DateOf(t.PunchTimestamp)}

	device, found, err := p.dir.Device(ctx, t.DeviceSerial)
	if err != nil {
		return res.drop(&DropError{Code: CodeLookupFailure, Message: "device lookup failed", Details: identifiers(t), Err: err})
	}
	if !found {
		return res.drop(&DropError{Code: CodeUnknownDevice, Message: "device is not registered", Details: identifiers(t)})
	}

	match, found, err := p.resolver.Resolve(ctx, resolve.QueryFor(t, device.OrganizationID))
	if err != nil {
		return res.drop(&DropError{Code: CodeLookupFailure, Message: "identity lookup failed", Details: identifiers(t), Err: err})
	}
	if !found {
		details := identifiers(t)
		details["organization_id"] = strconv.FormatInt(device.OrganizationID, 10)
		return res.drop(&DropError{Code: CodeUnresolved, Message: "no resolution strategy matched", Details: details})
	}
	res.EmployeeID = match.Employee.ID
	res.Strategy = match.Strategy

	if match.Employee.OrganizationID != device.OrganizationID {
		details := identifiers(t)
		details["employee_id"] = strconv.FormatInt(match.Employee.ID, 10)
		details["employee_organization_id"] = strconv.FormatInt(match.Employee.OrganizationID, 10)
		details["device_organization_id"] = strconv.FormatInt(device.OrganizationID, 10)
		details["strategy"] = match.Strategy.String()
		return res.drop(&DropError{Code: CodeCrossTenant, Message: "employee and device belong to different organizations", Details: details})
	}

	if p.ledger.Admit(key) == ledger.Duplicate {
		res.Outcome = OutcomeDuplicate
		return res
	}

	applied, err := p.applier.Apply(ctx, aggregate.Punch{
		Employee:    match.Employee,
		Date:        res.Date,
		Transaction: t,
		DedupKey:    key,
	})
	if errors.Is(err, aggregate.ErrDuplicate) {
		res.Outcome = OutcomeDuplicate
		return res
	}
	if err != nil {
		// The write rolled back, so the ledger must forget the key too.
		p.ledger.Release(key)
		return res.drop(&DropError{Code: CodePersistence, Message: "attendance write failed", Details: identifiers(t), Err: err})
	}

	res.Kind = applied.Kind
	day := applied.Day
	res.Day = &day
	if !applied.Changed {
		res.Outcome = OutcomeUnchanged
		return res
	}
	res.Outcome = OutcomeApplied

	if err := p.notifier.Notify(ctx, notify.EventFor(day, applied.Kind)); err != nil {
		p.logger.Warn("notify failed",
			"employee_id", day.EmployeeID,
			"date", string(day.Date),
			"error", err,
		)
	}
	return res
}

func (p *Pipeline) record(t punch.RawTransaction, res Result) {
	switch res.Outcome {
	case OutcomeApplied:
		p.applied.Add(1)
		p.logger.Debug("transaction applied",
			"device", t.DeviceSerial,
			"source_id", t.SourceTransactionID,
			"employee_id", res.EmployeeID,
			"date", string(res.Date),
			"kind", res.Kind.String(),
			"strategy", res.Strategy.String(),
		)
	case OutcomeUnchanged:
		p.unchanged.Add(1)
	case OutcomeDuplicate:
		p.duplicate.Add(1)
	case OutcomeDropped:
		p.dropped.Add(1)
		attrs := []any{
			"code", string(CodeOf(res.Err)),
			"origin", string(t.Origin),
			"error", res.Err,
		}
		level, msg := dropLog(res.Err)
		p.logger.Log(context.Background(), level, msg, attrs...)
	}
}

// dropLog picks the level and message for a dropped transaction. Storage
// failures are errors; everything else is expected noise from the field.
func dropLog(err error) (slog.Level, string) {
	switch {
	case IsCrossTenant(err):
		return slog.LevelWarn, "security anomaly: cross-tenant transaction dropped"
	case IsLookupFailure(err), IsPersistence(err):
		return slog.LevelError, "transaction dropped after storage failure"
	case IsUnknownDevice(err):
		return slog.LevelWarn, "transaction from unregistered device dropped"
	case IsUnresolved(err):
		return slog.LevelWarn, "transaction with unresolved identity dropped"
	case IsMalformed(err):
		return slog.LevelWarn, "malformed transaction dropped"
	default:
		return slog.LevelError, "transaction dropped"
	}
}

func (r Result) drop(err *DropError) Result {
	r.Outcome = OutcomeDropped
	r.Err = err
	return r
}

func dropped(err *DropError) Result {
	return Result{Outcome: OutcomeDropped, Err: err}
}

// identifiers lists every identifying field of t for drop diagnostics.
func identifiers(t punch.RawTransaction) map[string]string {
	d := map[string]string{
		"device_serial":         t.DeviceSerial,
		"source_transaction_id": t.SourceTransactionID,
		"employee_code":         t.EmployeeCodeOnDevice,
		"machine_employee_id":   strconv.FormatInt(t.MachineEmployeeID, 10),
	}
	if !t.PunchTimestamp.IsZero() {
		d["punch_timestamp"] = punch.FormatTimestamp(t.PunchTimestamp)
	}
	return d
}

// String summarizes a result for CLI output.
func (r Result) String() string {
	if r.Outcome == OutcomeDropped {
		return fmt.Sprintf("%s: %v", r.Outcome, r.Err)
	}
	return fmt.Sprintf("%s employee=%d date=%s kind=%s", r.Outcome, r.EmployeeID, r.Date, r.Kind)
}
