package aggregate

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/punchsync/internal/classify"
	"github.com/roach88/punchsync/internal/punch"
	"github.com/roach88/punchsync/internal/store"
	"github.com/roach88/punchsync/internal/testutil"
)

var (
	ben  = punch.Employee{ID: 42, OrganizationID: 1, Name: "Ben", Active: true}
	dana = punch.Employee{ID: 43, OrganizationID: 1, Name: "Dana", Active: true}
)

func newTestAggregator(t *testing.T) (*Aggregator, *store.Store) {
	t.Helper()
	clock := testutil.NewFakeClock(time.Date(2024, 1, 10, 19, 0, 0, 0, time.UTC))
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.WithNow(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	require.NoError(t, s.UpsertDevice(ctx, punch.Device{Serial: "X1", OrganizationID: 1}))
	require.NoError(t, s.UpsertEmployee(ctx, ben))
	require.NoError(t, s.UpsertEmployee(ctx, dana))

	return New(s, WithIDGenerator(testutil.NewSequentialIDs("day"))), s
}

func punchAt(emp punch.Employee, ts string, state punch.State, id string) Punch {
	at, err := punch.ParseTimestamp(ts, time.UTC)
	if err != nil {
		panic(err)
	}
	txn := punch.RawTransaction{
		SourceTransactionID:  id,
		DeviceSerial:         "X1",
		EmployeeCodeOnDevice: fmt.Sprint(emp.ID),
		PunchTimestamp:       at,
		PunchState:           state,
		VerifyMethod:         punch.VerifyFace,
		RawPayload:           "payload-" + id,
	}
	return Punch{
		Employee:    emp,
		Date:        punch.DateOf(at),
		Transaction: txn,
		DedupKey:    punch.MustDedupKey(txn),
	}
}

func TestApply_ArrivalThenDeparture(t *testing.T) {
	agg, _ := newTestAggregator(t)
	ctx := context.Background()

	first, err := agg.Apply(ctx, punchAt(ben, "2024-01-10 09:00:00", punch.StateNone, "t1"))
	require.NoError(t, err)
	assert.True(t, first.Changed)
	assert.Equal(t, punch.Arrival, first.Kind)
	assert.Equal(t, classify.RuleFirstPunch, first.Rule)
	assert.Equal(t, "day-0001", first.Day.ID)
	assert.Equal(t, punch.Date("2024-01-10"), first.Day.Date)
	require.NotNil(t, first.Day.Arrival)
	assert.Equal(t, "09:00:00", first.Day.Arrival.String())
	assert.Nil(t, first.Day.Departure)
	assert.Nil(t, first.Day.WorkedSeconds)
	assert.Equal(t, punch.StatusPresent, first.Day.Status)
	assert.Equal(t, int64(1), first.Day.Version)

	second, err := agg.Apply(ctx, punchAt(ben, "2024-01-10 18:00:00", punch.StateNone, "t2"))
	require.NoError(t, err)
	assert.Equal(t, punch.Departure, second.Kind)
	assert.Equal(t, classify.RuleSecondPunch, second.Rule)
	assert.Equal(t, "day-0001", second.Day.ID, "same day row is updated")

	stored, found, err := agg.Day(ctx, ben.ID, "2024-01-10")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "09:00:00", stored.Arrival.String())
	assert.Equal(t, "18:00:00", stored.Departure.String())
	worked, ok := stored.Worked()
	require.True(t, ok)
	assert.Equal(t, 9*time.Hour, worked)
	assert.Equal(t, int64(2), stored.Version)
	assert.Equal(t, punch.SourceBiometric, stored.Source)
	assert.Equal(t, "X1", stored.DeviceSerial)
	assert.Equal(t, punch.VerifyFace, stored.VerifyMethod)
	assert.Equal(t, "payload-t2", stored.RawPayload)
}

func TestApply_RedeliveryIsDuplicate(t *testing.T) {
	agg, s := newTestAggregator(t)
	ctx := context.Background()
	p := punchAt(ben, "2024-01-10 09:00:00", punch.StateNone, "t1")

	_, err := agg.Apply(ctx, p)
	require.NoError(t, err)
	before, _, err := agg.Day(ctx, ben.ID, "2024-01-10")
	require.NoError(t, err)

	_, err = agg.Apply(ctx, p)
	assert.ErrorIs(t, err, ErrDuplicate)

	after, _, err := agg.Day(ctx, ben.ID, "2024-01-10")
	require.NoError(t, err)
	assert.Equal(t, before, after, "duplicate leaves the day unchanged")

	n, err := s.CountDedupKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestApply_SameTimeFromDifferentTransactionIsNoOp(t *testing.T) {
	agg, _ := newTestAggregator(t)
	ctx := context.Background()

	_, err := agg.Apply(ctx, punchAt(ben, "2024-01-10 09:00:00", punch.StateArrival, "t1"))
	require.NoError(t, err)

	res, err := agg.Apply(ctx, punchAt(ben, "2024-01-10 09:00:00", punch.StateArrival, "vendor-copy"))
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, int64(1), res.Day.Version)
}

func TestApply_RedeliveredArrivalKeepsCompleteDay(t *testing.T) {
	agg, _ := newTestAggregator(t)
	ctx := context.Background()

	_, err := agg.Apply(ctx, punchAt(ben, "2024-01-10 09:00:00", punch.StateNone, "t1"))
	require.NoError(t, err)
	_, err = agg.Apply(ctx, punchAt(ben, "2024-01-10 18:00:00", punch.StateNone, "t2"))
	require.NoError(t, err)
	before, _, err := agg.Day(ctx, ben.ID, "2024-01-10")
	require.NoError(t, err)

	// Same physical punches observed without a vendor id get new keys.
	for _, ts := range []string{"2024-01-10 09:00:00", "2024-01-10 18:00:00"} {
		res, err := agg.Apply(ctx, punchAt(ben, ts, punch.StateNone, ""))
		require.NoError(t, err, ts)
		assert.False(t, res.Changed, ts)
		assert.Equal(t, classify.RuleCorrection, res.Rule, ts)
	}

	after, _, err := agg.Day(ctx, ben.ID, "2024-01-10")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	worked, ok := after.Worked()
	require.True(t, ok)
	assert.Equal(t, 9*time.Hour, worked)
}

func TestApply_DeviceStateOverridesFallback(t *testing.T) {
	agg, _ := newTestAggregator(t)
	ctx := context.Background()

	res, err := agg.Apply(ctx, punchAt(ben, "2024-01-10 18:00:00", punch.StateDeparture, "t1"))
	require.NoError(t, err)
	assert.Equal(t, punch.Departure, res.Kind)
	assert.Nil(t, res.Day.Arrival)
	require.NotNil(t, res.Day.Departure)
	assert.Nil(t, res.Day.WorkedSeconds)

	res, err = agg.Apply(ctx, punchAt(ben, "2024-01-10 09:00:00", punch.ParseState("0"), "t2"))
	require.NoError(t, err)
	assert.Equal(t, punch.Arrival, res.Kind)
	require.NotNil(t, res.Day.WorkedSeconds)
	assert.Equal(t, int64(9*3600), *res.Day.WorkedSeconds)
}

func TestApply_ThirdPunchCorrectsBoundary(t *testing.T) {
	agg, _ := newTestAggregator(t)
	ctx := context.Background()

	for i, ts := range []string{"2024-01-10 09:00:00", "2024-01-10 17:00:00"} {
		_, err := agg.Apply(ctx, punchAt(ben, ts, punch.StateNone, fmt.Sprintf("t%d", i)))
		require.NoError(t, err)
	}

	early, err := agg.Apply(ctx, punchAt(ben, "2024-01-10 08:45:00", punch.StateNone, "early"))
	require.NoError(t, err)
	assert.Equal(t, punch.Arrival, early.Kind)
	assert.Equal(t, classify.RuleCorrection, early.Rule)
	assert.Equal(t, "08:45:00", early.Day.Arrival.String())

	late, err := agg.Apply(ctx, punchAt(ben, "2024-01-10 18:30:00", punch.StateNone, "late"))
	require.NoError(t, err)
	assert.Equal(t, punch.Departure, late.Kind)
	assert.Equal(t, "18:30:00", late.Day.Departure.String())
	assert.Equal(t, int64(9*3600+45*60), *late.Day.WorkedSeconds)
}

func TestApply_AbsentBecomesPresent(t *testing.T) {
	agg, _ := newTestAggregator(t)
	ctx := context.Background()

	_, err := agg.ApplyManual(ctx, ManualEntry{EmployeeID: ben.ID, OrganizationID: 1, Date: "2024-01-10", Status: punch.StatusAbsent})
	require.NoError(t, err)

	res, err := agg.Apply(ctx, punchAt(ben, "2024-01-10 09:10:00", punch.StateNone, "t1"))
	require.NoError(t, err)
	assert.Equal(t, punch.StatusPresent, res.Day.Status)
	assert.Equal(t, punch.SourceBiometric, res.Day.Source)
}

func TestApply_HalfDayStatusPreserved(t *testing.T) {
	agg, _ := newTestAggregator(t)
	ctx := context.Background()

	_, err := agg.ApplyManual(ctx, ManualEntry{EmployeeID: ben.ID, OrganizationID: 1, Date: "2024-01-10", Status: punch.StatusHalfDay})
	require.NoError(t, err)

	res, err := agg.Apply(ctx, punchAt(ben, "2024-01-10 13:00:00", punch.StateNone, "t1"))
	require.NoError(t, err)
	assert.Equal(t, punch.StatusHalfDay, res.Day.Status)
}

func TestApply_RequiresFields(t *testing.T) {
	agg, _ := newTestAggregator(t)
	ctx := context.Background()

	p := punchAt(ben, "2024-01-10 09:00:00", punch.StateNone, "t1")
	p.DedupKey = ""
	_, err := agg.Apply(ctx, p)
	assert.Error(t, err)

	p = punchAt(ben, "2024-01-10 09:00:00", punch.StateNone, "t1")
	p.Employee = punch.Employee{}
	_, err = agg.Apply(ctx, p)
	assert.Error(t, err)
}

func TestApply_FailedWriteLeavesNoDedupKey(t *testing.T) {
	agg, s := newTestAggregator(t)
	ctx := context.Background()

	// Employee 77 is not in the directory, so the day insert violates the
	// foreign key and the whole transaction rolls back.
	ghost := punch.Employee{ID: 77, OrganizationID: 1, Active: true}
	p := punchAt(ghost, "2024-01-10 09:00:00", punch.StateNone, "t1")

	_, err := agg.Apply(ctx, p)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicate)

	has, err := s.HasDedupKey(ctx, p.DedupKey)
	require.NoError(t, err)
	assert.False(t, has, "rolled-back apply must not leave a dedup key")
}

func TestApply_ConcurrentArrivalAndDepartureBothLand(t *testing.T) {
	for round := 0; round < 5; round++ {
		agg, _ := newTestAggregator(t)
		ctx := context.Background()

		arrival := punchAt(ben, "2024-01-10 09:00:00", punch.StateArrival, "a")
		departure := punchAt(ben, "2024-01-10 18:00:00", punch.StateDeparture, "d")

		var wg sync.WaitGroup
		errs := make([]error, 2)
		start := make(chan struct{})
		for i, p := range []Punch{arrival, departure} {
			wg.Add(1)
			go func(i int, p Punch) {
				defer wg.Done()
				<-start
				_, errs[i] = agg.Apply(ctx, p)
			}(i, p)
		}
		close(start)
		wg.Wait()

		require.NoError(t, errs[0])
		require.NoError(t, errs[1])

		day, found, err := agg.Day(ctx, ben.ID, "2024-01-10")
		require.NoError(t, err)
		require.True(t, found)
		require.NotNil(t, day.Arrival, "round %d lost the arrival", round)
		require.NotNil(t, day.Departure, "round %d lost the departure", round)
		assert.Equal(t, int64(2), day.Version)
	}
}

func TestApply_ConcurrentManyPunchesNoLostUpdate(t *testing.T) {
	agg, _ := newTestAggregator(t)
	ctx := context.Background()
	const n = 24

	var wg sync.WaitGroup
	var mu sync.Mutex
	changed := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			emp := ben
			if i%2 == 1 {
				emp = dana
			}
			ts := fmt.Sprintf("2024-01-10 %02d:%02d:00", 8+i/4, (i%4)*15)
			res, err := agg.Apply(ctx, punchAt(emp, ts, punch.StateNone, fmt.Sprintf("t%d", i)))
			assert.NoError(t, err)
			if res.Changed {
				mu.Lock()
				changed++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	var versions int64
	for _, emp := range []punch.Employee{ben, dana} {
		day, found, err := agg.Day(ctx, emp.ID, "2024-01-10")
		require.NoError(t, err)
		require.True(t, found)
		assert.NotNil(t, day.Arrival)
		assert.NotNil(t, day.Departure)
		versions += day.Version
	}
	assert.Equal(t, int64(changed), versions, "every changing apply bumped the version exactly once")
}

func TestRecompute(t *testing.T) {
	tod := func(s string) *punch.TimeOfDay {
		v, err := punch.ParseTimeOfDay(s)
		require.NoError(t, err)
		return v.Ptr()
	}

	day := punch.AttendanceDay{Arrival: tod("09:00"), Departure: tod("18:00"), LunchStart: tod("12:00"), LunchEnd: tod("12:30")}
	recompute(&day)
	assert.Equal(t, int64(1800), day.BreakSeconds)
	require.NotNil(t, day.WorkedSeconds)
	assert.Equal(t, int64(8*3600+1800), *day.WorkedSeconds)

	day = punch.AttendanceDay{Arrival: tod("18:00"), Departure: tod("09:00")}
	recompute(&day)
	assert.Nil(t, day.WorkedSeconds, "departure before arrival is undefined")

	day = punch.AttendanceDay{Arrival: tod("09:00")}
	recompute(&day)
	assert.Nil(t, day.WorkedSeconds)

	day = punch.AttendanceDay{Arrival: tod("09:00"), Departure: tod("09:10"), BreakSeconds: 3600}
	recompute(&day)
	require.NotNil(t, day.WorkedSeconds)
	assert.Equal(t, int64(0), *day.WorkedSeconds)
}
