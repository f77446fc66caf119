package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/punchsync/internal/punch"
)

func sampleDay() punch.AttendanceDay {
	return punch.AttendanceDay{
		EmployeeID:     42,
		OrganizationID: 1,
		Date:           "2024-01-10",
		Arrival:        punch.TimeOfDay(9 * 3600).Ptr(),
		Source:         punch.SourceBiometric,
		DeviceSerial:   "X1",
		Version:        1,
	}
}

func TestEventFor(t *testing.T) {
	e := EventFor(sampleDay(), punch.Arrival)

	assert.Equal(t, int64(42), e.EmployeeID)
	assert.Equal(t, "arrival", e.Punch)
	assert.Equal(t, "09:00:00", e.ArrivalTime)
	assert.Empty(t, e.DepartureTime)
	assert.Nil(t, e.Departure)
	assert.Equal(t, punch.SourceBiometric, e.Source)
}

func TestMulti_DeliversToAllAndJoinsErrors(t *testing.T) {
	var got []string
	boom := errors.New("boom")
	m := Multi{
		NotifierFunc(func(_ context.Context, e Event) error {
			got = append(got, "a:"+e.Punch)
			return nil
		}),
		NotifierFunc(func(_ context.Context, e Event) error {
			got = append(got, "b:"+e.Punch)
			return boom
		}),
		Discard{},
	}

	err := m.Notify(context.Background(), EventFor(sampleDay(), punch.Departure))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a:departure", "b:departure"}, got)
}

func TestLog_WritesStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	n := NewLog(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, n.Notify(context.Background(), EventFor(sampleDay(), punch.Arrival)))
	out := buf.String()
	assert.Contains(t, out, "attendance updated")
	assert.Contains(t, out, "employee_id=42")
	assert.Contains(t, out, "arrival=09:00:00")
}

func TestHub_BroadcastsToSubscribers(t *testing.T) {
	h := NewHub(4)
	a, cancelA := h.Subscribe()
	b, cancelB := h.Subscribe()
	defer cancelB()

	require.NoError(t, h.Notify(context.Background(), EventFor(sampleDay(), punch.Arrival)))

	assert.Equal(t, "arrival", (<-a).Punch)
	assert.Equal(t, "arrival", (<-b).Punch)

	cancelA()
	cancelA()
	_, open := <-a
	assert.False(t, open, "cancelled subscription is closed")
	assert.Equal(t, 1, h.Subscribers())
}

func TestHub_FullSubscriberDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub(1)
	_, cancel := h.Subscribe()
	defer cancel()

	for i := 0; i < 3; i++ {
		require.NoError(t, h.Notify(context.Background(), Event{Version: int64(i)}))
	}
	assert.Equal(t, 2, h.Dropped())
}

func TestHub_Close(t *testing.T) {
	h := NewHub(1)
	ch, cancel := h.Subscribe()

	h.Close()
	h.Close()
	cancel()

	_, open := <-ch
	assert.False(t, open)

	late, _ := h.Subscribe()
	_, open = <-late
	assert.False(t, open)
	assert.NoError(t, h.Notify(context.Background(), Event{}))
}
