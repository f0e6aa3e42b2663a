package runner

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/musthaq16/drone-route-tracker/internal/config"
	"github.com/musthaq16/drone-route-tracker/internal/publish"
	"github.com/musthaq16/drone-route-tracker/internal/station"
	"github.com/musthaq16/drone-route-tracker/internal/tracker"
	"github.com/musthaq16/drone-route-tracker/types"
)

type memorySink struct {
	mu     sync.Mutex
	events []publish.Event
}

func (m *memorySink) Publish(_ context.Context, evt publish.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *memorySink) Close() error { return nil }

func (m *memorySink) statuses(orderID string) []types.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Status
	for _, e := range m.events {
		if e.OrderID == orderID && e.Type == publish.EventStatus {
			out = append(out, e.Status)
		}
	}
	return out
}

func (m *memorySink) firstPosition(orderID string) (types.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.OrderID == orderID && e.Type == publish.EventPosition {
			return *e.Position, true
		}
	}
	return types.Position{}, false
}

func newRunner(t *testing.T) (*Runner, *tracker.Manager, *memorySink) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	m := tracker.NewManager(tracker.Options{
		Interval:        5 * time.Millisecond,
		Step:            0.25,
		DeliveringDelay: 5 * time.Millisecond,
		DeliveredDelay:  10 * time.Millisecond,
		Logger:          log,
	})
	sink := &memorySink{}
	r := New(m, station.NewRegistry(station.Defaults), publish.NewFanout(log, time.Second, sink), log)
	return r, m, sink
}

func TestStartOrdersRunsEachOrderOnce(t *testing.T) {
	r, m, sink := newRunner(t)
	defer r.Shutdown()

	orders := []config.OrderConfig{
		{OrderID: "ORD-1", Origin: "37.78,-122.41", Pickup: "37.775,-122.419", Delivery: "37.774,-122.420"},
		{OrderID: "ORD-2", Pickup: "37.765,-122.429", Delivery: "37.760,-122.435"},
	}
	assert.Equal(t, 2, r.StartOrders(orders))
	assert.Equal(t, 0, r.StartOrders(orders))

	require.Eventually(t, func() bool { return m.ActiveCount() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []types.Status{types.StatusPickedUp, types.StatusDelivering, types.StatusDelivered}, sink.statuses("ORD-1"))
	assert.Equal(t, []types.Status{types.StatusPickedUp, types.StatusDelivering, types.StatusDelivered}, sink.statuses("ORD-2"))
}

func TestTrackAssignsNearestStation(t *testing.T) {
	r, _, sink := newRunner(t)
	defer r.Shutdown()

	r.Track("ORD-3", types.Route{
		Pickup:   types.NewRoutePoint(37.7650, -122.4290, ""),
		Delivery: types.NewRoutePoint(37.7600, -122.4350, ""),
	}, nil)

	first, ok := sink.firstPosition("ORD-3")
	require.True(t, ok)
	// SkyHub South
	assert.Equal(t, 37.7649, first.Latitude)
	assert.Equal(t, -122.4294, first.Longitude)
}

func TestStartOrdersSkipsBadOrders(t *testing.T) {
	r, m, _ := newRunner(t)
	defer r.Shutdown()

	n := r.StartOrders([]config.OrderConfig{{OrderID: "bad", Pickup: "x"}})
	assert.Zero(t, n)
	assert.False(t, m.IsTracking("bad"))
}

func TestReload(t *testing.T) {
	r, m, _ := newRunner(t)
	defer r.Shutdown()

	r.Reload(&config.AppConfig{
		Stations: []station.Station{{ID: "only", Latitude: 37.7, Longitude: -122.4}},
		Orders:   []config.OrderConfig{{OrderID: "ORD-9", Pickup: "37.775,-122.419", Delivery: "37.774,-122.420"}},
	})
	assert.True(t, m.IsTracking("ORD-9"))
	st, ok := m.Snapshot("ORD-9")
	require.True(t, ok)
	assert.Equal(t, 37.7, st.Path[0].Latitude)
}

func TestWait(t *testing.T) {
	r, _, _ := newRunner(t)
	defer r.Shutdown()

	t.Run("idle", func(t *testing.T) {
		done := make(chan struct{})
		go func() {
			r.Wait(context.Background(), true, time.Millisecond)
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Wait did not return while idle")
		}
	})

	t.Run("non-positive interval", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		assert.NotPanics(t, func() { r.Wait(ctx, false, 0) })
		assert.NotPanics(t, func() { r.Wait(ctx, false, -time.Second) })
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		r.Wait(ctx, false, time.Hour)
	})
}
