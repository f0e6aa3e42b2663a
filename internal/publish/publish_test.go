package publish

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/musthaq16/drone-route-tracker/types"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type memorySink struct {
	mu     sync.Mutex
	events []Event
	err    error
	closed bool
}

func (m *memorySink) Publish(_ context.Context, evt Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return m.err
}

func (m *memorySink) Close() error {
	m.closed = true
	return nil
}

func samplePosition() types.Position {
	return types.Position{
		Latitude:     37.7749,
		Longitude:    -122.4194,
		Speed:        115,
		Heading:      225,
		Altitude:     50,
		Timestamp:    time.Date(2024, 5, 24, 10, 0, 0, 0, time.UTC),
		SegmentIndex: 1,
		Progress:     0.5,
		NextWaypoint: "Delivery Location",
	}
}

func TestPositionEvent(t *testing.T) {
	evt := PositionEvent("ORD-1", samplePosition())
	assert.Equal(t, EventPosition, evt.Type)
	assert.Equal(t, "ORD-1", evt.OrderID)
	assert.Len(t, evt.Geohash, geohashPrecision)
	assert.Equal(t, samplePosition().Timestamp, evt.Time)
}

func TestFanoutCallbacks(t *testing.T) {
	a, b := &memorySink{}, &memorySink{}
	f := NewFanout(quietLogger(), time.Second, a)
	f.Add(b)

	onLocation, onStatus := f.Callbacks("ORD-1")
	onLocation(samplePosition())
	onStatus(types.StatusPickedUp)

	for _, s := range []*memorySink{a, b} {
		require.Len(t, s.events, 2)
		assert.Equal(t, EventPosition, s.events[0].Type)
		assert.Equal(t, EventStatus, s.events[1].Type)
		assert.Equal(t, types.StatusPickedUp, s.events[1].Status)
	}

	require.NoError(t, f.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestFanoutKeepsDeliveringAfterFailure(t *testing.T) {
	broken := &memorySink{err: errors.New("down")}
	ok := &memorySink{}
	f := NewFanout(quietLogger(), time.Second, broken, ok)

	err := f.Publish(context.Background(), StatusEvent("ORD-1", types.StatusDelivered, time.Now()))
	assert.ErrorContains(t, err, "down")
	assert.Len(t, ok.events, 1)
}

func TestLogSink(t *testing.T) {
	l, out := logrus.New(), &strings.Builder{}
	l.SetOutput(out)
	l.SetFormatter(&logrus.JSONFormatter{})

	s := NewLogSink(l)
	require.NoError(t, s.Publish(context.Background(), PositionEvent("ORD-1", samplePosition())))
	require.NoError(t, s.Publish(context.Background(), StatusEvent("ORD-1", types.StatusDelivering, time.Now())))

	assert.Contains(t, out.String(), `"order_id":"ORD-1"`)
	assert.Contains(t, out.String(), `"status":"DELIVERING"`)
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaSink(t *testing.T) {
	w := &fakeWriter{}
	k := &KafkaSink{writer: w}

	require.NoError(t, k.Publish(context.Background(), PositionEvent("ORD-9", samplePosition())))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("ORD-9"), w.msgs[0].Key)

	var evt Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &evt))
	assert.Equal(t, EventPosition, evt.Type)
	require.NotNil(t, evt.Position)
	assert.Equal(t, 0.5, evt.Position.Progress)

	w.err = errors.New("broker unavailable")
	assert.ErrorContains(t, k.Publish(context.Background(), PositionEvent("ORD-9", samplePosition())), "kafka write")
}

func TestHubBroadcastsPerOrder(t *testing.T) {
	hub := NewHub(quietLogger())
	mux := http.NewServeMux()
	mux.Handle(HubPath, hub)
	srv := httptest.NewServer(mux)
	defer srv.Close()
	defer hub.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + HubPath + "ORD-1"
	conn, err := websocket.Dial(wsURL, "", srv.URL)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Subscribers("ORD-1") == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), StatusEvent("ORD-2", types.StatusPickedUp, time.Now())))
	require.NoError(t, hub.Publish(context.Background(), StatusEvent("ORD-1", types.StatusDelivered, time.Now())))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg string
	require.NoError(t, websocket.Message.Receive(conn, &msg))

	var evt Event
	require.NoError(t, json.Unmarshal([]byte(msg), &evt))
	assert.Equal(t, "ORD-1", evt.OrderID)
	assert.Equal(t, types.StatusDelivered, evt.Status)
}

func TestHubRejectsMissingOrder(t *testing.T) {
	hub := NewHub(quietLogger())
	rec := httptest.NewRecorder()
	hub.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, HubPath, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
