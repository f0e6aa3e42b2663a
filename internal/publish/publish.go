// Package publish forwards tracker callbacks to outside consumers.
package publish

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/musthaq16/drone-route-tracker/internal/geo"
	"github.com/musthaq16/drone-route-tracker/internal/tracker"
	"github.com/musthaq16/drone-route-tracker/types"
)

const geohashPrecision = 7

// Event types
const (
	EventPosition = "position"
	EventStatus   = "status"
)

// Event is one tracker notification for an order.
type Event struct {
	Type     string          `json:"type"`
	OrderID  string          `json:"orderId"`
	Position *types.Position `json:"position,omitempty"`
	Status   types.Status    `json:"status,omitempty"`
	Geohash  string          `json:"geohash,omitempty"`
	Time     time.Time       `json:"time"`
}

// PositionEvent builds the event for a position update.
func PositionEvent(orderID string, p types.Position) Event {
	return Event{
		Type:     EventPosition,
		OrderID:  orderID,
		Position: &p,
		Geohash:  geo.Geohash(p.Latitude, p.Longitude, geohashPrecision),
		Time:     p.Timestamp,
	}
}

// StatusEvent builds the event for a status transition.
func StatusEvent(orderID string, s types.Status, at time.Time) Event {
	return Event{
		Type:    EventStatus,
		OrderID: orderID,
		Status:  s,
		Time:    at,
	}
}

// Sink receives events.
type Sink interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// Fanout delivers every event to all of its sinks.
type Fanout struct {
	log     logrus.FieldLogger
	timeout time.Duration

	mu    sync.RWMutex
	sinks []Sink
}

// NewFanout creates a Fanout over sinks. timeout bounds each Publish call.
func NewFanout(log logrus.FieldLogger, timeout time.Duration, sinks ...Sink) *Fanout {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Fanout{log: log, timeout: timeout, sinks: sinks}
}

// Add registers another sink.
func (f *Fanout) Add(s Sink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, s)
}

// Publish sends evt to every sink. Failures are logged per sink and do not
// stop delivery to the others.
func (f *Fanout) Publish(ctx context.Context, evt Event) error {
	f.mu.RLock()
	sinks := f.sinks
	f.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var errs []error
	for _, s := range sinks {
		if err := s.Publish(ctx, evt); err != nil {
			f.log.WithFields(logrus.Fields{
				"order_id": evt.OrderID,
				"type":     evt.Type,
				"error":    err,
			}).Error("publish failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Callbacks returns tracker callbacks that publish events for orderID.
func (f *Fanout) Callbacks(orderID string) (tracker.LocationFunc, tracker.StatusFunc) {
	onLocation := func(p types.Position) {
		_ = f.Publish(context.Background(), PositionEvent(orderID, p))
	}
	onStatus := func(s types.Status) {
		_ = f.Publish(context.Background(), StatusEvent(orderID, s, time.Now()))
	}
	return onLocation, onStatus
}

// Close closes every sink.
func (f *Fanout) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	f.sinks = nil
	return errors.Join(errs...)
}

// LogSink writes events to a logger.
type LogSink struct {
	log logrus.FieldLogger
}

// NewLogSink creates a LogSink.
func NewLogSink(log logrus.FieldLogger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Publish(_ context.Context, evt Event) error {
	entry := s.log.WithFields(logrus.Fields{
		"order_id": evt.OrderID,
		"type":     evt.Type,
	})
	switch evt.Type {
	case EventPosition:
		p := evt.Position
		entry.WithFields(logrus.Fields{
			"lat":      p.Latitude,
			"lon":      p.Longitude,
			"speed":    p.Speed,
			"heading":  p.Heading,
			"segment":  p.SegmentIndex,
			"progress": p.Progress,
			"next":     p.NextWaypoint,
			"geohash":  evt.Geohash,
		}).Info("position update")
	case EventStatus:
		entry.WithField("status", evt.Status).Info("status update")
	}
	return nil
}

func (s *LogSink) Close() error { return nil }
