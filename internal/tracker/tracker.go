// Package tracker simulates delivery devices moving along a station -> pickup
// -> delivery route and reports interpolated positions and order status
// transitions on a fixed cadence.
package tracker

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/musthaq16/drone-route-tracker/types"
)

// LocationFunc receives every position update of a session.
type LocationFunc func(types.Position)

// StatusFunc receives status transitions of a session.
type StatusFunc func(types.Status)

// Options tunes the simulation. Interval, Step, LegDistanceKM and
// SpeedDamping take their defaults when not positive. Zero Jitter, Altitude
// and delays are kept as given, so start from DefaultOptions to keep those
// defaults.
type Options struct {
	Interval        time.Duration // time between ticks
	Step            float64       // segment progress added per tick
	Jitter          float64       // GPS noise magnitude in degrees
	Altitude        float64       // reported altitude in meters
	LegDistanceKM   float64       // assumed length of every leg, for speed
	SpeedDamping    float64
	DeliveringDelay time.Duration // PICKED_UP -> DELIVERING
	DeliveredDelay  time.Duration // arrival -> DELIVERED

	Logger logrus.FieldLogger
	Now    func() time.Time
	Seed   int64
}

// DefaultOptions returns the standard simulation settings.
func DefaultOptions() Options {
	return Options{
		Interval:        time.Second,
		Step:            0.02,
		Jitter:          0.0001,
		Altitude:        50,
		LegDistanceKM:   2,
		SpeedDamping:    0.8,
		DeliveringDelay: time.Second,
		DeliveredDelay:  2 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Interval <= 0 {
		o.Interval = d.Interval
	}
	if o.Step <= 0 || o.Step > 1 {
		o.Step = d.Step
	}
	if o.Jitter < 0 {
		o.Jitter = 0
	}
	if o.LegDistanceKM <= 0 {
		o.LegDistanceKM = d.LegDistanceKM
	}
	if o.SpeedDamping <= 0 {
		o.SpeedDamping = d.SpeedDamping
	}
	if o.DeliveringDelay < 0 {
		o.DeliveringDelay = 0
	}
	if o.DeliveredDelay < 0 {
		o.DeliveredDelay = 0
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// SessionState is a point-in-time view of one session.
type SessionState struct {
	OrderID      string
	Path         []types.Waypoint
	SegmentIndex int
	Progress     float64
	Position     types.Position
	Arrived      bool
	StartedAt    time.Time
}

// Manager owns every active tracking session, at most one per order ID.
//
// Callbacks run on the session's own goroutine and are serialised per
// session. Every Manager method may be called from a callback, including
// Start and Stop for the callback's own order.
type Manager struct {
	opts Options
	log  logrus.FieldLogger

	mu       sync.Mutex
	sessions map[string]*session
	seq      int64
	wg       sync.WaitGroup
}

// NewManager creates a Manager with the given options.
func NewManager(opts Options) *Manager {
	opts = opts.withDefaults()
	return &Manager{
		opts:     opts,
		log:      opts.Logger,
		sessions: make(map[string]*session),
	}
}

// Start begins tracking orderID, replacing any session already running for
// it. The starting position is reported before Start returns. onStatus may
// be nil.
func (m *Manager) Start(orderID string, route types.Route, initial *types.Coordinate, onLocation LocationFunc, onStatus StatusFunc) {
	if onLocation == nil {
		onLocation = func(types.Position) {}
	}

	path, ok := BuildPath(route)
	if !ok {
		m.log.WithField("order_id", orderID).Warn("insufficient route data, using default path")
	}

	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	m.seq++
	seed := m.opts.Seed + m.seq
	if m.opts.Seed == 0 {
		seed = time.Now().UnixNano() + m.seq
	}
	s := &session{
		orderID:    orderID,
		path:       path,
		opts:       m.opts,
		rng:        rand.New(rand.NewSource(seed)),
		onLocation: onLocation,
		onStatus:   onStatus,
		manager:    m,
		cancel:     cancel,
		startedAt:  m.opts.Now(),
	}
	previous := m.sessions[orderID]
	m.sessions[orderID] = s
	m.wg.Add(1)
	m.mu.Unlock()

	if previous != nil {
		previous.halt()
		m.log.WithField("order_id", orderID).Info("replaced existing tracking session")
	}

	s.begin(initial)

	go func() {
		defer m.wg.Done()
		s.run(ctx)
	}()

	m.log.WithFields(logrus.Fields{
		"order_id":  orderID,
		"waypoints": len(path),
		"interval":  m.opts.Interval,
	}).Info("started tracking")
}

// Stop cancels the session for orderID. No callback of that session fires
// after Stop returns; when Stop is called while one of the session's
// callbacks is running, that callback is left to return on its own. Stopping
// an unknown order is a no-op.
func (m *Manager) Stop(orderID string) {
	m.mu.Lock()
	s, ok := m.sessions[orderID]
	if ok {
		delete(m.sessions, orderID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	s.halt()
	m.log.WithField("order_id", orderID).Info("stopped tracking")
}

// StopAll stops every active session.
func (m *Manager) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Stop(id)
	}
}

// IsTracking reports whether a session is active for orderID.
func (m *Manager) IsTracking(orderID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[orderID]
	return ok
}

// ActiveCount returns the number of active sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Snapshot returns the current state of the session for orderID.
func (m *Manager) Snapshot(orderID string) (SessionState, bool) {
	m.mu.Lock()
	s, ok := m.sessions[orderID]
	m.mu.Unlock()
	if !ok {
		return SessionState{}, false
	}
	return s.state(), true
}

// Wait blocks until every session goroutine has exited.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// release drops s from the registry if it is still the session for its
// order. Used when a session completes on its own.
func (m *Manager) release(s *session) {
	m.mu.Lock()
	if m.sessions[s.orderID] == s {
		delete(m.sessions, s.orderID)
	}
	m.mu.Unlock()
}
