package tracker

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/musthaq16/drone-route-tracker/internal/geo"
	"github.com/musthaq16/drone-route-tracker/types"
)

// progress within this distance of 1 counts as a completed segment, so
// accumulated float error never costs an extra tick
const progressEpsilon = 1e-9

type scheduledStatus struct {
	due    time.Time
	status types.Status
	final  bool
}

type session struct {
	orderID    string
	path       []types.Waypoint
	opts       Options
	rng        *rand.Rand
	onLocation LocationFunc
	onStatus   StatusFunc
	manager    *Manager
	cancel     context.CancelFunc
	startedAt  time.Time

	// dispatch serialises ticks and scheduled statuses. stopped is set by
	// halt, done once the session completes on its own (under dispatch).
	dispatch   sync.Mutex
	stopped    atomic.Bool
	inCallback atomic.Int32
	done       bool
	pending    []scheduledStatus

	stateMu  sync.RWMutex
	segment  int
	progress float64
	current  types.Position
	arrived  bool
}

// begin reports the starting position.
func (s *session) begin(initial *types.Coordinate) {
	s.dispatch.Lock()
	defer s.dispatch.Unlock()
	if s.stopped.Load() {
		return
	}

	start := s.path[0].Coordinate()
	if initial != nil && geo.Valid(initial.Latitude, initial.Longitude) {
		start = *initial
	}
	pos := types.Position{
		Latitude:     start.Latitude,
		Longitude:    start.Longitude,
		Altitude:     s.opts.Altitude,
		Timestamp:    s.opts.Now(),
		SegmentIndex: 0,
		Progress:     0,
		NextWaypoint: s.path[1].Name,
	}

	s.stateMu.Lock()
	s.current = pos
	s.stateMu.Unlock()

	s.notifyLocation(pos)
}

// halt cancels the loop. Unless one of the session's callbacks is running,
// it also waits for the tick in progress, so nothing is delivered after it
// returns. Called from inside a callback it returns at once and the
// callbacks still queued in that tick are dropped.
func (s *session) halt() {
	s.stopped.Store(true)
	s.cancel()
	if s.inCallback.Load() > 0 {
		return
	}
	s.dispatch.Lock()
	s.pending = nil
	s.dispatch.Unlock()
}

func (s *session) run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	tickC := ticker.C
	for {
		var dueC <-chan time.Time
		if due, ok := s.nextDue(); ok {
			wait := time.Until(due)
			if timer == nil {
				timer = time.NewTimer(wait)
			} else {
				timer.Reset(wait)
			}
			dueC = timer.C
		}

		select {
		case <-ctx.Done():
			return
		case <-tickC:
			arrived, finished := s.tick()
			if finished {
				return
			}
			if arrived {
				ticker.Stop()
				tickC = nil
			}
		case <-dueC:
			if s.fireDue() {
				return
			}
		}
	}
}

func (s *session) nextDue() (time.Time, bool) {
	s.dispatch.Lock()
	defer s.dispatch.Unlock()
	if len(s.pending) == 0 {
		return time.Time{}, false
	}
	return s.pending[0].due, true
}

func (s *session) schedule(after time.Duration, status types.Status, final bool) {
	ev := scheduledStatus{due: time.Now().Add(after), status: status, final: final}
	i := sort.Search(len(s.pending), func(i int) bool { return s.pending[i].due.After(ev.due) })
	s.pending = append(s.pending, scheduledStatus{})
	copy(s.pending[i+1:], s.pending[i:])
	s.pending[i] = ev
}

// tick advances the session by one step and dispatches the results.
func (s *session) tick() (arrived, finished bool) {
	s.dispatch.Lock()
	defer s.dispatch.Unlock()
	if s.stopped.Load() || s.done {
		return false, true
	}

	pos, statuses, arrived := s.advance()

	if arrived {
		s.notifyLocation(pos)
		if s.stopped.Load() {
			return true, true
		}
		s.manager.log.WithField("order_id", s.orderID).Info("arrived at final waypoint")
		if s.onStatus == nil {
			s.finish()
			return true, true
		}
		s.schedule(s.opts.DeliveredDelay, types.StatusDelivered, true)
		return true, false
	}

	for _, st := range statuses {
		s.emitStatus(st)
	}
	s.notifyLocation(pos)
	return false, s.stopped.Load()
}

// fireDue dispatches every scheduled status whose time has come. It reports
// whether the session is finished.
func (s *session) fireDue() bool {
	s.dispatch.Lock()
	defer s.dispatch.Unlock()
	if s.stopped.Load() || s.done {
		return true
	}

	now := time.Now()
	for len(s.pending) > 0 && !s.pending[0].due.After(now) {
		ev := s.pending[0]
		s.pending = s.pending[1:]
		if ev.final {
			s.finish()
			s.emitStatus(ev.status)
			return true
		}
		s.emitStatus(ev.status)
		if s.stopped.Load() {
			return true
		}
	}
	return false
}

// finish removes the session from its manager. Caller holds dispatch.
func (s *session) finish() {
	s.done = true
	s.pending = nil
	s.manager.release(s)
	s.cancel()
	s.manager.log.WithField("order_id", s.orderID).Info("tracking completed")
}

// notifyLocation and emitStatus run one callback unless the session was
// halted. inCallback is raised first so a halt from inside the callback
// does not wait on dispatch.
func (s *session) notifyLocation(pos types.Position) {
	s.inCallback.Add(1)
	defer s.inCallback.Add(-1)
	if s.stopped.Load() {
		return
	}
	s.onLocation(pos)
}

func (s *session) emitStatus(st types.Status) {
	if s.onStatus == nil {
		return
	}
	s.inCallback.Add(1)
	defer s.inCallback.Add(-1)
	if s.stopped.Load() {
		return
	}
	s.manager.log.WithFields(logrus.Fields{
		"order_id": s.orderID,
		"status":   st,
	}).Debug("status update")
	s.onStatus(st)
}

// advance moves the session one step along its path. statuses are to be
// reported right away; delayed ones are queued on s.pending. Caller holds
// dispatch.
func (s *session) advance() (pos types.Position, statuses []types.Status, arrived bool) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	now := s.opts.Now()
	last := len(s.path) - 1

	if s.segment >= last {
		end := s.path[last]
		pos = types.Position{
			Latitude:     end.Latitude,
			Longitude:    end.Longitude,
			Speed:        0,
			Heading:      0,
			Altitude:     s.opts.Altitude,
			Timestamp:    now,
			SegmentIndex: last,
			Progress:     1,
			NextWaypoint: end.Name,
		}
		s.current = pos
		s.arrived = true
		return pos, nil, true
	}

	completed := s.segment
	start, end := s.path[completed], s.path[completed+1]

	progress := s.progress + s.opts.Step
	if progress >= 1-progressEpsilon {
		progress = 1
		s.segment++
		s.progress = 0

		// leg 0 is station -> pickup
		if completed == 0 && s.onStatus != nil {
			statuses = append(statuses, types.StatusPickedUp)
			s.schedule(s.opts.DeliveringDelay, types.StatusDelivering, false)
		}
	} else {
		s.progress = progress
	}

	c := geo.Interpolate(start, end, progress)
	pos = types.Position{
		Latitude:     c.Latitude + s.jitter(),
		Longitude:    c.Longitude + s.jitter(),
		Speed:        s.speed(),
		Heading:      geo.Heading(start, end),
		Altitude:     s.opts.Altitude,
		Timestamp:    now,
		SegmentIndex: completed,
		Progress:     progress,
		NextWaypoint: end.Name,
	}
	s.current = pos
	return pos, statuses, false
}

// jitter is zero-mean noise in [-Jitter/2, Jitter/2).
func (s *session) jitter() float64 {
	return (s.rng.Float64() - 0.5) * s.opts.Jitter
}

// speed is a rough km/h figure from the assumed leg length and how long a
// leg takes at the current step and interval.
func (s *session) speed() float64 {
	legSeconds := s.opts.Interval.Seconds() / s.opts.Step
	kmh := s.opts.LegDistanceKM * 3600 / legSeconds
	return math.Round(kmh * s.opts.SpeedDamping)
}

func (s *session) state() SessionState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	path := make([]types.Waypoint, len(s.path))
	copy(path, s.path)
	return SessionState{
		OrderID:      s.orderID,
		Path:         path,
		SegmentIndex: s.segment,
		Progress:     s.progress,
		Position:     s.current,
		Arrived:      s.arrived,
		StartedAt:    s.startedAt,
	}
}
