// Package runner starts tracking sessions for configured orders and keeps
// them in step with config reloads.
package runner

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/musthaq16/drone-route-tracker/internal/config"
	"github.com/musthaq16/drone-route-tracker/internal/publish"
	"github.com/musthaq16/drone-route-tracker/internal/station"
	"github.com/musthaq16/drone-route-tracker/internal/tracker"
	"github.com/musthaq16/drone-route-tracker/types"
)

// Runner ties the tracker to stations and publishers.
type Runner struct {
	manager  *tracker.Manager
	stations *station.Registry
	fanout   *publish.Fanout
	log      logrus.FieldLogger

	mu   sync.Mutex
	seen map[string]struct{} // configured orders already started
}

// New creates a Runner.
func New(manager *tracker.Manager, stations *station.Registry, fanout *publish.Fanout, log logrus.FieldLogger) *Runner {
	return &Runner{
		manager:  manager,
		stations: stations,
		fanout:   fanout,
		log:      log,
		seen:     make(map[string]struct{}),
	}
}

// Track starts a session for one order, assigning the nearest station as
// origin when the route has none.
func (r *Runner) Track(orderID string, route types.Route, initial *types.Coordinate) {
	route, assigned := r.stations.AssignOrigin(route)
	if assigned != nil {
		r.log.WithFields(logrus.Fields{
			"order_id": orderID,
			"station":  assigned.ID,
		}).Info("assigned dispatch station")
	}

	onLocation, onStatus := r.fanout.Callbacks(orderID)
	r.manager.Start(orderID, route, initial, onLocation, onStatus)
}

// StartOrders starts every order not started before and returns how many
// were started. Each configured order runs once per process.
func (r *Runner) StartOrders(orders []config.OrderConfig) int {
	started := 0
	for _, o := range orders {
		r.mu.Lock()
		_, done := r.seen[o.OrderID]
		if !done {
			r.seen[o.OrderID] = struct{}{}
		}
		r.mu.Unlock()
		if done {
			continue
		}

		route, err := o.Route()
		if err != nil {
			r.log.WithError(err).WithField("order_id", o.OrderID).Error("skipping order")
			continue
		}
		initial, err := o.Initial()
		if err != nil {
			r.log.WithError(err).WithField("order_id", o.OrderID).Error("skipping order")
			continue
		}
		r.Track(o.OrderID, route, initial)
		started++
	}
	return started
}

// Reload applies a changed configuration: stations are replaced and newly
// listed orders started. Tracker tuning changes apply on restart only.
func (r *Runner) Reload(cfg *config.AppConfig) {
	r.stations.Replace(cfg.Stations)
	n := r.StartOrders(cfg.Orders)
	r.log.WithFields(logrus.Fields{
		"stations":    len(cfg.Stations),
		"new_orders":  n,
		"active_jobs": r.manager.ActiveCount(),
	}).Info("config reloaded")
}

// Wait blocks until ctx is done or, when untilIdle is set, no session is
// left running. It polls every interval, or every second when interval is
// not positive.
func (r *Runner) Wait(ctx context.Context, untilIdle bool, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("shutdown requested")
			return
		case <-ticker.C:
			if untilIdle && r.manager.ActiveCount() == 0 {
				r.log.Info("all orders delivered")
				return
			}
		}
	}
}

// Shutdown stops every session and closes the publishers.
func (r *Runner) Shutdown() {
	r.manager.StopAll()
	r.manager.Wait()
	if err := r.fanout.Close(); err != nil {
		r.log.WithError(err).Warn("closing publishers")
	}
}
