package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/musthaq16/drone-route-tracker/internal/config"
	"github.com/musthaq16/drone-route-tracker/internal/geo"
	"github.com/musthaq16/drone-route-tracker/internal/logging"
	"github.com/musthaq16/drone-route-tracker/internal/publish"
	"github.com/musthaq16/drone-route-tracker/internal/runner"
	"github.com/musthaq16/drone-route-tracker/internal/station"
	"github.com/musthaq16/drone-route-tracker/internal/tracker"
	"github.com/musthaq16/drone-route-tracker/types"
)

var (
	configPath string
	stay       bool

	orderID   string
	origin    string
	pickup    string
	delivery  string
	interval  time.Duration
	step      float64
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "drone-route-tracker",
	Short: "Simulated delivery device tracking",
	Long:  `Simulates delivery drones moving station -> pickup -> delivery and publishes position and order status updates.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Track every order in the config file",
	RunE:  runOrders,
}

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Track a single order and print its updates",
	RunE:  runTrack,
}

func init() {
	runCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "Config file path")
	runCmd.Flags().BoolVar(&stay, "stay", false, "Keep running after all orders are delivered")

	trackCmd.Flags().StringVarP(&orderID, "order", "o", "", "Order ID (generated when empty)")
	trackCmd.Flags().StringVar(&origin, "origin", "", "Station location lat,lon (nearest station when empty)")
	trackCmd.Flags().StringVar(&pickup, "pickup", "", "Pickup location lat,lon")
	trackCmd.Flags().StringVar(&delivery, "delivery", "", "Delivery location lat,lon")
	trackCmd.Flags().DurationVarP(&interval, "interval", "i", time.Second, "Time between position updates")
	trackCmd.Flags().Float64VarP(&step, "step", "s", 0.02, "Leg progress per update")
	trackCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")
	trackCmd.Flags().StringVar(&logFormat, "log-format", "text", "Log format (json|text)")

	rootCmd.AddCommand(runCmd, trackCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withSignalHandler creates a context that cancels on OS signals
func withSignalHandler(ctx context.Context, log logrus.FieldLogger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.WithField("signal", sig.String()).Info("received signal, stopping all tracking")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

func runOrders(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logging.New(cfg.Log.Level, cfg.Log.Format)

	opts := cfg.Tracker.Options()
	opts.Logger = log
	manager := tracker.NewManager(opts)

	fanout := publish.NewFanout(log, 5*time.Second, publish.NewLogSink(log))
	if cfg.Sinks.Kafka.Enabled {
		fanout.Add(publish.NewKafkaSink(cfg.Sinks.Kafka.Brokers, cfg.Sinks.Kafka.Topic))
		log.WithField("topic", cfg.Sinks.Kafka.Topic).Info("publishing to kafka")
	}

	var srv *http.Server
	if cfg.Sinks.Websocket.Enabled {
		hub := publish.NewHub(log)
		fanout.Add(hub)

		mux := http.NewServeMux()
		mux.Handle(publish.HubPath, hub)
		srv = &http.Server{
			Addr:        cfg.Sinks.Websocket.ListenAddr,
			Handler:     mux,
			ReadTimeout: 10 * time.Second,
		}
		go func() {
			log.WithField("addr", srv.Addr).Info("websocket hub listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("websocket server failed")
			}
		}()
	}

	r := runner.New(manager, station.NewRegistry(cfg.Stations), fanout, log)

	ctx, cancel := withSignalHandler(cmd.Context(), log)
	defer cancel()

	n := r.StartOrders(cfg.Orders)
	log.WithField("orders", n).Info("started all orders, waiting for completion or signal")

	loader.Watch(r.Reload, func(err error) {
		log.WithError(err).Error("ignoring config change")
	})

	r.Wait(ctx, !stay, cfg.Tracker.Interval)

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("websocket server shutdown")
		}
	}
	r.Shutdown()
	log.Info("shutdown complete")
	return nil
}

func validateTrackFlags(interval time.Duration, step float64) error {
	if interval <= 0 {
		return fmt.Errorf("--interval must be positive, got %s", interval)
	}
	if step <= 0 || step > 1 {
		return fmt.Errorf("--step must be in (0, 1], got %g", step)
	}
	return nil
}

func runTrack(cmd *cobra.Command, args []string) error {
	if err := validateTrackFlags(interval, step); err != nil {
		return err
	}
	log := logging.New(logLevel, logFormat)

	if orderID == "" {
		orderID = "ORD-" + uuid.NewString()[:8]
	}

	var route types.Route
	for _, f := range []struct {
		value string
		dst   **types.RoutePoint
	}{
		{origin, &route.Origin},
		{pickup, &route.Pickup},
		{delivery, &route.Delivery},
	} {
		if f.value == "" {
			continue
		}
		c, err := geo.ParseCoord(f.value)
		if err != nil {
			return err
		}
		*f.dst = types.NewRoutePoint(c.Latitude, c.Longitude, "")
	}

	opts := tracker.DefaultOptions()
	opts.Interval = interval
	opts.Step = step
	opts.Logger = log

	manager := tracker.NewManager(opts)
	fanout := publish.NewFanout(log, time.Second, publish.NewLogSink(log))
	r := runner.New(manager, station.NewRegistry(station.Defaults), fanout, log)

	ctx, cancel := withSignalHandler(cmd.Context(), log)
	defer cancel()

	r.Track(orderID, route, nil)
	r.Wait(ctx, true, interval)
	r.Shutdown()
	return nil
}
