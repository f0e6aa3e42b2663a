package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/musthaq16/drone-route-tracker/internal/geo"
	"github.com/musthaq16/drone-route-tracker/internal/station"
	"github.com/musthaq16/drone-route-tracker/internal/tracker"
	"github.com/musthaq16/drone-route-tracker/types"
)

// LogConfig controls logging output
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=trace debug info warn warning error fatal panic"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=json text"`
}

// TrackerConfig tunes the movement simulation
type TrackerConfig struct {
	Interval        time.Duration `mapstructure:"interval" validate:"gt=0"`
	Step            float64       `mapstructure:"step" validate:"gt=0,lte=1"`
	Jitter          float64       `mapstructure:"jitter" validate:"gte=0"`
	Altitude        float64       `mapstructure:"altitude"`
	LegDistanceKM   float64       `mapstructure:"leg_distance_km" validate:"gt=0"`
	SpeedDamping    float64       `mapstructure:"speed_damping" validate:"gt=0"`
	DeliveringDelay time.Duration `mapstructure:"delivering_delay" validate:"gte=0"`
	DeliveredDelay  time.Duration `mapstructure:"delivered_delay" validate:"gte=0"`
}

// OrderConfig defines one order to track. Coordinates are "lat,lon".
type OrderConfig struct {
	OrderID         string `mapstructure:"order_id" validate:"required"`
	Origin          string `mapstructure:"origin"`
	Pickup          string `mapstructure:"pickup"`
	Delivery        string `mapstructure:"delivery"`
	InitialPosition string `mapstructure:"initial_position"`
}

// KafkaConfig enables the Kafka sink
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers" validate:"required_if=Enabled true,dive,hostname_port"`
	Topic   string   `mapstructure:"topic" validate:"required_if=Enabled true"`
}

// WebsocketConfig enables the websocket hub
type WebsocketConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr" validate:"required_if=Enabled true"`
}

// SinksConfig lists where updates are published
type SinksConfig struct {
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Websocket WebsocketConfig `mapstructure:"websocket"`
}

// AppConfig holds entire config
type AppConfig struct {
	Log      LogConfig         `mapstructure:"log"`
	Tracker  TrackerConfig     `mapstructure:"tracker"`
	Stations []station.Station `mapstructure:"stations" validate:"dive"`
	Orders   []OrderConfig     `mapstructure:"orders" validate:"dive"`
	Sinks    SinksConfig       `mapstructure:"sinks"`
}

// Options converts the tracker section into tracker options.
func (c TrackerConfig) Options() tracker.Options {
	return tracker.Options{
		Interval:        c.Interval,
		Step:            c.Step,
		Jitter:          c.Jitter,
		Altitude:        c.Altitude,
		LegDistanceKM:   c.LegDistanceKM,
		SpeedDamping:    c.SpeedDamping,
		DeliveringDelay: c.DeliveringDelay,
		DeliveredDelay:  c.DeliveredDelay,
	}
}

// Route parses the order's coordinates. Empty fields are left nil.
func (o OrderConfig) Route() (types.Route, error) {
	var route types.Route
	fields := []struct {
		name  string
		value string
		dst   **types.RoutePoint
	}{
		{"origin", o.Origin, &route.Origin},
		{"pickup", o.Pickup, &route.Pickup},
		{"delivery", o.Delivery, &route.Delivery},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		c, err := geo.ParseCoord(f.value)
		if err != nil {
			return types.Route{}, fmt.Errorf("order %s %s: %w", o.OrderID, f.name, err)
		}
		*f.dst = types.NewRoutePoint(c.Latitude, c.Longitude, "")
	}
	return route, nil
}

// Initial parses the order's initial device position, if any.
func (o OrderConfig) Initial() (*types.Coordinate, error) {
	if o.InitialPosition == "" {
		return nil, nil
	}
	c, err := geo.ParseCoord(o.InitialPosition)
	if err != nil {
		return nil, fmt.Errorf("order %s initial_position: %w", o.OrderID, err)
	}
	return &c, nil
}

func setDefaults(v *viper.Viper) {
	d := tracker.DefaultOptions()
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("tracker.interval", d.Interval)
	v.SetDefault("tracker.step", d.Step)
	v.SetDefault("tracker.jitter", d.Jitter)
	v.SetDefault("tracker.altitude", d.Altitude)
	v.SetDefault("tracker.leg_distance_km", d.LegDistanceKM)
	v.SetDefault("tracker.speed_damping", d.SpeedDamping)
	v.SetDefault("tracker.delivering_delay", d.DeliveringDelay)
	v.SetDefault("tracker.delivered_delay", d.DeliveredDelay)
	v.SetDefault("sinks.kafka.topic", "delivery.tracking")
	v.SetDefault("sinks.websocket.listen_addr", ":8080")
}

// Loader reads and watches a config file
type Loader struct {
	v        *viper.Viper
	validate *validator.Validate

	mu      sync.RWMutex
	current *AppConfig
}

// NewLoader creates a loader for the file at path.
func NewLoader(path string) *Loader {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	return &Loader{v: v, validate: validator.New()}
}

// Load reads, decodes and validates the config file.
func (l *Loader) Load() (*AppConfig, error) {
	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()
	return cfg, nil
}

func (l *Loader) decode() (*AppConfig, error) {
	var cfg AppConfig
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if len(cfg.Stations) == 0 {
		cfg.Stations = append([]station.Station(nil), station.Defaults...)
	}
	if err := l.validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	for _, o := range cfg.Orders {
		if _, err := o.Route(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		if _, err := o.Initial(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
	}
	return &cfg, nil
}

// Watch calls onChange with every valid config written to the file after
// Load. Invalid edits are reported through onError and otherwise ignored.
func (l *Loader) Watch(onChange func(*AppConfig), onError func(error)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.decode()
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}
		l.mu.Lock()
		l.current = cfg
		l.mu.Unlock()
		onChange(cfg)
	})
	l.v.WatchConfig()
}

// Current returns the last loaded configuration in a thread-safe way
func (l *Loader) Current() *AppConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}
