package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/bridge/internal/infra/storage/postgres"
)

// Load reads configuration from a YAML file, then applies environment
// overrides and defaults. A missing file is not an error.
func Load(path string) (*AppConfig, error) {
	var cfg AppConfig

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		// Expand environment variables in the YAML content
		expandedData := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)

	switch cfg.Realtime.Source {
	case SourcePostgres, SourceRedis, SourceNone:
	default:
		return nil, fmt.Errorf("unknown realtime source %q", cfg.Realtime.Source)
	}
	if cfg.Realtime.Source == SourcePostgres && cfg.Realtime.Channel != postgres.NotifyChannel {
		return nil, fmt.Errorf("realtime channel %q does not match the event log trigger channel %q",
			cfg.Realtime.Channel, postgres.NotifyChannel)
	}

	return &cfg, nil
}

func applyEnv(cfg *AppConfig) error {
	r, rt := &cfg.Relay, &cfg.Realtime
	envString("BRIDGE_HOST", &r.Host)
	envString("BRIDGE_API_BASE_URL", &r.APIBaseURL)
	envString("BRIDGE_MERCHANT_ID", &r.MerchantID)
	envString("BRIDGE_OUTLET_ID", &r.OutletID)
	envString("BRIDGE_DEVICE_ID", &r.DeviceID)
	envString("BRIDGE_STAFF_KEY", &r.StaffKey)
	envString("BRIDGE_SECRET", &r.Secret)
	envString("BRIDGE_SECRET_NEXT", &r.SecretNext)
	envString("BRIDGE_QUEUE_PATH", &r.QueuePath)
	envString("REALTIME_CHANNEL", &rt.Channel)
	envString("REALTIME_SOURCE", &rt.Source)
	envString("DATABASE_URL", &cfg.Database.URL)
	envString("REDIS_URL", &cfg.Redis.URL)

	return errors.Join(
		envInt("BRIDGE_PORT", &r.Port),
		envMillis("BRIDGE_FLUSH_INTERVAL_MS", &r.FlushInterval),
		envMillis("REALTIME_WAIT_TIMEOUT_MS", &rt.WaitTimeout),
		envMillis("REALTIME_SUBWINDOW_MS", &rt.SubWindow),
		envInt("REALTIME_POLL_SLOTS", &rt.PollSlots),
		envInt("REALTIME_PORT", &rt.Port),
		envInt("GRPC_PORT", &cfg.GRPC.Port),
	)
}

func applyDefaults(cfg *AppConfig) {
	r, rt := &cfg.Relay, &cfg.Realtime
	if r.Host == "" {
		r.Host = "127.0.0.1"
	}
	if r.Port == 0 {
		r.Port = 18080
	}
	if r.FlushInterval == 0 {
		r.FlushInterval = 5 * time.Second
	}
	if r.QueuePath == "" {
		r.QueuePath = "data/queue.json"
	}
	if r.Timeout == 0 {
		r.Timeout = 10 * time.Second
	}

	if rt.Host == "" {
		rt.Host = r.Host
	}
	if rt.Port == 0 {
		rt.Port = 18081
	}
	if rt.WaitTimeout == 0 {
		rt.WaitTimeout = 25 * time.Second
	}
	if rt.SubWindow == 0 {
		rt.SubWindow = 5 * time.Second
	}
	if rt.PollSlots == 0 {
		rt.PollSlots = 1
	}
	if rt.Channel == "" {
		rt.Channel = postgres.NotifyChannel
	}
	if rt.Reconnect == 0 {
		rt.Reconnect = 5 * time.Second
	}
	if rt.Source == "" {
		switch {
		case cfg.Database.URL != "":
			rt.Source = SourcePostgres
		case cfg.Redis.URL != "":
			rt.Source = SourceRedis
		default:
			rt.Source = SourceNone
		}
	}
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func envMillis(key string, dst *time.Duration) error {
	var ms int
	if err := envInt(key, &ms); err != nil {
		return err
	}
	if ms > 0 {
		*dst = time.Duration(ms) * time.Millisecond
	}
	return nil
}
