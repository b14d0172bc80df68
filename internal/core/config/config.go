package config

import (
	"time"

	redisclient "github.com/vietddude/bridge/internal/infra/redis"
	"github.com/vietddude/bridge/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Relay    RelayConfig        `yaml:"relay"`
	Realtime RealtimeConfig     `yaml:"realtime"`
	GRPC     GRPCConfig         `yaml:"grpc"`
	Redis    redisclient.Config `yaml:"redis"`
	Logging  LoggingConfig      `yaml:"logging"`
	Database postgres.Config    `yaml:"database"`
}

// RelayConfig holds the store-and-forward relay settings.
type RelayConfig struct {
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	APIBaseURL    string        `yaml:"api_base_url"`
	MerchantID    string        `yaml:"merchant_id"`
	OutletID      string        `yaml:"outlet_id"`
	DeviceID      string        `yaml:"device_id"`
	StaffKey      string        `yaml:"staff_key"`
	Secret        string        `yaml:"secret"`
	SecretNext    string        `yaml:"secret_next"` // accepted by verifiers during rotation
	FlushInterval time.Duration `yaml:"flush_interval"`
	QueuePath     string        `yaml:"queue_path"`
	Timeout       time.Duration `yaml:"timeout"` // per upstream call
}

// RealtimeConfig holds the event wait settings.
type RealtimeConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	WaitTimeout time.Duration `yaml:"wait_timeout"`
	SubWindow   time.Duration `yaml:"sub_window"`
	PollSlots   int           `yaml:"poll_slots"`
	Channel     string        `yaml:"channel"`
	Reconnect   time.Duration `yaml:"reconnect"`
	Source      string        `yaml:"source"` // postgres, redis, none
}

// GRPCConfig holds the gRPC health endpoint settings. Port 0 disables it.
type GRPCConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

const (
	SourcePostgres = "postgres"
	SourceRedis    = "redis"
	SourceNone     = "none"
)
