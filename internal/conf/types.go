package conf

import (
	"time"

	"google.golang.org/protobuf/types/known/durationpb"
)

// Bootstrap is the root configuration of the service.
type Bootstrap struct {
	Server     *Server
	Data       *Data
	Resilience *Resilience
	Services   []*Service
	Notify     *Notify
	Log        *Log
}

// Server holds transport configuration.
type Server struct {
	Http *Server_HTTP
}

// Server_HTTP configures the HTTP server.
type Server_HTTP struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
	// AdminToken, when set, is required as X-Api-Key on mutating endpoints.
	AdminToken string
}

// Data holds data layer configuration.
type Data struct {
	Database *Data_Database
	Redis    *Data_Redis
}

// Data_Database configures the incident history database. An empty Source
// disables history persistence.
type Data_Database struct {
	Driver string
	Source string
}

// Data_Redis configures the Redis connection used for event dedupe.
type Data_Redis struct {
	Network      string
	Addr         string
	ReadTimeout  *durationpb.Duration
	WriteTimeout *durationpb.Duration
}

// Resilience groups the tuning knobs of the resilience core.
type Resilience struct {
	Breaker  *Resilience_Breaker
	Bus      *Resilience_Bus
	Monitor  *Resilience_Monitor
	Recovery *Resilience_Recovery
}

// Resilience_Breaker configures circuit breakers.
type Resilience_Breaker struct {
	FailureThreshold int32
	ResetTimeout     *durationpb.Duration
}

// Resilience_Bus configures the event bus.
type Resilience_Bus struct {
	QueueSize int32
}

// Resilience_Monitor configures the health monitor.
type Resilience_Monitor struct {
	DefaultInterval *durationpb.Duration
	ProbeTimeout    *durationpb.Duration
	Workers         int32
}

// Resilience_Recovery configures the recovery engine.
type Resilience_Recovery struct {
	MaxAttempts    int32
	BaseDelay      *durationpb.Duration
	MaxDelay       *durationpb.Duration
	AttemptTimeout *durationpb.Duration
	LadderSize     int32
}

// Service describes one monitored downstream service. Decoded from the
// services list in the config file.
type Service struct {
	Name     string        `mapstructure:"name"`
	Kind     string        `mapstructure:"kind"`
	BaseUrl  string        `mapstructure:"base_url"`
	ApiKey   string        `mapstructure:"api_key"`
	Interval time.Duration `mapstructure:"interval"`
}

// Notify configures the outbound webhook channel. An empty WebhookUrl
// disables webhooks.
type Notify struct {
	WebhookUrl string
	ProxyUrl   string
	Timeout    *durationpb.Duration
}

// Log configures the Zap logger.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}
