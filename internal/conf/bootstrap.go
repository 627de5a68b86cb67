// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables,
// with CLI flag overrides.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/protobuf/types/known/durationpb"
)

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with SHOWRUNNER_.
//
// Configuration priority: CLI flags > Environment variables > Config file > Defaults
//
// Optional environment variables:
//   - MYSQL_DSN or SHOWRUNNER_DATA_DATABASE_SOURCE: incident history database
//     (history persistence is disabled when unset)
//   - SHOWRUNNER_DATA_REDIS_ADDR: Redis for event dedupe
//   - WEBHOOK_URL or SHOWRUNNER_NOTIFY_WEBHOOK_URL: outbound webhook
//
// Parameters:
//   - configPath: Path to the configuration file or directory
//
// Returns:
//   - *Bootstrap: Loaded configuration
//   - error: Configuration loading or validation error
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Enable environment variable support with SHOWRUNNER_ prefix
	v.SetEnvPrefix("SHOWRUNNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind specific environment variables for secrets so the bare names keep
	// working alongside the prefixed forms
	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "SHOWRUNNER_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "SHOWRUNNER_DATA_REDIS_ADDR")
	_ = v.BindEnv("notify.webhook_url", "WEBHOOK_URL", "SHOWRUNNER_NOTIFY_WEBHOOK_URL")
	_ = v.BindEnv("server.http.admin_token", "ADMIN_TOKEN", "SHOWRUNNER_SERVER_HTTP_ADMIN_TOKEN")

	// Load configuration file
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// If config file is specified but not found, return error
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	// Parse configuration into Bootstrap structure
	bc := &Bootstrap{
		Server: &Server{
			Http: &Server_HTTP{
				Network:    v.GetString("server.http.network"),
				Addr:       v.GetString("server.http.addr"),
				Timeout:    durationpb.New(v.GetDuration("server.http.timeout")),
				AdminToken: v.GetString("server.http.admin_token"),
			},
		},
		Data: &Data{
			Database: &Data_Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
			Redis: &Data_Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				ReadTimeout:  durationpb.New(v.GetDuration("data.redis.read_timeout")),
				WriteTimeout: durationpb.New(v.GetDuration("data.redis.write_timeout")),
			},
		},
		Resilience: &Resilience{
			Breaker: &Resilience_Breaker{
				FailureThreshold: v.GetInt32("resilience.breaker.failure_threshold"),
				ResetTimeout:     durationpb.New(v.GetDuration("resilience.breaker.reset_timeout")),
			},
			Bus: &Resilience_Bus{
				QueueSize: v.GetInt32("resilience.bus.queue_size"),
			},
			Monitor: &Resilience_Monitor{
				DefaultInterval: durationpb.New(v.GetDuration("resilience.monitor.default_interval")),
				ProbeTimeout:    durationpb.New(v.GetDuration("resilience.monitor.probe_timeout")),
				Workers:         v.GetInt32("resilience.monitor.workers"),
			},
			Recovery: &Resilience_Recovery{
				MaxAttempts:    v.GetInt32("resilience.recovery.max_attempts"),
				BaseDelay:      durationpb.New(v.GetDuration("resilience.recovery.base_delay")),
				MaxDelay:       durationpb.New(v.GetDuration("resilience.recovery.max_delay")),
				AttemptTimeout: durationpb.New(v.GetDuration("resilience.recovery.attempt_timeout")),
				LadderSize:     v.GetInt32("resilience.recovery.ladder_size"),
			},
		},
		Notify: &Notify{
			WebhookUrl: v.GetString("notify.webhook_url"),
			ProxyUrl:   v.GetString("notify.proxy_url"),
			Timeout:    durationpb.New(v.GetDuration("notify.timeout")),
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
	}

	// Monitored services come from the config file as a list
	if err := v.UnmarshalKey("services", &bc.Services); err != nil {
		return nil, fmt.Errorf("failed to parse services list: %w", err)
	}

	// Validate required fields
	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 1*time.Minute)

	// Data defaults
	v.SetDefault("data.database.driver", "mysql")
	// Note: data.database.source (MYSQL_DSN) is optional; empty disables history

	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	// Resilience defaults
	v.SetDefault("resilience.breaker.failure_threshold", 5)
	v.SetDefault("resilience.breaker.reset_timeout", 60*time.Second)
	v.SetDefault("resilience.bus.queue_size", 256)
	v.SetDefault("resilience.monitor.default_interval", 30*time.Second)
	v.SetDefault("resilience.monitor.probe_timeout", 10*time.Second)
	v.SetDefault("resilience.monitor.workers", 4)
	v.SetDefault("resilience.recovery.max_attempts", 5)
	v.SetDefault("resilience.recovery.base_delay", 2*time.Second)
	v.SetDefault("resilience.recovery.max_delay", 5*time.Minute)
	v.SetDefault("resilience.recovery.attempt_timeout", 30*time.Second)
	v.SetDefault("resilience.recovery.ladder_size", 3)

	// Notify defaults
	v.SetDefault("notify.timeout", 10*time.Second)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that all required configuration fields are present and valid.
// It returns an error listing all problems found.
func Validate(bc *Bootstrap) error {
	var problems []string

	if len(bc.Services) == 0 {
		problems = append(problems, "services: at least one monitored service is required")
	}

	seen := make(map[string]bool, len(bc.Services))
	for i, svc := range bc.Services {
		if svc.Name == "" {
			problems = append(problems, fmt.Sprintf("services[%d].name: required", i))
			continue
		}
		if seen[svc.Name] {
			problems = append(problems, fmt.Sprintf("services[%d].name: duplicate identity %q", i, svc.Name))
		}
		seen[svc.Name] = true
		if svc.BaseUrl == "" {
			problems = append(problems, fmt.Sprintf("services[%d].base_url: required for %q", i, svc.Name))
		}
	}

	if bc.Resilience.Breaker.FailureThreshold <= 0 {
		problems = append(problems, "resilience.breaker.failure_threshold: must be positive")
	}
	if bc.Resilience.Monitor.Workers <= 0 {
		problems = append(problems, "resilience.monitor.workers: must be positive")
	}
	if bc.Resilience.Recovery.MaxAttempts <= 0 {
		problems = append(problems, "resilience.recovery.max_attempts: must be positive")
	}
	if bc.Resilience.Recovery.BaseDelay.AsDuration() > bc.Resilience.Recovery.MaxDelay.AsDuration() {
		problems = append(problems, "resilience.recovery.base_delay: must not exceed max_delay")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}

	return nil
}
