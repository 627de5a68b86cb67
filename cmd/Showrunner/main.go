// Package main is the entry point of the Showrunner resilience service.
// It initializes the Kratos application with the HTTP server and the
// websocket gateway, and starts the health monitor once the transports
// are up.
package main

import (
	"context"
	"flag"
	"os"

	"Showrunner/internal/biz"
	"Showrunner/internal/conf"
	"Showrunner/internal/data"
	zapLogger "Showrunner/pkg/log"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/tracing"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/robfig/cron/v3"

	_ "go.uber.org/automaxprocs"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	// Name is the name of the compiled software.
	Name string
	// Version is the version of the compiled software.
	Version string
	// flagconf is the config flag.
	flagconf string

	id, _ = os.Hostname()
)

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs/config.yaml", "config path, eg: -conf config.yaml")
}

func newApp(
	logger log.Logger,
	hs *http.Server,
	monitor *biz.MonitorUseCase,
	maintenance *cron.Cron,
	dispatcher *biz.NotifyDispatcher,
	history *data.IncidentHistoryRepo,
) *kratos.App {
	helper := log.NewHelper(logger)
	return kratos.New(
		kratos.ID(id),
		kratos.Name(Name),
		kratos.Version(Version),
		kratos.Metadata(map[string]string{}),
		kratos.Logger(logger),
		kratos.Server(hs),
		kratos.BeforeStart(func(context.Context) error {
			monitor.Start()
			helper.Infow(
				"msg", "resilience core online",
				"history_enabled", history.Enabled(),
				"maintenance_jobs", len(maintenance.Entries()),
				"notifications", dispatcher != nil,
			)
			return nil
		}),
		kratos.AfterStop(func(context.Context) error {
			monitor.Close()
			return nil
		}),
	)
}

func main() {
	flag.Parse()

	// Load configuration using Viper with environment variable support
	bc, err := conf.NewBootstrap(flagconf)
	if err != nil {
		// Use fallback logger before Zap is initialized
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Initialize Zap logger from configuration
	zapLog, err := zapLogger.NewZapLogger(bc.Log)
	if err != nil {
		log.Fatalf("failed to initialize zap logger: %v", err)
	}
	defer zapLog.Sync()

	// Create Kratos adapter for Zap logger
	logger := zapLogger.NewKratosAdapter(zapLog)

	logger = log.With(logger,
		"service.id", id,
		"service.name", Name,
		"service.version", Version,
		"trace.id", tracing.TraceID(),
		"span.id", tracing.SpanID(),
	)

	log.NewHelper(logger).Infow(
		"msg", "Showrunner service starting",
		"log.level", bc.Log.Level,
		"log.format", bc.Log.Format,
		"log.env", bc.Log.Env,
		"services", len(bc.Services),
	)

	app, cleanup, err := wireApp(bc.Server, bc.Data, bc.Resilience, bc.Services, bc.Notify, logger)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	// start and wait for stop signal
	if err := app.Run(); err != nil {
		panic(err)
	}
}
