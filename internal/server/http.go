// Package server assembles the HTTP transport: the REST API of the
// resilience core and the websocket gateway for live event streaming.
package server

import (
	"strconv"

	"Showrunner/internal/conf"
	"Showrunner/internal/server/middleware"
	"Showrunner/internal/service"
	pkglog "Showrunner/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/wire"
)

// ProviderSet is server providers.
var ProviderSet = wire.NewSet(NewHTTPServer, NewGateway)

// NewHTTPServer new an HTTP server.
func NewHTTPServer(c *conf.Server, svc *service.MonitoringService, gw *Gateway, logger log.Logger) *http.Server {
	logHelper := pkglog.NewLogHelper(logger)

	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			middleware.Auth(c.Http.AdminToken, logHelper),
			middleware.Logging(logHelper),
		),
	}
	if c.Http.Network != "" {
		opts = append(opts, http.Network(c.Http.Network))
	}
	if c.Http.Addr != "" {
		opts = append(opts, http.Address(c.Http.Addr))
	}
	if c.Http.Timeout != nil {
		opts = append(opts, http.Timeout(c.Http.Timeout.AsDuration()))
	}
	srv := http.NewServer(opts...)

	registerRoutes(srv, svc)

	// The websocket upgrade bypasses the kratos middleware chain: a hijacked
	// connection cannot flow through request/reply middleware.
	srv.HandleFunc("/ws", gw.Handle)

	return srv
}

func registerRoutes(srv *http.Server, svc *service.MonitoringService) {
	r := srv.Route("/")

	r.GET("/health", func(ctx http.Context) error {
		return ctx.Result(200, svc.AggregateHealth(ctx))
	})

	// Registered before /health/{service} so "circuit-breaker" is not
	// swallowed by the service name wildcard.
	r.GET("/health/circuit-breaker/{service}", func(ctx http.Context) error {
		reply, err := svc.BreakerState(ctx, ctx.Vars().Get("service"))
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.GET("/health/{service}", func(ctx http.Context) error {
		reply, err := svc.ServiceHealth(ctx, ctx.Vars().Get("service"))
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.POST("/monitoring/start", func(ctx http.Context) error {
		return ctx.Result(200, svc.StartMonitoring(ctx))
	})

	r.POST("/monitoring/stop", func(ctx http.Context) error {
		return ctx.Result(200, svc.StopMonitoring(ctx))
	})

	r.GET("/recovery/items", func(ctx http.Context) error {
		return ctx.Result(200, svc.RecoveryItems(ctx))
	})

	r.GET("/history", func(ctx http.Context) error {
		limit, _ := strconv.Atoi(ctx.Query().Get("limit"))
		reply, err := svc.IncidentHistory(ctx, limit)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})
}
