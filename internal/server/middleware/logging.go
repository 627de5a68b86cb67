package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	pkglog "Showrunner/pkg/log"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
)

// slowRequestThreshold marks requests worth a dedicated warning.
const slowRequestThreshold = 5 * time.Second

// Logging records one line per HTTP request with method, path, status and
// duration. It also generates a request id (honoring an incoming
// X-Request-ID) and injects the request context for downstream handlers.
func Logging(logger *pkglog.LogHelper) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			start := time.Now()

			var (
				method    = "UNKNOWN"
				path      string
				ip        string
				requestID string
			)

			if tr, ok := transport.FromServerContext(ctx); ok {
				path = tr.Operation()
				if ht, ok := tr.(khttp.Transporter); ok {
					httpReq := ht.Request()
					method = httpReq.Method
					path = httpReq.URL.Path
					ip = extractClientIP(httpReq)
					requestID = httpReq.Header.Get("X-Request-ID")
				}
			}
			if requestID == "" {
				requestID = pkglog.GenerateRequestID()
			}
			ctx = pkglog.WithRequestContext(ctx, requestID, "")

			reply, err := handler(ctx, req)

			duration := time.Since(start)
			status := 200
			if err != nil {
				status = int(kerrors.FromError(err).Code)
			}

			logger.Request(method, path, status, duration.Milliseconds(),
				"request_id", requestID,
				"ip", ip,
			)
			if duration > slowRequestThreshold {
				logger.Request(method, path, status, duration.Milliseconds(),
					"request_id", requestID,
					"slow", true,
				)
			}
			return reply, err
		}
	}
}

// extractClientIP prefers proxy headers over the raw remote address.
func extractClientIP(req *http.Request) string {
	if fwd := req.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.Index(fwd, ","); idx > 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	if real := req.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
