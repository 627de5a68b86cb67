// Package middleware provides HTTP middleware for authentication and
// request logging.
package middleware

import (
	"context"
	"strings"

	pkglog "Showrunner/pkg/log"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// Auth guards the mutating endpoints (monitor start/stop) with the admin
// token. Read endpoints stay open; an empty configured token disables the
// check entirely, which is the expected setup on trusted networks.
func Auth(adminToken string, logger *pkglog.LogHelper) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			if adminToken == "" {
				return handler(ctx, req)
			}

			tr, ok := transport.FromServerContext(ctx)
			if !ok {
				return handler(ctx, req)
			}
			ht, ok := tr.(http.Transporter)
			if !ok || ht.Request().Method == "GET" {
				return handler(ctx, req)
			}

			token := extractToken(ht)
			if token != adminToken {
				logger.Request(ht.Request().Method, ht.Request().URL.Path, 401, 0,
					"reason", "invalid or missing admin token")
				return nil, errors.New(401, "UNAUTHORIZED", "admin token required")
			}
			return handler(ctx, req)
		}
	}
}

// extractToken reads the admin token from "Authorization: Bearer {token}" or
// the X-API-Key header.
func extractToken(ht http.Transporter) string {
	req := ht.Request()
	if auth := req.Header.Get("Authorization"); auth != "" {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return req.Header.Get("X-API-Key")
}
