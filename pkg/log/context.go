package log

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// contextKey is the private key type used to store the RequestContext
type contextKey string

const requestContextKey contextKey = "showrunner_request_context"

// RequestContext carries request tracing information across function and
// module boundaries via context.Context.
type RequestContext struct {
	RequestID     string    // short request id, e.g. mgrn0zfqda
	CorrelationID string    // incident correlation id, if the request belongs to one
	StartTime     time.Time // request start time
}

var (
	randSource = rand.NewSource(time.Now().UnixNano())
	randMutex  sync.Mutex
	// base36 character set (lowercase letters + digits)
	base36Chars = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// GenerateRequestID generates a 10 character random request id.
// Base36 encoding keeps ids short and cheap compared to a UUID.
func GenerateRequestID() string {
	randMutex.Lock()
	defer randMutex.Unlock()

	b := make([]byte, 10)
	for i := range b {
		b[i] = base36Chars[randSource.Int63()%36]
	}
	return string(b)
}

// WithRequestContext injects a RequestContext into the Context.
// Usually called from middleware so that all downstream log calls can pick
// up the tracing fields.
func WithRequestContext(ctx context.Context, requestID, correlationID string) context.Context {
	reqCtx := &RequestContext{
		RequestID:     requestID,
		CorrelationID: correlationID,
		StartTime:     time.Now(),
	}
	return context.WithValue(ctx, requestContextKey, reqCtx)
}

// GetRequestContext extracts the RequestContext from the Context.
// Returns a default empty RequestContext if none is present.
func GetRequestContext(ctx context.Context) *RequestContext {
	if ctx == nil {
		return &RequestContext{RequestID: "unknown"}
	}

	if reqCtx, ok := ctx.Value(requestContextKey).(*RequestContext); ok {
		return reqCtx
	}

	return &RequestContext{RequestID: "unknown"}
}
