package middleware

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractClientIP(t *testing.T) {
	newReq := func(remote string, headers map[string]string) *http.Request {
		req, _ := http.NewRequest(http.MethodGet, "http://example/health", nil)
		req.RemoteAddr = remote
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return req
	}

	tests := []struct {
		name string
		req  *http.Request
		want string
	}{
		{
			name: "remote addr only",
			req:  newReq("10.0.0.5:43210", nil),
			want: "10.0.0.5",
		},
		{
			name: "x-forwarded-for single",
			req:  newReq("10.0.0.5:43210", map[string]string{"X-Forwarded-For": "203.0.113.7"}),
			want: "203.0.113.7",
		},
		{
			name: "x-forwarded-for chain keeps first hop",
			req:  newReq("10.0.0.5:43210", map[string]string{"X-Forwarded-For": "203.0.113.7, 70.1.2.3"}),
			want: "203.0.113.7",
		},
		{
			name: "x-real-ip fallback",
			req:  newReq("10.0.0.5:43210", map[string]string{"X-Real-IP": "198.51.100.9"}),
			want: "198.51.100.9",
		},
		{
			name: "unparseable remote addr passed through",
			req:  newReq("bogus", nil),
			want: "bogus",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractClientIP(tt.req))
		})
	}
}
