package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTrustedRealIP(t *testing.T) {
	tests := []struct {
		name    string
		trusted []string
		remote  string
		headers map[string]string
		want    string
	}{
		{"no proxies strips port", nil, "203.0.113.9:5555", nil, "203.0.113.9"},
		{"untrusted header ignored", nil, "203.0.113.9:5555",
			map[string]string{"X-Real-IP": "1.2.3.4"}, "203.0.113.9"},
		{"trusted real ip", []string{"10.0.0.0/8"}, "10.1.2.3:80",
			map[string]string{"X-Real-IP": "198.51.100.7"}, "198.51.100.7"},
		{"trusted forwarded for first hop", []string{"10.0.0.0/8"}, "10.1.2.3:80",
			map[string]string{"X-Forwarded-For": "198.51.100.7, 10.1.2.3"}, "198.51.100.7"},
		{"single address proxy", []string{"127.0.0.1"}, "127.0.0.1:9000",
			map[string]string{"X-Real-IP": "198.51.100.8"}, "198.51.100.8"},
		{"invalid header keeps remote", []string{"10.0.0.0/8"}, "10.1.2.3:80",
			map[string]string{"X-Real-IP": "not-an-ip"}, "10.1.2.3"},
		{"invalid cidr skipped", []string{"bogus"}, "10.1.2.3:80",
			map[string]string{"X-Real-IP": "198.51.100.7"}, "10.1.2.3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := TrustedRealIP(tt.trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.RemoteAddr
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if got != tt.want {
				t.Errorf("RemoteAddr = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	h := Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("nope"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/sessions/x/preview", nil))

	out := buf.String()
	for _, want := range []string{"level=WARN", "status=404", "bytes=4", "path=/api/sessions/x/preview"} {
		if !strings.Contains(out, want) {
			t.Errorf("log line missing %q: %s", want, out)
		}
	}
}
