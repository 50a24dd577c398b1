package server

import (
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	cblog "github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Shared app logger for the registry server package.
var logger = cblog.NewWithOptions(os.Stderr, cblog.Options{
	ReportTimestamp: true,
	TimeFormat:      time.RFC3339,
	ReportCaller:    false,
})

func GetLogger() *cblog.Logger {
	return logger
}

// Call this once in main after reading config.
func configureLogger(logLevel string) {
	switch logLevel {
	case "debug":
		logger.SetLevel(cblog.DebugLevel)
		logger.SetReportCaller(true)
	case "info":
		logger.SetLevel(cblog.InfoLevel)
	case "warn":
		logger.SetLevel(cblog.WarnLevel)
	default:
		logger.SetLevel(cblog.ErrorLevel)
	}
}

// responseWriter captures the status code and bytes written for the
// access log.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	bytes      int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		// attach / propagate a request id
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", reqID)

		rw := &responseWriter{ResponseWriter: w, statusCode: 200}
		next.ServeHTTP(rw, r)

		user := "-"
		if u := userFrom(r); u != nil {
			user = u.Username
		}

		logger.Info("http",
			"method", r.Method,
			"path", r.URL.RequestURI(),
			"status", rw.statusCode,
			"bytes", rw.bytes,
			"dur", time.Since(start),
			"ip", clientIP(r),
			"ua", r.UserAgent(),
			"req_id", reqID,
			"user", user,
		)
	})
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xr := r.Header.Get("X-Real-IP"); xr != "" {
		return xr
	}
	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	if host != "" {
		return host
	}
	return r.RemoteAddr
}
