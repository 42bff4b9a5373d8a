package daemon

import (
	"net/http"
	"time"

	"flowops/internal/logging"
)

type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(p)
	r.bytes += n
	return n, err
}

// quietPaths are polled by load balancers and scrapers.
var quietPaths = map[string]bool{"/health": true, "/metrics": true}

// LoggingMiddleware tags each request with an X-Request-Id and logs its
// outcome. Server errors are logged at warn, probe traffic at debug.
func LoggingMiddleware(logger logging.Logger, next http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = logging.NewRequestID()
		}
		w.Header().Set("X-Request-Id", reqID)
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		fields := []logging.Field{
			logging.F("request_id", reqID),
			logging.F("method", r.Method),
			logging.F("path", r.URL.Path),
			logging.F("status", rec.status),
			logging.F("bytes", rec.bytes),
			logging.F("latency_ms", time.Since(start).Milliseconds()),
		}
		switch {
		case rec.status >= http.StatusInternalServerError:
			logger.Warn("http_request", fields...)
		case quietPaths[r.URL.Path]:
			logger.Debug("http_request", fields...)
		default:
			logger.Info("http_request", fields...)
		}
	})
}
