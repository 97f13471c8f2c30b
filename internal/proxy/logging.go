package proxy

import (
	"log"
	"net/http"
	"time"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func withLogging(logger *log.Logger, next http.Handler) http.Handler {
	if logger == nil {
		logger = log.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		logger.Printf("REQ %s %s Host=%s UA=%q From=%s", r.Method, r.URL.String(), r.Host, r.UserAgent(), r.RemoteAddr)
		logHeader := func(name string) {
			if v := r.Header.Get(name); v != "" {
				logger.Printf("HDR %s: %s", name, v)
			}
		}
		logHeader("X-Forwarded-For")
		logHeader("Accept-Language")
		logHeader("Referer")

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		logger.Printf("RES %s %d %dB in %s", r.URL.Path, rec.status, rec.bytes, time.Since(start).Round(time.Millisecond))
	})
}
