package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/o11y-demo/genai-facts/internal/observability"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RequestLogger logs one entry per request with a Cloud Logging httpRequest
// payload. The request context must already carry its span for the entry to
// be correlated with the trace.
func RequestLogger(logger observability.Logger, skipPaths ...string) func(http.Handler) http.Handler {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				latency := time.Since(start)

				fields := []observability.Field{
					zap.String("request_id", GetRequestIDFromContext(r.Context())),
					zap.Object("httpRequest", httpRequest{
						method:    r.Method,
						url:       r.URL.RequestURI(),
						status:    status,
						size:      ww.BytesWritten(),
						userAgent: r.UserAgent(),
						remoteIP:  r.RemoteAddr,
						protocol:  r.Proto,
						latency:   latency,
					}),
				}

				msg := fmt.Sprintf("%s %s %d", r.Method, r.URL.Path, status)
				switch {
				case status >= http.StatusInternalServerError:
					logger.Error(r.Context(), msg, fields...)
				case status >= http.StatusBadRequest:
					logger.Warn(r.Context(), msg, fields...)
				default:
					logger.Info(r.Context(), msg, fields...)
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// httpRequest renders the LogEntry.httpRequest shape understood by Cloud Logging.
type httpRequest struct {
	method    string
	url       string
	status    int
	size      int
	userAgent string
	remoteIP  string
	protocol  string
	latency   time.Duration
}

func (h httpRequest) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("requestMethod", h.method)
	enc.AddString("requestUrl", h.url)
	enc.AddInt("status", h.status)
	enc.AddString("responseSize", strconv.Itoa(h.size))
	enc.AddString("userAgent", h.userAgent)
	enc.AddString("remoteIp", h.remoteIP)
	enc.AddString("protocol", h.protocol)
	enc.AddString("latency", strconv.FormatFloat(h.latency.Seconds(), 'f', 9, 64)+"s")
	return nil
}
