package debugsvc

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/rulesync/internal/version"
)

// HdrReconcileState is the response header containing the state of the
// reconciliation controller at the time the request was received.
const HdrReconcileState = "X-Reconcile-State"

// Endpoint IDs used to tag the requests in the logs.
const (
	endpointCacheClear  = "cache_clear"
	endpointCheck       = "check"
	endpointHealthCheck = "health_check"
	endpointMetrics     = "metrics"
	endpointRefresh     = "refresh"
	endpointState       = "state"
)

// middleware is the base middleware for the debug API.  It tags the requests to
// the endpoint with the given ID and the state of the controller, adds the
// logger into the context, and logs the requests starting and finishing at the
// given level.
func (svc *Service) middleware(endpoint string, h http.Handler, lvl slog.Level) (wrapped http.Handler) {
	f := func(w http.ResponseWriter, r *http.Request) {
		state := svc.controller.State().String()

		respHdr := w.Header()
		respHdr.Set(httphdr.Server, version.UserAgent())
		respHdr.Set(HdrReconcileState, state)

		l := svc.log.With(
			"endpoint", endpoint,
			"raddr", r.RemoteAddr,
			"method", r.Method,
			"request_uri", r.RequestURI,
		)

		ctx := slogutil.ContextWithLogger(r.Context(), l)
		r = r.WithContext(ctx)

		rw := &codeRecorderResponseWriter{
			ResponseWriter: w,
		}

		start := time.Now()
		l.Log(ctx, lvl, "started", "reconcile_state", state)
		defer func() {
			l.Log(ctx, lvl, "finished", "code", rw.statusCode(), "elapsed", time.Since(start))
		}()

		h.ServeHTTP(rw, r)
	}

	return http.HandlerFunc(f)
}

// codeRecorderResponseWriter wraps an [http.ResponseWriter] allowing to save
// the response code.
type codeRecorderResponseWriter struct {
	http.ResponseWriter

	code int
}

// type check
var _ http.ResponseWriter = (*codeRecorderResponseWriter)(nil)

// WriteHeader implements [http.ResponseWriter] for *codeRecorderResponseWriter.
func (w *codeRecorderResponseWriter) WriteHeader(code int) {
	w.code = code

	w.ResponseWriter.WriteHeader(code)
}

// statusCode returns the recorded code or 200 if the handler has never called
// WriteHeader explicitly.
func (w *codeRecorderResponseWriter) statusCode() (code int) {
	if w.code == 0 {
		return http.StatusOK
	}

	return w.code
}
