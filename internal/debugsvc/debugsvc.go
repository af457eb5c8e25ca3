// Package debugsvc contains the debug HTTP API of rulesync.
package debugsvc

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/osutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/rulesync/internal/reconcile"
	"github.com/AdguardTeam/rulesync/internal/remediate"
	"github.com/AdguardTeam/rulesync/internal/rscache"
	"github.com/AdguardTeam/rulesync/internal/rulelimits"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Service is the HTTP service of rulesync.  It serves prometheus metrics, health
// check, state, and other endpoints.
type Service struct {
	log        *slog.Logger
	controller StateProvider
	refrHdlr   *refreshHandler
	cacheHdlr  *cacheHandler
	stateHdlr  *stateHandler
	checkHdlr  *checkHandler
	servers    map[string]*server
}

// StateProvider returns the state of the reconciliation controller.
type StateProvider interface {
	// State returns the current state of the controller.
	State() (s reconcile.State)
}

// DisabledRulesProvider returns the recently disabled rules.
type DisabledRulesProvider interface {
	// RecentlyDisabled returns the user rules disabled recently.
	RecentlyDisabled() (rules []*remediate.DisabledRule)
}

// HostChecker checks hosts against the active rules.
type HostChecker interface {
	// IsBlocked returns true if host is blocked by the active rules.
	IsBlocked(host string) (blocked bool)

	// ActiveRuleCount returns the number of currently active rules.
	ActiveRuleCount() (n int)
}

// Config is the rulesync HTTP service configuration structure.
type Config struct {
	// Logger is used to log the requests.  It must not be nil.
	Logger *slog.Logger

	// Refreshers are the entities that can be refreshed through the API.
	Refreshers Refreshers

	// CacheManager contains the caches that can be cleared through the API.
	// It must not be nil.
	CacheManager *rscache.Manager

	// Controller is used to report the state.  It must not be nil.
	Controller StateProvider

	// Tracker is used to report the rule limits.  It must not be nil.
	Tracker *rulelimits.Tracker

	// Remediator is used to report the disabled rules.  It must not be nil.
	Remediator DisabledRulesProvider

	// Checker is used to check the hosts.  It must not be nil.
	Checker HostChecker

	// APIAddr is the address of the health-check and debug API.  If empty,
	// the API is not served.
	APIAddr string

	// PrometheusAddr is the address of the metrics endpoint.  It may be the
	// same as APIAddr.  If empty, the metrics are not served.
	PrometheusAddr string
}

// New returns a new properly initialized *Service.
func New(c *Config) (svc *Service) {
	svc = &Service{
		log:        c.Logger,
		controller: c.Controller,
		refrHdlr: &refreshHandler{
			refrs: c.Refreshers,
		},
		cacheHdlr: &cacheHandler{
			manager: c.CacheManager,
		},
		stateHdlr: &stateHandler{
			controller: c.Controller,
			tracker:    c.Tracker,
			remediator: c.Remediator,
			checker:    c.Checker,
		},
		checkHdlr: &checkHandler{
			checker: c.Checker,
		},
		servers: make(map[string]*server),
	}

	svc.addServer(c.PrometheusAddr, "prometheus")

	// The health-check and API server causes panic if it doesn't start because
	// the server is needed to check if the service is alive.
	svc.addServer(c.APIAddr, "api")

	return svc
}

// server is a single server within the rulesync HTTP service.
type server struct {
	http *http.Server
	name string
}

// startServer starts one server and panics if there is an unexpected error.
func startServer(ctx context.Context, l *slog.Logger, s *server) {
	defer slogutil.RecoverAndExit(ctx, l, osutil.ExitCodeFailure)

	l.InfoContext(ctx, "listening", "name", s.name, "addr", s.http.Addr)

	srv := s.http
	err := srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		panic(fmt.Errorf("%s: failed listen on %s: %s", srv.Addr, s.name, err))
	}
}

// type check
var _ service.Interface = (*Service)(nil)

// Start implements the [service.Interface] interface for *Service.  It starts
// serving all endpoints but does not wait for them to actually go online.  err
// is always nil, if any endpoint fails to start, it panics.
func (svc *Service) Start(ctx context.Context) (err error) {
	for _, srv := range svc.servers {
		go startServer(context.WithoutCancel(ctx), svc.log, srv)
	}

	return nil
}

// Shutdown implements the [service.Interface] interface for *Service.  It stops
// serving all endpoints.
func (svc *Service) Shutdown(ctx context.Context) (err error) {
	srvNum := 0
	for _, srv := range svc.servers {
		err = srv.http.Shutdown(ctx)
		if err != nil {
			return fmt.Errorf("server %s shutdown: %w", srv.name, err)
		}

		srvNum++

		svc.log.InfoContext(ctx, "server is shutdown", "name", srv.name)
	}

	svc.log.InfoContext(ctx, "all servers shutdown", "num", srvNum)

	return nil
}

// addServer adds the named handler to the service, creating a new server
// listening on a different address if necessary.  If addr is empty, the service
// isn't created.
func (svc *Service) addServer(addr, name string) {
	if addr == "" {
		return
	}

	var mux *http.ServeMux

	srv, ok := svc.servers[addr]
	if !ok {
		mux = http.NewServeMux()
		svc.addHandler(name, mux)

		svc.servers[addr] = &server{
			// #nosec G112 -- Do not set the timeouts, since the refreshes may
			// be busy for a long time.
			http: &http.Server{
				Addr:     addr,
				Handler:  mux,
				ErrorLog: slog.NewLogLogger(svc.log.Handler(), slog.LevelDebug),
			},
			name: name,
		}

		return
	}

	mux = srv.http.Handler.(*http.ServeMux)
	svc.addHandler(name, mux)
	srv.name += ";" + name
}

// Path pattern constants.
const (
	PathPatternDebugAPICache   = "/debug/api/cache/clear"
	PathPatternDebugAPICheck   = "/debug/api/check"
	PathPatternDebugAPIRefresh = "/debug/api/refresh"
	PathPatternDebugAPIState   = "/debug/api/state"
	PathPatternHealthCheck     = "/health-check"
	PathPatternMetrics         = "/metrics"
)

// addHandler adds the handlers of the named service to mux.
func (svc *Service) addHandler(serviceName string, mux *http.ServeMux) {
	switch serviceName {
	case "api":
		svc.apiMux(mux)
	case "prometheus":
		svc.promMux(mux)
	default:
		panic(fmt.Errorf("debugsvc: could not find mux for service %q", serviceName))
	}
}

// apiMux adds the health-check and other debug API handlers to mux.
func (svc *Service) apiMux(mux *http.ServeMux) {
	mux.Handle(http.MethodGet+" "+PathPatternHealthCheck, svc.middleware(
		endpointHealthCheck,
		http.HandlerFunc(serveHealthCheck),
		slog.LevelDebug,
	))
	mux.Handle(
		http.MethodPost+" "+PathPatternDebugAPIRefresh,
		svc.middleware(endpointRefresh, svc.refrHdlr, slog.LevelInfo),
	)
	mux.Handle(
		http.MethodPost+" "+PathPatternDebugAPICache,
		svc.middleware(endpointCacheClear, svc.cacheHdlr, slog.LevelInfo),
	)
	mux.Handle(
		http.MethodGet+" "+PathPatternDebugAPIState,
		svc.middleware(endpointState, svc.stateHdlr, slog.LevelDebug),
	)
	mux.Handle(
		http.MethodGet+" "+PathPatternDebugAPICheck,
		svc.middleware(endpointCheck, svc.checkHdlr, slog.LevelDebug),
	)
}

// promMux adds the prometheus service handler to mux.
func (svc *Service) promMux(mux *http.ServeMux) {
	mux.Handle(
		http.MethodGet+" "+PathPatternMetrics,
		svc.middleware(endpointMetrics, promhttp.Handler(), slog.LevelDebug),
	)
}
