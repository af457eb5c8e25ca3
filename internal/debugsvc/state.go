package debugsvc

import (
	"net/http"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/rulesync/internal/remediate"
	"github.com/AdguardTeam/rulesync/internal/rulelimits"
)

// stateHandler reports the state of the reconciliation.
type stateHandler struct {
	controller StateProvider
	tracker    *rulelimits.Tracker
	remediator DisabledRulesProvider
	checker    HostChecker
}

// stateResponse describes the response to the GET /debug/api/state HTTP API.
type stateResponse struct {
	Limits           map[string]*limitJSON     `json:"limits"`
	State            string                    `json:"state"`
	RecentlyDisabled []*remediate.DisabledRule `json:"recently_disabled"`
	ActiveRules      int                       `json:"active_rules"`
	LimitsExceeded   bool                      `json:"limits_exceeded"`
	LimitsChanged    bool                      `json:"limits_changed"`
}

// limitJSON is the JSON representation of a single category of
// [rulelimits.Limits].
type limitJSON struct {
	Value    int  `json:"value"`
	Ceiling  int  `json:"ceiling"`
	Exceeded bool `json:"exceeded"`
}

// type check
var _ http.Handler = (*stateHandler)(nil)

// ServeHTTP implements the [http.Handler] interface for *stateHandler.
func (h *stateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := slogutil.MustLoggerFromContext(ctx)

	resp := &stateResponse{
		State:            h.controller.State().String(),
		RecentlyDisabled: h.remediator.RecentlyDisabled(),
		ActiveRules:      h.checker.ActiveRuleCount(),
		LimitsExceeded:   h.tracker.AreLimitsExceeded(),
		LimitsChanged:    h.tracker.DidLimitsChange(),
	}

	if resp.RecentlyDisabled == nil {
		resp.RecentlyDisabled = []*remediate.DisabledRule{}
	}

	if lim := h.tracker.Current(); lim != nil {
		resp.Limits = make(map[string]*limitJSON, len(rulelimits.Categories))
		for _, cat := range rulelimits.Categories {
			c := lim.Count(cat)
			resp.Limits[cat.String()] = &limitJSON{
				Value:    c.Value,
				Ceiling:  c.Ceiling,
				Exceeded: c.Exceeded(),
			}
		}
	}

	writeJSON(ctx, l, w, resp)
}

// checkHandler checks hosts against the active rules.
type checkHandler struct {
	checker HostChecker
}

// checkResponse describes the response to the GET /debug/api/check HTTP API.
type checkResponse struct {
	Host    string `json:"host"`
	Blocked bool   `json:"blocked"`
}

// type check
var _ http.Handler = (*checkHandler)(nil)

// ServeHTTP implements the [http.Handler] interface for *checkHandler.
func (h *checkHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := slogutil.MustLoggerFromContext(ctx)

	host := r.URL.Query().Get("host")
	if host == "" {
		http.Error(w, "no host", http.StatusBadRequest)

		return
	}

	writeJSON(ctx, l, w, &checkResponse{
		Host:    host,
		Blocked: h.checker.IsBlocked(host),
	})
}
