package debugsvc

import (
	"encoding/json"
	"net/http"
	"path"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/rulesync/internal/rscache"
)

// cacheHandler performs debug cache purges.
type cacheHandler struct {
	manager *rscache.Manager
}

// type check
var _ http.Handler = (*cacheHandler)(nil)

// cachePurgeRequest describes the request to the POST /debug/api/cache/clear
// HTTP API.
type cachePurgeRequest struct {
	// Patterns is the slice of path patterns to match the cache IDs.
	Patterns []string `json:"ids"`
}

// cachePurgeResponse describes the response to the POST /debug/api/cache/clear
// HTTP API.
type cachePurgeResponse struct {
	Results map[string]string `json:"results"`
}

// ServeHTTP implements the [http.Handler] interface for *cacheHandler.
func (h *cacheHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := slogutil.MustLoggerFromContext(ctx)

	req := &cachePurgeRequest{}
	err := json.NewDecoder(r.Body).Decode(req)
	if err != nil {
		l.ErrorContext(ctx, "decoding request", slogutil.KeyError, err)
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	reqIDs, err := h.idsFromReq(req.Patterns)
	if err != nil {
		l.ErrorContext(ctx, "validating request", slogutil.KeyError, err)
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	resp := &cachePurgeResponse{
		Results: make(map[string]string, len(reqIDs)),
	}

	for _, id := range reqIDs {
		h.manager.ClearByID(id)
		resp.Results[id] = "ok"
	}

	writeJSON(ctx, l, w, resp)
}

// idsFromReq returns the IDs of matching caches to purge.
func (h *cacheHandler) idsFromReq(patterns []string) (ids []string, err error) {
	ok, err := isWildcard(patterns)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	cacheIDs := h.manager.IDs()
	if ok {
		return cacheIDs, nil
	}

	return matchPatterns(cacheIDs, patterns)
}

// isWildcard returns true if patterns is a single "*".  It returns an error if
// patterns are empty or contain "*" together with other patterns.
func isWildcard(patterns []string) (ok bool, err error) {
	switch len(patterns) {
	case 0:
		return false, errors.Error("no ids")
	case 1:
		return patterns[0] == "*", nil
	default:
		for _, p := range patterns {
			if p == "*" {
				return false, errors.Error(`"*" cannot be used with other ids`)
			}
		}

		return false, nil
	}
}

// matchPatterns returns the IDs matching any of the path patterns.
func matchPatterns(ids, patterns []string) (matched []string, err error) {
	for _, id := range ids {
		for _, p := range patterns {
			var ok bool
			ok, err = path.Match(p, id)
			if err != nil {
				return nil, err
			}

			if ok {
				matched = append(matched, id)

				break
			}
		}
	}

	return matched, nil
}
