package rshttp

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
)

// Supported URL schemes of filter sources.
const (
	SchemeFile  = "file"
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

// ParseSourceURL parses an absolute URL and makes sure that it is either a
// valid HTTP(S) URL or a file URI with a path.  All returned errors will have
// the underlying type [*url.Error].
func ParseSourceURL(s string) (u *url.URL, err error) {
	u, err = url.Parse(s)
	if err != nil {
		return nil, err
	}

	switch scheme := strings.ToLower(u.Scheme); scheme {
	case SchemeFile:
		if u.Path == "" {
			return nil, &url.Error{
				Op:  "parse",
				URL: s,
				Err: errors.Error("empty path"),
			}
		}
	case SchemeHTTP, SchemeHTTPS:
		if u.Host == "" {
			return nil, &url.Error{
				Op:  "parse",
				URL: s,
				Err: errors.Error("empty host"),
			}
		}
	default:
		return nil, &url.Error{
			Op:  "parse",
			URL: s,
			Err: fmt.Errorf("bad scheme %q", u.Scheme),
		}
	}

	return u, nil
}

// IsFile returns true if u is a file URI.  u must not be nil.
func IsFile(u *url.URL) (ok bool) {
	return strings.EqualFold(u.Scheme, SchemeFile)
}
