package rshttp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/golibs/ioutil"
	"github.com/AdguardTeam/golibs/netutil/urlutil"
	"github.com/AdguardTeam/rulesync/internal/filter"
	"github.com/AdguardTeam/rulesync/internal/version"
	"github.com/c2h5oh/datasize"
)

// Client fetches the content of filter lists over HTTP(S).
type Client struct {
	http      *http.Client
	userAgent string
	maxSize   datasize.ByteSize
}

// ClientConfig is the configuration structure for Client.
type ClientConfig struct {
	// Timeout is the timeout for a single fetch, including reading the body.
	Timeout time.Duration

	// MaxSize is the maximum size of a single list.  It must be positive.
	MaxSize datasize.ByteSize
}

// NewClient returns a new client.  c must not be nil.
func NewClient(c *ClientConfig) (cli *Client) {
	return &Client{
		http: &http.Client{
			Timeout: c.Timeout,
		},
		userAgent: version.UserAgent(),
		maxSize:   c.MaxSize,
	}
}

// Fetch returns the content of the filter list with the given ID located at
// u.  Any error returned is a *filter.SourceUnavailableError wrapping a
// *FetchError.
func (c *Client) Fetch(ctx context.Context, id filter.ID, u *url.URL) (b []byte, err error) {
	defer func() {
		if err != nil {
			err = &filter.SourceUnavailableError{
				Err: err,
				ID:  id,
			}
		}
	}()

	ru := urlutil.RedactUserinfo(u)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, newFetchError(ru, nil, fmt.Errorf("creating request: %w", err))
	}

	req.Header.Set(httphdr.UserAgent, c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		// A non-nil response with a non-nil error only occurs when
		// CheckRedirect fails, and its body is already closed.
		return nil, newFetchError(ru, resp, fmt.Errorf("requesting: %w", err))
	}
	defer func() { err = errors.WithDeferred(err, resp.Body.Close()) }()

	if resp.StatusCode != http.StatusOK {
		return nil, newFetchError(ru, resp, ErrUnexpectedStatus)
	}

	b, err = io.ReadAll(ioutil.LimitReader(resp.Body, c.maxSize.Bytes()))
	if err != nil {
		return nil, newFetchError(ru, resp, fmt.Errorf("reading body: %w", err))
	}

	if len(b) == 0 {
		return nil, newFetchError(ru, resp, ErrEmptyBody)
	}

	return b, nil
}
