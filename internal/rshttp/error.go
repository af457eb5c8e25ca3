package rshttp

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/httphdr"
)

const (
	// ErrUnexpectedStatus is returned by [Client.Fetch] when the server
	// responds with a status code other than 200.
	ErrUnexpectedStatus errors.Error = "unexpected status code"

	// ErrEmptyBody is returned by [Client.Fetch] when the server responds
	// with an empty list.  An empty response is more likely a server issue
	// than an intentionally emptied list, so the stored content is kept.
	ErrEmptyBody errors.Error = "empty text, not resetting"
)

// FetchError describes a failed retrieval of a filter list over HTTP(S).
type FetchError struct {
	// Err is the underlying error.  It must not be nil.
	Err error

	// URL is the URL of the list with the userinfo redacted.
	URL string

	// Server is the value of the Server header of the response, if any.
	Server string

	// Status is the status code of the response.  It is zero if there was no
	// response.
	Status int
}

// type check
var _ error = (*FetchError)(nil)

// Error implements the error interface for *FetchError.
func (err *FetchError) Error() (msg string) {
	if err.Status == 0 {
		return fmt.Sprintf("fetching %s: %s", err.URL, err.Err)
	}

	return fmt.Sprintf("fetching %s: server %q: status %d: %s", err.URL, err.Server, err.Status, err.Err)
}

// type check
var _ errors.Wrapper = (*FetchError)(nil)

// Unwrap implements the [errors.Wrapper] interface for *FetchError.
func (err *FetchError) Unwrap() (unwrapped error) {
	return err.Err
}

// newFetchError returns a *FetchError for the list at the redacted URL ru.
// resp may be nil.
func newFetchError(ru *url.URL, resp *http.Response, err error) (fetchErr *FetchError) {
	fetchErr = &FetchError{
		Err: err,
		URL: ru.String(),
	}

	if resp != nil {
		fetchErr.Server = resp.Header.Get(httphdr.Server)
		fetchErr.Status = resp.StatusCode
	}

	return fetchErr
}
