package rshttp_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/AdguardTeam/rulesync/internal/filter"
	"github.com/AdguardTeam/rulesync/internal/rshttp"
	"github.com/AdguardTeam/rulesync/internal/version"
	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testMaxSize is the maximum size of a list for tests.
const testMaxSize = 1 * datasize.KB

// newTestServer returns the URL of a test server that responds with code and
// body and sets the User-Agent it has received into ua, if ua isn't nil.
func newTestServer(tb testing.TB, code int, body string, ua *string) (u *url.URL) {
	tb.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua != nil {
			*ua = r.Header.Get(httphdr.UserAgent)
		}

		w.Header().Set(httphdr.Server, testSrv)
		w.WriteHeader(code)

		_, _ = io.WriteString(w, body)
	}))
	tb.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(tb, err)

	return u
}

func TestClient_Fetch(t *testing.T) {
	const body = "||example.org^\n"

	var gotUA string
	u := newTestServer(t, http.StatusOK, body, &gotUA)

	c := rshttp.NewClient(&rshttp.ClientConfig{
		Timeout: testTimeout,
		MaxSize: testMaxSize,
	})

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	b, err := c.Fetch(ctx, testID, u)
	require.NoError(t, err)

	assert.Equal(t, body, string(b))
	assert.Equal(t, version.UserAgent(), gotUA)
}

func TestClient_Fetch_error(t *testing.T) {
	c := rshttp.NewClient(&rshttp.ClientConfig{
		Timeout: testTimeout,
		MaxSize: testMaxSize,
	})

	testCases := []struct {
		wantErr    error
		name       string
		body       string
		code       int
		wantStatus int
	}{{
		wantErr:    rshttp.ErrUnexpectedStatus,
		name:       "not_found",
		body:       "",
		code:       http.StatusNotFound,
		wantStatus: http.StatusNotFound,
	}, {
		wantErr:    rshttp.ErrEmptyBody,
		name:       "empty",
		body:       "",
		code:       http.StatusOK,
		wantStatus: http.StatusOK,
	}, {
		wantErr:    nil,
		name:       "too_large",
		body:       strings.Repeat("a", 2*int(testMaxSize)),
		code:       http.StatusOK,
		wantStatus: http.StatusOK,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			u := newTestServer(t, tc.code, tc.body, nil)

			ctx := testutil.ContextWithTimeout(t, testTimeout)
			b, err := c.Fetch(ctx, testID, u)
			require.Error(t, err)

			assert.Nil(t, b)

			unavailErr := &filter.SourceUnavailableError{}
			require.ErrorAs(t, err, &unavailErr)

			assert.Equal(t, testID, unavailErr.ID)

			fetchErr := &rshttp.FetchError{}
			require.ErrorAs(t, err, &fetchErr)

			assert.Equal(t, testSrv, fetchErr.Server)
			assert.Equal(t, tc.wantStatus, fetchErr.Status)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}

func TestClient_Fetch_redacted(t *testing.T) {
	u := newTestServer(t, http.StatusNotFound, "", nil)
	u.User = url.UserPassword("user", "secret")

	c := rshttp.NewClient(&rshttp.ClientConfig{
		Timeout: testTimeout,
		MaxSize: testMaxSize,
	})

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	_, err := c.Fetch(ctx, testID, u)
	require.Error(t, err)

	assert.NotContains(t, err.Error(), "secret")
	assert.Contains(t, err.Error(), string(testID))
}
