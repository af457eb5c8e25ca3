package filterload_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/AdguardTeam/rulesync/internal/filter"
	"github.com/AdguardTeam/rulesync/internal/filterload"
	"github.com/AdguardTeam/rulesync/internal/reconcile"
	"github.com/AdguardTeam/rulesync/internal/registry"
	"github.com/AdguardTeam/rulesync/internal/rshttp"
	"github.com/AdguardTeam/rulesync/internal/rstest"
	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Common IDs for tests.
const (
	testIDBuiltIn filter.ID = "base"
	testIDCustom  filter.ID = "custom_1"
)

// testUpdater is a [filterload.Updater] for tests.
type testUpdater struct {
	reqs chan *reconcile.UpdateOptions
}

// RequestUpdate implements the [filterload.Updater] interface for
// *testUpdater.
func (u *testUpdater) RequestUpdate(opts *reconcile.UpdateOptions) {
	u.reqs <- opts
}

// testEnv contains the common entities of the loader tests.
type testEnv struct {
	storage  *rstest.ContentStorage
	registry *registry.Registry
	updater  *testUpdater
	loader   *filterload.Loader
	filePath string
}

// newTestEnv returns a new test environment with a built-in filter loaded from
// a file and a custom filter loaded from srvURL.
func newTestEnv(tb testing.TB, srvURL string, errColl *rstest.ErrorCollector) (env *testEnv) {
	tb.Helper()

	env = &testEnv{
		storage: rstest.NewContentStorage(),
		updater: &testUpdater{
			reqs: make(chan *reconcile.UpdateOptions, 10),
		},
		filePath: filepath.Join(tb.TempDir(), "base.txt"),
	}

	err := os.WriteFile(env.filePath, []byte("||blocked.example^\n"), 0o600)
	require.NoError(tb, err)

	env.registry = registry.New(&registry.Config{
		Logger:  slogutil.NewDiscardLogger(),
		Storage: env.storage,
		Clock:   timeutil.SystemClock{},
	})

	customURL, err := url.Parse(srvURL)
	require.NoError(tb, err)

	env.loader, err = filterload.New(&filterload.Config{
		Logger:   slogutil.NewDiscardLogger(),
		ErrColl:  errColl,
		Registry: env.registry,
		Updater:  env.updater,
		Sources: []*filterload.SourceConfig{{
			URL:     &url.URL{Scheme: "file", Path: env.filePath},
			ID:      testIDBuiltIn,
			Kind:    filter.KindBuiltIn,
			Enabled: true,
		}, {
			URL:     customURL,
			ID:      testIDCustom,
			Kind:    filter.KindCustom,
			Enabled: true,
			Trusted: true,
		}},
		Timeout: rstest.Timeout,
		MaxSize: 1 * datasize.KB,
	})
	require.NoError(tb, err)

	return env
}

// content returns the stored content of the source with the given ID.
func (env *testEnv) content(tb testing.TB, id filter.ID) (rules []filter.RuleText) {
	tb.Helper()

	ctx := testutil.ContextWithTimeout(tb, rstest.Timeout)
	rules, err := env.storage.Content(ctx, id)
	require.NoError(tb, err)

	return rules
}

func TestLoader_Refresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "||custom.example^\n")
	}))
	t.Cleanup(srv.Close)

	env := newTestEnv(t, srv.URL, rstest.NewErrorCollector())

	ctx := testutil.ContextWithTimeout(t, rstest.Timeout)
	err := env.loader.RefreshInitial(ctx)
	require.NoError(t, err)

	snap := env.registry.Snapshot()

	builtIn := snap.Source(testIDBuiltIn)
	require.NotNil(t, builtIn)

	assert.Equal(t, filter.KindBuiltIn, builtIn.Kind)
	assert.True(t, builtIn.Enabled)

	custom := snap.Source(testIDCustom)
	require.NotNil(t, custom)

	assert.Equal(t, filter.KindCustom, custom.Kind)
	assert.True(t, custom.Trusted)

	assert.Equal(t, []filter.RuleText{"||blocked.example^"}, env.content(t, testIDBuiltIn))
	assert.Equal(t, []filter.RuleText{"||custom.example^"}, env.content(t, testIDCustom))

	_, _ = testutil.RequireReceive(t, env.updater.reqs, rstest.Timeout)

	t.Run("not_changed", func(t *testing.T) {
		require.NoError(t, env.loader.Refresh(ctx))

		assert.Empty(t, env.updater.reqs)
	})

	t.Run("changed", func(t *testing.T) {
		err = os.WriteFile(env.filePath, []byte("||other.example^\n"), 0o600)
		require.NoError(t, err)

		require.NoError(t, env.loader.Refresh(ctx))

		_, _ = testutil.RequireReceive(t, env.updater.reqs, rstest.Timeout)
		assert.Equal(t, []filter.RuleText{"||other.example^"}, env.content(t, testIDBuiltIn))
	})
}

func TestLoader_Refresh_unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	errCh := make(chan error, 1)
	errColl := &rstest.ErrorCollector{
		OnCollect: func(_ context.Context, err error) {
			errCh <- err
		},
	}

	env := newTestEnv(t, srv.URL, errColl)

	ctx := testutil.ContextWithTimeout(t, rstest.Timeout)
	err := env.loader.RefreshInitial(ctx)
	require.NoError(t, err)

	collected, _ := testutil.RequireReceive(t, errCh, rstest.Timeout)

	unavailErr := &filter.SourceUnavailableError{}
	require.ErrorAs(t, collected, &unavailErr)

	assert.Equal(t, testIDCustom, unavailErr.ID)

	fetchErr := &rshttp.FetchError{}
	require.ErrorAs(t, collected, &fetchErr)

	assert.Equal(t, http.StatusNotFound, fetchErr.Status)
	assert.ErrorIs(t, collected, rshttp.ErrUnexpectedStatus)

	// The available source is still loaded.
	_, _ = testutil.RequireReceive(t, env.updater.reqs, rstest.Timeout)
	assert.Equal(t, []filter.RuleText{"||blocked.example^"}, env.content(t, testIDBuiltIn))

	err = env.loader.Refresh(ctx)
	assert.True(t, errors.As(err, &unavailErr))
}

func TestLoader_Refresh_tooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(make([]byte, 2*datasize.KB))
	}))
	t.Cleanup(srv.Close)

	env := newTestEnv(t, srv.URL, rstest.NewErrorCollector())

	ctx := testutil.ContextWithTimeout(t, rstest.Timeout)
	for _, src := range []*filter.Source{{
		ID:   testIDBuiltIn,
		Kind: filter.KindBuiltIn,
	}, {
		ID:   testIDCustom,
		Kind: filter.KindCustom,
	}} {
		require.NoError(t, env.registry.Add(src))
	}

	err := env.loader.Refresh(ctx)
	require.Error(t, err)

	unavailErr := &filter.SourceUnavailableError{}
	require.ErrorAs(t, err, &unavailErr)

	assert.Equal(t, testIDCustom, unavailErr.ID)
}

func TestNew(t *testing.T) {
	_, err := filterload.New(&filterload.Config{
		Sources: []*filterload.SourceConfig{{
			URL:  &url.URL{Scheme: "file", Path: "/a.txt"},
			ID:   filter.IDUserRules,
			Kind: filter.KindUserRules,
		}},
	})
	testutil.AssertErrorMsg(t, "sources: at index 0: kind: "+errors.ErrBadEnumValue.Error()+": user_rules", err)

	_, err = filterload.New(&filterload.Config{
		Sources: []*filterload.SourceConfig{{
			ID:   testIDBuiltIn,
			Kind: filter.KindBuiltIn,
		}},
	})
	testutil.AssertErrorMsg(t, "sources: at index 0: url: "+errors.ErrNoValue.Error(), err)
}
