package rulewatch_test

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/AdguardTeam/rulesync/internal/filter"
	"github.com/AdguardTeam/rulesync/internal/reconcile"
	"github.com/AdguardTeam/rulesync/internal/rstest"
	"github.com/AdguardTeam/rulesync/internal/rulewatch"
	"github.com/c2h5oh/datasize"
	"github.com/google/renameio/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRegistry is a [rulewatch.Registry] for tests.
type testRegistry struct {
	mu    *sync.Mutex
	rules []filter.RuleText
}

// SetUserRules implements the [rulewatch.Registry] interface for
// *testRegistry.
func (r *testRegistry) SetUserRules(rules []filter.RuleText) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rules = slices.Clone(rules)
}

// userRules returns the current rules.
func (r *testRegistry) userRules() (rules []filter.RuleText) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.rules)
}

// testUpdater is a [rulewatch.Updater] for tests.
type testUpdater struct {
	reqs chan *reconcile.UpdateOptions
}

// RequestUpdate implements the [rulewatch.Updater] interface for *testUpdater.
func (u *testUpdater) RequestUpdate(opts *reconcile.UpdateOptions) {
	u.reqs <- opts
}

// newTestWatcher returns a started watcher for the file at path.
func newTestWatcher(
	tb testing.TB,
	path string,
	onCollect func(ctx context.Context, err error),
) (reg *testRegistry, upd *testUpdater) {
	tb.Helper()

	reg = &testRegistry{
		mu: &sync.Mutex{},
	}

	upd = &testUpdater{
		reqs: make(chan *reconcile.UpdateOptions, 100),
	}

	errColl := rstest.NewErrorCollector()
	if onCollect != nil {
		errColl.OnCollect = onCollect
	}

	w, err := rulewatch.New(&rulewatch.Config{
		Logger:   slogutil.NewDiscardLogger(),
		ErrColl:  errColl,
		Registry: reg,
		Updater:  upd,
		Path:     path,
		MaxSize:  1 * datasize.KB,
	})
	require.NoError(tb, err)

	ctx := testutil.ContextWithTimeout(tb, rstest.Timeout)
	require.NoError(tb, w.Start(ctx))
	testutil.CleanupAndRequireSuccess(tb, func() (err error) {
		return w.Shutdown(context.Background())
	})

	return reg, upd
}

func TestWatcher(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "user_rules.txt")
	err := os.WriteFile(path, []byte("||first^\r\n||second^\n"), 0o600)
	require.NoError(t, err)

	reg, upd := newTestWatcher(t, path, nil)

	_, _ = testutil.RequireReceive(t, upd.reqs, rstest.Timeout)
	assert.Equal(t, []filter.RuleText{"||first^", "||second^"}, reg.userRules())

	err = renameio.WriteFile(path, []byte("||third^\n"), 0o600)
	require.NoError(t, err)

	want := []filter.RuleText{"||third^"}
	require.Eventually(t, func() (ok bool) {
		return slices.Equal(want, reg.userRules())
	}, rstest.Timeout, rstest.Timeout/100)

	_, _ = testutil.RequireReceive(t, upd.reqs, rstest.Timeout)
}

func TestWatcher_missingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "user_rules.txt")
	reg, upd := newTestWatcher(t, path, nil)

	_, _ = testutil.RequireReceive(t, upd.reqs, rstest.Timeout)
	assert.Empty(t, reg.userRules())

	err := renameio.WriteFile(path, []byte("||new^\n"), 0o600)
	require.NoError(t, err)

	want := []filter.RuleText{"||new^"}
	require.Eventually(t, func() (ok bool) {
		return slices.Equal(want, reg.userRules())
	}, rstest.Timeout, rstest.Timeout/100)
}

func TestWatcher_tooLarge(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "user_rules.txt")
	err := os.WriteFile(path, []byte("||ok^\n"), 0o600)
	require.NoError(t, err)

	errCh := make(chan error, 10)
	reg, _ := newTestWatcher(t, path, func(_ context.Context, err error) {
		errCh <- err
	})

	big := make([]byte, 2*datasize.KB)
	for i := range big {
		big[i] = 'a'
	}

	err = renameio.WriteFile(path, big, 0o600)
	require.NoError(t, err)

	collErr, _ := testutil.RequireReceive(t, errCh, rstest.Timeout)
	assert.ErrorContains(t, collErr, "reloading user rules")

	assert.Equal(t, []filter.RuleText{"||ok^"}, reg.userRules())
}
