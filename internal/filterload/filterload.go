// Package filterload loads the content of the built-in, quick-fix, and custom
// filter sources from files and HTTP(S) URLs into the registry.
package filterload

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/ioutil"
	"github.com/AdguardTeam/golibs/netutil/urlutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/rulesync/internal/errcoll"
	"github.com/AdguardTeam/rulesync/internal/filter"
	"github.com/AdguardTeam/rulesync/internal/reconcile"
	"github.com/AdguardTeam/rulesync/internal/rshttp"
	"github.com/c2h5oh/datasize"
)

// Registry is the part of the registry used by the loader.
type Registry interface {
	// Add adds or replaces a source.  src must not be nil.
	Add(src *filter.Source) (err error)

	// SetContent replaces the rules of the source with the given ID.
	SetContent(ctx context.Context, id filter.ID, rules []filter.RuleText) (err error)
}

// Updater requests the updates of the runtime.
type Updater interface {
	// RequestUpdate queues an update request.  It must not block.
	RequestUpdate(opts *reconcile.UpdateOptions)
}

// SourceConfig is the configuration of a single loaded filter source.
type SourceConfig struct {
	// URL is the location of the content.  It must be either a file URI or an
	// HTTP(S) URL and must not be nil.
	URL *url.URL

	// ID is the ID of the source.  It must be valid.
	ID filter.ID

	// Kind is the kind of the source.  It must be [filter.KindBuiltIn],
	// [filter.KindQuickFix], or [filter.KindCustom].
	Kind filter.Kind

	// Enabled shows whether the source takes part in the configuration.
	Enabled bool

	// Trusted shows whether the custom filter is trusted.
	Trusted bool
}

// Config is the configuration structure for the loader.
type Config struct {
	// Logger is used to log the loading.  It must not be nil.
	Logger *slog.Logger

	// ErrColl is used to collect the loading errors.  It must not be nil.
	ErrColl errcoll.Interface

	// Registry receives the sources and their content.  It must not be nil.
	Registry Registry

	// Updater is called after a refresh that has changed any content.  It
	// must not be nil.
	Updater Updater

	// Sources are the sources to load.
	Sources []*SourceConfig

	// Timeout is the timeout for the HTTP requests.  It must be positive.
	Timeout time.Duration

	// MaxSize is the maximum size of the content of a single source.  It must
	// be positive.
	MaxSize datasize.ByteSize
}

// Loader loads the content of the filter sources and puts it into the
// registry.  It requests an update only when any content has changed.
type Loader struct {
	logger   *slog.Logger
	errColl  errcoll.Interface
	registry Registry
	updater  Updater
	http     *rshttp.Client
	sources  []*SourceConfig
	maxSize  datasize.ByteSize

	// mu protects sums and serializes the refreshes.
	mu   *sync.Mutex
	sums map[filter.ID][sha256.Size]byte
}

// New returns a new properly initialized *Loader.  c must not be nil.
func New(c *Config) (l *Loader, err error) {
	for i, src := range c.Sources {
		switch src.Kind {
		case filter.KindBuiltIn, filter.KindQuickFix, filter.KindCustom:
			// Go on.
		default:
			return nil, fmt.Errorf("sources: at index %d: kind: %w: %s", i, errors.ErrBadEnumValue, src.Kind)
		}

		if src.URL == nil {
			return nil, fmt.Errorf("sources: at index %d: url: %w", i, errors.ErrNoValue)
		}
	}

	return &Loader{
		logger:   c.Logger,
		errColl:  c.ErrColl,
		registry: c.Registry,
		updater:  c.Updater,
		http: rshttp.NewClient(&rshttp.ClientConfig{
			Timeout: c.Timeout,
			MaxSize: c.MaxSize,
		}),
		sources: c.Sources,
		maxSize: c.MaxSize,
		mu:      &sync.Mutex{},
		sums:    map[filter.ID][sha256.Size]byte{},
	}, nil
}

// RefreshInitial adds the sources to the registry and loads their content for
// the first time.  Errors of loading single sources are only collected, since
// the storage may still have their content from the previous run.
func (l *Loader) RefreshInitial(ctx context.Context) (err error) {
	for _, src := range l.sources {
		err = l.registry.Add(&filter.Source{
			ID:      src.ID,
			Kind:    src.Kind,
			Enabled: src.Enabled,
			Trusted: src.Trusted,
		})
		if err != nil {
			return fmt.Errorf("adding sources: %w", err)
		}
	}

	err = l.Refresh(ctx)
	if err != nil {
		errcoll.Collect(ctx, l.errColl, l.logger, "initial loading", err)
	}

	return nil
}

// type check
var _ service.Refresher = (*Loader)(nil)

// Refresh implements the [service.Refresher] interface for *Loader.  It loads
// every source and requests an update if any content has changed.
func (l *Loader) Refresh(ctx context.Context) (err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	changed := 0
	for _, src := range l.sources {
		var ok bool
		ok, err = l.refreshSource(ctx, src)
		if err != nil {
			errs = append(errs, err)
		} else if ok {
			changed++
		}
	}

	l.logger.InfoContext(ctx, "refreshed", "sources", len(l.sources), "changed", changed, "errors", len(errs))

	if changed > 0 {
		l.updater.RequestUpdate(&reconcile.UpdateOptions{})
	}

	return errors.Join(errs...)
}

// refreshSource loads the content of src and sets it in the registry if it has
// changed since the last load.  Loading errors are returned as
// *filter.SourceUnavailableError.
func (l *Loader) refreshSource(ctx context.Context, src *SourceConfig) (changed bool, err error) {
	b, err := l.load(ctx, src)
	if err != nil {
		// Don't wrap the error, since it's informative enough as is.
		return false, err
	}

	sum := sha256.Sum256(b)
	if prev, ok := l.sums[src.ID]; ok && prev == sum {
		l.logger.DebugContext(ctx, "content not changed", "id", src.ID)

		return false, nil
	}

	err = l.registry.SetContent(ctx, src.ID, filter.RulesFromBytes(b))
	if err != nil {
		return false, fmt.Errorf("setting content of source %q: %w", src.ID, err)
	}

	l.sums[src.ID] = sum

	return true, nil
}

// load returns the content of src.
func (l *Loader) load(ctx context.Context, src *SourceConfig) (b []byte, err error) {
	if !rshttp.IsFile(src.URL) {
		l.logger.DebugContext(ctx, "loading from url", "id", src.ID, "url", urlutil.RedactUserinfo(src.URL))

		return l.http.Fetch(ctx, src.ID, src.URL)
	}

	b, err = l.loadFile(ctx, src.URL.Path)
	if err != nil {
		return nil, &filter.SourceUnavailableError{
			Err: err,
			ID:  src.ID,
		}
	}

	return b, nil
}

// loadFile returns the content of the file at filePath.
func (l *Loader) loadFile(ctx context.Context, filePath string) (b []byte, err error) {
	l.logger.DebugContext(ctx, "loading from file", "path", filePath)

	// #nosec G304 -- Trust the paths of the filters from the configuration
	// file.
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, f.Close()) }()

	b, err = io.ReadAll(ioutil.LimitReader(f, l.maxSize.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	return b, nil
}
