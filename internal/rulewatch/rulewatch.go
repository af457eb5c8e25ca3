// Package rulewatch contains the watcher of the user-rules file.
package rulewatch

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/rulesync/internal/errcoll"
	"github.com/AdguardTeam/rulesync/internal/filter"
	"github.com/AdguardTeam/rulesync/internal/reconcile"
	"github.com/c2h5oh/datasize"
	"github.com/fsnotify/fsnotify"
)

// Registry is the part of the filter source registry that the watcher updates.
type Registry interface {
	// SetUserRules replaces the rules authored by the user.
	SetUserRules(rules []filter.RuleText)
}

// Updater requests the updates of the runtime.
type Updater interface {
	// RequestUpdate queues an update request.  It must not block.
	RequestUpdate(opts *reconcile.UpdateOptions)
}

// Config is the configuration structure for the watcher.
type Config struct {
	// Logger is used to log the changes of the file.  It must not be nil.
	Logger *slog.Logger

	// ErrColl is used to collect the reading errors.  It must not be nil.
	ErrColl errcoll.Interface

	// Registry receives the user rules.  It must not be nil.
	Registry Registry

	// Updater is called after every change of the user rules.  It must not be
	// nil.
	Updater Updater

	// Path is the path to the user-rules file, one rule per line.  It must not
	// be empty.  The file may be absent, in which case there are no user
	// rules.
	Path string

	// MaxSize is the maximum size of the file.  It must be positive.
	MaxSize datasize.ByteSize
}

// Watcher loads the user rules from a file and reloads them every time the file
// changes.  The directory of the file is watched so that atomic replacements
// of the file are noticed.
type Watcher struct {
	logger   *slog.Logger
	errColl  errcoll.Interface
	registry Registry
	updater  Updater
	watcher  *fsnotify.Watcher
	done     chan struct{}
	wg       *sync.WaitGroup
	path     string
	maxSize  datasize.ByteSize

	// lastText is the content of the last load.  It is only accessed from the
	// loop goroutine and from Start.
	lastText string
	loaded   bool
}

// New returns a new *Watcher.  c must not be nil and must be valid.
func New(c *Config) (w *Watcher, err error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	return &Watcher{
		logger:   c.Logger,
		errColl:  c.ErrColl,
		registry: c.Registry,
		updater:  c.Updater,
		watcher:  fw,
		done:     make(chan struct{}),
		wg:       &sync.WaitGroup{},
		path:     filepath.Clean(c.Path),
		maxSize:  c.MaxSize,
	}, nil
}

// type check
var _ service.Interface = (*Watcher)(nil)

// Start implements the [service.Interface] interface for *Watcher.  It loads
// the rules once and starts watching the file.
func (w *Watcher) Start(ctx context.Context) (err error) {
	err = w.reload(ctx)
	if err != nil {
		return fmt.Errorf("initial load: %w", err)
	}

	err = w.watcher.Add(filepath.Dir(w.path))
	if err != nil {
		return fmt.Errorf("watching %q: %w", w.path, err)
	}

	w.wg.Add(1)
	go w.watchInALoop()

	return nil
}

// Shutdown implements the [service.Interface] interface for *Watcher.
func (w *Watcher) Shutdown(ctx context.Context) (err error) {
	close(w.done)
	err = w.watcher.Close()
	w.wg.Wait()

	if err != nil {
		return fmt.Errorf("closing fsnotify watcher: %w", err)
	}

	w.logger.InfoContext(ctx, "shut down successfully")

	return nil
}

// watchInALoop processes the events of the watcher until shutdown.
func (w *Watcher) watchInALoop() {
	defer w.wg.Done()

	ctx := context.Background()
	defer slogutil.RecoverAndLog(ctx, w.logger)

	w.logger.InfoContext(ctx, "starting watch loop", "path", w.path)

	for {
		select {
		case <-w.done:
			w.logger.InfoContext(ctx, "finished watch loop")

			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			w.handleEvent(ctx, ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}

			errcoll.Collect(ctx, w.errColl, w.logger, "watching user rules", err)
		}
	}
}

// handleEvent reloads the rules if ev concerns the watched file.
func (w *Watcher) handleEvent(ctx context.Context, ev fsnotify.Event) {
	if filepath.Clean(ev.Name) != w.path || ev.Has(fsnotify.Chmod) {
		return
	}

	w.logger.DebugContext(ctx, "file event", "op", ev.Op)

	err := w.reload(ctx)
	if err != nil {
		errcoll.Collect(ctx, w.errColl, w.logger, "reloading user rules", err)
	}
}

// reload reads the file and, if its content has changed, updates the registry
// and requests an update.
func (w *Watcher) reload(ctx context.Context) (err error) {
	text, err := w.read()
	if err != nil {
		return err
	}

	if w.loaded && text == w.lastText {
		w.logger.DebugContext(ctx, "user rules not changed")

		return nil
	}

	w.lastText, w.loaded = text, true

	rules := filter.RulesFromBytes([]byte(text))
	w.registry.SetUserRules(rules)
	w.updater.RequestUpdate(&reconcile.UpdateOptions{})

	w.logger.InfoContext(ctx, "user rules loaded", "num", len(rules))

	return nil
}

// read returns the content of the file.  A missing file is treated as an empty
// one.
func (w *Watcher) read() (text string, err error) {
	// #nosec G304 -- Trust the path to the file that is given from the local
	// configuration.
	f, err := os.Open(w.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}

		return "", fmt.Errorf("opening: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, f.Close()) }()

	fi, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat: %w", err)
	}

	if size := datasize.ByteSize(fi.Size()); size > w.maxSize {
		return "", fmt.Errorf("file size %s is greater than %s", size, w.maxSize)
	}

	b := make([]byte, fi.Size())
	_, err = io.ReadFull(f, b)
	if err != nil {
		return "", fmt.Errorf("reading: %w", err)
	}

	return string(b), nil
}
