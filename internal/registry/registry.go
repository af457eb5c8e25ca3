// Package registry contains the registry of filter sources, which is the single
// writable owner of the filtering state.
package registry

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/AdguardTeam/rulesync/internal/filter"
	"github.com/AdguardTeam/rulesync/internal/filter/filterstorage"
)

// Registry errors.
const (
	// ErrKindMismatch is returned when a source is added with a kind that
	// differs from the kind of the existing or reserved source with the same
	// ID.
	ErrKindMismatch errors.Error = "kind mismatch"

	// ErrNotFound is returned when there is no source with the given ID.
	ErrNotFound errors.Error = "source not found"
)

// Config is the configuration structure for the registry.
type Config struct {
	// Logger is used to log the changes of the registry.  It must not be nil.
	Logger *slog.Logger

	// Storage keeps the content of the built-in, quick-fix, and custom
	// filters.  It must not be nil.
	Storage filterstorage.Interface

	// Clock is used to set the update time of the sources.  It must not be
	// nil.
	Clock timeutil.Clock

	// Settings are the initial feature flags.
	Settings filter.Settings
}

// Registry holds the state and the content of every filter source.  All
// methods are safe for concurrent use.  Every mutation must be followed by a
// request to update the runtime.
type Registry struct {
	logger  *slog.Logger
	storage filterstorage.Interface
	clock   timeutil.Clock

	// mu protects sources, settings, and revision.
	mu       *sync.RWMutex
	sources  map[filter.ID]*filter.Source
	settings filter.Settings
	revision uint64
}

// New returns a new properly initialized *Registry.  The user-rules and
// allow-list sources are always present.  c must not be nil.
func New(c *Config) (r *Registry) {
	r = &Registry{
		logger:   c.Logger,
		storage:  c.Storage,
		clock:    c.Clock,
		mu:       &sync.RWMutex{},
		sources:  map[filter.ID]*filter.Source{},
		settings: c.Settings,
	}

	now := c.Clock.Now()
	for _, id := range []filter.ID{
		filter.IDUserRules,
		filter.IDAllowlist,
		filter.IDAllowlistInverted,
	} {
		k, _ := filter.ReservedKind(id)
		r.sources[id] = &filter.Source{
			UpdateTime: now,
			ID:         id,
			Kind:       k,
			Enabled:    true,
		}
	}

	return r
}

// Snapshot is a read-only deep copy of the registry state.
type Snapshot struct {
	// Sources are the sources sorted by ID.
	Sources []*filter.Source

	// Settings are the feature flags.
	Settings filter.Settings

	// Revision is the number of mutations of the registry since its creation.
	Revision uint64
}

// Source returns the source with the given ID or nil, if there is none.
func (s *Snapshot) Source(id filter.ID) (src *filter.Source) {
	i, ok := slices.BinarySearchFunc(s.Sources, id, func(src *filter.Source, id filter.ID) (res int) {
		return cmp.Compare(src.ID, id)
	})
	if !ok {
		return nil
	}

	return s.Sources[i]
}

// Snapshot returns a deep copy of the current state of the registry.
func (r *Registry) Snapshot() (snap *Snapshot) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	srcs := make([]*filter.Source, 0, len(r.sources))
	for _, id := range slices.Sorted(maps.Keys(r.sources)) {
		srcs = append(srcs, r.sources[id].Clone())
	}

	return &Snapshot{
		Sources:  srcs,
		Settings: r.settings,
		Revision: r.revision,
	}
}

// Add adds src to the registry or, if a source with the same ID and kind
// exists, replaces its flags and rules.  src must not be nil and must not be
// used after the call.
func (r *Registry) Add(src *filter.Source) (err error) {
	defer func() { err = errors.Annotate(err, "adding source %q: %w", src.ID) }()

	if src.ID == filter.IDNone {
		return fmt.Errorf("id: %w", errors.ErrEmptyValue)
	}

	if k, ok := filter.ReservedKind(src.ID); ok && k != src.Kind {
		return fmt.Errorf("%w: id is reserved for %s, got %s", ErrKindMismatch, k, src.Kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.sources[src.ID]; ok {
		if prev.Kind != src.Kind {
			return fmt.Errorf("%w: existing %s, got %s", ErrKindMismatch, prev.Kind, src.Kind)
		}

		src.Disabled = prev.Disabled
	}

	src.UpdateTime = r.clock.Now()
	r.sources[src.ID] = src
	r.revision++

	r.logger.Debug("added source", "id", src.ID, "kind", src.Kind, "enabled", src.Enabled)

	return nil
}

// Remove removes the source with the given ID along with its stored content.
// The reserved user-rules and allow-list sources cannot be removed.
func (r *Registry) Remove(ctx context.Context, id filter.ID) (err error) {
	defer func() { err = errors.Annotate(err, "removing source %q: %w", id) }()

	r.mu.Lock()
	defer r.mu.Unlock()

	src, ok := r.sources[id]
	if !ok {
		return ErrNotFound
	}

	if isInline(src.Kind) {
		return fmt.Errorf("source of kind %s cannot be removed", src.Kind)
	}

	err = r.storage.Delete(ctx, id)
	if err != nil {
		// Don't wrap the error, since it's informative enough as is.
		return err
	}

	delete(r.sources, id)
	r.revision++

	r.logger.DebugContext(ctx, "removed source", "id", id)

	return nil
}

// SetEnabled sets the enabled flag of the source with the given ID.
func (r *Registry) SetEnabled(id filter.ID, enabled bool) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	src, ok := r.sources[id]
	if !ok {
		return fmt.Errorf("enabling source %q: %w", id, ErrNotFound)
	}

	if src.Enabled == enabled {
		return nil
	}

	src.Enabled = enabled
	r.revision++

	r.logger.Debug("set source state", "id", id, "enabled", enabled)

	return nil
}

// SetContent replaces the rules of the source with the given ID.  The rules of
// the user-rules and allow-list sources are kept in the registry, while the
// content of other sources is written to the storage.
func (r *Registry) SetContent(ctx context.Context, id filter.ID, rules []filter.RuleText) (err error) {
	defer func() { err = errors.Annotate(err, "setting content of %q: %w", id) }()

	r.mu.Lock()
	defer r.mu.Unlock()

	src, ok := r.sources[id]
	if !ok {
		return ErrNotFound
	}

	if isInline(src.Kind) {
		src.Rules = slices.Clone(rules)
	} else {
		err = r.storage.SetContent(ctx, id, rules)
		if err != nil {
			// Don't wrap the error, since it's informative enough as is.
			return err
		}
	}

	src.UpdateTime = r.clock.Now()
	r.revision++

	r.logger.DebugContext(ctx, "set content", "id", id, "rules", len(rules))

	return nil
}

// SetUserRules replaces the rules authored by the user.  The previously
// disabled rules are kept disabled only if they are still present in rules.
func (r *Registry) SetUserRules(rules []filter.RuleText) {
	r.mu.Lock()
	defer r.mu.Unlock()

	src := r.sources[filter.IDUserRules]
	src.Rules = slices.Clone(rules)
	src.Disabled = slices.DeleteFunc(src.Disabled, func(d filter.RuleText) (ok bool) {
		return !slices.Contains(rules, d)
	})

	for _, d := range src.Disabled {
		src.Rules = slices.DeleteFunc(src.Rules, func(rule filter.RuleText) (ok bool) {
			return rule == d
		})
	}

	src.UpdateTime = r.clock.Now()
	r.revision++

	r.logger.Debug("set user rules", "rules", len(src.Rules), "disabled", len(src.Disabled))
}

// SetAllowlist replaces the domains of the allow-list.  If inverted is true,
// the domains of the inverted allow-list are replaced.
func (r *Registry) SetAllowlist(domains []string, inverted bool) {
	id := filter.IDAllowlist
	if inverted {
		id = filter.IDAllowlistInverted
	}

	rules := make([]filter.RuleText, 0, len(domains))
	for _, d := range domains {
		rules = append(rules, filter.RuleText(d))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	src := r.sources[id]
	src.Rules = rules
	src.UpdateTime = r.clock.Now()
	r.revision++

	r.logger.Debug("set allowlist", "inverted", inverted, "domains", len(rules))
}

// Settings returns the current feature flags.
func (r *Registry) Settings() (s filter.Settings) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.settings
}

// SetSettings replaces the feature flags.
func (r *Registry) SetSettings(s filter.Settings) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.settings == s {
		return
	}

	r.settings = s
	r.revision++

	r.logger.Debug("set settings", "settings", s)
}

// isInline returns true if the rules of the sources of kind k are kept in the
// registry itself.
func isInline(k filter.Kind) (ok bool) {
	return k == filter.KindUserRules || k == filter.KindAllowlist
}
