// Package confbuild contains the builder of the filtering configurations from
// the snapshots of the filter source registry.
package confbuild

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/rulesync/internal/filter"
	"github.com/AdguardTeam/rulesync/internal/filter/filterstorage"
	"github.com/AdguardTeam/rulesync/internal/registry"
	"github.com/AdguardTeam/rulesync/internal/rscache"
)

// CacheID is the cache identifier for the custom filter payloads.
const CacheID = "confbuild/custom"

// Config is the configuration structure for the builder.  All fields must not
// be nil.
type Config struct {
	// Logger is used to log the building of configurations.
	Logger *slog.Logger

	// Storage is used to fetch the content of custom filters.
	Storage filterstorage.Interface

	// Metrics is used for the collection of the builder statistics.
	Metrics Metrics

	// CacheConf is used as the configuration for the cache of custom filter
	// payloads.
	CacheConf *rscache.LRUConfig

	// CacheManager is used to register the cache of custom filter payloads.
	CacheManager *rscache.Manager
}

// Builder builds filtering configurations from registry snapshots.  It never
// mutates the registry.
type Builder struct {
	logger  *slog.Logger
	storage filterstorage.Interface
	metrics Metrics
	cache   rscache.Interface[filter.ID, *cacheItem]
}

// cacheItem is an item of the custom filter payload cache.
type cacheItem struct {
	updTime time.Time
	text    string
}

// New returns a new properly initialized *Builder.  It also adds the cache with
// ID [CacheID] to the cache manager.  c must not be nil.
func New(c *Config) (b *Builder) {
	cache := rscache.NewLRU[filter.ID, *cacheItem](c.CacheConf)
	c.CacheManager.Add(CacheID, cache)

	return &Builder{
		logger:  c.Logger,
		storage: c.Storage,
		metrics: c.Metrics,
		cache:   cache,
	}
}

// Build returns a new configuration composed from snap.  The only I/O it
// performs is fetching the content of the enabled custom filters; if that
// fails, err is a *filter.SourceUnavailableError.  snap must not be nil.
func (b *Builder) Build(
	ctx context.Context,
	snap *registry.Snapshot,
) (c *filter.Configuration, err error) {
	defer func() { err = errors.Annotate(err, "building configuration: %w") }()

	s := snap.Settings
	c = &filter.Configuration{
		Revision:          snap.Revision,
		Settings:          s,
		AllowlistInverted: s.AllowlistInverted,
	}

	if !s.FilteringEnabled {
		b.logger.DebugContext(ctx, "filtering disabled", "revision", snap.Revision)

		return c, nil
	}

	var customSrcs []*filter.Source
	for _, src := range snap.Sources {
		if !src.Enabled {
			continue
		}

		switch src.Kind {
		case filter.KindBuiltIn:
			c.BuiltInIDs = append(c.BuiltInIDs, src.ID)
		case filter.KindQuickFix:
			c.QuickFixIDs = append(c.QuickFixIDs, src.ID)
		case filter.KindCustom:
			customSrcs = append(customSrcs, src)
		default:
			// Allow-list and user rules are resolved below according to the
			// settings.
		}
	}

	c.Allowlist = resolveAllowlist(snap)
	if s.UserRulesEnabled {
		c.UserRules = resolveUserRules(snap.Source(filter.IDUserRules))
	}

	c.CustomFilters, err = b.customPayloads(ctx, customSrcs)
	if err != nil {
		// Don't wrap the error, since it's informative enough as is.
		return nil, err
	}

	b.logger.DebugContext(
		ctx,
		"built configuration",
		"revision", c.Revision,
		"built_in", len(c.BuiltInIDs),
		"quick_fixes", len(c.QuickFixIDs),
		"custom", len(c.CustomFilters),
		"allowlist", len(c.Allowlist),
		"user_rules", len(c.UserRules),
	)

	return c, nil
}

// resolveAllowlist returns the domains of the allow-list chosen according to
// the settings of snap.  It returns nil if the allow-list feature is disabled.
func resolveAllowlist(snap *registry.Snapshot) (domains []string) {
	s := snap.Settings
	if !s.AllowlistEnabled {
		return nil
	}

	id := filter.IDAllowlist
	if s.AllowlistInverted {
		id = filter.IDAllowlistInverted
	}

	src := snap.Source(id)
	if src == nil || !src.Enabled {
		return nil
	}

	for _, d := range src.Rules {
		if d != "" {
			domains = append(domains, string(d))
		}
	}

	return domains
}

// resolveUserRules returns the non-empty and unique rules of src in the order
// of their first occurrence.  src may be nil.
func resolveUserRules(src *filter.Source) (rules []filter.RuleText) {
	if src == nil || !src.Enabled {
		return nil
	}

	seen := container.NewMapSet[filter.RuleText]()
	for _, r := range src.Rules {
		if r == "" || seen.Has(r) {
			continue
		}

		seen.Add(r)
		rules = append(rules, r)
	}

	return rules
}

// customPayloads returns the payloads of the custom filters srcs.
func (b *Builder) customPayloads(
	ctx context.Context,
	srcs []*filter.Source,
) (payloads []*filter.CustomPayload, err error) {
	for _, src := range srcs {
		var text string
		text, err = b.customText(ctx, src)
		if err != nil {
			return nil, fmt.Errorf("custom filter: %w", err)
		}

		payloads = append(payloads, &filter.CustomPayload{
			ID:      src.ID,
			Text:    text,
			Trusted: src.Trusted,
		})
	}

	return payloads, nil
}

// customText returns the rule text of the custom filter src either from the
// cache or from the storage.
func (b *Builder) customText(ctx context.Context, src *filter.Source) (text string, err error) {
	item, ok := b.cache.Get(src.ID)
	hit := ok && !item.updTime.Before(src.UpdateTime)
	b.metrics.IncrementCustomCacheLookups(ctx, hit)
	if hit {
		return item.text, nil
	}

	rules, err := b.storage.Content(ctx, src.ID)
	if err != nil {
		unavailErr := &filter.SourceUnavailableError{}
		if !errors.As(err, &unavailErr) {
			err = &filter.SourceUnavailableError{
				Err: err,
				ID:  src.ID,
			}
		}

		return "", err
	}

	text = filter.RulesToText(rules)
	b.cache.Set(src.ID, &cacheItem{
		updTime: src.UpdateTime,
		text:    text,
	})

	return text, nil
}
