package cmd

import (
	"fmt"
	"log/slog"

	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/AdguardTeam/golibs/validate"
	"github.com/AdguardTeam/rulesync/internal/filter"
	"github.com/AdguardTeam/rulesync/internal/filterload"
	"github.com/AdguardTeam/rulesync/internal/rshttp"
	"github.com/c2h5oh/datasize"
)

// filtersConfig contains the configuration of the filter sources and their
// reloading.
type filtersConfig struct {
	// Sources are the built-in, quick-fix, and custom filters.
	Sources filterSources `yaml:"sources"`

	// RefreshIvl defines how often the content of the sources is reloaded.
	RefreshIvl timeutil.Duration `yaml:"refresh_interval"`

	// RefreshTimeout is the timeout for the entire reload operation.
	RefreshTimeout timeutil.Duration `yaml:"refresh_timeout"`

	// MaxSize is the maximum size of the content of a single source.
	MaxSize datasize.ByteSize `yaml:"max_size"`

	// UserRulesMaxSize is the maximum size of the user-rules file.
	UserRulesMaxSize datasize.ByteSize `yaml:"user_rules_max_size"`
}

// type check
var _ validate.Interface = (*filtersConfig)(nil)

// Validate implements the [validate.Interface] interface for *filtersConfig.
func (c *filtersConfig) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	errs := []error{
		validate.Positive("refresh_interval", c.RefreshIvl),
		validate.Positive("refresh_timeout", c.RefreshTimeout),
		validate.Positive("max_size", c.MaxSize),
		validate.Positive("user_rules_max_size", c.UserRulesMaxSize),
	}

	errs = validate.Append(errs, "sources", c.Sources)

	return errors.Join(errs...)
}

// filterSources are the configurations of the loaded filter sources.
type filterSources []*filterSourceConfig

// type check
var _ validate.Interface = filterSources(nil)

// Validate implements the [validate.Interface] interface for filterSources.
func (srcs filterSources) Validate() (err error) {
	var errs []error
	ids := container.NewMapSet[string]()
	for i, src := range srcs {
		err = src.Validate()
		if err != nil {
			errs = append(errs, fmt.Errorf("at index %d: %w", i, err))

			continue
		}

		if ids.Has(src.ID) {
			errs = append(errs, fmt.Errorf("at index %d: duplicate id %q", i, src.ID))
		}

		ids.Add(src.ID)
	}

	return errors.Join(errs...)
}

// toInternal converts srcs to the loader configurations.  srcs must be valid.
func (srcs filterSources) toInternal() (confs []*filterload.SourceConfig) {
	confs = make([]*filterload.SourceConfig, 0, len(srcs))
	for _, src := range srcs {
		// Don't check the errors, since the sources are valid.
		kind, _ := filter.NewKind(src.Kind)
		u, _ := rshttp.ParseSourceURL(src.URL)

		confs = append(confs, &filterload.SourceConfig{
			URL:     u,
			ID:      filter.ID(src.ID),
			Kind:    kind,
			Enabled: src.Enabled,
			Trusted: src.Trusted,
		})
	}

	return confs
}

// filterSourceConfig is the configuration of a single loaded filter source.
type filterSourceConfig struct {
	// ID is the unique ID of the source.
	ID string `yaml:"id"`

	// Kind is the kind of the source, either "built_in", "quick_fix", or
	// "custom".
	Kind string `yaml:"kind"`

	// URL is the location of the content, either a file URI or an HTTP(S)
	// URL.
	URL string `yaml:"url"`

	// Enabled shows whether the source takes part in the configuration.
	Enabled bool `yaml:"enabled"`

	// Trusted shows whether a custom filter may use the privileged modifiers.
	Trusted bool `yaml:"trusted"`
}

// type check
var _ validate.Interface = (*filterSourceConfig)(nil)

// Validate implements the [validate.Interface] interface for
// *filterSourceConfig.
func (c *filterSourceConfig) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	var errs []error

	id, err := filter.NewID(c.ID)
	if err != nil {
		errs = append(errs, fmt.Errorf("id: %w", err))
	}

	kind, err := filter.NewKind(c.Kind)
	if err != nil {
		errs = append(errs, err)
	} else {
		errs = append(errs, validateSourceKind(id, kind))
	}

	_, err = rshttp.ParseSourceURL(c.URL)
	if err != nil {
		errs = append(errs, fmt.Errorf("url: %w", err))
	}

	if c.Trusted && kind != filter.KindCustom {
		errs = append(errs, fmt.Errorf("trusted: only supported for %s sources", filter.KindCustom))
	}

	return errors.Join(errs...)
}

// validateSourceKind returns an error if a loaded source with the given ID
// can't have kind k.
func validateSourceKind(id filter.ID, k filter.Kind) (err error) {
	switch k {
	case filter.KindBuiltIn, filter.KindQuickFix, filter.KindCustom:
		// Go on.
	default:
		return fmt.Errorf("kind: %w: %s", errors.ErrBadEnumValue, k)
	}

	if rk, ok := filter.ReservedKind(id); ok && rk != k {
		return fmt.Errorf("id %q is reserved for %s sources", id, rk)
	} else if !ok && k == filter.KindQuickFix {
		return fmt.Errorf("%s source must have id %q", k, filter.IDQuickFixes)
	}

	return nil
}

// allowlistConfig contains the initial allow-list domains.
type allowlistConfig struct {
	// Domains are the domains on which filtering is disabled.
	Domains []string `yaml:"domains"`

	// InvertedDomains are the only domains on which filtering is performed
	// when the allow-list is inverted.
	InvertedDomains []string `yaml:"inverted_domains"`
}

// type check
var _ validate.Interface = (*allowlistConfig)(nil)

// Validate implements the [validate.Interface] interface for *allowlistConfig.
func (c *allowlistConfig) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	var errs []error
	for i, d := range c.Domains {
		errs = append(errs, validate.NotEmpty(fmt.Sprintf("domains: at index %d", i), d))
	}

	for i, d := range c.InvertedDomains {
		errs = append(errs, validate.NotEmpty(fmt.Sprintf("inverted_domains: at index %d", i), d))
	}

	return errors.Join(errs...)
}

// settingsConfig are the initial feature flags.
type settingsConfig struct {
	// RuntimeLogLevel is the verbosity of the filtering runtime.
	RuntimeLogLevel slog.Level `yaml:"runtime_log_level"`

	// FilteringEnabled shows whether filtering is enabled at all.
	FilteringEnabled bool `yaml:"filtering_enabled"`

	// AllowlistEnabled shows whether the allow-list is used.
	AllowlistEnabled bool `yaml:"allowlist_enabled"`

	// AllowlistInverted shows whether the allow-list is inverted.
	AllowlistInverted bool `yaml:"allowlist_inverted"`

	// UserRulesEnabled shows whether the user rules are used.
	UserRulesEnabled bool `yaml:"user_rules_enabled"`
}

// type check
var _ validate.Interface = (*settingsConfig)(nil)

// Validate implements the [validate.Interface] interface for *settingsConfig.
func (c *settingsConfig) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	return nil
}

// toInternal converts c to the filter settings.  c must be valid.
func (c *settingsConfig) toInternal() (s filter.Settings) {
	return filter.Settings{
		LogLevel:          c.RuntimeLogLevel,
		FilteringEnabled:  c.FilteringEnabled,
		AllowlistEnabled:  c.AllowlistEnabled,
		AllowlistInverted: c.AllowlistInverted,
		UserRulesEnabled:  c.UserRulesEnabled,
	}
}
