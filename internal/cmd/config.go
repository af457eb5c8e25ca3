package cmd

import (
	"fmt"
	"os"

	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/validate"
	"gopkg.in/yaml.v2"
)

// configuration represents the on-disk configuration of rulesync.  The order
// of the fields should generally not be altered.
type configuration struct {
	// Reconcile is the configuration of the reconciliation controller.
	Reconcile *reconcileConfig `yaml:"reconcile"`

	// Remediation is the configuration of the remediation of the rejected user
	// rules.
	Remediation *remediationConfig `yaml:"remediation"`

	// Limits are the ceilings of the rule counts.
	Limits *limitsConfig `yaml:"limits"`

	// Filters contains the configuration of the filter sources and their
	// reloading.
	Filters *filtersConfig `yaml:"filters"`

	// Allowlist contains the initial allow-list domains.
	Allowlist *allowlistConfig `yaml:"allowlist"`

	// Settings are the initial feature flags.
	Settings *settingsConfig `yaml:"settings"`

	// Cache is the configuration of the caches.
	Cache *cacheConfig `yaml:"cache"`

	// Redis is the configuration of the Redis pool.  It is only required if
	// the environment sets the Redis content storage.
	Redis *redisConfig `yaml:"redis"`
}

// type check
var _ validate.Interface = (*configuration)(nil)

// Validate implements the [validate.Interface] interface for *configuration.
func (c *configuration) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	// Keep this in the same order as the fields in the config.
	validators := container.KeyValues[string, validate.Interface]{{
		Key:   "reconcile",
		Value: c.Reconcile,
	}, {
		Key:   "remediation",
		Value: c.Remediation,
	}, {
		Key:   "limits",
		Value: c.Limits,
	}, {
		Key:   "filters",
		Value: c.Filters,
	}, {
		Key:   "allowlist",
		Value: c.Allowlist,
	}, {
		Key:   "settings",
		Value: c.Settings,
	}, {
		Key:   "cache",
		Value: c.Cache,
	}}

	var errs []error
	for _, kv := range validators {
		errs = validate.Append(errs, kv.Key, kv.Value)
	}

	return errors.Join(errs...)
}

// validateStorageConf returns an error if the configuration of the content
// storage chosen by envs is invalid.  envs and c must be valid.
func (envs *environment) validateStorageConf(c *configuration) (err error) {
	if envs.StorageType != storageTypeRedis {
		return nil
	}

	return errors.Join(validate.Append(nil, "redis", c.Redis)...)
}

// parseConfig reads the configuration.
func parseConfig(confPath string) (c *configuration, err error) {
	// #nosec G304 -- Trust the path to the configuration file that is given
	// from the environment.
	yamlFile, err := os.ReadFile(confPath)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	c = &configuration{}
	err = yaml.Unmarshal(yamlFile, c)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return c, nil
}
