package cmd

import (
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/AdguardTeam/golibs/validate"
	"github.com/AdguardTeam/rulesync/internal/filter/filterstorage"
)

// cacheConfig is the configuration of the caches.
type cacheConfig struct {
	// CustomFilterCount is the maximum number of the prepared custom filter
	// payloads kept in the LRU cache.
	CustomFilterCount int `yaml:"custom_filter_count"`
}

// type check
var _ validate.Interface = (*cacheConfig)(nil)

// Validate implements the [validate.Interface] interface for *cacheConfig.
func (c *cacheConfig) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	return validate.Positive("custom_filter_count", c.CustomFilterCount)
}

// redisConfig is the configuration of the Redis pool and the Redis content
// storage.  The address and the key prefix are set in the environment.
type redisConfig struct {
	// TTL is the expiration time of the stored content.  If it is zero, the
	// content never expires.
	TTL timeutil.Duration `yaml:"ttl"`

	// IdleTimeout is the time after which the idle connections are closed.
	IdleTimeout timeutil.Duration `yaml:"idle_timeout"`

	// MaxConnLifetime is the maximum lifetime of a connection.  If it is zero,
	// the connections are not closed because of their age.
	MaxConnLifetime timeutil.Duration `yaml:"max_conn_lifetime"`

	// MaxActive is the maximum number of connections allocated by the pool at
	// a given time.  If it is zero, the number is not limited.
	MaxActive int `yaml:"max_active"`

	// MaxIdle is the maximum number of idle connections in the pool.
	MaxIdle int `yaml:"max_idle"`

	// DBIndex is the index of the Redis database.
	DBIndex uint8 `yaml:"db_index"`
}

// type check
var _ validate.Interface = (*redisConfig)(nil)

// Validate implements the [validate.Interface] interface for *redisConfig.
func (c *redisConfig) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	errs := []error{
		validate.Positive("idle_timeout", c.IdleTimeout),
		validate.NotNegative("max_conn_lifetime", c.MaxConnLifetime),
		validate.NotNegative("max_active", c.MaxActive),
		validate.Positive("max_idle", c.MaxIdle),
	}

	if ttl := time.Duration(c.TTL); ttl != 0 {
		errs = append(errs, validate.NoLessThan("ttl", ttl, filterstorage.MinTTL))
	}

	return errors.Join(errs...)
}
