package filterstorage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/redisutil"
	"github.com/AdguardTeam/rulesync/internal/filter"
	"github.com/c2h5oh/datasize"
	"github.com/gomodule/redigo/redis"
)

// MinTTL is the minimum TTL that can be set when setting any TTL, since that's
// the minimum expiration allowed by Redis.
const MinTTL = 1 * time.Millisecond

// cmdDEL is the Redis command for deleting keys.
const cmdDEL = "DEL"

// Redis is the storage of filter contents that keeps them in Redis.
//
// Note that Redis, by convention, uses colon ":" character to delimit key
// namespaces.
type Redis struct {
	logger    *slog.Logger
	pool      redisutil.Pool
	keyPrefix string
	ttl       time.Duration
	maxSize   datasize.ByteSize
}

// NewRedis returns a new properly initialized *Redis.  c must not be nil.
func NewRedis(c *RedisConfig) (s *Redis) {
	return &Redis{
		logger:    c.Logger,
		pool:      c.Pool,
		keyPrefix: c.KeyPrefix,
		ttl:       c.TTL,
		maxSize:   c.MaxSize,
	}
}

// type check
var _ Interface = (*Redis)(nil)

// Content implements the [Interface] interface for *Redis.
func (s *Redis) Content(ctx context.Context, id filter.ID) (rules []filter.RuleText, err error) {
	defer func() {
		if err != nil {
			err = newUnavailableError(id, err)
		}
	}()

	c, err := s.pool.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting from pool: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, c.Close()) }()

	data, err := redis.Bytes(c.Do(redisutil.CmdGET, s.key(id)))
	switch {
	case err == nil:
		// Go on.
	case errors.Is(err, redis.ErrNil):
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("get command: %w", err)
	}

	if n := datasize.ByteSize(len(data)); n > s.maxSize {
		return nil, fmt.Errorf("content is too large: got %s, max %s", n, s.maxSize)
	}

	s.logger.DebugContext(ctx, "got content", "id", id, "bytes", len(data))

	return filter.RulesFromBytes(data), nil
}

// SetContent implements the [Interface] interface for *Redis.
func (s *Redis) SetContent(ctx context.Context, id filter.ID, rules []filter.RuleText) (err error) {
	defer func() { err = errors.Annotate(err, "setting content of %q: %w", id) }()

	data := filter.RulesToBytes(rules)
	if n := datasize.ByteSize(len(data)); n > s.maxSize {
		return fmt.Errorf("content is too large: got %s, max %s", n, s.maxSize)
	}

	c, err := s.pool.Get(ctx)
	if err != nil {
		return fmt.Errorf("getting from pool: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, c.Close()) }()

	args := []any{s.key(id), data}
	if s.ttl > 0 {
		args = append(args, redisutil.ParamPX, s.ttl.Milliseconds())
	}

	_, err = c.Do(redisutil.CmdSET, args...)
	if err != nil {
		return fmt.Errorf("set command: %w", err)
	}

	s.logger.DebugContext(ctx, "set content", "id", id, "rules", len(rules))

	return nil
}

// Delete implements the [Interface] interface for *Redis.
func (s *Redis) Delete(ctx context.Context, id filter.ID) (err error) {
	defer func() { err = errors.Annotate(err, "deleting content of %q: %w", id) }()

	c, err := s.pool.Get(ctx)
	if err != nil {
		return fmt.Errorf("getting from pool: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, c.Close()) }()

	_, err = c.Do(cmdDEL, s.key(id))
	if err != nil {
		return fmt.Errorf("del command: %w", err)
	}

	return nil
}

// key returns the Redis key of the content of the filter.
func (s *Redis) key(id filter.ID) (k string) {
	return s.keyPrefix + ":" + string(id)
}
