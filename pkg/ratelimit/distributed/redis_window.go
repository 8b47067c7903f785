package distributed

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/botflow/botflow/pkg/common/errors"
	"github.com/botflow/botflow/pkg/metrics"
)

// minSleep keeps refused waiters from hammering Redis when the
// script-computed delay is already due.
const minSleep = 10 * time.Millisecond

// Limiter is a Redis-backed token bucket shared across bot instances.
// It refills on the same window schedule as the local bucket and
// satisfies dual.Bucket, so it can serve as the global side of a pair.
type Limiter struct {
	config Config
	keys   map[string]string

	// Lua scripts for atomic refill-and-take operations
	acquireScript *redis.Script
	returnScript  *redis.Script
	peekScript    *redis.Script

	logger    *zap.Logger
	reg       *metrics.Registry
	metricsOn bool
}

// New creates a shared bucket over the configured Redis client and
// seeds its state hash. When a fallback bucket is configured, a failed
// seed is logged and the limiter starts anyway; the acquire script
// reseeds missing state on first contact.
func New(config Config) (*Limiter, error) {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	metricsReg := metrics.DefaultRegistry
	if config.Metrics.Registry != nil {
		metricsReg = metrics.NewRegistry(config.Metrics.Registry)
	}

	l := &Limiter{
		config:        config,
		keys:          redisKeys(config.Key),
		acquireScript: redis.NewScript(luaAcquire),
		returnScript:  redis.NewScript(luaReturnToken),
		peekScript:    redis.NewScript(luaPeek),
		logger:        config.Logger,
		reg:           metricsReg,
		metricsOn:     config.Metrics.Enabled,
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.RedisTimeout)
	defer cancel()
	if err := l.initialize(ctx); err != nil {
		if config.Fallback == nil {
			return nil, &RedisError{Op: "initialize", Err: err}
		}
		l.redisFailed("initialize", err)
	}

	return l, nil
}

// initialize seeds the shared state hash when absent and registers this
// instance. Existing state is left untouched so instances joining
// mid-window do not reset the shared bucket.
func (l *Limiter) initialize(ctx context.Context) error {
	now := time.Now()

	pipe := l.config.Redis.Pipeline()
	pipe.HSetNX(ctx, l.keys["state"], "limit", l.config.Limit)
	pipe.HSetNX(ctx, l.keys["state"], "remaining", l.config.Limit)
	pipe.HSetNX(ctx, l.keys["state"], "next_reset", timeToFloat(now.Add(l.config.Period)))
	pipe.HSetNX(ctx, l.keys["state"], "period", l.config.Period.Seconds())
	pipe.HSetNX(ctx, l.keys["state"], "credited", 0)
	pipe.Expire(ctx, l.keys["state"], l.config.KeyTTL)
	pipe.SAdd(ctx, l.keys["instances"], l.config.InstanceID)
	pipe.Expire(ctx, l.keys["instances"], l.config.KeyTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// AllowCtx reports whether a token was taken from the shared bucket.
// Unlike Allow, Redis failures surface as errors for the caller to
// handle.
func (l *Limiter) AllowCtx(ctx context.Context) (bool, error) {
	allowed, _, err := l.acquire(ctx)
	if err != nil {
		return false, err
	}
	return allowed, nil
}

// Wait blocks until a token is acquired or ctx ends. When Redis is
// unreachable the wait moves to the fallback bucket, if configured.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.wait(ctx, time.Time{})
}

// WaitTimeout blocks like Wait but gives up after the timeout budget.
func (l *Limiter) WaitTimeout(ctx context.Context, timeout time.Duration) error {
	return l.wait(ctx, time.Now().Add(timeout))
}

// wait is the shared acquire loop. A zero deadline means the wait is
// bounded only by ctx. Each pass runs the acquire script and, when
// refused, sleeps the script-computed delay before trying again.
func (l *Limiter) wait(ctx context.Context, deadline time.Time) error {
	// Check if context is already canceled
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	for {
		allowed, delay, err := l.acquire(ctx)
		if err != nil {
			if l.config.Fallback == nil {
				return err
			}
			l.redisFailed("acquire", err)
			l.fellBack()
			if deadline.IsZero() {
				return l.config.Fallback.Wait(ctx)
			}
			return l.config.Fallback.WaitTimeout(ctx, time.Until(deadline))
		}
		if allowed {
			return nil
		}

		if !deadline.IsZero() {
			budget := time.Until(deadline)
			if budget <= 0 {
				return errors.ErrTimeout
			}
			if delay > budget {
				delay = budget
			}
		}
		if delay < minSleep {
			delay = minSleep
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// ReturnTokenCtx gives one token back to the shared bucket, clamped at
// the window limit.
func (l *Limiter) ReturnTokenCtx(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, l.config.RedisTimeout)
	defer cancel()

	err := l.returnScript.Run(opCtx, l.config.Redis,
		[]string{l.keys["state"]},
		l.ttlSeconds(),
	).Err()
	if err != nil {
		return &RedisError{Op: "return_token", Err: err}
	}
	return nil
}

// Allow reports whether a token was taken without blocking. Redis
// failures degrade to the fallback bucket, or fail closed without one.
func (l *Limiter) Allow() bool {
	allowed, err := l.AllowCtx(context.Background())
	if err != nil {
		l.redisFailed("allow", err)
		if l.config.Fallback != nil {
			l.fellBack()
			return l.config.Fallback.Allow()
		}
		return false
	}
	return allowed
}

// ReturnToken gives one token back, degrading to the fallback bucket
// when Redis is unreachable.
func (l *Limiter) ReturnToken() {
	if err := l.ReturnTokenCtx(context.Background()); err != nil {
		l.redisFailed("return_token", err)
		if l.config.Fallback != nil {
			l.fellBack()
			l.config.Fallback.ReturnToken()
		}
	}
}

// IsFull reports whether the shared bucket is at capacity after a
// refill pass. Redis failures degrade to the fallback bucket, or report
// false without one.
func (l *Limiter) IsFull() bool {
	opCtx, cancel := context.WithTimeout(context.Background(), l.config.RedisTimeout)
	defer cancel()

	res, err := l.peekScript.Run(opCtx, l.config.Redis,
		[]string{l.keys["state"]},
		timeToFloat(time.Now()),
		l.config.Limit,
		l.config.Period.Seconds(),
		l.ttlSeconds(),
	).Result()
	if err != nil {
		l.redisFailed("peek", err)
		if l.config.Fallback != nil {
			l.fellBack()
			return l.config.Fallback.IsFull()
		}
		return false
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return false
	}
	limit, _ := values[0].(int64)
	remaining, _ := values[1].(int64)
	return remaining >= limit
}

// SetLimit changes the shared window capacity for every instance. The
// acquire script clamps outstanding tokens down to a shrunken limit.
func (l *Limiter) SetLimit(ctx context.Context, limit int) error {
	if limit < 1 {
		return &ConfigError{"limit must be positive"}
	}

	opCtx, cancel := context.WithTimeout(ctx, l.config.RedisTimeout)
	defer cancel()

	if err := l.config.Redis.HSet(opCtx, l.keys["state"], "limit", limit).Err(); err != nil {
		return &RedisError{Op: "set_limit", Err: err}
	}
	return nil
}

// SetPeriod changes the shared window length for every instance. The
// new geometry takes effect on the next acquire.
func (l *Limiter) SetPeriod(ctx context.Context, period time.Duration) error {
	if period < time.Nanosecond {
		return &ConfigError{"period must be positive"}
	}

	opCtx, cancel := context.WithTimeout(ctx, l.config.RedisTimeout)
	defer cancel()

	if err := l.config.Redis.HSet(opCtx, l.keys["state"], "period", period.Seconds()).Err(); err != nil {
		return &RedisError{Op: "set_period", Err: err}
	}
	return nil
}

// Stats returns a snapshot of the shared bucket and its counters.
func (l *Limiter) Stats(ctx context.Context) (*Stats, error) {
	opCtx, cancel := context.WithTimeout(ctx, l.config.RedisTimeout)
	defer cancel()

	pipe := l.config.Redis.Pipeline()
	stateCmd := pipe.HGetAll(opCtx, l.keys["state"])
	countersCmd := pipe.HGetAll(opCtx, l.keys["stats"])
	instancesCmd := pipe.SMembers(opCtx, l.keys["instances"])
	if _, err := pipe.Exec(opCtx); err != nil {
		return nil, &RedisError{Op: "stats", Err: err}
	}

	return parseStats(l.config, stateCmd.Val(), countersCmd.Val(), instancesCmd.Val()), nil
}

// Reset clears the shared state and reseeds a fresh full window.
func (l *Limiter) Reset(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, l.config.RedisTimeout)
	defer cancel()

	err := l.config.Redis.Del(opCtx, l.keys["state"], l.keys["stats"], l.keys["instances"]).Err()
	if err != nil {
		return &RedisError{Op: "reset", Err: err}
	}
	if err := l.initialize(opCtx); err != nil {
		return &RedisError{Op: "reset", Err: err}
	}
	return nil
}

// Close removes this instance from the shared instance set. The Redis
// client stays open; the caller owns it.
func (l *Limiter) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), l.config.RedisTimeout)
	defer cancel()

	if err := l.config.Redis.SRem(ctx, l.keys["instances"], l.config.InstanceID).Err(); err != nil {
		return &RedisError{Op: "close", Err: err}
	}
	return nil
}

// acquire runs the refill-and-take script once. It reports whether a
// token was taken and, when refused, how long until the window grants
// the next one.
func (l *Limiter) acquire(ctx context.Context) (bool, time.Duration, error) {
	opCtx, cancel := context.WithTimeout(ctx, l.config.RedisTimeout)
	defer cancel()

	res, err := l.acquireScript.Run(opCtx, l.config.Redis,
		[]string{l.keys["state"], l.keys["stats"]},
		timeToFloat(time.Now()),
		l.config.Limit,
		l.config.Period.Seconds(),
		l.ttlSeconds(),
	).Result()
	if err != nil {
		return false, 0, &RedisError{Op: "acquire", Err: err}
	}

	allowed, _, delay, err := parseAcquireReply(res)
	if err != nil {
		return false, 0, err
	}
	return allowed, delay, nil
}

// parseAcquireReply decodes the {allowed, remaining, delay} reply of
// the acquire script.
func parseAcquireReply(res interface{}) (bool, int, time.Duration, error) {
	values, ok := res.([]interface{})
	if !ok || len(values) != 3 {
		return false, 0, 0, &RedisError{Op: "acquire", Err: fmt.Errorf("unexpected script reply %v", res)}
	}
	allowed, ok := values[0].(int64)
	if !ok {
		return false, 0, 0, &RedisError{Op: "acquire", Err: fmt.Errorf("unexpected allowed flag %v", values[0])}
	}
	remaining, ok := values[1].(int64)
	if !ok {
		return false, 0, 0, &RedisError{Op: "acquire", Err: fmt.Errorf("unexpected remaining count %v", values[1])}
	}
	delayStr, ok := values[2].(string)
	if !ok {
		return false, 0, 0, &RedisError{Op: "acquire", Err: fmt.Errorf("unexpected delay %v", values[2])}
	}
	seconds, err := strconv.ParseFloat(delayStr, 64)
	if err != nil {
		return false, 0, 0, &RedisError{Op: "acquire", Err: fmt.Errorf("unexpected delay %q", delayStr)}
	}
	return allowed == 1, int(remaining), time.Duration(seconds * float64(time.Second)), nil
}

// parseStats assembles a snapshot from raw hash values, falling back to
// the configured shape when the shared state has expired.
func parseStats(config Config, state, counters map[string]string, instances []string) *Stats {
	s := &Stats{
		Limit:           config.Limit,
		Remaining:       config.Limit,
		Period:          config.Period,
		ActiveInstances: instances,
	}
	if v, err := strconv.Atoi(state["limit"]); err == nil {
		s.Limit = v
	}
	if v, err := strconv.Atoi(state["remaining"]); err == nil {
		s.Remaining = v
	}
	if v, err := strconv.ParseFloat(state["next_reset"], 64); err == nil {
		s.NextReset = floatToTime(v)
	}
	if v, err := strconv.ParseFloat(state["period"], 64); err == nil {
		s.Period = time.Duration(v * float64(time.Second))
	}
	if v, err := strconv.ParseInt(counters["total"], 10, 64); err == nil {
		s.TotalRequests = v
	}
	if v, err := strconv.ParseInt(counters["allowed"], 10, 64); err == nil {
		s.AllowedRequests = v
	}
	if v, err := strconv.ParseInt(counters["denied"], 10, 64); err == nil {
		s.DeniedRequests = v
	}
	return s
}

// ttlSeconds converts the key TTL to whole seconds for EXPIRE, never
// below one second.
func (l *Limiter) ttlSeconds() int {
	s := int(l.config.KeyTTL / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

// redisFailed records a Redis failure in the log and metrics.
func (l *Limiter) redisFailed(op string, err error) {
	l.logger.Warn("redis operation failed",
		zap.String("key", l.config.Key),
		zap.String("op", op),
		zap.Error(err))
	if l.metricsOn {
		l.reg.DistributedErrors.WithLabelValues(l.config.Key, op).Inc()
	}
}

// fellBack records a request served by the local fallback bucket.
func (l *Limiter) fellBack() {
	if l.metricsOn {
		l.reg.DistributedFallbacks.WithLabelValues(l.config.Key).Inc()
	}
}

const luaAcquire = `
-- KEYS[1]: state hash
-- KEYS[2]: stats hash
-- ARGV[1]: current time in unix seconds
-- ARGV[2]: seed limit, used when the state hash is absent
-- ARGV[3]: seed period in seconds, used when the state hash is absent
-- ARGV[4]: key TTL in seconds

local state_key = KEYS[1]
local stats_key = KEYS[2]

local now = tonumber(ARGV[1])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', state_key, 'limit', 'remaining', 'next_reset', 'period', 'credited')
local limit = tonumber(state[1])
local remaining = tonumber(state[2])
local next_reset = tonumber(state[3])
local period = tonumber(state[4])
local credited = tonumber(state[5]) or 0

-- Seed a fresh full window when the state is absent or expired
if not limit or not remaining or not next_reset or not period then
    limit = tonumber(ARGV[2])
    period = tonumber(ARGV[3])
    remaining = limit
    next_reset = now + period
    credited = 0
end

-- A shrunken limit clamps outstanding tokens and credit
if remaining > limit then
    remaining = limit
end
if credited > limit then
    credited = limit
end

-- Refill: snap to a full window past the reset, trickle inside it.
-- The credited marker records trickle tokens already granted this
-- window so repeated calls do not grant the same credit twice.
if remaining >= limit then
    local elapsed = now - (next_reset - period)
    local owed = 0
    if elapsed > 0 then
        owed = math.floor(elapsed / period * limit)
        if owed > limit then
            owed = limit
        end
    end
    credited = owed
elseif now >= next_reset then
    remaining = limit
    next_reset = now + period
    credited = 0
else
    local elapsed = now - (next_reset - period)
    local owed = 0
    if elapsed > 0 then
        owed = math.floor(elapsed / period * limit)
        if owed > limit then
            owed = limit
        end
    end
    if owed > credited then
        remaining = remaining + (owed - credited)
        if remaining > limit then
            remaining = limit
        end
        credited = owed
    end
end

-- Take a token when one is available, otherwise compute the delay
-- until the window grants the next one
local allowed = 0
local delay = 0
if remaining > 0 then
    remaining = remaining - 1
    allowed = 1
    redis.call('HINCRBY', stats_key, 'total', 1)
    redis.call('HINCRBY', stats_key, 'allowed', 1)
else
    local until_reset = next_reset - now
    local elapsed = now - (next_reset - period)
    delay = (credited + 1) / limit * period - elapsed
    if delay > until_reset then
        delay = until_reset
    end
    if delay < 0 then
        delay = 0
    end
    redis.call('HINCRBY', stats_key, 'total', 1)
    redis.call('HINCRBY', stats_key, 'denied', 1)
end

redis.call('HSET', state_key, 'limit', limit, 'remaining', remaining, 'next_reset', tostring(next_reset), 'period', tostring(period), 'credited', credited)
redis.call('EXPIRE', state_key, ttl)
redis.call('EXPIRE', stats_key, ttl)

return {allowed, remaining, tostring(delay)}
`

const luaReturnToken = `
-- KEYS[1]: state hash
-- ARGV[1]: key TTL in seconds

local state_key = KEYS[1]

local state = redis.call('HMGET', state_key, 'limit', 'remaining')
local limit = tonumber(state[1])
local remaining = tonumber(state[2])

-- Nothing to credit when the state has expired; the next acquire
-- reseeds a full window anyway
if not limit or not remaining then
    return 0
end

if remaining < limit then
    remaining = remaining + 1
    redis.call('HSET', state_key, 'remaining', remaining)
end
redis.call('EXPIRE', state_key, tonumber(ARGV[1]))

return remaining
`

const luaPeek = `
-- KEYS[1]: state hash
-- ARGV[1]: current time in unix seconds
-- ARGV[2]: seed limit, used when the state hash is absent
-- ARGV[3]: seed period in seconds, unused unless seeding
-- ARGV[4]: key TTL in seconds

local state_key = KEYS[1]

local now = tonumber(ARGV[1])

local state = redis.call('HMGET', state_key, 'limit', 'remaining', 'next_reset', 'period', 'credited')
local limit = tonumber(state[1])
local remaining = tonumber(state[2])
local next_reset = tonumber(state[3])
local period = tonumber(state[4])
local credited = tonumber(state[5]) or 0

-- Absent state means a fresh full window
if not limit or not remaining or not next_reset or not period then
    return {tonumber(ARGV[2]), tonumber(ARGV[2])}
end

if remaining > limit then
    remaining = limit
end
if credited > limit then
    credited = limit
end

-- Same refill as the acquire script, without taking a token
if remaining >= limit then
    local elapsed = now - (next_reset - period)
    local owed = 0
    if elapsed > 0 then
        owed = math.floor(elapsed / period * limit)
        if owed > limit then
            owed = limit
        end
    end
    credited = owed
elseif now >= next_reset then
    remaining = limit
    next_reset = now + period
    credited = 0
else
    local elapsed = now - (next_reset - period)
    local owed = 0
    if elapsed > 0 then
        owed = math.floor(elapsed / period * limit)
        if owed > limit then
            owed = limit
        end
    end
    if owed > credited then
        remaining = remaining + (owed - credited)
        if remaining > limit then
            remaining = limit
        end
        credited = owed
    end
end

redis.call('HSET', state_key, 'remaining', remaining, 'next_reset', tostring(next_reset), 'credited', credited)
redis.call('EXPIRE', state_key, tonumber(ARGV[4]))

return {limit, remaining}
`
