/*
Package distributed provides a Redis-backed token bucket shared across
bot instances.

A fleet of bots running under one account shares a single global send
budget. This package keeps that budget in Redis so every instance draws
from the same window-anchored bucket: refill snaps the bucket to full at
the window reset and trickles tokens in proportionally inside it,
exactly like the in-process bucket, but the state lives in a Redis hash
and the refill-and-take step runs as one atomic Lua script.

The limiter satisfies dual.Bucket, so it slots in as the global side of
a local/global pair:

	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})

	global, err := distributed.New(distributed.Config{
		Redis:  rdb,
		Key:    "botflow:global",
		Limit:  100,
		Period: 30 * time.Second,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer global.Close()

	local := tokenbucket.New(20, 30*time.Second)
	pair, _ := dual.New(local, global)

Every instance pointing at the same Key shares the bucket. State is
seeded create-if-absent, so instances joining mid-window see the
window in progress rather than resetting it, and the acquire script
reseeds expired state on first contact.

# Fallback

Redis outages should slow a bot down, not stop it. Configure a local
fallback bucket and the context-free operations (Allow, Wait,
WaitTimeout, ReturnToken, IsFull) degrade to it whenever Redis is
unreachable, with a warning logged per failure:

	global, err := distributed.New(distributed.Config{
		Redis:    rdb,
		Key:      "botflow:global",
		Limit:    100,
		Period:   30 * time.Second,
		Fallback: tokenbucket.New(100, 30*time.Second),
		Logger:   logger,
	})

Without a fallback, Allow fails closed and the blocking operations
surface a *RedisError, which wraps the underlying failure and is safe
to retry.

# Explicit error handling

AllowCtx and ReturnTokenCtx are the error-surfacing variants for
callers that want to make their own degradation decisions:

	allowed, err := global.AllowCtx(ctx)
	var rerr *distributed.RedisError
	if errors.As(err, &rerr) {
		// Redis trouble; decide locally
	}

Stats, Reset and runtime SetLimit/SetPeriod round out the operational
surface. Close removes this instance from the shared instance set and
leaves the Redis client open.
*/
package distributed
