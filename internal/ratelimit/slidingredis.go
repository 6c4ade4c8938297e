package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SetupPrefix namespaces punch-out setup counters.
const SetupPrefix = "ratelimit:setup:"

// slidingWindow trims the window, admits the event only while under max and
// reports the reset time of the oldest admitted event. Scores are unix millis.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < max then
	redis.call('ZADD', key, ARGV[1], ARGV[4])
	count = count + 1
	allowed = 1
end
redis.call('PEXPIRE', key, window)
local reset = now + window
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest[2] then
	reset = tonumber(oldest[2]) + window
end
return {allowed, count, reset}
`)

// Limiter is a sliding-window limiter over Redis sorted sets. Rejected events
// are not recorded, so a caller hammering the endpoint regains access once
// its admitted events age out of the window.
type Limiter struct {
	Client *redis.Client
	Prefix string
	Now    func() time.Time
}

// Allow registers an event for key and reports whether it is within max per
// window. Without a client every event is allowed.
func (l Limiter) Allow(ctx context.Context, key string, window time.Duration, max int) (allowed bool, remaining int, reset time.Time, err error) {
	now := l.now()
	if l.Client == nil || max <= 0 || window <= 0 {
		return true, max, now.Add(window), nil
	}

	windowMillis := window.Milliseconds()
	if windowMillis < 1 {
		windowMillis = 1
	}
	member := fmt.Sprintf("%d:%s", now.UnixMilli(), uuid.NewString())
	res, err := slidingWindow.Run(ctx, l.Client, []string{l.Prefix + key}, now.UnixMilli(), windowMillis, max, member).Int64Slice()
	if err != nil {
		return false, 0, now.Add(window), err
	}
	if len(res) != 3 {
		return false, 0, now.Add(window), fmt.Errorf("ratelimit: unexpected script reply %v", res)
	}

	remaining = max - int(res[1])
	if remaining < 0 {
		remaining = 0
	}
	return res[0] == 1, remaining, time.UnixMilli(res[2]), nil
}

func (l Limiter) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// NewSetupHandler limits punch-out setup requests per client address to
// perMinute. Redis errors and a nil client let requests through.
func NewSetupHandler(client *redis.Client, perMinute int, onError func(error)) Handler {
	return Handler{
		Limiter: Limiter{Client: client, Prefix: SetupPrefix},
		Config: Config{
			Key:    ClientIP,
			Window: time.Minute,
			Max:    perMinute,
		},
		OnError: onError,
	}
}
