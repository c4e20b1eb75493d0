package storage

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turntabl-delinuxist/Virtual-Machine/internal/requestengine"
)

// RedisTally mirrors the engine's daily counters into Redis hashes so other
// processes can read them:
//
//	<prefix>:<yyyymmdd>:failed                   -> {rejected, failed}
//	<prefix>:<yyyymmdd>:builds:<requestor>       -> {<machine key>: count}
//
// Keys expire after ttl. The engine's in-memory statistics stay authoritative.
type RedisTally struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

type RedisTallyOption func(*RedisTally)

func WithTallyPrefix(prefix string) RedisTallyOption {
	return func(t *RedisTally) { t.prefix = strings.Trim(prefix, ":") }
}

func WithTallyTTL(d time.Duration) RedisTallyOption {
	return func(t *RedisTally) { t.ttl = d }
}

func NewRedisTally(rdb *redis.Client, opts ...RedisTallyOption) *RedisTally {
	t := &RedisTally{
		rdb:    rdb,
		prefix: "vmorg:stats",
		ttl:    48 * time.Hour,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// dayPrefix formats the day in at's own location, which is the engine's
// stats timezone, so keys line up with Report.Day.
func (t *RedisTally) dayPrefix(at time.Time) string {
	return t.prefix + ":" + at.Format("20060102")
}

// FailedKey is the hash holding the day's rejected and failed counts.
func (t *RedisTally) FailedKey(at time.Time) string {
	return t.dayPrefix(at) + ":failed"
}

// BuildsKey is the hash holding requestor's successful builds for the day.
func (t *RedisTally) BuildsKey(at time.Time, requestor string) string {
	return t.dayPrefix(at) + ":builds:" + requestor
}

// Record implements requestengine.Recorder.
func (t *RedisTally) Record(ctx context.Context, o requestengine.Outcome) error {
	if t == nil || t.rdb == nil {
		return nil
	}
	at := o.At
	if at.IsZero() {
		at = time.Now()
	}

	var key, field string
	switch o.Result {
	case requestengine.ResultSucceeded:
		key, field = t.BuildsKey(at, o.Requestor), o.MachineKey
	default:
		key, field = t.FailedKey(at), string(o.Result)
	}

	pipe := t.rdb.Pipeline()
	pipe.HIncrBy(ctx, key, field, 1)
	if t.ttl > 0 {
		pipe.Expire(ctx, key, t.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}
