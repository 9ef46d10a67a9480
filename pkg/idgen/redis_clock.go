package idgen

import (
	"context"
	"time"

	"github.com/anthanhphan/gosdk/logger"
	"github.com/redis/go-redis/v9"
)

// Clock abstracts the time source for the ID generator.
type Clock interface {
	// Now returns the current timestamp in milliseconds.
	Now() int64
}

// SystemClock uses the local system time.
type SystemClock struct{}

func (s *SystemClock) Now() int64 {
	return time.Now().UnixMilli()
}

// TimeSource is the part of a Redis client the clock needs.
type TimeSource interface {
	Time(ctx context.Context) *redis.TimeCmd
}

// RedisClock reads time from the Redis TIME command so that several gallery
// processes writing to the same repository agree on name ordering.
type RedisClock struct {
	client  TimeSource
	timeout time.Duration
}

func NewRedisClock(client TimeSource) *RedisClock {
	return &RedisClock{
		client:  client,
		timeout: 500 * time.Millisecond,
	}
}

func (r *RedisClock) Now() int64 {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	res, err := r.client.Time(ctx).Result()
	if err != nil {
		// Names stay unique through the sequence bits, only cross-process
		// ordering degrades.
		logger.Warnw("Redis clock unavailable, falling back to system time", "error", err.Error())
		return time.Now().UnixMilli()
	}

	return res.UnixMilli()
}
