package rest

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Bucket is one provider-assigned rate-limit window, rebuilt from
// response headers on every bucketed response.
type Bucket struct {
	Limit      int
	Remaining  int
	Reset      time.Time
	ResetAfter time.Duration
	Since      time.Time
}

type routeKey struct {
	route  string
	method string
}

// RateLimiter tracks provider buckets per (route, method) pair. Not
// every route is bucketed; unseen routes always proceed immediately.
type RateLimiter struct {
	mu        sync.Mutex
	bucketMap map[routeKey]string
	buckets   map[string]*Bucket
	log       *slog.Logger
}

func NewRateLimiter(log *slog.Logger) *RateLimiter {
	return &RateLimiter{
		bucketMap: make(map[routeKey]string),
		buckets:   make(map[string]*Bucket),
		log:       log,
	}
}

// SaveResponseBucket upserts the bucket carried by a response and
// points (route, method) at it. Responses without a bucket id are a
// no-op.
func (rl *RateLimiter) SaveResponseBucket(route string, method string, header http.Header) {
	bucketID := header.Get("X-RateLimit-Bucket")
	if bucketID == "" {
		return
	}

	limit, _ := strconv.Atoi(header.Get("X-RateLimit-Limit"))
	remaining, _ := strconv.Atoi(header.Get("X-RateLimit-Remaining"))
	reset, _ := strconv.ParseFloat(header.Get("X-RateLimit-Reset"), 64)
	resetAfter, _ := strconv.ParseFloat(header.Get("X-RateLimit-Reset-After"), 64)

	rl.mu.Lock()
	rl.bucketMap[routeKey{route, method}] = bucketID
	rl.buckets[bucketID] = &Bucket{
		Limit:      limit,
		Remaining:  remaining,
		Reset:      time.Unix(0, int64(reset*float64(time.Second))),
		ResetAfter: time.Duration(resetAfter * float64(time.Second)),
		Since:      time.Now(),
	}
	rl.mu.Unlock()

	rl.log.Debug("rate limit bucket saved",
		"bucket_id", bucketID,
		"route", route,
		"remaining", remaining)
}

// WaitUntilAvailable suspends the caller while the bucket for (route,
// method) is exhausted. First request on an unseen route never waits.
func (rl *RateLimiter) WaitUntilAvailable(ctx context.Context, route string, method string) error {
	rl.mu.Lock()
	var wait time.Duration
	if bucketID, ok := rl.bucketMap[routeKey{route, method}]; ok {
		if bucket, ok := rl.buckets[bucketID]; ok && bucket.Remaining == 0 {
			wait = time.Until(bucket.Since.Add(bucket.ResetAfter))
		}
	}
	rl.mu.Unlock()

	if wait <= 0 {
		return nil
	}

	rl.log.Info("waiting for rate limit bucket to reset",
		"route", route,
		"wait", wait)

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
