/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package ratelimit throttles lab creation per caller. Limiters are kept in
// an expiring cache so idle callers cost nothing.
package ratelimit

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

const (
	// One new lab every 30 seconds sustained, with headroom for bursts of
	// classroom activity.
	defaultInterval = 30 * time.Second
	defaultBurst    = 10

	limiterTTL = 2 * time.Hour
)

type Limiter struct {
	mu       sync.Mutex
	limiters *cache.Cache
	interval time.Duration
	burst    int
}

func NewLimiter() *Limiter {
	return &Limiter{
		limiters: cache.New(limiterTTL, limiterTTL),
		interval: defaultInterval,
		burst:    defaultBurst,
	}
}

// Allow reports whether the caller identified by key may create a lab now.
// Unknown keys start with a full burst budget.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cached, ok := l.limiters.Get(key); ok {
		l.limiters.SetDefault(key, cached)
		return cached.(*rate.Limiter).Allow()
	}
	limiter := rate.NewLimiter(rate.Every(l.interval), l.burst)
	l.limiters.SetDefault(key, limiter)
	return limiter.Allow()
}

// Reset drops the caller's limiter, restoring its full burst budget.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiters.Delete(key)
}
