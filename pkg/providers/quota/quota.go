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

// Package quota resolves the effective per-user limits admission works
// against: role defaults merged with the user's active override row.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"k8s.io/utils/clock"

	v1 "github.com/labondemand/labondemand/pkg/apis/v1"
	"github.com/labondemand/labondemand/pkg/audit"
	"github.com/labondemand/labondemand/pkg/store"
)

type Resolver struct {
	store    *store.Store
	clk      clock.Clock
	recorder audit.Recorder
	// cache holds effective limits per user for a short TTL; SetOverride and
	// ClearOverride invalidate eagerly so admin changes apply immediately.
	cache *cache.Cache
}

func NewResolver(s *store.Store, clk clock.Clock, recorder audit.Recorder) *Resolver {
	return &Resolver{
		store:    s,
		clk:      clk,
		recorder: recorder,
		cache:    cache.New(30*time.Second, time.Minute),
	}
}

// EffectiveLimits merges role defaults with the user's override row. Expired
// overrides are ignored but retained for audit. Unknown roles resolve as
// student. The result is always dense.
func (r *Resolver) EffectiveLimits(ctx context.Context, user *store.User) (v1.Limits, error) {
	key := fmt.Sprint(user.ID)
	if cached, ok := r.cache.Get(key); ok {
		return cached.(v1.Limits), nil
	}
	limits := v1.ProfileFor(v1.ParseRole(user.Role)).Limits
	override, err := r.store.GetOverride(ctx, user.ID)
	if err != nil {
		return v1.Limits{}, fmt.Errorf("loading quota override, %w", err)
	}
	if override != nil && r.overrideActive(override) {
		applyOverride(&limits, override)
	}
	r.cache.SetDefault(key, limits)
	return limits, nil
}

func (r *Resolver) overrideActive(o *store.QuotaOverride) bool {
	return o.ExpiresAt == nil || o.ExpiresAt.After(r.clk.Now())
}

// applyOverride copies the override's non-null fields onto the role defaults.
// The pointers encode null-ness, so zero is a legitimate override value (an
// admin setting max_apps to 0 blocks the user entirely).
func applyOverride(limits *v1.Limits, o *store.QuotaOverride) {
	if o.MaxApps != nil {
		limits.MaxApps = *o.MaxApps
	}
	if o.MaxCPUMillis != nil {
		limits.MaxCPUMillis = *o.MaxCPUMillis
	}
	if o.MaxMemMi != nil {
		limits.MaxMemMi = *o.MaxMemMi
	}
	if o.MaxStorageGi != nil {
		limits.MaxStorageGi = *o.MaxStorageGi
	}
}

// SetOverride upserts the user's single override row and invalidates the
// cached view.
func (r *Resolver) SetOverride(ctx context.Context, override *store.QuotaOverride) error {
	override.CreatedAt = r.clk.Now()
	if err := r.store.UpsertOverride(ctx, override); err != nil {
		return err
	}
	r.cache.Delete(fmt.Sprint(override.UserID))
	r.recorder.Publish(ctx, audit.QuotaOverrideSet(override.UserID))
	return nil
}

// ClearOverride removes the row entirely. Observationally identical to
// setting every field to null.
func (r *Resolver) ClearOverride(ctx context.Context, userID int64) error {
	if err := r.store.DeleteOverride(ctx, userID); err != nil {
		return err
	}
	r.cache.Delete(fmt.Sprint(userID))
	r.recorder.Publish(ctx, audit.QuotaOverrideSet(userID))
	return nil
}

// Reset drops all cached limits. Used at teardown and in tests.
func (r *Resolver) Reset() {
	r.cache.Flush()
}
