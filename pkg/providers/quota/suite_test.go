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

package quota_test

import (
	"context"
	"testing"
	"time"

	"github.com/samber/lo"

	v1 "github.com/labondemand/labondemand/pkg/apis/v1"
	"github.com/labondemand/labondemand/pkg/store"
	"github.com/labondemand/labondemand/pkg/test"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var ctx context.Context
var env *test.Environment

func TestQuota(t *testing.T) {
	ctx = context.Background()
	RegisterFailHandler(Fail)
	RunSpecs(t, "Quota")
}

var _ = BeforeSuite(func() {
	env = test.NewEnvironment()
})

var _ = BeforeEach(func() {
	env.Reset()
})

var _ = AfterSuite(func() {
	env.Stop()
})

var _ = Describe("EffectiveLimits", func() {
	var user *store.User
	BeforeEach(func() {
		user = test.User()
		Expect(env.Store.CreateUser(ctx, user)).To(Succeed())
	})
	It("should return dense role defaults without an override", func() {
		limits := lo.Must(env.QuotaResolver.EffectiveLimits(ctx, user))
		Expect(limits).To(Equal(v1.ProfileFor(v1.RoleStudent).Limits))
	})
	It("should overlay only the set override fields onto role defaults", func() {
		Expect(env.QuotaResolver.SetOverride(ctx, &store.QuotaOverride{
			UserID:  user.ID,
			MaxApps: lo.ToPtr(int64(12)),
		})).To(Succeed())

		limits := lo.Must(env.QuotaResolver.EffectiveLimits(ctx, user))
		defaults := v1.ProfileFor(v1.RoleStudent).Limits
		Expect(limits.MaxApps).To(Equal(int64(12)))
		Expect(limits.MaxCPUMillis).To(Equal(defaults.MaxCPUMillis))
		Expect(limits.MaxMemMi).To(Equal(defaults.MaxMemMi))
		Expect(limits.MaxPods).To(Equal(defaults.MaxPods))
	})
	It("should honor an explicit zero override", func() {
		// Setting max_apps to 0 is how an admin blocks a user; null means
		// inherit, zero means zero.
		Expect(env.QuotaResolver.SetOverride(ctx, &store.QuotaOverride{
			UserID:  user.ID,
			MaxApps: lo.ToPtr(int64(0)),
		})).To(Succeed())

		limits := lo.Must(env.QuotaResolver.EffectiveLimits(ctx, user))
		Expect(limits.MaxApps).To(BeZero())
		Expect(limits.MaxCPUMillis).To(Equal(v1.ProfileFor(v1.RoleStudent).Limits.MaxCPUMillis))
	})
	It("should ignore an expired override", func() {
		Expect(env.QuotaResolver.SetOverride(ctx, &store.QuotaOverride{
			UserID:    user.ID,
			MaxApps:   lo.ToPtr(int64(12)),
			ExpiresAt: lo.ToPtr(env.Clock.Now().Add(-time.Minute)),
		})).To(Succeed())

		limits := lo.Must(env.QuotaResolver.EffectiveLimits(ctx, user))
		Expect(limits.MaxApps).To(Equal(v1.ProfileFor(v1.RoleStudent).Limits.MaxApps))
	})
	It("should honor a future-dated override until it lapses", func() {
		Expect(env.QuotaResolver.SetOverride(ctx, &store.QuotaOverride{
			UserID:    user.ID,
			MaxApps:   lo.ToPtr(int64(12)),
			ExpiresAt: lo.ToPtr(env.Clock.Now().Add(time.Hour)),
		})).To(Succeed())
		limits := lo.Must(env.QuotaResolver.EffectiveLimits(ctx, user))
		Expect(limits.MaxApps).To(Equal(int64(12)))

		env.Clock.Step(2 * time.Hour)
		env.QuotaResolver.Reset()
		limits = lo.Must(env.QuotaResolver.EffectiveLimits(ctx, user))
		Expect(limits.MaxApps).To(Equal(v1.ProfileFor(v1.RoleStudent).Limits.MaxApps))
	})
	It("should resolve unknown roles as student", func() {
		odd := test.User(store.User{Role: "superuser"})
		Expect(env.Store.CreateUser(ctx, odd)).To(Succeed())
		limits := lo.Must(env.QuotaResolver.EffectiveLimits(ctx, odd))
		Expect(limits).To(Equal(v1.ProfileFor(v1.RoleStudent).Limits))
	})
	It("should apply cleared overrides immediately despite caching", func() {
		Expect(env.QuotaResolver.SetOverride(ctx, &store.QuotaOverride{UserID: user.ID, MaxApps: lo.ToPtr(int64(12))})).To(Succeed())
		Expect(lo.Must(env.QuotaResolver.EffectiveLimits(ctx, user)).MaxApps).To(Equal(int64(12)))

		Expect(env.QuotaResolver.ClearOverride(ctx, user.ID)).To(Succeed())
		Expect(lo.Must(env.QuotaResolver.EffectiveLimits(ctx, user)).MaxApps).To(Equal(v1.ProfileFor(v1.RoleStudent).Limits.MaxApps))
	})
})
