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

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/samber/lo"

	v1 "github.com/labondemand/labondemand/pkg/apis/v1"
	"github.com/labondemand/labondemand/pkg/errors"
	"github.com/labondemand/labondemand/pkg/store"
	"github.com/labondemand/labondemand/pkg/test"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var ctx context.Context
var db *store.Store

func TestStore(t *testing.T) {
	ctx = context.Background()
	RegisterFailHandler(Fail)
	RunSpecs(t, "Store")
}

var _ = BeforeEach(func() {
	db = lo.Must(store.Open(":memory:"))
})

var _ = AfterEach(func() {
	Expect(db.Close()).To(Succeed())
})

var _ = Describe("Users", func() {
	It("should round trip a user", func() {
		user := test.User()
		Expect(db.CreateUser(ctx, user)).To(Succeed())
		Expect(user.ID).ToNot(BeZero())

		got, err := db.GetUser(ctx, user.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(got.Username).To(Equal(user.Username))
		Expect(got.Role).To(Equal(string(v1.RoleStudent)))
	})
	It("should return a typed not-found for unknown users", func() {
		_, err := db.GetUser(ctx, 42)
		Expect(errors.IsNotFound(err)).To(BeTrue())
	})
	It("should not overwrite a locally overridden role from the identity provider", func() {
		user := test.User(store.User{Role: string(v1.RoleTeacher), RoleOverride: true})
		Expect(db.CreateUser(ctx, user)).To(Succeed())
		Expect(db.UpdateUserRole(ctx, user.ID, v1.RoleStudent)).To(Succeed())

		got := lo.Must(db.GetUser(ctx, user.ID))
		Expect(got.Role).To(Equal(string(v1.RoleTeacher)))
	})
	It("should cascade deployment and override rows when a user is deleted", func() {
		user := test.User()
		Expect(db.CreateUser(ctx, user)).To(Succeed())
		record := test.DeploymentRecord(store.Deployment{UserID: user.ID, Namespace: "labondemand-user-1"})
		Expect(db.InsertDeployment(ctx, record)).To(Succeed())
		Expect(db.UpsertOverride(ctx, &store.QuotaOverride{UserID: user.ID, MaxApps: lo.ToPtr(int64(9)), CreatedAt: time.Now()})).To(Succeed())

		Expect(db.DeleteUser(ctx, user.ID)).To(Succeed())
		_, err := db.GetDeployment(ctx, record.Namespace, record.Name)
		Expect(errors.IsNotFound(err)).To(BeTrue())
		override := lo.Must(db.GetOverride(ctx, user.ID))
		Expect(override).To(BeNil())
	})
})

var _ = Describe("Deployments", func() {
	var user *store.User
	BeforeEach(func() {
		user = test.User()
		Expect(db.CreateUser(ctx, user)).To(Succeed())
	})
	It("should enforce one record per namespace and name", func() {
		record := test.DeploymentRecord(store.Deployment{UserID: user.ID, Namespace: "labondemand-user-1"})
		Expect(db.InsertDeployment(ctx, record)).To(Succeed())
		dup := test.DeploymentRecord(store.Deployment{UserID: user.ID, Namespace: record.Namespace, Name: record.Name})
		Expect(db.InsertDeployment(ctx, dup)).ToNot(Succeed())
	})
	It("should aggregate observed usage over active rows only", func() {
		for _, status := range []v1.DeploymentStatus{v1.StatusActive, v1.StatusActive, v1.StatusPaused, v1.StatusDeleted} {
			Expect(db.InsertDeployment(ctx, test.DeploymentRecord(store.Deployment{
				UserID: user.ID, Namespace: "labondemand-user-1", Status: string(status),
				CPURequested: 500, MemRequested: 1024, PodsRequested: 2,
			}))).To(Succeed())
		}
		usage := lo.Must(db.ObservedUsage(ctx, user.ID))
		Expect(usage.Apps).To(Equal(int64(2)))
		Expect(usage.CPUMillis).To(Equal(int64(1000)))
		Expect(usage.MemMi).To(Equal(int64(2048)))
		Expect(usage.Pods).To(Equal(int64(4)))
	})
	It("should list expired active rows at the cutoff", func() {
		now := time.Now().UTC()
		expired := test.DeploymentRecord(store.Deployment{UserID: user.ID, Namespace: "labondemand-user-1", ExpiresAt: lo.ToPtr(now.Add(-time.Hour))})
		fresh := test.DeploymentRecord(store.Deployment{UserID: user.ID, Namespace: "labondemand-user-1", ExpiresAt: lo.ToPtr(now.Add(time.Hour))})
		forever := test.DeploymentRecord(store.Deployment{UserID: user.ID, Namespace: "labondemand-user-1"})
		for _, r := range []*store.Deployment{expired, fresh, forever} {
			Expect(db.InsertDeployment(ctx, r)).To(Succeed())
		}
		got := lo.Must(db.ListExpired(ctx, now))
		Expect(got).To(HaveLen(1))
		Expect(got[0].Name).To(Equal(expired.Name))
	})
	It("should list paused rows whose grace period ran out", func() {
		now := time.Now().UTC()
		stale := test.DeploymentRecord(store.Deployment{UserID: user.ID, Namespace: "labondemand-user-1", Status: string(v1.StatusPaused), LastSeenAt: lo.ToPtr(now.Add(-96 * time.Hour))})
		recent := test.DeploymentRecord(store.Deployment{UserID: user.ID, Namespace: "labondemand-user-1", Status: string(v1.StatusPaused), LastSeenAt: lo.ToPtr(now.Add(-time.Hour))})
		for _, r := range []*store.Deployment{stale, recent} {
			Expect(db.InsertDeployment(ctx, r)).To(Succeed())
		}
		got := lo.Must(db.ListGraceExpired(ctx, now.Add(-72*time.Hour)))
		Expect(got).To(HaveLen(1))
		Expect(got[0].Name).To(Equal(stale.Name))
	})
	It("should exclude deleted rows from per-user counts and listings", func() {
		record := test.DeploymentRecord(store.Deployment{UserID: user.ID, Namespace: "labondemand-user-1"})
		Expect(db.InsertDeployment(ctx, record)).To(Succeed())
		Expect(db.MarkDeleted(ctx, record.ID, time.Now())).To(Succeed())

		Expect(lo.Must(db.CountNonDeletedByUser(ctx, user.ID))).To(BeZero())
		Expect(lo.Must(db.ListDeploymentsByUser(ctx, user.ID))).To(BeEmpty())
	})
})

var _ = Describe("Overrides", func() {
	var user *store.User
	BeforeEach(func() {
		user = test.User()
		Expect(db.CreateUser(ctx, user)).To(Succeed())
	})
	It("should keep at most one override row per user", func() {
		Expect(db.UpsertOverride(ctx, &store.QuotaOverride{UserID: user.ID, MaxApps: lo.ToPtr(int64(5)), CreatedAt: time.Now()})).To(Succeed())
		Expect(db.UpsertOverride(ctx, &store.QuotaOverride{UserID: user.ID, MaxApps: lo.ToPtr(int64(8)), CreatedAt: time.Now()})).To(Succeed())

		override := lo.Must(db.GetOverride(ctx, user.ID))
		Expect(override).ToNot(BeNil())
		Expect(lo.FromPtr(override.MaxApps)).To(Equal(int64(8)))
	})
	It("should return nil without error when no override exists", func() {
		override, err := db.GetOverride(ctx, user.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(override).To(BeNil())
	})
})

var _ = Describe("Catalog", func() {
	It("should refuse template key changes through update", func() {
		tpl := test.Template(store.Template{Active: true})
		Expect(db.CreateTemplate(ctx, tpl)).To(Succeed())
		missing := *tpl
		missing.Key = "renamed"
		Expect(errors.IsNotFound(db.UpdateTemplate(ctx, &missing))).To(BeTrue())
	})
	It("should filter inactive rows when asked", func() {
		Expect(db.CreateTemplate(ctx, test.Template(store.Template{Key: "a", Active: true}))).To(Succeed())
		Expect(db.CreateTemplate(ctx, test.Template(store.Template{Key: "b"}))).To(Succeed())
		Expect(lo.Must(db.ListTemplates(ctx, true))).To(HaveLen(1))
		Expect(lo.Must(db.ListTemplates(ctx, false))).To(HaveLen(2))
	})
})
