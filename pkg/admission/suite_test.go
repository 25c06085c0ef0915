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

package admission_test

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/samber/lo"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/labondemand/labondemand/pkg/admission"
	v1 "github.com/labondemand/labondemand/pkg/apis/v1"
	"github.com/labondemand/labondemand/pkg/errors"
	"github.com/labondemand/labondemand/pkg/providers/catalog"
	"github.com/labondemand/labondemand/pkg/providers/stack"
	"github.com/labondemand/labondemand/pkg/store"
	"github.com/labondemand/labondemand/pkg/test"
	"github.com/labondemand/labondemand/pkg/utils/resources"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var ctx context.Context
var env *test.Environment
var builder *stack.Builder

func TestAdmission(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Admission")
}

var _ = BeforeSuite(func() {
	env = test.NewEnvironment()
	builder = stack.NewBuilder()
})

var _ = BeforeEach(func() {
	ctx = test.Options()
	env.Reset()
})

var _ = AfterSuite(func() {
	env.Stop()
})

func buildPlan(user *store.User, name string, cpuMillis, memMi int64) *stack.Plan {
	return lo.Must(builder.Build(ctx, &stack.Request{
		UserID:    user.ID,
		Role:      v1.ParseRole(user.Role),
		Name:      name,
		Kind:      v1.StackCustom,
		Namespace: v1.NamespaceName(v1.DefaultNamespacePrefix, user.ID),
		Image:     "docker.io/library/nginx:stable",
		Port:      8080,
		Resources: v1.ResourceSettings{
			CPURequestMillis: cpuMillis,
			CPULimitMillis:   cpuMillis * 2,
			MemRequestMi:     memMi,
			MemLimitMi:       memMi * 2,
			Replicas:         1,
		},
	}))
}

var _ = Describe("Clamp", func() {
	It("should reduce requests above the role ceilings", func() {
		clamped := admission.Clamp(v1.ResourceSettings{
			CPURequestMillis: 9999, CPULimitMillis: 9999, MemRequestMi: 9999, MemLimitMi: 9999, Replicas: 99,
		}, v1.RoleStudent)
		ceilings := v1.ProfileFor(v1.RoleStudent).Ceilings
		Expect(clamped.CPURequestMillis).To(Equal(ceilings.MaxCPURequestMillis))
		Expect(clamped.CPULimitMillis).To(Equal(ceilings.MaxCPULimitMillis))
		Expect(clamped.MemRequestMi).To(Equal(ceilings.MaxMemRequestMi))
		Expect(clamped.MemLimitMi).To(Equal(ceilings.MaxMemLimitMi))
		Expect(clamped.Replicas).To(Equal(ceilings.MaxReplicas))
	})
	It("should leave requests below the ceilings untouched", func() {
		in := v1.ResourceSettings{CPURequestMillis: 100, CPULimitMillis: 200, MemRequestMi: 128, MemLimitMi: 256, Replicas: 1}
		Expect(admission.Clamp(in, v1.RoleStudent)).To(Equal(in))
	})
	It("should be idempotent", func() {
		in := v1.ResourceSettings{CPURequestMillis: 9999, CPULimitMillis: 9999, MemRequestMi: 9999, MemLimitMi: 9999, Replicas: 99}
		once := admission.Clamp(in, v1.RoleStudent)
		Expect(admission.Clamp(once, v1.RoleStudent)).To(Equal(once))
	})
})

var _ = Describe("ApplyFloors", func() {
	It("should raise too-small requests to the floors, after clamping", func() {
		floors := catalog.Floors{MinCPURequestMillis: 250, MinCPULimitMillis: 500, MinMemRequestMi: 512, MinMemLimitMi: 1024}
		out := admission.ApplyFloors(v1.ResourceSettings{CPURequestMillis: 50, MemRequestMi: 64}, floors)
		Expect(out.CPURequestMillis).To(Equal(int64(250)))
		Expect(out.CPULimitMillis).To(Equal(int64(500)))
		Expect(out.MemRequestMi).To(Equal(int64(512)))
		Expect(out.MemLimitMi).To(Equal(int64(1024)))
	})
	It("should never leave a limit below its request", func() {
		out := admission.ApplyFloors(v1.ResourceSettings{CPURequestMillis: 800, CPULimitMillis: 100, MemRequestMi: 900, MemLimitMi: 100}, catalog.Floors{})
		Expect(out.CPULimitMillis).To(BeNumerically(">=", out.CPURequestMillis))
		Expect(out.MemLimitMi).To(BeNumerically(">=", out.MemRequestMi))
	})
})

var _ = Describe("LogicalQuota", func() {
	var user *store.User
	BeforeEach(func() {
		user = test.User()
		Expect(env.Store.CreateUser(ctx, user)).To(Succeed())
	})
	It("should deny a student at the app cap with the violated dimension", func() {
		for range v1.ProfileFor(v1.RoleStudent).Limits.MaxApps {
			Expect(env.Store.InsertDeployment(ctx, test.DeploymentRecord(store.Deployment{
				UserID: user.ID, Namespace: "labondemand-user-1", CPURequested: 100, MemRequested: 128,
			}))).To(Succeed())
		}
		err := env.AdmissionPipeline.Admit(ctx, user, "labondemand-user-1", buildPlan(user, "one-more", 100, 128))
		Expect(errors.IsQuotaExceeded(err)).To(BeTrue())
		qe := &errors.QuotaExceededError{}
		Expect(stderrors.As(err, &qe)).To(BeTrue())
		Expect(qe.Dimension).To(Equal("max_apps"))
		Expect(qe.Observed).To(Equal(v1.ProfileFor(v1.RoleStudent).Limits.MaxApps))
	})
	It("should deny when cumulative cpu requests would overflow", func() {
		Expect(env.Store.InsertDeployment(ctx, test.DeploymentRecord(store.Deployment{
			UserID: user.ID, Namespace: "labondemand-user-1", CPURequested: 2400, MemRequested: 128,
		}))).To(Succeed())
		err := env.AdmissionPipeline.Admit(ctx, user, "labondemand-user-1", buildPlan(user, "spill", 200, 128))
		qe := &errors.QuotaExceededError{}
		Expect(stderrors.As(err, &qe)).To(BeTrue())
		Expect(qe.Dimension).To(Equal("max_cpu_millis"))
	})
	It("should admit the same plan once an override raises the limit", func() {
		Expect(env.Store.InsertDeployment(ctx, test.DeploymentRecord(store.Deployment{
			UserID: user.ID, Namespace: "labondemand-user-1", CPURequested: 2400, MemRequested: 128,
		}))).To(Succeed())
		plan := buildPlan(user, "spill", 200, 128)
		Expect(errors.IsQuotaExceeded(env.AdmissionPipeline.Admit(ctx, user, "labondemand-user-1", plan))).To(BeTrue())

		Expect(env.QuotaResolver.SetOverride(ctx, &store.QuotaOverride{
			UserID: user.ID, MaxCPUMillis: lo.ToPtr(int64(8000)),
		})).To(Succeed())
		Expect(env.AdmissionPipeline.Admit(ctx, user, "labondemand-user-1", plan)).To(Succeed())
	})
})

var _ = Describe("Preflight", func() {
	var user *store.User
	var nsName string
	BeforeEach(func() {
		user = test.User()
		Expect(env.Store.CreateUser(ctx, user)).To(Succeed())
		nsName = v1.NamespaceName(v1.DefaultNamespacePrefix, user.ID)
	})
	It("should admit when the namespace has no baseline quota", func() {
		Expect(env.AdmissionPipeline.Admit(ctx, user, nsName, buildPlan(user, "web", 100, 128))).To(Succeed())
	})
	It("should name the first violated quota resource with both sides", func() {
		Expect(env.KubeClient.Create(ctx, &corev1.ResourceQuota{
			ObjectMeta: metav1.ObjectMeta{Name: v1.BaselineQuotaName, Namespace: nsName},
			Status: corev1.ResourceQuotaStatus{
				Hard: corev1.ResourceList{corev1.ResourceRequestsCPU: resources.CPU(2500)},
				Used: corev1.ResourceList{corev1.ResourceRequestsCPU: resources.CPU(2450)},
			},
		})).To(Succeed())

		err := env.AdmissionPipeline.Admit(ctx, user, nsName, buildPlan(user, "web", 100, 128))
		qe := &errors.QuotaExceededError{}
		Expect(stderrors.As(err, &qe)).To(BeTrue())
		Expect(qe.Dimension).To(Equal(string(corev1.ResourceRequestsCPU)))
		Expect(qe.Observed).To(Equal(int64(2450)))
		Expect(qe.Requested).To(Equal(int64(100)))
		Expect(qe.Limit).To(Equal(int64(2500)))
	})
	It("should admit when used plus planned stays at the hard cap", func() {
		Expect(env.KubeClient.Create(ctx, &corev1.ResourceQuota{
			ObjectMeta: metav1.ObjectMeta{Name: v1.BaselineQuotaName, Namespace: nsName},
			Status: corev1.ResourceQuotaStatus{
				Hard: corev1.ResourceList{corev1.ResourceRequestsCPU: resources.CPU(2500)},
				Used: corev1.ResourceList{corev1.ResourceRequestsCPU: resources.CPU(2400)},
			},
		})).To(Succeed())
		Expect(env.AdmissionPipeline.Admit(ctx, user, nsName, buildPlan(user, "web", 100, 128))).To(Succeed())
	})
})
