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

package namespace_test

import (
	"context"
	"testing"

	"github.com/samber/lo"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/types"

	v1 "github.com/labondemand/labondemand/pkg/apis/v1"
	"github.com/labondemand/labondemand/pkg/store"
	"github.com/labondemand/labondemand/pkg/test"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var ctx context.Context
var env *test.Environment

func TestNamespace(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Namespace")
}

var _ = BeforeSuite(func() {
	env = test.NewEnvironment()
})

var _ = BeforeEach(func() {
	ctx = test.Options()
	env.Reset()
})

var _ = AfterSuite(func() {
	env.Stop()
})

var _ = Describe("Ensure", func() {
	It("should create the namespace with ownership labels and both baselines", func() {
		user := test.User()
		user.ID = 7
		nsName := lo.Must(env.NamespaceProvider.Ensure(ctx, user))
		Expect(nsName).To(Equal("labondemand-user-7"))

		ns := &corev1.Namespace{}
		Expect(env.KubeClient.Get(ctx, types.NamespacedName{Name: nsName}, ns)).To(Succeed())
		Expect(ns.Labels).To(HaveKeyWithValue(v1.LabelManagedBy, v1.ManagedByValue))
		Expect(ns.Labels).To(HaveKeyWithValue(v1.LabelUserID, "7"))
		Expect(ns.Labels).To(HaveKeyWithValue(v1.LabelUserRole, string(v1.RoleStudent)))

		quota := &corev1.ResourceQuota{}
		Expect(env.KubeClient.Get(ctx, types.NamespacedName{Namespace: nsName, Name: v1.BaselineQuotaName}, quota)).To(Succeed())
		student := v1.ProfileFor(v1.RoleStudent).Quota
		pods := quota.Spec.Hard[corev1.ResourcePods]
		Expect(pods.Value()).To(Equal(student.Pods))
		cpu := quota.Spec.Hard[corev1.ResourceRequestsCPU]
		Expect(cpu.MilliValue()).To(Equal(student.RequestCPUMillis))

		limits := &corev1.LimitRange{}
		Expect(env.KubeClient.Get(ctx, types.NamespacedName{Namespace: nsName, Name: v1.BaselineLimitsName}, limits)).To(Succeed())
		Expect(limits.Spec.Limits).To(HaveLen(1))
	})
	It("should be idempotent across repeated calls", func() {
		user := test.User()
		user.ID = 7
		first := lo.Must(env.NamespaceProvider.Ensure(ctx, user))
		second := lo.Must(env.NamespaceProvider.Ensure(ctx, user))
		Expect(second).To(Equal(first))
	})
	It("should retighten the baseline when the user's role changes", func() {
		user := test.User(store.User{Role: string(v1.RoleTeacher)})
		user.ID = 7
		nsName := lo.Must(env.NamespaceProvider.Ensure(ctx, user))

		user.Role = string(v1.RoleStudent)
		env.NamespaceProvider.Invalidate(nsName)
		Expect(lo.Must(env.NamespaceProvider.Ensure(ctx, user))).To(Equal(nsName))

		quota := &corev1.ResourceQuota{}
		Expect(env.KubeClient.Get(ctx, types.NamespacedName{Namespace: nsName, Name: v1.BaselineQuotaName}, quota)).To(Succeed())
		pods := quota.Spec.Hard[corev1.ResourcePods]
		Expect(pods.Value()).To(Equal(v1.ProfileFor(v1.RoleStudent).Quota.Pods))

		ns := &corev1.Namespace{}
		Expect(env.KubeClient.Get(ctx, types.NamespacedName{Name: nsName}, ns)).To(Succeed())
		Expect(ns.Labels).To(HaveKeyWithValue(v1.LabelUserRole, string(v1.RoleStudent)))
	})
})
