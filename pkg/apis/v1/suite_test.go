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

package v1_test

import (
	"testing"

	v1 "github.com/labondemand/labondemand/pkg/apis/v1"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestAPIs(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "APIs")
}

var _ = Describe("Naming", func() {
	It("should round trip the user namespace name", func() {
		name := v1.NamespaceName(v1.DefaultNamespacePrefix, 42)
		Expect(name).To(Equal("labondemand-user-42"))
		id, ok := v1.UserIDFromNamespace(v1.DefaultNamespacePrefix, name)
		Expect(ok).To(BeTrue())
		Expect(id).To(Equal(int64(42)))
	})
	It("should refuse namespaces outside the scheme", func() {
		for _, name := range []string{"kube-system", "labondemand-user-", "labondemand-user-abc", "labondemand-user--3", "labondemand-user-0"} {
			_, ok := v1.UserIDFromNamespace(v1.DefaultNamespacePrefix, name)
			Expect(ok).To(BeFalse(), "expected %q to be rejected", name)
		}
	})
	It("should derive the ingress host from lab and user", func() {
		Expect(v1.IngressHost("mylab", 7, "labs.example.edu")).To(Equal("mylab-u7.labs.example.edu"))
	})
})

var _ = Describe("Roles", func() {
	It("should degrade unknown roles to student", func() {
		Expect(v1.ParseRole("teacher")).To(Equal(v1.RoleTeacher))
		Expect(v1.ParseRole("admin")).To(Equal(v1.RoleAdmin))
		Expect(v1.ParseRole("superuser")).To(Equal(v1.RoleStudent))
		Expect(v1.ParseRole("")).To(Equal(v1.RoleStudent))
	})
	It("should define a dense profile for every role", func() {
		for _, role := range []v1.Role{v1.RoleStudent, v1.RoleTeacher, v1.RoleAdmin} {
			p := v1.ProfileFor(role)
			Expect(p.Limits.MaxApps).To(BeNumerically(">", 0))
			Expect(p.Ceilings.MaxCPULimitMillis).To(BeNumerically(">=", p.Ceilings.MaxCPURequestMillis))
			Expect(p.Quota.LimitMemMi).To(BeNumerically(">=", p.Quota.RequestMemMi))
		}
	})
	It("should never expire admin labs", func() {
		Expect(v1.ProfileFor(v1.RoleAdmin).TTLDays).To(BeZero())
	})
})

var _ = Describe("Stacks", func() {
	It("should know which stacks carry a database", func() {
		Expect(v1.StackMySQL.HasDatabase()).To(BeTrue())
		Expect(v1.StackWordPress.HasDatabase()).To(BeTrue())
		Expect(v1.StackVSCode.HasDatabase()).To(BeFalse())
	})
	It("should reject unknown stack kinds", func() {
		Expect(v1.StackKind("fortran-ide").Valid()).To(BeFalse())
		for _, s := range v1.WellKnownStacks {
			Expect(s.Valid()).To(BeTrue())
		}
	})
})
