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

package stack_test

import (
	"context"
	"testing"

	"github.com/samber/lo"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	v1 "github.com/labondemand/labondemand/pkg/apis/v1"
	"github.com/labondemand/labondemand/pkg/errors"
	"github.com/labondemand/labondemand/pkg/operator/options"
	"github.com/labondemand/labondemand/pkg/providers/stack"
	"github.com/labondemand/labondemand/pkg/test"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var ctx context.Context
var builder *stack.Builder

func TestStack(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Stack")
}

var _ = BeforeSuite(func() {
	builder = stack.NewBuilder()
})

var _ = BeforeEach(func() {
	ctx = test.Options()
})

func request(kind v1.StackKind) *stack.Request {
	return &stack.Request{
		UserID:    7,
		Role:      v1.RoleStudent,
		Name:      "mylab",
		Kind:      kind,
		Namespace: "labondemand-user-7",
		Resources: v1.ResourceSettings{CPURequestMillis: 500, CPULimitMillis: 1000, MemRequestMi: 512, MemLimitMi: 1024, Replicas: 1},
	}
}

func objectsOfType[T client.Object](plan *stack.Plan) []T {
	var out []T
	for _, po := range plan.Objects {
		if obj, ok := po.Obj.(T); ok {
			out = append(out, obj)
		}
	}
	return out
}

var _ = Describe("Validation", func() {
	It("should reject names that are not DNS labels", func() {
		for _, name := range []string{"", "-lead", "trail-", "UPPER", "has.dot", "waaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaytoolong"} {
			req := request(v1.StackCustom)
			req.Name = name
			_, err := builder.Build(ctx, req)
			Expect(errors.IsInvalidInput(err)).To(BeTrue(), "expected %q to be rejected", name)
		}
	})
	It("should reject unknown stack kinds", func() {
		req := request(v1.StackKind("fortran-ide"))
		_, err := builder.Build(ctx, req)
		Expect(errors.IsInvalidInput(err)).To(BeTrue())
	})
})

var _ = Describe("Recipes", func() {
	It("should order the custom stack service before deployment", func() {
		plan := lo.Must(builder.Build(ctx, request(v1.StackCustom)))
		var kinds []string
		for _, po := range plan.Objects {
			switch po.Obj.(type) {
			case *corev1.Service:
				kinds = append(kinds, "service")
			case *appsv1.Deployment:
				kinds = append(kinds, "deployment")
			}
		}
		Expect(kinds).To(Equal([]string{"service", "deployment"}))
		Expect(plan.Credentials).To(BeEmpty())
		Expect(plan.PodCount).To(Equal(int64(1)))
	})
	It("should stamp ownership labels and namespace on every object", func() {
		plan := lo.Must(builder.Build(ctx, request(v1.StackWordPress)))
		for _, po := range plan.Objects {
			Expect(po.Obj.GetNamespace()).To(Equal("labondemand-user-7"))
			Expect(po.Obj.GetLabels()).To(HaveKeyWithValue(v1.LabelManagedBy, v1.ManagedByValue))
			Expect(po.Obj.GetLabels()).To(HaveKeyWithValue(v1.LabelUserID, "7"))
			Expect(po.Obj.GetLabels()).To(HaveKeyWithValue(v1.LabelApp, "mylab"))
			Expect(po.Obj.GetLabels()).To(HaveKey(v1.LabelComponent))
		}
	})
	It("should give database stacks a secret, a db volume and generated credentials", func() {
		plan := lo.Must(builder.Build(ctx, request(v1.StackMySQL)))
		secrets := objectsOfType[*corev1.Secret](plan)
		Expect(secrets).To(HaveLen(1))
		Expect(secrets[0].Data).To(HaveKey(stack.KeyDBRootPassword))
		Expect(secrets[0].Data).To(HaveKey(stack.KeyDBPassword))

		Expect(plan.Credentials).To(HaveKey(stack.KeyDBRootPassword))
		Expect(plan.Credentials[stack.KeyDBRootPassword]).ToNot(Equal(plan.Credentials[stack.KeyDBPassword]))

		pvcs := objectsOfType[*corev1.PersistentVolumeClaim](plan)
		Expect(pvcs).To(HaveLen(1))
		Expect(pvcs[0].Name).To(Equal(stack.DBPVCName("mylab")))
	})
	It("should include phpMyAdmin alongside mysql", func() {
		plan := lo.Must(builder.Build(ctx, request(v1.StackMySQL)))
		deployments := objectsOfType[*appsv1.Deployment](plan)
		Expect(deployments).To(HaveLen(2))
		Expect(deployments[0].Name).To(Equal(stack.DBDeploymentName("mylab")))
		Expect(deployments[1].Name).To(Equal(stack.PMADeploymentName("mylab")))
		Expect(plan.PodCount).To(Equal(int64(2)))
	})
	It("should wire wordpress to its database through the secret", func() {
		plan := lo.Must(builder.Build(ctx, request(v1.StackWordPress)))
		deployments := objectsOfType[*appsv1.Deployment](plan)
		Expect(deployments).To(HaveLen(2))
		web := deployments[1]
		envNames := lo.Map(web.Spec.Template.Spec.Containers[0].Env, func(e corev1.EnvVar, _ int) string { return e.Name })
		Expect(envNames).To(ContainElements("WORDPRESS_DB_HOST", "WORDPRESS_DB_PASSWORD", "WORDPRESS_DB_USER", "WORDPRESS_DB_NAME"))
		for _, env := range web.Spec.Template.Spec.Containers[0].Env {
			// Credentials travel by secret reference, never by value.
			if env.Name == "WORDPRESS_DB_PASSWORD" {
				Expect(env.Value).To(BeEmpty())
				Expect(env.ValueFrom.SecretKeyRef.Name).To(Equal(stack.SecretName("mylab")))
			}
		}
	})
	It("should run every container locked down", func() {
		plan := lo.Must(builder.Build(ctx, request(v1.StackLAMP)))
		for _, d := range objectsOfType[*appsv1.Deployment](plan) {
			sc := d.Spec.Template.Spec.Containers[0].SecurityContext
			Expect(lo.FromPtr(sc.RunAsNonRoot)).To(BeTrue())
			Expect(lo.FromPtr(sc.AllowPrivilegeEscalation)).To(BeFalse())
			Expect(sc.Capabilities.Drop).To(ContainElement(corev1.Capability("ALL")))
		}
	})
	It("should skip the data volume when none is requested", func() {
		plan := lo.Must(builder.Build(ctx, request(v1.StackVSCode)))
		Expect(objectsOfType[*corev1.PersistentVolumeClaim](plan)).To(BeEmpty())

		req := request(v1.StackVSCode)
		req.VolumeSizeGi = 5
		plan = lo.Must(builder.Build(ctx, req))
		Expect(objectsOfType[*corev1.PersistentVolumeClaim](plan)).To(HaveLen(1))
	})
	It("should tally usage across all components", func() {
		plan := lo.Must(builder.Build(ctx, request(v1.StackMySQL)))
		cpu := plan.Usage[corev1.ResourceRequestsCPU]
		// Primary (the database) plus phpMyAdmin.
		Expect(cpu.MilliValue()).To(Equal(int64(500 + 250)))
		pods := plan.Usage[corev1.ResourcePods]
		Expect(pods.Value()).To(Equal(int64(2)))
	})
})

var _ = Describe("Ingress", func() {
	ingressOn := func(opts *options.Options) {
		opts.IngressEnabled = true
		opts.IngressBaseDomain = "labs.example.edu"
		opts.IngressClassName = "nginx"
		opts.IngressTLSSecret = "labs-wildcard"
	}
	It("should emit no ingress when disabled", func() {
		plan := lo.Must(builder.Build(ctx, request(v1.StackVSCode)))
		Expect(objectsOfType[*networkingv1.Ingress](plan)).To(BeEmpty())
	})
	It("should emit an ingress with derived host, class and TLS when eligible", func() {
		ctx = test.Options(ingressOn)
		plan := lo.Must(builder.Build(ctx, request(v1.StackVSCode)))
		ingresses := objectsOfType[*networkingv1.Ingress](plan)
		Expect(ingresses).To(HaveLen(1))
		Expect(ingresses[0].Spec.Rules[0].Host).To(Equal("mylab-u7.labs.example.edu"))
		Expect(lo.FromPtr(ingresses[0].Spec.IngressClassName)).To(Equal("nginx"))
		Expect(ingresses[0].Spec.TLS[0].SecretName).To(Equal("labs-wildcard"))
	})
	It("should downgrade the user-facing service to ClusterIP behind an ingress", func() {
		ctx = test.Options(ingressOn)
		plan := lo.Must(builder.Build(ctx, request(v1.StackVSCode)))
		services := objectsOfType[*corev1.Service](plan)
		Expect(services).To(HaveLen(1))
		Expect(services[0].Spec.Type).To(Equal(corev1.ServiceTypeClusterIP))
	})
	It("should honor the exclusion list over the allow list", func() {
		ctx = test.Options(ingressOn, func(opts *options.Options) {
			opts.IngressExcludedTypes = []string{string(v1.StackVSCode)}
		})
		plan := lo.Must(builder.Build(ctx, request(v1.StackVSCode)))
		Expect(objectsOfType[*networkingv1.Ingress](plan)).To(BeEmpty())
	})
	It("should never front a bare mysql service with an ingress", func() {
		ctx = test.Options(ingressOn)
		plan := lo.Must(builder.Build(ctx, request(v1.StackMySQL)))
		// mysql is not in the default allow list; phpMyAdmin stays NodePort.
		Expect(objectsOfType[*networkingv1.Ingress](plan)).To(BeEmpty())
	})
})
