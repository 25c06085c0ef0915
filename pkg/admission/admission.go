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

// Package admission runs the cascading pre-mutation checks: logical quota
// against the database's view of usage, then preflight against the
// namespace's cluster-side ResourceQuota. Both checks are read-only; the
// cluster quota remains the final authority for racing requests.
package admission

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	v1 "github.com/labondemand/labondemand/pkg/apis/v1"
	"github.com/labondemand/labondemand/pkg/errors"
	"github.com/labondemand/labondemand/pkg/metrics"
	"github.com/labondemand/labondemand/pkg/providers/quota"
	"github.com/labondemand/labondemand/pkg/providers/stack"
	"github.com/labondemand/labondemand/pkg/store"
)

var decisionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: metrics.AdmissionSubsystem,
		Name:      "decisions_total",
		Help:      "Admission decisions, partitioned by outcome and violated dimension.",
	},
	[]string{"outcome", "dimension"},
)

func init() {
	crmetrics.Registry.MustRegister(decisionsTotal)
}

type Pipeline struct {
	store      *store.Store
	resolver   *quota.Resolver
	kubeClient client.Client
}

func NewPipeline(s *store.Store, resolver *quota.Resolver, kubeClient client.Client) *Pipeline {
	return &Pipeline{store: s, resolver: resolver, kubeClient: kubeClient}
}

// Admit runs the logical quota check, then the ResourceQuota preflight, in
// that order. A nil return admits the plan. The checks are not transactional
// with the subsequent mutation.
func (p *Pipeline) Admit(ctx context.Context, user *store.User, nsName string, plan *stack.Plan) error {
	if err := p.logicalQuota(ctx, user, plan); err != nil {
		p.count(err)
		return err
	}
	if err := p.preflight(ctx, nsName, plan); err != nil {
		p.count(err)
		return err
	}
	decisionsTotal.WithLabelValues("allowed", "").Inc()
	return nil
}

func (p *Pipeline) count(err error) {
	qe := &errors.QuotaExceededError{}
	if stderrors.As(err, &qe) {
		decisionsTotal.WithLabelValues("denied", qe.Dimension).Inc()
		return
	}
	decisionsTotal.WithLabelValues("error", "").Inc()
}

// logicalQuota compares DB-observed usage plus the plan against the user's
// effective limits. Observed values come from active deployment rows, not
// live pod metrics.
func (p *Pipeline) logicalQuota(ctx context.Context, user *store.User, plan *stack.Plan) error {
	limits, err := p.resolver.EffectiveLimits(ctx, user)
	if err != nil {
		return err
	}
	observed, err := p.store.ObservedUsage(ctx, user.ID)
	if err != nil {
		return err
	}
	planCPU := plan.Usage[corev1.ResourceRequestsCPU]
	planMem := plan.Usage[corev1.ResourceRequestsMemory]
	checks := []struct {
		dimension string
		observed  int64
		requested int64
		limit     int64
	}{
		{"max_apps", observed.Apps, 1, limits.MaxApps},
		{"max_cpu_millis", observed.CPUMillis, planCPU.MilliValue(), limits.MaxCPUMillis},
		{"max_mem_mi", observed.MemMi, planMem.Value() / (1024 * 1024), limits.MaxMemMi},
		{"max_pods", observed.Pods, plan.PodCount, limits.MaxPods},
	}
	for _, c := range checks {
		if c.observed+c.requested > c.limit {
			return &errors.QuotaExceededError{Dimension: c.dimension, Observed: c.observed, Requested: c.requested, Limit: c.limit}
		}
	}
	return nil
}

// preflight rejects the plan when any resource named in the namespace
// ResourceQuota would overflow: used + planned > hard. The first violated
// resource is named with both sides of the inequality. A missing quota
// object admits; the apiserver still enforces whatever exists at apply time.
func (p *Pipeline) preflight(ctx context.Context, nsName string, plan *stack.Plan) error {
	rq := &corev1.ResourceQuota{}
	if err := p.kubeClient.Get(ctx, types.NamespacedName{Namespace: nsName, Name: v1.BaselineQuotaName}, rq); err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}
		return errors.FromCluster(fmt.Errorf("reading resource quota, %w", err))
	}
	names := make([]string, 0, len(rq.Status.Hard))
	for name := range rq.Status.Hard {
		names = append(names, string(name))
	}
	sort.Strings(names)
	for _, name := range names {
		resourceName := corev1.ResourceName(name)
		planned, ok := plan.Usage[resourceName]
		if !ok {
			continue
		}
		hard := rq.Status.Hard[resourceName]
		used := rq.Status.Used[resourceName]
		total := used.DeepCopy()
		total.Add(planned)
		if total.Cmp(hard) > 0 {
			return &errors.QuotaExceededError{
				Dimension: name,
				Observed:  scaled(resourceName, used),
				Requested: scaled(resourceName, planned),
				Limit:     scaled(resourceName, hard),
			}
		}
	}
	return nil
}

// scaled renders quantities in the unit users reason about: millicores for
// CPU, mebibytes for memory and storage, plain counts otherwise.
func scaled(name corev1.ResourceName, quantity resource.Quantity) int64 {
	switch name {
	case corev1.ResourceRequestsCPU, corev1.ResourceLimitsCPU, corev1.ResourceCPU:
		return quantity.MilliValue()
	case corev1.ResourceRequestsMemory, corev1.ResourceLimitsMemory, corev1.ResourceMemory, corev1.ResourceRequestsStorage:
		return quantity.Value() / (1024 * 1024)
	default:
		return quantity.Value()
	}
}
