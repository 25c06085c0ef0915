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

// Package namespace ensures each user namespace exists and carries the
// baseline ResourceQuota and LimitRange matching the user's role. Safe to
// call on every lab creation.
package namespace

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/mitchellh/hashstructure/v2"
	"github.com/patrickmn/go-cache"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	v1 "github.com/labondemand/labondemand/pkg/apis/v1"
	"github.com/labondemand/labondemand/pkg/errors"
	"github.com/labondemand/labondemand/pkg/operator/options"
	"github.com/labondemand/labondemand/pkg/store"
	"github.com/labondemand/labondemand/pkg/utils/resources"
)

type Provider struct {
	kubeClient client.Client
	// cache maps namespace name to the hash of the last applied role values,
	// skipping redundant round trips on every lab creation.
	cache *cache.Cache
}

func NewProvider(kubeClient client.Client) *Provider {
	return &Provider{
		kubeClient: kubeClient,
		cache:      cache.New(10*time.Minute, time.Minute),
	}
}

// Ensure creates the user's namespace if absent and upserts the baseline
// quota objects. Patch failures on existing baselines are logged and
// tolerated; the namespace name is still returned so lab creation proceeds
// under the previously applied values.
func (p *Provider) Ensure(ctx context.Context, user *store.User) (string, error) {
	opts := options.FromContext(ctx)
	role := v1.ParseRole(user.Role)
	profile := v1.ProfileFor(role)
	nsName := v1.NamespaceName(opts.UserNamespacePrefix, user.ID)

	hash, err := hashstructure.Hash(profile, hashstructure.FormatV2, nil)
	if err != nil {
		return "", fmt.Errorf("hashing role profile, %w", err)
	}
	if cached, ok := p.cache.Get(nsName); ok && cached.(uint64) == hash {
		return nsName, nil
	}
	if err := p.ensureNamespace(ctx, nsName, user.ID, role); err != nil {
		return "", err
	}
	applied := true
	if err := p.ensureResourceQuota(ctx, nsName, profile.Quota); err != nil {
		log.FromContext(ctx).Error(err, "applying baseline quota", "namespace", nsName)
		applied = false
	}
	if err := p.ensureLimitRange(ctx, nsName, profile.LimitRange); err != nil {
		log.FromContext(ctx).Error(err, "applying baseline limits", "namespace", nsName)
		applied = false
	}
	// Only remember fully applied baselines; a tolerated failure retries on
	// the next Ensure.
	if applied {
		p.cache.SetDefault(nsName, hash)
	}
	return nsName, nil
}

func (p *Provider) ensureNamespace(ctx context.Context, nsName string, userID int64, role v1.Role) error {
	labels := map[string]string{
		v1.LabelManagedBy: v1.ManagedByValue,
		v1.LabelUserID:    strconv.FormatInt(userID, 10),
		v1.LabelUserRole:  string(role),
	}
	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: nsName, Labels: labels}}
	if err := p.kubeClient.Create(ctx, ns); err != nil {
		if !apierrors.IsAlreadyExists(err) {
			return errors.FromCluster(fmt.Errorf("creating namespace, %w", err))
		}
		// Role may have changed since creation; refresh the labels.
		existing := &corev1.Namespace{}
		if err := p.kubeClient.Get(ctx, types.NamespacedName{Name: nsName}, existing); err != nil {
			return errors.FromCluster(fmt.Errorf("getting namespace, %w", err))
		}
		stored := existing.DeepCopy()
		if existing.Labels == nil {
			existing.Labels = map[string]string{}
		}
		for k, val := range labels {
			existing.Labels[k] = val
		}
		if err := p.kubeClient.Patch(ctx, existing, client.MergeFrom(stored)); err != nil {
			return errors.FromCluster(fmt.Errorf("patching namespace labels, %w", err))
		}
	}
	return nil
}

func (p *Provider) ensureResourceQuota(ctx context.Context, nsName string, values v1.QuotaValues) error {
	hard := corev1.ResourceList{
		corev1.ResourcePods:                   resources.Count(values.Pods),
		corev1.ResourceRequestsCPU:            resources.CPU(values.RequestCPUMillis),
		corev1.ResourceRequestsMemory:         resources.Mem(values.RequestMemMi),
		corev1.ResourceLimitsCPU:              resources.CPU(values.LimitCPUMillis),
		corev1.ResourceLimitsMemory:           resources.Mem(values.LimitMemMi),
		corev1.ResourcePersistentVolumeClaims: resources.Count(values.PVCs),
		corev1.ResourceRequestsStorage:        resources.Storage(values.StorageGi),
	}
	quota := &corev1.ResourceQuota{
		ObjectMeta: metav1.ObjectMeta{Name: v1.BaselineQuotaName, Namespace: nsName, Labels: map[string]string{v1.LabelManagedBy: v1.ManagedByValue}},
		Spec:       corev1.ResourceQuotaSpec{Hard: hard},
	}
	if err := p.kubeClient.Create(ctx, quota); err != nil {
		if !apierrors.IsAlreadyExists(err) {
			return fmt.Errorf("creating resource quota, %w", err)
		}
		existing := &corev1.ResourceQuota{}
		if err := p.kubeClient.Get(ctx, types.NamespacedName{Namespace: nsName, Name: v1.BaselineQuotaName}, existing); err != nil {
			return fmt.Errorf("getting resource quota, %w", err)
		}
		stored := existing.DeepCopy()
		existing.Spec.Hard = hard
		if err := p.kubeClient.Patch(ctx, existing, client.MergeFrom(stored)); err != nil {
			return fmt.Errorf("patching resource quota, %w", err)
		}
	}
	return nil
}

func (p *Provider) ensureLimitRange(ctx context.Context, nsName string, values v1.LimitRangeValues) error {
	limits := []corev1.LimitRangeItem{{
		Type: corev1.LimitTypeContainer,
		DefaultRequest: corev1.ResourceList{
			corev1.ResourceCPU:    resources.CPU(values.DefaultRequestCPUMillis),
			corev1.ResourceMemory: resources.Mem(values.DefaultRequestMemMi),
		},
		Default: corev1.ResourceList{
			corev1.ResourceCPU:    resources.CPU(values.DefaultLimitCPUMillis),
			corev1.ResourceMemory: resources.Mem(values.DefaultLimitMemMi),
		},
	}}
	limitRange := &corev1.LimitRange{
		ObjectMeta: metav1.ObjectMeta{Name: v1.BaselineLimitsName, Namespace: nsName, Labels: map[string]string{v1.LabelManagedBy: v1.ManagedByValue}},
		Spec:       corev1.LimitRangeSpec{Limits: limits},
	}
	if err := p.kubeClient.Create(ctx, limitRange); err != nil {
		if !apierrors.IsAlreadyExists(err) {
			return fmt.Errorf("creating limit range, %w", err)
		}
		existing := &corev1.LimitRange{}
		if err := p.kubeClient.Get(ctx, types.NamespacedName{Namespace: nsName, Name: v1.BaselineLimitsName}, existing); err != nil {
			return fmt.Errorf("getting limit range, %w", err)
		}
		stored := existing.DeepCopy()
		existing.Spec.Limits = limits
		if err := p.kubeClient.Patch(ctx, existing, client.MergeFrom(stored)); err != nil {
			return fmt.Errorf("patching limit range, %w", err)
		}
	}
	return nil
}

// Invalidate drops the cached hash for a namespace, forcing the next Ensure
// to resync. Called when a user's role changes.
func (p *Provider) Invalidate(nsName string) {
	p.cache.Delete(nsName)
}
