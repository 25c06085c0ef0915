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

package orchestrator

import (
	"context"
	"fmt"

	"github.com/avast/retry-go"
	"github.com/samber/lo"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/labondemand/labondemand/pkg/errors"
	"github.com/labondemand/labondemand/pkg/operator/options"
	"github.com/labondemand/labondemand/pkg/providers/stack"
)

// apply upserts one object of the plan. Idempotent: on "already exists" the
// existing object is fetched and its labels and annotations are patched to
// match expectations. Secret data is never rewritten on conflict, so
// credentials survive reapplies verbatim.
func (o *Orchestrator) apply(ctx context.Context, po stack.Object) error {
	callCtx, cancel := context.WithTimeout(ctx, options.FromContext(ctx).ClusterCallTimeout)
	defer cancel()
	err := retry.Do(func() error {
		err := o.kubeClient.Create(callCtx, po.Obj)
		if err == nil {
			return nil
		}
		if apierrors.IsAlreadyExists(err) {
			return o.adopt(callCtx, po)
		}
		return err
	},
		retry.Context(callCtx),
		retry.Attempts(3),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			// Retry transient apiserver failures only; semantic failures
			// (invalid, forbidden, conflict) never resolve on their own.
			return apierrors.IsServerTimeout(err) || apierrors.IsTimeout(err) ||
				apierrors.IsTooManyRequests(err) || apierrors.IsInternalError(err) ||
				apierrors.IsServiceUnavailable(err)
		}),
	)
	if err != nil {
		return errors.FromCluster(fmt.Errorf("applying %T %s, %w", po.Obj, po.Obj.GetName(), err))
	}
	return nil
}

// adopt reconciles an already existing object: refresh labels and
// annotations, leave the rest alone. A Secret that carries no data at all is
// the only unreconcilable case and surfaces as a conflict.
func (o *Orchestrator) adopt(ctx context.Context, po stack.Object) error {
	existing := po.Obj.DeepCopyObject().(client.Object)
	if err := o.kubeClient.Get(ctx, types.NamespacedName{Namespace: po.Obj.GetNamespace(), Name: po.Obj.GetName()}, existing); err != nil {
		return err
	}
	if secret, ok := existing.(*corev1.Secret); ok && len(secret.Data) == 0 {
		return &errors.ConflictError{Resource: "Secret", Name: po.Obj.GetName(), Reason: "existing secret carries no data and cannot be adopted"}
	}
	stored := existing.DeepCopyObject().(client.Object)
	existing.SetLabels(lo.Assign(existing.GetLabels(), po.Obj.GetLabels()))
	desired := po.Obj.GetAnnotations()
	if len(desired) > 0 {
		existing.SetAnnotations(lo.Assign(existing.GetAnnotations(), desired))
	}
	return o.kubeClient.Patch(ctx, existing, client.MergeFrom(stored))
}
