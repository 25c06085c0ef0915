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

	"github.com/samber/lo"
	appsv1 "k8s.io/api/apps/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	v1 "github.com/labondemand/labondemand/pkg/apis/v1"
	"github.com/labondemand/labondemand/pkg/errors"
	"github.com/labondemand/labondemand/pkg/operator/options"
	"github.com/labondemand/labondemand/pkg/store"
)

// List returns the user's non-deleted lab records and heals drift on the way:
// a lab present in the cluster but missing its record gets one synthesized
// from the cluster's view, with the expiry anchored to the cluster creation
// timestamp rather than to now. Healing failures are logged, never fatal to
// the listing.
func (o *Orchestrator) List(ctx context.Context, user *store.User) ([]store.Deployment, error) {
	records, err := o.store.ListDeploymentsByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	nsName := v1.NamespaceName(options.FromContext(ctx).UserNamespacePrefix, user.ID)
	healed, err := o.heal(ctx, user, nsName, records)
	if err != nil {
		log.FromContext(ctx).Error(err, "healing deployment records", "namespace", nsName)
		return records, nil
	}
	return append(records, healed...), nil
}

// heal inserts records for managed labs observed in the cluster that the
// store does not know about.
func (o *Orchestrator) heal(ctx context.Context, user *store.User, nsName string, records []store.Deployment) ([]store.Deployment, error) {
	list := &appsv1.DeploymentList{}
	if err := o.kubeClient.List(ctx, list, client.InNamespace(nsName), client.MatchingLabels{
		v1.LabelManagedBy: v1.ManagedByValue,
	}); err != nil {
		return nil, errors.FromCluster(fmt.Errorf("listing cluster deployments, %w", err))
	}
	known := lo.SliceToMap(records, func(d store.Deployment) (string, struct{}) { return d.Name, struct{}{} })
	byLab := lo.GroupBy(list.Items, func(d appsv1.Deployment) string { return d.Labels[v1.LabelApp] })

	var healed []store.Deployment
	for lab, components := range byLab {
		if lab == "" {
			continue
		}
		if _, ok := known[lab]; ok {
			continue
		}
		record := o.recordFromCluster(ctx, user, lab, nsName, components)
		if err := o.store.InsertDeployment(ctx, record); err != nil {
			log.FromContext(ctx).Error(err, "inserting healed record", "namespace", nsName, "lab", lab)
			continue
		}
		healed = append(healed, *record)
	}
	return healed, nil
}

// recordFromCluster synthesizes a record for an unrecorded lab. CreatedAt is
// the oldest component's creation timestamp so a pre-existing lab does not
// get a fresh TTL just because it was rediscovered.
func (o *Orchestrator) recordFromCluster(ctx context.Context, user *store.User, lab, nsName string, components []appsv1.Deployment) *store.Deployment {
	oldest := components[0].CreationTimestamp.Time
	var cpuMillis, memMi, pods int64
	stackKind := components[0].Labels[v1.LabelStack]
	for _, d := range components {
		if d.CreationTimestamp.Time.Before(oldest) {
			oldest = d.CreationTimestamp.Time
		}
		replicas := int64(1)
		if d.Spec.Replicas != nil {
			replicas = int64(*d.Spec.Replicas)
		}
		pods += replicas
		for _, c := range d.Spec.Template.Spec.Containers {
			cpuMillis += c.Resources.Requests.Cpu().MilliValue() * replicas
			memMi += c.Resources.Requests.Memory().Value() / (1024 * 1024) * replicas
		}
	}
	record := &store.Deployment{
		UserID:        user.ID,
		Name:          lab,
		Stack:         stackKind,
		Namespace:     nsName,
		Status:        string(v1.StatusActive),
		CreatedAt:     oldest.UTC(),
		CPURequested:  cpuMillis,
		MemRequested:  memMi,
		PodsRequested: pods,
	}
	if ttl := options.FromContext(ctx).TTLFor(v1.ParseRole(user.Role)); ttl > 0 {
		expires := oldest.UTC().Add(ttl)
		record.ExpiresAt = &expires
	}
	return record
}
