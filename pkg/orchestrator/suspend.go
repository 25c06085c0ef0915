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
	"strconv"

	"github.com/samber/lo"
	appsv1 "k8s.io/api/apps/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	v1 "github.com/labondemand/labondemand/pkg/apis/v1"
	"github.com/labondemand/labondemand/pkg/audit"
	"github.com/labondemand/labondemand/pkg/errors"
)

// Pause scales every component of an active lab to zero, stashing the prior
// replica count in an annotation so Resume can restore it. Components carrying
// the pause-disabled annotation are left running. The record flips to paused
// only when every eligible component scaled down; on partial failure the row
// stays active and the reconciler retries on its next pass.
func (o *Orchestrator) Pause(ctx context.Context, nsName, name string) (err error) {
	start := o.clk.Now()
	defer func() { observeOperation("pause", o.clk.Since(start).Seconds(), err) }()
	record, err := o.store.GetDeployment(ctx, nsName, name)
	if err != nil {
		return err
	}
	if record.Status != string(v1.StatusActive) {
		return &errors.InvalidInputError{Field: "status", Reason: fmt.Sprintf("cannot pause a %s deployment", record.Status)}
	}
	deployments, err := o.labDeployments(ctx, nsName, name)
	if err != nil {
		return err
	}
	var succeeded []string
	var failed []errors.ComponentResult
	for i := range deployments {
		d := &deployments[i]
		component := d.Labels[v1.LabelComponent]
		if d.Annotations[v1.AnnotationPauseDisabled] == "true" {
			continue
		}
		if err := o.pauseOne(ctx, d); err != nil {
			failed = append(failed, errors.ComponentResult{Component: component, Err: err})
			continue
		}
		succeeded = append(succeeded, component)
	}
	if err := errors.Partial("pause", succeeded, failed); err != nil {
		return err
	}
	if err := o.store.MarkPaused(ctx, record.ID, o.clk.Now()); err != nil {
		return err
	}
	o.recorder.Publish(ctx, audit.DeploymentPaused(record.UserID, nsName, name))
	return nil
}

func (o *Orchestrator) pauseOne(ctx context.Context, d *appsv1.Deployment) error {
	replicas := int32(1)
	if d.Spec.Replicas != nil {
		replicas = *d.Spec.Replicas
	}
	if replicas == 0 {
		// Already scaled down, nothing to stash.
		return nil
	}
	stored := d.DeepCopy()
	d.Annotations = lo.Assign(d.Annotations, map[string]string{
		v1.AnnotationPausedReplicas: strconv.Itoa(int(replicas)),
	})
	d.Spec.Replicas = lo.ToPtr(int32(0))
	if err := o.kubeClient.Patch(ctx, d, client.MergeFrom(stored)); err != nil {
		return errors.FromCluster(fmt.Errorf("scaling down %s, %w", d.Name, err))
	}
	return nil
}

// Resume restores every paused component to its stashed replica count,
// defaulting to one replica when the annotation is missing. The record flips
// back to active only when every component scaled up.
func (o *Orchestrator) Resume(ctx context.Context, nsName, name string) (err error) {
	start := o.clk.Now()
	defer func() { observeOperation("resume", o.clk.Since(start).Seconds(), err) }()
	record, err := o.store.GetDeployment(ctx, nsName, name)
	if err != nil {
		return err
	}
	if record.Status != string(v1.StatusPaused) {
		return &errors.InvalidInputError{Field: "status", Reason: fmt.Sprintf("cannot resume a %s deployment", record.Status)}
	}
	deployments, err := o.labDeployments(ctx, nsName, name)
	if err != nil {
		return err
	}
	var succeeded []string
	var failed []errors.ComponentResult
	for i := range deployments {
		d := &deployments[i]
		component := d.Labels[v1.LabelComponent]
		if err := o.resumeOne(ctx, d); err != nil {
			failed = append(failed, errors.ComponentResult{Component: component, Err: err})
			continue
		}
		succeeded = append(succeeded, component)
	}
	if err := errors.Partial("resume", succeeded, failed); err != nil {
		return err
	}
	if err := o.store.MarkActive(ctx, record.ID, o.clk.Now()); err != nil {
		return err
	}
	o.recorder.Publish(ctx, audit.DeploymentResumed(record.UserID, nsName, name))
	return nil
}

func (o *Orchestrator) resumeOne(ctx context.Context, d *appsv1.Deployment) error {
	replicas := int32(1)
	if raw, ok := d.Annotations[v1.AnnotationPausedReplicas]; ok {
		if parsed, err := strconv.ParseInt(raw, 10, 32); err == nil && parsed > 0 {
			replicas = int32(parsed)
		}
	}
	if d.Spec.Replicas != nil && *d.Spec.Replicas > 0 {
		// Already running; just clear any stale stash.
		if _, ok := d.Annotations[v1.AnnotationPausedReplicas]; !ok {
			return nil
		}
	}
	stored := d.DeepCopy()
	delete(d.Annotations, v1.AnnotationPausedReplicas)
	d.Spec.Replicas = lo.ToPtr(replicas)
	if err := o.kubeClient.Patch(ctx, d, client.MergeFrom(stored)); err != nil {
		return errors.FromCluster(fmt.Errorf("scaling up %s, %w", d.Name, err))
	}
	return nil
}

// labDeployments lists the managed Deployments of one lab.
func (o *Orchestrator) labDeployments(ctx context.Context, nsName, name string) ([]appsv1.Deployment, error) {
	list := &appsv1.DeploymentList{}
	if err := o.kubeClient.List(ctx, list, client.InNamespace(nsName), client.MatchingLabels{
		v1.LabelManagedBy: v1.ManagedByValue,
		v1.LabelApp:       name,
	}); err != nil {
		return nil, errors.FromCluster(fmt.Errorf("listing deployments, %w", err))
	}
	return list.Items, nil
}
