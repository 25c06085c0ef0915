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

// Package orchestrator materializes labs: it admits a request, records it,
// applies the object graph in dependency order and manages the lab's
// lifecycle operations (pause, resume, delete). Mid-apply failures are never
// rolled back; the lifecycle reconciler converges state.
package orchestrator

import (
	"context"
	"fmt"
	"strconv"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	v1 "github.com/labondemand/labondemand/pkg/apis/v1"
	"github.com/labondemand/labondemand/pkg/admission"
	"github.com/labondemand/labondemand/pkg/audit"
	"github.com/labondemand/labondemand/pkg/errors"
	"github.com/labondemand/labondemand/pkg/operator/options"
	"github.com/labondemand/labondemand/pkg/providers/catalog"
	"github.com/labondemand/labondemand/pkg/providers/namespace"
	"github.com/labondemand/labondemand/pkg/providers/stack"
	"github.com/labondemand/labondemand/pkg/store"
)

type Orchestrator struct {
	kubeClient client.Client
	store      *store.Store
	clk        clock.Clock
	recorder   audit.Recorder
	catalog    *catalog.Provider
	namespaces *namespace.Provider
	admission  *admission.Pipeline
	builder    *stack.Builder
}

func New(kubeClient client.Client, s *store.Store, clk clock.Clock, recorder audit.Recorder,
	catalogProvider *catalog.Provider, namespaceProvider *namespace.Provider, pipeline *admission.Pipeline) *Orchestrator {
	return &Orchestrator{
		kubeClient: kubeClient,
		store:      s,
		clk:        clk,
		recorder:   recorder,
		catalog:    catalogProvider,
		namespaces: namespaceProvider,
		admission:  pipeline,
		builder:    stack.NewBuilder(),
	}
}

// CreateRequest is a user's "create a lab" intent, before clamping.
type CreateRequest struct {
	Name         string
	Kind         v1.StackKind
	TemplateKey  string
	Resources    v1.ResourceSettings
	VolumeSizeGi int64
	Env          map[string]string
}

// Access describes one way into a running lab.
type Access struct {
	Component string
	// Kind is "ingress" or "nodeport".
	Kind  string
	Value string
}

// CreateResult carries the created inventory back to the caller. Credentials
// appear here once and nowhere else.
type CreateResult struct {
	Record      *store.Deployment
	Objects     []string
	Credentials map[string]string
	Access      []Access
}

// Create runs the full pipeline: namespace baseline, clamp, floors,
// admission, record insert, ordered apply. On admission failure nothing is
// mutated. On mid-apply failure the row stays active for the reconciler to
// converge.
func (o *Orchestrator) Create(ctx context.Context, user *store.User, req *CreateRequest) (result *CreateResult, err error) {
	start := o.clk.Now()
	defer func() { observeOperation("create", o.clk.Since(start).Seconds(), err) }()
	role := v1.ParseRole(user.Role)
	nsName, err := o.namespaces.Ensure(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("ensuring namespace, %w", err)
	}
	launch, err := o.catalog.ResolveLaunch(ctx, req.Kind, req.TemplateKey, role)
	if err != nil {
		return nil, err
	}
	// Clamp to role ceilings first, then raise to runtime floors. Never the
	// other way around.
	settings := admission.Clamp(req.Resources, role)
	settings = admission.ApplyFloors(settings, launch.Floors)

	plan, err := o.builder.Build(ctx, &stack.Request{
		UserID:       user.ID,
		Role:         role,
		Name:         req.Name,
		Kind:         req.Kind,
		Namespace:    nsName,
		Image:        launch.Image,
		Port:         launch.Port,
		ServiceType:  corev1.ServiceType(launch.ServiceType),
		Resources:    settings,
		VolumeSizeGi: req.VolumeSizeGi,
		Env:          req.Env,
	})
	if err != nil {
		return nil, err
	}

	record, err := o.store.GetDeployment(ctx, nsName, req.Name)
	switch {
	case errors.IsNotFound(err):
		// New lab: admit before any cluster mutation, then record it.
		if err := o.admission.Admit(ctx, user, nsName, plan); err != nil {
			return nil, err
		}
		record = o.newRecord(ctx, user, req, nsName, plan)
		if err := o.store.InsertDeployment(ctx, record); err != nil {
			return nil, fmt.Errorf("recording deployment, %w", err)
		}
		o.recorder.Publish(ctx, audit.DeploymentCreated(user.ID, nsName, req.Name))
	case err != nil:
		return nil, err
	case record.UserID != user.ID:
		return nil, &errors.ConflictError{Resource: "deployment", Name: req.Name, Reason: "owned by another user"}
	case record.Status == string(v1.StatusDeleted):
		// Recreation under a previously used name revives the soft-deleted
		// row, so it admits like a brand new lab.
		if err := o.admission.Admit(ctx, user, nsName, plan); err != nil {
			return nil, err
		}
		fresh := o.newRecord(ctx, user, req, nsName, plan)
		fresh.ID = record.ID
		if err := o.store.ReviveDeployment(ctx, fresh); err != nil {
			return nil, fmt.Errorf("reviving deployment, %w", err)
		}
		record = fresh
		o.recorder.Publish(ctx, audit.DeploymentCreated(user.ID, nsName, req.Name))
	case record.Status != string(v1.StatusActive):
		return nil, &errors.ConflictError{Resource: "deployment", Name: req.Name, Reason: fmt.Sprintf("record is %s", record.Status)}
	default:
		// Reapply of a partially created lab: skip admission (the row is
		// already counted in observed usage) and converge the object graph.
	}

	result = &CreateResult{Record: record, Credentials: plan.Credentials}
	for _, po := range plan.Objects {
		if err := o.apply(ctx, po); err != nil {
			// No rollback: report, keep the row active, let the reconciler
			// converge.
			log.FromContext(ctx).Error(err, "applying lab object", "namespace", nsName, "lab", req.Name, "component", po.Component)
			return result, err
		}
		result.Objects = append(result.Objects, fmt.Sprintf("%T/%s", po.Obj, po.Obj.GetName()))
	}
	o.finalizeAccess(ctx, plan, result, user.ID, req)
	return result, nil
}

func (o *Orchestrator) newRecord(ctx context.Context, user *store.User, req *CreateRequest, nsName string, plan *stack.Plan) *store.Deployment {
	now := o.clk.Now().UTC()
	record := &store.Deployment{
		UserID:        user.ID,
		Name:          req.Name,
		Stack:         string(req.Kind),
		Namespace:     nsName,
		Status:        string(v1.StatusActive),
		CreatedAt:     now,
		CPURequested:  planCPU(plan),
		MemRequested:  planMem(plan),
		PodsRequested: plan.PodCount,
	}
	if ttl := options.FromContext(ctx).TTLFor(v1.ParseRole(user.Role)); ttl > 0 {
		expires := now.Add(ttl)
		record.ExpiresAt = &expires
	}
	return record
}

// finalizeAccess reads back the services for assigned node ports and derives
// ingress hosts. Secret adoption may have preserved older credentials; the
// cluster secret is authoritative for what the caller gets.
func (o *Orchestrator) finalizeAccess(ctx context.Context, plan *stack.Plan, result *CreateResult, userID int64, req *CreateRequest) {
	opts := options.FromContext(ctx)
	for _, po := range plan.Objects {
		switch obj := po.Obj.(type) {
		case *corev1.Secret:
			existing := &corev1.Secret{}
			if err := o.kubeClient.Get(ctx, types.NamespacedName{Namespace: obj.Namespace, Name: obj.Name}, existing); err == nil {
				creds := map[string]string{}
				for k, v := range existing.Data {
					creds[k] = string(v)
				}
				result.Credentials = creds
			}
		case *corev1.Service:
			if obj.Spec.Type != corev1.ServiceTypeNodePort {
				continue
			}
			svc := &corev1.Service{}
			if err := o.kubeClient.Get(ctx, types.NamespacedName{Namespace: obj.Namespace, Name: obj.Name}, svc); err != nil {
				continue
			}
			for _, port := range svc.Spec.Ports {
				if port.NodePort != 0 {
					result.Access = append(result.Access, Access{Component: po.Component, Kind: "nodeport", Value: strconv.Itoa(int(port.NodePort))})
				}
			}
		}
	}
	if opts.IngressEligible(req.Kind) {
		result.Access = append(result.Access, Access{Kind: "ingress", Value: v1.IngressHost(req.Name, userID, opts.IngressBaseDomain)})
	}
}

func planCPU(plan *stack.Plan) int64 {
	q := plan.Usage[corev1.ResourceRequestsCPU]
	return q.MilliValue()
}

func planMem(plan *stack.Plan) int64 {
	q := plan.Usage[corev1.ResourceRequestsMemory]
	return q.Value() / (1024 * 1024)
}

// DeleteOptions control whether data-bearing objects survive.
type DeleteOptions struct {
	// DeletePersistent removes Secrets and PVCs too. When false the lab can
	// be reinstalled without data loss.
	DeletePersistent bool
}

// Delete removes the lab's cluster objects and soft-deletes the record.
func (o *Orchestrator) Delete(ctx context.Context, nsName, name string, opts DeleteOptions) (err error) {
	start := o.clk.Now()
	defer func() { observeOperation("delete", o.clk.Since(start).Seconds(), err) }()
	record, err := o.store.GetDeployment(ctx, nsName, name)
	if err != nil {
		return err
	}
	if record.Status == string(v1.StatusDeleted) {
		return &errors.ConflictError{Resource: "deployment", Name: name, Reason: "already deleted"}
	}
	if err := o.deleteObjects(ctx, nsName, name, opts); err != nil {
		return err
	}
	if err := o.store.MarkDeleted(ctx, record.ID, o.clk.Now()); err != nil {
		return err
	}
	o.recorder.Publish(ctx, audit.DeploymentDeleted(record.UserID, nsName, name))
	return nil
}

// PurgeUser tears down everything a user owns: every non-deleted lab with its
// persistent data, then the user row itself (override rows cascade at the SQL
// level). Lab deletion failures abort before the row is removed so nothing is
// orphaned silently.
func (o *Orchestrator) PurgeUser(ctx context.Context, user *store.User) error {
	records, err := o.store.ListDeploymentsByUser(ctx, user.ID)
	if err != nil {
		return err
	}
	for _, record := range records {
		if err := o.Delete(ctx, record.Namespace, record.Name, DeleteOptions{DeletePersistent: true}); err != nil {
			return fmt.Errorf("purging lab %s/%s, %w", record.Namespace, record.Name, err)
		}
	}
	if err := o.store.DeleteUser(ctx, user.ID); err != nil {
		return err
	}
	o.namespaces.Invalidate(v1.NamespaceName(options.FromContext(ctx).UserNamespacePrefix, user.ID))
	o.recorder.Publish(ctx, audit.UserSessionsPurged(user.ID))
	return nil
}

// deleteObjects removes the lab's cluster objects by label selector.
// Workloads and routing always go; Secrets and PVCs only when the caller
// wants the data gone. Failures on one kind do not stop the others.
func (o *Orchestrator) deleteObjects(ctx context.Context, nsName, name string, opts DeleteOptions) error {
	selector := client.MatchingLabels{v1.LabelManagedBy: v1.ManagedByValue, v1.LabelApp: name}
	inNamespace := client.InNamespace(nsName)
	targets := []struct {
		kind       string
		obj        client.Object
		persistent bool
	}{
		{"Deployment", &appsv1.Deployment{}, false},
		{"Service", &corev1.Service{}, false},
		{"Ingress", &networkingv1.Ingress{}, false},
		{"Secret", &corev1.Secret{}, true},
		{"PersistentVolumeClaim", &corev1.PersistentVolumeClaim{}, true},
	}
	var succeeded []string
	var failed []errors.ComponentResult
	for _, t := range targets {
		if t.persistent && !opts.DeletePersistent {
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, options.FromContext(ctx).ClusterCallTimeout)
		err := o.kubeClient.DeleteAllOf(callCtx, t.obj, inNamespace, selector)
		cancel()
		if err != nil && !apierrors.IsNotFound(err) {
			failed = append(failed, errors.ComponentResult{Component: t.kind, Err: errors.FromCluster(err)})
			continue
		}
		succeeded = append(succeeded, t.kind)
	}
	return errors.Partial("delete", succeeded, failed)
}
