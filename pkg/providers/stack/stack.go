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

// Package stack produces the deterministic ordered object graph of a lab.
// Every stack kind routes through the same recipe machinery: a typed list of
// (component, manifest factory) steps, applied in dependency order (Secret
// before PVC before Service before Deployment before Ingress).
package stack

import (
	"context"
	"fmt"
	"regexp"

	"github.com/samber/lo"
	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	v1 "github.com/labondemand/labondemand/pkg/apis/v1"
	"github.com/labondemand/labondemand/pkg/errors"
	"github.com/labondemand/labondemand/pkg/operator/options"
	"github.com/labondemand/labondemand/pkg/utils/resources"
)

// Request is the resolved input to the builder: catalog defaults applied,
// resources already clamped and floored.
type Request struct {
	UserID    int64
	Role      v1.Role
	Name      string
	Kind      v1.StackKind
	Namespace string
	// Image and Port override the stack's built-in defaults; zero values keep
	// them.
	Image       string
	Port        int32
	ServiceType corev1.ServiceType
	Resources   v1.ResourceSettings
	// VolumeSizeGi requests a data volume for single-deployment stacks.
	// Database stacks always get one.
	VolumeSizeGi int64
	Env          map[string]string
}

// Object pairs a manifest with the component it belongs to.
type Object struct {
	Component string
	Obj       client.Object
}

// Plan is the ordered object graph plus everything admission and the caller
// need to know about it before any cluster write.
type Plan struct {
	Objects []Object
	// Credentials are transient: returned once to the caller, never logged,
	// never persisted outside the Secret object itself.
	Credentials map[string]string
	// PodCount is the number of pods this plan schedules.
	PodCount int64
	// Usage is the planned consumption for ResourceQuota preflight.
	Usage corev1.ResourceList
}

// step is one entry of a stack recipe. A nil return from build skips the
// step.
type step struct {
	component string
	build     func(ctx context.Context, req *Request, creds map[string]string) client.Object
}

var nameRE = regexp.MustCompile(`^[a-z]([a-z0-9-]{0,38}[a-z0-9])?$`)

type Builder struct{}

func NewBuilder() *Builder {
	return &Builder{}
}

// Build validates the request and produces the plan. Pure except for secret
// generation; no cluster access.
func (b *Builder) Build(ctx context.Context, req *Request) (*Plan, error) {
	if !nameRE.MatchString(req.Name) {
		return nil, &errors.InvalidInputError{Field: "name", Reason: "must be a DNS label of at most 40 characters"}
	}
	if !req.Kind.Valid() {
		return nil, &errors.InvalidInputError{Field: "stack", Reason: fmt.Sprintf("unknown stack kind %q", req.Kind)}
	}
	applyDefaults(req)
	creds := credentialsFor(req.Kind)
	plan := &Plan{Credentials: creds}
	for _, s := range recipeFor(req.Kind) {
		obj := s.build(ctx, req, creds)
		if obj == nil {
			continue
		}
		labels := v1.ManagedLabels(req.UserID, req.Role, req.Name, req.Kind)
		labels[v1.LabelComponent] = s.component
		obj.SetLabels(lo.Assign(obj.GetLabels(), labels))
		obj.SetNamespace(req.Namespace)
		plan.Objects = append(plan.Objects, Object{Component: s.component, Obj: obj})
	}
	b.tally(plan)
	return plan, nil
}

// tally computes planned pods and quota usage from the generated manifests so
// preflight always agrees with what would actually be applied.
func (b *Builder) tally(plan *Plan) {
	usage := corev1.ResourceList{}
	for _, po := range plan.Objects {
		usage = resources.Merge(usage, objectUsage(po.Obj, &plan.PodCount))
	}
	plan.Usage = usage
}

// ingressEligible applies the global flag, allow-list and HTTP check.
func ingressEligible(ctx context.Context, kind v1.StackKind) bool {
	return options.FromContext(ctx).IngressEligible(kind)
}
