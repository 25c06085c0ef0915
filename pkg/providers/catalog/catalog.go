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

// Package catalog persists templates and runtime configurations and resolves
// the effective launch parameters of a stack kind. Catalog entries are
// advisory inputs; they never override admission limits, and deactivating an
// entry does not affect running labs.
package catalog

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/samber/lo"

	v1 "github.com/labondemand/labondemand/pkg/apis/v1"
	"github.com/labondemand/labondemand/pkg/errors"
	"github.com/labondemand/labondemand/pkg/store"
)

// Floors are per-stack minimum resources applied after clamping, so a
// too-small user request is raised to a working floor.
type Floors struct {
	MinCPURequestMillis int64
	MinCPULimitMillis   int64
	MinMemRequestMi     int64
	MinMemLimitMi       int64
}

// LaunchDefaults are the effective parameters for materializing a stack.
type LaunchDefaults struct {
	Image       string
	Port        int32
	ServiceType string
	Floors      Floors
}

type Provider struct {
	store *store.Store
	cache *cache.Cache
}

func NewProvider(s *store.Store) *Provider {
	return &Provider{
		store: s,
		cache: cache.New(time.Minute, 5*time.Minute),
	}
}

// ListTemplates returns catalog entries. Student reads see only entries
// flagged both active and allowed for students.
func (p *Provider) ListTemplates(ctx context.Context, activeOnly bool, role v1.Role) ([]store.Template, error) {
	templates, err := p.store.ListTemplates(ctx, activeOnly)
	if err != nil {
		return nil, err
	}
	if role == v1.RoleStudent {
		templates = lo.Filter(templates, func(t store.Template, _ int) bool {
			return t.Active && t.AllowedForStudents
		})
	}
	return templates, nil
}

func (p *Provider) GetTemplate(ctx context.Context, key string, role v1.Role) (*store.Template, error) {
	t, err := p.store.GetTemplate(ctx, key)
	if err != nil {
		return nil, err
	}
	if role == v1.RoleStudent && !(t.Active && t.AllowedForStudents) {
		return nil, errors.NewNotFound("template", key)
	}
	return t, nil
}

func (p *Provider) ListRuntimes(ctx context.Context, activeOnly bool) ([]store.RuntimeConfig, error) {
	return p.store.ListRuntimeConfigs(ctx, activeOnly)
}

func (p *Provider) GetRuntime(ctx context.Context, key string) (*store.RuntimeConfig, error) {
	return p.store.GetRuntimeConfig(ctx, key)
}

// FloorsFor resolves the minimum resource floors of a stack kind. A missing
// or inactive runtime config means no floors.
func (p *Provider) FloorsFor(ctx context.Context, kind v1.StackKind) (Floors, error) {
	if cached, ok := p.cache.Get("floors/" + string(kind)); ok {
		return cached.(Floors), nil
	}
	rc, err := p.store.GetRuntimeConfig(ctx, string(kind))
	if err != nil {
		if errors.IsNotFound(err) {
			return Floors{}, nil
		}
		return Floors{}, err
	}
	if !rc.Active {
		return Floors{}, nil
	}
	floors := Floors{
		MinCPURequestMillis: rc.MinCPURequestMillis,
		MinCPULimitMillis:   rc.MinCPULimitMillis,
		MinMemRequestMi:     rc.MinMemRequestMi,
		MinMemLimitMi:       rc.MinMemLimitMi,
	}
	p.cache.SetDefault("floors/"+string(kind), floors)
	return floors, nil
}

// ResolveLaunch combines a template (optional) with defaults for the stack
// kind.
func (p *Provider) ResolveLaunch(ctx context.Context, kind v1.StackKind, templateKey string, role v1.Role) (LaunchDefaults, error) {
	floors, err := p.FloorsFor(ctx, kind)
	if err != nil {
		return LaunchDefaults{}, err
	}
	out := LaunchDefaults{ServiceType: "NodePort", Floors: floors}
	if templateKey == "" {
		return out, nil
	}
	t, err := p.GetTemplate(ctx, templateKey, role)
	if err != nil {
		return LaunchDefaults{}, err
	}
	out.Image = t.Image
	out.Port = t.Port
	out.ServiceType = t.ServiceType
	return out, nil
}

// Admin CRUD. Template and runtime keys are immutable once created; edits
// preserve the key.

func (p *Provider) CreateTemplate(ctx context.Context, t *store.Template) error {
	return p.store.CreateTemplate(ctx, t)
}

func (p *Provider) UpdateTemplate(ctx context.Context, t *store.Template) error {
	return p.store.UpdateTemplate(ctx, t)
}

func (p *Provider) DeleteTemplate(ctx context.Context, key string) error {
	return p.store.DeleteTemplate(ctx, key)
}

func (p *Provider) CreateRuntime(ctx context.Context, rc *store.RuntimeConfig) error {
	defer p.cache.Delete("floors/" + rc.Key)
	return p.store.CreateRuntimeConfig(ctx, rc)
}

func (p *Provider) UpdateRuntime(ctx context.Context, rc *store.RuntimeConfig) error {
	defer p.cache.Delete("floors/" + rc.Key)
	return p.store.UpdateRuntimeConfig(ctx, rc)
}
