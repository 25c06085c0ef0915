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

package test

import (
	"context"
	"time"

	"github.com/samber/lo"
	clock "k8s.io/utils/clock/testing"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/labondemand/labondemand/pkg/admission"
	"github.com/labondemand/labondemand/pkg/operator/options"
	"github.com/labondemand/labondemand/pkg/orchestrator"
	"github.com/labondemand/labondemand/pkg/providers/catalog"
	"github.com/labondemand/labondemand/pkg/providers/namespace"
	"github.com/labondemand/labondemand/pkg/providers/quota"
	"github.com/labondemand/labondemand/pkg/store"
)

// Environment wires the full provider graph against a fake cluster and an
// in-memory store for suite tests.
type Environment struct {
	Clock      *clock.FakeClock
	KubeClient client.Client
	Store      *store.Store
	Recorder   *Recorder

	CatalogProvider   *catalog.Provider
	QuotaResolver     *quota.Resolver
	NamespaceProvider *namespace.Provider
	AdmissionPipeline *admission.Pipeline
	Orchestrator      *orchestrator.Orchestrator
}

func NewEnvironment() *Environment {
	clk := clock.NewFakeClock(time.Now())
	kubeClient := fake.NewClientBuilder().Build()
	db := lo.Must(store.Open(":memory:"))
	recorder := NewRecorder()

	catalogProvider := catalog.NewProvider(db)
	quotaResolver := quota.NewResolver(db, clk, recorder)
	namespaceProvider := namespace.NewProvider(kubeClient)
	pipeline := admission.NewPipeline(db, quotaResolver, kubeClient)
	return &Environment{
		Clock:             clk,
		KubeClient:        kubeClient,
		Store:             db,
		Recorder:          recorder,
		CatalogProvider:   catalogProvider,
		QuotaResolver:     quotaResolver,
		NamespaceProvider: namespaceProvider,
		AdmissionPipeline: pipeline,
		Orchestrator:      orchestrator.New(kubeClient, db, clk, recorder, catalogProvider, namespaceProvider, pipeline),
	}
}

// Reset clears caches and replaces the store between specs. The fake cluster
// is rebuilt by the caller when object state must not leak.
func (e *Environment) Reset() {
	e.QuotaResolver.Reset()
	lo.Must0(e.Store.Close())
	e.Store = lo.Must(store.Open(":memory:"))
	e.Recorder = NewRecorder()
	e.KubeClient = fake.NewClientBuilder().Build()
	e.CatalogProvider = catalog.NewProvider(e.Store)
	e.QuotaResolver = quota.NewResolver(e.Store, e.Clock, e.Recorder)
	e.NamespaceProvider = namespace.NewProvider(e.KubeClient)
	e.AdmissionPipeline = admission.NewPipeline(e.Store, e.QuotaResolver, e.KubeClient)
	e.Orchestrator = orchestrator.New(e.KubeClient, e.Store, e.Clock, e.Recorder, e.CatalogProvider, e.NamespaceProvider, e.AdmissionPipeline)
}

func (e *Environment) Stop() {
	lo.Must0(e.Store.Close())
}

// Options returns a context carrying default operator options, overridable
// per test.
func Options(overrides ...func(*options.Options)) context.Context {
	opts := options.New()
	for _, override := range overrides {
		override(opts)
	}
	return options.ToContext(context.Background(), opts)
}
