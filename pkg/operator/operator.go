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

// Package operator assembles the control plane: configuration, logging, the
// controller manager, the state store and the provider graph, in that order.
package operator

import (
	"context"
	"fmt"

	"github.com/awslabs/operatorpkg/controller"
	"github.com/go-logr/zapr"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
	controllerruntime "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/manager"
	"sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/labondemand/labondemand/pkg/admission"
	"github.com/labondemand/labondemand/pkg/audit"
	"github.com/labondemand/labondemand/pkg/operator/options"
	"github.com/labondemand/labondemand/pkg/orchestrator"
	"github.com/labondemand/labondemand/pkg/providers/catalog"
	"github.com/labondemand/labondemand/pkg/providers/namespace"
	"github.com/labondemand/labondemand/pkg/providers/quota"
	"github.com/labondemand/labondemand/pkg/ratelimit"
	"github.com/labondemand/labondemand/pkg/store"
)

const component = "labondemand"

// Operator carries every long-lived dependency of the control plane. Built
// once in main and threaded through controller construction.
type Operator struct {
	manager.Manager

	Clock             clock.Clock
	KubeClient        client.Client
	Store             *store.Store
	Recorder          audit.Recorder
	CatalogProvider   *catalog.Provider
	QuotaResolver     *quota.Resolver
	NamespaceProvider *namespace.Provider
	AdmissionPipeline *admission.Pipeline
	Orchestrator      *orchestrator.Orchestrator
	CreateLimiter     *ratelimit.Limiter
}

func NewOperator() (context.Context, *Operator) {
	opts := options.New().MustParse()
	ctx := options.ToContext(context.Background(), opts)

	logger := zapr.NewLogger(lo.Must(zap.NewProduction()))
	log.SetLogger(logger.WithName(component))

	mgr, err := controllerruntime.NewManager(controllerruntime.GetConfigOrDie(), controllerruntime.Options{
		Logger: log.Log,
		Metrics: server.Options{
			BindAddress: fmt.Sprintf(":%d", opts.MetricsPort),
		},
		HealthProbeBindAddress: fmt.Sprintf(":%d", opts.HealthProbePort),
		BaseContext:            func() context.Context { return ctx },
	})
	if err != nil {
		panic(fmt.Sprintf("creating controller manager, %s", err))
	}
	lo.Must0(mgr.AddHealthzCheck("healthz", healthz.Ping))
	lo.Must0(mgr.AddReadyzCheck("readyz", healthz.Ping))

	db := lo.Must(store.Open(opts.DatabasePath))
	clk := clock.RealClock{}
	recorder := audit.NewDedupeRecorder(audit.NewRecorder())

	catalogProvider := catalog.NewProvider(db)
	quotaResolver := quota.NewResolver(db, clk, recorder)
	namespaceProvider := namespace.NewProvider(mgr.GetClient())
	pipeline := admission.NewPipeline(db, quotaResolver, mgr.GetClient())
	orch := orchestrator.New(mgr.GetClient(), db, clk, recorder, catalogProvider, namespaceProvider, pipeline)

	return ctx, &Operator{
		Manager:           mgr,
		Clock:             clk,
		KubeClient:        mgr.GetClient(),
		Store:             db,
		Recorder:          recorder,
		CatalogProvider:   catalogProvider,
		QuotaResolver:     quotaResolver,
		NamespaceProvider: namespaceProvider,
		AdmissionPipeline: pipeline,
		Orchestrator:      orch,
		CreateLimiter:     ratelimit.NewLimiter(),
	}
}

func (o *Operator) WithControllers(ctx context.Context, controllers ...controller.Controller) *Operator {
	for _, c := range controllers {
		lo.Must0(c.Register(ctx, o.Manager))
	}
	return o
}

// Start blocks until the context cancels, then closes the store.
func (o *Operator) Start(ctx context.Context) {
	defer func() { lo.Must0(o.Store.Close()) }()
	lo.Must0(o.Manager.Start(ctx))
}
