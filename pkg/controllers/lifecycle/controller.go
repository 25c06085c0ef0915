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

// Package lifecycle runs the periodic sweep that converges recorded lab state
// with the cluster: expired labs pause, grace-expired labs delete, missing
// expiries backfill and orphaned user namespaces are reaped. Every phase is
// independently fallible; one stuck lab never blocks the rest of the sweep.
package lifecycle

import (
	"context"
	"fmt"

	"github.com/awslabs/operatorpkg/reconciler"
	"github.com/awslabs/operatorpkg/singleton"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/utils/clock"
	controllerruntime "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/manager"
	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	v1 "github.com/labondemand/labondemand/pkg/apis/v1"
	"github.com/labondemand/labondemand/pkg/audit"
	"github.com/labondemand/labondemand/pkg/errors"
	"github.com/labondemand/labondemand/pkg/metrics"
	"github.com/labondemand/labondemand/pkg/operator/options"
	"github.com/labondemand/labondemand/pkg/orchestrator"
	"github.com/labondemand/labondemand/pkg/store"
)

var (
	phaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.LifecycleSubsystem,
			Name:      "phase_duration_seconds",
			Help:      "Duration of each lifecycle sweep phase.",
			Buckets:   metrics.DurationBuckets,
		},
		[]string{"phase"},
	)
	sweepActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.LifecycleSubsystem,
			Name:      "actions_total",
			Help:      "Lifecycle actions taken, partitioned by phase and outcome.",
		},
		[]string{"phase", "outcome"},
	)
)

func init() {
	crmetrics.Registry.MustRegister(phaseDuration, sweepActions)
}

type Controller struct {
	kubeClient   client.Client
	store        *store.Store
	clk          clock.Clock
	recorder     audit.Recorder
	orchestrator *orchestrator.Orchestrator
}

func NewController(kubeClient client.Client, s *store.Store, clk clock.Clock, recorder audit.Recorder, o *orchestrator.Orchestrator) *Controller {
	return &Controller{
		kubeClient:   kubeClient,
		store:        s,
		clk:          clk,
		recorder:     recorder,
		orchestrator: o,
	}
}

// Reconcile runs one full sweep. Phases run in a fixed order so that a lab
// expiring and grace-expiring in the same sweep is paused first and deleted
// no earlier than the next pass.
func (c *Controller) Reconcile(ctx context.Context) (reconciler.Result, error) {
	ctx = log.IntoContext(ctx, log.FromContext(ctx).WithName("lifecycle"))
	err := multierr.Combine(
		c.phase(ctx, "expire_pause", c.expireAndPause),
		c.phase(ctx, "grace_delete", c.graceExpiredDelete),
		c.phase(ctx, "backfill_expiry", c.backfillExpiry),
		c.phase(ctx, "orphan_namespaces", c.orphanNamespaceSweep),
	)
	if err != nil {
		log.FromContext(ctx).Error(err, "lifecycle sweep completed with errors")
	}
	return reconciler.Result{RequeueAfter: options.FromContext(ctx).CleanupInterval}, nil
}

func (c *Controller) phase(ctx context.Context, name string, fn func(context.Context) error) error {
	start := c.clk.Now()
	err := fn(ctx)
	phaseDuration.WithLabelValues(name).Observe(c.clk.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%s phase, %w", name, err)
	}
	return nil
}

// expireAndPause scales down active labs whose expiry has passed. The pause
// starts the grace-period clock via last_seen_at.
func (c *Controller) expireAndPause(ctx context.Context) error {
	expired, err := c.store.ListExpired(ctx, c.clk.Now())
	if err != nil {
		return err
	}
	var errs error
	for _, record := range expired {
		if err := c.orchestrator.Pause(ctx, record.Namespace, record.Name); err != nil {
			sweepActions.WithLabelValues("expire_pause", "error").Inc()
			errs = multierr.Append(errs, fmt.Errorf("pausing %s/%s, %w", record.Namespace, record.Name, err))
			continue
		}
		sweepActions.WithLabelValues("expire_pause", "paused").Inc()
		c.recorder.Publish(ctx, audit.DeploymentAutoPausedExpired(record.UserID, record.Namespace, record.Name))
	}
	return errs
}

// graceExpiredDelete removes labs that stayed paused past the grace period.
func (c *Controller) graceExpiredDelete(ctx context.Context) error {
	opts := options.FromContext(ctx)
	cutoff := c.clk.Now().Add(-opts.GracePeriod())
	stale, err := c.store.ListGraceExpired(ctx, cutoff)
	if err != nil {
		return err
	}
	var errs error
	for _, record := range stale {
		err := c.orchestrator.Delete(ctx, record.Namespace, record.Name, orchestrator.DeleteOptions{
			DeletePersistent: opts.GraceDeletePersistent,
		})
		if err != nil {
			sweepActions.WithLabelValues("grace_delete", "error").Inc()
			errs = multierr.Append(errs, fmt.Errorf("deleting %s/%s, %w", record.Namespace, record.Name, err))
			continue
		}
		sweepActions.WithLabelValues("grace_delete", "deleted").Inc()
		c.recorder.Publish(ctx, audit.DeploymentAutoDeletedGraceExpired(record.UserID, record.Namespace, record.Name))
	}
	return errs
}

// backfillExpiry stamps an expiry on active rows that predate expiry
// tracking, anchored to their creation time so old labs do not get a fresh
// lease. Admin-owned rows never expire and are skipped.
func (c *Controller) backfillExpiry(ctx context.Context) error {
	opts := options.FromContext(ctx)
	missing, err := c.store.ListMissingExpiry(ctx)
	if err != nil {
		return err
	}
	var errs error
	for _, record := range missing {
		user, err := c.store.GetUser(ctx, record.UserID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("resolving owner of %s/%s, %w", record.Namespace, record.Name, err))
			continue
		}
		ttl := opts.TTLFor(v1.ParseRole(user.Role))
		if ttl == 0 {
			continue
		}
		expires := record.CreatedAt.Add(ttl)
		if err := c.store.SetExpiresAt(ctx, record.ID, &expires); err != nil {
			sweepActions.WithLabelValues("backfill_expiry", "error").Inc()
			errs = multierr.Append(errs, err)
			continue
		}
		sweepActions.WithLabelValues("backfill_expiry", "backfilled").Inc()
		c.recorder.Publish(ctx, audit.DeploymentExpiresAtBackfilled(record.UserID, record.Namespace, record.Name))
	}
	return errs
}

// orphanNamespaceSweep deletes user namespaces with no surviving records.
// Guard A keeps namespaces whose owner still has non-deleted labs. Guard B
// keeps young namespaces: a namespace created moments ago may belong to a lab
// whose record has not landed yet.
func (c *Controller) orphanNamespaceSweep(ctx context.Context) error {
	opts := options.FromContext(ctx)
	list := &corev1.NamespaceList{}
	if err := c.kubeClient.List(ctx, list, client.MatchingLabels{v1.LabelManagedBy: v1.ManagedByValue}); err != nil {
		return errors.FromCluster(fmt.Errorf("listing namespaces, %w", err))
	}
	var errs error
	for i := range list.Items {
		ns := &list.Items[i]
		if !ns.DeletionTimestamp.IsZero() {
			continue
		}
		userID, ok := v1.UserIDFromNamespace(opts.UserNamespacePrefix, ns.Name)
		if !ok {
			continue
		}
		// A namespace is only an orphan candidate once its user row is gone.
		if _, err := c.store.GetUser(ctx, userID); err == nil {
			continue
		} else if !errors.IsNotFound(err) {
			errs = multierr.Append(errs, fmt.Errorf("looking up user %d, %w", userID, err))
			continue
		}
		count, err := c.store.CountNonDeletedByUser(ctx, userID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("counting labs of user %d, %w", userID, err))
			continue
		}
		if count > 0 {
			sweepActions.WithLabelValues("orphan_namespaces", "skipped").Inc()
			c.recorder.Publish(ctx, audit.OrphanNamespaceSkipped(ns.Name, audit.ReasonActiveDeployments))
			continue
		}
		if c.clk.Since(ns.CreationTimestamp.Time) < opts.OrphanNSGrace() {
			sweepActions.WithLabelValues("orphan_namespaces", "skipped").Inc()
			c.recorder.Publish(ctx, audit.OrphanNamespaceSkipped(ns.Name, audit.ReasonAgeGrace))
			continue
		}
		if err := c.kubeClient.Delete(ctx, ns); err != nil && !apierrors.IsNotFound(err) {
			sweepActions.WithLabelValues("orphan_namespaces", "error").Inc()
			errs = multierr.Append(errs, errors.FromCluster(fmt.Errorf("deleting namespace %s, %w", ns.Name, err)))
			continue
		}
		sweepActions.WithLabelValues("orphan_namespaces", "deleted").Inc()
		c.recorder.Publish(ctx, audit.OrphanNamespaceDeleted(ns.Name))
	}
	return errs
}

func (c *Controller) Register(_ context.Context, m manager.Manager) error {
	return controllerruntime.NewControllerManagedBy(m).
		Named("lifecycle").
		WatchesRawSource(singleton.Source()).
		Complete(singleton.AsReconciler(c))
}
