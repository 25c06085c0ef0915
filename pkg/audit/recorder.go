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

// Package audit emits the structured lifecycle events the out-of-scope audit
// pipeline consumes as JSON lines. Events never carry credentials.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/log"
	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/labondemand/labondemand/pkg/metrics"
)

var eventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: metrics.AuditSubsystem,
		Name:      "events_total",
		Help:      "Number of audit events emitted, partitioned by event name.",
	},
	[]string{"name"},
)

func init() {
	crmetrics.Registry.MustRegister(eventsTotal)
}

// Event is one audit record. Metadata values must already be safe to log.
type Event struct {
	Name      string
	UserID    int64
	Namespace string
	Lab       string
	Reason    string
}

// Recorder publishes audit events so lifecycle decisions are observable
// without log inspection.
type Recorder interface {
	Publish(ctx context.Context, evt Event)
}

type recorder struct{}

func NewRecorder() Recorder {
	return &recorder{}
}

func (r *recorder) Publish(ctx context.Context, evt Event) {
	eventsTotal.WithLabelValues(evt.Name).Inc()
	logger := log.FromContext(ctx).WithName("audit").WithValues(
		"id", uuid.NewString(),
		"event", evt.Name,
	)
	if evt.UserID != 0 {
		logger = logger.WithValues("userID", evt.UserID)
	}
	if evt.Namespace != "" {
		logger = logger.WithValues("namespace", evt.Namespace)
	}
	if evt.Lab != "" {
		logger = logger.WithValues("lab", evt.Lab)
	}
	if evt.Reason != "" {
		logger = logger.WithValues("reason", evt.Reason)
	}
	logger.Info(evt.Name)
}

// NewDedupeRecorder suppresses repeats of the same event within a window.
// Used for the reconciler's skip events, which otherwise recur every cycle.
func NewDedupeRecorder(r Recorder) Recorder {
	return &dedupe{
		rec:   r,
		cache: cache.New(2*time.Hour, 10*time.Minute),
	}
}

type dedupe struct {
	rec   Recorder
	cache *cache.Cache
}

func (d *dedupe) Publish(ctx context.Context, evt Event) {
	key := fmt.Sprintf("%s-%d-%s-%s-%s", evt.Name, evt.UserID, evt.Namespace, evt.Lab, evt.Reason)
	if _, exists := d.cache.Get(key); exists {
		return
	}
	d.cache.SetDefault(key, nil)
	d.rec.Publish(ctx, evt)
}
