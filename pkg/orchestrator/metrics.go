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
	"github.com/prometheus/client_golang/prometheus"
	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/labondemand/labondemand/pkg/metrics"
)

var operationDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: metrics.Namespace,
		Subsystem: metrics.OrchestratorSubsystem,
		Name:      "operation_duration_seconds",
		Help:      "Duration of lab operations, partitioned by operation and outcome.",
		Buckets:   metrics.DurationBuckets,
	},
	[]string{"operation", "outcome"},
)

func init() {
	crmetrics.Registry.MustRegister(operationDuration)
}

func observeOperation(operation string, seconds float64, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	operationDuration.WithLabelValues(operation, outcome).Observe(seconds)
}
