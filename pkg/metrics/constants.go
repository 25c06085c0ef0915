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

// Package metrics holds prometheus naming shared across subsystems. The
// metrics themselves live next to the code they instrument.
package metrics

const (
	// Namespace prefixes every metric the control plane emits.
	Namespace = "labondemand"

	AdmissionSubsystem    = "admission"
	LifecycleSubsystem    = "lifecycle"
	AuditSubsystem        = "audit"
	OrchestratorSubsystem = "orchestrator"
)

// DurationBuckets fit reconciler phases and cluster round trips.
var DurationBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120}
