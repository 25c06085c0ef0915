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

package audit

// Skip reasons for OrphanNamespaceSkipped.
const (
	ReasonActiveDeployments = "active_deployments"
	ReasonAgeGrace          = "age_grace"
)

func DeploymentCreated(userID int64, namespace, lab string) Event {
	return Event{Name: "deployment_created", UserID: userID, Namespace: namespace, Lab: lab}
}

func DeploymentDeleted(userID int64, namespace, lab string) Event {
	return Event{Name: "deployment_deleted", UserID: userID, Namespace: namespace, Lab: lab}
}

func DeploymentPaused(userID int64, namespace, lab string) Event {
	return Event{Name: "deployment_paused", UserID: userID, Namespace: namespace, Lab: lab}
}

func DeploymentResumed(userID int64, namespace, lab string) Event {
	return Event{Name: "deployment_resumed", UserID: userID, Namespace: namespace, Lab: lab}
}

func DeploymentAutoPausedExpired(userID int64, namespace, lab string) Event {
	return Event{Name: "deployment_auto_paused_expired", UserID: userID, Namespace: namespace, Lab: lab}
}

func DeploymentAutoDeletedGraceExpired(userID int64, namespace, lab string) Event {
	return Event{Name: "deployment_auto_deleted_grace_expired", UserID: userID, Namespace: namespace, Lab: lab}
}

func DeploymentExpiresAtBackfilled(userID int64, namespace, lab string) Event {
	return Event{Name: "deployment_expires_at_backfilled", UserID: userID, Namespace: namespace, Lab: lab}
}

func OrphanNamespaceDeleted(namespace string) Event {
	return Event{Name: "orphan_namespace_deleted", Namespace: namespace}
}

func OrphanNamespaceSkipped(namespace, reason string) Event {
	return Event{Name: "orphan_namespace_skipped", Namespace: namespace, Reason: reason}
}

func QuotaOverrideSet(userID int64) Event {
	return Event{Name: "quota_override_set", UserID: userID}
}

func UserSessionsPurged(userID int64) Event {
	return Event{Name: "user_sessions_purged", UserID: userID}
}
