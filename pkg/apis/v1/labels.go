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

package v1

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/labondemand/labondemand/pkg/apis"
)

const (
	LabelManagedBy = "managed-by"
	LabelUserID    = "user-id"
	LabelUserRole  = "user-role"
	LabelApp       = "app"
	LabelStack     = "stack"
	LabelComponent = "component"

	// ManagedByValue marks every cluster object this control plane owns.
	// The reconciler only ever mutates objects carrying this label.
	ManagedByValue = "labondemand"

	AnnotationPausedReplicas = apis.Group + "/paused-replicas"
	AnnotationPauseDisabled  = apis.Group + "/pause-disabled"

	// Baseline object names, one of each per user namespace.
	BaselineQuotaName  = "baseline-quota"
	BaselineLimitsName = "baseline-limits"

	// DefaultNamespacePrefix is overridable through USER_NAMESPACE_PREFIX.
	DefaultNamespacePrefix = "labondemand-user-"
)

// ManagedLabels returns the label set stamped on every object of a lab.
func ManagedLabels(userID int64, role Role, labName string, stack StackKind) map[string]string {
	return map[string]string{
		LabelManagedBy: ManagedByValue,
		LabelUserID:    strconv.FormatInt(userID, 10),
		LabelUserRole:  string(role),
		LabelApp:       labName,
		LabelStack:     string(stack),
	}
}

// NamespaceName derives the per-user namespace name. The mapping is
// deterministic so that the orchestrator and the reconciler agree without
// coordination.
func NamespaceName(prefix string, userID int64) string {
	return fmt.Sprintf("%s%d", prefix, userID)
}

// UserIDFromNamespace inverts NamespaceName. The second return is false when
// the namespace does not follow the user-namespace naming scheme.
func UserIDFromNamespace(prefix, namespace string) (int64, bool) {
	rest, found := strings.CutPrefix(namespace, prefix)
	if !found {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// IngressHost derives the externally visible host for a lab.
func IngressHost(labName string, userID int64, baseDomain string) string {
	return fmt.Sprintf("%s-u%d.%s", labName, userID, baseDomain)
}
