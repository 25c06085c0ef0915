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

// StackKind selects the recipe that determines which cluster objects a lab
// comprises.
type StackKind string

const (
	StackCustom    StackKind = "custom"
	StackVSCode    StackKind = "vscode"
	StackJupyter   StackKind = "jupyter"
	StackNetBeans  StackKind = "netbeans"
	StackMySQL     StackKind = "mysql"
	StackLAMP      StackKind = "lamp"
	StackWordPress StackKind = "wordpress"
)

// WellKnownStacks enumerates every stack kind the stack builder can
// materialize. Unknown kinds are rejected at admission.
var WellKnownStacks = []StackKind{
	StackCustom,
	StackVSCode,
	StackJupyter,
	StackNetBeans,
	StackMySQL,
	StackLAMP,
	StackWordPress,
}

func (s StackKind) Valid() bool {
	for _, k := range WellKnownStacks {
		if s == k {
			return true
		}
	}
	return false
}

// ExposesHTTP reports whether the stack's user-facing service speaks HTTP and
// is therefore eligible for ingress. Every well-known stack exposes HTTP
// (mysql through phpMyAdmin); the ingress allow-list narrows further.
func (s StackKind) ExposesHTTP() bool {
	return s.Valid()
}

// HasDatabase reports whether the stack carries a MySQL component and
// therefore always gets a Secret and a database volume.
func (s StackKind) HasDatabase() bool {
	return s == StackMySQL || s == StackLAMP || s == StackWordPress
}

// Component names used in object naming and the component label.
const (
	ComponentMain = "main"
	ComponentWeb  = "web"
	ComponentDB   = "db"
	ComponentPMA  = "pma"
)

// DeploymentStatus is the lifecycle state of a lab's database record.
type DeploymentStatus string

const (
	StatusActive  DeploymentStatus = "active"
	StatusPaused  DeploymentStatus = "paused"
	StatusExpired DeploymentStatus = "expired"
	StatusDeleted DeploymentStatus = "deleted"
)
