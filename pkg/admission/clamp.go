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

package admission

import (
	v1 "github.com/labondemand/labondemand/pkg/apis/v1"
	"github.com/labondemand/labondemand/pkg/providers/catalog"
)

// Clamp reduces requested resources to the role's per-lab ceilings. It never
// raises a value; floors are applied separately, and strictly after clamping.
// Pure and idempotent.
func Clamp(req v1.ResourceSettings, role v1.Role) v1.ResourceSettings {
	ceilings := v1.ProfileFor(role).Ceilings
	out := req
	out.CPURequestMillis = min(out.CPURequestMillis, ceilings.MaxCPURequestMillis)
	out.CPULimitMillis = min(out.CPULimitMillis, ceilings.MaxCPULimitMillis)
	out.MemRequestMi = min(out.MemRequestMi, ceilings.MaxMemRequestMi)
	out.MemLimitMi = min(out.MemLimitMi, ceilings.MaxMemLimitMi)
	if out.Replicas > ceilings.MaxReplicas {
		out.Replicas = ceilings.MaxReplicas
	}
	return out
}

// ApplyFloors raises clamped values to the stack's runtime-config minimums so
// a too-small request still yields a working lab. A limit is never left below
// its request.
func ApplyFloors(req v1.ResourceSettings, floors catalog.Floors) v1.ResourceSettings {
	out := req
	out.CPURequestMillis = max(out.CPURequestMillis, floors.MinCPURequestMillis)
	out.CPULimitMillis = max(out.CPULimitMillis, floors.MinCPULimitMillis, out.CPURequestMillis)
	out.MemRequestMi = max(out.MemRequestMi, floors.MinMemRequestMi)
	out.MemLimitMi = max(out.MemLimitMi, floors.MinMemLimitMi, out.MemRequestMi)
	return out
}
