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

// Role is the privilege tier of a user. Unknown roles degrade to student.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// ParseRole maps arbitrary input to a known role, falling back to the least
// privileged tier.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleTeacher:
		return RoleTeacher
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleStudent
	}
}

// Limits are the logical admission limits for a user. All fields are dense:
// every role defines every field.
type Limits struct {
	MaxApps      int64
	MaxCPUMillis int64
	MaxMemMi     int64
	MaxPods      int64
	MaxStorageGi int64
}

// Ceilings bound what a single lab may request. Requests above a ceiling are
// silently clamped before manifest generation.
type Ceilings struct {
	MaxCPURequestMillis int64
	MaxCPULimitMillis   int64
	MaxMemRequestMi     int64
	MaxMemLimitMi       int64
	MaxReplicas         int32
}

// QuotaValues feed the per-namespace ResourceQuota.
type QuotaValues struct {
	Pods             int64
	RequestCPUMillis int64
	RequestMemMi     int64
	LimitCPUMillis   int64
	LimitMemMi       int64
	PVCs             int64
	StorageGi        int64
}

// LimitRangeValues feed the per-namespace LimitRange container defaults.
type LimitRangeValues struct {
	DefaultRequestCPUMillis int64
	DefaultRequestMemMi     int64
	DefaultLimitCPUMillis   int64
	DefaultLimitMemMi       int64
}

// RoleProfile bundles everything that is a function of the role. Values are
// data, not code, so operators can swap profiles without touching call sites.
type RoleProfile struct {
	Limits     Limits
	Ceilings   Ceilings
	Quota      QuotaValues
	LimitRange LimitRangeValues
	// TTLDays is the default lab lifetime. Zero means labs never expire.
	TTLDays int
}

// roleProfiles is the stricter of the two documented value sets.
var roleProfiles = map[Role]RoleProfile{
	RoleStudent: {
		Limits:     Limits{MaxApps: 4, MaxCPUMillis: 2500, MaxMemMi: 6144, MaxPods: 6, MaxStorageGi: 2},
		Ceilings:   Ceilings{MaxCPURequestMillis: 1000, MaxCPULimitMillis: 2000, MaxMemRequestMi: 1024, MaxMemLimitMi: 2048, MaxReplicas: 2},
		Quota:      QuotaValues{Pods: 6, RequestCPUMillis: 2500, RequestMemMi: 6144, LimitCPUMillis: 5000, LimitMemMi: 8192, PVCs: 2, StorageGi: 2},
		LimitRange: LimitRangeValues{DefaultRequestCPUMillis: 250, DefaultRequestMemMi: 256, DefaultLimitCPUMillis: 500, DefaultLimitMemMi: 512},
		TTLDays:    7,
	},
	RoleTeacher: {
		Limits:     Limits{MaxApps: 10, MaxCPUMillis: 4000, MaxMemMi: 8192, MaxPods: 20, MaxStorageGi: 20},
		Ceilings:   Ceilings{MaxCPURequestMillis: 2000, MaxCPULimitMillis: 4000, MaxMemRequestMi: 2048, MaxMemLimitMi: 4096, MaxReplicas: 5},
		Quota:      QuotaValues{Pods: 20, RequestCPUMillis: 4000, RequestMemMi: 8192, LimitCPUMillis: 8000, LimitMemMi: 16384, PVCs: 10, StorageGi: 20},
		LimitRange: LimitRangeValues{DefaultRequestCPUMillis: 250, DefaultRequestMemMi: 256, DefaultLimitCPUMillis: 1000, DefaultLimitMemMi: 1024},
		TTLDays:    30,
	},
	RoleAdmin: {
		Limits:     Limits{MaxApps: 100, MaxCPUMillis: 64000, MaxMemMi: 131072, MaxPods: 200, MaxStorageGi: 2048},
		Ceilings:   Ceilings{MaxCPURequestMillis: 16000, MaxCPULimitMillis: 32000, MaxMemRequestMi: 32768, MaxMemLimitMi: 65536, MaxReplicas: 20},
		Quota:      QuotaValues{Pods: 200, RequestCPUMillis: 64000, RequestMemMi: 131072, LimitCPUMillis: 128000, LimitMemMi: 262144, PVCs: 100, StorageGi: 2048},
		LimitRange: LimitRangeValues{DefaultRequestCPUMillis: 500, DefaultRequestMemMi: 512, DefaultLimitCPUMillis: 2000, DefaultLimitMemMi: 2048},
		TTLDays:    0,
	},
}

// ProfileFor returns the role's profile. Unknown roles get the student
// profile.
func ProfileFor(role Role) RoleProfile {
	if p, ok := roleProfiles[role]; ok {
		return p
	}
	return roleProfiles[RoleStudent]
}
