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

package resources

import (
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
)

// CPU converts millicores into a quantity.
func CPU(millis int64) resource.Quantity {
	return *resource.NewMilliQuantity(millis, resource.DecimalSI)
}

// Mem converts mebibytes into a quantity.
func Mem(mi int64) resource.Quantity {
	return *resource.NewQuantity(mi*1024*1024, resource.BinarySI)
}

// Storage converts gibibytes into a quantity.
func Storage(gi int64) resource.Quantity {
	return *resource.NewQuantity(gi*1024*1024*1024, resource.BinarySI)
}

// Count converts a plain count into a quantity (pods, PVCs).
func Count(n int64) resource.Quantity {
	return *resource.NewQuantity(n, resource.DecimalSI)
}

// Merge folds resource lists together, summing overlapping names.
func Merge(lists ...corev1.ResourceList) corev1.ResourceList {
	out := corev1.ResourceList{}
	for _, list := range lists {
		for name, quantity := range list {
			current := out[name]
			current.Add(quantity)
			out[name] = current
		}
	}
	return out
}

// Requirements builds container requirements from millicore/mebibyte values.
func Requirements(cpuRequestMillis, cpuLimitMillis, memRequestMi, memLimitMi int64) corev1.ResourceRequirements {
	return corev1.ResourceRequirements{
		Requests: corev1.ResourceList{
			corev1.ResourceCPU:    CPU(cpuRequestMillis),
			corev1.ResourceMemory: Mem(memRequestMi),
		},
		Limits: corev1.ResourceList{
			corev1.ResourceCPU:    CPU(cpuLimitMillis),
			corev1.ResourceMemory: Mem(memLimitMi),
		},
	}
}
