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

package ratelimit_test

import (
	"testing"

	"github.com/labondemand/labondemand/pkg/ratelimit"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestRateLimit(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "RateLimit")
}

var _ = Describe("Limiter", func() {
	var limiter *ratelimit.Limiter
	BeforeEach(func() {
		limiter = ratelimit.NewLimiter()
	})
	It("should grant a full burst to a new caller and then refuse", func() {
		for i := 0; i < 10; i++ {
			Expect(limiter.Allow("10.0.0.1")).To(BeTrue())
		}
		Expect(limiter.Allow("10.0.0.1")).To(BeFalse())
	})
	It("should track callers independently", func() {
		for i := 0; i < 11; i++ {
			limiter.Allow("10.0.0.1")
		}
		Expect(limiter.Allow("10.0.0.2")).To(BeTrue())
	})
	It("should restore the budget after a reset", func() {
		for i := 0; i < 11; i++ {
			limiter.Allow("10.0.0.1")
		}
		limiter.Reset("10.0.0.1")
		Expect(limiter.Allow("10.0.0.1")).To(BeTrue())
	})
})
