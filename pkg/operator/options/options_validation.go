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

package options

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

func (o Options) Validate() (err error) {
	if o.LabTTLStudentDays <= 0 {
		err = multierr.Append(err, fmt.Errorf("LAB_TTL_STUDENT_DAYS must be positive"))
	}
	if o.LabTTLTeacherDays <= 0 {
		err = multierr.Append(err, fmt.Errorf("LAB_TTL_TEACHER_DAYS must be positive"))
	}
	if o.GracePeriodDays < 0 {
		err = multierr.Append(err, fmt.Errorf("LAB_GRACE_PERIOD_DAYS may not be negative"))
	}
	if o.CleanupInterval <= 0 {
		err = multierr.Append(err, fmt.Errorf("CLEANUP_INTERVAL_MINUTES must be positive"))
	}
	if o.OrphanNSGraceDays < 0 {
		err = multierr.Append(err, fmt.Errorf("ORPHAN_NS_GRACE_DAYS may not be negative"))
	}
	if o.UserNamespacePrefix == "" {
		err = multierr.Append(err, fmt.Errorf("USER_NAMESPACE_PREFIX may not be empty"))
	}
	if o.ClusterCallTimeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("CLUSTER_CALL_TIMEOUT must be positive"))
	}
	err = multierr.Append(err, o.validateIngress())
	return err
}

func (o Options) validateIngress() error {
	if !o.IngressEnabled {
		return nil
	}
	if o.IngressBaseDomain == "" {
		return fmt.Errorf("INGRESS_BASE_DOMAIN is required when INGRESS_ENABLED is set")
	}
	if strings.HasPrefix(o.IngressBaseDomain, ".") {
		return fmt.Errorf("\"%s\" not a valid INGRESS_BASE_DOMAIN", o.IngressBaseDomain)
	}
	return nil
}
