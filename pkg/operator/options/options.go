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
	"context"
	"errors"
	"flag"
	"os"
	"time"

	v1 "github.com/labondemand/labondemand/pkg/apis/v1"
	"github.com/labondemand/labondemand/pkg/utils/env"
)

type optionsKey struct{}

// Options for running this binary
type Options struct {
	*flag.FlagSet
	// Vendor Neutral
	MetricsPort     int
	HealthProbePort int
	DatabasePath    string
	// Lab lifecycle
	LabTTLStudentDays   int
	LabTTLTeacherDays   int
	GracePeriodDays     int
	CleanupInterval     time.Duration
	OrphanNSGraceDays   int
	UserNamespacePrefix string
	ClusterCallTimeout  time.Duration
	// Grace-period sweeps honor the same persistence flag as user deletes.
	GraceDeletePersistent bool
	// Ingress policy
	IngressEnabled       bool
	IngressBaseDomain    string
	IngressClassName     string
	IngressTLSSecret     string
	IngressAutoTypes     []string
	IngressExcludedTypes []string
}

// New creates an Options struct and registers CLI flags and environment variables to fill-in the Options struct fields
func New() *Options {
	opts := &Options{}
	f := flag.NewFlagSet("labondemand", flag.ContinueOnError)
	opts.FlagSet = f

	f.IntVar(&opts.MetricsPort, "metrics-port", env.WithDefaultInt("METRICS_PORT", 8080), "The port the metric endpoint binds to for operating metrics about the controller itself")
	f.IntVar(&opts.HealthProbePort, "health-probe-port", env.WithDefaultInt("HEALTH_PROBE_PORT", 8081), "The port the health probe endpoint binds to for reporting controller health")
	f.StringVar(&opts.DatabasePath, "database-path", env.WithDefaultString("DATABASE_PATH", "labondemand.db"), "Path to the SQLite database file holding lab state")

	f.IntVar(&opts.LabTTLStudentDays, "lab-ttl-student-days", env.WithDefaultInt("LAB_TTL_STUDENT_DAYS", 7), "Days before a student lab expires and is auto-paused")
	f.IntVar(&opts.LabTTLTeacherDays, "lab-ttl-teacher-days", env.WithDefaultInt("LAB_TTL_TEACHER_DAYS", 30), "Days before a teacher lab expires and is auto-paused")
	f.IntVar(&opts.GracePeriodDays, "lab-grace-period-days", env.WithDefaultInt("LAB_GRACE_PERIOD_DAYS", 3), "Days a paused lab is retained before it is deleted")
	f.DurationVar(&opts.CleanupInterval, "cleanup-interval", time.Duration(env.WithDefaultInt("CLEANUP_INTERVAL_MINUTES", 60))*time.Minute, "Period of the lifecycle reconciler loop")
	f.IntVar(&opts.OrphanNSGraceDays, "orphan-ns-grace-days", env.WithDefaultInt("ORPHAN_NS_GRACE_DAYS", 7), "Minimum age of an orphan namespace before the sweep may delete it")
	f.StringVar(&opts.UserNamespacePrefix, "user-namespace-prefix", env.WithDefaultString("USER_NAMESPACE_PREFIX", v1.DefaultNamespacePrefix), "Prefix of per-user namespace names")
	f.DurationVar(&opts.ClusterCallTimeout, "cluster-call-timeout", env.WithDefaultDuration("CLUSTER_CALL_TIMEOUT", 30*time.Second), "Per-call deadline for Kubernetes API requests")
	f.BoolVar(&opts.GraceDeletePersistent, "grace-delete-persistent", env.WithDefaultBool("GRACE_DELETE_PERSISTENT", true), "Whether grace-period sweeps also delete Secrets and PVCs")

	f.BoolVar(&opts.IngressEnabled, "ingress-enabled", env.WithDefaultBool("INGRESS_ENABLED", false), "Emit Ingress objects for eligible stacks")
	f.StringVar(&opts.IngressBaseDomain, "ingress-base-domain", env.WithDefaultString("INGRESS_BASE_DOMAIN", ""), "Base domain for generated ingress hosts")
	f.StringVar(&opts.IngressClassName, "ingress-class-name", env.WithDefaultString("INGRESS_CLASS_NAME", ""), "IngressClass to stamp on generated ingresses")
	f.StringVar(&opts.IngressTLSSecret, "ingress-tls-secret", env.WithDefaultString("INGRESS_TLS_SECRET", ""), "TLS secret name referenced by generated ingresses")
	opts.IngressAutoTypes = env.WithDefaultStringSlice("INGRESS_AUTO_TYPES", []string{string(v1.StackVSCode), string(v1.StackJupyter), string(v1.StackWordPress), string(v1.StackLAMP)})
	opts.IngressExcludedTypes = env.WithDefaultStringSlice("INGRESS_EXCLUDED_TYPES", nil)
	return opts
}

// MustParse reads the user passed flags, environment variables, and default values.
// Options are validated and panics if an error is returned
func (o *Options) MustParse() *Options {
	err := o.Parse(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		panic(err)
	}
	if err := o.Validate(); err != nil {
		panic(err)
	}
	return o
}

// TTLFor returns the default lab lifetime for a role. Zero means never
// expires.
func (o *Options) TTLFor(role v1.Role) time.Duration {
	switch role {
	case v1.RoleTeacher:
		return time.Duration(o.LabTTLTeacherDays) * 24 * time.Hour
	case v1.RoleAdmin:
		return 0
	default:
		return time.Duration(o.LabTTLStudentDays) * 24 * time.Hour
	}
}

// GracePeriod returns the paused-to-deleted delay.
func (o *Options) GracePeriod() time.Duration {
	return time.Duration(o.GracePeriodDays) * 24 * time.Hour
}

// OrphanNSGrace returns Guard B's minimum orphan namespace age.
func (o *Options) OrphanNSGrace() time.Duration {
	return time.Duration(o.OrphanNSGraceDays) * 24 * time.Hour
}

// IngressEligible applies the ingress policy to a stack kind: the global flag,
// the allow-list and the exclusion list must all agree.
func (o *Options) IngressEligible(kind v1.StackKind) bool {
	if !o.IngressEnabled || !kind.ExposesHTTP() {
		return false
	}
	for _, excluded := range o.IngressExcludedTypes {
		if excluded == string(kind) {
			return false
		}
	}
	for _, allowed := range o.IngressAutoTypes {
		if allowed == string(kind) {
			return true
		}
	}
	return false
}

func ToContext(ctx context.Context, opts *Options) context.Context {
	return context.WithValue(ctx, optionsKey{}, opts)
}

func FromContext(ctx context.Context) *Options {
	retval := ctx.Value(optionsKey{})
	if retval == nil {
		panic("options doesn't exist in context")
	}
	return retval.(*Options)
}
