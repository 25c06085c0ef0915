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

// Package errors defines the stable error kinds the control plane surfaces to
// callers. Internal causes are wrapped; only the kind and a short human
// message cross the API boundary.
package errors

import (
	"errors"
	"fmt"

	"github.com/samber/lo"
	"go.uber.org/multierr"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// NotFoundError indicates the target lab, namespace or catalog entry is
// absent.
type NotFoundError struct {
	Resource string
	Name     string
}

func NewNotFound(resource, name string) *NotFoundError {
	return &NotFoundError{Resource: resource, Name: name}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.Name)
}

func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	nfe := &NotFoundError{}
	return errors.As(err, &nfe) || apierrors.IsNotFound(err)
}

// QuotaExceededError refuses an admission. Dimension names the violated
// limit; Observed and Limit carry both sides of the inequality.
type QuotaExceededError struct {
	Dimension string
	Observed  int64
	Requested int64
	Limit     int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded on %s: observed %d + requested %d > limit %d", e.Dimension, e.Observed, e.Requested, e.Limit)
}

func IsQuotaExceeded(err error) bool {
	if err == nil {
		return false
	}
	qe := &QuotaExceededError{}
	return errors.As(err, &qe)
}

// ConflictError indicates a cluster-side "already exists" that cannot be
// reconciled, such as a Secret owned by someone else.
type ConflictError struct {
	Resource string
	Name     string
	Reason   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s %q: %s", e.Resource, e.Name, e.Reason)
}

func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	ce := &ConflictError{}
	return errors.As(err, &ce)
}

// InvalidInputError rejects malformed user input before any mutation.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func IsInvalidInput(err error) bool {
	if err == nil {
		return false
	}
	ie := &InvalidInputError{}
	return errors.As(err, &ie)
}

// ClusterUnavailableError wraps Kubernetes API failures that are neither
// not-found nor conflict. The reconciler retries these.
type ClusterUnavailableError struct {
	Err error
}

func (e *ClusterUnavailableError) Error() string {
	return fmt.Sprintf("cluster unavailable, %s", e.Err)
}

func (e *ClusterUnavailableError) Unwrap() error {
	return e.Err
}

func IsClusterUnavailable(err error) bool {
	if err == nil {
		return false
	}
	ce := &ClusterUnavailableError{}
	return errors.As(err, &ce)
}

// ComponentResult is the per-component outcome of a multi-component
// operation.
type ComponentResult struct {
	Component string
	Err       error
}

// PartialFailureError reports a multi-component pause/resume/delete where at
// least one component succeeded and at least one failed. Succeeded components
// are never rolled back.
type PartialFailureError struct {
	Operation string
	Succeeded []string
	Failed    []ComponentResult
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%s partially failed: %d succeeded, %d failed", e.Operation, len(e.Succeeded), len(e.Failed))
}

func IsPartialFailure(err error) bool {
	if err == nil {
		return false
	}
	pe := &PartialFailureError{}
	return errors.As(err, &pe)
}

// Partial classifies the outcome of a multi-component operation. No failures
// is success. Failures with no successes are not partial: the component
// errors surface directly so callers see the underlying kind.
func Partial(operation string, succeeded []string, failed []ComponentResult) error {
	if len(failed) == 0 {
		return nil
	}
	if len(succeeded) == 0 {
		return multierr.Combine(lo.Map(failed, func(f ComponentResult, _ int) error { return f.Err })...)
	}
	return &PartialFailureError{Operation: operation, Succeeded: succeeded, Failed: failed}
}

// FromCluster normalizes a Kubernetes API error into one of the stable kinds.
// Not-found and conflict pass through; everything else becomes
// ClusterUnavailable.
func FromCluster(err error) error {
	if err == nil {
		return nil
	}
	if apierrors.IsNotFound(err) || apierrors.IsAlreadyExists(err) || apierrors.IsConflict(err) {
		return err
	}
	return &ClusterUnavailableError{Err: err}
}
