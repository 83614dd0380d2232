package domain

import (
	"errors"
	"fmt"
)

// ErrReconciliationInProgress is returned when a second reconciliation
// run is attempted while one is still in flight. The caller decides
// whether to queue or drop the run.
var ErrReconciliationInProgress = errors.New("reconciliation already in progress")

// NotFoundError reports a lookup with no matching row.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Key)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}

// InvariantViolationError reports an attempted double-open or
// double-close of a version row, or a close date not after its open
// date. Fatal to the enclosing reconciliation transaction.
type InvariantViolationError struct {
	UniqueID string
	Reason   string
}

func (e InvariantViolationError) Error() string {
	return fmt.Sprintf("version invariant violated for %s: %s", e.UniqueID, e.Reason)
}

// DataContractViolationError reports an identity appearing in both the
// added and removed partitions of one run. Structurally impossible with
// set semantics; treated as fatal, nothing partially committed.
type DataContractViolationError struct {
	UniqueID string
}

func (e DataContractViolationError) Error() string {
	return fmt.Sprintf("data contract violated: %s present in both added and removed partitions", e.UniqueID)
}
