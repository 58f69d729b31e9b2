package eonclos

// errors.go holds the error classes reported by the fabric, the ledger and
// the admission engine.  Callers test for them with errors.Is; the context
// (link, request id, slot range) travels in the wrapping message.

import (
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrConfig reports fabric parameters that cannot describe a Clos fabric.
	ErrConfig = errors.New("invalid fabric configuration")

	// ErrInvalidRequest reports a request the engine refuses to evaluate
	// (non-positive width or holding, port out of range, id already live).
	ErrInvalidRequest = errors.New("invalid request")

	// ErrAllocationConflict reports an attempt to mark slots that are not free.
	// It is an internal invariant violation and stops a run.
	ErrAllocationConflict = errors.New("spectrum allocation conflict")

	// ErrSourceUnreadable reports a traffic source that could not be opened.
	ErrSourceUnreadable = errors.New("traffic source unreadable")

	// ErrUnknownLink reports a link name that is not part of the fabric.
	ErrUnknownLink = errors.New("unknown link")
)

// ReportErrs gathers the non-nil members of errs into a single error whose
// cause is the first of them, or returns nil when there are none
func ReportErrs(errs []error) error {
	var first error
	others := make([]string, 0)
	for _, err := range errs {
		if err == nil {
			continue
		}
		if first == nil {
			first = err
			continue
		}
		others = append(others, err.Error())
	}
	if first == nil || len(others) == 0 {
		return first
	}
	return errors.Wrap(first, strings.Join(others, ","))
}
