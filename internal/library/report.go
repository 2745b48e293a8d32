package library

import (
	"errors"
	"fmt"

	"github.com/bluekit-app/bluekit/internal/apperr"
)

// ItemError is the failure of one item of a batch.
type ItemError struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// BatchReport accumulates per-item outcomes of a batch operation.
// A batch never fails as a whole because one item did.
type BatchReport struct {
	Succeeded []string    `json:"succeeded"`
	Failed    []ItemError `json:"failed"`

	// Warnings are failures that did not stop the item, such as a remote
	// delete that failed while the local cascade went ahead.
	Warnings []ItemError `json:"warnings,omitempty"`

	errs []error
}

func newReport() BatchReport {
	return BatchReport{Succeeded: []string{}, Failed: []ItemError{}}
}

func (r *BatchReport) ok(id string) {
	r.Succeeded = append(r.Succeeded, id)
}

func (r *BatchReport) fail(id string, err error) {
	r.Failed = append(r.Failed, ItemError{ID: id, Kind: apperr.Kind(err), Message: err.Error()})
	r.errs = append(r.errs, fmt.Errorf("%s: %w", id, err))
}

func (r *BatchReport) warn(id string, err error) {
	r.Warnings = append(r.Warnings, ItemError{ID: id, Kind: apperr.Kind(err), Message: err.Error()})
}

// HasFailures reports whether any item failed.
func (r *BatchReport) HasFailures() bool {
	return len(r.Failed) > 0
}

// Err joins the item failures into one error, or returns nil. The joined
// error still matches the taxonomy sentinels with errors.Is.
func (r *BatchReport) Err() error {
	if len(r.errs) == 0 {
		return nil
	}
	return errors.Join(r.errs...)
}
