package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrInvalidWindow       = errors.New("pickup must be after dropoff")
	ErrInvalidRadius       = errors.New("radius must be a positive number")
	ErrInvalidBagCount     = errors.New("bag count must not be negative")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrPartialEvaluation   = errors.New("partial evaluation failure")
)

// PartialEvaluationError lists the candidates dropped from a search because
// their booked capacity could not be computed.
type PartialEvaluationError struct {
	Failures map[uuid.UUID]error
}

func (e *PartialEvaluationError) Error() string {
	ids := make([]string, 0, len(e.Failures))
	for id := range e.Failures {
		ids = append(ids, id.String())
	}
	sort.Strings(ids)
	return fmt.Sprintf("%s: %d candidate(s) skipped [%s]", ErrPartialEvaluation, len(ids), strings.Join(ids, ", "))
}

func (e *PartialEvaluationError) Is(target error) bool {
	return target == ErrPartialEvaluation
}

// Unwrap exposes the per-candidate causes to errors.Is/As.
func (e *PartialEvaluationError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, err := range e.Failures {
		errs = append(errs, err)
	}
	return errs
}
