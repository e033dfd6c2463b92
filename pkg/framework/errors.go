package framework

import "strings"

// AggregatedError collects the failures of several components, e.g. the
// Runnables of a Runner, or a link and the connection under it.
type AggregatedError struct {
	Errors []error
}

// Error implements error. A single error reads as itself.
func (e *AggregatedError) Error() string {
	switch len(e.Errors) {
	case 0:
		return ""
	case 1:
		return e.Errors[0].Error()
	}
	msg := make([]string, len(e.Errors))
	for n, err := range e.Errors {
		msg[n] = err.Error()
	}
	return "multiple errors: " + strings.Join(msg, "; ")
}

// Unwrap lets errors.Is and errors.As match any aggregated error.
func (e *AggregatedError) Unwrap() []error {
	return e.Errors
}

// Add adds errors to be aggregated. nil is skipped and nested
// AggregatedErrors are flattened.
func (e *AggregatedError) Add(errs ...error) *AggregatedError {
	for _, err := range errs {
		switch err := err.(type) {
		case nil:
		case *AggregatedError:
			e.Add(err.Errors...)
		default:
			e.Errors = append(e.Errors, err)
		}
	}
	return e
}

// Aggregate returns nil when nothing failed, the only error when exactly
// one did, and the AggregatedError otherwise.
func (e *AggregatedError) Aggregate() error {
	switch len(e.Errors) {
	case 0:
		return nil
	case 1:
		return e.Errors[0]
	}
	return e
}

// Aggregate aggregates the non-nil errors of errs.
func Aggregate(errs ...error) error {
	return (&AggregatedError{}).Add(errs...).Aggregate()
}
