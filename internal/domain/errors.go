package domain

import (
	"context"
	"errors"
	"reflect"
)

// FormatError reports a response that did not contain exactly one valid
// action. Response carries what the model said so the loop can still
// record it; Cost is what the failed call consumed.
type FormatError struct {
	Message  string
	Cost     float64
	Response *Response
}

func (e *FormatError) Error() string { return e.Message }

// LimitsExceeded is returned before a query when a step or cost budget
// has been reached.
type LimitsExceeded struct {
	Message string
}

func (e *LimitsExceeded) Error() string { return e.Message }

// Submitted signals task completion. Submission is the text that followed
// the completion sentinel.
type Submitted struct {
	Submission string
}

func (e *Submitted) Error() string { return e.Submission }

// UserInterruption is a human interrupt raised while the model was being
// queried.
type UserInterruption struct {
	Message string
}

func (e *UserInterruption) Error() string { return e.Message }

// generic error types that carry no useful classification of their own.
var anonymousErrorTypes = map[string]bool{
	"errorString": true,
	"wrapError":   true,
	"wrapErrors":  true,
	"joinError":   true,
	"":            true,
}

// ExitStatusOf classifies a terminal error by the name of the innermost
// error type in its chain that is not a plain wrapper.
func ExitStatusOf(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return ExitInterrupted
	}
	status := ""
	for e := err; e != nil; e = errors.Unwrap(e) {
		if name := typeName(e); !anonymousErrorTypes[name] {
			status = name
		}
	}
	if status == "" {
		return "Error"
	}
	return status
}

func typeName(err error) string {
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}
