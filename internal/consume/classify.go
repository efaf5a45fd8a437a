package consume

import "strings"

// Class is the outcome classification an error is sorted into before
// deciding ack/leave and whether to alert.
type Class string

const (
	ClassSuccess         Class = "success"
	ClassValidationError Class = "validation_error"
	ClassDuplicate       Class = "duplicate"
	ClassUnmappedEvent   Class = "unmapped_event"
	ClassPermanentError  Class = "permanent_error"
	ClassTransientError  Class = "transient_error"
)

// Kind is a declared error kind a handler can signal without relying on
// substring heuristics.
type Kind int

const (
	KindUnspecified Kind = iota
	KindConnection
	KindTimeout
	KindServerError
	KindThrottle
	KindCacheUnavailable
	KindDBUnavailable
	KindNotFound
	KindInvalidState
	KindBusinessRule
)

// Classified is an error tagged with a declared Kind, letting a
// handler opt out of the substring-heuristic fallback.
type Classified struct {
	err  error
	kind Kind
}

// WithKind tags err with an explicit transient/permanent kind.
func WithKind(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	return &Classified{err: err, kind: kind}
}

func (c *Classified) Error() string { return c.err.Error() }
func (c *Classified) Unwrap() error { return c.err }

var transientKinds = map[Kind]bool{
	KindConnection:       true,
	KindTimeout:          true,
	KindServerError:      true,
	KindThrottle:         true,
	KindCacheUnavailable: true,
	KindDBUnavailable:    true,
}

var permanentKinds = map[Kind]bool{
	KindNotFound:      true,
	KindInvalidState:  true,
	KindBusinessRule:  true,
}

var transientSubstrings = []string{
	"connection",
	"timeout",
	"temporarily unavailable",
	"throttl",
}

// ClassifyDispatchError sorts a dispatch-time error into Transient,
// Permanent, or (defaulting to) Transient-as-Unknown per spec.md §4.5.3.
// uniqueConstraintViolation signals a durable unique-constraint hit on
// processed_events, which is permanent and success-equivalent.
func ClassifyDispatchError(err error, uniqueConstraintViolation bool) Class {
	if err == nil {
		return ClassSuccess
	}
	if uniqueConstraintViolation {
		return ClassPermanentError
	}

	var c *Classified
	if asClassified(err, &c) {
		if permanentKinds[c.kind] {
			return ClassPermanentError
		}
		if transientKinds[c.kind] {
			return ClassTransientError
		}
	}

	lower := strings.ToLower(err.Error())
	for _, substr := range transientSubstrings {
		if strings.Contains(lower, substr) {
			return ClassTransientError
		}
	}

	// Unknown: treat as transient, preferring redelivery over silent loss.
	return ClassTransientError
}

func asClassified(err error, target **Classified) bool {
	for err != nil {
		if c, ok := err.(*Classified); ok {
			*target = c
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
