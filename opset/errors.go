package opset

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Error kinds. Errors returned by this package wrap one of them, and can be tested with errors.Is.
var (
	ErrUnsupportedInputKind     = errors.New("unsupported input kind")
	ErrTypeInference            = errors.New("cannot infer element type")
	ErrMissingAttribute         = errors.New("missing attribute")
	ErrUnknownAttribute         = errors.New("unknown attribute")
	ErrAttributeTypeMismatch    = errors.New("attribute type mismatch")
	ErrAttributeValueOutOfRange = errors.New("attribute value out of range")
	ErrUnknownOperation         = errors.New("unknown operation")
	ErrInputArityMismatch       = errors.New("input arity mismatch")
	ErrGraphConstruction        = errors.New("graph construction error")
	ErrDuplicateNodeName        = errors.New("duplicate node name")
)

// Error describes a failure to build a node. Kind is one of the Err* sentinels above, and the other
// fields identify what failed, when known.
//
// It supports errors.Is for both the Kind and the Cause.
type Error struct {
	Kind      error
	Opset     ID
	Op        string
	Attribute string
	Input     int // Index of the offending input, -1 if not applicable.
	Expected  string
	Actual    string
	Cause     error
}

func newError(kind error) *Error {
	return &Error{Kind: kind, Input: -1}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		if e.Opset != "" {
			parts = append(parts, fmt.Sprintf("%s.%s", e.Opset, e.Op))
		} else {
			parts = append(parts, e.Op)
		}
	}
	parts = append(parts, e.Kind.Error())
	var details []string
	if e.Attribute != "" {
		details = append(details, fmt.Sprintf("attribute %q", e.Attribute))
	}
	if e.Input >= 0 {
		details = append(details, fmt.Sprintf("input #%d", e.Input))
	}
	if e.Expected != "" {
		details = append(details, "expected "+e.Expected)
	}
	if e.Actual != "" {
		details = append(details, "got "+e.Actual)
	}
	msg := strings.Join(parts, ": ")
	if len(details) > 0 {
		msg += " (" + strings.Join(details, ", ") + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap allows errors.Is and errors.As to match both the Kind and the Cause.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// withOp sets the operation fields of err if it is an *Error that doesn't have them yet.
func withOp(err error, id ID, op string) error {
	var opErr *Error
	if errors.As(err, &opErr) && opErr.Op == "" {
		opErr.Opset, opErr.Op = id, op
	}
	return err
}
