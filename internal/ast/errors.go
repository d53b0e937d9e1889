package ast

import (
	"errors"
	"fmt"
)

var (
	errMissingTable         = errors.New("ast: query missing table")
	errMalformedRelated     = errors.New("ast: related entry missing name, keys or query")
	errConjunctionWithField = errors.New("ast: conjunction condition carries a field or value")
	errSimpleWithChildren   = errors.New("ast: simple condition carries sub-conditions")
	errSimpleWithoutField   = errors.New("ast: simple condition missing field")
)

// UnknownOperatorError reports a condition operator outside the supported
// set.
type UnknownOperatorError struct {
	Op Operator
}

func (e *UnknownOperatorError) Error() string {
	return fmt.Sprintf("ast: unknown condition operator %q", string(e.Op))
}
