package services

import "errors"

var (
	// ErrRuleNotFound is returned when a rule id does not exist
	ErrRuleNotFound = errors.New("rule not found")

	// ErrExecutionFinalized is returned when finishing a record that is no longer running
	ErrExecutionFinalized = errors.New("execution already finalized")

	// ErrInvalidRule wraps every save-time validation failure
	ErrInvalidRule = errors.New("invalid rule")

	// ErrExecutionNotFound is returned when finishing an unknown execution record
	ErrExecutionNotFound = errors.New("execution not found")
)
