package domain

import "errors"

// ErrInvalidPath is returned when a variable path is malformed or a step
// does not resolve to an existing value.
var ErrInvalidPath = errors.New("invalid variable path")

// ErrInvalidAssignment is returned when a value of the wrong shape is
// written to the variable store (e.g. a top-level merge of a non-map).
var ErrInvalidAssignment = errors.New("invalid variable assignment")

// ErrExpression is returned when a decision-table condition or manipulation
// fails to evaluate. It routes the table to its error node instead of
// aborting the run.
var ErrExpression = errors.New("expression evaluation failed")

// ErrGraphDefinition is returned at build time when the graph references an
// unknown node.
var ErrGraphDefinition = errors.New("invalid graph definition")

// ErrSessionNotFound is returned when a session ID cannot be found in the store.
var ErrSessionNotFound = errors.New("session not found")
