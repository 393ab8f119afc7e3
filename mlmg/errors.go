package mlmg

import (
	"errors"
	"fmt"
)

var (
	// ErrLayoutMismatch indicates supplied fields whose count or layout does
	// not match the operator's AMR levels.
	ErrLayoutMismatch = errors.New("mlmg: field layout does not match operator")

	// ErrBottomUnavailable indicates a bottom solver that cannot be provided
	// for this operator or backend set.
	ErrBottomUnavailable = errors.New("mlmg: bottom solver unavailable")

	// ErrNSolveUnsupported indicates a nested solve requested for an
	// operator that cannot re-pose its bottom level.
	ErrNSolveUnsupported = errors.New("mlmg: nested solve unsupported by operator")

	// ErrExternalSolve indicates an assembly or solve failure in an external
	// bottom solver. The solve is aborted without applying a correction.
	ErrExternalSolve = errors.New("mlmg: external bottom solve failed")

	// ErrNonFinite indicates NaN or Inf found by a diagnostic check
	ErrNonFinite = errors.New("mlmg: non-finite value")

	ErrInvalidConfig = errors.New("mlmg: invalid configuration")
)

// LevelError attaches the level an error was found on
type LevelError struct {
	AMRLevel int
	MGLevel  int
	Op       string
	Err      error
}

func (e *LevelError) Error() string {
	return fmt.Sprintf("%s on amr level %d, mg level %d: %v", e.Op, e.AMRLevel, e.MGLevel, e.Err)
}

func (e *LevelError) Unwrap() error {
	return e.Err
}
