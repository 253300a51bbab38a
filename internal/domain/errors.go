package domain

import "errors"

var (
	// ErrFlowNotFound means no flow record exists for the participant yet.
	// Callers treat this as "new participant", not a failure.
	ErrFlowNotFound = errors.New("flow state not found")
	// ErrStaleTransition is returned when an advance is attempted from a stage
	// that is no longer current; the caller must re-read state.
	ErrStaleTransition = errors.New("stale stage transition")
	// ErrTerminalStage is returned when advancing from completed.
	ErrTerminalStage = errors.New("flow already completed")
	// ErrNotPermitted is returned for dev-only operations outside dev mode.
	ErrNotPermitted = errors.New("operation not permitted")
	// ErrResetRequired is returned by the guard when the live stage does not
	// match the stage a view requires; the flow has already been reset.
	ErrResetRequired = errors.New("flow reset required")
	// ErrLessonNotFound indicates the lesson content could not be loaded.
	ErrLessonNotFound = errors.New("lesson not found")
	// ErrInvalidCondition indicates an unknown condition value.
	ErrInvalidCondition = errors.New("invalid condition")
	// ErrInvalidTestType indicates an unknown test type on an attempt.
	ErrInvalidTestType = errors.New("invalid test type")
	// ErrFinalTestTooEarly is returned when a final-test attempt is recorded
	// before the flow has reached the final-test stage.
	ErrFinalTestTooEarly = errors.New("final test not yet reachable")
)
