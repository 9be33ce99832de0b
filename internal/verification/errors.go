package verification

import "errors"

var (
	// ErrJudgeUnavailable is returned when enhanced verification is requested
	// but no escalation judge is configured.
	ErrJudgeUnavailable = errors.New("escalation judge not configured")

	// ErrInvalidJudgment is returned when a judge produces an unusable result.
	ErrInvalidJudgment = errors.New("invalid escalation judgment")
)
