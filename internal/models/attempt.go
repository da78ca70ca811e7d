package models

import "time"

type AttemptOutcome string

const (
	OutcomeSuccess      AttemptOutcome = "success"
	OutcomeHTTPError    AttemptOutcome = "httpError"
	OutcomeNetworkError AttemptOutcome = "networkError"
	OutcomeTimeout      AttemptOutcome = "timeout"
)

// DeliveryAttempt records a single try against one endpoint candidate.
// Attempts are append-only; they are never mutated after being recorded.
type DeliveryAttempt struct {
	Candidate    string         `json:"candidate"`
	Method       string         `json:"method"`
	URL          string         `json:"url"`
	StartedAt    time.Time      `json:"startedAt"`
	DurationMs   int64          `json:"durationMs"`
	HTTPStatus   *int           `json:"httpStatus,omitempty"`
	Outcome      AttemptOutcome `json:"outcome"`
	ResponseBody string         `json:"responseBody,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// Succeeded reports whether the attempt reached a 2xx and parsed cleanly.
func (a DeliveryAttempt) Succeeded() bool {
	return a.Outcome == OutcomeSuccess
}
