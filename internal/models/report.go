package models

import "time"

// ConnectivityTest is one low-level reachability check. OK means an HTTP
// response of any status arrived; receiving a 404 still proves the backend
// is up, so individual test failures are classified, not over-interpreted.
type ConnectivityTest struct {
	Name       string    `json:"name"`
	Target     string    `json:"target"`
	OK         bool      `json:"ok"`
	HTTPStatus *int      `json:"httpStatus,omitempty"`
	LatencyMs  int64     `json:"latencyMs"`
	Error      string    `json:"error,omitempty"`
	CheckedAt  time.Time `json:"checkedAt"`
}

// ConnectivityReport aggregates the sequential reachability battery.
type ConnectivityReport struct {
	Tests            []ConnectivityTest `json:"tests"`
	BackendReachable bool               `json:"backendReachable"`
	RanAt            time.Time          `json:"ranAt"`
}

// FormatTest is one payload-shape trial against the send endpoint.
type FormatTest struct {
	DeliveryAttempt
	FormatDescription string `json:"formatDescription"`
}

// FormatTestReport ranks the payload shapes the backend currently accepts,
// first-discovered-success first (catalog priority order).
type FormatTestReport struct {
	Tests             []FormatTest `json:"tests"`
	SuccessfulFormats []string     `json:"successfulFormats"`
	RanAt             time.Time    `json:"ranAt"`
}

type DiagnosticSummary struct {
	BackendReachable bool      `json:"backendReachable"`
	WorkingFormats   int       `json:"workingFormats"`
	GeneratedAt      time.Time `json:"generatedAt"`
}

// DiagnosticReport is the on-demand aggregation of connectivity tests,
// format discovery, and recent dispatcher history. It is JSON-serializable
// for on-screen rendering or export, and may be fed back into the endpoint
// catalog to reorder future attempts. It is never persisted.
type DiagnosticReport struct {
	Connectivity      *ConnectivityReport `json:"connectivity,omitempty"`
	FormatTests       []FormatTest        `json:"formatTests,omitempty"`
	SuccessfulFormats []string            `json:"successfulFormats,omitempty"`
	History           []DeliveryAttempt   `json:"history,omitempty"`
	Summary           DiagnosticSummary   `json:"summary"`
}
