package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dmrelay/internal/constants"
	apperrors "dmrelay/internal/errors"
	"dmrelay/internal/models"
	"dmrelay/internal/tracing"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// TokenSource supplies the bearer credential attached to every outbound
// request. The authentication layer owns refresh; we only read.
type TokenSource func() string

// Executor performs one delivery attempt against one endpoint candidate.
// It is the single request path for the dispatcher and the probes, so every
// attempt gets the same timeout, auth, logging, and failure classification.
type Executor struct {
	baseURL string
	client  *http.Client
	token   TokenSource
	timeout time.Duration
	logger  *logrus.Logger
}

func NewExecutor(baseURL string, token TokenSource, timeout time.Duration, httpClient *http.Client, logger *logrus.Logger) *Executor {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	if timeout <= 0 {
		timeout = time.Duration(constants.DefaultAttemptTimeoutSec) * time.Second
	}
	if token == nil {
		token = func() string { return "" }
	}

	return &Executor{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  httpClient,
		token:   token,
		timeout: timeout,
		logger:  logger,
	}
}

// BaseURL returns the backend origin the executor targets.
func (e *Executor) BaseURL() string {
	return e.baseURL
}

// Do performs a single attempt. The returned DeliveryAttempt is always
// populated, whatever the outcome; the body is returned on any response
// that arrived, and err is non-nil for every non-success outcome.
func (e *Executor) Do(ctx context.Context, cand models.EndpointCandidate, vars map[string]string, payload interface{}) (models.DeliveryAttempt, []byte, error) {
	endpoint := e.baseURL + cand.ExpandRoute(vars)

	attempt := models.DeliveryAttempt{
		Candidate: cand.Description,
		Method:    cand.Method,
		URL:       endpoint,
		StartedAt: time.Now(),
	}

	ctx, span := tracing.StartSpan(ctx, "transport.attempt",
		attribute.String("candidate", cand.Description),
		attribute.String("http.method", cand.Method),
		attribute.String("http.url", endpoint),
	)
	defer span.End()

	var reqBody io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			attempt.Outcome = models.OutcomeNetworkError
			attempt.Error = err.Error()
			return attempt, nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, cand.Method, endpoint, reqBody)
	if err != nil {
		attempt.Outcome = models.OutcomeNetworkError
		attempt.Error = err.Error()
		return attempt, nil, fmt.Errorf("failed to create request: %w", err)
	}

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := e.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.client.Do(req)
	attempt.DurationMs = time.Since(attempt.StartedAt).Milliseconds()

	if err != nil {
		appErr := apperrors.ClassifyTransportError(err)
		if appErr.Code == apperrors.ErrCodeTimeout {
			attempt.Outcome = models.OutcomeTimeout
		} else {
			attempt.Outcome = models.OutcomeNetworkError
		}
		attempt.Error = err.Error()

		tracing.RecordError(ctx, appErr)
		e.logAttempt(attempt)
		return attempt, nil, appErr
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	attempt.HTTPStatus = &status

	// Best-effort body capture, bounded so a misbehaving endpoint cannot
	// balloon the attempt record.
	bodyBytes, readErr := io.ReadAll(io.LimitReader(resp.Body, constants.MaxResponseBodyBytes))
	if readErr != nil {
		bodyBytes = nil
	}
	attempt.ResponseBody = string(bodyBytes)

	if status < 200 || status >= 300 {
		attempt.Outcome = models.OutcomeHTTPError
		appErr := apperrors.NewHTTPError(status, attempt.ResponseBody)

		tracing.SetSpanStatus(ctx, codes.Error, fmt.Sprintf("status %d", status))
		e.logAttempt(attempt)
		return attempt, bodyBytes, appErr
	}

	attempt.Outcome = models.OutcomeSuccess
	tracing.SetSpanStatus(ctx, codes.Ok, "")
	e.logAttempt(attempt)
	return attempt, bodyBytes, nil
}

func (e *Executor) logAttempt(attempt models.DeliveryAttempt) {
	fields := logrus.Fields{
		"candidate":   attempt.Candidate,
		"method":      attempt.Method,
		"url":         attempt.URL,
		"outcome":     attempt.Outcome,
		"duration_ms": attempt.DurationMs,
	}
	if attempt.HTTPStatus != nil {
		fields["status"] = *attempt.HTTPStatus
	}
	if attempt.Error != "" {
		fields["error"] = attempt.Error
	}

	if attempt.Outcome == models.OutcomeSuccess {
		e.logger.WithFields(fields).Debug("Delivery attempt succeeded")
	} else {
		e.logger.WithFields(fields).Debug("Delivery attempt failed")
	}
}
