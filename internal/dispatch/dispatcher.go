package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"dmrelay/internal/catalog"
	"dmrelay/internal/constants"
	apperrors "dmrelay/internal/errors"
	"dmrelay/internal/metrics"
	"dmrelay/internal/models"
	"dmrelay/internal/session"
	"dmrelay/internal/store"
	"dmrelay/internal/tracing"
	"dmrelay/internal/transport"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Dispatcher walks the ordered endpoint candidates for each operation,
// short-circuiting on the first success. A failed candidate never aborts
// the operation; only exhausting the whole list does, and for sends even
// exhaustion degrades to the offline queue rather than a user-facing error.
type Dispatcher struct {
	catalog *catalog.Catalog
	exec    *transport.Executor
	store   *store.Store
	session *session.Session
	logger  *apperrors.Logger

	historyMu sync.Mutex
	history   []models.DeliveryAttempt
}

func New(cat *catalog.Catalog, exec *transport.Executor, st *store.Store, sess *session.Session, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Dispatcher{
		catalog: cat,
		exec:    exec,
		store:   st,
		session: sess,
		logger:  &apperrors.Logger{Logger: logger},
	}
}

// SendOption adjusts a single send.
type SendOption func(*sendOptions)

type sendOptions struct {
	subject string
}

// WithSubject attaches an optional subject line to the outgoing message.
func WithSubject(subject string) SendOption {
	return func(o *sendOptions) { o.subject = subject }
}

// Send delivers a direct message to receiver, trying every eligible
// candidate in catalog order. When all candidates fail the message is
// queued locally and returned with the queued-offline status; the caller
// only sees an error for invalid input or a broken local store.
func (d *Dispatcher) Send(ctx context.Context, receiver, content string, opts ...SendOption) (*models.Message, error) {
	var options sendOptions
	for _, opt := range opts {
		opt(&options)
	}

	receiver = strings.TrimSpace(receiver)
	if receiver == "" {
		return nil, apperrors.NewInvalidArgumentError("receiver", "cannot be empty")
	}
	if strings.TrimSpace(content) == "" {
		return nil, apperrors.NewInvalidArgumentError("content", "cannot be empty")
	}

	ctx, span := tracing.StartSpan(ctx, "dispatch.send",
		attribute.String("receiver", receiver),
	)
	defer span.End()

	start := time.Now()
	msg, attempts, err := d.deliver(ctx, receiver, content, options.subject)
	metrics.RecordTimer("dispatch_send_duration", time.Since(start), nil)

	if err == nil {
		metrics.IncrementCounter("dispatch_send_total", map[string]string{"result": "sent"}, "Send operations by result")
		return msg, nil
	}

	// Every candidate failed. Queue the message locally instead of
	// surfacing the last candidate's error.
	d.logger.LogWarn(err, "All delivery candidates failed; queueing message offline", logrus.Fields{
		"receiver": receiver,
		"attempts": len(attempts),
	})

	queued := &models.Message{
		ID:        offlineID(),
		Sender:    d.session.UserID(),
		Receiver:  receiver,
		Content:   content,
		Subject:   options.subject,
		Status:    models.StatusQueuedOffline,
		CreatedAt: time.Now().UTC(),
	}

	if storeErr := d.store.Append(ctx, queued); storeErr != nil {
		metrics.IncrementCounter("dispatch_send_total", map[string]string{"result": "store_error"}, "Send operations by result")
		return nil, storeErr
	}

	d.session.EnterLocalMode(fmt.Sprintf("send to %s exhausted %d candidates", receiver, len(attempts)))
	metrics.IncrementCounter("dispatch_send_total", map[string]string{"result": "queued_offline"}, "Send operations by result")
	return queued, nil
}

// deliver walks the send candidates once. It returns the parsed message on
// the first clean success, or the last failure after exhaustion. Used by
// both Send and Flush; it never touches the offline queue itself.
func (d *Dispatcher) deliver(ctx context.Context, receiver, content, subject string) (*models.Message, []models.DeliveryAttempt, error) {
	candidates := d.catalog.Candidates(models.OpSend, d.session.Role())
	if len(candidates) == 0 {
		return nil, nil, apperrors.New(apperrors.ErrCodeInternalError, "no send candidates available")
	}

	attempts := make([]models.DeliveryAttempt, 0, len(candidates))
	var lastErr error

	for _, cand := range candidates {
		var payload interface{}
		if cand.Shape != nil {
			payload = cand.Shape(receiver, content, subject)
		}

		attempt, body, err := d.exec.Do(ctx, cand, nil, payload)

		if err == nil {
			msg, parseErr := models.DecodeWireMessage(body)
			if parseErr != nil {
				// A 2xx we cannot interpret counts as a failed candidate.
				attempt.Outcome = models.OutcomeHTTPError
				attempt.Error = parseErr.Error()
				err = apperrors.NewParseError(parseErr)
			} else {
				d.recordAttempt(attempt)
				attempts = append(attempts, attempt)
				msg.Status = models.StatusSent
				if msg.Receiver == "" {
					msg.Receiver = receiver
				}
				if msg.Content == "" {
					msg.Content = content
				}
				return msg, attempts, nil
			}
		}

		d.recordAttempt(attempt)
		attempts = append(attempts, attempt)
		lastErr = err

		if ctx.Err() != nil {
			return nil, attempts, ctx.Err()
		}
	}

	return nil, attempts, lastErr
}

// FetchMessages retrieves the conversation with peer. In local mode, or
// when every backend candidate fails, the locally queued messages are what
// the caller gets; a successful backend fetch in local mode is merged with
// the queue so queued sends stay visible until flushed.
func (d *Dispatcher) FetchMessages(ctx context.Context, peer string) ([]models.Message, error) {
	peer = strings.TrimSpace(peer)
	if peer == "" {
		return nil, apperrors.NewInvalidArgumentError("peer", "cannot be empty")
	}

	ctx, span := tracing.StartSpan(ctx, "dispatch.fetch",
		attribute.String("peer", peer),
	)
	defer span.End()

	vars := map[string]string{"peer": peer}
	candidates := d.catalog.Candidates(models.OpFetch, d.session.Role())

	var lastErr error
	for _, cand := range candidates {
		attempt, body, err := d.exec.Do(ctx, cand, vars, nil)

		if err == nil {
			remote, parseErr := models.DecodeWireMessages(body)
			if parseErr != nil {
				attempt.Outcome = models.OutcomeHTTPError
				attempt.Error = parseErr.Error()
				err = apperrors.NewParseError(parseErr)
			} else {
				d.recordAttempt(attempt)
				metrics.IncrementCounter("dispatch_fetch_total", map[string]string{"result": "fetched"}, "Fetch operations by result")
				if d.session.LocalMode() {
					return d.mergeQueued(ctx, peer, remote), nil
				}
				return remote, nil
			}
		}

		d.recordAttempt(attempt)
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	d.logger.LogWarn(lastErr, "All fetch candidates failed; serving offline queue only", logrus.Fields{
		"peer": peer,
	})

	d.session.EnterLocalMode(fmt.Sprintf("fetch for %s exhausted all candidates", peer))
	metrics.IncrementCounter("dispatch_fetch_total", map[string]string{"result": "offline"}, "Fetch operations by result")

	queued, storeErr := d.store.List(ctx, peer)
	if storeErr != nil {
		return nil, storeErr
	}
	return queued, nil
}

// mergeQueued folds the offline queue for peer into a fetched conversation,
// deduplicating by id and keeping chronological order.
func (d *Dispatcher) mergeQueued(ctx context.Context, peer string, remote []models.Message) []models.Message {
	queued, err := d.store.List(ctx, peer)
	if err != nil {
		d.logger.WithError(err).Warn("Failed to read offline queue during merge")
		return remote
	}
	if len(queued) == 0 {
		return remote
	}

	seen := make(map[string]bool, len(remote))
	for _, m := range remote {
		seen[m.ID] = true
	}

	merged := remote
	for _, m := range queued {
		if !seen[m.ID] {
			merged = append(merged, m)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.Before(merged[j].CreatedAt)
	})
	return merged
}

// MarkRead tells the backend the conversation with peer has been read.
// This is best-effort: failures are logged at low severity and never
// propagate, because a missed read receipt must not break messaging.
func (d *Dispatcher) MarkRead(ctx context.Context, peer string) {
	peer = strings.TrimSpace(peer)
	if peer == "" {
		return
	}

	ctx, span := tracing.StartSpan(ctx, "dispatch.mark_read",
		attribute.String("peer", peer),
	)
	defer span.End()

	vars := map[string]string{"peer": peer}
	candidates := d.catalog.Candidates(models.OpMarkRead, d.session.Role())

	for _, cand := range candidates {
		var payload interface{}
		if cand.Shape != nil {
			payload = cand.Shape(peer, "", "")
		}

		attempt, _, err := d.exec.Do(ctx, cand, vars, payload)
		d.recordAttempt(attempt)

		if err == nil {
			metrics.IncrementCounter("dispatch_mark_read_total", map[string]string{"result": "ok"}, "Mark-read operations by result")
			return
		}
		if ctx.Err() != nil {
			return
		}
	}

	d.logger.WithField("peer", peer).Debug("Mark-read failed on all candidates")
	d.session.EnterLocalMode(fmt.Sprintf("mark-read for %s exhausted all candidates", peer))
	metrics.IncrementCounter("dispatch_mark_read_total", map[string]string{"result": "failed"}, "Mark-read operations by result")
}

// Flush replays the offline queue for peer (or the whole queue when peer is
// empty) in chronological order, removing each message on success. It halts
// at the first message that cannot be delivered so ordering is preserved,
// and reports how many messages went out. Flush never clears local mode;
// that requires a connectivity report.
func (d *Dispatcher) Flush(ctx context.Context, peer string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "dispatch.flush")
	defer span.End()

	queued, err := d.store.List(ctx, peer)
	if err != nil {
		return 0, err
	}

	sent := 0
	for i := range queued {
		msg := &queued[i]

		delivered, _, deliverErr := d.deliver(ctx, msg.Receiver, msg.Content, msg.Subject)
		if deliverErr != nil {
			d.logger.LogRetryableError(deliverErr, "Flush halted; message could not be delivered", logrus.Fields{
				"id":       msg.ID,
				"receiver": msg.Receiver,
				"flushed":  sent,
			})
			metrics.SetGauge("dispatch_flush_pending", float64(len(queued)-sent), nil, "Messages remaining in the offline queue after last flush")
			return sent, deliverErr
		}

		if removeErr := d.store.Remove(ctx, msg.ID); removeErr != nil {
			// The message is delivered; a failed removal must not replay it
			// in this run, but the error still surfaces.
			return sent + 1, removeErr
		}

		sent++
		d.logger.WithFields(logrus.Fields{
			"local_id":  msg.ID,
			"server_id": delivered.ID,
			"receiver":  msg.Receiver,
		}).Info("Queued message delivered")
	}

	metrics.SetGauge("dispatch_flush_pending", 0, nil, "Messages remaining in the offline queue after last flush")
	return sent, nil
}

// History returns a copy of the most recent delivery attempts, oldest first.
func (d *Dispatcher) History() []models.DeliveryAttempt {
	d.historyMu.Lock()
	defer d.historyMu.Unlock()

	out := make([]models.DeliveryAttempt, len(d.history))
	copy(out, d.history)
	return out
}

func (d *Dispatcher) recordAttempt(attempt models.DeliveryAttempt) {
	d.historyMu.Lock()
	d.history = append(d.history, attempt)
	if len(d.history) > constants.MaxAttemptHistory {
		d.history = d.history[len(d.history)-constants.MaxAttemptHistory:]
	}
	d.historyMu.Unlock()

	metrics.IncrementCounter("dispatch_attempts_total", map[string]string{
		"outcome": string(attempt.Outcome),
	}, "Delivery attempts by outcome")
}

// offlineID builds a client-assigned id for a locally queued message. The
// prefix makes queued entries recognizable anywhere an id surfaces.
func offlineID() string {
	return fmt.Sprintf("%s%d_%s", constants.OfflineIDPrefix, time.Now().UnixMilli(), uuid.New().String()[:8])
}
