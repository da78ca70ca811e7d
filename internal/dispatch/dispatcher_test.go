package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dmrelay/internal/catalog"
	apperrors "dmrelay/internal/errors"
	"dmrelay/internal/models"
	"dmrelay/internal/session"
	"dmrelay/internal/store"
	"dmrelay/internal/transport"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestDispatcher(t *testing.T, baseURL string, role models.Role) (*Dispatcher, *session.Session, *store.Store) {
	t.Helper()

	logger := testLogger()

	st, err := store.New(filepath.Join(t.TempDir(), "queue.db"), "user-1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	sess, err := session.New("user-1", role, "test-token", logger)
	require.NoError(t, err)

	exec := transport.NewExecutor(baseURL, sess.Token, 2*time.Second, nil, logger)
	d := New(catalog.Default(), exec, st, sess, logger)
	return d, sess, st
}

func serverMessageJSON(id, sender, receiver, content string) string {
	return fmt.Sprintf(`{"id":%q,"sender":%q,"receiver":%q,"content":%q,"createdAt":%q}`,
		id, sender, receiver, content, time.Now().UTC().Format(time.RFC3339))
}

func TestSend_FirstCandidateSucceeds(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, serverMessageJSON("srv-1", "user-1", "peer-9", "hi"))
	}))
	defer server.Close()

	d, sess, _ := newTestDispatcher(t, server.URL, models.RoleStudent)

	msg, err := d.Send(context.Background(), "peer-9", "hi")
	require.NoError(t, err)
	assert.Equal(t, "srv-1", msg.ID)
	assert.Equal(t, models.StatusSent, msg.Status)
	assert.Equal(t, 1, requests)
	assert.False(t, sess.LocalMode())

	history := d.History()
	require.Len(t, history, 1)
	assert.Equal(t, models.OutcomeSuccess, history[0].Outcome)
}

func TestSend_AdvancesPastFailures(t *testing.T) {
	// First candidate gets a 500, second a dropped connection, third a 201.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		switch {
		case r.URL.Path == "/api/messages/send" && strings.Contains(string(body), "recipientId"):
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error":"internal"}`)
		case r.URL.Path == "/api/messages/send":
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			_ = conn.Close()
		case r.URL.Path == "/api/messages":
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, serverMessageJSON("srv-2", "user-1", "peer-9", "hi"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	d, sess, st := newTestDispatcher(t, server.URL, models.RoleStudent)

	msg, err := d.Send(context.Background(), "peer-9", "hi")
	require.NoError(t, err)
	assert.Equal(t, "srv-2", msg.ID)
	assert.Equal(t, models.StatusSent, msg.Status)
	assert.False(t, sess.LocalMode())

	history := d.History()
	require.Len(t, history, 3)
	assert.Equal(t, models.OutcomeHTTPError, history[0].Outcome)
	assert.Equal(t, models.OutcomeNetworkError, history[1].Outcome)
	assert.Equal(t, models.OutcomeSuccess, history[2].Outcome)

	count, err := st.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSend_UnparsableSuccessBodyAdvances(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusOK)
		if requests == 1 {
			fmt.Fprint(w, "<html>не json</html>")
			return
		}
		fmt.Fprint(w, serverMessageJSON("srv-3", "user-1", "peer-9", "hi"))
	}))
	defer server.Close()

	d, _, _ := newTestDispatcher(t, server.URL, models.RoleStudent)

	msg, err := d.Send(context.Background(), "peer-9", "hi")
	require.NoError(t, err)
	assert.Equal(t, "srv-3", msg.ID)

	history := d.History()
	require.GreaterOrEqual(t, len(history), 2)
	assert.Equal(t, models.OutcomeHTTPError, history[0].Outcome)
}

func TestSend_ExhaustionQueuesOffline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	d, sess, st := newTestDispatcher(t, server.URL, models.RoleStudent)

	msg, err := d.Send(context.Background(), "peer-9", "hi")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, models.StatusQueuedOffline, msg.Status)
	assert.True(t, strings.HasPrefix(msg.ID, "local_"))
	assert.True(t, msg.Queued())
	assert.True(t, sess.LocalMode())

	queued, err := st.List(context.Background(), "peer-9")
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "hi", queued[0].Content)
	assert.Equal(t, "user-1", queued[0].Sender)
}

func TestSend_ExhaustionLogsErrorCode(t *testing.T) {
	// Grab a port that nothing listens on
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := server.URL
	server.Close()

	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(&buf)

	st, err := store.New(filepath.Join(t.TempDir(), "queue.db"), "user-1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	sess, err := session.New("user-1", models.RoleStudent, "test-token", testLogger())
	require.NoError(t, err)
	exec := transport.NewExecutor(deadURL, sess.Token, time.Second, nil, testLogger())
	d := New(catalog.Default(), exec, st, sess, logger)

	msg, err := d.Send(context.Background(), "peer-9", "hi")
	require.NoError(t, err)
	require.True(t, msg.Queued())

	// The exhaustion warning carries the classified error's structured
	// context, not just its string
	output := buf.String()
	assert.Contains(t, output, `"error_code":"NETWORK_ERROR"`)
	assert.Contains(t, output, `"retryable":true`)
	assert.Contains(t, output, `"receiver":"peer-9"`)
}

func TestSend_InvalidInputFailsFast(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request should be made for invalid input")
	}))
	defer server.Close()

	d, sess, _ := newTestDispatcher(t, server.URL, models.RoleStudent)

	_, err := d.Send(context.Background(), "peer-9", "   ")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidArgument, apperrors.GetCode(err))

	_, err = d.Send(context.Background(), "", "hi")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidArgument, apperrors.GetCode(err))

	assert.Empty(t, d.History())
	assert.False(t, sess.LocalMode())
}

func TestSend_StaffRoutesOnlyForStaff(t *testing.T) {
	var staffHit bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/staff/") {
			staffHit = true
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, serverMessageJSON("srv-4", "user-1", "peer-9", "hi"))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	student, _, _ := newTestDispatcher(t, server.URL, models.RoleStudent)
	msg, err := student.Send(context.Background(), "peer-9", "hi")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueuedOffline, msg.Status)
	assert.False(t, staffHit)

	admin, _, _ := newTestDispatcher(t, server.URL, models.RoleAdmin)
	msg, err = admin.Send(context.Background(), "peer-9", "hi")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, msg.Status)
	assert.True(t, staffHit)
}

func TestFetchMessages_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/messages/conversation/peer-9", r.URL.Path)
		fmt.Fprintf(w, `{"messages":[%s,%s]}`,
			serverMessageJSON("srv-1", "peer-9", "user-1", "hello"),
			serverMessageJSON("srv-2", "user-1", "peer-9", "hi back"))
	}))
	defer server.Close()

	d, _, _ := newTestDispatcher(t, server.URL, models.RoleStudent)

	msgs, err := d.FetchMessages(context.Background(), "peer-9")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "hi back", msgs[1].Content)
}

func TestFetchMessages_ExhaustionServesQueue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	d, sess, st := newTestDispatcher(t, server.URL, models.RoleStudent)

	queued := &models.Message{
		ID: "local_1", Sender: "user-1", Receiver: "peer-9",
		Content: "queued one", Status: models.StatusQueuedOffline,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.Append(context.Background(), queued))

	msgs, err := d.FetchMessages(context.Background(), "peer-9")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "queued one", msgs[0].Content)
	assert.True(t, sess.LocalMode())
}

func TestFetchMessages_LocalModeMergesQueue(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[{"id":"srv-1","sender":"peer-9","receiver":"user-1","content":"remote","createdAt":%q}]`,
			now.Add(-time.Minute).Format(time.RFC3339))
	}))
	defer server.Close()

	d, sess, st := newTestDispatcher(t, server.URL, models.RoleStudent)
	sess.EnterLocalMode("test")

	require.NoError(t, st.Append(context.Background(), &models.Message{
		ID: "local_1", Sender: "user-1", Receiver: "peer-9",
		Content: "queued", Status: models.StatusQueuedOffline, CreatedAt: now,
	}))

	msgs, err := d.FetchMessages(context.Background(), "peer-9")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "remote", msgs[0].Content)
	assert.Equal(t, "queued", msgs[1].Content)
}

func TestFetchMessages_InvalidPeer(t *testing.T) {
	d, _, _ := newTestDispatcher(t, "http://127.0.0.1:0", models.RoleStudent)

	_, err := d.FetchMessages(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidArgument, apperrors.GetCode(err))
}

func TestMarkRead_BestEffort(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	d, sess, _ := newTestDispatcher(t, server.URL, models.RoleStudent)

	d.MarkRead(context.Background(), "peer-9")
	assert.Equal(t, 2, hits) // student sees two mark-read candidates
	assert.True(t, sess.LocalMode())
}

func TestMarkRead_StopsOnFirstSuccess(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer server.Close()

	d, sess, _ := newTestDispatcher(t, server.URL, models.RoleStudent)

	d.MarkRead(context.Background(), "peer-9")
	assert.Equal(t, 1, hits)
	assert.False(t, sess.LocalMode())
}

func TestFlush_ReplaysInOrder(t *testing.T) {
	var delivered []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		content, _ := payload["content"].(string)
		delivered = append(delivered, content)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, serverMessageJSON("srv-"+content, "user-1", "peer-9", content))
	}))
	defer server.Close()

	d, sess, st := newTestDispatcher(t, server.URL, models.RoleStudent)
	sess.EnterLocalMode("test")

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, st.Append(ctx, &models.Message{
		ID: "local_1", Sender: "user-1", Receiver: "peer-9",
		Content: "first", Status: models.StatusQueuedOffline, CreatedAt: now,
	}))
	require.NoError(t, st.Append(ctx, &models.Message{
		ID: "local_2", Sender: "user-1", Receiver: "peer-9",
		Content: "second", Status: models.StatusQueuedOffline, CreatedAt: now.Add(time.Second),
	}))

	sent, err := d.Flush(ctx, "peer-9")
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, []string{"first", "second"}, delivered)

	count, err := st.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	// Flushing does not restore online operation by itself
	assert.True(t, sess.LocalMode())
}

func TestFlush_HaltsOnFirstFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), "poisoned") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, serverMessageJSON("srv-1", "user-1", "peer-9", "ok"))
	}))
	defer server.Close()

	d, _, st := newTestDispatcher(t, server.URL, models.RoleStudent)

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, st.Append(ctx, &models.Message{
		ID: "local_1", Sender: "user-1", Receiver: "peer-9",
		Content: "poisoned", Status: models.StatusQueuedOffline, CreatedAt: now,
	}))
	require.NoError(t, st.Append(ctx, &models.Message{
		ID: "local_2", Sender: "user-1", Receiver: "peer-9",
		Content: "fine", Status: models.StatusQueuedOffline, CreatedAt: now.Add(time.Second),
	}))

	sent, err := d.Flush(ctx, "peer-9")
	require.Error(t, err)
	assert.Zero(t, sent)

	// Nothing was removed: the failed head blocks the queue
	count, err := st.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestFlush_EmptyQueue(t *testing.T) {
	d, _, _ := newTestDispatcher(t, "http://127.0.0.1:0", models.RoleStudent)

	sent, err := d.Flush(context.Background(), "peer-9")
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestHistory_Bounded(t *testing.T) {
	d, _, _ := newTestDispatcher(t, "http://127.0.0.1:0", models.RoleStudent)

	for i := 0; i < 150; i++ {
		d.recordAttempt(models.DeliveryAttempt{Candidate: "synthetic", Outcome: models.OutcomeNetworkError})
	}
	assert.Len(t, d.History(), 100)
}

func TestOfflineID_Format(t *testing.T) {
	id := offlineID()
	assert.True(t, strings.HasPrefix(id, "local_"))
	assert.NotEqual(t, id, offlineID())
}
