package session

import (
	"testing"
	"time"

	"dmrelay/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	s, err := New("u42", models.RoleStudent, "secret-token", logger)
	require.NoError(t, err)
	return s
}

func TestNew_RequiresUserID(t *testing.T) {
	_, err := New("", models.RoleStudent, "", nil)
	assert.Error(t, err)
}

func TestNew_DefaultsRole(t *testing.T) {
	s, err := New("u42", "", "", nil)
	require.NoError(t, err)
	assert.Equal(t, models.RoleStudent, s.Role())
}

func TestEnterLocalMode_Idempotent(t *testing.T) {
	s := newTestSession(t)

	assert.False(t, s.LocalMode())
	s.EnterLocalMode("all candidates exhausted")
	assert.True(t, s.LocalMode())

	first := s.localModeSince
	s.EnterLocalMode("again")
	assert.Equal(t, first, s.localModeSince, "second flip should be a no-op")
}

func TestClearLocalMode_RequiresReachableReport(t *testing.T) {
	s := newTestSession(t)
	s.EnterLocalMode("test")

	assert.Error(t, s.ClearLocalMode(nil))
	assert.True(t, s.LocalMode())

	unreachable := &models.ConnectivityReport{BackendReachable: false, RanAt: time.Now()}
	assert.Error(t, s.ClearLocalMode(unreachable))
	assert.True(t, s.LocalMode())

	reachable := &models.ConnectivityReport{BackendReachable: true, RanAt: time.Now()}
	assert.NoError(t, s.ClearLocalMode(reachable))
	assert.False(t, s.LocalMode())
}

func TestClearLocalMode_NoOpWhenOnline(t *testing.T) {
	s := newTestSession(t)
	reachable := &models.ConnectivityReport{BackendReachable: true, RanAt: time.Now()}
	assert.NoError(t, s.ClearLocalMode(reachable))
}

func TestReset(t *testing.T) {
	s := newTestSession(t)
	s.EnterLocalMode("test")
	s.Reset()

	assert.Empty(t, s.Token())
	assert.False(t, s.LocalMode())
	assert.Equal(t, "u42", s.UserID(), "identity survives reset")
}
