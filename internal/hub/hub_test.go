package hub_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raysh454/proctor/internal/hub"
	"github.com/raysh454/proctor/internal/ledger"
	"github.com/raysh454/proctor/internal/model"
	"github.com/raysh454/proctor/internal/session"
	"github.com/raysh454/proctor/internal/testutil"
)

type envelope struct {
	Type    hub.MessageType `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func recv(t *testing.T, ch <-chan []byte) envelope {
	t.Helper()
	select {
	case data := <-ch:
		var env envelope
		require.NoError(t, json.Unmarshal(data, &env))
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return envelope{}
}

func TestPublish_TopicsAndDedup(t *testing.T) {
	t.Parallel()
	h := hub.New(hub.DefaultConfig(), &testutil.DummyLogger{})

	both, cancelBoth := h.Listen(4, hub.ExamTopic("e1"), hub.TopicModerators)
	defer cancelBoth()
	other, cancelOther := h.Listen(4, hub.ExamTopic("e2"))
	defer cancelOther()

	h.Publish(hub.Message{Type: hub.TypeStudentStatus, Payload: "x"}, hub.ExamTopic("e1"), hub.TopicModerators)

	assert.Equal(t, hub.TypeStudentStatus, recv(t, both).Type)
	select {
	case <-both:
		t.Fatal("subscriber on two topics must receive the message once")
	case <-other:
		t.Fatal("unrelated topic received message")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublish_DropsSlowSubscriber(t *testing.T) {
	t.Parallel()
	logger := &testutil.DummyLogger{}
	h := hub.New(hub.DefaultConfig(), logger)
	ch, cancel := h.Listen(1, hub.TopicModerators)
	defer cancel()

	h.Publish(hub.Message{Type: hub.TypeStudentStatus}, hub.TopicModerators)
	h.Publish(hub.Message{Type: hub.TypeStudentStatus}, hub.TopicModerators)

	<-ch
	_, open := <-ch
	assert.False(t, open, "slow subscriber channel should be closed")
	assert.Equal(t, 1, logger.WarnCount())
}

func TestOnLedgerEvent_ViolationAndTermination(t *testing.T) {
	t.Parallel()
	h := hub.New(hub.DefaultConfig(), &testutil.DummyLogger{})
	mods, cancelMods := h.Listen(8, hub.TopicModerators)
	defer cancelMods()
	student, cancelStudent := h.Listen(8, hub.SessionTopic("s1"))
	defer cancelStudent()

	v := &model.Violation{ID: "v1", SessionID: "s1", Kind: model.KindPhoneDetected, Severity: model.SeverityMajor, Timestamp: time.Now()}
	h.OnLedgerEvent(ledger.Event{Type: ledger.EventViolation, SessionID: "s1", ExamID: "e1", StudentID: "u1",
		Total: 3, Remaining: 2, Status: model.StatusWarned, Violation: v})

	alert := recv(t, mods)
	require.Equal(t, hub.TypeViolationAlert, alert.Type)
	var a hub.ViolationAlert
	require.NoError(t, json.Unmarshal(alert.Payload, &a))
	assert.Equal(t, model.KindPhoneDetected, a.Kind)
	assert.Equal(t, 3, a.Strikes)

	st := recv(t, mods)
	require.Equal(t, hub.TypeStudentStatus, st.Type)
	var row hub.StudentStatus
	require.NoError(t, json.Unmarshal(st.Payload, &row))
	assert.Equal(t, model.ColourYellow, row.Colour)
	assert.False(t, row.Connected, "in-process listeners do not count as presence")

	assert.Equal(t, hub.TypeStudentStatus, recv(t, student).Type, "students get status, not alerts")

	h.OnLedgerEvent(ledger.Event{Type: ledger.EventTransition, SessionID: "s1", ExamID: "e1", Total: 5,
		Status:     model.StatusTerminated,
		Transition: &session.Transition{From: model.StatusWarned, To: model.StatusTerminated, Reason: "strike limit reached"}})

	term := recv(t, student)
	require.Equal(t, hub.TypeTermination, term.Type)
	var tm hub.Termination
	require.NoError(t, json.Unmarshal(term.Payload, &tm))
	assert.Equal(t, "strike limit reached", tm.Reason)
	assert.Equal(t, hub.TypeStudentStatus, recv(t, student).Type)
}

func TestOnLedgerEvent_WarningReachesStudentAndExam(t *testing.T) {
	t.Parallel()
	h := hub.New(hub.DefaultConfig(), &testutil.DummyLogger{})
	exam, cancelExam := h.Listen(8, hub.ExamTopic("e1"), hub.TopicModerators)
	defer cancelExam()
	student, cancelStudent := h.Listen(8, hub.SessionTopic("s1"))
	defer cancelStudent()

	at := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	h.OnLedgerEvent(ledger.Event{Type: ledger.EventWarning, SessionID: "s1", ExamID: "e1", StudentID: "u1",
		Status: model.StatusActive, Warning: &ledger.Warning{Moderator: "mod-1", Message: "eyes front", At: at}})

	for _, sub := range []<-chan []byte{student, exam} {
		msg := recv(t, sub)
		require.Equal(t, hub.TypeWarning, msg.Type)
		var w hub.ModeratorWarning
		require.NoError(t, json.Unmarshal(msg.Payload, &w))
		assert.Equal(t, "eyes front", w.Message)
		assert.Equal(t, "mod-1", w.Moderator)
		assert.True(t, at.Equal(w.At))
	}
}

// ─── WebSocket ─────────────────────────────────────────────────────────

func TestServeWS_DeliversAndTracksPresence(t *testing.T) {
	t.Parallel()
	h := hub.New(hub.DefaultConfig(), &testutil.DummyLogger{})
	presence := make(chan string, 4)
	h.OnPresence(func(id string) { presence <- id })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeWS(w, r, hub.SessionTopic("s1"))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	select {
	case id := <-presence:
		assert.Equal(t, "s1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("no presence callback on connect")
	}
	assert.True(t, h.Connected("s1"))

	h.Publish(hub.Message{Type: hub.TypeStudentStatus, Payload: map[string]string{"status": "FROZEN"}}, hub.SessionTopic("s1"))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, hub.TypeStudentStatus, env.Type)

	conn.Close()
	select {
	case <-presence:
	case <-time.After(2 * time.Second):
		t.Fatal("no presence callback on disconnect")
	}
	assert.False(t, h.Connected("s1"))
}

func TestCheckOrigin(t *testing.T) {
	t.Parallel()
	cfg := hub.DefaultConfig()
	cfg.AllowedOrigins = []string{"https://exam.example"}
	h := hub.New(cfg, &testutil.DummyLogger{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeWS(w, r, hub.TopicModerators)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
