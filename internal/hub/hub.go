// Package hub pushes ledger changes to students and moderators over
// WebSockets. Each connection gets its own writer goroutine; a slow
// connection is dropped instead of slowing everyone down.
package hub

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raysh454/proctor/internal/ledger"
	"github.com/raysh454/proctor/internal/logging"
	"github.com/raysh454/proctor/internal/model"
	"github.com/raysh454/proctor/internal/session"
)

type Config struct {
	SendBuffer   int           `mapstructure:"send_buffer"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PongWait     time.Duration `mapstructure:"pong_wait"`
	// AllowedOrigins restricts browser origins; empty allows all.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func DefaultConfig() Config {
	return Config{
		SendBuffer:   64,
		WriteTimeout: 10 * time.Second,
		PongWait:     60 * time.Second,
	}
}

type client struct {
	conn      *websocket.Conn
	send      chan []byte
	topics    []string
	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// Hub routes messages to topic subscribers and implements ledger.Observer.
type Hub struct {
	cfg      Config
	logger   logging.Logger
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	subs     map[string]map[*client]struct{}
	presence map[string]int

	// onPresence runs when a student connects to or leaves its session topic.
	onPresence func(sessionID string)
}

var _ ledger.Observer = (*Hub)(nil)

func New(cfg Config, logger logging.Logger) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultConfig().SendBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = DefaultConfig().PongWait
	}
	h := &Hub{
		cfg:      cfg,
		logger:   logger.With(logging.Field{Key: "component", Value: "hub"}),
		subs:     make(map[string]map[*client]struct{}),
		presence: make(map[string]int),
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

// OnPresence registers fn to run when a session's connection state changes.
func (h *Hub) OnPresence(fn func(sessionID string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onPresence = fn
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// Connected reports whether the student of sessionID holds a push connection.
func (h *Hub) Connected(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.presence[sessionID] > 0
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	var notify []string
	for _, t := range c.topics {
		set, ok := h.subs[t]
		if !ok {
			set = make(map[*client]struct{})
			h.subs[t] = set
		}
		set[c] = struct{}{}
		if id, ok := strings.CutPrefix(t, "session:"); ok && c.conn != nil {
			h.presence[id]++
			notify = append(notify, id)
		}
	}
	fn := h.onPresence
	h.mu.Unlock()

	if fn != nil {
		for _, id := range notify {
			fn(id)
		}
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	var notify []string
	for _, t := range c.topics {
		set := h.subs[t]
		if _, ok := set[c]; !ok {
			continue
		}
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, t)
		}
		if id, ok := strings.CutPrefix(t, "session:"); ok && c.conn != nil {
			if h.presence[id]--; h.presence[id] <= 0 {
				delete(h.presence, id)
			}
			notify = append(notify, id)
		}
	}
	fn := h.onPresence
	h.mu.Unlock()
	c.close()

	if fn != nil {
		for _, id := range notify {
			fn(id)
		}
	}
}

// Publish sends msg to every subscriber of each topic. A subscriber present
// on several of the topics receives it once.
func (h *Hub) Publish(msg Message, topics ...string) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("hub: marshal message", logging.Err(err))
		return
	}

	h.mu.RLock()
	seen := make(map[*client]struct{})
	var slow []*client
	for _, t := range topics {
		for c := range h.subs[t] {
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			select {
			case c.send <- data:
			default:
				slow = append(slow, c)
			}
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("hub: subscriber too slow, disconnecting", logging.Field{Key: "topics", Value: c.topics})
		h.unregister(c)
	}
}

// Listen subscribes an in-process consumer. The returned cancel function
// unsubscribes and closes the channel.
func (h *Hub) Listen(buffer int, topics ...string) (<-chan []byte, func()) {
	if buffer <= 0 {
		buffer = h.cfg.SendBuffer
	}
	c := &client{send: make(chan []byte, buffer), topics: topics}
	h.register(c)
	return c.send, func() { h.unregister(c) }
}

// ServeWS upgrades the request and streams messages for topics until the
// peer disconnects. Incoming messages other than control frames are ignored.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, topics ...string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrading to websocket", logging.Err(err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, h.cfg.SendBuffer), topics: topics}
	h.register(c)
	h.logger.Debug("websocket subscribed", logging.Field{Key: "topics", Value: topics})

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) readLoop(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ping := time.NewTicker(h.cfg.PongWait * 9 / 10)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// CloseAll disconnects every subscriber.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var all []*client
	seen := make(map[*client]struct{})
	for _, set := range h.subs {
		for c := range set {
			if _, ok := seen[c]; !ok {
				seen[c] = struct{}{}
				all = append(all, c)
			}
		}
	}
	h.mu.RUnlock()
	for _, c := range all {
		h.unregister(c)
	}
}

// ─── ledger.Observer ───────────────────────────────────────────────────

// StatusOf builds the dashboard row for an entry.
func (h *Hub) StatusOf(e *ledger.Entry, remaining int) StudentStatus {
	return StudentStatus{
		SessionID: e.SessionID,
		ExamID:    e.ExamID,
		StudentID: e.StudentID,
		Status:    e.Status,
		Strikes:   e.Total,
		Remaining: remaining,
		Colour:    model.ColourFor(e.Total, e.Status),
		Connected: h.Connected(e.SessionID),
		Closed:    e.Closed(),
		Reason:    e.Reason,
	}
}

// BroadcastStatus pushes a student_status row to the session, its exam and
// all moderators.
func (h *Hub) BroadcastStatus(st StudentStatus) {
	h.Publish(Message{Type: TypeStudentStatus, Payload: st},
		SessionTopic(st.SessionID), ExamTopic(st.ExamID), TopicModerators)
}

func (h *Hub) OnLedgerEvent(ev ledger.Event) {
	status := StudentStatus{
		SessionID: ev.SessionID,
		ExamID:    ev.ExamID,
		StudentID: ev.StudentID,
		Status:    ev.Status,
		Strikes:   ev.Total,
		Remaining: ev.Remaining,
		Colour:    model.ColourFor(ev.Total, ev.Status),
		Connected: h.Connected(ev.SessionID),
		Closed:    ev.Type == ledger.EventSessionClosed,
	}

	switch ev.Type {
	case ledger.EventViolation:
		if v := ev.Violation; v != nil {
			h.Publish(Message{Type: TypeViolationAlert, Payload: ViolationAlert{
				SessionID:   ev.SessionID,
				ExamID:      ev.ExamID,
				StudentID:   ev.StudentID,
				ViolationID: v.ID,
				Kind:        v.Kind,
				Severity:    v.Severity,
				Message:     v.Message,
				Confidence:  v.Confidence,
				Strikes:     ev.Total,
				Remaining:   ev.Remaining,
				Status:      ev.Status,
				Urgency:     ev.Urgency,
				Timestamp:   v.Timestamp,
			}}, ExamTopic(ev.ExamID), TopicModerators)
		}
		h.BroadcastStatus(status)
	case ledger.EventTransition:
		if tr := ev.Transition; tr != nil {
			status.Reason = tr.Reason
			if tr.To == model.StatusTerminated {
				h.publishTermination(ev, tr)
			}
		}
		h.BroadcastStatus(status)
	case ledger.EventSessionStarted, ledger.EventSessionClosed:
		h.BroadcastStatus(status)
	case ledger.EventWarning:
		if w := ev.Warning; w != nil {
			h.Publish(Message{Type: TypeWarning, Payload: ModeratorWarning{
				SessionID: ev.SessionID,
				ExamID:    ev.ExamID,
				StudentID: ev.StudentID,
				Moderator: w.Moderator,
				Message:   w.Message,
				At:        w.At,
			}}, SessionTopic(ev.SessionID), ExamTopic(ev.ExamID), TopicModerators)
		}
	}
}

func (h *Hub) publishTermination(ev ledger.Event, tr *session.Transition) {
	h.Publish(Message{Type: TypeTermination, Payload: Termination{
		SessionID: ev.SessionID,
		ExamID:    ev.ExamID,
		StudentID: ev.StudentID,
		Reason:    tr.Reason,
		Manual:    tr.Manual,
		Strikes:   ev.Total,
		At:        tr.At,
	}}, SessionTopic(ev.SessionID), ExamTopic(ev.ExamID), TopicModerators)
}
