package webclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raysh454/proctor/internal/interfaces"
	"github.com/raysh454/proctor/internal/logging"
	"github.com/raysh454/proctor/internal/retry"
)

// WSSubscriber receives server pushes over a WebSocket and reconnects with
// backoff when the connection drops.
type WSSubscriber struct {
	cfg       Config
	dialer    *websocket.Dialer
	reconnect retry.Policy
	logger    logging.Logger

	mu           sync.Mutex
	onConnection func(connected bool)
}

func NewWSSubscriber(cfg Config, reconnect retry.Policy, logger logging.Logger) *WSSubscriber {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	return &WSSubscriber{
		cfg:       cfg,
		dialer:    &websocket.Dialer{HandshakeTimeout: timeout, Proxy: http.ProxyFromEnvironment},
		reconnect: reconnect,
		logger:    logger.With(logging.Field{Key: "component", Value: "subscriber"}),
	}
}

// OnConnection registers fn for connect and disconnect events.
func (s *WSSubscriber) OnConnection(fn func(connected bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnection = fn
}

func (s *WSSubscriber) notify(connected bool) {
	s.mu.Lock()
	fn := s.onConnection
	s.mu.Unlock()
	if fn != nil {
		fn(connected)
	}
}

// wsURL maps the HTTP base URL onto the ws scheme.
func (s *WSSubscriber) wsURL(path string) string {
	base := strings.TrimRight(s.cfg.BaseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + path
}

// Subscribe streams messages from the WebSocket at path to handler until
// ctx is cancelled. A dropped connection is re-dialled under the reconnect
// policy; the attempt budget resets after every successful connection.
// It returns ctx.Err() on cancellation, or the last dial error once the
// budget is spent.
func (s *WSSubscriber) Subscribe(ctx context.Context, path string, handler func(interfaces.PushMessage)) error {
	url := s.wsURL(path)
	header := http.Header{}
	if s.cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+s.cfg.AuthToken)
	}

	for {
		var conn *websocket.Conn
		err := retry.Do(ctx, s.reconnect, func(ctx context.Context, attempt int) error {
			c, resp, err := s.dialer.DialContext(ctx, url, header)
			if err != nil {
				if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
					return retry.Permanent(fmt.Errorf("dial %s: status %d", path, resp.StatusCode))
				}
				s.logger.Debug("websocket dial failed",
					logging.Field{Key: "path", Value: path},
					logging.Field{Key: "attempt", Value: attempt},
					logging.Err(err))
				return err
			}
			conn = c
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("websocket subscription given up", logging.Field{Key: "path", Value: path}, logging.Err(err))
			return err
		}

		s.logger.Info("websocket connected", logging.Field{Key: "path", Value: path})
		s.notify(true)
		err = s.read(ctx, conn, handler)
		s.notify(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("websocket disconnected, reconnecting", logging.Field{Key: "path", Value: path}, logging.Err(err))
	}
}

func (s *WSSubscriber) read(ctx context.Context, conn *websocket.Conn, handler func(interfaces.PushMessage)) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-stop:
			conn.Close()
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errors.New("closed by server")
			}
			return err
		}
		var msg interfaces.PushMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("undecodable push message", logging.Err(err))
			continue
		}
		handler(msg)
	}
}
