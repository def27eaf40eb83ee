package interfaces

import (
	"context"
	"encoding/json"
)

// Response is the minimal view of a server reply a client component needs.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool { return r != nil && r.StatusCode >= 200 && r.StatusCode < 300 }

// ClientError reports a 4xx status; such requests are not worth retrying.
func (r *Response) ClientError() bool { return r != nil && r.StatusCode >= 400 && r.StatusCode < 500 }

// Transport sends JSON requests to the proctoring server. A non-nil error
// means the server was unreachable; HTTP error statuses come back in Response.
type Transport interface {
	Post(ctx context.Context, path string, body any) (*Response, error)
	Get(ctx context.Context, path string) (*Response, error)
}

// PushMessage is one server-pushed notification.
type PushMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Subscriber delivers push messages for a topic until ctx is cancelled.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, handler func(PushMessage)) error
}
