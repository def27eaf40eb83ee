package webclient

import (
	"net/http"
	"time"
)

// Request is a raw request to the server.
type Request struct {
	Method  string
	Path    string
	Headers http.Header
	Body    []byte
}

type Response struct {
	Request    *Request
	Headers    http.Header
	Body       []byte
	StatusCode int
	FetchedAt  time.Time
}
