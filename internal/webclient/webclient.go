// Package webclient is the student side's connection to the proctoring
// server: a JSON transport over net/http and a reconnecting WebSocket
// subscriber for pushed status changes.
package webclient

import "github.com/raysh454/proctor/internal/interfaces"

var (
	_ interfaces.Transport  = (*NetHTTPClient)(nil)
	_ interfaces.Subscriber = (*WSSubscriber)(nil)
)
