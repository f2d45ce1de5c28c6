package broker

import (
	"time"

	"github.com/Tyrowin/pipechat/internal/endpoint"
)

// Session is one connected client: its identity plus the two FIFO ends the
// broker holds for it. Only the Registry opens or closes them.
type Session struct {
	ID          int32
	Nickname    string
	ConnectedAt time.Time

	inbound  *endpoint.Endpoint // broker -> client, write-only
	outbound *endpoint.Endpoint // client -> broker, read-only
	limiter  *rateLimiter
}

// Inbound returns the write handle used to deliver broadcasts to the client.
func (s *Session) Inbound() *endpoint.Endpoint {
	return s.inbound
}

// Outbound returns the read handle the client's messages arrive on.
func (s *Session) Outbound() *endpoint.Endpoint {
	return s.outbound
}

func (s *Session) close() error {
	var first error
	for _, ep := range []*endpoint.Endpoint{s.inbound, s.outbound} {
		if ep == nil {
			continue
		}
		if err := ep.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
