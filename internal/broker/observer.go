package broker

import "github.com/Tyrowin/pipechat/internal/wire"

// Observer receives broker events. Methods are called synchronously from the
// broker loop and must not block.
type Observer interface {
	SessionJoined(id int32, nickname string)
	SessionLeft(id int32, nickname string, reason string)
	MessageRelayed(msg wire.Message, recipients int)
}

// Disconnect reasons passed to Observer.SessionLeft.
const (
	ReasonHangup       = "hangup"
	ReasonWriteFailed  = "write_failed"
	ReasonFraming      = "framing"
	ReasonPollError    = "poll_error"
	ReasonReadError    = "read_error"
	ReasonShuttingDown = "shutdown"
)

type multiObserver []Observer

func (m multiObserver) SessionJoined(id int32, nickname string) {
	for _, o := range m {
		o.SessionJoined(id, nickname)
	}
}

func (m multiObserver) SessionLeft(id int32, nickname string, reason string) {
	for _, o := range m {
		o.SessionLeft(id, nickname, reason)
	}
}

func (m multiObserver) MessageRelayed(msg wire.Message, recipients int) {
	for _, o := range m {
		o.MessageRelayed(msg, recipients)
	}
}
