package broker

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/Tyrowin/pipechat/internal/endpoint"
	"github.com/Tyrowin/pipechat/internal/wire"
)

var (
	// ErrRegistryFull is returned by Add when the registry is at capacity.
	ErrRegistryFull = errors.New("broker: registry full")
	// ErrDuplicateSession is returned by Add when the id is already live.
	ErrDuplicateSession = errors.New("broker: session id already connected")
	// ErrPeerAbsent is returned by Add when OpenTimeout is set and the client
	// did not open its side of an endpoint in time.
	ErrPeerAbsent = errors.New("broker: client did not complete rendezvous")
)

// Registry owns every live Session and the watch set derived from them.
//
// The watch set always holds the control endpoint at index 0 followed by one
// outbound endpoint per session, so len(WatchSet()) == Size()+1. It is not
// safe for concurrent use; only the broker loop touches it.
type Registry struct {
	cfg      Config
	control  *endpoint.Endpoint
	sessions map[int32]*Session
	watch    []unix.PollFd
	watchIDs []int32
	log      zerolog.Logger
}

// NewRegistry creates an empty registry watching control for handshakes.
func NewRegistry(cfg Config, control *endpoint.Endpoint, log zerolog.Logger) *Registry {
	r := &Registry{
		cfg:      cfg.sanitized(),
		control:  control,
		sessions: make(map[int32]*Session),
		log:      log,
	}
	r.rebuildWatch()
	return r
}

// Add registers client id, opening its inbound FIFO for writing and then its
// outbound FIFO for reading. Both opens block until the client performs the
// matching open.
//
// A full registry or an id that is already live drops the handshake: the
// client is never contacted and ErrRegistryFull or ErrDuplicateSession is
// returned. With OpenTimeout set, a client that never shows up yields
// ErrPeerAbsent. Any other error comes from the endpoints and is fatal.
func (r *Registry) Add(id int32, nickname string) (*Session, error) {
	if _, ok := r.sessions[id]; ok {
		r.log.Warn().Int32("id", id).Str("nickname", nickname).Msg("Dropping handshake for already connected id")
		return nil, ErrDuplicateSession
	}
	if len(r.sessions) >= r.cfg.MaxSessions {
		r.log.Warn().
			Int32("id", id).
			Str("nickname", nickname).
			Int("capacity", r.cfg.MaxSessions).
			Msg("Registry full, dropping handshake")
		return nil, ErrRegistryFull
	}

	inbound, err := r.open(r.cfg.Namespace.InboundPath(id), endpoint.WriteOnly)
	if err != nil {
		return nil, r.openError(err, id, "inbound")
	}
	outbound, err := r.open(r.cfg.Namespace.OutboundPath(id), endpoint.ReadOnly)
	if err != nil {
		_ = inbound.Close()
		return nil, r.openError(err, id, "outbound")
	}

	s := &Session{
		ID:          id,
		Nickname:    nickname,
		ConnectedAt: time.Now(),
		inbound:     inbound,
		outbound:    outbound,
		limiter:     newRateLimiter(r.cfg.RateLimit),
	}
	r.sessions[id] = s
	r.watch = append(r.watch, unix.PollFd{Fd: int32(outbound.Fd()), Events: unix.POLLIN})
	r.watchIDs = append(r.watchIDs, id)
	return s, nil
}

func (r *Registry) open(path string, dir endpoint.Direction) (*endpoint.Endpoint, error) {
	if r.cfg.OpenTimeout > 0 {
		return endpoint.OpenWithTimeout(path, dir, r.cfg.OpenTimeout)
	}
	return endpoint.CreateAndOpen(path, dir)
}

func (r *Registry) openError(err error, id int32, side string) error {
	if errors.Is(err, endpoint.ErrOpenTimeout) {
		r.log.Warn().Int32("id", id).Str("endpoint", side).Dur("timeout", r.cfg.OpenTimeout).Msg("Client never opened its endpoint, dropping handshake")
		_ = r.cfg.Namespace.RemoveSession(id)
		return ErrPeerAbsent
	}
	return errors.Wrapf(err, "open %s endpoint for %d", side, id)
}

// Remove closes both endpoints of session id and drops it from the registry
// and the watch set. It reports false if id was not registered.
func (r *Registry) Remove(id int32) bool {
	s, ok := r.sessions[id]
	if !ok {
		return false
	}

	delete(r.sessions, id)
	if err := s.close(); err != nil {
		r.log.Warn().Err(err).Int32("id", id).Msg("Error closing session endpoints")
	}
	r.rebuildWatch()

	if !r.cfg.KeepFiles {
		if err := r.cfg.Namespace.RemoveSession(id); err != nil {
			r.log.Warn().Err(err).Int32("id", id).Msg("Error removing session FIFOs")
		}
	}
	return true
}

// Broadcast writes msg to every session except senderID and returns how many
// sessions received it together with the ids whose write failed. Callers
// should treat a failed id as disconnected.
func (r *Registry) Broadcast(senderID int32, msg wire.Message) (int, []int32) {
	buf, err := msg.MarshalBinary()
	if err != nil {
		return 0, nil
	}

	delivered := 0
	var failed []int32
	for id, s := range r.sessions {
		if id == senderID {
			continue
		}
		if _, err := s.inbound.Write(buf); err != nil {
			r.log.Debug().Err(err).Int32("id", id).Msg("Broadcast write failed")
			failed = append(failed, id)
			continue
		}
		delivered++
	}
	return delivered, failed
}

// Session returns the live session with id, if any.
func (r *Registry) Session(id int32) (*Session, bool) {
	s, ok := r.sessions[id]
	return s, ok
}

// Size returns the number of live sessions.
func (r *Registry) Size() int {
	return len(r.sessions)
}

// Capacity returns the configured maximum number of sessions.
func (r *Registry) Capacity() int {
	return r.cfg.MaxSessions
}

// IDs returns the live session ids in no particular order.
func (r *Registry) IDs() []int32 {
	ids := make([]int32, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// WatchSet returns the poll set with revents cleared. Index 0 is the control
// endpoint; index i > 0 belongs to SessionAt(i).
func (r *Registry) WatchSet() []unix.PollFd {
	for i := range r.watch {
		r.watch[i].Revents = 0
	}
	return r.watch
}

// SessionAt maps a watch set index back to its session.
func (r *Registry) SessionAt(i int) (*Session, bool) {
	if i < 1 || i > len(r.watchIDs) {
		return nil, false
	}
	return r.Session(r.watchIDs[i-1])
}

// CloseAll removes every session.
func (r *Registry) CloseAll() {
	for _, id := range r.IDs() {
		r.Remove(id)
	}
}

func (r *Registry) rebuildWatch() {
	r.watch = make([]unix.PollFd, 0, len(r.sessions)+1)
	r.watchIDs = make([]int32, 0, len(r.sessions))
	r.watch = append(r.watch, unix.PollFd{Fd: int32(r.control.Fd()), Events: unix.POLLIN})
	for id, s := range r.sessions {
		r.watch = append(r.watch, unix.PollFd{Fd: int32(s.outbound.Fd()), Events: unix.POLLIN})
		r.watchIDs = append(r.watchIDs, id)
	}
}
