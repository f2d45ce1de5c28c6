// Package broker coordinates client registration, message fan-out, and
// disconnect cleanup for the FIFO chat via a single-threaded poll loop.
package broker

import (
	"context"
	"io"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/Tyrowin/pipechat/internal/endpoint"
	"github.com/Tyrowin/pipechat/internal/render"
	"github.com/Tyrowin/pipechat/internal/wire"
)

// ErrFraming is returned by Run in strict mode when a session delivers a
// record of the wrong size.
var ErrFraming = errors.New("broker: malformed record")

const (
	errorEvents    = unix.POLLERR | unix.POLLNVAL
	readableEvents = unix.POLLIN | unix.POLLHUP
)

// Broker relays every client's messages to every other client. All registry
// mutation happens on the goroutine executing Run.
type Broker struct {
	cfg      Config
	log      zerolog.Logger
	printer  *render.Printer
	observer multiObserver

	sessions atomic.Int64
	relayed  atomic.Uint64

	handshakeBuf []byte
	messageBuf   []byte
}

// Option customises a Broker.
type Option func(*Broker)

// WithLogger sets the structured logger.
func WithLogger(log zerolog.Logger) Option {
	return func(b *Broker) {
		b.log = log
	}
}

// WithTranscript sets where relayed chat lines are printed.
func WithTranscript(w io.Writer, color bool) Option {
	return func(b *Broker) {
		b.printer = render.NewPrinter(w, color)
	}
}

// WithObserver registers an additional event observer.
func WithObserver(o Observer) Option {
	return func(b *Broker) {
		if o != nil {
			b.observer = append(b.observer, o)
		}
	}
}

// New creates a broker. Nothing is opened until Run.
func New(cfg Config, opts ...Option) *Broker {
	b := &Broker{
		cfg:          cfg.sanitized(),
		log:          zerolog.Nop(),
		printer:      render.NewPrinter(os.Stdout, true),
		handshakeBuf: make([]byte, wire.HandshakeSize),
		messageBuf:   make([]byte, wire.MessageSize),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.With().Str("component", "broker").Logger()
	return b
}

// SessionCount returns the number of connected sessions. Safe for concurrent use.
func (b *Broker) SessionCount() int {
	return int(b.sessions.Load())
}

// Relayed returns how many messages have been fanned out. Safe for concurrent use.
func (b *Broker) Relayed() uint64 {
	return b.relayed.Load()
}

// Run opens the control channel and serves events until ctx is cancelled or
// a fatal I/O error occurs. Cancellation returns nil after every session has
// been closed; any other return is fatal and the broker cannot be reused.
func (b *Broker) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return nil
	}

	ns := b.cfg.Namespace
	if err := ns.Ensure(); err != nil {
		return err
	}
	control, err := endpoint.Listen(ns.ControlPath())
	if err != nil {
		return errors.Wrap(err, "open control endpoint")
	}
	defer control.Close()

	wake, err := newWaker(ctx)
	if err != nil {
		return err
	}
	defer wake.close()

	reg := NewRegistry(b.cfg, control.Endpoint, b.log)
	defer b.shutdown(reg)

	b.log.Info().
		Str("root", ns.Root).
		Int("capacity", reg.Capacity()).
		Bool("strict_framing", b.cfg.StrictFraming).
		Msg("Broker listening for handshakes")

	fds := make([]unix.PollFd, 0, reg.Capacity()+2)
	for {
		fds = append(fds[:0], reg.WatchSet()...)
		wakeIdx := len(fds)
		fds = append(fds, unix.PollFd{Fd: int32(wake.fd()), Events: unix.POLLIN})

		if _, err := endpoint.Poll(fds, -1); err != nil {
			return errors.Wrap(err, "wait for events")
		}
		if fds[wakeIdx].Revents != 0 {
			return nil
		}
		if err := b.dispatch(reg, control, fds[:wakeIdx]); err != nil {
			return err
		}
	}
}

// dispatch handles one round of ready events. Disconnects found during the
// pass are applied at the end so watch set indices stay valid throughout.
func (b *Broker) dispatch(reg *Registry, control *endpoint.Listener, fds []unix.PollFd) error {
	if rev := fds[0].Revents; rev&errorEvents != 0 {
		return errors.Errorf("control endpoint reported poll events %#x", rev)
	} else if rev&readableEvents != 0 {
		if err := b.acceptHandshake(reg, control); err != nil {
			return err
		}
	}

	pending := make(map[int32]string)
	for i := 1; i < len(fds); i++ {
		if fds[i].Revents == 0 {
			continue
		}
		s, ok := reg.SessionAt(i)
		if !ok {
			continue
		}
		if _, gone := pending[s.ID]; gone {
			continue
		}
		if err := b.serviceSession(reg, s, fds[i].Revents, pending); err != nil {
			return err
		}
	}

	for id, reason := range pending {
		b.disconnect(reg, id, reason)
	}
	return nil
}

func (b *Broker) acceptHandshake(reg *Registry, control *endpoint.Listener) error {
	n, err := control.Read(b.handshakeBuf)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "read control endpoint")
	}
	if n != wire.HandshakeSize {
		b.log.Debug().Int("bytes", n).Int("want", wire.HandshakeSize).Msg("Ignoring malformed handshake")
		return nil
	}

	var hs wire.Handshake
	if err := hs.UnmarshalBinary(b.handshakeBuf[:n]); err != nil {
		return nil
	}
	nickname := hs.NicknameString()
	if nickname == "" {
		nickname = strconv.Itoa(int(hs.ID))
	}

	s, err := reg.Add(hs.ID, nickname)
	if errors.Is(err, ErrRegistryFull) || errors.Is(err, ErrDuplicateSession) || errors.Is(err, ErrPeerAbsent) {
		return nil
	}
	if err != nil {
		return err
	}

	b.sessions.Store(int64(reg.Size()))
	b.log.Info().Int32("id", s.ID).Str("nickname", s.Nickname).Int("sessions", reg.Size()).Msg("Client connected")
	b.observer.SessionJoined(s.ID, s.Nickname)
	return nil
}

// serviceSession reads one record from a ready session. Disconnects are
// recorded in pending rather than applied.
func (b *Broker) serviceSession(reg *Registry, s *Session, revents int16, pending map[int32]string) error {
	if revents&readableEvents == 0 {
		pending[s.ID] = ReasonPollError
		return nil
	}

	n, err := s.outbound.Read(b.messageBuf)
	switch {
	case errors.Is(err, io.EOF):
		pending[s.ID] = ReasonHangup
	case err != nil:
		b.log.Warn().Err(err).Int32("id", s.ID).Msg("Read from session failed")
		pending[s.ID] = ReasonReadError
	case n == wire.MessageSize:
		b.relay(reg, s, pending)
	default:
		if b.cfg.StrictFraming {
			return errors.Wrapf(ErrFraming, "session %d sent %d bytes, want %d", s.ID, n, wire.MessageSize)
		}
		b.log.Warn().
			Int32("id", s.ID).
			Int("bytes", n).
			Int("want", wire.MessageSize).
			Msg("Malformed record, disconnecting session")
		pending[s.ID] = ReasonFraming
	}
	return nil
}

func (b *Broker) relay(reg *Registry, s *Session, pending map[int32]string) {
	var msg wire.Message
	if err := msg.UnmarshalBinary(b.messageBuf); err != nil {
		return
	}
	if !s.limiter.allow() {
		b.log.Warn().
			Int32("id", s.ID).
			Int("burst", b.cfg.RateLimit.Burst).
			Dur("interval", b.cfg.RateLimit.RefillInterval).
			Msg("Rate limit exceeded; discarding message")
		return
	}

	// The session the record arrived on is authoritative for identity.
	msg.ID = s.ID
	msg.SetNickname(s.Nickname)

	if err := b.printer.Message(msg); err != nil {
		b.log.Debug().Err(err).Msg("Error writing transcript")
	}

	delivered, failed := reg.Broadcast(s.ID, msg)
	for _, id := range failed {
		if _, ok := pending[id]; !ok {
			pending[id] = ReasonWriteFailed
		}
	}
	b.relayed.Add(1)
	b.observer.MessageRelayed(msg, delivered)
}

func (b *Broker) disconnect(reg *Registry, id int32, reason string) {
	s, ok := reg.Session(id)
	if !ok {
		return
	}
	nickname := s.Nickname
	if !reg.Remove(id) {
		return
	}

	b.sessions.Store(int64(reg.Size()))
	b.log.Info().
		Int32("id", id).
		Str("nickname", nickname).
		Str("reason", reason).
		Int("sessions", reg.Size()).
		Msg("Client disconnected")
	b.observer.SessionLeft(id, nickname, reason)
}

func (b *Broker) shutdown(reg *Registry) {
	for _, id := range reg.IDs() {
		b.disconnect(reg, id, ReasonShuttingDown)
	}
	b.log.Info().Msg("Broker stopped")
}
