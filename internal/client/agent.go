// Package client implements the participant side of the chat: it announces
// itself to the broker, forwards input lines and prints what others say.
package client

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/pipechat/internal/endpoint"
	"github.com/Tyrowin/pipechat/internal/render"
	"github.com/Tyrowin/pipechat/internal/wire"
)

var (
	// ErrConnectTimeout is returned by Run when the broker did not complete
	// the rendezvous in time. A full or absent broker looks the same.
	ErrConnectTimeout = errors.New("client: broker did not accept the connection")
	// ErrBrokerClosed is returned by Run when the broker closed the inbound
	// channel without the client hanging up first.
	ErrBrokerClosed = errors.New("client: broker closed the connection")
)

// Config holds the identity and connection settings of one participant.
type Config struct {
	Namespace      endpoint.Namespace
	ID             int32
	Nickname       string
	ConnectTimeout time.Duration
	Color          bool
}

// Agent is one chat participant bound to an input and an output stream.
type Agent struct {
	cfg     Config
	in      io.Reader
	printer *render.Printer
	log     zerolog.Logger
}

// New creates an Agent reading lines from in and printing messages to out.
// An empty nickname is replaced by the decimal id.
func New(cfg Config, in io.Reader, out io.Writer, log zerolog.Logger) *Agent {
	if cfg.Nickname == "" {
		cfg.Nickname = strconv.Itoa(int(cfg.ID))
	}
	return &Agent{
		cfg:     cfg,
		in:      in,
		printer: render.NewPrinter(out, cfg.Color),
		log:     log.With().Str("component", "client").Int32("id", cfg.ID).Logger(),
	}
}

// Nickname returns the name the agent announces.
func (a *Agent) Nickname() string {
	return a.cfg.Nickname
}

type conn struct {
	inbound  *endpoint.Endpoint
	outbound *endpoint.Endpoint
}

func (c *conn) close() {
	_ = c.outbound.Close()
	_ = c.inbound.Close()
}

// Run connects to the broker and relays until input ends, ctx is cancelled
// or the broker goes away. Ending input or cancelling ctx hangs up cleanly
// and returns nil once the broker has let go of the session.
func (a *Agent) Run(ctx context.Context) error {
	c, err := a.connect()
	if err != nil {
		return err
	}
	defer c.close()

	a.log.Info().Str("nickname", a.cfg.Nickname).Msg("Connected to broker")

	var hungUp atomic.Bool
	g, gctx := errgroup.WithContext(ctx)
	lines := readLines(a.in, gctx.Done())

	g.Go(func() error {
		return a.send(gctx, c.outbound, lines, &hungUp)
	})
	g.Go(func() error {
		return a.receive(c.inbound, &hungUp)
	})

	err = g.Wait()
	if err != nil {
		a.log.Warn().Err(err).Msg("Session ended")
		return err
	}
	a.log.Info().Msg("Disconnected")
	return nil
}

// connect performs the handshake and the rendezvous on both session FIFOs,
// inbound first, in the same order the broker opens them.
func (a *Agent) connect() (*conn, error) {
	ns := a.cfg.Namespace
	if err := ns.Ensure(); err != nil {
		return nil, err
	}

	control, err := a.open(ns.ControlPath(), endpoint.WriteOnly)
	if err != nil {
		return nil, err
	}
	buf, err := wire.NewHandshake(a.cfg.ID, a.cfg.Nickname).MarshalBinary()
	if err == nil {
		_, err = control.Write(buf)
	}
	_ = control.Close()
	if err != nil {
		return nil, errors.Wrap(err, "send handshake")
	}

	inbound, err := a.open(ns.InboundPath(a.cfg.ID), endpoint.ReadOnly)
	if err != nil {
		return nil, err
	}
	outbound, err := a.open(ns.OutboundPath(a.cfg.ID), endpoint.WriteOnly)
	if err != nil {
		_ = inbound.Close()
		return nil, err
	}
	return &conn{inbound: inbound, outbound: outbound}, nil
}

func (a *Agent) open(path string, dir endpoint.Direction) (*endpoint.Endpoint, error) {
	ep, err := endpoint.OpenWithTimeout(path, dir, a.cfg.ConnectTimeout)
	if errors.Is(err, endpoint.ErrOpenTimeout) {
		return nil, errors.Wrapf(ErrConnectTimeout, "waiting for %s", path)
	}
	return ep, err
}

// send writes one record per input line. End of input or cancellation
// closes the outbound channel, which the broker sees as a hang-up.
func (a *Agent) send(ctx context.Context, out *endpoint.Endpoint, lines <-chan string, hungUp *atomic.Bool) error {
	hangUp := func() {
		hungUp.Store(true)
		_ = out.Close()
	}

	for {
		select {
		case <-ctx.Done():
			hangUp()
			return nil
		case line, ok := <-lines:
			if !ok {
				hangUp()
				return nil
			}
			buf, err := wire.NewMessage(a.cfg.ID, a.cfg.Nickname, line).MarshalBinary()
			if err != nil {
				return err
			}
			if _, err := out.Write(buf); err != nil {
				return errors.Wrap(err, "send message")
			}
		}
	}
}

func (a *Agent) receive(in *endpoint.Endpoint, hungUp *atomic.Bool) error {
	buf := make([]byte, wire.MessageSize)
	for {
		n, err := in.Read(buf)
		if errors.Is(err, io.EOF) {
			if hungUp.Load() {
				return nil
			}
			return ErrBrokerClosed
		}
		if err != nil {
			return err
		}
		if n != wire.MessageSize {
			return errors.Wrapf(wire.ErrShortRecord, "received %d bytes, want %d", n, wire.MessageSize)
		}

		var msg wire.Message
		if err := msg.UnmarshalBinary(buf); err != nil {
			return err
		}
		if err := a.printer.Message(msg); err != nil {
			a.log.Debug().Err(err).Msg("Error printing message")
		}
	}
}

// readLines feeds input lines to the returned channel until r is exhausted or
// done is closed. Lines longer than a payload are split the way fgets would
// split them, keeping room for the terminating NUL.
func readLines(r io.Reader, done <-chan struct{}) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		br := bufio.NewReader(r)
		for {
			line, err := readLine(br, wire.PayloadSize-1)
			if line != "" {
				select {
				case lines <- line:
				case <-done:
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return lines
}

// readLine returns up to max bytes, stopping after a newline.
func readLine(br *bufio.Reader, max int) (string, error) {
	line := make([]byte, 0, max)
	for len(line) < max {
		c, err := br.ReadByte()
		if err != nil {
			return string(line), err
		}
		line = append(line, c)
		if c == '\n' {
			break
		}
	}
	return string(line), nil
}
