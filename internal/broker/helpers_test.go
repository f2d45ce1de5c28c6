package broker

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/pipechat/internal/endpoint"
	"github.com/Tyrowin/pipechat/internal/wire"
)

const eventTimeout = 2 * time.Second

// peer is the client side of a session, driven directly by tests.
type peer struct {
	t    *testing.T
	id   int32
	nick string
	in   *endpoint.Endpoint
	out  *endpoint.Endpoint
}

// attach performs the client half of the endpoint rendezvous for id: inbound
// for reading first, then outbound for writing, the same order Registry.Add
// uses.
func attach(t *testing.T, ns endpoint.Namespace, id int32, nick string) (*peer, error) {
	t.Helper()
	in, err := endpoint.OpenWithTimeout(ns.InboundPath(id), endpoint.ReadOnly, eventTimeout)
	if err != nil {
		return nil, err
	}
	out, err := endpoint.OpenWithTimeout(ns.OutboundPath(id), endpoint.WriteOnly, eventTimeout)
	if err != nil {
		_ = in.Close()
		return nil, err
	}
	p := &peer{t: t, id: id, nick: nick, in: in, out: out}
	t.Cleanup(p.close)
	return p, nil
}

// attachAsync runs attach on a goroutine so the caller can block in Add.
func attachAsync(t *testing.T, ns endpoint.Namespace, id int32, nick string) <-chan *peer {
	ch := make(chan *peer, 1)
	go func() {
		p, err := attach(t, ns, id, nick)
		if err != nil {
			t.Errorf("attach %d: %v", id, err)
		}
		ch <- p
	}()
	return ch
}

// dial sends a handshake over the control FIFO and completes the rendezvous.
func dial(t *testing.T, ns endpoint.Namespace, id int32, nick string) (*peer, error) {
	t.Helper()
	sendControl(t, ns, mustMarshal(t, wire.NewHandshake(id, nick)))
	return attach(t, ns, id, nick)
}

func sendControl(t *testing.T, ns endpoint.Namespace, raw []byte) {
	t.Helper()
	ctl, err := endpoint.OpenWithTimeout(ns.ControlPath(), endpoint.WriteOnly, eventTimeout)
	require.NoError(t, err)
	defer ctl.Close()
	_, err = ctl.Write(raw)
	require.NoError(t, err)
}

func (p *peer) send(text string) {
	p.t.Helper()
	_, err := p.out.Write(mustMarshal(p.t, wire.NewMessage(p.id, p.nick, text)))
	require.NoError(p.t, err)
}

func (p *peer) sendRaw(raw []byte) {
	p.t.Helper()
	_, err := p.out.Write(raw)
	require.NoError(p.t, err)
}

// expect waits for exactly one record on the inbound endpoint.
func (p *peer) expect() wire.Message {
	p.t.Helper()
	ready, err := endpoint.WaitReadable(p.in, eventTimeout)
	require.NoError(p.t, err)
	require.True(p.t, ready, "client %d received nothing", p.id)

	buf := make([]byte, wire.MessageSize)
	n, err := p.in.Read(buf)
	require.NoError(p.t, err)
	require.Equal(p.t, wire.MessageSize, n)

	var msg wire.Message
	require.NoError(p.t, msg.UnmarshalBinary(buf))
	return msg
}

// expectSilence asserts nothing arrives on the inbound endpoint for d.
func (p *peer) expectSilence(d time.Duration) {
	p.t.Helper()
	ready, err := endpoint.WaitReadable(p.in, d)
	require.NoError(p.t, err)
	require.False(p.t, ready, "client %d received unexpected data", p.id)
}

// expectHangup waits until the broker closes the inbound endpoint.
func (p *peer) expectHangup() {
	p.t.Helper()
	ready, err := endpoint.WaitReadable(p.in, eventTimeout)
	require.NoError(p.t, err)
	require.True(p.t, ready, "client %d inbound never closed", p.id)

	_, err = p.in.Read(make([]byte, wire.MessageSize))
	require.Error(p.t, err)
}

func (p *peer) close() {
	_ = p.in.Close()
	_ = p.out.Close()
}

func mustMarshal(t *testing.T, v interface{ MarshalBinary() ([]byte, error) }) []byte {
	t.Helper()
	raw, err := v.MarshalBinary()
	require.NoError(t, err)
	return raw
}

type leftEvent struct {
	id     int32
	reason string
}

// recorder is an Observer that exposes broker events on channels.
type recorder struct {
	joined  chan int32
	left    chan leftEvent
	relayed chan int
}

func newRecorder() *recorder {
	return &recorder{
		joined:  make(chan int32, 256),
		left:    make(chan leftEvent, 256),
		relayed: make(chan int, 256),
	}
}

func (r *recorder) SessionJoined(id int32, _ string) {
	r.joined <- id
}

func (r *recorder) SessionLeft(id int32, _ string, reason string) {
	r.left <- leftEvent{id: id, reason: reason}
}

func (r *recorder) MessageRelayed(_ wire.Message, recipients int) {
	r.relayed <- recipients
}

func (r *recorder) waitJoined(t *testing.T, id int32) {
	t.Helper()
	select {
	case got := <-r.joined:
		require.Equal(t, id, got)
	case <-time.After(eventTimeout):
		t.Fatalf("session %d never joined", id)
	}
}

func (r *recorder) waitLeft(t *testing.T) leftEvent {
	t.Helper()
	select {
	case ev := <-r.left:
		return ev
	case <-time.After(eventTimeout):
		t.Fatal("no session left")
		return leftEvent{}
	}
}

func (r *recorder) waitRelayed(t *testing.T) int {
	t.Helper()
	select {
	case n := <-r.relayed:
		return n
	case <-time.After(eventTimeout):
		t.Fatal("no message relayed")
		return 0
	}
}

// syncBuffer is a bytes.Buffer safe to write from the broker goroutine while
// the test reads it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

type harness struct {
	broker     *Broker
	rec        *recorder
	ns         endpoint.Namespace
	transcript *syncBuffer
	cancel     context.CancelFunc
	done       chan error
}

func startBroker(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Namespace = endpoint.NewNamespace(t.TempDir())
	if mutate != nil {
		mutate(&cfg)
	}

	h := &harness{
		rec:        newRecorder(),
		ns:         cfg.Namespace,
		transcript: &syncBuffer{},
		done:       make(chan error, 1),
	}
	h.broker = New(cfg, WithObserver(h.rec), WithTranscript(h.transcript, false))

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		h.done <- h.broker.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(eventTimeout):
			t.Error("broker did not stop")
		}
	})
	return h
}

// connect dials a client and waits until the broker has registered it.
func (h *harness) connect(t *testing.T, id int32, nick string) *peer {
	t.Helper()
	p, err := dial(t, h.ns, id, nick)
	require.NoError(t, err)
	h.rec.waitJoined(t, id)
	return p
}

// stop cancels the broker and returns Run's result.
func (h *harness) stop(t *testing.T) error {
	t.Helper()
	h.cancel()
	select {
	case err := <-h.done:
		h.done <- err
		return err
	case <-time.After(eventTimeout):
		t.Fatal("broker did not stop")
		return nil
	}
}

// wait returns Run's result without cancelling.
func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		h.done <- err
		return err
	case <-time.After(eventTimeout):
		t.Fatal("broker kept running")
		return nil
	}
}
