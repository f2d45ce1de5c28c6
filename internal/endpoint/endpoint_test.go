package endpoint

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/pipechat/internal/wire"
)

func TestNamespacePaths(t *testing.T) {
	ns := NewNamespace("/var/run/chat")
	assert.Equal(t, "/var/run/chat/server_input", ns.ControlPath())
	assert.Equal(t, "/var/run/chat/client.12", ns.InboundPath(12))
	assert.Equal(t, "/var/run/chat/client.12.out", ns.OutboundPath(12))

	assert.Equal(t, DefaultRoot, NewNamespace("").Root)
}

func TestNamespaceEnsureCreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "chat")
	ns := NewNamespace(root)

	require.NoError(t, ns.Ensure())
	require.NoError(t, ns.Ensure())

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestCreateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fifo")
	require.NoError(t, Create(path))
	require.NoError(t, Create(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeNamedPipe)
}

func TestCreateFailsOutsideExistingDirectory(t *testing.T) {
	err := Create(filepath.Join(t.TempDir(), "missing", "fifo"))
	assert.Error(t, err)
}

// openPair opens both sides of a fresh FIFO; each open blocks until the other
// side arrives, so the writer is opened from a goroutine.
func openPair(t *testing.T) (*Endpoint, *Endpoint) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pair")

	type res struct {
		ep  *Endpoint
		err error
	}
	wch := make(chan res, 1)
	go func() {
		ep, err := CreateAndOpen(path, WriteOnly)
		wch <- res{ep, err}
	}()

	r, err := CreateAndOpen(path, ReadOnly)
	require.NoError(t, err)
	w := <-wch
	require.NoError(t, w.err)

	t.Cleanup(func() {
		_ = r.Close()
		_ = w.ep.Close()
	})
	return r, w.ep
}

func TestOpenIsARendezvous(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rendezvous")

	opened := make(chan *Endpoint, 1)
	go func() {
		ep, err := CreateAndOpen(path, ReadOnly)
		if err == nil {
			opened <- ep
		}
	}()

	select {
	case <-opened:
		t.Fatal("read-only open returned before any writer existed")
	case <-time.After(50 * time.Millisecond):
	}

	w, err := CreateAndOpen(path, WriteOnly)
	require.NoError(t, err)
	defer w.Close()

	select {
	case r := <-opened:
		_ = r.Close()
	case <-time.After(time.Second):
		t.Fatal("read-only open did not complete after writer arrived")
	}
}

func TestRecordFramingThroughFIFO(t *testing.T) {
	r, w := openPair(t)

	in := wire.NewMessage(1, "alice", "hi\n")
	buf, err := in.MarshalBinary()
	require.NoError(t, err)

	n, err := w.Write(buf)
	require.NoError(t, err)
	require.Equal(t, wire.MessageSize, n)

	got := make([]byte, wire.MessageSize)
	n, err = r.Read(got)
	require.NoError(t, err)
	require.Equal(t, wire.MessageSize, n)

	var out wire.Message
	require.NoError(t, out.UnmarshalBinary(got[:n]))
	assert.Equal(t, in, out)
}

func TestReadReportsEOFAfterWriterCloses(t *testing.T) {
	r, w := openPair(t)
	require.NoError(t, w.Close())

	ready, err := WaitReadable(r, time.Second)
	require.NoError(t, err)
	assert.True(t, ready)

	_, err = r.Read(make([]byte, 8))
	assert.Equal(t, io.EOF, err)
}

func TestClosedEndpoint(t *testing.T) {
	r, w := openPair(t)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	assert.Equal(t, -1, w.Fd())
	_, err := w.Write([]byte("x"))
	assert.True(t, errors.Is(err, ErrClosed))

	require.NoError(t, r.Close())
	_, err = r.Read(make([]byte, 1))
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestWriteAfterReaderLeftFails(t *testing.T) {
	r, w := openPair(t)
	require.NoError(t, r.Close())

	_, err := w.Write([]byte("lost"))
	assert.Error(t, err)
}

func TestOpenWithTimeoutReleasesPendingOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nobody")

	start := time.Now()
	ep, err := OpenWithTimeout(path, ReadOnly, 50*time.Millisecond)
	assert.Nil(t, ep)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOpenTimeout))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestOpenWithTimeoutSucceedsWhenPeerArrives(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peer")
	require.NoError(t, Create(path))

	go func() {
		time.Sleep(20 * time.Millisecond)
		w, err := CreateAndOpen(path, WriteOnly)
		if err == nil {
			time.Sleep(20 * time.Millisecond)
			_ = w.Close()
		}
	}()

	ep, err := OpenWithTimeout(path, ReadOnly, 2*time.Second)
	require.NoError(t, err)
	_ = ep.Close()
}

func TestListenerNeverSeesEOF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server_input")

	l, err := Listen(path)
	require.NoError(t, err)
	defer l.Close()

	w, err := CreateAndOpen(path, WriteOnly)
	require.NoError(t, err)

	hs, err := wire.NewHandshake(9, "carol").MarshalBinary()
	require.NoError(t, err)
	_, err = w.Write(hs)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	buf := make([]byte, wire.HandshakeSize)
	n, err := l.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, wire.HandshakeSize, n)

	ready, err := WaitReadable(l.Endpoint, 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ready, "control endpoint must stay quiet after the last client leaves")
}
