package endpoint

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Direction selects which side of a FIFO an Endpoint opens.
type Direction int

const (
	// ReadOnly opens the receiving side.
	ReadOnly Direction = iota
	// WriteOnly opens the sending side.
	WriteOnly
)

func (d Direction) String() string {
	switch d {
	case ReadOnly:
		return "read"
	case WriteOnly:
		return "write"
	default:
		return "unknown"
	}
}

func (d Direction) flags() int {
	if d == WriteOnly {
		return unix.O_WRONLY | unix.O_CLOEXEC
	}
	return unix.O_RDONLY | unix.O_CLOEXEC
}

func (d Direction) opposite() Direction {
	if d == WriteOnly {
		return ReadOnly
	}
	return WriteOnly
}

var (
	// ErrClosed is returned by operations on a closed Endpoint.
	ErrClosed = errors.New("endpoint: closed")
	// ErrOpenTimeout is returned by OpenWithTimeout when no peer showed up.
	ErrOpenTimeout = errors.New("endpoint: timed out waiting for peer")
)

const fifoMode = 0o666

// Endpoint is one opened side of a FIFO. It wraps the raw descriptor so the
// broker can hand it straight to poll(2); reads and writes are plain blocking
// system calls and never go through the Go netpoller.
type Endpoint struct {
	path string
	dir  Direction

	mu sync.Mutex
	fd int
}

// Create makes the FIFO at path. An existing FIFO is not an error.
func Create(path string) error {
	if err := unix.Mkfifo(path, fifoMode); err != nil && !errors.Is(err, unix.EEXIST) {
		return errors.Wrapf(err, "mkfifo %s", path)
	}
	return nil
}

// CreateAndOpen ensures the FIFO at path exists and opens it in direction dir,
// blocking until a peer opens the other side.
func CreateAndOpen(path string, dir Direction) (*Endpoint, error) {
	if err := Create(path); err != nil {
		return nil, err
	}
	fd, err := openRetry(path, dir.flags())
	if err != nil {
		return nil, errors.Wrapf(err, "open %s for %s", path, dir)
	}
	return &Endpoint{path: path, dir: dir, fd: fd}, nil
}

// OpenWithTimeout is CreateAndOpen bounded by timeout. When the timeout fires
// the pending open is released by briefly opening the opposite side, so no
// goroutine is left parked in open(2).
func OpenWithTimeout(path string, dir Direction, timeout time.Duration) (*Endpoint, error) {
	if timeout <= 0 {
		return CreateAndOpen(path, dir)
	}
	if err := Create(path); err != nil {
		return nil, err
	}

	type result struct {
		ep  *Endpoint
		err error
	}
	done := make(chan result, 1)
	go func() {
		ep, err := CreateAndOpen(path, dir)
		done <- result{ep, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.ep, r.err
	case <-timer.C:
	}

	release(path, dir.opposite())
	r := <-done
	if r.ep != nil {
		_ = r.ep.Close()
	}
	return nil, errors.Wrapf(ErrOpenTimeout, "open %s for %s after %s", path, dir, timeout)
}

// release opens and immediately closes path without blocking so that a
// concurrent blocking open of the other side returns.
func release(path string, dir Direction) {
	fd, err := unix.Open(path, dir.flags()|unix.O_NONBLOCK, 0)
	if err != nil {
		return
	}
	_ = unix.Close(fd)
}

func openRetry(path string, flags int) (int, error) {
	for {
		fd, err := unix.Open(path, flags, 0)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return fd, err
	}
}

// Path returns the FIFO path.
func (e *Endpoint) Path() string {
	return e.path
}

// Direction returns the side this endpoint opened.
func (e *Endpoint) Direction() Direction {
	return e.dir
}

// Fd returns the raw descriptor, or -1 once closed.
func (e *Endpoint) Fd() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fd
}

// Read performs a single read(2). A zero-byte read is reported as io.EOF:
// every writer has closed its side.
func (e *Endpoint) Read(p []byte) (int, error) {
	fd := e.Fd()
	if fd < 0 {
		return 0, ErrClosed
	}
	for {
		n, err := unix.Read(fd, p)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, errors.Wrapf(err, "read %s", e.path)
		}
		if n == 0 && len(p) > 0 {
			return 0, io.EOF
		}
		return n, nil
	}
}

// Write performs a single write(2) of p. Records are far below PIPE_BUF, so
// a write is either complete or failed; a partial write is reported as
// io.ErrShortWrite.
func (e *Endpoint) Write(p []byte) (int, error) {
	fd := e.Fd()
	if fd < 0 {
		return 0, ErrClosed
	}
	for {
		n, err := unix.Write(fd, p)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return n, errors.Wrapf(err, "write %s", e.path)
		}
		if n != len(p) {
			return n, io.ErrShortWrite
		}
		return n, nil
	}
}

// Close releases the descriptor. Closing twice is a no-op.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fd < 0 {
		return nil
	}
	err := unix.Close(e.fd)
	e.fd = -1
	if err != nil {
		return errors.Wrapf(err, "close %s", e.path)
	}
	return nil
}
