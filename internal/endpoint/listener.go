package endpoint

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Listener is the read side of the shared control FIFO.
//
// It keeps a private write handle on the same FIFO, so the read side never
// reaches end-of-stream when the last client closes its write handle. Without
// it, poll(2) would report the control endpoint readable forever.
type Listener struct {
	*Endpoint
	hold *Endpoint
}

// Listen creates the control FIFO at path and opens it for reading without
// waiting for a first client.
func Listen(path string) (*Listener, error) {
	if err := Create(path); err != nil {
		return nil, err
	}

	rfd, err := openRetry(path, ReadOnly.flags()|unix.O_NONBLOCK)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s for read", path)
	}
	wfd, err := openRetry(path, WriteOnly.flags())
	if err != nil {
		_ = unix.Close(rfd)
		return nil, errors.Wrapf(err, "hold %s for write", path)
	}
	if err := unix.SetNonblock(rfd, false); err != nil {
		_ = unix.Close(rfd)
		_ = unix.Close(wfd)
		return nil, errors.Wrapf(err, "set %s blocking", path)
	}

	return &Listener{
		Endpoint: &Endpoint{path: path, dir: ReadOnly, fd: rfd},
		hold:     &Endpoint{path: path, dir: WriteOnly, fd: wfd},
	}, nil
}

// Close closes the read side and the held write side.
func (l *Listener) Close() error {
	rerr := l.Endpoint.Close()
	herr := l.hold.Close()
	if rerr != nil {
		return rerr
	}
	return herr
}
