package endpoint

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Poll waits on fds and returns the number with non-zero revents. A negative
// timeout waits forever. Interrupted waits are restarted.
func Poll(fds []unix.PollFd, timeout time.Duration) (int, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	for {
		n, err := unix.Poll(fds, ms)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, errors.Wrap(err, "poll")
		}
		return n, nil
	}
}

// WaitReadable reports whether e has data or a hang-up pending within timeout.
func WaitReadable(e *Endpoint, timeout time.Duration) (bool, error) {
	fd := e.Fd()
	if fd < 0 {
		return false, ErrClosed
	}
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := Poll(fds, timeout)
	if err != nil {
		return false, err
	}
	return n > 0 && fds[0].Revents != 0, nil
}
