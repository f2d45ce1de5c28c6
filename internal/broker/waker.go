package broker

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// waker turns context cancellation into a readable pipe so the poll loop can
// wait on it next to the FIFOs.
type waker struct {
	r, w int
	stop chan struct{}
	done chan struct{}
}

func newWaker(ctx context.Context) (*waker, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return nil, errors.Wrap(err, "create wake pipe")
	}
	wk := &waker{r: p[0], w: p[1], stop: make(chan struct{}), done: make(chan struct{})}

	go func() {
		defer close(wk.done)
		select {
		case <-ctx.Done():
			_, _ = unix.Write(wk.w, []byte{1})
		case <-wk.stop:
		}
	}()
	return wk, nil
}

func (wk *waker) fd() int {
	return wk.r
}

func (wk *waker) close() {
	close(wk.stop)
	<-wk.done
	_ = unix.Close(wk.r)
	_ = unix.Close(wk.w)
}
