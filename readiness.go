package serial

import (
	"github.com/luhtfiimanal/go-async-serial/eventloop"
)

// fdWatch is the readiness registration for handles backed by a pollable
// descriptor.
type fdWatch struct {
	reg *eventloop.Registration
}

func watchFD(loop *eventloop.Loop, fd int, ready func(eventloop.Interest)) (Watch, error) {
	reg, err := loop.Register(fd, eventloop.None, ready)
	if err != nil {
		return nil, err
	}
	return &fdWatch{reg: reg}, nil
}

func (w *fdWatch) SetInterest(i eventloop.Interest) error {
	return w.reg.Modify(i)
}

func (w *fdWatch) Interest() eventloop.Interest {
	return w.reg.Interest()
}

func (w *fdWatch) Stop() {
	w.reg.Unregister()
}
