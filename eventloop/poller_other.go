//go:build !linux && !darwin

package eventloop

// chanPoller is used where poll(2) is unavailable. It only handles wakeups;
// devices on these platforms report readiness through Schedule.
type chanPoller struct {
	wake chan struct{}
}

func newPoller() (poller, error) {
	return &chanPoller{wake: make(chan struct{}, 1)}, nil
}

func (p *chanPoller) supportsFD() bool { return false }

func (p *chanPoller) wait(_ []pollRequest, block bool) ([]pollEvent, error) {
	if !block {
		select {
		case <-p.wake:
		default:
		}
		return nil, nil
	}
	<-p.wake
	return nil, nil
}

func (p *chanPoller) wakeup() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *chanPoller) close() error { return nil }
