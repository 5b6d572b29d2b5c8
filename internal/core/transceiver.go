package core

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/SimplyPrint/classic-agent/internal/logging"
)

// ErrTransmitTimeout is returned when the reader does not answer in time.
var ErrTransmitTimeout = errors.New("transmit timed out")

var errTransceiverClosed = errors.New("transceiver closed")

// timeoutTransceiver bounds every Transmit. After the first failure it refuses all
// further traffic: a reader that timed out may still be executing the command, and
// the card's authentication state is unknown.
type timeoutTransceiver struct {
	card    SmartCard
	timeout time.Duration

	mu       sync.Mutex
	broken   error
	inflight chan struct{} // closed when the last bounded Transmit returns
}

func newTimeoutTransceiver(card SmartCard, timeout time.Duration) *timeoutTransceiver {
	return &timeoutTransceiver{card: card, timeout: timeout}
}

type transmitResult struct {
	rsp []byte
	err error
}

func (t *timeoutTransceiver) Transmit(cmd []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.broken != nil {
		return nil, t.broken
	}
	if t.timeout <= 0 {
		rsp, err := t.card.Transmit(cmd)
		if err != nil {
			t.broken = err
		}
		return rsp, err
	}

	done := make(chan transmitResult, 1)
	inflight := make(chan struct{})
	t.inflight = inflight
	go func() {
		defer close(inflight)
		rsp, err := t.card.Transmit(cmd)
		done <- transmitResult{rsp, err}
	}()

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()
	select {
	case r := <-done:
		if r.err != nil {
			t.broken = r.err
		}
		return r.rsp, r.err
	case <-timer.C:
		t.broken = fmt.Errorf("%w after %s", ErrTransmitTimeout, t.timeout)
		return nil, t.broken
	}
}

// close runs cleanup once no Transmit is using the card. If a timed out command is
// still running, cleanup is left to run when it returns and close does not wait.
func (t *timeoutTransceiver) close(cleanup func()) {
	t.mu.Lock()
	inflight := t.inflight
	if t.broken == nil {
		t.broken = errTransceiverClosed
	}
	t.mu.Unlock()

	if inflight == nil {
		cleanup()
		return
	}
	select {
	case <-inflight:
		cleanup()
	default:
		logging.Warn(logging.CatReader, "Reader still busy after timeout, disconnect deferred", nil)
		go func() {
			<-inflight
			cleanup()
		}()
	}
}
