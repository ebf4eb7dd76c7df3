package httpapi

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// idleTimeout is the data-transfer idle ceiling from spec.md section 5:
// a progress-based watchdog that resets on any byte received and kills
// the transfer once nothing has moved for this long.
const idleTimeout = 60 * time.Second

var errIdleTimeout = errors.New("xpan: no data transferred for 60s, aborting")

// idleWatchdog cancels a derived context when touch hasn't been called
// for idleTimeout. UploadSlice and GetRange wrap their streaming
// reader/writer so every chunk of bytes touches it, which is what lets
// a genuinely slow-but-moving transfer run indefinitely while a stalled
// one gets cut loose instead of hanging on streamClient's disabled
// timeout.
type idleWatchdog struct {
	cancel context.CancelCauseFunc
	timer  *time.Timer

	mu      sync.Mutex
	stopped bool
}

func watchIdle(ctx context.Context) (context.Context, *idleWatchdog) {
	wctx, cancel := context.WithCancelCause(ctx)
	w := &idleWatchdog{cancel: cancel}
	w.timer = time.AfterFunc(idleTimeout, func() {
		cancel(errIdleTimeout)
	})
	return wctx, w
}

func (w *idleWatchdog) touch() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.timer.Reset(idleTimeout)
}

// stop disarms the timer. Call once the request has finished so the
// watchdog doesn't fire after the fact against an already-closed
// context.
func (w *idleWatchdog) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	w.timer.Stop()
	w.cancel(nil)
}

// watchdogReader touches wd on every byte read, for upload bodies.
type watchdogReader struct {
	r  io.Reader
	wd *idleWatchdog
}

func (r watchdogReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.wd.touch()
	}
	return n, err
}

// watchdogWriter touches wd on every byte written, for download bodies.
type watchdogWriter struct {
	w  io.Writer
	wd *idleWatchdog
}

func (w watchdogWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	if n > 0 {
		w.wd.touch()
	}
	return n, err
}
