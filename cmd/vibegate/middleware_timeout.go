package main

import (
	"net/http"
	"sync"
	"time"
)

// timeoutGuardMiddleware injects a synthetic 408 through the pipeline when
// the handler produces no response within the configured duration. The guard
// timer is cancelled on every exit path: normal completion, client
// disconnect, or the timeout itself. The WebSocket path is exempt; those
// connections are long-lived on purpose.
func timeoutGuardMiddleware(pipeline *errorPipeline, d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if d <= 0 || r.URL.Path == "/ws" {
				next.ServeHTTP(w, r)
				return
			}

			tw := newTimeoutWriter(w)
			done := make(chan struct{})
			panicChan := make(chan interface{}, 1)

			go func() {
				defer func() {
					if v := recover(); v != nil {
						panicChan <- v
					}
				}()
				next.ServeHTTP(tw, r)
				close(done)
			}()

			timer := time.NewTimer(d)
			defer timer.Stop()

			select {
			case v := <-panicChan:
				panic(v)
			case <-done:
				tw.finish()
			case <-r.Context().Done():
				// Connection closed underneath us; suppress late writes.
				tw.markTimedOut()
			case <-timer.C:
				if tw.markTimedOut() {
					pipeline.Respond(w, r, newTimeoutError())
				}
			}
		})
	}
}

// timeoutWriter buffers the handler's header mutations so the guard can
// still write a clean 408 on the underlying writer after expiry. Writes
// after expiry are dropped with http.ErrHandlerTimeout.
type timeoutWriter struct {
	w http.ResponseWriter
	h http.Header

	mu          sync.Mutex
	timedOut    bool
	wroteHeader bool
}

func newTimeoutWriter(w http.ResponseWriter) *timeoutWriter {
	return &timeoutWriter{w: w, h: make(http.Header)}
}

func (tw *timeoutWriter) Header() http.Header { return tw.h }

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.writeHeaderLocked(code)
}

func (tw *timeoutWriter) Write(p []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return 0, http.ErrHandlerTimeout
	}
	if !tw.wroteHeader {
		tw.writeHeaderLocked(http.StatusOK)
	}
	return tw.w.Write(p)
}

func (tw *timeoutWriter) Flush() {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return
	}
	if flusher, ok := tw.w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (tw *timeoutWriter) writeHeaderLocked(code int) {
	if tw.timedOut || tw.wroteHeader {
		return
	}
	tw.wroteHeader = true
	dst := tw.w.Header()
	for k, vv := range tw.h {
		dst[k] = vv
	}
	tw.w.WriteHeader(code)
}

// markTimedOut flips the writer into drop mode. It reports true only when
// the handler had not yet produced any response, which is the only case
// where the guard may emit its synthetic timeout error.
func (tw *timeoutWriter) markTimedOut() bool {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.wroteHeader {
		return false
	}
	tw.timedOut = true
	return true
}

// finish propagates headers set by a handler that completed without writing
// a body or an explicit status.
func (tw *timeoutWriter) finish() {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut || tw.wroteHeader {
		return
	}
	dst := tw.w.Header()
	for k, vv := range tw.h {
		dst[k] = vv
	}
}
