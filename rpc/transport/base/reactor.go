//go:build unix

package base

import (
	"github.com/ValentinKolb/memcon/lib/memory"
	"github.com/ValentinKolb/memcon/lib/util"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("transport")

// event is one inbound message (or the terminal error) of a connection
type event struct {
	conn   *connection
	msg    []byte
	handle memory.IExchangeHandle
	err    error
}

// reactor runs all receive callbacks of a transport instance on one goroutine.
// Reader goroutines only push events, so callbacks never run concurrently
type reactor struct {
	queue *util.MPSCQueue[event]
}

func newReactor() *reactor {
	r := &reactor{queue: util.NewMPSCQueue[event]()}
	go r.run()
	return r
}

func (r *reactor) run() {
	for ev := range r.queue.Recv() {
		ev.conn.dispatch(ev)
	}
}

// push hands ev to the reactor goroutine. It returns false once the reactor is closed
func (r *reactor) push(ev event) bool {
	return r.queue.Push(ev)
}

// close stops the reactor after the queued events are dispatched
func (r *reactor) close() {
	r.queue.Close()
}

// done is closed once the reactor goroutine exited
func (r *reactor) done() <-chan struct{} {
	return r.queue.Done()
}
