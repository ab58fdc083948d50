package service

import "sync/atomic"

// State is the phase of a single forwarding call.
//
//	Idle -> Sending -> AwaitingHeaders -> StreamingBody -> Done
//
// Failed is reachable from any phase before StreamingBody; Aborted only from
// StreamingBody, when the status line has already been sent.
type State int32

const (
	StateIdle State = iota
	StateSending
	StateAwaitingHeaders
	StateStreamingBody
	StateDone
	StateFailed
	StateAborted
)

var stateNames = [...]string{
	StateIdle:            "idle",
	StateSending:         "sending",
	StateAwaitingHeaders: "awaiting_headers",
	StateStreamingBody:   "streaming_body",
	StateDone:            "done",
	StateFailed:          "failed",
	StateAborted:         "aborted",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// phase tracks the current state of a call. The transport reports the end of
// the request write from its own goroutine, so access is atomic.
type phase struct {
	v atomic.Int32
}

func (p *phase) set(s State) { p.v.Store(int32(s)) }

func (p *phase) get() State { return State(p.v.Load()) }

// advance moves from one state to the next only if the call is still in from.
func (p *phase) advance(from, to State) bool {
	return p.v.CompareAndSwap(int32(from), int32(to))
}
