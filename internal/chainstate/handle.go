package chainstate

import (
	"sync"

	"github.com/mintledger/chainstate/pkg/block"
	"github.com/mintledger/chainstate/pkg/types"
)

// NewTip is published to every subscriber after a connect or reorg
// moves the active tip (§4.H).
type NewTip struct {
	BlockID types.Hash
	Height  uint64
}

// request is one (closure, reply channel) pair processed serially by
// Handle's actor loop, giving every caller the illusion of a single
// synchronous chain-state engine regardless of how many goroutines
// submit blocks concurrently.
type request struct {
	run   func() (Outcome, error)
	reply chan response
}

type response struct {
	outcome Outcome
	err     error
}

// Handle wraps an Engine behind one actor goroutine: SubmitBlock calls
// enqueue a closure and block on a reply channel, and a single loop
// drains the queue so the Engine itself never needs its own
// concurrency story beyond the mutex it already holds for direct
// (non-Handle) callers. Subscribers receive a NewTip event after every
// successful connect or reorg, fanned out best-effort with per-subscriber
// FIFO ordering.
type Handle struct {
	engine *Engine
	reqs   chan request

	subMu sync.Mutex
	subs  map[int]chan NewTip
	nextSubID int
}

// NewHandle starts the actor loop over engine and returns a Handle.
// Callers should use the Handle exclusively once created — calling
// Engine's own methods directly alongside it reintroduces the
// concurrent-access hazard the Handle exists to remove.
func NewHandle(engine *Engine) *Handle {
	h := &Handle{
		engine: engine,
		reqs:   make(chan request),
		subs:   make(map[int]chan NewTip),
	}
	go h.run()
	return h
}

func (h *Handle) run() {
	for req := range h.reqs {
		outcome, err := req.run()
		req.reply <- response{outcome: outcome, err: err}
		if err == nil && (outcome == OutcomeConnected || outcome == OutcomeReorged) {
			h.publish(NewTip{BlockID: h.engine.State().TipHash, Height: h.engine.State().Height})
		}
	}
}

// SubmitBlock enqueues blk for processing by the actor loop and blocks
// until it has been fully accepted or rejected.
func (h *Handle) SubmitBlock(blk *block.Block, source BlockSource) (Outcome, error) {
	reply := make(chan response, 1)
	h.reqs <- request{
		run:   func() (Outcome, error) { return h.engine.SubmitBlock(blk, source) },
		reply: reply,
	}
	r := <-reply
	return r.outcome, r.err
}

// State returns the current chain cursor. Safe to call concurrently
// with in-flight SubmitBlock calls; it reads Engine's own mutex-guarded
// state directly rather than going through the actor queue, since a
// snapshot read needs no ordering guarantee relative to the next block.
func (h *Handle) State() ChainState {
	return h.engine.State()
}

// Subscribe registers a new NewTip listener, returning the channel to
// receive events on and an unsubscribe function. The channel is
// buffered; a subscriber that falls behind stops receiving further
// events once its buffer fills rather than blocking the chain (§4.H's
// "best-effort fan-out").
func (h *Handle) Subscribe() (<-chan NewTip, func()) {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan NewTip, 16)
	h.subs[id] = ch

	unsubscribe := func() {
		h.subMu.Lock()
		defer h.subMu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
	return ch, unsubscribe
}

func (h *Handle) publish(ev NewTip) {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber's buffer is full; drop rather than block the
			// chain on a slow listener.
		}
	}
}

// Close stops the actor loop. A SubmitBlock call made after Close
// panics (it sends on the closed request channel); callers must stop
// submitting before closing.
func (h *Handle) Close() {
	close(h.reqs)
}
