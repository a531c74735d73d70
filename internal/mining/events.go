package mining

import (
	"github.com/acbcminer/acbcminer/chaincfg/chainhash"
	"github.com/acbcminer/acbcminer/internal/blocktemplate"
)

// MinerEventType tags a MinerEvent.
type MinerEventType int

const (
	// BlockMined is pushed by a search attempt that found a winning
	// nonce.
	BlockMined MinerEventType = iota

	// TipAdvanced is pushed by the tip monitor when it observes a chain
	// tip different from the one it baselined against.
	TipAdvanced
)

func (t MinerEventType) String() string {
	switch t {
	case BlockMined:
		return "BlockMined"
	case TipAdvanced:
		return "TipAdvanced"
	default:
		return "Unknown"
	}
}

// MinerEvent is the tagged variant the Manager's event loop consumes.
// AttemptID ties a BlockMined event back to the search attempt that
// produced it, so a stale event from an already-abandoned attempt can be
// told apart from the current one.
type MinerEvent struct {
	Type      MinerEventType
	AttemptID uint64
	Block     blocktemplate.BlockTemplate // winning block, only set for BlockMined
	TipID     chainhash.Hash
}

// MinerEventQueue is a bounded, single-consumer FIFO with signal
// semantics. Push never blocks the producer in practice: a search attempt
// and a tip check can each contribute at most one outstanding event, and
// the channel is sized with headroom well above that.
type MinerEventQueue struct {
	ch chan MinerEvent
}

// NewMinerEventQueue returns an empty queue.
func NewMinerEventQueue() *MinerEventQueue {
	return &MinerEventQueue{ch: make(chan MinerEvent, 8)}
}

// Push enqueues event. It never drops events; if the queue's buffer were
// ever exhausted this would block the producer goroutine rather than lose
// the event, which is the correct failure mode for a "must not drop
// events" queue.
func (q *MinerEventQueue) Push(event MinerEvent) {
	q.ch <- event
}

// Pop blocks until an event is available and returns it.
func (q *MinerEventQueue) Pop() MinerEvent {
	return <-q.ch
}
