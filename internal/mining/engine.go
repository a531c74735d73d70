package mining

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/acbcminer/acbcminer/internal/blocktemplate"
	"github.com/acbcminer/acbcminer/internal/hashing"
	"github.com/acbcminer/acbcminer/log"
)

// ErrInvalidArgument is returned when mine() is called with a zero thread
// count.
var ErrInvalidArgument = errors.New("mining: thread count must be at least 1")

// ErrAlreadyRunning is returned when mine() is called while a previous
// attempt on the same engine is still in progress, or has found a block
// and the engine has not been Reset since.
var ErrAlreadyRunning = errors.New("mining: engine is already running")

// miningState is the tri-state atomic driving first-finder-wins
// termination. Only workers perform the IN_PROGRESS -> FOUND transition
// (via CAS); only stop() performs IN_PROGRESS -> STOPPED (unconditionally).
// Both FOUND and STOPPED are terminal for a given attempt.
type miningState int32

const (
	stateStopped miningState = iota
	stateInProgress
	stateFound
)

// Outcome is the result of a SearchEngine attempt.
type Outcome struct {
	Found bool
	Block blocktemplate.BlockTemplate
}

// SearchEngine owns one mining attempt at a time: it spawns N worker
// goroutines, each scanning a disjoint nonce residue class, all observing
// a shared atomic state. The first worker to find a qualifying hash
// publishes its block and flips the state to FOUND; the rest observe that
// and exit without publishing.
type SearchEngine struct {
	hasher hashing.Hasher

	state     atomic.Int32
	hashCount atomic.Uint64

	mu      sync.Mutex
	stopped chan struct{} // closed when the current attempt has fully drained
}

// NewSearchEngine returns an idle engine driven by hasher.
func NewSearchEngine(hasher hashing.Hasher) *SearchEngine {
	e := &SearchEngine{hasher: hasher}
	e.state.Store(int32(stateStopped))
	return e
}

// HashCount returns the monotone, non-decreasing count of hash attempts
// made across all workers over the engine's lifetime; it is not reset
// between attempts.
func (e *SearchEngine) HashCount() uint64 {
	return e.hashCount.Load()
}

// Mine searches for a nonce satisfying params.Difficulty using threadCount
// parallel workers. It blocks until all workers have returned.
func (e *SearchEngine) Mine(params blocktemplate.MiningParameters, threadCount uint32) (Outcome, error) {
	if threadCount == 0 {
		return Outcome{}, ErrInvalidArgument
	}

	// The CAS and the stopped-channel assignment happen under the same
	// lock so that a concurrent Stop() which observes the CAS's new
	// state (state is a separate atomic, visible immediately) blocks on
	// mu until this section has finished installing the channel Stop()
	// needs to wait on, rather than racing to read a nil channel.
	e.mu.Lock()
	if !e.state.CompareAndSwap(int32(stateStopped), int32(stateInProgress)) {
		e.mu.Unlock()
		return Outcome{}, ErrAlreadyRunning
	}
	stopped := make(chan struct{})
	e.stopped = stopped
	e.mu.Unlock()

	log.SrchLog.Infof("started mining for difficulty of %d with %d threads", params.Difficulty, threadCount)

	seed := randomUint32()

	var wg sync.WaitGroup
	var winner atomic.Pointer[blocktemplate.BlockTemplate]

	for i := uint32(0); i < threadCount; i++ {
		workerTemplate := params.Template.Clone()
		workerTemplate.Nonce = seed + i

		wg.Add(1)
		go e.worker(&wg, workerTemplate, params.Difficulty, threadCount, &winner)
	}

	wg.Wait()
	close(stopped)

	// Read the outcome from this attempt's own winner pointer, not from
	// e.state: by the time we get here a new attempt may already have
	// been started on this engine (e.g. Stop() returns as soon as
	// stopped is closed, and the caller can immediately begin another
	// Mine), and that new attempt's state can reach FOUND before this
	// goroutine resumes. e.state no longer says anything about this
	// attempt at that point, only the latest one.
	if block := winner.Load(); block != nil {
		return Outcome{Found: true, Block: *block}, nil
	}

	return Outcome{Found: false}, nil
}

// worker scans nonce = initial, initial+step, initial+2*step, ... while the
// engine's state is IN_PROGRESS. Nonce overflow within a worker's residue
// class is expected: it wraps and continues.
func (e *SearchEngine) worker(
	wg *sync.WaitGroup,
	template blocktemplate.BlockTemplate,
	difficulty uint64,
	step uint32,
	winner *atomic.Pointer[blocktemplate.BlockTemplate],
) {
	defer wg.Done()

	for miningState(e.state.Load()) == stateInProgress {
		raw, err := blocktemplate.Serialize(template)
		if err != nil {
			log.SrchLog.Errorf("worker failed to serialize template: %v", err)
			return
		}

		digest := e.hasher.LongHash(raw)

		if hashing.MeetsTarget(digest, difficulty) {
			if e.state.CompareAndSwap(int32(stateInProgress), int32(stateFound)) {
				found := template
				winner.Store(&found)
			}
			return
		}

		e.hashCount.Add(1)
		template.Nonce += step
	}
}

// Stop is idempotent. If an attempt is in progress it CASes the state to
// STOPPED and waits for every worker to observe that and exit; otherwise
// it returns immediately. Wake-up latency is bounded by one hash
// computation per worker, since workers only check state once per
// iteration.
func (e *SearchEngine) Stop() {
	if !e.state.CompareAndSwap(int32(stateInProgress), int32(stateStopped)) {
		return
	}

	e.mu.Lock()
	stopped := e.stopped
	e.mu.Unlock()

	if stopped != nil {
		<-stopped
	}
}

// Reset returns the engine to STOPPED so it can be reused for the next
// attempt. Mine already requires the prior state to be STOPPED before
// transitioning to IN_PROGRESS, so Reset only needs to clear a FOUND
// terminal state left over from a successful attempt.
func (e *SearchEngine) Reset() {
	e.state.CompareAndSwap(int32(stateFound), int32(stateStopped))
}

func randomUint32() uint32 {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing is effectively unrecoverable system
		// corruption; a fixed seed keeps the miner scanning rather
		// than crashing the process over a degraded entropy source.
		return 0
	}
	return binary.LittleEndian.Uint32(buf[:])
}
