package mining

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acbcminer/acbcminer/internal/blocktemplate"
	"github.com/acbcminer/acbcminer/internal/hashing"
)

// alwaysPassesHasher reports every hash as meeting any target, letting the
// first worker to run one iteration win immediately.
type alwaysPassesHasher struct{}

func (alwaysPassesHasher) LongHash(_ []byte) hashing.Digest {
	return hashing.Digest{}
}

// recordingHasher records the nonce of every header it hashes, useful for
// asserting nonce partitioning.
type recordingHasher struct {
	mu     sync.Mutex
	nonces []uint32
}

func (h *recordingHasher) LongHash(raw []byte) hashing.Digest {
	h.mu.Lock()
	defer h.mu.Unlock()
	tmpl, err := blocktemplate.Deserialize(raw)
	if err == nil {
		h.nonces = append(h.nonces, tmpl.Nonce)
	}
	var d hashing.Digest
	for i := range d {
		d[i] = 0xff
	}
	return d // never meets a target above 1
}

func TestMineZeroDifficultyNeverDeadlocks(t *testing.T) {
	engine := NewSearchEngine(alwaysPassesHasher{})

	params := blocktemplate.MiningParameters{Template: blocktemplate.BlockTemplate{}, Difficulty: 0}

	done := make(chan Outcome, 1)
	go func() {
		outcome, err := engine.Mine(params, 4)
		require.NoError(t, err)
		done <- outcome
	}()

	select {
	case outcome := <-done:
		require.True(t, outcome.Found)
	case <-time.After(5 * time.Second):
		t.Fatal("mine did not return; possible deadlock at difficulty 0")
	}
}

func TestMineRejectsZeroThreadCount(t *testing.T) {
	engine := NewSearchEngine(alwaysPassesHasher{})
	_, err := engine.Mine(blocktemplate.MiningParameters{}, 0)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestMineRejectsReentrantCall(t *testing.T) {
	engine := NewSearchEngine(unsatisfiableHasher{})

	go engine.Mine(blocktemplate.MiningParameters{Difficulty: ^uint64(0)}, 2)
	time.Sleep(50 * time.Millisecond)

	_, err := engine.Mine(blocktemplate.MiningParameters{Difficulty: ^uint64(0)}, 2)
	require.ErrorIs(t, err, ErrAlreadyRunning)

	engine.Stop()
}

// unsatisfiableHasher never meets any target above 1, so workers spin
// until stopped.
type unsatisfiableHasher struct{}

func (unsatisfiableHasher) LongHash(_ []byte) hashing.Digest {
	var d hashing.Digest
	for i := range d {
		d[i] = 0xff
	}
	return d
}

func TestStopCancelsWithinOneIterationPerWorker(t *testing.T) {
	engine := NewSearchEngine(unsatisfiableHasher{})
	params := blocktemplate.MiningParameters{Difficulty: ^uint64(0), Template: blocktemplate.BlockTemplate{}}

	done := make(chan Outcome, 1)
	go func() {
		outcome, _ := engine.Mine(params, 4)
		done <- outcome
	}()

	time.Sleep(100 * time.Millisecond)

	stopStart := time.Now()
	engine.Stop()
	elapsed := time.Since(stopStart)

	require.Less(t, elapsed, 2*time.Second)

	outcome := <-done
	require.False(t, outcome.Found)
	require.Greater(t, engine.HashCount(), uint64(0))
}

func TestStopIsIdempotent(t *testing.T) {
	engine := NewSearchEngine(unsatisfiableHasher{})
	engine.Stop()
	engine.Stop()
}

func TestNoncePartitioningHasNoOverlap(t *testing.T) {
	hasher := &recordingHasher{}
	engine := NewSearchEngine(hasher)

	params := blocktemplate.MiningParameters{Difficulty: 2, Template: blocktemplate.BlockTemplate{}}

	done := make(chan struct{})
	go func() {
		engine.Mine(params, 3)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	engine.Stop()
	<-done

	hasher.mu.Lock()
	defer hasher.mu.Unlock()

	seen := make(map[uint32]int)
	for _, n := range hasher.nonces {
		seen[n]++
	}
	for nonce, count := range seen {
		require.Equal(t, 1, count, "nonce %d visited more than once", nonce)
	}
}

func TestExclusiveWinner(t *testing.T) {
	engine := NewSearchEngine(alwaysPassesHasher{})
	params := blocktemplate.MiningParameters{Template: blocktemplate.BlockTemplate{MajorVersion: 1}, Difficulty: 1}

	outcome, err := engine.Mine(params, 8)
	require.NoError(t, err)
	require.True(t, outcome.Found)

	raw, err := blocktemplate.Serialize(outcome.Block)
	require.NoError(t, err)
	digest := alwaysPassesHasher{}.LongHash(raw)
	require.True(t, hashing.MeetsTarget(digest, params.Difficulty))
}

func TestHashCountMonotonicallyIncreases(t *testing.T) {
	engine := NewSearchEngine(unsatisfiableHasher{})
	params := blocktemplate.MiningParameters{Difficulty: ^uint64(0), Template: blocktemplate.BlockTemplate{}}

	go engine.Mine(params, 2)

	var last uint64
	for i := 0; i < 5; i++ {
		time.Sleep(20 * time.Millisecond)
		current := engine.HashCount()
		require.GreaterOrEqual(t, current, last)
		last = current
	}

	engine.Stop()
}

func TestMineReusableAfterReset(t *testing.T) {
	engine := NewSearchEngine(alwaysPassesHasher{})
	params := blocktemplate.MiningParameters{Template: blocktemplate.BlockTemplate{}, Difficulty: 1}

	outcome, err := engine.Mine(params, 1)
	require.NoError(t, err)
	require.True(t, outcome.Found)

	engine.Reset()

	outcome, err = engine.Mine(params, 1)
	require.NoError(t, err)
	require.True(t, outcome.Found)
}
