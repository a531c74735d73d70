package mining

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/acbcminer/acbcminer/chaincfg/chainhash"
	"github.com/acbcminer/acbcminer/internal/blocktemplate"
	"github.com/acbcminer/acbcminer/internal/config"
	"github.com/acbcminer/acbcminer/internal/daemonclient"
	"github.com/acbcminer/acbcminer/internal/hashing"
	"github.com/acbcminer/acbcminer/log"
)

// Manager is the event-driven controller that arbitrates between "found a
// block", "tip advanced", and "blocks limit reached", keeping exactly one
// search attempt and at most one tip monitor active between any two
// adjacent events.
type Manager struct {
	cfg    *config.MiningConfig
	client *daemonclient.DaemonClient
	engine *SearchEngine
	queue  *MinerEventQueue

	lastBlockTimestamp uint64 // owned by the manager goroutine only
	blocksMined        uint32

	attemptID atomic.Uint64
	isRunning atomic.Bool

	mu      sync.Mutex
	monitor *TipMonitor // the TipMonitor for the currently active cycle, if any
}

// NewManager wires a Manager from configuration and a shared daemon
// client.
func NewManager(cfg *config.MiningConfig, client *daemonclient.DaemonClient) *Manager {
	return &Manager{
		cfg:    cfg,
		client: client,
		engine: NewSearchEngine(hashing.Sha3Hasher{}),
		queue:  NewMinerEventQueue(),
	}
}

// Start runs the full mining lifecycle until completion (the configured
// blocks limit is reached) or ctx is cancelled. It is synchronous from the
// caller's perspective: it does not return until mining is done.
func (m *Manager) Start(ctx context.Context) error {
	params := m.requestMiningParameters(ctx)
	if err := m.adjustBlockTemplate(&params.Template); err != nil {
		return fmt.Errorf("mining: adjusting initial template: %w", err)
	}

	m.isRunning.Store(true)
	defer m.isRunning.Store(false)

	go m.reportHashRate()

	m.beginCycle(ctx, params)

	return m.eventLoop(ctx)
}

// eventLoop is the Manager's single consumer of the event queue. Event
// handling is strictly sequential: concurrent events are serialized by the
// queue itself. It returns nil once ctx is cancelled, after stopping the
// current tip monitor and search attempt.
func (m *Manager) eventLoop(ctx context.Context) error {
	for {
		var event MinerEvent
		select {
		case <-ctx.Done():
			m.stopMonitor()
			m.engine.Stop()
			return nil
		case event = <-m.queue.ch:
		}

		switch event.Type {
		case BlockMined:
			if event.AttemptID != m.attemptID.Load() {
				// Stale event from an attempt already superseded
				// by a tip change; drop it without submitting.
				continue
			}

			if done := m.handleBlockMined(ctx, event); done {
				return nil
			}

		case TipAdvanced:
			m.handleTipAdvanced(ctx, event)
		}
	}
}

// handleBlockMined stops the tip monitor, submits the mined block, and
// starts a fresh attempt. It returns true when the configured blocks
// limit has just been reached and the Manager should terminate.
func (m *Manager) handleBlockMined(ctx context.Context, event MinerEvent) bool {
	m.stopMonitor()

	parentID := blocktemplate.ParentIdentifier(event.Block)

	blobHex, err := blocktemplate.SerializeHex(event.Block)
	if err != nil {
		log.MgrLog.Errorf("%s", warningMsg("failed to serialize mined block: "+err.Error()))
	} else {
		log.MgrLog.Infof("%s", informationMsg("submitting mined block on top of "+parentID.String()))
		accepted, err := m.client.SubmitBlock(ctx, blobHex)
		switch {
		case err != nil || !accepted:
			log.MgrLog.Warnf("%s", warningMsg("Failed to submit block, possibly daemon offline or syncing?"))
		default:
			fmt.Println(successMsg("Block found!"))
			m.lastBlockTimestamp = event.Block.Timestamp
			m.blocksMined++

			if m.cfg.BlocksLimit != 0 && m.blocksMined == m.cfg.BlocksLimit {
				log.MgrLog.Infof("mined requested amount of blocks (%d); quitting", m.cfg.BlocksLimit)
				return true
			}
		}
	}

	params := m.requestMiningParameters(ctx)
	if adjErr := m.adjustBlockTemplate(&params.Template); adjErr != nil {
		log.MgrLog.Errorf("%s", warningMsg("failed to adjust template: "+adjErr.Error()))
	}
	m.beginCycle(ctx, params)
	return false
}

// handleTipAdvanced stops the current search attempt and restarts mining
// against a freshly fetched template.
func (m *Manager) handleTipAdvanced(ctx context.Context, event MinerEvent) {
	var zero chainhash.Hash
	if event.TipID != zero {
		log.MgrLog.Infof("restarting search on new tip %s", event.TipID.String())
	} else {
		log.MgrLog.Info("restarting search")
	}
	m.engine.Stop()

	params := m.requestMiningParameters(ctx)
	if err := m.adjustBlockTemplate(&params.Template); err != nil {
		log.MgrLog.Errorf("%s", warningMsg("failed to adjust template: "+err.Error()))
	}
	m.beginCycle(ctx, params)
}

// beginCycle spawns a new search attempt and tip monitor concurrently,
// each reporting its outcome back to the event queue. Between any two
// adjacent events, exactly one search attempt and at most one tip monitor
// is active.
func (m *Manager) beginCycle(ctx context.Context, params blocktemplate.MiningParameters) {
	m.engine.Reset()

	attemptID := m.attemptID.Add(1)

	go m.runAttempt(attemptID, params)
	go m.runMonitor(ctx)
}

// runAttempt runs one SearchEngine.Mine call and, if it found a block,
// pushes a BlockMined event tagged with this cycle's attempt ID. A
// cancelled attempt (stopped by a tip change) pushes nothing. A
// programmer-error outcome from Mine (invalid thread count or re-entrant
// call) should never occur given the event loop's sequencing invariant;
// if it somehow does, it is logged and a synthetic TipAdvanced is pushed
// to force a restart instead of silently stalling the loop.
func (m *Manager) runAttempt(attemptID uint64, params blocktemplate.MiningParameters) {
	outcome, err := m.engine.Mine(params, m.cfg.ThreadCount)
	if err != nil {
		log.SrchLog.Errorf("search attempt failed: %v", err)
		m.queue.Push(MinerEvent{Type: TipAdvanced})
		return
	}

	if outcome.Found {
		m.queue.Push(MinerEvent{Type: BlockMined, AttemptID: attemptID, Block: outcome.Block})
	}
}

// runMonitor runs one TipMonitor.WaitForUpdate call and, on a genuine tip
// change, pushes a TipAdvanced event. A deliberate Stop() (ErrInterrupted)
// pushes nothing.
func (m *Manager) runMonitor(ctx context.Context) {
	monitor := NewTipMonitor(m.client, m.cfg.MiningAddress, m.cfg.ScanPeriod)

	m.mu.Lock()
	m.monitor = monitor
	m.mu.Unlock()

	tip, err := monitor.WaitForUpdate(ctx)
	if err == nil {
		m.queue.Push(MinerEvent{Type: TipAdvanced, TipID: tip})
		return
	}
	if !errors.Is(err, ErrInterrupted) {
		log.MntrLog.Errorf("tip monitor failed: %v", err)
		m.queue.Push(MinerEvent{Type: TipAdvanced})
	}
}

// stopMonitor stops whichever TipMonitor is active for the current cycle,
// if any.
func (m *Manager) stopMonitor() {
	m.mu.Lock()
	monitor := m.monitor
	m.mu.Unlock()

	if monitor != nil {
		monitor.Stop()
	}
}

// requestMiningParameters fetches a block template, retrying indefinitely
// with cfg.RetryBackoff between attempts on any transport, protocol, or
// template-invalid failure. It never returns an error: the only way out
// is a successful fetch, or ctx cancellation, in which case it returns
// zero-value MiningParameters.
func (m *Manager) requestMiningParameters(ctx context.Context) blocktemplate.MiningParameters {
	for {
		params, err := m.client.FetchTemplate(ctx, m.cfg.MiningAddress)
		if err == nil {
			return params
		}

		log.MgrLog.Warnf("%s", warningMsg("Failed to get block template - Is your daemon open? ("+err.Error()+")"))

		select {
		case <-ctx.Done():
			return blocktemplate.MiningParameters{}
		case <-time.After(m.cfg.RetryBackoff):
		}
	}
}

// adjustBlockTemplate applies the merge-mining tag transformation and, when
// a fixed first-block timestamp is configured, the deterministic timestamp
// fixups used to keep regression runs reproducible.
func (m *Manager) adjustBlockTemplate(t *blocktemplate.BlockTemplate) error {
	if err := blocktemplate.AdjustForMining(t); err != nil {
		return err
	}

	if m.cfg.FirstBlockTimestamp == 0 {
		return nil
	}

	if m.lastBlockTimestamp == 0 {
		t.Timestamp = m.cfg.FirstBlockTimestamp
	} else if m.cfg.BlockTimestampInterval != 0 {
		t.Timestamp = m.lastBlockTimestamp + m.cfg.BlockTimestampInterval
	}

	return nil
}

// reportHashRate is a secondary, low-priority task that prints the hash
// rate every 60 seconds: the delta of HashCount divided by 60. It is
// purely informational and never influences the event loop.
func (m *Manager) reportHashRate() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	last := m.engine.HashCount()

	for m.isRunning.Load() {
		<-ticker.C

		current := m.engine.HashCount()
		rate := float64(current-last) / 60.0
		last = current

		fmt.Printf("%s\n", successMsg(fmt.Sprintf("Mining at %.2f H/s", rate)))
	}
}
