package mining

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/acbcminer/acbcminer/chaincfg/chainhash"
	"github.com/acbcminer/acbcminer/internal/blocktemplate"
	"github.com/acbcminer/acbcminer/internal/daemonclient"
	"github.com/acbcminer/acbcminer/log"
)

// ErrInterrupted is returned by WaitForUpdate when Stop() was invoked
// before a tip change was observed.
var ErrInterrupted = errors.New("mining: tip monitor was interrupted")

// TipMonitor polls the daemon on a cadence and detects that the chain tip
// has advanced past the baseline captured when the current wait began.
type TipMonitor struct {
	client     *daemonclient.DaemonClient
	address    string
	scanPeriod time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
}

// NewTipMonitor returns a monitor that polls client for templates at
// scanPeriod.
func NewTipMonitor(client *daemonclient.DaemonClient, address string, scanPeriod time.Duration) *TipMonitor {
	return &TipMonitor{client: client, address: address, scanPeriod: scanPeriod}
}

// WaitForUpdate blocks until the daemon reports a chain tip different from
// the one observed on entry, or Stop() is invoked, whichever happens
// first. On a genuine tip change it returns the newly observed tip. The
// inter-poll sleep is interruptible: Stop() aborts it without waiting for
// it to elapse naturally.
func (m *TipMonitor) WaitForUpdate(ctx context.Context) (chainhash.Hash, error) {
	m.mu.Lock()
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.stopped = false
	m.mu.Unlock()
	defer cancel()

	baseline, ok := m.fetchParentID(ctx)
	if !ok {
		baseline = chainhash.Hash{}
	}

	ticker := time.NewTicker(m.scanPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return chainhash.Hash{}, ErrInterrupted
		case <-ticker.C:
			current, ok := m.fetchParentID(ctx)
			if !ok {
				// Transport error: treat as "no change observed"
				// and keep polling.
				continue
			}
			if !current.IsEqual(&baseline) {
				log.MntrLog.Infof("chain tip advanced: %s -> %s", baseline.String(), current.String())
				return current, nil
			}
		}
	}
}

// fetchParentID fetches the current template and extracts its parent
// identifier. The second return value is false on any transport or
// protocol failure.
func (m *TipMonitor) fetchParentID(ctx context.Context) (chainhash.Hash, bool) {
	params, err := m.client.FetchTemplate(ctx, m.address)
	if err != nil {
		log.MntrLog.Debugf("tip monitor poll failed, treating as no change: %v", err)
		return chainhash.Hash{}, false
	}
	return blocktemplate.ParentIdentifier(params.Template), true
}

// Stop is idempotent. It cancels any in-flight sleep or HTTP call and
// causes WaitForUpdate to return ErrInterrupted promptly, without waiting
// for scanPeriod to elapse.
func (m *TipMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}
	m.stopped = true

	if m.cancel != nil {
		m.cancel()
	}
}
