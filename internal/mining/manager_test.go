package mining

import (
	"context"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acbcminer/acbcminer/internal/blocktemplate"
	"github.com/acbcminer/acbcminer/internal/config"
	"github.com/acbcminer/acbcminer/internal/daemonclient"
	"github.com/acbcminer/acbcminer/internal/hashing"
)

func testConfig() *config.MiningConfig {
	return &config.MiningConfig{
		DaemonHost:    "127.0.0.1",
		DaemonPort:    1,
		MiningAddress: "test-address",
		ThreadCount:   2,
		ScanPeriod:    20 * time.Millisecond,
		RetryBackoff:  10 * time.Millisecond,
	}
}

func newManagerWithHasher(cfg *config.MiningConfig, client *daemonclient.DaemonClient, hasher hashing.Hasher) *Manager {
	m := NewManager(cfg, client)
	m.engine = NewSearchEngine(hasher)
	return m
}

// fixedTemplateDaemon serves a constant template/difficulty from
// /block/template and records every /block submission.
type fixedTemplateDaemon struct {
	srv           *httptest.Server
	difficulty    uint64
	blobHex       string
	submitStatus  int
	submitCount   atomic.Int32
	templateCalls atomic.Int32
}

func newFixedTemplateDaemon(t *testing.T, difficulty uint64, submitStatus int) *fixedTemplateDaemon {
	t.Helper()
	tmpl := blocktemplate.BlockTemplate{MajorVersion: 1}
	blobHex, err := blocktemplate.SerializeHex(tmpl)
	require.NoError(t, err)

	d := &fixedTemplateDaemon{blobHex: blobHex, difficulty: difficulty, submitStatus: submitStatus}
	mux := http.NewServeMux()
	mux.HandleFunc("/block/template", func(w http.ResponseWriter, r *http.Request) {
		d.templateCalls.Add(1)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"difficulty": ` + itoa(d.difficulty) + `, "blob": "` + d.blobHex + `"}`))
	})
	mux.HandleFunc("/block", func(w http.ResponseWriter, r *http.Request) {
		d.submitCount.Add(1)
		w.WriteHeader(d.submitStatus)
	})
	d.srv = httptest.NewServer(mux)
	return d
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

func (d *fixedTemplateDaemon) Close() { d.srv.Close() }

func TestManagerHappyPathSingleBlock(t *testing.T) {
	daemon := newFixedTemplateDaemon(t, 1, http.StatusAccepted)
	defer daemon.Close()

	cfg := testConfig()
	cfg.BlocksLimit = 1

	client := daemonclient.New(daemon.srv.URL)
	m := newManagerWithHasher(cfg, client, alwaysPassesHasher{})

	done := make(chan error, 1)
	go func() { done <- m.Start(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("manager did not finish within blocks-limit")
	}

	require.Equal(t, int32(1), daemon.submitCount.Load())
}

func TestManagerRaceLossDoesNotSubmitStaleAttempt(t *testing.T) {
	// Every poll returns a template whose opaque body differs from the
	// last one, simulating a competing miner advancing the chain tip on
	// every check. Our own hasher never finds a qualifying nonce, so if
	// submit_block is ever called it must be a bug, not a real find.
	var templateCalls atomic.Int32
	var submitCount atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/block/template", func(w http.ResponseWriter, r *http.Request) {
		n := templateCalls.Add(1)
		tmpl := blocktemplate.BlockTemplate{MajorVersion: 1}
		raw, err := blocktemplate.Serialize(tmpl)
		require.NoError(t, err)
		raw = append(raw, byte(n)) // distinct trailing body each call
		blobHex := hex.EncodeToString(raw)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"difficulty": 18446744073709551615, "blob": "` + blobHex + `"}`))
	})
	mux.HandleFunc("/block", func(w http.ResponseWriter, r *http.Request) {
		submitCount.Add(1)
		w.WriteHeader(http.StatusAccepted)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := testConfig()
	cfg.ScanPeriod = 10 * time.Millisecond

	client := daemonclient.New(srv.URL)
	m := newManagerWithHasher(cfg, client, unsatisfiableHasher{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go m.Start(ctx)

	time.Sleep(150 * time.Millisecond)
	cancel()

	require.Equal(t, int32(0), submitCount.Load())
	require.Greater(t, int(templateCalls.Load()), 1, "tip monitor should have restarted mining at least once")
}

func TestManagerRetriesUnreachableDaemonAtStartup(t *testing.T) {
	var templateCalls atomic.Int32

	tmpl := blocktemplate.BlockTemplate{MajorVersion: 1}
	blobHex, err := blocktemplate.SerializeHex(tmpl)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/block/template", func(w http.ResponseWriter, r *http.Request) {
		n := templateCalls.Add(1)
		if n <= 3 {
			// Simulate a daemon that isn't accepting connections yet
			// by closing the connection without a response.
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"difficulty": 1, "blob": "` + blobHex + `"}`))
	})
	mux.HandleFunc("/block", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := testConfig()
	cfg.RetryBackoff = 5 * time.Millisecond
	cfg.BlocksLimit = 1

	client := daemonclient.New(srv.URL)
	m := newManagerWithHasher(cfg, client, alwaysPassesHasher{})

	done := make(chan error, 1)
	go func() { done <- m.Start(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("manager never recovered from the unreachable daemon")
	}

	require.GreaterOrEqual(t, int(templateCalls.Load()), 4)
}

func TestManagerSubmitRejectedContinuesMining(t *testing.T) {
	daemon := newFixedTemplateDaemon(t, 1, http.StatusBadRequest)
	defer daemon.Close()

	cfg := testConfig()

	client := daemonclient.New(daemon.srv.URL)
	m := newManagerWithHasher(cfg, client, alwaysPassesHasher{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go m.Start(ctx)

	time.Sleep(200 * time.Millisecond)
	cancel()

	require.Equal(t, uint32(0), m.blocksMined)
	require.Greater(t, int(daemon.submitCount.Load()), 0)
}
