// Package daemonclient is a thin adapter over net/http for the two calls
// the miner makes against the daemon: fetching a block template and
// submitting a mined block. Transport and protocol failures are always
// returned as typed errors; nothing is ever thrown past the caller, and
// retry policy lives entirely in the caller (Manager, TipMonitor).
package daemonclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/acbcminer/acbcminer/internal/blocktemplate"
	"github.com/acbcminer/acbcminer/log"
)

// ErrTransport indicates the HTTP call could not be made or completed.
var ErrTransport = errors.New("daemonclient: transport error")

// ErrProtocol indicates the daemon responded but with an unexpected
// status code or a body that could not be parsed.
var ErrProtocol = errors.New("daemonclient: protocol error")

// ErrTemplateInvalid indicates the daemon's blob did not deserialize into
// a BlockTemplate.
var ErrTemplateInvalid = errors.New("daemonclient: invalid block template")

// DaemonClient is a thin HTTP adapter. Its underlying http.Client is safe
// for concurrent use by both the Manager and the TipMonitor.
type DaemonClient struct {
	baseURL string
	http    *http.Client
}

// New returns a client pointed at baseURL (e.g. "http://127.0.0.1:11898").
func New(baseURL string) *DaemonClient {
	return &DaemonClient{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type templateRequest struct {
	Address     string `json:"address"`
	ReserveSize int    `json:"reserveSize"`
}

type templateResponse struct {
	Difficulty uint64 `json:"difficulty"`
	Blob       string `json:"blob"`
}

// FetchTemplate posts {"address": address, "reserveSize": 0} to
// /block/template and parses the daemon's difficulty/blob response into
// MiningParameters. Any transport failure, non-201 status, unparseable
// body, or undeserializable blob is returned as a typed error.
func (c *DaemonClient) FetchTemplate(ctx context.Context, address string) (blocktemplate.MiningParameters, error) {
	reqBody, err := json.Marshal(templateRequest{Address: address, ReserveSize: 0})
	if err != nil {
		return blocktemplate.MiningParameters{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/block/template", bytes.NewReader(reqBody))
	if err != nil {
		return blocktemplate.MiningParameters{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		log.DmonLog.Debugf("POST /block/template transport failure: %v", err)
		return blocktemplate.MiningParameters{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		log.DmonLog.Warnf("POST /block/template returned unexpected status %d", resp.StatusCode)
		return blocktemplate.MiningParameters{}, fmt.Errorf("%w: unexpected status %d", ErrProtocol, resp.StatusCode)
	}

	var body templateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return blocktemplate.MiningParameters{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	tmpl, err := blocktemplate.DeserializeHex(body.Blob)
	if err != nil {
		return blocktemplate.MiningParameters{}, fmt.Errorf("%w: %v", ErrTemplateInvalid, err)
	}

	return blocktemplate.MiningParameters{Template: tmpl, Difficulty: body.Difficulty}, nil
}

// SubmitBlock posts the hex-encoded serialized block as a bare JSON
// string to /block. It returns true iff the daemon accepted it (HTTP
// 202); any other outcome, including transport failure, is reported as a
// failure so the caller can continue mining rather than crash.
func (c *DaemonClient) SubmitBlock(ctx context.Context, hexBlob string) (bool, error) {
	reqBody, err := json.Marshal(hexBlob)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/block", bytes.NewReader(reqBody))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		log.DmonLog.Debugf("POST /block transport failure: %v", err)
		return false, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	accepted := resp.StatusCode == http.StatusAccepted
	if !accepted {
		log.DmonLog.Warnf("POST /block rejected with status %d", resp.StatusCode)
	}
	return accepted, nil
}
