// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tsm implements the client and server transaction state
// machines of clause 5: invoke-ID allocation, unsegmented retry,
// segmented send/receive, duplicate detection and Device Communication
// Control enforcement.
package tsm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bacstack/bacstack"
	"github.com/bacstack/bacstack/internal/apdu"
	"github.com/bacstack/bacstack/internal/ttlcache"
)

// Sender transmits an encoded APDU to dest, expecting (or not) a reply.
type Sender interface {
	SendAPDU(dest bacnet.Address, payload []byte, expectingReply bool) error
}

// PeerCapability is what we remember about a peer from its I-Am: the
// largest APDU it will accept and whether it supports segmentation.
type PeerCapability struct {
	MaxAPDU               int
	SegmentationSupported bacnet.Segmentation
}

// unsegmentedPayloadBudget is a 480-octet payload size. Call does not
// use it: it segments whenever data exceeds the effective max APDU less
// unsegmentedOverhead.
const unsegmentedPayloadBudget = 480

type pendingRequest struct {
	invokeID    uint8
	dest        bacnet.Address
	service     uint8
	packet      []byte // full bytes last transmitted, for retransmit
	retriesLeft int
	timer       *time.Timer
	done        chan Result

	segmented   bool
	segments    [][]byte
	windowSize  uint8
	nextToSend  int
	acked       int
	reassembly  map[uint8][]byte
	lastInOrder int
}

// Result is what a completed client transaction resolves to.
type Result struct {
	PDU *apdu.PDU
	Err error
}

// Client is the client-side transaction state machine.
type Client struct {
	sender      Sender
	cache       *ttlcache.Cache[string, PeerCapability]
	apduTimeout time.Duration
	retries     int

	mu      sync.Mutex
	pending map[string]map[uint8]*pendingRequest
	nextID  map[string]uint8
}

// NewClient builds a client TSM. cache may be nil to disable peer
// capability caching.
func NewClient(sender Sender, cache *ttlcache.Cache[string, PeerCapability], apduTimeout time.Duration, retries int) *Client {
	return &Client{
		sender:      sender,
		cache:       cache,
		apduTimeout: apduTimeout,
		retries:     retries,
		pending:     make(map[string]map[uint8]*pendingRequest),
		nextID:      make(map[string]uint8),
	}
}

// CachePeer records a peer's reported capability, learned from an I-Am.
func (c *Client) CachePeer(addr bacnet.Address, cap PeerCapability) {
	if c.cache == nil {
		return
	}
	c.cache.Set(addr.String(), cap)
}

func (c *Client) peerMaxAPDU(addr bacnet.Address, fallback int) int {
	if c.cache == nil {
		return fallback
	}
	if cap, ok := c.cache.Get(addr.String()); ok && cap.MaxAPDU > 0 {
		if cap.MaxAPDU < fallback {
			return cap.MaxAPDU
		}
	}
	return fallback
}

func (c *Client) allocateInvokeID(destKey string) (uint8, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	byID, ok := c.pending[destKey]
	if !ok {
		byID = make(map[uint8]*pendingRequest)
		c.pending[destKey] = byID
	}
	if len(byID) >= 256 {
		return 0, fmt.Errorf("tsm: %w", bacnet.ErrTSMExhausted)
	}
	start := c.nextID[destKey]
	id := start
	for {
		if _, taken := byID[id]; !taken {
			c.nextID[destKey] = id + 1
			return id, nil
		}
		id++
		if id == start {
			return 0, fmt.Errorf("tsm: %w", bacnet.ErrTSMExhausted)
		}
	}
}

// Call sends a confirmed request and blocks until a response, reject,
// abort or timeout, or ctx is canceled.
func (c *Client) Call(ctx context.Context, dest bacnet.Address, service uint8, data []byte, localMaxAPDU int) (*apdu.PDU, error) {
	destKey := dest.String()
	invokeID, err := c.allocateInvokeID(destKey)
	if err != nil {
		return nil, err
	}

	effectiveMax := c.peerMaxAPDU(dest, localMaxAPDU)

	req := &pendingRequest{
		invokeID:    invokeID,
		dest:        dest,
		service:     service,
		retriesLeft: c.retries,
		done:        make(chan Result, 1),
	}

	if len(data) <= effectiveMax-unsegmentedOverhead {
		req.packet = apdu.EncodeConfirmedRequest(invokeID, service, data, 0, maxAPDULenCode(effectiveMax))
	} else {
		req.segmented = true
		req.segments = splitSegments(data, effectiveMax-segmentedOverhead)
		req.windowSize = 4
		req.reassembly = make(map[uint8][]byte)
	}

	c.mu.Lock()
	c.pending[destKey][invokeID] = req
	c.mu.Unlock()

	defer c.forget(destKey, invokeID)

	if err := c.transmit(req); err != nil {
		return nil, err
	}
	c.armTimer(destKey, req)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-req.done:
		return res.PDU, res.Err
	}
}

func (c *Client) transmit(req *pendingRequest) error {
	if !req.segmented {
		return c.sender.SendAPDU(req.dest, req.packet, true)
	}
	return c.sendSegmentWindow(req)
}

func (c *Client) sendSegmentWindow(req *pendingRequest) error {
	end := req.acked + int(req.windowSize)
	if end > len(req.segments) {
		end = len(req.segments)
	}
	for i := req.acked; i < end; i++ {
		moreFollows := i < len(req.segments)-1
		pkt := apdu.EncodeSegmentedConfirmedRequest(req.invokeID, uint8(i), req.windowSize, moreFollows, req.service, req.segments[i], 0, 5)
		if err := c.sender.SendAPDU(req.dest, pkt, true); err != nil {
			return err
		}
		req.nextToSend = i + 1
	}
	return nil
}

func (c *Client) armTimer(destKey string, req *pendingRequest) {
	req.timer = time.AfterFunc(c.apduTimeout, func() {
		c.onTimeout(destKey, req.invokeID)
	})
}

func (c *Client) onTimeout(destKey string, invokeID uint8) {
	c.mu.Lock()
	byID, ok := c.pending[destKey]
	if !ok {
		c.mu.Unlock()
		return
	}
	req, ok := byID[invokeID]
	if !ok {
		c.mu.Unlock()
		return
	}
	if req.retriesLeft <= 0 {
		c.mu.Unlock()
		c.complete(req, Result{Err: bacnet.ErrTimeout})
		return
	}
	req.retriesLeft--
	c.mu.Unlock()

	if err := c.transmit(req); err != nil {
		c.complete(req, Result{Err: err})
		return
	}
	c.armTimer(destKey, req)
}

// HandleResponse feeds an inbound APDU addressed to us (by source +
// invoke ID) into the matching pending transaction. Unknown invoke IDs
// are silently discarded as duplicate or stray responses.
func (c *Client) HandleResponse(source bacnet.Address, pdu *apdu.PDU) {
	destKey := source.String()
	c.mu.Lock()
	byID, ok := c.pending[destKey]
	if !ok {
		c.mu.Unlock()
		return
	}
	req, ok := byID[pdu.InvokeID]
	if !ok {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	switch pdu.Type {
	case apdu.TypeSimpleAck:
		c.complete(req, Result{PDU: pdu})
	case apdu.TypeComplexAck:
		if !pdu.Segmented {
			c.complete(req, Result{PDU: pdu})
			return
		}
		c.handleSegment(req, pdu)
	case apdu.TypeSegmentAck:
		c.handleSegmentAck(req, pdu)
	case apdu.TypeError:
		c.complete(req, Result{Err: bacnet.NewBACnetError(bacnet.ErrorClass(pdu.Data[0]), bacnet.ErrorCode(pdu.Data[1]))})
	case apdu.TypeReject:
		c.complete(req, Result{Err: &bacnet.RejectError{InvokeID: pdu.InvokeID, Reason: bacnet.RejectReason(pdu.Service)}})
	case apdu.TypeAbort:
		c.complete(req, Result{Err: &bacnet.AbortError{InvokeID: pdu.InvokeID, Reason: bacnet.AbortReason(pdu.Service)}})
	}
}

func (c *Client) handleSegment(req *pendingRequest, pdu *apdu.PDU) {
	if req.timer != nil {
		req.timer.Stop()
	}
	req.reassembly[pdu.SequenceNum] = pdu.Data

	expected := uint8(req.lastInOrder + 1)
	for {
		data, ok := req.reassembly[expected]
		if !ok {
			break
		}
		req.lastInOrder++
		expected++
		_ = data
	}
	if uint8(req.lastInOrder) != pdu.SequenceNum && pdu.SequenceNum != expected-1 {
		ack := apdu.EncodeSegmentAck(req.invokeID, uint8(req.lastInOrder), req.windowSize, true, false)
		c.sender.SendAPDU(req.dest, ack, false)
		c.armTimer(req.dest.String(), req)
		return
	}

	if !pdu.MoreFollows {
		full := reassemble(req.reassembly, req.lastInOrder)
		c.complete(req, Result{PDU: &apdu.PDU{Type: apdu.TypeComplexAck, InvokeID: pdu.InvokeID, Service: pdu.Service, Data: full}})
		return
	}

	ack := apdu.EncodeSegmentAck(req.invokeID, pdu.SequenceNum, req.windowSize, false, false)
	c.sender.SendAPDU(req.dest, ack, false)
	c.armTimer(req.dest.String(), req)
}

func (c *Client) handleSegmentAck(req *pendingRequest, pdu *apdu.PDU) {
	if req.timer != nil {
		req.timer.Stop()
	}
	if pdu.NegativeAck {
		req.acked = int(pdu.SequenceNum)
	} else {
		req.acked = int(pdu.SequenceNum) + 1
	}
	req.windowSize = pdu.WindowSize
	if req.acked >= len(req.segments) {
		return
	}
	if err := c.sendSegmentWindow(req); err != nil {
		c.complete(req, Result{Err: err})
		return
	}
	c.armTimer(req.dest.String(), req)
}

func (c *Client) complete(req *pendingRequest, res Result) {
	if req.timer != nil {
		req.timer.Stop()
	}
	select {
	case req.done <- res:
	default:
	}
}

func (c *Client) forget(destKey string, invokeID uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if byID, ok := c.pending[destKey]; ok {
		delete(byID, invokeID)
	}
}

const unsegmentedOverhead = 4
const segmentedOverhead = 6

func maxAPDULenCode(maxAPDU int) uint8 {
	switch {
	case maxAPDU <= 50:
		return 0
	case maxAPDU <= 128:
		return 1
	case maxAPDU <= 206:
		return 2
	case maxAPDU <= 480:
		return 3
	case maxAPDU <= 1024:
		return 4
	default:
		return 5
	}
}

func splitSegments(data []byte, chunkSize int) [][]byte {
	if chunkSize <= 0 {
		chunkSize = 1
	}
	var segments [][]byte
	for len(data) > 0 {
		n := chunkSize
		if n > len(data) {
			n = len(data)
		}
		segments = append(segments, data[:n])
		data = data[n:]
	}
	if len(segments) == 0 {
		segments = [][]byte{{}}
	}
	return segments
}

func reassemble(segments map[uint8][]byte, lastInOrder int) []byte {
	var out []byte
	for i := 0; i <= lastInOrder; i++ {
		out = append(out, segments[uint8(i)]...)
	}
	return out
}
