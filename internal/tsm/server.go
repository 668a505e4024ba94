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

package tsm

import (
	"errors"
	"sync"
	"time"

	"github.com/bacstack/bacstack"
	"github.com/bacstack/bacstack/internal/apdu"
)

// CommunicationControlState is the device-global DCC state of clause 16.1.
type CommunicationControlState uint8

const (
	DCCEnable            CommunicationControlState = 0
	DCCDisable           CommunicationControlState = 1
	DCCDisableInitiation CommunicationControlState = 2
)

// ServiceHandler dispatches a decoded service request and returns the
// response payload, or a typed error (BACnetError/RejectError/AbortError).
type ServiceHandler func(source bacnet.Address, service uint8, data []byte) ([]byte, error)

type inFlightRequest struct {
	source      bacnet.Address
	invokeID    uint8
	cachedReply []byte
	expiresAt   time.Time

	reassembly  map[uint8][]byte
	lastInOrder int
	service     uint8
	windowSize  uint8

	// responseSegments holds the full segmented-response payload once the
	// handler has run, so later Segment-ACKs from the requester can be
	// answered with the next window without re-invoking the handler.
	responseSegments [][]byte
	responseAcked    int
}

// Server is the server-side transaction state machine: duplicate
// detection, segmented receive, DCC enforcement and error surfacing.
type Server struct {
	sender      Sender
	handler     ServiceHandler
	apduTimeout time.Duration
	maxAPDU     int

	mu    sync.Mutex
	dedup map[string]*inFlightRequest
	dcc   CommunicationControlState
	dccAt time.Time
}

// NewServer builds a server TSM. handler is invoked once per distinct
// (source, invoke-id) request.
func NewServer(sender Sender, handler ServiceHandler, apduTimeout time.Duration, maxAPDU int) *Server {
	return &Server{
		sender:      sender,
		handler:     handler,
		apduTimeout: apduTimeout,
		maxAPDU:     maxAPDU,
		dedup:       make(map[string]*inFlightRequest),
		dcc:         DCCEnable,
	}
}

// SetDCC arms the Device Communication Control state. A zero duration
// leaves the state in place indefinitely.
func (s *Server) SetDCC(state CommunicationControlState, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dcc = state
	if duration > 0 {
		s.dccAt = time.Now().Add(duration)
	} else {
		s.dccAt = time.Time{}
	}
}

// DCCState returns the current DCC state, reverting to Enable if an
// armed timer has elapsed.
func (s *Server) DCCState() CommunicationControlState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dcc != DCCEnable && !s.dccAt.IsZero() && time.Now().After(s.dccAt) {
		s.dcc = DCCEnable
		s.dccAt = time.Time{}
	}
	return s.dcc
}

// dccAllowsInbound reports whether a confirmed request for service
// should be processed under the current DCC state.
func dccAllowsInbound(state CommunicationControlState, service uint8) bool {
	if state != DCCDisable {
		return true
	}
	return service == uint8(bacnet.ServiceDeviceCommunicationControl) || service == uint8(bacnet.ServiceReinitializeDevice)
}

// HandleRequest processes an inbound Confirmed-Request PDU from source,
// dispatching to the service handler and transmitting the response.
func (s *Server) HandleRequest(source bacnet.Address, pdu *apdu.PDU) {
	key := source.String()

	if !pdu.Segmented {
		s.handleUnsegmented(key, source, pdu)
		return
	}
	s.handleSegmented(key, source, pdu)
}

func (s *Server) handleUnsegmented(key string, source bacnet.Address, pdu *apdu.PDU) {
	dedupKey := dedupKey(key, pdu.InvokeID)

	s.mu.Lock()
	if cached, ok := s.dedup[dedupKey]; ok && cached.cachedReply != nil {
		s.mu.Unlock()
		s.sender.SendAPDU(source, cached.cachedReply, false)
		return
	}
	s.mu.Unlock()

	if !dccAllowsInbound(s.DCCState(), pdu.Service) {
		return
	}

	reply, err := s.handler(source, pdu.Service, pdu.Data)

	req := &inFlightRequest{source: source, invokeID: pdu.InvokeID, expiresAt: time.Now().Add(s.apduTimeout)}
	respBytes := s.composeResponse(req, pdu.InvokeID, pdu.Service, reply, err)
	req.cachedReply = respBytes

	s.mu.Lock()
	s.dedup[dedupKey] = req
	s.mu.Unlock()

	s.sender.SendAPDU(source, respBytes, req.responseSegments != nil)
}

func (s *Server) handleSegmented(key string, source bacnet.Address, pdu *apdu.PDU) {
	dedupKey := dedupKey(key, pdu.InvokeID)

	s.mu.Lock()
	req, ok := s.dedup[dedupKey]
	if !ok {
		req = &inFlightRequest{source: source, invokeID: pdu.InvokeID, reassembly: make(map[uint8][]byte), service: pdu.Service, windowSize: pdu.WindowSize}
		s.dedup[dedupKey] = req
	}
	s.mu.Unlock()

	if req.cachedReply != nil {
		s.sender.SendAPDU(source, req.cachedReply, false)
		return
	}

	req.reassembly[pdu.SequenceNum] = pdu.Data
	expected := uint8(req.lastInOrder + 1)
	for {
		if _, ok := req.reassembly[expected]; !ok {
			break
		}
		req.lastInOrder++
		expected++
	}

	if uint8(req.lastInOrder) != pdu.SequenceNum {
		ack := apdu.EncodeSegmentAck(pdu.InvokeID, uint8(req.lastInOrder), req.windowSize, true, true)
		s.sender.SendAPDU(source, ack, false)
		return
	}

	if pdu.MoreFollows {
		ack := apdu.EncodeSegmentAck(pdu.InvokeID, pdu.SequenceNum, req.windowSize, false, true)
		s.sender.SendAPDU(source, ack, false)
		return
	}

	full := reassemble(req.reassembly, req.lastInOrder)
	if !dccAllowsInbound(s.DCCState(), pdu.Service) {
		return
	}
	reply, err := s.handler(source, pdu.Service, full)
	respBytes := s.composeResponse(req, pdu.InvokeID, pdu.Service, reply, err)

	s.mu.Lock()
	req.cachedReply = respBytes
	req.expiresAt = time.Now().Add(s.apduTimeout)
	s.mu.Unlock()

	s.sender.SendAPDU(source, respBytes, req.responseSegments != nil)
}

// HandleSegmentAck feeds a Segment-ACK for an outbound segmented response
// back into the originating in-flight request, sending the next window of
// segments (or retransmitting from the acknowledged point on a NAK).
func (s *Server) HandleSegmentAck(source bacnet.Address, pdu *apdu.PDU) {
	dedupKey := dedupKey(source.String(), pdu.InvokeID)

	s.mu.Lock()
	req, ok := s.dedup[dedupKey]
	s.mu.Unlock()
	if !ok || req.responseSegments == nil {
		return
	}

	if pdu.NegativeAck {
		req.responseAcked = int(pdu.SequenceNum)
	} else {
		req.responseAcked = int(pdu.SequenceNum) + 1
	}
	if req.responseAcked >= len(req.responseSegments) {
		return
	}

	end := req.responseAcked + int(pdu.WindowSize)
	if end > len(req.responseSegments) {
		end = len(req.responseSegments)
	}
	for i := req.responseAcked; i < end; i++ {
		moreFollows := i < len(req.responseSegments)-1
		pkt := apdu.EncodeSegmentedComplexAck(req.invokeID, uint8(i), pdu.WindowSize, moreFollows, req.service, req.responseSegments[i])
		s.sender.SendAPDU(source, pkt, true)
	}
}

func (s *Server) composeResponse(req *inFlightRequest, invokeID, service uint8, reply []byte, err error) []byte {
	req.service = service
	if err != nil {
		return s.composeError(invokeID, service, err)
	}
	if len(reply) == 0 {
		return apdu.EncodeSimpleAck(invokeID, service)
	}
	if len(reply) <= s.maxAPDU-unsegmentedOverhead {
		return apdu.EncodeComplexAck(invokeID, service, reply)
	}

	segments := splitSegments(reply, s.maxAPDU-segmentedOverhead)
	req.responseSegments = segments
	windowSize := uint8(4)
	end := int(windowSize)
	if end > len(segments) {
		end = len(segments)
	}
	req.responseAcked = 0
	for i := 1; i < end; i++ {
		moreFollows := i < len(segments)-1
		pkt := apdu.EncodeSegmentedComplexAck(invokeID, uint8(i), windowSize, moreFollows, service, segments[i])
		s.sender.SendAPDU(req.source, pkt, true)
	}
	return apdu.EncodeSegmentedComplexAck(invokeID, 0, windowSize, len(segments) > 1, service, segments[0])
}

func (s *Server) composeError(invokeID, service uint8, err error) []byte {
	var bacErr *bacnet.BACnetError
	if errors.As(err, &bacErr) {
		return apdu.EncodeError(invokeID, service, []byte{byte(bacErr.Class), byte(bacErr.Code)})
	}
	var rejErr *bacnet.RejectError
	if errors.As(err, &rejErr) {
		return apdu.EncodeReject(invokeID, byte(rejErr.Reason))
	}
	var abErr *bacnet.AbortError
	if errors.As(err, &abErr) {
		return apdu.EncodeAbort(invokeID, byte(abErr.Reason), true)
	}
	return apdu.EncodeAbort(invokeID, byte(bacnet.AbortReasonOther), true)
}

// Sweep evicts duplicate-detection cache entries older than the
// APDU-timeout window. Call periodically from the owning loop.
func (s *Server) Sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, req := range s.dedup {
		if req.cachedReply != nil && now.After(req.expiresAt) {
			delete(s.dedup, key)
		}
	}
}

func dedupKey(sourceKey string, invokeID uint8) string {
	return sourceKey + "#" + string(rune(invokeID))
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
