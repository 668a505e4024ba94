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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bacstack/bacstack"
	"github.com/bacstack/bacstack/internal/apdu"
)

func TestServerDispatchesSimpleAck(t *testing.T) {
	sender := &recordingSender{}
	calls := 0
	handler := func(source bacnet.Address, service uint8, data []byte) ([]byte, error) {
		calls++
		return nil, nil
	}
	s := NewServer(sender, handler, time.Second, 1476)
	s.SetDCC(DCCEnable, 0)

	dest := testDest()
	s.HandleRequest(dest, &apdu.PDU{Type: apdu.TypeConfirmedRequest, InvokeID: 3, Service: 15, Data: []byte{0x01}})

	require.Equal(t, 1, calls)
	require.Len(t, sender.sent, 1)
	p, err := apdu.Decode(sender.last())
	require.NoError(t, err)
	require.Equal(t, apdu.TypeSimpleAck, p.Type)
}

func TestServerResendsCachedDuplicateResponse(t *testing.T) {
	sender := &recordingSender{}
	calls := 0
	handler := func(source bacnet.Address, service uint8, data []byte) ([]byte, error) {
		calls++
		return nil, nil
	}
	s := NewServer(sender, handler, time.Second, 1476)

	dest := testDest()
	req := &apdu.PDU{Type: apdu.TypeConfirmedRequest, InvokeID: 9, Service: 15, Data: []byte{0x01}}
	s.HandleRequest(dest, req)
	s.HandleRequest(dest, req)

	require.Equal(t, 1, calls)
	require.Len(t, sender.sent, 2)
	require.Equal(t, sender.sent[0], sender.sent[1])
}

func TestServerComposesErrorResponse(t *testing.T) {
	sender := &recordingSender{}
	handler := func(source bacnet.Address, service uint8, data []byte) ([]byte, error) {
		return nil, bacnet.NewBACnetError(bacnet.ErrorClassObject, bacnet.ErrorCodeUnknownObject)
	}
	s := NewServer(sender, handler, time.Second, 1476)

	dest := testDest()
	s.HandleRequest(dest, &apdu.PDU{Type: apdu.TypeConfirmedRequest, InvokeID: 4, Service: 12, Data: []byte{0x01}})

	p, err := apdu.Decode(sender.last())
	require.NoError(t, err)
	require.Equal(t, apdu.TypeError, p.Type)
}

func TestDCCDisableBlocksMostServices(t *testing.T) {
	sender := &recordingSender{}
	calls := 0
	handler := func(source bacnet.Address, service uint8, data []byte) ([]byte, error) {
		calls++
		return nil, nil
	}
	s := NewServer(sender, handler, time.Second, 1476)
	s.SetDCC(DCCDisable, 0)

	dest := testDest()
	s.HandleRequest(dest, &apdu.PDU{Type: apdu.TypeConfirmedRequest, InvokeID: 1, Service: uint8(bacnet.ServiceReadProperty), Data: []byte{0x01}})
	require.Equal(t, 0, calls)

	s.HandleRequest(dest, &apdu.PDU{Type: apdu.TypeConfirmedRequest, InvokeID: 2, Service: uint8(bacnet.ServiceDeviceCommunicationControl), Data: []byte{0x01}})
	require.Equal(t, 1, calls)
}

func TestDCCTimerReturnsToEnable(t *testing.T) {
	s := NewServer(&recordingSender{}, nil, time.Second, 1476)
	s.SetDCC(DCCDisable, 10*time.Millisecond)
	require.Equal(t, DCCDisable, s.DCCState())

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, DCCEnable, s.DCCState())
}

func TestSegmentedRequestReassembly(t *testing.T) {
	sender := &recordingSender{}
	var received []byte
	handler := func(source bacnet.Address, service uint8, data []byte) ([]byte, error) {
		received = append([]byte(nil), data...)
		return nil, nil
	}
	s := NewServer(sender, handler, time.Second, 1476)
	dest := testDest()

	s.HandleRequest(dest, &apdu.PDU{Type: apdu.TypeConfirmedRequest, Segmented: true, MoreFollows: true, InvokeID: 5, SequenceNum: 0, WindowSize: 4, Service: 15, Data: []byte{0x01, 0x02}})
	s.HandleRequest(dest, &apdu.PDU{Type: apdu.TypeConfirmedRequest, Segmented: true, MoreFollows: false, InvokeID: 5, SequenceNum: 1, WindowSize: 4, Service: 15, Data: []byte{0x03, 0x04}})

	require.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, received)
}
