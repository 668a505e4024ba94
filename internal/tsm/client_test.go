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
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bacstack/bacstack"
	"github.com/bacstack/bacstack/internal/apdu"
)

type recordingSender struct {
	mu   sync.Mutex
	sent [][]byte
}

func (r *recordingSender) SendAPDU(dest bacnet.Address, payload []byte, expectingReply bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := append([]byte(nil), payload...)
	r.sent = append(r.sent, cp)
	return nil
}

func (r *recordingSender) last() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return nil
	}
	return r.sent[len(r.sent)-1]
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func testDest() bacnet.Address {
	return bacnet.Address{Addr: []byte{192, 168, 1, 10, 0xBA, 0xC0}}
}

func TestCallCompletesOnSimpleAck(t *testing.T) {
	sender := &recordingSender{}
	c := NewClient(sender, nil, time.Second, 2)
	dest := testDest()

	resultCh := make(chan Result, 1)
	go func() {
		pdu, err := c.Call(context.Background(), dest, 15, []byte{0x01}, 1476)
		resultCh <- Result{PDU: pdu, Err: err}
	}()

	require.Eventually(t, func() bool { return sender.count() == 1 }, time.Second, time.Millisecond)
	sent, err := apdu.Decode(sender.last())
	require.NoError(t, err)

	c.HandleResponse(dest, &apdu.PDU{Type: apdu.TypeSimpleAck, InvokeID: sent.InvokeID, Service: 15})

	res := <-resultCh
	require.NoError(t, res.Err)
	require.Equal(t, apdu.TypeSimpleAck, res.PDU.Type)
}

func TestCallTimesOutAfterRetries(t *testing.T) {
	sender := &recordingSender{}
	c := NewClient(sender, nil, 20*time.Millisecond, 1)
	dest := testDest()

	_, err := c.Call(context.Background(), dest, 15, []byte{0x01}, 1476)
	require.ErrorIs(t, err, bacnet.ErrTimeout)
	require.GreaterOrEqual(t, sender.count(), 2)
}

func TestCallSurfacesBACnetError(t *testing.T) {
	sender := &recordingSender{}
	c := NewClient(sender, nil, time.Second, 2)
	dest := testDest()

	resultCh := make(chan Result, 1)
	go func() {
		pdu, err := c.Call(context.Background(), dest, 12, []byte{0x01}, 1476)
		resultCh <- Result{PDU: pdu, Err: err}
	}()

	require.Eventually(t, func() bool { return sender.count() == 1 }, time.Second, time.Millisecond)
	sent, _ := apdu.Decode(sender.last())

	c.HandleResponse(dest, &apdu.PDU{
		Type:     apdu.TypeError,
		InvokeID: sent.InvokeID,
		Service:  12,
		Data:     []byte{byte(bacnet.ErrorClassObject), byte(bacnet.ErrorCodeUnknownObject)},
	})

	res := <-resultCh
	require.Error(t, res.Err)
	var bacErr *bacnet.BACnetError
	require.ErrorAs(t, res.Err, &bacErr)
	require.Equal(t, bacnet.ErrorClassObject, bacErr.Class)
}

func TestSegmentedSendAndSegmentAck(t *testing.T) {
	sender := &recordingSender{}
	c := NewClient(sender, nil, time.Second, 2)
	dest := testDest()

	data := make([]byte, 2000)
	for i := range data {
		data[i] = byte(i)
	}

	resultCh := make(chan Result, 1)
	go func() {
		pdu, err := c.Call(context.Background(), dest, 15, data, 480)
		resultCh <- Result{PDU: pdu, Err: err}
	}()

	require.Eventually(t, func() bool { return sender.count() > 0 }, time.Second, time.Millisecond)

	first, err := apdu.Decode(sender.last())
	require.NoError(t, err)
	require.True(t, first.Segmented)

	c.mu.Lock()
	req := c.pending[dest.String()][first.InvokeID]
	total := len(req.segments)
	c.mu.Unlock()
	require.Greater(t, total, 1)

	for seq := 0; seq < total; seq++ {
		neg := false
		ack := apdu.EncodeSegmentAck(first.InvokeID, uint8(seq), 4, neg, true)
		p, err := apdu.Decode(ack)
		require.NoError(t, err)
		c.HandleResponse(dest, p)
	}

	c.HandleResponse(dest, &apdu.PDU{Type: apdu.TypeSimpleAck, InvokeID: first.InvokeID, Service: 15})

	res := <-resultCh
	require.NoError(t, res.Err)
}
