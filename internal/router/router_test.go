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

package router

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bacstack/bacstack"
	"github.com/bacstack/bacstack/internal/npdu"
	"github.com/bacstack/bacstack/internal/ttlcache"
)

type sentFrame struct {
	mac  []byte
	data []byte
}

type fakePort struct {
	mu         sync.Mutex
	net        uint16
	sent       []sentFrame
	broadcasts [][]byte
}

func newFakePort(net uint16) *fakePort {
	return &fakePort{net: net}
}

func (p *fakePort) Network() uint16 { return p.net }

func (p *fakePort) Send(mac, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, sentFrame{mac: mac, data: data})
	return nil
}

func (p *fakePort) Broadcast(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.broadcasts = append(p.broadcasts, data)
	return nil
}

func (p *fakePort) sentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func (p *fakePort) broadcastCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.broadcasts)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newCache(t *testing.T) *ttlcache.Cache[uint16, Route] {
	c, err := ttlcache.New[uint16, Route](64, time.Minute)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestRouteLocalUnicast(t *testing.T) {
	cache := newCache(t)
	r := New(1, cache, nil, testLogger(), time.Minute)
	port := newFakePort(1)
	r.AddPort(port)

	err := r.Route(bacnet.Address{Net: 0, Addr: []byte{192, 168, 1, 5, 0xBA, 0xC0}}, false, npdu.ControlPriorityNormal, []byte{0x10})
	require.NoError(t, err)
	require.Equal(t, 1, port.sentCount())
	require.Equal(t, 0, port.broadcastCount())
}

func TestRouteGlobalBroadcast(t *testing.T) {
	cache := newCache(t)
	r := New(1, cache, nil, testLogger(), time.Minute)
	p1, p2 := newFakePort(1), newFakePort(2)
	r.AddPort(p1)
	r.AddPort(p2)

	err := r.Route(bacnet.Address{Net: 0xFFFF}, false, npdu.ControlPriorityNormal, []byte{0x10})
	require.NoError(t, err)
	require.Equal(t, 1, p1.broadcastCount())
	require.Equal(t, 1, p2.broadcastCount())
}

func TestRouteAttachedNetworkTreatedAsLocal(t *testing.T) {
	cache := newCache(t)
	r := New(1, cache, nil, testLogger(), time.Minute)
	p1, p2 := newFakePort(1), newFakePort(2)
	r.AddPort(p1)
	r.AddPort(p2)

	err := r.Route(bacnet.Address{Net: 2, Addr: []byte{10, 0, 0, 1, 0xBA, 0xC0}}, false, npdu.ControlPriorityNormal, []byte{0x10})
	require.NoError(t, err)
	require.Equal(t, 1, p2.sentCount())
	require.Equal(t, 0, p1.sentCount())
}

func TestRouteRemoteCacheMissQueuesAndBroadcastsWhoIsRouter(t *testing.T) {
	cache := newCache(t)
	r := New(1, cache, nil, testLogger(), time.Minute)
	p1 := newFakePort(1)
	r.AddPort(p1)

	err := r.Route(bacnet.Address{Net: 5, Addr: []byte{1, 2}}, false, npdu.ControlPriorityNormal, []byte{0x10})
	require.NoError(t, err)
	require.Equal(t, 1, p1.broadcastCount())

	r.mu.Lock()
	_, ok := r.pending[5]
	r.mu.Unlock()
	require.True(t, ok)
}

func TestRouteRemoteCacheMissOverwritesRatherThanAppends(t *testing.T) {
	cache := newCache(t)
	r := New(1, cache, nil, testLogger(), time.Minute)
	p1 := newFakePort(1)
	r.AddPort(p1)

	require.NoError(t, r.Route(bacnet.Address{Net: 5, Addr: []byte{1, 2}}, false, npdu.ControlPriorityNormal, []byte{0x10}))
	require.NoError(t, r.Route(bacnet.Address{Net: 5, Addr: []byte{3, 4}}, false, npdu.ControlPriorityNormal, []byte{0x20}))
	require.Equal(t, 2, p1.broadcastCount())

	r.mu.Lock()
	queued := r.pending[5]
	r.mu.Unlock()
	decoded, err := npdu.Decode(queued.data)
	require.NoError(t, err)
	require.Equal(t, []byte{0x20}, decoded.Payload)
}

func TestRouterSweepDropsPendingAfterTimeout(t *testing.T) {
	cache := newCache(t)
	r := New(1, cache, nil, testLogger(), time.Millisecond)
	p1 := newFakePort(1)
	r.AddPort(p1)

	require.NoError(t, r.Route(bacnet.Address{Net: 5, Addr: []byte{1, 2}}, false, npdu.ControlPriorityNormal, []byte{0x10}))

	time.Sleep(5 * time.Millisecond)
	r.Sweep(time.Now())

	r.mu.Lock()
	_, ok := r.pending[5]
	r.mu.Unlock()
	require.False(t, ok)
}

func TestHandleInboundLearnsRouteFromIAmRouterAndFlushesPending(t *testing.T) {
	cache := newCache(t)
	r := New(1, cache, nil, testLogger(), time.Minute)
	p1 := newFakePort(1)
	r.AddPort(p1)

	require.NoError(t, r.Route(bacnet.Address{Net: 5, Addr: []byte{9, 9}}, false, npdu.ControlPriorityNormal, []byte{0x10}))
	require.Equal(t, 1, p1.broadcastCount())

	msg := npdu.MessageIAmRouterToNetwork
	raw := npdu.Encode(nil, nil, 0, false, npdu.ControlPriorityNormal, &msg, 0, npdu.EncodeNetworkList([]uint16{5}))
	require.NoError(t, r.HandleInbound(1, []byte{7, 7}, raw))

	route, ok := cache.Get(5)
	require.True(t, ok)
	require.Equal(t, uint16(1), route.Port)
	require.Equal(t, []byte{7, 7}, route.NextHop)
	require.Equal(t, 1, p1.sentCount())
}

func TestHandleInboundForwardsBetweenAttachedNetworks(t *testing.T) {
	cache := newCache(t)
	r := New(1, cache, nil, testLogger(), time.Minute)
	p1, p2 := newFakePort(1), newFakePort(2)
	r.AddPort(p1)
	r.AddPort(p2)

	dest := &npdu.Specifier{Net: 2, Addr: []byte{10, 0, 0, 9}}
	raw := npdu.Encode(dest, nil, 10, false, npdu.ControlPriorityNormal, nil, 0, []byte{0xAA})
	require.NoError(t, r.HandleInbound(1, []byte{1, 1}, raw))

	require.Equal(t, 1, p2.sentCount())
	require.Equal(t, []byte{10, 0, 0, 9}, p2.sent[0].mac)
	decoded, err := npdu.Decode(p2.sent[0].data)
	require.NoError(t, err)
	require.Equal(t, []byte{0xAA}, decoded.Payload)
}

func TestHandleInboundHopCountZeroDropsSilently(t *testing.T) {
	cache := newCache(t)
	r := New(1, cache, nil, testLogger(), time.Minute)
	p1, p2 := newFakePort(1), newFakePort(2)
	r.AddPort(p1)
	r.AddPort(p2)

	dest := &npdu.Specifier{Net: 2, Addr: []byte{10, 0, 0, 9}}
	raw := npdu.Encode(dest, nil, 0, false, npdu.ControlPriorityNormal, nil, 0, []byte{0xAA})
	require.NoError(t, r.HandleInbound(1, []byte{1, 1}, raw))
	require.Equal(t, 0, p2.sentCount())
}

func TestHandleInboundDeliversWhenDestAbsent(t *testing.T) {
	cache := newCache(t)
	var gotSrc bacnet.Address
	var gotPayload []byte
	deliver := func(src bacnet.Address, n *npdu.NPDU) {
		gotSrc = src
		gotPayload = n.Payload
	}
	r := New(1, cache, deliver, testLogger(), time.Minute)
	p1 := newFakePort(1)
	r.AddPort(p1)

	raw := npdu.Encode(nil, nil, 0, false, npdu.ControlPriorityNormal, nil, 0, []byte{0x01, 0x02})
	require.NoError(t, r.HandleInbound(1, []byte{4, 4}, raw))
	require.Equal(t, []byte{4, 4}, gotSrc.Addr)
	require.Equal(t, []byte{0x01, 0x02}, gotPayload)
}

func TestHandleInboundRejectsUnreachableDestination(t *testing.T) {
	cache := newCache(t)
	r := New(1, cache, nil, testLogger(), time.Minute)
	p1 := newFakePort(1)
	r.AddPort(p1)

	dest := &npdu.Specifier{Net: 99, Addr: []byte{1}}
	raw := npdu.Encode(dest, nil, 10, false, npdu.ControlPriorityNormal, nil, 0, []byte{0xAA})
	require.NoError(t, r.HandleInbound(1, []byte{2, 2}, raw))

	require.Equal(t, 1, p1.sentCount())
	decoded, err := npdu.Decode(p1.sent[0].data)
	require.NoError(t, err)
	require.Equal(t, npdu.MessageRejectMessageToNetwork, decoded.MessageType)
}

func TestWhoIsRouterToNetworkRepliesWithReachableNetworks(t *testing.T) {
	cache := newCache(t)
	r := New(1, cache, nil, testLogger(), time.Minute)
	p1, p2 := newFakePort(1), newFakePort(2)
	r.AddPort(p1)
	r.AddPort(p2)

	raw := npdu.Encode(nil, nil, 0, false, npdu.ControlPriorityNormal, msgPtr(npdu.MessageWhoIsRouterToNetwork), 0, nil)
	require.NoError(t, r.HandleInbound(1, []byte{3, 3}, raw))

	require.Equal(t, 1, p1.sentCount())
	decoded, err := npdu.Decode(p1.sent[0].data)
	require.NoError(t, err)
	require.Equal(t, npdu.MessageIAmRouterToNetwork, decoded.MessageType)
	nets := npdu.DecodeNetworkList(decoded.Payload)
	require.Contains(t, nets, uint16(1))
	require.Contains(t, nets, uint16(2))
}

func msgPtr(m npdu.MessageType) *npdu.MessageType { return &m }
