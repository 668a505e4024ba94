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

package bvll

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent []struct {
		addr *net.UDPAddr
		data []byte
	}
	broadcasts [][]byte
}

func (f *fakeSender) SendTo(addr *net.UDPAddr, data []byte) error {
	f.sent = append(f.sent, struct {
		addr *net.UDPAddr
		data []byte
	}{addr, data})
	return nil
}

func (f *fakeSender) Broadcast(data []byte) error {
	f.broadcasts = append(f.broadcasts, data)
	return nil
}

type fakeDeliverer struct {
	delivered []struct {
		source    *net.UDPAddr
		broadcast bool
		npdu      []byte
	}
}

func (f *fakeDeliverer) DeliverNPDU(source *net.UDPAddr, broadcast bool, npdu []byte) {
	f.delivered = append(f.delivered, struct {
		source    *net.UDPAddr
		broadcast bool
		npdu      []byte
	}{source, broadcast, npdu})
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegisterForeignDeviceSuccess(t *testing.T) {
	sender := &fakeSender{}
	deliv := &fakeDeliverer{}
	cfg := Config{AcceptForeignDeviceRegistrations: true}
	b := New(cfg, sender, deliv, testLogger(), nil)

	peer := &net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: 47808}
	b.HandleDatagram(peer, EncodeRegisterForeignDevice(300))

	require.Len(t, sender.sent, 1)
	require.Equal(t, EncodeResult(ResultSuccess), sender.sent[0].data)
	require.Len(t, b.FDT(), 1)
}

func TestRegisterForeignDeviceRejectedWhenDisabled(t *testing.T) {
	sender := &fakeSender{}
	deliv := &fakeDeliverer{}
	b := New(Config{AcceptForeignDeviceRegistrations: false}, sender, deliv, testLogger(), nil)

	peer := &net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: 47808}
	b.HandleDatagram(peer, EncodeRegisterForeignDevice(300))

	require.Equal(t, EncodeResult(ResultRegisterForeignDeviceNAK), sender.sent[0].data)
	require.Empty(t, b.FDT())
}

func TestWriteBDTRejectedByDefault(t *testing.T) {
	sender := &fakeSender{}
	deliv := &fakeDeliverer{}
	b := New(Config{}, sender, deliv, testLogger(), nil)

	peer := &net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: 47808}
	entries := encodeBDTEntries([]BDTEntry{{Address: net.ParseIP("10.0.0.1"), Port: 47808, Mask: net.CIDRMask(24, 32)}})
	hdr := EncodeHeader(0x01, 4+len(entries))
	b.HandleDatagram(peer, append(hdr, entries...))

	require.Equal(t, EncodeResult(ResultWriteBDTNAK), sender.sent[0].data)
	require.Empty(t, b.BDT())
}

func TestForwardBroadcastSkipsOriginatingPeer(t *testing.T) {
	sender := &fakeSender{}
	deliv := &fakeDeliverer{}
	self := net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 47808}
	peerAddr := net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 47808}
	cfg := Config{Self: self}
	b := New(cfg, sender, deliv, testLogger(), []BDTEntry{
		{Address: self.IP, Port: 47808, Mask: net.CIDRMask(24, 32)},
		{Address: peerAddr.IP, Port: 47808, Mask: net.CIDRMask(32, 32)},
	})

	npdu := []byte{0x01, 0x00, 0x10, 0x00, 0x00}
	buf := EncodeOriginalBroadcastNPDU(npdu)
	b.HandleDatagram(&peerAddr, buf)

	require.Len(t, deliv.delivered, 1)
	require.True(t, deliv.delivered[0].broadcast)
	require.Empty(t, sender.sent)
}

func TestFDTSweepExpiresEntries(t *testing.T) {
	sender := &fakeSender{}
	deliv := &fakeDeliverer{}
	b := New(Config{AcceptForeignDeviceRegistrations: true}, sender, deliv, testLogger(), nil)

	peer := &net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: 47808}
	b.HandleDatagram(peer, EncodeRegisterForeignDevice(1))
	require.Len(t, b.FDT(), 1)

	b.Sweep(35 * time.Second)
	require.Empty(t, b.FDT())
}

func TestForwardDestinationComputation(t *testing.T) {
	e := BDTEntry{Address: net.ParseIP("192.168.1.0"), Port: 47808, Mask: net.CIDRMask(24, 32)}
	dest := e.ForwardDestination()
	require.Equal(t, "192.168.1.255", dest.IP.String())
}
