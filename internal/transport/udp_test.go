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

package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMACRoundTrip(t *testing.T) {
	addr := &net.UDPAddr{IP: net.IPv4(10, 1, 2, 3), Port: 47808}
	mac := UDPAddrToMAC(addr)
	require.Len(t, mac, 6)

	got, err := MACToUDPAddr(mac)
	require.NoError(t, err)
	require.True(t, got.IP.Equal(addr.IP))
	require.Equal(t, addr.Port, got.Port)
}

func TestMACToUDPAddrRejectsWrongLength(t *testing.T) {
	_, err := MACToUDPAddr([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestPortSendAndReceive(t *testing.T) {
	a, err := NewPort(1, "127.0.0.1:0", "127.0.0.1:0", nil)
	require.NoError(t, err)
	defer a.Close()
	b, err := NewPort(1, "127.0.0.1:0", "127.0.0.1:0", nil)
	require.NoError(t, err)
	defer b.Close()

	received := make(chan []byte, 1)
	b.SetReceiver(func(from *net.UDPAddr, data []byte) {
		received <- data
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	mac := UDPAddrToMAC(b.LocalAddr())
	require.NoError(t, a.Send(mac, []byte{0xDE, 0xAD, 0xBE, 0xEF}))

	select {
	case data := <-received:
		require.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, data)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for datagram")
	}
}

func TestPortNetwork(t *testing.T) {
	p, err := NewPort(7, "127.0.0.1:0", "127.0.0.1:0", nil)
	require.NoError(t, err)
	defer p.Close()
	require.Equal(t, uint16(7), p.Network())
}
