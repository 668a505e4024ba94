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

package bip6

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bacstack/bacstack/internal/ttlcache"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload := []byte{0xAA, 0xBB, 0xCC}
	data := Encode(FunctionOriginalUnicastNPDU, payload)

	frame, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, FunctionOriginalUnicastNPDU, frame.Function)
	require.Equal(t, payload, frame.Payload)
}

func TestDecodeRejectsWrongType(t *testing.T) {
	data := []byte{0x81, 0x00, 0x00, 0x04}
	_, err := Decode(data)
	require.Error(t, err)
}

func TestDecodeRejectsTruncated(t *testing.T) {
	_, err := Decode([]byte{0x82, 0x01})
	require.Error(t, err)
}

func TestVMACStringFormat(t *testing.T) {
	v := VMAC{0x01, 0x02, 0x03}
	require.Equal(t, "01:02:03", v.String())
}

func TestAddressResolutionRoundTrip(t *testing.T) {
	target := VMAC{0x10, 0x20, 0x30}
	body := EncodeAddressResolution(target)
	got, err := DecodeVMAC(body)
	require.NoError(t, err)
	require.Equal(t, target, got)
}

func TestPortResolveAndLearn(t *testing.T) {
	p := &Port{
		vmac:      VMAC{1, 1, 1},
		knownAddr: make(map[string]VMAC),
	}
	cache, err := ttlcache.New[VMAC, *net.UDPAddr](64, time.Minute)
	require.NoError(t, err)
	t.Cleanup(cache.Close)
	p.cache = cache

	target := VMAC{2, 2, 2}
	_, ok := p.Resolve(target)
	require.False(t, ok)

	addr := &net.UDPAddr{IP: net.ParseIP("fe80::1"), Port: 47808}
	p.Learn(target, addr)

	got, ok := p.Resolve(target)
	require.True(t, ok)
	require.Equal(t, addr, got)
}
