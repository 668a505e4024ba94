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

// Package bvll implements the BACnet Virtual Link Layer (Annex J): BVLC
// framing, the Broadcast Distribution Table used by a BBMD, and the
// Foreign Device Table used to accept registrations from remote devices
// that cannot receive local broadcasts.
package bvll

import (
	"encoding/binary"
	"errors"
	"net"
	"time"

	"github.com/bacstack/bacstack"
)

// ErrTruncated is returned when a BVLC datagram is shorter than its header claims.
var ErrTruncated = errors.New("bvll: truncated data")

// Result codes carried by a BVLC-Result reply.
const (
	ResultSuccess                  uint16 = 0x0000
	ResultWriteBDTNAK              uint16 = 0x0010
	ResultReadBDTNAK                uint16 = 0x0020
	ResultRegisterForeignDeviceNAK uint16 = 0x0030
	ResultReadFDTNAK               uint16 = 0x0040
	ResultDeleteFDTEntryNAK        uint16 = 0x0050
	ResultDistributeBroadcastNAK   uint16 = 0x0060
)

// Header is a decoded BVLC header.
type Header struct {
	Type     bacnet.BVLCType
	Function bacnet.BVLCFunction
	Length   int
}

// EncodeHeader builds a 4-byte BVLC header for a datagram whose total
// length (header + payload) is totalLength.
func EncodeHeader(function bacnet.BVLCFunction, totalLength int) []byte {
	buf := make([]byte, 4)
	buf[0] = byte(bacnet.BVLCTypeBACnetIP)
	buf[1] = byte(function)
	binary.BigEndian.PutUint16(buf[2:], uint16(totalLength))
	return buf
}

// DecodeHeader parses a BVLC header.
func DecodeHeader(data []byte) (*Header, error) {
	if len(data) < 4 {
		return nil, ErrTruncated
	}
	return &Header{
		Type:     bacnet.BVLCType(data[0]),
		Function: bacnet.BVLCFunction(data[1]),
		Length:   int(binary.BigEndian.Uint16(data[2:4])),
	}, nil
}

// EncodeResult builds a BVLC-Result datagram.
func EncodeResult(code uint16) []byte {
	buf := EncodeHeader(bacnet.BVLCResult, 6)
	rb := make([]byte, 2)
	binary.BigEndian.PutUint16(rb, code)
	return append(buf, rb...)
}

// EncodeOriginalUnicastNPDU wraps an NPDU for point-to-point delivery.
func EncodeOriginalUnicastNPDU(npdu []byte) []byte {
	buf := EncodeHeader(bacnet.BVLCOriginalUnicastNPDU, 4+len(npdu))
	return append(buf, npdu...)
}

// EncodeOriginalBroadcastNPDU wraps an NPDU for local broadcast.
func EncodeOriginalBroadcastNPDU(npdu []byte) []byte {
	buf := EncodeHeader(bacnet.BVLCOriginalBroadcastNPDU, 4+len(npdu))
	return append(buf, npdu...)
}

// EncodeForwardedNPDU wraps an NPDU on behalf of originatingAddr (an
// IPv4:port byte representation, 6 bytes) for forwarding by a BBMD.
func EncodeForwardedNPDU(originatingAddr [6]byte, npdu []byte) []byte {
	buf := EncodeHeader(bacnet.BVLCForwardedNPDU, 10+len(npdu))
	buf = append(buf, originatingAddr[:]...)
	return append(buf, npdu...)
}

// EncodeRegisterForeignDevice builds a Register-Foreign-Device request
// carrying the requested time-to-live in seconds.
func EncodeRegisterForeignDevice(ttl uint16) []byte {
	buf := EncodeHeader(bacnet.BVLCRegisterForeignDevice, 6)
	tb := make([]byte, 2)
	binary.BigEndian.PutUint16(tb, ttl)
	return append(buf, tb...)
}

// EncodeDeleteForeignDeviceTableEntry builds a request to remove addr
// from the BBMD's foreign device table.
func EncodeDeleteForeignDeviceTableEntry(addr [6]byte) []byte {
	buf := EncodeHeader(bacnet.BVLCDeleteForeignDeviceTableEntry, 10)
	return append(buf, addr[:]...)
}

// EncodeDistributeBroadcastToNetwork builds a request a registered
// foreign device sends to ask its BBMD to rebroadcast npdu.
func EncodeDistributeBroadcastToNetwork(npdu []byte) []byte {
	buf := EncodeHeader(bacnet.BVLCDistributeBroadcastToNetwork, 4+len(npdu))
	return append(buf, npdu...)
}

// AddressToBytes packs an IPv4 UDP address into the 6-byte wire form
// BVLL uses for BDT/FDT entries and Forwarded-NPDU originators.
func AddressToBytes(addr *net.UDPAddr) [6]byte {
	var out [6]byte
	ip4 := addr.IP.To4()
	copy(out[0:4], ip4)
	binary.BigEndian.PutUint16(out[4:6], uint16(addr.Port))
	return out
}

// BytesToAddress unpacks the 6-byte wire form into a UDP address.
func BytesToAddress(b [6]byte) *net.UDPAddr {
	ip := make(net.IP, 4)
	copy(ip, b[0:4])
	return &net.UDPAddr{IP: ip, Port: int(binary.BigEndian.Uint16(b[4:6]))}
}

// BDTEntry is one row of a Broadcast Distribution Table.
type BDTEntry struct {
	Address net.IP
	Port    uint16
	Mask    net.IPMask
}

// ForwardDestination computes the directed-broadcast address this
// entry forwards to: (address | ~mask, port).
func (e BDTEntry) ForwardDestination() *net.UDPAddr {
	ip4 := e.Address.To4()
	mask := e.Mask
	if len(mask) == 0 {
		mask = net.CIDRMask(32, 32)
	}
	out := make(net.IP, 4)
	for i := range out {
		out[i] = ip4[i] | ^mask[i]
	}
	return &net.UDPAddr{IP: out, Port: int(e.Port)}
}

// IsUnicastMask reports whether the entry's mask is all-ones, meaning
// its BBMD peer has no local broadcast capability of its own and
// relies on us to rebroadcast on its behalf (B1 in Annex J.4.1.1).
func (e BDTEntry) IsUnicastMask() bool {
	mask := e.Mask
	if len(mask) == 0 {
		return true
	}
	ones, bits := mask.Size()
	return ones == bits
}

// FDTEntry is one row of a Foreign Device Table.
type FDTEntry struct {
	Address   *net.UDPAddr
	TTL       time.Duration
	Remaining time.Duration
}

// Expired reports whether the grace period has elapsed.
func (f *FDTEntry) Expired() bool {
	return f.Remaining <= 0
}

// foreignDeviceGrace is the extra time Annex J.5.1 recommends giving a
// foreign device beyond its stated time-to-live before eviction.
const foreignDeviceGrace = 30 * time.Second

// NewFDTEntry builds a table entry with the TTL plus grace period
// remaining.
func NewFDTEntry(addr *net.UDPAddr, ttl time.Duration) *FDTEntry {
	remaining := ttl + foreignDeviceGrace
	return &FDTEntry{Address: addr, TTL: ttl, Remaining: remaining}
}

// Refresh resets the remaining time on re-registration.
func (f *FDTEntry) Refresh() {
	f.Remaining = f.TTL + foreignDeviceGrace
}

func addrEqual(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.IP.Equal(b.IP) && a.Port == b.Port
}
