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

// Package bip6 implements BACnet/IPv6 (Annex U): the 3-byte Virtual
// MAC address scheme, BVLC-IPv6 framing, multicast group membership on
// ff02::bac0 / ff05::bac0, and the Address-Resolution exchange that
// maps a VMAC to the (IPv6 address, port) pair it is currently
// reachable at.
package bip6

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bacstack/bacstack/internal/ttlcache"
)

// LinkLocalMulticast and SiteLocalMulticast are the two multicast
// groups Annex U.2.3 defines for BACnet/IPv6 discovery traffic.
const (
	LinkLocalMulticast = "ff02::bac0"
	SiteLocalMulticast = "ff05::bac0"
	DefaultPort        = 47808

	resolutionTTL = 300 * time.Second
)

// BVLCType is the first octet of every BACnet/IPv6 BVLC header,
// distinguishing it from the IPv4 BVLL's 0x81.
const BVLCType = 0x82

// Function is the BVLC-IPv6 function code, Annex U.1.
type Function uint8

const (
	FunctionResult                      Function = 0x00
	FunctionOriginalUnicastNPDU         Function = 0x01
	FunctionOriginalBroadcastNPDU       Function = 0x02
	FunctionAddressResolution           Function = 0x03
	FunctionForwardedAddressResolution  Function = 0x04
	FunctionAddressResolutionACK        Function = 0x05
	FunctionVirtualAddressResolution    Function = 0x06
	FunctionVirtualAddressResolutionACK Function = 0x07
	FunctionForwardedNPDU               Function = 0x08
)

// VMAC is a BACnet/IPv6 Virtual MAC address: three bytes, the low 3
// bytes of a locally-assigned identifier, unique on the multicast
// domain.
type VMAC [3]byte

func (v VMAC) String() string {
	return fmt.Sprintf("%02x:%02x:%02x", v[0], v[1], v[2])
}

// Frame is a decoded BVLC-IPv6 message.
type Frame struct {
	Function Function
	Payload  []byte
}

// Encode serializes a BVLC-IPv6 frame: type, function, 2-byte total
// length, payload.
func Encode(function Function, payload []byte) []byte {
	buf := make([]byte, 4+len(payload))
	buf[0] = BVLCType
	buf[1] = byte(function)
	binary.BigEndian.PutUint16(buf[2:4], uint16(4+len(payload)))
	copy(buf[4:], payload)
	return buf
}

// Decode parses a BVLC-IPv6 frame.
func Decode(data []byte) (*Frame, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("bip6: truncated header")
	}
	if data[0] != BVLCType {
		return nil, fmt.Errorf("bip6: not a BACnet/IPv6 BVLC (type 0x%02x)", data[0])
	}
	length := binary.BigEndian.Uint16(data[2:4])
	if int(length) > len(data) {
		return nil, fmt.Errorf("bip6: length %d exceeds datagram size %d", length, len(data))
	}
	return &Frame{Function: Function(data[1]), Payload: data[4:length]}, nil
}

// EncodeAddressResolution builds an Address-Resolution request body
// for the given target VMAC.
func EncodeAddressResolution(target VMAC) []byte {
	return append([]byte{}, target[:]...)
}

// EncodeAddressResolutionACK builds the reply carrying the responding
// node's VMAC.
func EncodeAddressResolutionACK(vmac VMAC) []byte {
	return append([]byte{}, vmac[:]...)
}

// DecodeVMAC reads a 3-byte VMAC from the front of payload.
func DecodeVMAC(payload []byte) (VMAC, error) {
	var v VMAC
	if len(payload) < 3 {
		return v, fmt.Errorf("bip6: payload too short for a VMAC")
	}
	copy(v[:], payload[:3])
	return v, nil
}

// Deliverer hands a decoded NPDU up to the network layer, with the
// VMAC and socket address it arrived from.
type Deliverer func(from VMAC, addr *net.UDPAddr, npdu []byte)

// Port is one BACnet/IPv6 multicast-capable socket: it answers
// Address-Resolution requests for its own VMAC and learns VMAC-to-address
// mappings from the Address-Resolution-ACK and
// Virtual-Address-Resolution-ACK frames it receives.
type Port struct {
	vmac  VMAC
	conn  *net.UDPConn
	group *net.UDPAddr
	cache *ttlcache.Cache[VMAC, *net.UDPAddr]
	log   *slog.Logger

	mu        sync.Mutex
	deliver   Deliverer
	closed    bool
	knownAddr map[string]VMAC
}

// NewPort joins multicastGroup (LinkLocalMulticast or
// SiteLocalMulticast, with a zone suffix for link-local, e.g.
// "ff02::bac0%eth0") on iface and binds port.
func NewPort(vmac VMAC, iface *net.Interface, multicastGroup string, port int, log *slog.Logger) (*Port, error) {
	if log == nil {
		log = slog.Default()
	}
	group := &net.UDPAddr{IP: net.ParseIP(multicastGroup), Port: port, Zone: ifaceZone(iface)}
	conn, err := net.ListenMulticastUDP("udp6", iface, group)
	if err != nil {
		return nil, fmt.Errorf("bip6: join multicast group: %w", err)
	}
	cache, err := ttlcache.New[VMAC, *net.UDPAddr](1024, resolutionTTL)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Port{vmac: vmac, conn: conn, group: group, cache: cache, log: log, knownAddr: make(map[string]VMAC)}, nil
}

func ifaceZone(iface *net.Interface) string {
	if iface == nil {
		return ""
	}
	return iface.Name
}

// VMAC returns this port's own virtual MAC address.
func (p *Port) VMAC() VMAC { return p.vmac }

// SetDeliverer installs the callback Run hands decoded NPDUs to.
func (p *Port) SetDeliverer(fn Deliverer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deliver = fn
}

// Resolve returns the cached (address, port) for target, if known.
func (p *Port) Resolve(target VMAC) (*net.UDPAddr, bool) {
	return p.cache.Get(target)
}

// Learn records that target is reachable at addr, refreshing the
// cache's TTL.
func (p *Port) Learn(target VMAC, addr *net.UDPAddr) {
	p.cache.Set(target, addr)
	p.mu.Lock()
	p.knownAddr[addr.String()] = target
	p.mu.Unlock()
}

// SendUnicast sends npdu to a previously-resolved target. If target is
// not yet resolved, it instead multicasts an Address-Resolution
// request and returns ErrUnresolved; the caller should retry once a
// resolution ACK has been observed.
func (p *Port) SendUnicast(target VMAC, npduBytes []byte) error {
	addr, ok := p.Resolve(target)
	if !ok {
		return p.requestResolution(target)
	}
	frame := Encode(FunctionOriginalUnicastNPDU, npduBytes)
	_, err := p.conn.WriteToUDP(frame, addr)
	return err
}

// ErrUnresolved is returned by SendUnicast when the target VMAC has no
// cached address yet.
var ErrUnresolved = fmt.Errorf("bip6: target vmac not resolved")

func (p *Port) requestResolution(target VMAC) error {
	frame := Encode(FunctionAddressResolution, EncodeAddressResolution(target))
	if _, err := p.conn.WriteToUDP(frame, p.group); err != nil {
		return err
	}
	return ErrUnresolved
}

// Broadcast multicasts npdu to the port's group as an
// Original-Broadcast-NPDU.
func (p *Port) Broadcast(npduBytes []byte) error {
	frame := Encode(FunctionOriginalBroadcastNPDU, npduBytes)
	_, err := p.conn.WriteToUDP(frame, p.group)
	return err
}

// Run reads datagrams until ctx is cancelled, answering
// Address-Resolution requests for our own VMAC, recording ACKs into
// the resolution cache, and delivering NPDUs to the installed
// Deliverer.
func (p *Port) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		p.Close()
	}()

	buf := make([]byte, 1500)
	for {
		n, addr, err := p.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.mu.Lock()
			closed := p.closed
			p.mu.Unlock()
			if closed {
				return nil
			}
			return fmt.Errorf("bip6: read: %w", err)
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		p.handle(addr, data)
	}
}

func (p *Port) handle(addr *net.UDPAddr, data []byte) {
	frame, err := Decode(data)
	if err != nil {
		p.log.Debug("dropping malformed bip6 frame", "error", err)
		return
	}

	switch frame.Function {
	case FunctionAddressResolution:
		target, err := DecodeVMAC(frame.Payload)
		if err != nil || target != p.vmac {
			return
		}
		ack := Encode(FunctionAddressResolutionACK, EncodeAddressResolutionACK(p.vmac))
		if _, err := p.conn.WriteToUDP(ack, addr); err != nil {
			p.log.Warn("failed to send address-resolution ack", "error", err)
		}
	case FunctionAddressResolutionACK, FunctionVirtualAddressResolutionACK:
		vmac, err := DecodeVMAC(frame.Payload)
		if err != nil {
			return
		}
		p.Learn(vmac, addr)
	case FunctionOriginalUnicastNPDU, FunctionOriginalBroadcastNPDU, FunctionForwardedNPDU:
		p.mu.Lock()
		deliver := p.deliver
		from := p.knownAddr[addr.String()]
		p.mu.Unlock()
		if deliver != nil {
			deliver(from, addr, frame.Payload)
		}
	default:
		p.log.Debug("unhandled bip6 function", "function", frame.Function)
	}
}

// Close releases the multicast socket and its resolution cache. Safe
// to call more than once.
func (p *Port) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cache.Close()
	return p.conn.Close()
}
