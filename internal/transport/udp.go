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

// Package transport provides the UDP/IPv4 socket underneath BACnet/IP
// (Annex J): a port that speaks BVLL-framed datagrams, and knows how
// to turn a 6-byte BACnet MAC address (4-byte IPv4 + 2-byte port) into
// a socket address and back.
package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// ReceiveFunc is invoked for every datagram a Port reads off the wire.
type ReceiveFunc func(from *net.UDPAddr, data []byte)

// Port is a UDP/IPv4 BACnet/IP port: one bound socket plus the
// subnet's directed-broadcast address.
type Port struct {
	network   uint16
	conn      *net.UDPConn
	broadcast *net.UDPAddr
	log       *slog.Logger

	mu     sync.Mutex
	onRecv ReceiveFunc
	closed bool
}

// NewPort binds a UDP socket at bindAddr (host:port, host may be
// empty to bind all interfaces) and remembers broadcastAddr as the
// destination for Broadcast. network is the BACnet network number
// this port is attached to, used to satisfy router.Port.
func NewPort(network uint16, bindAddr, broadcastAddr string, log *slog.Logger) (*Port, error) {
	if log == nil {
		log = slog.Default()
	}
	laddr, err := net.ResolveUDPAddr("udp4", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve bind address: %w", err)
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen: %w", err)
	}
	baddr, err := net.ResolveUDPAddr("udp4", broadcastAddr)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: resolve broadcast address: %w", err)
	}
	return &Port{network: network, conn: conn, broadcast: baddr, log: log}, nil
}

// Network returns the BACnet network number this port is attached to,
// satisfying router.Port.
func (p *Port) Network() uint16 { return p.network }

// LocalAddr returns the bound socket address.
func (p *Port) LocalAddr() *net.UDPAddr {
	return p.conn.LocalAddr().(*net.UDPAddr)
}

// SendTo writes data to a specific UDP peer.
func (p *Port) SendTo(addr *net.UDPAddr, data []byte) error {
	_, err := p.conn.WriteToUDP(data, addr)
	return err
}

// Broadcast writes data to the port's configured broadcast address,
// satisfying bvll.Sender.
func (p *Port) Broadcast(data []byte) error {
	return p.SendTo(p.broadcast, data)
}

// Send writes data to the peer named by a 6-byte BACnet MAC address,
// satisfying router.Port.
func (p *Port) Send(mac []byte, data []byte) error {
	addr, err := MACToUDPAddr(mac)
	if err != nil {
		return err
	}
	return p.SendTo(addr, data)
}

// SetReceiver installs the callback Run delivers inbound datagrams to.
func (p *Port) SetReceiver(fn ReceiveFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRecv = fn
}

// Run reads datagrams until ctx is cancelled or the socket is closed.
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
			return fmt.Errorf("transport: read: %w", err)
		}

		p.mu.Lock()
		fn := p.onRecv
		p.mu.Unlock()
		if fn == nil {
			continue
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		fn(addr, frame)
	}
}

// Close releases the underlying socket. Safe to call more than once.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.conn.Close()
}

// MACToUDPAddr decodes a 6-byte BACnet/IP MAC address (4-byte IPv4
// followed by a 2-byte big-endian port) into a socket address.
func MACToUDPAddr(mac []byte) (*net.UDPAddr, error) {
	if len(mac) != 6 {
		return nil, fmt.Errorf("transport: bad mac length %d, want 6", len(mac))
	}
	return &net.UDPAddr{
		IP:   net.IPv4(mac[0], mac[1], mac[2], mac[3]),
		Port: int(binary.BigEndian.Uint16(mac[4:6])),
	}, nil
}

// UDPAddrToMAC encodes a socket address as a 6-byte BACnet/IP MAC
// address.
func UDPAddrToMAC(addr *net.UDPAddr) []byte {
	mac := make([]byte, 6)
	ip4 := addr.IP.To4()
	copy(mac[0:4], ip4)
	binary.BigEndian.PutUint16(mac[4:6], uint16(addr.Port))
	return mac
}
