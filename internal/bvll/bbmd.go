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
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bacstack/bacstack"
)

// Sender is the minimal outbound capability a BBMD needs from the UDP
// transport: point-to-point and local-broadcast delivery.
type Sender interface {
	SendTo(addr *net.UDPAddr, data []byte) error
	Broadcast(data []byte) error
}

// Deliverer hands a decoded NPDU up to the network layer once the BVLL
// has stripped its framing.
type Deliverer interface {
	DeliverNPDU(source *net.UDPAddr, broadcast bool, npdu []byte)
}

// Config controls BBMD/foreign-device behavior.
type Config struct {
	// Self is our own address as it appears in the BDT, used to skip
	// forwarding to ourselves and to detect self-echoed broadcasts.
	Self net.UDPAddr
	// NATGlobalAddress, if set, is substituted for Self as the
	// originating address reported in Forwarded-NPDU, and is also
	// skipped as a forward destination.
	NATGlobalAddress *net.UDPAddr
	// AllowWriteBDT permits Write-BDT requests to mutate the table.
	// Off by default, matching protocol revisions 17 and later.
	AllowWriteBDT bool
	// AcceptForeignDeviceRegistrations enables the foreign device table.
	AcceptForeignDeviceRegistrations bool
	// MaxForeignDevices bounds the foreign device table size, 0 = unbounded.
	MaxForeignDevices int
	// SweepInterval is how often expired foreign device entries are purged.
	SweepInterval time.Duration
	// Backup persists BDT mutations; nil disables persistence.
	Backup BackupStore
}

// BackupStore persists a Broadcast Distribution Table across restarts.
type BackupStore interface {
	Load() ([]BDTEntry, error)
	Save([]BDTEntry) error
}

// BBMD implements the inbound dispatch rules and outbound broadcast
// algorithm of Annex J.4, plus foreign device registration of Annex J.5.
type BBMD struct {
	cfg    Config
	sender Sender
	deliv  Deliverer
	log    *slog.Logger

	mu  sync.Mutex
	bdt []BDTEntry
	fdt map[string]*FDTEntry
}

// New constructs a BBMD. If cfg.Backup is set, the BDT is loaded from
// it immediately unless initialBDT is non-empty.
func New(cfg Config, sender Sender, deliv Deliverer, log *slog.Logger, initialBDT []BDTEntry) *BBMD {
	b := &BBMD{
		cfg:    cfg,
		sender: sender,
		deliv:  deliv,
		log:    log,
		bdt:    initialBDT,
		fdt:    make(map[string]*FDTEntry),
	}
	if len(b.bdt) == 0 && cfg.Backup != nil {
		if loaded, err := cfg.Backup.Load(); err == nil {
			b.bdt = loaded
		} else {
			log.Warn("bdt backup load failed", "error", err)
		}
	}
	return b
}

// SetBDT replaces the broadcast distribution table and persists it.
func (b *BBMD) SetBDT(entries []BDTEntry) {
	b.mu.Lock()
	b.bdt = entries
	backup := b.cfg.Backup
	b.mu.Unlock()
	if backup != nil {
		if err := backup.Save(entries); err != nil {
			b.log.Warn("bdt backup save failed", "error", err)
		}
	}
}

// BDT returns a copy of the current broadcast distribution table.
func (b *BBMD) BDT() []BDTEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]BDTEntry, len(b.bdt))
	copy(out, b.bdt)
	return out
}

// FDT returns a snapshot of the foreign device table.
func (b *BBMD) FDT() []FDTEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]FDTEntry, 0, len(b.fdt))
	for _, e := range b.fdt {
		out = append(out, *e)
	}
	return out
}

// HandleDatagram applies the inbound dispatch rules of Annex J.4.6 in
// order. source is the UDP peer the datagram arrived from.
func (b *BBMD) HandleDatagram(source *net.UDPAddr, data []byte) {
	hdr, err := DecodeHeader(data)
	if err != nil || len(data) < hdr.Length {
		b.log.Debug("malformed bvlc datagram dropped", "source", source, "error", err)
		return
	}
	body := data[4:hdr.Length]

	switch hdr.Function {
	case bacnet.BVLCForwardedNPDU:
		b.handleForwardedNPDU(source, body)
	case bacnet.BVLCOriginalBroadcastNPDU:
		b.deliv.DeliverNPDU(source, true, body)
		b.rebroadcastFromLocalWire(source, body)
	case bacnet.BVLCOriginalUnicastNPDU:
		b.deliv.DeliverNPDU(source, false, body)
	case bacnet.BVLCRegisterForeignDevice:
		b.handleRegisterForeignDevice(source, body)
	case bacnet.BVLCWriteBroadcastDistributionTable:
		b.handleWriteBDT(source, body)
	case bacnet.BVLCReadBroadcastDistributionTable:
		b.handleReadBDT(source)
	case bacnet.BVLCReadForeignDeviceTable:
		b.handleReadFDT(source)
	case bacnet.BVLCDeleteForeignDeviceTableEntry:
		b.handleDeleteFDTEntry(source, body)
	case bacnet.BVLCDistributeBroadcastToNetwork:
		b.handleDistributeBroadcast(source, body)
	default:
		b.log.Debug("unsupported bvlc function dropped", "function", hdr.Function)
	}
}

func (b *BBMD) handleForwardedNPDU(source *net.UDPAddr, body []byte) {
	if len(body) < 6 {
		return
	}
	var originating [6]byte
	copy(originating[:], body[:6])
	origin := BytesToAddress(originating)

	if b.isOurGlobalAddress(origin) {
		return
	}
	npdu := body[6:]
	b.deliv.DeliverNPDU(origin, true, npdu)

	if b.peerRequiresWireRebroadcast(source) {
		if err := b.sender.Broadcast(EncodeForwardedNPDU(originating, npdu)); err != nil {
			b.log.Warn("forwarded-npdu local rebroadcast failed", "error", err)
		}
	}
}

// peerRequiresWireRebroadcast implements Annex J.4.1.1's BBMD-to-BBMD
// rule B1: a Forwarded-NPDU received from a BDT peer whose broadcast
// distribution mask is all-ones (no local broadcast capability of its
// own) must be re-broadcast onto this BBMD's local wire. A peer absent
// from the BDT entirely defaults to the same treatment, since its
// capability can't be determined.
func (b *BBMD) peerRequiresWireRebroadcast(source *net.UDPAddr) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.bdt {
		if e.Address.Equal(source.IP) && int(e.Port) == source.Port {
			return e.IsUnicastMask()
		}
	}
	return true
}

func (b *BBMD) isOurGlobalAddress(addr *net.UDPAddr) bool {
	if addrEqual(addr, &b.cfg.Self) {
		return true
	}
	if b.cfg.NATGlobalAddress != nil && addrEqual(addr, b.cfg.NATGlobalAddress) {
		return true
	}
	return false
}

func (b *BBMD) handleRegisterForeignDevice(source *net.UDPAddr, body []byte) {
	if len(body) < 2 {
		return
	}
	ttlSeconds := uint16(body[0])<<8 | uint16(body[1])

	b.mu.Lock()
	full := b.cfg.MaxForeignDevices > 0 && len(b.fdt) >= b.cfg.MaxForeignDevices
	accepting := b.cfg.AcceptForeignDeviceRegistrations
	if accepting && !full {
		key := source.String()
		if existing, ok := b.fdt[key]; ok {
			existing.TTL = time.Duration(ttlSeconds) * time.Second
			existing.Refresh()
		} else {
			b.fdt[key] = NewFDTEntry(source, time.Duration(ttlSeconds)*time.Second)
		}
	}
	b.mu.Unlock()

	if !accepting || full {
		b.sender.SendTo(source, EncodeResult(ResultRegisterForeignDeviceNAK))
		return
	}
	b.sender.SendTo(source, EncodeResult(ResultSuccess))
}

func (b *BBMD) handleWriteBDT(source *net.UDPAddr, body []byte) {
	if !b.cfg.AllowWriteBDT {
		b.sender.SendTo(source, EncodeResult(ResultWriteBDTNAK))
		return
	}
	entries := decodeBDTEntries(body)
	b.SetBDT(entries)
	b.sender.SendTo(source, EncodeResult(ResultSuccess))
}

func (b *BBMD) handleReadBDT(source *net.UDPAddr) {
	entries := b.BDT()
	payload := encodeBDTEntries(entries)
	buf := EncodeHeader(bacnet.BVLCReadBroadcastDistributionTableAck, 4+len(payload))
	b.sender.SendTo(source, append(buf, payload...))
}

func (b *BBMD) handleReadFDT(source *net.UDPAddr) {
	entries := b.FDT()
	payload := make([]byte, 0, len(entries)*8)
	for _, e := range entries {
		addr := AddressToBytes(e.Address)
		payload = append(payload, addr[:]...)
		ttl := uint16(e.TTL / time.Second)
		payload = append(payload, byte(ttl>>8), byte(ttl))
		remaining := uint16(e.Remaining / time.Second)
		payload = append(payload, byte(remaining>>8), byte(remaining))
	}
	buf := EncodeHeader(bacnet.BVLCReadForeignDeviceTableAck, 4+len(payload))
	b.sender.SendTo(source, append(buf, payload...))
}

func (b *BBMD) handleDeleteFDTEntry(source *net.UDPAddr, body []byte) {
	if len(body) < 6 {
		return
	}
	var addrBytes [6]byte
	copy(addrBytes[:], body[:6])
	addr := BytesToAddress(addrBytes)

	b.mu.Lock()
	delete(b.fdt, addr.String())
	b.mu.Unlock()
	b.sender.SendTo(source, EncodeResult(ResultSuccess))
}

func (b *BBMD) handleDistributeBroadcast(source *net.UDPAddr, npdu []byte) {
	b.mu.Lock()
	_, registered := b.fdt[source.String()]
	b.mu.Unlock()
	if !registered {
		b.sender.SendTo(source, EncodeResult(ResultDistributeBroadcastNAK))
		return
	}
	b.deliv.DeliverNPDU(source, true, npdu)
	b.forwardBroadcast(source, npdu)
}

func (b *BBMD) rebroadcastFromLocalWire(source *net.UDPAddr, npdu []byte) {
	b.forwardBroadcast(source, npdu)
}

// forwardBroadcast implements the outbound broadcast algorithm of
// Annex J.4.3: relay npdu (which originated at source) to every BDT
// peer and every registered foreign device.
func (b *BBMD) forwardBroadcast(source *net.UDPAddr, npdu []byte) {
	originAddr := &b.cfg.Self
	if b.cfg.NATGlobalAddress != nil {
		originAddr = b.cfg.NATGlobalAddress
	}
	originating := AddressToBytes(originAddr)
	forwarded := EncodeForwardedNPDU(originating, npdu)

	b.mu.Lock()
	bdt := make([]BDTEntry, len(b.bdt))
	copy(bdt, b.bdt)
	fdt := make([]*FDTEntry, 0, len(b.fdt))
	for _, e := range b.fdt {
		fdt = append(fdt, e)
	}
	b.mu.Unlock()

	localRebroadcast := false
	for _, e := range bdt {
		if addrEqual(&net.UDPAddr{IP: e.Address, Port: int(e.Port)}, &b.cfg.Self) {
			continue
		}
		dest := e.ForwardDestination()
		if addrEqual(dest, source) {
			continue
		}
		if b.cfg.NATGlobalAddress != nil && addrEqual(dest, b.cfg.NATGlobalAddress) {
			continue
		}
		if err := b.sender.SendTo(dest, forwarded); err != nil {
			b.log.Warn("bdt forward failed", "dest", dest, "error", err)
		}
		if e.IsUnicastMask() {
			localRebroadcast = true
		}
	}

	for _, f := range fdt {
		if addrEqual(f.Address, source) {
			continue
		}
		if err := b.sender.SendTo(f.Address, forwarded); err != nil {
			b.log.Warn("fdt forward failed", "dest", f.Address, "error", err)
		}
	}

	if localRebroadcast {
		if err := b.sender.Broadcast(EncodeOriginalBroadcastNPDU(npdu)); err != nil {
			b.log.Warn("local rebroadcast failed", "error", err)
		}
	}
}

// Sweep decrements every foreign device entry's remaining time by elapsed
// and evicts any that have expired. Call on cfg.SweepInterval.
func (b *BBMD) Sweep(elapsed time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, e := range b.fdt {
		e.Remaining -= elapsed
		if e.Expired() {
			delete(b.fdt, key)
		}
	}
}

func decodeBDTEntries(body []byte) []BDTEntry {
	entries := make([]BDTEntry, 0, len(body)/10)
	for i := 0; i+10 <= len(body); i += 10 {
		ip := make(net.IP, 4)
		copy(ip, body[i:i+4])
		port := uint16(body[i+4])<<8 | uint16(body[i+5])
		mask := net.IPMask(append([]byte(nil), body[i+6:i+10]...))
		entries = append(entries, BDTEntry{Address: ip, Port: port, Mask: mask})
	}
	return entries
}

func encodeBDTEntries(entries []BDTEntry) []byte {
	buf := make([]byte, 0, len(entries)*10)
	for _, e := range entries {
		ip4 := e.Address.To4()
		buf = append(buf, ip4...)
		buf = append(buf, byte(e.Port>>8), byte(e.Port))
		mask := e.Mask
		if len(mask) == 0 {
			mask = net.CIDRMask(32, 32)
		}
		buf = append(buf, mask...)
	}
	return buf
}
