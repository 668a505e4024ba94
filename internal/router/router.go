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

// Package router implements the network layer's forwarding and
// routing-table-discovery behaviour of clause 6: outbound routing by
// destination class, hop-count enforcement, inbound forwarding between
// attached networks, and the Who-Is-Router-To-Network /
// I-Am-Router-To-Network / Reject-Message-To-Network exchange.
package router

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bacstack/bacstack"
	"github.com/bacstack/bacstack/internal/npdu"
	"github.com/bacstack/bacstack/internal/ttlcache"
)

// routeTTL bounds how long a learned route is trusted without being
// refreshed by fresh traffic on that network.
const routeTTL = 10 * time.Minute

// defaultPendingTimeout bounds how long a queued NPDU waits for
// Who-Is-Router-To-Network to resolve before it is dropped without
// retry.
const defaultPendingTimeout = 3 * time.Second

// pendingNPDU is the single outbound NPDU held for a destination
// network while its route is being resolved.
type pendingNPDU struct {
	data     []byte
	queuedAt time.Time
}

// Port is one attachment the router forwards NPDUs across: a
// BACnet/IP port, a BACnet/IPv6 port, or anything else that can send
// and broadcast a raw NPDU.
type Port interface {
	// Network returns the BACnet network number this port is attached to.
	Network() uint16
	// Send transmits data to a specific MAC address on this port.
	Send(mac []byte, data []byte) error
	// Broadcast transmits data to this port's broadcast domain.
	Broadcast(data []byte) error
}

// Route is a path to a network not directly attached to this device:
// which attached port to send through, and the MAC address of the
// router on that port that forwards there.
type Route struct {
	Port    uint16
	NextHop []byte
}

// Deliverer hands a decoded application-layer NPDU to the local
// application (normally the TSM dispatch), with the NPDU's effective
// source address.
type Deliverer func(src bacnet.Address, n *npdu.NPDU)

// Router forwards NPDUs between attached networks and answers the
// network-layer management messages of clause 6.4. A device with a
// single attached network still uses a Router; with one port it never
// has anything to forward to and behaves like a plain BACnet/IP node.
type Router struct {
	mu         sync.Mutex
	ports      map[uint16]Port
	appNetwork uint16
	cache      *ttlcache.Cache[uint16, Route]
	knownNets  map[uint16]time.Time
	pending    map[uint16]pendingNPDU
	pendingTTL time.Duration
	deliver    Deliverer
	log        *slog.Logger
}

// New builds a Router that delivers locally-addressed APDUs via
// deliver and treats appNetwork as the network hosting the local
// application (the network used for messages with no destination
// network at all). pendingTimeout bounds how long an NPDU queued
// behind a cache-miss Who-Is-Router-To-Network is held before being
// dropped without retry; zero selects defaultPendingTimeout.
func New(appNetwork uint16, cache *ttlcache.Cache[uint16, Route], deliver Deliverer, log *slog.Logger, pendingTimeout time.Duration) *Router {
	if log == nil {
		log = slog.Default()
	}
	if pendingTimeout <= 0 {
		pendingTimeout = defaultPendingTimeout
	}
	return &Router{
		ports:      make(map[uint16]Port),
		appNetwork: appNetwork,
		cache:      cache,
		knownNets:  make(map[uint16]time.Time),
		pending:    make(map[uint16]pendingNPDU),
		pendingTTL: pendingTimeout,
		deliver:    deliver,
		log:        log,
	}
}

// AddPort attaches a port, keyed by the network number it reports.
func (r *Router) AddPort(p Port) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ports[p.Network()] = p
}

func (r *Router) portFor(net uint16) Port {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ports[net]
}

func (r *Router) isAttached(net uint16) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ports[net]
	return ok
}

func (r *Router) attachedNetworks() []uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	nets := make([]uint16, 0, len(r.ports))
	for net := range r.ports {
		nets = append(nets, net)
	}
	return nets
}

// reachableNetworks lists every network this router can claim in an
// I-Am-Router-To-Network reply: the attached networks plus any
// learned routes that have not aged out.
func (r *Router) reachableNetworks() []uint16 {
	nets := r.attachedNetworks()

	r.mu.Lock()
	now := time.Now()
	for net, seen := range r.knownNets {
		if now.Sub(seen) > routeTTL {
			delete(r.knownNets, net)
			continue
		}
		nets = append(nets, net)
	}
	r.mu.Unlock()
	return nets
}

func (r *Router) learnRoute(net uint16, route Route) {
	if r.isAttached(net) {
		return
	}
	r.cache.SetWithTTL(net, route, routeTTL)
	r.mu.Lock()
	r.knownNets[net] = time.Now()
	r.mu.Unlock()
}

// Route sends an application-layer APDU toward dest, consulting the
// router cache and queuing behind a Who-Is-Router-To-Network when the
// destination network is not yet known, per clause 6.2.3's outbound
// routing rules.
func (r *Router) Route(dest bacnet.Address, expectingReply bool, priority npdu.Control, apdu []byte) error {
	switch {
	case dest.Net == 0:
		return r.sendOnPort(r.appNetwork, dest.Addr, expectingReply, priority, apdu)
	case r.portFor(dest.Net) != nil:
		return r.sendOnPort(dest.Net, dest.Addr, expectingReply, priority, apdu)
	case dest.Net == 0xFFFF:
		return r.sendGlobalBroadcast(expectingReply, priority, apdu)
	default:
		return r.sendRemote(dest, expectingReply, priority, apdu)
	}
}

func (r *Router) sendOnPort(net uint16, mac []byte, expectingReply bool, priority npdu.Control, apdu []byte) error {
	port := r.portFor(net)
	if port == nil {
		return fmt.Errorf("router: no port attached to network %d", net)
	}
	data := npdu.Encode(nil, nil, 255, expectingReply, priority, nil, 0, apdu)
	if len(mac) == 0 {
		return port.Broadcast(data)
	}
	return port.Send(mac, data)
}

func (r *Router) sendGlobalBroadcast(expectingReply bool, priority npdu.Control, apdu []byte) error {
	dest := &npdu.Specifier{Net: 0xFFFF}
	data := npdu.Encode(dest, nil, 255, expectingReply, priority, nil, 0, apdu)
	var firstErr error
	for _, port := range r.snapshotPorts() {
		if err := port.Broadcast(data); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Router) snapshotPorts() []Port {
	r.mu.Lock()
	defer r.mu.Unlock()
	ports := make([]Port, 0, len(r.ports))
	for _, p := range r.ports {
		ports = append(ports, p)
	}
	return ports
}

func (r *Router) sendRemote(dest bacnet.Address, expectingReply bool, priority npdu.Control, apdu []byte) error {
	if route, ok := r.cache.Get(dest.Net); ok {
		port := r.portFor(route.Port)
		if port == nil {
			return fmt.Errorf("router: learned route for network %d points at unattached port %d", dest.Net, route.Port)
		}
		spec := &npdu.Specifier{Net: dest.Net, Addr: dest.Addr}
		data := npdu.Encode(spec, nil, 255, expectingReply, priority, nil, 0, apdu)
		return port.Send(route.NextHop, data)
	}

	spec := &npdu.Specifier{Net: dest.Net, Addr: dest.Addr}
	data := npdu.Encode(spec, nil, 255, expectingReply, priority, nil, 0, apdu)
	r.mu.Lock()
	r.pending[dest.Net] = pendingNPDU{data: data, queuedAt: time.Now()}
	r.mu.Unlock()

	r.broadcastWhoIsRouter(dest.Net)
	return nil
}

// Sweep drops any queued NPDU whose destination network has not
// resolved within pendingTTL, per the "resolution timeouts drop the
// queued NPDU without retry" rule: no retry is attempted, the entry is
// simply discarded.
func (r *Router) Sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for net, p := range r.pending {
		if now.Sub(p.queuedAt) >= r.pendingTTL {
			delete(r.pending, net)
			r.log.Warn("dropped queued npdu, router resolution timed out", "network", net)
		}
	}
}

func (r *Router) broadcastWhoIsRouter(net uint16) {
	msg := npdu.MessageWhoIsRouterToNetwork
	payload := npdu.EncodeWhoIsRouterToNetwork(net)
	data := npdu.Encode(nil, nil, 0, false, npdu.ControlPriorityNormal, &msg, 0, payload)
	for _, port := range r.snapshotPorts() {
		if err := port.Broadcast(data); err != nil {
			r.log.Warn("who-is-router-to-network broadcast failed", "network", net, "error", err)
		}
	}
}

// HandleInbound decodes a raw NPDU received as arrivalWireMAC on the
// port attached to arrivalNet, and applies the router-cache learning,
// forwarding, network-management, and local-delivery rules of clause
// 6.4 and 6.5.
func (r *Router) HandleInbound(arrivalNet uint16, wireSrc []byte, raw []byte) error {
	n, err := npdu.Decode(raw)
	if err != nil {
		return err
	}

	if n.Src != nil && n.Src.Net != 0 {
		r.learnRoute(n.Src.Net, Route{Port: arrivalNet, NextHop: wireSrc})
	}

	if n.IsNetworkMessage() {
		return r.handleNetworkMessage(arrivalNet, wireSrc, n)
	}

	return r.handleApplicationMessage(arrivalNet, wireSrc, n)
}

func (r *Router) handleApplicationMessage(arrivalNet uint16, wireSrc []byte, n *npdu.NPDU) error {
	src := effectiveSource(wireSrc, n)

	if n.Dest == nil {
		r.deliverLocally(src, n)
		return nil
	}

	if n.Dest.Net == 0xFFFF {
		r.deliverLocally(src, n)
		return r.forwardBroadcast(arrivalNet, n)
	}

	if n.Dest.Net == arrivalNet {
		r.deliverLocally(src, n)
		return nil
	}

	if r.portFor(n.Dest.Net) != nil {
		return r.forwardToAttached(n.Dest.Net, n)
	}

	if route, ok := r.cache.Get(n.Dest.Net); ok {
		return r.forwardViaRoute(route, n)
	}

	return r.reject(arrivalNet, wireSrc, npdu.RejectNotDirectlyConnected, n.Dest.Net)
}

func effectiveSource(wireSrc []byte, n *npdu.NPDU) bacnet.Address {
	if n.Src != nil {
		return bacnet.Address{Net: n.Src.Net, Addr: n.Src.Addr}
	}
	return bacnet.Address{Addr: wireSrc}
}

func (r *Router) deliverLocally(src bacnet.Address, n *npdu.NPDU) {
	if r.deliver != nil {
		r.deliver(src, n)
	}
}

func (r *Router) forwardBroadcast(arrivalNet uint16, n *npdu.NPDU) error {
	if n.DestHopCount == 0 {
		return nil
	}
	data := npdu.Encode(&npdu.Specifier{Net: 0xFFFF}, n.Src, n.DestHopCount-1, n.ExpectingReply(), n.Control&0x03, nil, 0, n.Payload)
	var firstErr error
	for net, port := range r.portSnapshotByNetwork() {
		if net == arrivalNet {
			continue
		}
		if err := port.Broadcast(data); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Router) portSnapshotByNetwork() map[uint16]Port {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[uint16]Port, len(r.ports))
	for net, p := range r.ports {
		out[net] = p
	}
	return out
}

func (r *Router) forwardToAttached(net uint16, n *npdu.NPDU) error {
	if n.DestHopCount == 0 {
		return nil
	}
	port := r.portFor(net)
	if port == nil {
		return fmt.Errorf("router: no port for network %d", net)
	}
	data := npdu.Encode(nil, n.Src, n.DestHopCount-1, n.ExpectingReply(), n.Control&0x03, nil, 0, n.Payload)
	if len(n.Dest.Addr) == 0 {
		return port.Broadcast(data)
	}
	return port.Send(n.Dest.Addr, data)
}

func (r *Router) forwardViaRoute(route Route, n *npdu.NPDU) error {
	if n.DestHopCount == 0 {
		return nil
	}
	port := r.portFor(route.Port)
	if port == nil {
		return fmt.Errorf("router: learned route points at unattached port %d", route.Port)
	}
	spec := &npdu.Specifier{Net: n.Dest.Net, Addr: n.Dest.Addr}
	data := npdu.Encode(spec, n.Src, n.DestHopCount-1, n.ExpectingReply(), n.Control&0x03, nil, 0, n.Payload)
	return port.Send(route.NextHop, data)
}

func (r *Router) reject(arrivalNet uint16, wireSrc []byte, reason npdu.RejectReason, net uint16) error {
	port := r.portFor(arrivalNet)
	if port == nil {
		return fmt.Errorf("router: no port for network %d", arrivalNet)
	}
	msg := npdu.MessageRejectMessageToNetwork
	payload := npdu.EncodeRejectMessageToNetwork(reason, net)
	data := npdu.Encode(nil, nil, 0, false, npdu.ControlPriorityNormal, &msg, 0, payload)
	return port.Send(wireSrc, data)
}

func (r *Router) handleNetworkMessage(arrivalNet uint16, wireSrc []byte, n *npdu.NPDU) error {
	switch n.MessageType {
	case npdu.MessageWhoIsRouterToNetwork:
		return r.handleWhoIsRouter(arrivalNet, wireSrc, n)
	case npdu.MessageIAmRouterToNetwork:
		r.handleIAmRouter(arrivalNet, wireSrc, n)
		return nil
	case npdu.MessageRejectMessageToNetwork:
		r.handleRejectMessage(n)
		return nil
	default:
		r.log.Debug("unhandled network layer message", "type", n.MessageType, "network", arrivalNet)
		return nil
	}
}

func (r *Router) handleWhoIsRouter(arrivalNet uint16, wireSrc []byte, n *npdu.NPDU) error {
	target := npdu.DecodeNetworkList(n.Payload)
	var nets []uint16
	if len(target) == 0 {
		nets = r.reachableNetworks()
	} else {
		reachable := make(map[uint16]bool)
		for _, net := range r.reachableNetworks() {
			reachable[net] = true
		}
		for _, net := range target {
			if reachable[net] {
				nets = append(nets, net)
			}
		}
	}
	if len(nets) == 0 {
		return nil
	}

	port := r.portFor(arrivalNet)
	if port == nil {
		return nil
	}
	msg := npdu.MessageIAmRouterToNetwork
	payload := npdu.EncodeNetworkList(nets)
	data := npdu.Encode(nil, nil, 0, false, npdu.ControlPriorityNormal, &msg, 0, payload)
	return port.Send(wireSrc, data)
}

func (r *Router) handleIAmRouter(arrivalNet uint16, wireSrc []byte, n *npdu.NPDU) {
	nets := npdu.DecodeNetworkList(n.Payload)
	for _, net := range nets {
		r.learnRoute(net, Route{Port: arrivalNet, NextHop: wireSrc})
		r.flushPending(net)
	}
}

func (r *Router) handleRejectMessage(n *npdu.NPDU) {
	if len(n.Payload) < 3 {
		return
	}
	reason := npdu.RejectReason(n.Payload[0])
	net := uint16(n.Payload[1])<<8 | uint16(n.Payload[2])
	r.log.Warn("reject-message-to-network received", "reason", reason, "network", net)
	r.mu.Lock()
	delete(r.pending, net)
	r.mu.Unlock()
}

func (r *Router) flushPending(net uint16) {
	route, ok := r.cache.Get(net)
	if !ok {
		return
	}
	port := r.portFor(route.Port)
	if port == nil {
		return
	}

	r.mu.Lock()
	queued, ok := r.pending[net]
	delete(r.pending, net)
	r.mu.Unlock()
	if !ok {
		return
	}

	if err := port.Send(route.NextHop, queued.data); err != nil {
		r.log.Warn("failed to flush queued npdu", "network", net, "error", err)
	}
}
