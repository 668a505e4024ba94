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

package bacnet

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/bacstack/bacstack/internal/apdu"
	"github.com/bacstack/bacstack/internal/bip6"
	"github.com/bacstack/bacstack/internal/bvll"
	"github.com/bacstack/bacstack/internal/cov"
	"github.com/bacstack/bacstack/internal/events"
	"github.com/bacstack/bacstack/internal/npdu"
	"github.com/bacstack/bacstack/internal/objectdb"
	"github.com/bacstack/bacstack/internal/persist"
	"github.com/bacstack/bacstack/internal/router"
	"github.com/bacstack/bacstack/internal/service"
	"github.com/bacstack/bacstack/internal/statussrv"
	"github.com/bacstack/bacstack/internal/transport"
	"github.com/bacstack/bacstack/internal/tsm"
	"github.com/bacstack/bacstack/internal/ttlcache"
	"github.com/bacstack/bacstack/tagcodec"
)

// BBMDConfig controls one IPv4 port's Annex J.4/J.5 behavior. Every
// IPv4 port runs a BBMD: the BDT and AcceptForeignDeviceRegistrations
// decide whether broadcast distribution and foreign-device registration
// do anything, since the same datagram dispatch (Original-Unicast/
// Broadcast, Forwarded-NPDU) has to run on every port either way.
// SweepInterval sets how often the foreign device table is swept; zero
// means once a second.
type BBMDConfig struct {
	Self                             string
	NATGlobalAddress                 string
	AllowWriteBDT                    bool
	AcceptForeignDeviceRegistrations bool
	MaxForeignDevices                int
	SweepInterval                    time.Duration
	BDT                              []string

	// BDTStorePath, if set, persists the broadcast distribution table
	// to a local JSON file across restarts and is watched for external
	// edits. Takes precedence over BDTStoreS3Bucket if both are set.
	BDTStorePath string
	// BDTStoreS3Bucket/BDTStoreS3Key, if set, persist the broadcast
	// distribution table to an S3-compatible object instead of a local
	// file, for BBMDs without a shared filesystem.
	BDTStoreS3Bucket string
	BDTStoreS3Key    string
}

// IPv4PortConfig describes one BACnet/IP (Annex J) UDP port.
type IPv4PortConfig struct {
	Network       uint16
	BindAddr      string
	BroadcastAddr string
	BBMD          BBMDConfig
}

// IPv6PortConfig describes one BACnet/IPv6 (Annex U) port.
type IPv6PortConfig struct {
	Network        uint16
	VMAC           [3]byte
	Interface      string
	MulticastGroup string
	Port           int
}

// DeviceConfig is the static shape of one device node: its identity,
// the ports it owns, and the timers governing its transaction state
// machines. cmd/bacstack's serve subcommand loads this from YAML/env.
type DeviceConfig struct {
	DeviceID   uint32
	VendorID   uint32
	ObjectName string
	AppNetwork uint16

	IPv4 []IPv4PortConfig
	IPv6 []IPv6PortConfig

	MaxAPDU            int
	Segmentation       Segmentation
	APDUTimeout        time.Duration
	Retries            int
	ProposedWindowSize uint8

	ScanInterval     time.Duration
	TSMSweepInterval time.Duration
	COVSweepInterval time.Duration

	StatusAddr string
}

// defaultDeviceConfig fills in the timers a hand-written YAML file is
// unlikely to specify.
func defaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		VendorID:           260,
		MaxAPDU:            MaxAPDULength,
		Segmentation:       SegmentationBoth,
		APDUTimeout:        3 * time.Second,
		Retries:            3,
		ProposedWindowSize: 4,
		ScanInterval:       time.Second,
		TSMSweepInterval:   10 * time.Second,
		COVSweepInterval:   time.Second,
	}
}

type deviceOptions struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
}

// DeviceOption configures the pieces of a Device that don't belong in
// the YAML-serializable DeviceConfig: the logger and the Prometheus
// registerer. Discovery settings are passed separately, as
// DiscoverOption values.
type DeviceOption func(*deviceOptions)

// WithDeviceLogger sets the structured logger a Device and its
// subsystems log through.
func WithDeviceLogger(l *slog.Logger) DeviceOption {
	return func(o *deviceOptions) { o.logger = l }
}

// WithDeviceRegisterer sets the Prometheus registerer a Device
// registers its Metrics against. Pass prometheus.NewRegistry() (the
// default) to keep metrics isolated when a process hosts more than
// one Device.
func WithDeviceRegisterer(r prometheus.Registerer) DeviceOption {
	return func(o *deviceOptions) { o.registerer = r }
}

// Device is a single BACnet/IP node: one object database, one server
// and client transaction state machine pair, a router fanning out
// across however many IPv4/IPv6 ports it owns, a COV subscription
// manager and an intrinsic-event scan engine. It implements
// tsm.Sender, router.Deliverer and the service handler the server TSM
// dispatches confirmed requests through.
type Device struct {
	cfg DeviceConfig
	log *slog.Logger
	met *Metrics

	db      *objectdb.Database
	router  *router.Router
	client  *tsm.Client
	server  *tsm.Server
	covMgr  *cov.Manager
	engine  *events.Engine
	status  *statussrv.Server

	routeCache *ttlcache.Cache[uint16, router.Route]
	peerCache  *ttlcache.Cache[string, tsm.PeerCapability]

	discMu     sync.Mutex
	discovered map[string]DeviceInfo

	covEvents chan CovEvent

	ipv4Ports   []*transport.Port
	ipv4BBMDs   []*bvll.BBMD
	bdtWatchers []*persist.Watcher
	ipv6Ports   []*bip6.Port
}

// NewDevice builds a Device from cfg. The returned Device owns sockets
// for every configured port but has not started reading from them;
// call Run to bring it up.
func NewDevice(cfg DeviceConfig, opts ...DeviceOption) (*Device, error) {
	defaults := defaultDeviceConfig()
	if cfg.MaxAPDU == 0 {
		cfg.MaxAPDU = defaults.MaxAPDU
	}
	if cfg.APDUTimeout == 0 {
		cfg.APDUTimeout = defaults.APDUTimeout
	}
	if cfg.Retries == 0 {
		cfg.Retries = defaults.Retries
	}
	if cfg.ProposedWindowSize == 0 {
		cfg.ProposedWindowSize = defaults.ProposedWindowSize
	}
	if cfg.ScanInterval == 0 {
		cfg.ScanInterval = defaults.ScanInterval
	}
	if cfg.TSMSweepInterval == 0 {
		cfg.TSMSweepInterval = defaults.TSMSweepInterval
	}
	if cfg.COVSweepInterval == 0 {
		cfg.COVSweepInterval = defaults.COVSweepInterval
	}
	if cfg.VendorID == 0 {
		cfg.VendorID = defaults.VendorID
	}
	if len(cfg.IPv4) == 0 && len(cfg.IPv6) == 0 {
		return nil, fmt.Errorf("bacnet: device requires at least one ip or ipv6 port")
	}

	do := &deviceOptions{logger: slog.Default(), registerer: prometheus.NewRegistry()}
	for _, opt := range opts {
		opt(do)
	}

	d := &Device{
		cfg:        cfg,
		log:        do.logger,
		met:        NewMetrics(do.registerer),
		discovered: make(map[string]DeviceInfo),
		covEvents:  make(chan CovEvent, 32),
	}

	devID := NewObjectIdentifier(ObjectTypeDevice, cfg.DeviceID)
	d.db = objectdb.New(devID)
	devObj := objectdb.NewObject(devID)
	devObj.Set(PropertyObjectIdentifier, objectdb.ObjectID(devID))
	devObj.Set(PropertyObjectName, objectdb.Str(cfg.ObjectName))
	devObj.Set(PropertyVendorIdentifier, objectdb.Unsigned(cfg.VendorID))
	devObj.Set(PropertyMaxApduLengthAccepted, objectdb.Unsigned(uint32(cfg.MaxAPDU)))
	devObj.Set(PropertySegmentationSupported, objectdb.Enumerated(uint32(cfg.Segmentation)))
	devObj.Set(PropertyProtocolVersion, objectdb.Unsigned(1))
	devObj.Set(PropertySystemStatus, objectdb.Enumerated(0))
	devObj.Set(PropertyDatabaseRevision, objectdb.Unsigned(0))
	if err := d.db.Add(devObj); err != nil {
		return nil, fmt.Errorf("bacnet: seed device object: %w", err)
	}

	var err error
	d.routeCache, err = ttlcache.New[uint16, router.Route](4096, 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("bacnet: route cache: %w", err)
	}
	d.peerCache, err = ttlcache.New[string, tsm.PeerCapability](4096, 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("bacnet: peer cache: %w", err)
	}

	d.router = router.New(cfg.AppNetwork, d.routeCache, d.deliverFromRouter, d.log, cfg.APDUTimeout)
	d.client = tsm.NewClient(d, d.peerCache, cfg.APDUTimeout, cfg.Retries)
	d.server = tsm.NewServer(d, d.handleService, cfg.APDUTimeout, cfg.MaxAPDU)
	d.covMgr = cov.New(d.db, &covDispatcher{d})
	d.engine = events.New(d.db, devID, &eventDispatcher{d}, d.log, cfg.ScanInterval)

	if err := d.setupIPv4Ports(); err != nil {
		return nil, err
	}
	if err := d.setupIPv6Ports(); err != nil {
		return nil, err
	}

	if cfg.StatusAddr != "" {
		d.status = statussrv.New(cfg.StatusAddr, func() (bool, string) {
			return true, fmt.Sprintf("uptime=%s", d.met.Uptime())
		})
	}

	return d, nil
}

func (d *Device) setupIPv4Ports() error {
	for _, pc := range d.cfg.IPv4 {
		port, err := transport.NewPort(pc.Network, pc.BindAddr, pc.BroadcastAddr, d.log)
		if err != nil {
			return fmt.Errorf("bacnet: ipv4 port on network %d: %w", pc.Network, err)
		}

		bbmdCfg := bvll.Config{
			AllowWriteBDT:                    pc.BBMD.AllowWriteBDT,
			AcceptForeignDeviceRegistrations: pc.BBMD.AcceptForeignDeviceRegistrations,
			MaxForeignDevices:                pc.BBMD.MaxForeignDevices,
			SweepInterval:                    pc.BBMD.SweepInterval,
		}
		if pc.BBMD.Self != "" {
			self, err := net.ResolveUDPAddr("udp4", pc.BBMD.Self)
			if err != nil {
				return fmt.Errorf("bacnet: bbmd self address on network %d: %w", pc.Network, err)
			}
			bbmdCfg.Self = *self
		}
		if pc.BBMD.NATGlobalAddress != "" {
			nat, err := net.ResolveUDPAddr("udp4", pc.BBMD.NATGlobalAddress)
			if err != nil {
				return fmt.Errorf("bacnet: bbmd nat address on network %d: %w", pc.Network, err)
			}
			bbmdCfg.NATGlobalAddress = nat
		}

		var bdt []bvll.BDTEntry
		for _, raw := range pc.BBMD.BDT {
			addr, err := net.ResolveUDPAddr("udp4", raw)
			if err != nil {
				return fmt.Errorf("bacnet: bdt entry %q on network %d: %w", raw, pc.Network, err)
			}
			bdt = append(bdt, bvll.BDTEntry{Address: addr.IP, Port: uint16(addr.Port), Mask: net.CIDRMask(32, 32)})
		}

		switch {
		case pc.BBMD.BDTStorePath != "":
			bbmdCfg.Backup = &persist.FileStore{Path: pc.BBMD.BDTStorePath}
		case pc.BBMD.BDTStoreS3Bucket != "":
			awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
			if err != nil {
				return fmt.Errorf("bacnet: bdt s3 backup on network %d: %w", pc.Network, err)
			}
			bbmdCfg.Backup = &persist.S3Store{
				Client: s3.NewFromConfig(awsCfg),
				Bucket: pc.BBMD.BDTStoreS3Bucket,
				Key:    pc.BBMD.BDTStoreS3Key,
			}
		}

		network := pc.Network
		deliv := &bbmdDeliverer{device: d, network: network}
		bbmd := bvll.New(bbmdCfg, port, deliv, d.log, bdt)

		if pc.BBMD.BDTStorePath != "" {
			watcher, err := persist.NewWatcher(pc.BBMD.BDTStorePath, func() {
				store := persist.FileStore{Path: pc.BBMD.BDTStorePath}
				entries, err := store.Load()
				if err != nil {
					d.log.Warn("bdt backup reload failed", "network", network, "error", err)
					return
				}
				bbmd.SetBDT(entries)
				d.log.Info("bdt reloaded from backup", "network", network, "entries", len(entries))
			})
			if err != nil {
				d.log.Warn("bdt backup watch unavailable", "network", network, "error", err)
			} else {
				d.bdtWatchers = append(d.bdtWatchers, watcher)
			}
		}

		d.router.AddPort(&ipv4RouterPort{port: port, network: network})
		port.SetReceiver(func(from *net.UDPAddr, data []byte) {
			bbmd.HandleDatagram(from, data)
		})

		d.ipv4Ports = append(d.ipv4Ports, port)
		d.ipv4BBMDs = append(d.ipv4BBMDs, bbmd)
	}
	return nil
}

func (d *Device) setupIPv6Ports() error {
	for _, pc := range d.cfg.IPv6 {
		var iface *net.Interface
		if pc.Interface != "" {
			found, err := net.InterfaceByName(pc.Interface)
			if err != nil {
				return fmt.Errorf("bacnet: ipv6 interface %q: %w", pc.Interface, err)
			}
			iface = found
		}
		port, err := bip6.NewPort(bip6.VMAC(pc.VMAC), iface, pc.MulticastGroup, pc.Port, d.log)
		if err != nil {
			return fmt.Errorf("bacnet: ipv6 port on network %d: %w", pc.Network, err)
		}

		network := pc.Network
		port.SetDeliverer(func(from bip6.VMAC, addr *net.UDPAddr, npduBytes []byte) {
			if err := d.router.HandleInbound(network, from[:], npduBytes); err != nil {
				d.log.Debug("ipv6 inbound rejected", "network", network, "from", from, "error", err)
			}
		})

		d.router.AddPort(&ipv6RouterPort{port: port, network: network})
		d.ipv6Ports = append(d.ipv6Ports, port)
	}
	return nil
}

// ipv4RouterPort adapts a transport.Port into router.Port, applying
// Annex J BVLL framing around every outbound NPDU. Inbound datagrams
// never reach this adapter: they go through the port's BBMD first.
type ipv4RouterPort struct {
	port    *transport.Port
	network uint16
}

func (p *ipv4RouterPort) Network() uint16 { return p.network }

func (p *ipv4RouterPort) Send(mac, data []byte) error {
	addr, err := transport.MACToUDPAddr(mac)
	if err != nil {
		return err
	}
	return p.port.SendTo(addr, bvll.EncodeOriginalUnicastNPDU(data))
}

func (p *ipv4RouterPort) Broadcast(data []byte) error {
	return p.port.Broadcast(bvll.EncodeOriginalBroadcastNPDU(data))
}

// bbmdDeliverer hands a BVLL-unwrapped NPDU up to the router once a
// port's BBMD has finished its Annex J dispatch.
type bbmdDeliverer struct {
	device  *Device
	network uint16
}

func (b *bbmdDeliverer) DeliverNPDU(source *net.UDPAddr, broadcast bool, npduBytes []byte) {
	mac := transport.UDPAddrToMAC(source)
	if err := b.device.router.HandleInbound(b.network, mac, npduBytes); err != nil {
		b.device.log.Debug("ipv4 inbound rejected", "network", b.network, "source", source, "error", err)
	}
}

// ipv6RouterPort adapts a bip6.Port into router.Port. The MAC address
// at this layer is the peer's 3-byte VMAC.
type ipv6RouterPort struct {
	port    *bip6.Port
	network uint16
}

func (p *ipv6RouterPort) Network() uint16 { return p.network }

func (p *ipv6RouterPort) Send(mac, data []byte) error {
	if len(mac) != 3 {
		return fmt.Errorf("bacnet: ipv6 mac must be 3 bytes, got %d", len(mac))
	}
	var vmac bip6.VMAC
	copy(vmac[:], mac)
	return p.port.SendUnicast(vmac, data)
}

func (p *ipv6RouterPort) Broadcast(data []byte) error {
	return p.port.Broadcast(data)
}

// SendAPDU satisfies tsm.Sender, routing an outbound APDU through the
// network layer toward dest.
func (d *Device) SendAPDU(dest Address, payload []byte, expectingReply bool) error {
	err := d.router.Route(dest, expectingReply, npdu.ControlPriorityNormal, payload)
	if err == nil {
		d.met.BytesSent.Add(float64(len(payload)))
	}
	return err
}

// deliverFromRouter satisfies router.Deliverer, dispatching an inbound
// NPDU's application-layer payload by APDU type.
func (d *Device) deliverFromRouter(src Address, n *npdu.NPDU) {
	d.met.BytesReceived.Add(float64(len(n.Payload)))
	pdu, err := apdu.Decode(n.Payload)
	if err != nil {
		d.log.Debug("dropping malformed apdu", "source", src, "error", err)
		return
	}

	switch pdu.Type {
	case apdu.TypeConfirmedRequest:
		d.server.HandleRequest(src, pdu)
	case apdu.TypeUnconfirmedRequest:
		d.handleUnconfirmed(src, pdu)
	case apdu.TypeSimpleAck, apdu.TypeComplexAck:
		d.met.ResponsesReceived.Inc()
		d.client.HandleResponse(src, pdu)
	case apdu.TypeError:
		d.met.ErrorsReceived.Inc()
		d.client.HandleResponse(src, pdu)
	case apdu.TypeReject:
		d.met.RejectsReceived.Inc()
		d.client.HandleResponse(src, pdu)
	case apdu.TypeSegmentAck, apdu.TypeAbort:
		if pdu.Type == apdu.TypeAbort {
			d.met.AbortsReceived.Inc()
		}
		if pdu.FromServer {
			d.client.HandleResponse(src, pdu)
		} else {
			d.server.HandleSegmentAck(src, pdu)
		}
	}
}

func (d *Device) handleUnconfirmed(src Address, pdu *apdu.PDU) {
	switch UnconfirmedServiceChoice(pdu.Service) {
	case ServiceWhoIs:
		w, err := service.DecodeWhoIs(pdu.Data)
		if err != nil {
			return
		}
		d.replyIAm(w)
	case ServiceIAm:
		a, err := service.DecodeIAm(pdu.Data)
		if err != nil {
			return
		}
		d.met.IAmReceived.Inc()
		addr := Address{Net: src.Net, Addr: src.Addr}
		d.client.CachePeer(addr, tsm.PeerCapability{
			MaxAPDU:               int(a.MaxAPDU),
			SegmentationSupported: a.Segmentation,
		})
		d.recordDiscovery(addr, a)
	case ServiceUnconfirmedCOVNotification:
		if n, err := service.DecodeCOVNotification(pdu.Data); err == nil {
			d.log.Debug("unconfirmed cov notification", "object", n.MonitoredObject, "source", src)
			d.dispatchCOVEvent(src, n)
		}
	case ServiceUnconfirmedEventNotification:
		if n, err := service.DecodeEventNotification(pdu.Data); err == nil {
			d.log.Info("unconfirmed event notification", "object", n.EventObject, "to", EventState(n.ToState), "source", src)
		}
	case ServiceWhoHas:
		d.log.Debug("who-has received, object resolution not implemented", "source", src)
	case ServiceIHave:
		d.log.Debug("i-have received", "source", src)
	case ServiceUnconfirmedPrivateTransfer:
		d.log.Debug("unconfirmed private transfer received, ignored", "source", src)
	case ServiceUnconfirmedTextMessage:
		d.log.Debug("unconfirmed text message received, ignored", "source", src)
	case ServiceTimeSynchronization, ServiceUTCTimeSynchronization:
		d.log.Debug("time synchronization received, local clock not adjusted", "source", src)
	case ServiceWriteGroup:
		d.log.Debug("write-group received, channel objects not implemented", "source", src)
	case ServiceWhoAmI:
		d.log.Debug("who-am-i received, device identification not implemented", "source", src)
	case ServiceYouAre:
		d.log.Debug("you-are received", "source", src)
	}
}

// replyIAm announces this device in answer to a Who-Is that carries no
// range or whose Low/High range covers this device's instance.
func (d *Device) replyIAm(w service.WhoIs) {
	if w.HasRange && (d.cfg.DeviceID < w.Low || d.cfg.DeviceID > w.High) {
		return
	}
	a := service.IAm{
		DeviceID:     NewObjectIdentifier(ObjectTypeDevice, d.cfg.DeviceID),
		MaxAPDU:      uint32(d.cfg.MaxAPDU),
		Segmentation: d.cfg.Segmentation,
		VendorID:     d.cfg.VendorID,
	}
	body := apdu.EncodeUnconfirmedRequest(uint8(ServiceIAm), service.EncodeIAm(a))
	if err := d.router.Route(Address{}, false, npdu.ControlPriorityNormal, body); err != nil {
		d.log.Debug("broadcasting i-am failed", "error", err)
	}
}

// recordDiscovery remembers a responding device by address so scan
// tooling can enumerate everything seen since startup without waiting
// on a single synchronous WhoIs/I-Am exchange.
func (d *Device) recordDiscovery(addr Address, a service.IAm) {
	d.discMu.Lock()
	defer d.discMu.Unlock()
	d.discovered[addr.String()] = DeviceInfo{
		ObjectID:      a.DeviceID,
		Address:       addr,
		MaxAPDULength: uint16(a.MaxAPDU),
		Segmentation:  a.Segmentation,
		VendorID:      uint16(a.VendorID),
	}
}

// Discovered returns a snapshot of every device seen via I-Am since
// this Device started, in no particular order.
func (d *Device) Discovered() []DeviceInfo {
	d.discMu.Lock()
	defer d.discMu.Unlock()
	out := make([]DeviceInfo, 0, len(d.discovered))
	for _, info := range d.discovered {
		out = append(out, info)
	}
	return out
}

// CovEvent is a COV notification this Device received while acting as
// a subscriber, confirmed or unconfirmed.
type CovEvent struct {
	Source       Address
	Notification service.COVNotification
}

// dispatchCOVEvent hands an inbound notification to whoever is
// draining COVEvents. The channel is bounded so a stalled consumer
// drops notifications rather than blocking the receive loop.
func (d *Device) dispatchCOVEvent(source Address, n service.COVNotification) {
	select {
	case d.covEvents <- CovEvent{Source: source, Notification: n}:
	default:
		d.log.Warn("cov event dropped, consumer too slow", "object", n.MonitoredObject)
	}
}

// COVEvents returns the channel notifications arrive on when this
// Device is subscribed (via SubscribeRemote) to another device's
// objects.
func (d *Device) COVEvents() <-chan CovEvent { return d.covEvents }

// handleService is the tsm.ServiceHandler dispatching confirmed
// requests by service choice.
func (d *Device) handleService(source Address, serviceChoice uint8, data []byte) ([]byte, error) {
	switch ConfirmedServiceChoice(serviceChoice) {
	case ServiceReadProperty:
		return d.handleReadProperty(data)
	case ServiceWriteProperty:
		return d.handleWriteProperty(data)
	case ServiceReadPropertyMultiple:
		return d.handleReadPropertyMultiple(data)
	case ServiceWritePropertyMultiple:
		return d.handleWritePropertyMultiple(data)
	case ServiceReadRange:
		return d.handleReadRange(data)
	case ServiceSubscribeCOV:
		return d.handleSubscribeCOV(source, data)
	case ServiceConfirmedCOVNotification:
		return d.handleConfirmedCOVNotification(source, data)
	case ServiceConfirmedEventNotification:
		return d.handleConfirmedEventNotification(data)
	case ServiceDeviceCommunicationControl:
		return d.handleDCC(data)
	case ServiceAddListElement, ServiceRemoveListElement, ServiceReinitializeDevice,
		ServiceAcknowledgeAlarm, ServiceGetAlarmSummary, ServiceGetEventInformation,
		ServiceGetEnrollmentSummary, ServiceCreateObject, ServiceDeleteObject,
		ServiceConfirmedPrivateTransfer, ServiceConfirmedTextMessage,
		ServiceAtomicReadFile, ServiceAtomicWriteFile:
		// Recognized services without object-model support behind them
		// yet; answer with a proper Error-PDU rather than rejecting the
		// request as unrecognized.
		return nil, NewBACnetError(ErrorClassServices, ErrorCodeServiceRequestDenied)
	default:
		return nil, &RejectError{Reason: RejectReasonUnrecognizedService}
	}
}

// handleConfirmedCOVNotification receives a confirmed COV notification
// from a device this Device subscribed to; the SimpleACK clause 13.1.2
// requires is just the nil reply tsm.Server sends for a nil body.
func (d *Device) handleConfirmedCOVNotification(source Address, data []byte) ([]byte, error) {
	n, err := service.DecodeCOVNotification(data)
	if err != nil {
		return nil, &RejectError{Reason: RejectReasonInvalidTag}
	}
	d.dispatchCOVEvent(source, n)
	return nil, nil
}

func (d *Device) handleReadProperty(data []byte) ([]byte, error) {
	req, err := service.DecodeReadPropertyRequest(data)
	if err != nil {
		return nil, &RejectError{Reason: RejectReasonInvalidTag}
	}
	v, err := d.db.ReadProperty(req.Object, req.Property, req.ArrayIndex)
	if err != nil {
		return nil, translateObjectdbError(err)
	}
	ack := service.ReadPropertyAck{Object: req.Object, Property: req.Property, ArrayIndex: req.ArrayIndex, Value: v}
	return service.EncodeReadPropertyAck(ack), nil
}

func (d *Device) handleWriteProperty(data []byte) ([]byte, error) {
	req, err := service.DecodeWritePropertyRequest(data)
	if err != nil {
		return nil, &RejectError{Reason: RejectReasonInvalidTag}
	}
	priority := 0
	if req.HasPrio {
		priority = req.Priority
	}
	if err := d.db.WriteProperty(req.Object, req.Property, req.Value, priority); err != nil {
		return nil, translateObjectdbError(err)
	}
	return nil, nil
}

func (d *Device) handleSubscribeCOV(source Address, data []byte) ([]byte, error) {
	req, err := service.DecodeSubscribeCOVRequest(data)
	if err != nil {
		return nil, &RejectError{Reason: RejectReasonInvalidTag}
	}
	key := cov.Key{Subscriber: source.String(), ProcessID: req.ProcessID, Object: req.Object}
	if req.Cancel {
		d.covMgr.Cancel(key)
		count := float64(d.covMgr.Count())
		d.met.COVSubscriptions.Set(count)
		d.met.ActiveSubscriptions.Set(count)
		return nil, nil
	}
	lifetime := time.Duration(0)
	if req.HasLifetime {
		lifetime = time.Duration(req.Lifetime) * time.Second
	}
	if err := d.covMgr.Subscribe(key, source, req.Confirmed, lifetime, PropertyPresentValue, false); err != nil {
		return nil, translateObjectdbError(err)
	}
	count := float64(d.covMgr.Count())
	d.met.COVSubscriptions.Set(count)
	d.met.ActiveSubscriptions.Set(count)
	return nil, nil
}

func (d *Device) handleDCC(data []byte) ([]byte, error) {
	h, err := decodeDCCRequest(data)
	if err != nil {
		return nil, &RejectError{Reason: RejectReasonInvalidTag}
	}
	d.server.SetDCC(h.state, h.duration)
	return nil, nil
}

// dccRequest is the decoded body of a DeviceCommunicationControl
// request, clause 16.1: an optional time-duration in minutes, a
// required enable/disable enumeration, and an optional password this
// device does not currently enforce.
type dccRequest struct {
	duration time.Duration
	state    tsm.CommunicationControlState
}

func decodeDCCRequest(data []byte) (dccRequest, error) {
	var req dccRequest
	rest := data

	if h, err := tagcodec.DecodeTagHeader(rest); err == nil && h.Class == tagcodec.ClassContext && h.Number == 0 && h.Length >= 0 {
		total := h.HeaderLen + h.Length
		if total > len(rest) {
			return dccRequest{}, fmt.Errorf("bacnet: dcc: truncated duration")
		}
		minutes := tagcodec.DecodeUnsigned(rest[h.HeaderLen:total])
		req.duration = time.Duration(minutes) * time.Minute
		rest = rest[total:]
	}

	h, err := tagcodec.DecodeTagHeader(rest)
	if err != nil || h.Class != tagcodec.ClassContext || h.Number != 1 || h.Length < 0 {
		return dccRequest{}, fmt.Errorf("bacnet: dcc: missing enable/disable state")
	}
	total := h.HeaderLen + h.Length
	if total > len(rest) {
		return dccRequest{}, fmt.Errorf("bacnet: dcc: truncated state")
	}
	req.state = tsm.CommunicationControlState(tagcodec.DecodeUnsigned(rest[h.HeaderLen:total]))
	return req, nil
}

// handleConfirmedEventNotification receives a confirmed event
// notification from a device this Device monitors alarms on; the
// SimpleACK clause 13.1.2 requires is the nil reply for a nil body.
func (d *Device) handleConfirmedEventNotification(data []byte) ([]byte, error) {
	n, err := service.DecodeEventNotification(data)
	if err != nil {
		return nil, &RejectError{Reason: RejectReasonInvalidTag}
	}
	d.log.Info("confirmed event notification", "object", n.EventObject, "to", EventState(n.ToState))
	return nil, nil
}

func (d *Device) handleReadPropertyMultiple(data []byte) ([]byte, error) {
	req, err := service.DecodeReadPropertyMultipleRequest(data)
	if err != nil {
		return nil, &RejectError{Reason: RejectReasonInvalidTag}
	}
	props := make([]PropertyIdentifier, len(req.Properties))
	for i, p := range req.Properties {
		props[i] = p.Property
	}
	results := d.db.ReadPropertyMultiple(req.Object, props)

	ack := service.ReadPropertyMultipleAck{Object: req.Object}
	for _, r := range results {
		out := service.ReadPropertyMultipleResult{Property: r.Property, ArrayIndex: r.ArrayIndex}
		if r.Err != nil {
			out.HasError = true
			if berr, ok := r.Err.(*BACnetError); ok {
				out.ErrorClass, out.ErrorCode = berr.Class, berr.Code
			} else {
				out.ErrorClass, out.ErrorCode = ErrorClassProperty, ErrorCodeOther
			}
		} else {
			out.Value = r.Value
		}
		ack.Results = append(ack.Results, out)
	}
	return service.EncodeReadPropertyMultipleAck(ack), nil
}

func (d *Device) handleWritePropertyMultiple(data []byte) ([]byte, error) {
	req, err := service.DecodeWritePropertyMultipleRequest(data)
	if err != nil {
		return nil, &RejectError{Reason: RejectReasonInvalidTag}
	}
	writes := make([]objectdb.WriteAccessSpecification, len(req.Writes))
	for i, w := range req.Writes {
		priority := 0
		if w.HasPrio {
			priority = w.Priority
		}
		writes[i] = objectdb.WriteAccessSpecification{Property: w.Property, Value: w.Value, Priority: priority}
	}
	if _, err := d.db.WritePropertyMultiple(req.Object, writes); err != nil {
		return nil, translateObjectdbError(err)
	}
	return nil, nil
}

func (d *Device) handleReadRange(data []byte) ([]byte, error) {
	req, err := service.DecodeReadRangeRequest(data)
	if err != nil {
		return nil, &RejectError{Reason: RejectReasonInvalidTag}
	}
	rangeReq := objectdb.RangeRequest{Selector: req.Selector, ReferenceIndex: req.ReferenceIndex, Count: req.Count}
	if !req.HasRange {
		// No Range parameter means "every element"; modeled as starting
		// from the last element and reaching as far back as exists.
		rangeReq.ReferenceIndex = 0
		rangeReq.Count = -(1 << 30)
	}
	result, err := d.db.ReadRange(req.Object, req.Property, rangeReq)
	if err != nil {
		return nil, translateObjectdbError(err)
	}
	ack := service.ReadRangeAck{
		Object:      req.Object,
		Property:    req.Property,
		ArrayIndex:  req.ArrayIndex,
		ResultFlags: result.ResultFlags,
		ItemCount:   result.ItemCount,
		Items:       result.Items,
	}
	return service.EncodeReadRangeAck(ack), nil
}

// timeOfDay reduces a wall-clock time.Time to the BACnet Time wire
// representation, discarding the date component: EventNotification's
// reduced TimeOfDay field carries only hour/minute/second/hundredths.
func timeOfDay(t time.Time) tagcodec.Time {
	return tagcodec.Time{
		Hour:       t.Hour(),
		Minute:     t.Minute(),
		Second:     t.Second(),
		Hundredths: t.Nanosecond() / 10000000,
	}
}

func translateObjectdbError(err error) error {
	if IsDeviceNotFound(err) || IsPropertyNotFound(err) {
		return NewBACnetError(ErrorClassObject, ErrorCodeUnknownObject)
	}
	if IsAccessDenied(err) {
		return NewBACnetError(ErrorClassProperty, ErrorCodeWriteAccessDenied)
	}
	return NewBACnetError(ErrorClassProperty, ErrorCodeOther)
}

// covDispatcher adapts Device into cov.Dispatcher, sending confirmed
// notifications through the client TSM and unconfirmed ones as a
// routed broadcast, mirroring the confirmed/unconfirmed split of
// clause 13.14.
type covDispatcher struct{ device *Device }

func (c *covDispatcher) Dispatch(n cov.Notification) {
	values := make([]service.PropertyValue, len(n.Values))
	for i, v := range n.Values {
		values[i] = service.PropertyValue{Property: v.Property, ArrayIndex: v.ArrayIndex, Value: v.Value}
	}
	body := service.EncodeCOVNotification(service.COVNotification{
		ProcessID:        n.Subscription.Key.ProcessID,
		InitiatingDevice: NewObjectIdentifier(ObjectTypeDevice, c.device.cfg.DeviceID),
		MonitoredObject:  n.Subscription.Key.Object,
		TimeRemaining:    uint32(n.TimeRemaining.Seconds()),
		Values:           values,
	})
	c.device.met.COVNotifications.Inc()

	if !n.Subscription.Confirmed {
		apduBody := apdu.EncodeUnconfirmedRequest(uint8(ServiceUnconfirmedCOVNotification), body)
		if err := c.device.router.Route(n.Subscription.Address, false, npdu.ControlPriorityNormal, apduBody); err != nil {
			c.device.log.Debug("unconfirmed cov dispatch failed", "error", err)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.device.cfg.APDUTimeout*time.Duration(c.device.cfg.Retries+1))
	defer cancel()
	c.device.met.ActiveRequests.Inc()
	defer c.device.met.ActiveRequests.Dec()
	if _, err := c.device.client.Call(ctx, n.Subscription.Address, uint8(ServiceConfirmedCOVNotification), body, c.device.cfg.MaxAPDU); err != nil {
		c.device.log.Debug("confirmed cov dispatch failed", "error", err, "subscriber", n.Subscription.Address)
	}
}

// eventDispatcher adapts Device into events.Dispatcher.
type eventDispatcher struct{ device *Device }

func (e *eventDispatcher) Dispatch(n events.Notification) {
	tod := timeOfDay(n.Timestamp)
	body := service.EncodeEventNotification(service.EventNotification{
		ProcessID:         n.ProcessID,
		InitiatingDevice:  n.InitiatingDevice,
		EventObject:       n.EventObject,
		TimeOfDay:         tod,
		NotificationClass: n.NotificationClass,
		Priority:          n.Priority,
		EventType:         n.EventType,
		NotifyType:        n.NotifyType,
		AckRequired:       n.AckRequired,
		FromState:         uint32(n.FromState),
		ToState:           uint32(n.ToState),
	})

	for _, recipient := range n.Recipients {
		if !n.AckRequired {
			apduBody := apdu.EncodeUnconfirmedRequest(uint8(ServiceUnconfirmedEventNotification), body)
			if err := e.device.router.Route(recipient, false, npdu.ControlPriorityNormal, apduBody); err != nil {
				e.device.log.Debug("unconfirmed event dispatch failed", "error", err, "recipient", recipient)
			}
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), e.device.cfg.APDUTimeout*time.Duration(e.device.cfg.Retries+1))
		e.device.met.ActiveRequests.Inc()
		_, err := e.device.client.Call(ctx, recipient, uint8(ServiceConfirmedEventNotification), body, e.device.cfg.MaxAPDU)
		e.device.met.ActiveRequests.Dec()
		cancel()
		if err != nil {
			e.device.log.Debug("confirmed event dispatch failed", "error", err, "recipient", recipient)
		}
	}
}

// Database exposes the device's object database for the CLI and test
// helpers to seed and inspect objects directly.
func (d *Device) Database() *objectdb.Database { return d.db }

// Events exposes the intrinsic-event scan engine so callers can track
// and untrack objects.
func (d *Device) Events() *events.Engine { return d.engine }

// Metrics exposes the Prometheus collector set.
func (d *Device) Metrics() *Metrics { return d.met }

// ReadRemote issues a confirmed ReadProperty against dest and decodes
// the reply.
func (d *Device) ReadRemote(ctx context.Context, dest Address, object ObjectIdentifier, property PropertyIdentifier, arrayIndex int) (objectdb.Value, error) {
	req := service.EncodeReadPropertyRequest(service.ReadPropertyRequest{Object: object, Property: property, ArrayIndex: arrayIndex})
	d.met.RequestsSent.Inc()
	d.met.ActiveRequests.Inc()
	defer d.met.ActiveRequests.Dec()
	start := time.Now()
	pdu, err := d.client.Call(ctx, dest, uint8(ServiceReadProperty), req, d.cfg.MaxAPDU)
	if err != nil {
		d.met.RequestsFailed.Inc()
		if IsTimeout(err) {
			d.met.RequestsTimedOut.Inc()
		}
		return objectdb.Value{}, err
	}
	d.met.RecordLatency(time.Since(start))
	d.met.RequestsSucceeded.Inc()
	ack, err := service.DecodeReadPropertyAck(pdu.Data)
	if err != nil {
		return objectdb.Value{}, fmt.Errorf("bacnet: decode read-property-ack: %w", err)
	}
	return ack.Value, nil
}

// WriteRemote issues a confirmed WriteProperty against dest.
func (d *Device) WriteRemote(ctx context.Context, dest Address, object ObjectIdentifier, property PropertyIdentifier, arrayIndex int, value objectdb.Value, priority int) error {
	req := service.EncodeWritePropertyRequest(service.WritePropertyRequest{
		Object: object, Property: property, ArrayIndex: arrayIndex, Value: value,
		HasPrio: priority > 0, Priority: priority,
	})
	d.met.RequestsSent.Inc()
	d.met.ActiveRequests.Inc()
	defer d.met.ActiveRequests.Dec()
	start := time.Now()
	_, err := d.client.Call(ctx, dest, uint8(ServiceWriteProperty), req, d.cfg.MaxAPDU)
	if err != nil {
		d.met.RequestsFailed.Inc()
		if IsTimeout(err) {
			d.met.RequestsTimedOut.Inc()
		}
		return err
	}
	d.met.RecordLatency(time.Since(start))
	d.met.RequestsSucceeded.Inc()
	return nil
}

// SubscribeRemote issues a confirmed SubscribeCOV request against dest
// for object, asking it to notify this Device of value changes.
// Notifications arrive on COVEvents tagged with processID so callers
// distinguish concurrent subscriptions. A zero lifetime subscribes
// indefinitely, per clause 13.14's optional Lifetime parameter.
func (d *Device) SubscribeRemote(ctx context.Context, dest Address, object ObjectIdentifier, processID uint32, confirmed bool, lifetime time.Duration) error {
	req := service.SubscribeCOVRequest{ProcessID: processID, Object: object, Confirmed: confirmed}
	if lifetime > 0 {
		req.HasLifetime = true
		req.Lifetime = uint32(lifetime.Seconds())
	}
	body := service.EncodeSubscribeCOVRequest(req)
	d.met.RequestsSent.Inc()
	d.met.ActiveRequests.Inc()
	defer d.met.ActiveRequests.Dec()
	_, err := d.client.Call(ctx, dest, uint8(ServiceSubscribeCOV), body, d.cfg.MaxAPDU)
	if err != nil {
		d.met.RequestsFailed.Inc()
		if IsTimeout(err) {
			d.met.RequestsTimedOut.Inc()
		}
		return err
	}
	d.met.RequestsSucceeded.Inc()
	return nil
}

// UnsubscribeRemote cancels a subscription previously established with
// SubscribeRemote, per the Cancellation Request form of clause 13.14.
func (d *Device) UnsubscribeRemote(ctx context.Context, dest Address, object ObjectIdentifier, processID uint32) error {
	req := service.SubscribeCOVRequest{ProcessID: processID, Object: object, Cancel: true}
	body := service.EncodeSubscribeCOVRequest(req)
	_, err := d.client.Call(ctx, dest, uint8(ServiceSubscribeCOV), body, d.cfg.MaxAPDU)
	return err
}

// DiscoverBroadcast broadcasts a Who-Is and returns once timeout
// elapses; discovered devices arrive as I-Am announcements handled by
// deliverFromRouter and are visible via the peer cache as they land.
func (d *Device) DiscoverBroadcast(ctx context.Context, opts ...DiscoverOption) error {
	do := defaultDiscoverOptions()
	for _, opt := range opts {
		opt(do)
	}
	w := service.WhoIs{}
	if do.LowLimit != nil && do.HighLimit != nil {
		w = service.WhoIs{HasRange: true, Low: *do.LowLimit, High: *do.HighLimit}
	}
	body := apdu.EncodeUnconfirmedRequest(uint8(ServiceWhoIs), service.EncodeWhoIs(w))
	d.met.WhoIsSent.Inc()
	if err := d.router.Route(Address{Net: do.Network}, false, npdu.ControlPriorityNormal, body); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(do.Timeout):
		return nil
	}
}

// Run starts every configured port's receive loop plus the background
// sweeps (TSM dedup, BBMD foreign-device, COV expiry) and the
// intrinsic-event scan engine, blocking until ctx is cancelled or any
// task fails. Each subsystem already guards its own state with a
// mutex, so Run tracks them as independent goroutines rather than
// funneling every call through one actor loop.
func (d *Device) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, port := range d.ipv4Ports {
		port := port
		g.Go(func() error { return port.Run(ctx) })
	}
	for _, port := range d.ipv6Ports {
		port := port
		g.Go(func() error { return port.Run(ctx) })
	}

	for i, bbmd := range d.ipv4BBMDs {
		bbmd := bbmd
		interval := d.cfg.IPv4[i].BBMD.SweepInterval
		if interval <= 0 {
			interval = time.Second
		}
		g.Go(func() error { return d.runSweep(ctx, interval, func(elapsed time.Duration) { bbmd.Sweep(elapsed) }) })
	}

	for _, watcher := range d.bdtWatchers {
		watcher := watcher
		g.Go(func() error { watcher.Run(ctx); return nil })
	}

	g.Go(func() error {
		return d.runSweep(ctx, d.cfg.TSMSweepInterval, func(time.Duration) { d.server.Sweep(time.Now()) })
	})
	g.Go(func() error {
		return d.runSweep(ctx, d.cfg.APDUTimeout, func(time.Duration) { d.router.Sweep(time.Now()) })
	})
	g.Go(func() error {
		return d.runSweep(ctx, d.cfg.COVSweepInterval, func(time.Duration) {
			d.covMgr.Sweep(time.Now())
			count := float64(d.covMgr.Count())
			d.met.COVSubscriptions.Set(count)
			d.met.ActiveSubscriptions.Set(count)
		})
	})
	g.Go(func() error {
		d.engine.Run(ctx)
		return nil
	})

	if d.status != nil {
		g.Go(func() error { return d.status.ListenAndServe(ctx) })
	}

	return g.Wait()
}

func (d *Device) runSweep(ctx context.Context, interval time.Duration, fn func(elapsed time.Duration)) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(interval)
		}
	}
}

// Close releases every port's socket without waiting for Run's
// goroutines to exit; callers that own the ctx passed to Run should
// cancel it instead, and call Close only to clean up on a failed
// NewDevice sequence.
func (d *Device) Close() error {
	var firstErr error
	for _, p := range d.ipv4Ports {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, p := range d.ipv6Ports {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.routeCache.Close()
	d.peerCache.Close()
	return firstErr
}
