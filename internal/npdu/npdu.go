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

// Package npdu encodes and decodes Network Protocol Data Units (clause 6)
// and carries the fields the router needs for forwarding decisions.
package npdu

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrTruncated is returned when an NPDU is shorter than its header claims.
var ErrTruncated = errors.New("npdu: truncated data")

// ErrUnsupportedVersion is returned for any network-layer protocol
// version other than 1.
var ErrUnsupportedVersion = errors.New("npdu: unsupported protocol version")

// Control bits, clause 6.2.2.
type Control uint8

const (
	ControlNetworkLayerMessage Control = 0x80
	ControlDestSpecifier       Control = 0x20
	ControlSourceSpecifier     Control = 0x08
	ControlExpectingReply      Control = 0x04
	ControlPriorityNormal      Control = 0x00
	ControlPriorityUrgent      Control = 0x01
	ControlPriorityCritical    Control = 0x02
	ControlPriorityLifeSafety  Control = 0x03
)

// MessageType enumerates network-layer messages, clause 6.4.
type MessageType uint8

const (
	MessageWhoIsRouterToNetwork          MessageType = 0x00
	MessageIAmRouterToNetwork            MessageType = 0x01
	MessageICouldBeRouterToNetwork       MessageType = 0x02
	MessageRejectMessageToNetwork        MessageType = 0x03
	MessageRouterBusyToNetwork           MessageType = 0x04
	MessageRouterAvailableToNetwork      MessageType = 0x05
	MessageInitializeRoutingTable        MessageType = 0x06
	MessageInitializeRoutingTableAck     MessageType = 0x07
	MessageEstablishConnectionToNetwork  MessageType = 0x08
	MessageDisconnectConnectionToNetwork MessageType = 0x09
	MessageWhatIsNetworkNumber           MessageType = 0x12
	MessageNetworkNumberIs               MessageType = 0x13
)

// RejectReason is carried by a Reject-Message-To-Network, clause 6.4.4.
type RejectReason uint8

const (
	RejectOther                       RejectReason = 0
	RejectNotDirectlyConnected        RejectReason = 1
	RejectNoBusyBufferInTables        RejectReason = 2
	RejectUnknownNetworkMessageType   RejectReason = 3
	RejectMessageTooLong              RejectReason = 4
	RejectSecurityError               RejectReason = 5
	RejectAddressingError             RejectReason = 6
)

// Specifier is a network-number + MAC-address pair used for the
// destination and source specifiers.
type Specifier struct {
	Net  uint16
	Addr []byte
}

// NPDU is a decoded Network Protocol Data Unit.
type NPDU struct {
	Version     uint8
	Control     Control
	Dest        *Specifier
	DestHopCount uint8
	Src         *Specifier
	MessageType MessageType
	VendorID    uint16
	Payload     []byte // network-layer message body, or the APDU
}

// IsNetworkMessage reports whether Payload is a network-layer message
// rather than an application-layer APDU.
func (n *NPDU) IsNetworkMessage() bool {
	return n.Control&ControlNetworkLayerMessage != 0
}

// ExpectingReply reports the NPDU control bit that requests an
// application-layer reply on this route.
func (n *NPDU) ExpectingReply() bool {
	return n.Control&ControlExpectingReply != 0
}

// Encode serializes an NPDU. When dest is nil the NPDU carries no
// destination specifier (a local, non-routed message).
func Encode(dest, src *Specifier, hopCount uint8, expectingReply bool, priority Control, networkMessage *MessageType, vendorID uint16, payload []byte) []byte {
	control := priority
	if expectingReply {
		control |= ControlExpectingReply
	}
	if dest != nil {
		control |= ControlDestSpecifier
	}
	if src != nil {
		control |= ControlSourceSpecifier
	}
	if networkMessage != nil {
		control |= ControlNetworkLayerMessage
	}

	buf := make([]byte, 0, 16+len(payload))
	buf = append(buf, 0x01, byte(control))

	if dest != nil {
		buf = append(buf, byte(dest.Net>>8), byte(dest.Net))
		buf = append(buf, byte(len(dest.Addr)))
		buf = append(buf, dest.Addr...)
	}
	if src != nil {
		buf = append(buf, byte(src.Net>>8), byte(src.Net))
		buf = append(buf, byte(len(src.Addr)))
		buf = append(buf, src.Addr...)
	}
	if dest != nil {
		buf = append(buf, hopCount)
	}
	if networkMessage != nil {
		buf = append(buf, byte(*networkMessage))
		if *networkMessage >= 0x80 {
			vb := make([]byte, 2)
			binary.BigEndian.PutUint16(vb, vendorID)
			buf = append(buf, vb...)
		}
	}
	buf = append(buf, payload...)
	return buf
}

// Decode parses an NPDU from data.
func Decode(data []byte) (*NPDU, error) {
	if len(data) < 2 {
		return nil, ErrTruncated
	}

	n := &NPDU{Version: data[0], Control: Control(data[1])}
	if n.Version != 0x01 {
		return nil, fmt.Errorf("%w: version %d", ErrUnsupportedVersion, n.Version)
	}

	offset := 2

	if n.Control&ControlDestSpecifier != 0 {
		if len(data) < offset+3 {
			return nil, ErrTruncated
		}
		net := binary.BigEndian.Uint16(data[offset:])
		offset += 2
		addrLen := int(data[offset])
		offset++
		if len(data) < offset+addrLen {
			return nil, ErrTruncated
		}
		addr := make([]byte, addrLen)
		copy(addr, data[offset:offset+addrLen])
		offset += addrLen
		n.Dest = &Specifier{Net: net, Addr: addr}
	}

	if n.Control&ControlSourceSpecifier != 0 {
		if len(data) < offset+3 {
			return nil, ErrTruncated
		}
		net := binary.BigEndian.Uint16(data[offset:])
		offset += 2
		addrLen := int(data[offset])
		offset++
		if len(data) < offset+addrLen {
			return nil, ErrTruncated
		}
		addr := make([]byte, addrLen)
		copy(addr, data[offset:offset+addrLen])
		offset += addrLen
		n.Src = &Specifier{Net: net, Addr: addr}
	}

	if n.Dest != nil {
		if len(data) < offset+1 {
			return nil, ErrTruncated
		}
		n.DestHopCount = data[offset]
		offset++
	}

	if n.Control&ControlNetworkLayerMessage != 0 {
		if len(data) < offset+1 {
			return nil, ErrTruncated
		}
		n.MessageType = MessageType(data[offset])
		offset++
		if n.MessageType >= 0x80 {
			if len(data) < offset+2 {
				return nil, ErrTruncated
			}
			n.VendorID = binary.BigEndian.Uint16(data[offset:])
			offset += 2
		}
	}

	n.Payload = data[offset:]
	return n, nil
}

// EncodeWhoIsRouterToNetwork builds a Who-Is-Router-To-Network message
// body. net == 0 asks about every reachable network.
func EncodeWhoIsRouterToNetwork(net uint16) []byte {
	if net == 0 {
		return nil
	}
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, net)
	return buf
}

// DecodeNetworkList decodes the repeated 2-byte network-number list
// carried by I-Am-Router-To-Network and Reject-Message-To-Network's peer.
func DecodeNetworkList(data []byte) []uint16 {
	nets := make([]uint16, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		nets = append(nets, binary.BigEndian.Uint16(data[i:]))
	}
	return nets
}

// EncodeNetworkList encodes a list of network numbers as used by
// I-Am-Router-To-Network.
func EncodeNetworkList(nets []uint16) []byte {
	buf := make([]byte, 0, 2*len(nets))
	for _, n := range nets {
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, n)
		buf = append(buf, b...)
	}
	return buf
}

// EncodeRejectMessageToNetwork builds a Reject-Message-To-Network body.
func EncodeRejectMessageToNetwork(reason RejectReason, net uint16) []byte {
	buf := make([]byte, 3)
	buf[0] = byte(reason)
	binary.BigEndian.PutUint16(buf[1:], net)
	return buf
}
