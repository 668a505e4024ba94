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

// Package apdu encodes and decodes Application Protocol Data Units,
// clause 20.1: the confirmed/unconfirmed request and response PDUs that
// ride inside an NPDU's payload.
package apdu

import "errors"

// ErrTruncated is returned when an APDU is shorter than its header claims.
var ErrTruncated = errors.New("apdu: truncated data")

// ErrUnknownType is returned for a PDU-type nibble this package doesn't recognize.
var ErrUnknownType = errors.New("apdu: unknown PDU type")

// Type is the upper nibble of the first APDU octet.
type Type uint8

const (
	TypeConfirmedRequest   Type = 0x00
	TypeUnconfirmedRequest Type = 0x10
	TypeSimpleAck          Type = 0x20
	TypeComplexAck         Type = 0x30
	TypeSegmentAck         Type = 0x40
	TypeError              Type = 0x50
	TypeReject             Type = 0x60
	TypeAbort              Type = 0x70
)

// PDU is a decoded APDU of any type; only the fields relevant to Type
// are populated on decode.
type PDU struct {
	Type         Type
	Segmented    bool
	MoreFollows  bool
	NegativeAck  bool // SegmentAck only
	FromServer   bool // SegmentAck/Abort only: set by the transaction's server
	MaxSegments  uint8
	MaxAPDU      uint8
	InvokeID     uint8
	SequenceNum  uint8
	WindowSize   uint8
	Service      uint8
	Data         []byte
}

// EncodeConfirmedRequest builds an unsegmented Confirmed-Request PDU.
func EncodeConfirmedRequest(invokeID uint8, service uint8, data []byte, maxSegments, maxAPDU uint8) []byte {
	buf := make([]byte, 0, 4+len(data))
	buf = append(buf, byte(TypeConfirmedRequest))
	buf = append(buf, (maxSegments<<4)|maxAPDU)
	buf = append(buf, invokeID)
	buf = append(buf, service)
	buf = append(buf, data...)
	return buf
}

// EncodeSegmentedConfirmedRequest builds one segment of a segmented
// Confirmed-Request PDU.
func EncodeSegmentedConfirmedRequest(invokeID, sequenceNum, windowSize uint8, moreFollows bool, service uint8, segmentData []byte, maxSegments, maxAPDU uint8) []byte {
	flags := byte(TypeConfirmedRequest) | 0x08
	if moreFollows {
		flags |= 0x04
	}
	buf := make([]byte, 0, 6+len(segmentData))
	buf = append(buf, flags)
	buf = append(buf, (maxSegments<<4)|maxAPDU)
	buf = append(buf, invokeID, sequenceNum, windowSize, service)
	buf = append(buf, segmentData...)
	return buf
}

// EncodeUnconfirmedRequest builds an Unconfirmed-Request PDU.
func EncodeUnconfirmedRequest(service uint8, data []byte) []byte {
	buf := make([]byte, 0, 2+len(data))
	buf = append(buf, byte(TypeUnconfirmedRequest), service)
	buf = append(buf, data...)
	return buf
}

// EncodeSimpleAck builds a Simple-ACK PDU.
func EncodeSimpleAck(invokeID, service uint8) []byte {
	return []byte{byte(TypeSimpleAck), invokeID, service}
}

// EncodeComplexAck builds an unsegmented Complex-ACK PDU.
func EncodeComplexAck(invokeID, service uint8, data []byte) []byte {
	buf := make([]byte, 0, 3+len(data))
	buf = append(buf, byte(TypeComplexAck), invokeID, service)
	buf = append(buf, data...)
	return buf
}

// EncodeSegmentedComplexAck builds one segment of a segmented Complex-ACK PDU.
func EncodeSegmentedComplexAck(invokeID, sequenceNum, windowSize uint8, moreFollows bool, service uint8, segmentData []byte) []byte {
	flags := byte(TypeComplexAck) | 0x08
	if moreFollows {
		flags |= 0x04
	}
	buf := make([]byte, 0, 5+len(segmentData))
	buf = append(buf, flags, invokeID, sequenceNum, windowSize, service)
	buf = append(buf, segmentData...)
	return buf
}

// EncodeSegmentAck builds a Segment-ACK PDU.
func EncodeSegmentAck(invokeID, sequenceNum, windowSize uint8, negative, server bool) []byte {
	flags := byte(TypeSegmentAck)
	if negative {
		flags |= 0x02
	}
	if server {
		flags |= 0x01
	}
	return []byte{flags, invokeID, sequenceNum, windowSize}
}

// EncodeError builds an Error PDU.
func EncodeError(invokeID, service uint8, data []byte) []byte {
	buf := make([]byte, 0, 3+len(data))
	buf = append(buf, byte(TypeError), invokeID, service)
	buf = append(buf, data...)
	return buf
}

// EncodeReject builds a Reject PDU.
func EncodeReject(invokeID, reason uint8) []byte {
	return []byte{byte(TypeReject), invokeID, reason}
}

// EncodeAbort builds an Abort PDU.
func EncodeAbort(invokeID, reason uint8, server bool) []byte {
	flags := byte(TypeAbort)
	if server {
		flags |= 0x01
	}
	return []byte{flags, invokeID, reason}
}

// Decode parses any APDU type from data.
func Decode(data []byte) (*PDU, error) {
	if len(data) < 1 {
		return nil, ErrTruncated
	}
	switch Type(data[0] & 0xF0) {
	case TypeConfirmedRequest:
		return decodeConfirmedRequest(data)
	case TypeUnconfirmedRequest:
		return decodeUnconfirmedRequest(data)
	case TypeSimpleAck:
		return decodeSimpleAck(data)
	case TypeComplexAck:
		return decodeComplexAck(data)
	case TypeSegmentAck:
		return decodeSegmentAck(data)
	case TypeError:
		return decodeError(data)
	case TypeReject:
		return decodeReject(data)
	case TypeAbort:
		return decodeAbort(data)
	default:
		return nil, ErrUnknownType
	}
}

func decodeConfirmedRequest(data []byte) (*PDU, error) {
	if len(data) < 4 {
		return nil, ErrTruncated
	}
	p := &PDU{
		Type:        TypeConfirmedRequest,
		Segmented:   data[0]&0x08 != 0,
		MoreFollows: data[0]&0x04 != 0,
		MaxSegments: (data[1] >> 4) & 0x07,
		MaxAPDU:     data[1] & 0x0F,
		InvokeID:    data[2],
		Service:     data[3],
		Data:        data[4:],
	}
	if p.Segmented {
		if len(data) < 6 {
			return nil, ErrTruncated
		}
		p.SequenceNum = data[4]
		p.WindowSize = data[5]
		p.Data = data[6:]
	}
	return p, nil
}

func decodeUnconfirmedRequest(data []byte) (*PDU, error) {
	if len(data) < 2 {
		return nil, ErrTruncated
	}
	return &PDU{Type: TypeUnconfirmedRequest, Service: data[1], Data: data[2:]}, nil
}

func decodeSimpleAck(data []byte) (*PDU, error) {
	if len(data) < 3 {
		return nil, ErrTruncated
	}
	return &PDU{Type: TypeSimpleAck, InvokeID: data[1], Service: data[2]}, nil
}

func decodeComplexAck(data []byte) (*PDU, error) {
	if len(data) < 3 {
		return nil, ErrTruncated
	}
	p := &PDU{
		Type:        TypeComplexAck,
		Segmented:   data[0]&0x08 != 0,
		MoreFollows: data[0]&0x04 != 0,
		InvokeID:    data[1],
		Service:     data[2],
		Data:        data[3:],
	}
	if p.Segmented {
		if len(data) < 5 {
			return nil, ErrTruncated
		}
		p.SequenceNum = data[3]
		p.WindowSize = data[4]
		p.Data = data[5:]
	}
	return p, nil
}

func decodeSegmentAck(data []byte) (*PDU, error) {
	if len(data) < 4 {
		return nil, ErrTruncated
	}
	return &PDU{
		Type:        TypeSegmentAck,
		NegativeAck: data[0]&0x02 != 0,
		FromServer:  data[0]&0x01 != 0,
		InvokeID:    data[1],
		SequenceNum: data[2],
		WindowSize:  data[3],
	}, nil
}

func decodeError(data []byte) (*PDU, error) {
	if len(data) < 3 {
		return nil, ErrTruncated
	}
	return &PDU{Type: TypeError, InvokeID: data[1], Service: data[2], Data: data[3:]}, nil
}

func decodeReject(data []byte) (*PDU, error) {
	if len(data) < 3 {
		return nil, ErrTruncated
	}
	return &PDU{Type: TypeReject, InvokeID: data[1], Service: data[2]}, nil
}

func decodeAbort(data []byte) (*PDU, error) {
	if len(data) < 3 {
		return nil, ErrTruncated
	}
	return &PDU{Type: TypeAbort, FromServer: data[0]&0x01 != 0, InvokeID: data[1], Service: data[2]}, nil
}
