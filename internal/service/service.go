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

// Package service encodes and decodes the application-service bodies
// that ride inside a Confirmed/Unconfirmed-Request or ComplexAck APDU:
// clause 21's Who-Is/I-Am discovery pair, clause 15's ReadProperty,
// WriteProperty, ReadPropertyMultiple, WritePropertyMultiple, and
// ReadRange, and clause 13.14's SubscribeCOV and COV notification.
package service

import (
	"errors"
	"fmt"

	"github.com/bacstack/bacstack"
	"github.com/bacstack/bacstack/internal/objectdb"
	"github.com/bacstack/bacstack/tagcodec"
)

// ErrTruncated is returned when a service body ends before a required
// field has been read.
var ErrTruncated = errors.New("service: truncated data")

// noArrayIndex is the sentinel meaning "property-array-index absent".
const noArrayIndex = -1

// EncodeValue appends the application-tagged encoding of v.
func EncodeValue(v objectdb.Value) []byte {
	switch v.Kind {
	case objectdb.KindNull:
		return []byte{0x00}
	case objectdb.KindBoolean:
		return tagcodec.EncodeBooleanTag(v.Boolean)
	case objectdb.KindUnsigned:
		return tagcodec.EncodeUnsignedTag(v.Unsigned)
	case objectdb.KindSigned:
		return tagcodec.EncodeSignedTag(v.Signed)
	case objectdb.KindReal:
		return tagcodec.EncodeRealTag(v.Real)
	case objectdb.KindDouble:
		data := tagcodec.EncodeDouble(v.Double)
		return append(tagcodec.EncodeTag(tagcodec.TagDouble, tagcodec.ClassApplication, len(data)), data...)
	case objectdb.KindOctetString:
		return tagcodec.EncodeOctetStringTag(v.Octets)
	case objectdb.KindCharacterString:
		return tagcodec.EncodeCharacterStringTag(v.Text)
	case objectdb.KindBitString:
		return tagcodec.EncodeBitStringTag(v.BitStr)
	case objectdb.KindEnumerated:
		return tagcodec.EncodeEnumeratedTag(v.Enum)
	case objectdb.KindDate:
		return tagcodec.EncodeDateTag(v.Date)
	case objectdb.KindTime:
		return tagcodec.EncodeTimeTag(v.Time)
	case objectdb.KindObjectID:
		return tagcodec.EncodeObjectIdentifierTag(v.ObjectID.Encode())
	case objectdb.KindList:
		var buf []byte
		for _, elem := range v.List {
			buf = append(buf, EncodeValue(elem)...)
		}
		return buf
	default:
		return []byte{0x00}
	}
}

// DecodeValue decodes one application-tagged primitive from the front
// of data, returning the value and the number of bytes consumed.
func DecodeValue(data []byte) (objectdb.Value, int, error) {
	h, err := tagcodec.DecodeTagHeader(data)
	if err != nil {
		return objectdb.Value{}, 0, err
	}
	if h.Class != tagcodec.ClassApplication {
		return objectdb.Value{}, 0, fmt.Errorf("service: expected application tag, got context tag %d", h.Number)
	}
	total := h.HeaderLen + h.Length
	if len(data) < total {
		return objectdb.Value{}, 0, ErrTruncated
	}
	body := data[h.HeaderLen:total]

	switch h.Number {
	case tagcodec.TagNull:
		return objectdb.Null(), total, nil
	case tagcodec.TagBoolean:
		return objectdb.Bool(h.Length != 0), total, nil
	case tagcodec.TagUnsignedInt:
		return objectdb.Unsigned(tagcodec.DecodeUnsigned(body)), total, nil
	case tagcodec.TagSignedInt:
		return objectdb.Signed(tagcodec.DecodeSigned(body)), total, nil
	case tagcodec.TagReal:
		f, err := tagcodec.DecodeReal(body)
		if err != nil {
			return objectdb.Value{}, 0, err
		}
		return objectdb.Real(f), total, nil
	case tagcodec.TagDouble:
		f, err := tagcodec.DecodeDouble(body)
		if err != nil {
			return objectdb.Value{}, 0, err
		}
		return objectdb.Double(f), total, nil
	case tagcodec.TagOctetString:
		return objectdb.Octets(append([]byte(nil), body...)), total, nil
	case tagcodec.TagCharacterString:
		s, err := tagcodec.DecodeCharacterString(body)
		if err != nil && s == "" {
			return objectdb.Value{}, 0, err
		}
		return objectdb.Str(s), total, nil
	case tagcodec.TagBitString:
		bs, err := tagcodec.DecodeBitString(body)
		if err != nil {
			return objectdb.Value{}, 0, err
		}
		return objectdb.BitString(bs), total, nil
	case tagcodec.TagEnumerated:
		return objectdb.Enumerated(tagcodec.DecodeUnsigned(body)), total, nil
	case tagcodec.TagDate:
		d, err := tagcodec.DecodeDate(body)
		if err != nil {
			return objectdb.Value{}, 0, err
		}
		return objectdb.DateValue(d), total, nil
	case tagcodec.TagTime:
		t, err := tagcodec.DecodeTime(body)
		if err != nil {
			return objectdb.Value{}, 0, err
		}
		return objectdb.TimeValue(t), total, nil
	case tagcodec.TagObjectID:
		v, err := tagcodec.DecodeObjectIdentifierValue(body)
		if err != nil {
			return objectdb.Value{}, 0, err
		}
		return objectdb.ObjectID(bacnet.DecodeObjectIdentifier(v)), total, nil
	default:
		return objectdb.Value{}, 0, fmt.Errorf("service: unsupported application tag %d", h.Number)
	}
}

// WhoIs is the body of an optionally-ranged Who-Is request.
type WhoIs struct {
	HasRange bool
	Low      uint32
	High     uint32
}

// EncodeWhoIs builds a Who-Is body. An unranged request has no body at all.
func EncodeWhoIs(w WhoIs) []byte {
	if !w.HasRange {
		return nil
	}
	var buf []byte
	buf = append(buf, tagcodec.EncodeContextUnsigned(0, w.Low)...)
	buf = append(buf, tagcodec.EncodeContextUnsigned(1, w.High)...)
	return buf
}

// DecodeWhoIs parses a Who-Is body; an empty body is a valid unranged request.
func DecodeWhoIs(data []byte) (WhoIs, error) {
	if len(data) == 0 {
		return WhoIs{}, nil
	}
	low, rest, err := decodeContextUnsigned(data, 0)
	if err != nil {
		return WhoIs{}, err
	}
	high, _, err := decodeContextUnsigned(rest, 1)
	if err != nil {
		return WhoIs{}, err
	}
	return WhoIs{HasRange: true, Low: low, High: high}, nil
}

// IAm is the body of an I-Am announcement.
type IAm struct {
	DeviceID     bacnet.ObjectIdentifier
	MaxAPDU      uint32
	Segmentation bacnet.Segmentation
	VendorID     uint32
}

// EncodeIAm builds an I-Am body: all four fields application-tagged,
// clause 21 uses application tags here rather than context tags.
func EncodeIAm(a IAm) []byte {
	var buf []byte
	buf = append(buf, tagcodec.EncodeObjectIdentifierTag(a.DeviceID.Encode())...)
	buf = append(buf, tagcodec.EncodeUnsignedTag(a.MaxAPDU)...)
	buf = append(buf, tagcodec.EncodeEnumeratedTag(uint32(a.Segmentation))...)
	buf = append(buf, tagcodec.EncodeUnsignedTag(a.VendorID)...)
	return buf
}

// DecodeIAm parses an I-Am body.
func DecodeIAm(data []byte) (IAm, error) {
	v, n, err := DecodeValue(data)
	if err != nil || v.Kind != objectdb.KindObjectID {
		return IAm{}, fmt.Errorf("service: i-am: bad device id: %w", errOrUnsupported(err))
	}
	data = data[n:]

	maxAPDU, n, err := DecodeValue(data)
	if err != nil || maxAPDU.Kind != objectdb.KindUnsigned {
		return IAm{}, fmt.Errorf("service: i-am: bad max-apdu: %w", errOrUnsupported(err))
	}
	data = data[n:]

	seg, n, err := DecodeValue(data)
	if err != nil || seg.Kind != objectdb.KindEnumerated {
		return IAm{}, fmt.Errorf("service: i-am: bad segmentation: %w", errOrUnsupported(err))
	}
	data = data[n:]

	vendor, _, err := DecodeValue(data)
	if err != nil || vendor.Kind != objectdb.KindUnsigned {
		return IAm{}, fmt.Errorf("service: i-am: bad vendor id: %w", errOrUnsupported(err))
	}

	return IAm{
		DeviceID:     v.ObjectID,
		MaxAPDU:      maxAPDU.Unsigned,
		Segmentation: bacnet.Segmentation(seg.Enum),
		VendorID:     vendor.Unsigned,
	}, nil
}

func errOrUnsupported(err error) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("service: wrong tag type")
}

// ReadPropertyRequest is the body of a ReadProperty confirmed request.
type ReadPropertyRequest struct {
	Object     bacnet.ObjectIdentifier
	Property   bacnet.PropertyIdentifier
	ArrayIndex int // noArrayIndex (-1) if absent
}

// EncodeReadPropertyRequest builds a ReadProperty request body.
func EncodeReadPropertyRequest(r ReadPropertyRequest) []byte {
	var buf []byte
	buf = append(buf, tagcodec.EncodeContextObjectIdentifier(0, r.Object.Encode())...)
	buf = append(buf, tagcodec.EncodeContextUnsigned(1, uint32(r.Property))...)
	if r.ArrayIndex >= 0 {
		buf = append(buf, tagcodec.EncodeContextUnsigned(2, uint32(r.ArrayIndex))...)
	}
	return buf
}

// DecodeReadPropertyRequest parses a ReadProperty request body.
func DecodeReadPropertyRequest(data []byte) (ReadPropertyRequest, error) {
	objVal, rest, err := decodeContextUnsigned(data, 0)
	if err != nil {
		return ReadPropertyRequest{}, fmt.Errorf("service: read-property: %w", err)
	}
	prop, rest, err := decodeContextUnsigned(rest, 1)
	if err != nil {
		return ReadPropertyRequest{}, fmt.Errorf("service: read-property: %w", err)
	}
	r := ReadPropertyRequest{
		Object:     bacnet.DecodeObjectIdentifier(objVal),
		Property:   bacnet.PropertyIdentifier(prop),
		ArrayIndex: noArrayIndex,
	}
	if idx, _, err := decodeContextUnsigned(rest, 2); err == nil {
		r.ArrayIndex = int(idx)
	}
	return r, nil
}

// ReadPropertyAck is the body of a ReadProperty ComplexAck.
type ReadPropertyAck struct {
	Object     bacnet.ObjectIdentifier
	Property   bacnet.PropertyIdentifier
	ArrayIndex int
	Value      objectdb.Value
}

// EncodeReadPropertyAck builds a ReadProperty ack body. A List-kind
// value is carried as its own opening/closing-wrapped sequence.
func EncodeReadPropertyAck(a ReadPropertyAck) []byte {
	var buf []byte
	buf = append(buf, tagcodec.EncodeContextObjectIdentifier(0, a.Object.Encode())...)
	buf = append(buf, tagcodec.EncodeContextUnsigned(1, uint32(a.Property))...)
	if a.ArrayIndex >= 0 {
		buf = append(buf, tagcodec.EncodeContextUnsigned(2, uint32(a.ArrayIndex))...)
	}
	buf = append(buf, tagcodec.EncodeOpeningTag(3)...)
	buf = append(buf, EncodeValue(a.Value)...)
	buf = append(buf, tagcodec.EncodeClosingTag(3)...)
	return buf
}

// DecodeReadPropertyAck parses a ReadProperty ack body. A value field
// wrapping more than one application-tagged element decodes as a List.
func DecodeReadPropertyAck(data []byte) (ReadPropertyAck, error) {
	objVal, rest, err := decodeContextUnsigned(data, 0)
	if err != nil {
		return ReadPropertyAck{}, fmt.Errorf("service: read-property-ack: %w", err)
	}
	prop, rest, err := decodeContextUnsigned(rest, 1)
	if err != nil {
		return ReadPropertyAck{}, fmt.Errorf("service: read-property-ack: %w", err)
	}
	a := ReadPropertyAck{
		Object:     bacnet.DecodeObjectIdentifier(objVal),
		Property:   bacnet.PropertyIdentifier(prop),
		ArrayIndex: noArrayIndex,
	}
	if idx, after, err := decodeContextUnsigned(rest, 2); err == nil {
		a.ArrayIndex = int(idx)
		rest = after
	}

	h, err := tagcodec.DecodeTagHeader(rest)
	if err != nil || !h.Opening() || h.Number != 3 {
		return ReadPropertyAck{}, fmt.Errorf("service: read-property-ack: missing value wrapper")
	}
	body := rest[h.HeaderLen:]
	values, _, err := decodeValueSequence(body)
	if err != nil {
		return ReadPropertyAck{}, err
	}
	switch len(values) {
	case 0:
		a.Value = objectdb.Null()
	case 1:
		a.Value = values[0]
	default:
		a.Value = objectdb.List(values)
	}
	return a, nil
}

// decodeValueSequence decodes every application-tagged value up to the
// matching closing tag at the start of data (already past the opening
// tag), returning the values and the number of bytes consumed (not
// including the closing tag itself).
func decodeValueSequence(data []byte) ([]objectdb.Value, int, error) {
	var out []objectdb.Value
	consumed := 0
	for consumed < len(data) {
		h, err := tagcodec.DecodeTagHeader(data[consumed:])
		if err != nil {
			return nil, 0, err
		}
		if h.Closing() {
			return out, consumed, nil
		}
		v, n, err := DecodeValue(data[consumed:])
		if err != nil {
			return nil, 0, err
		}
		out = append(out, v)
		consumed += n
	}
	return out, consumed, nil
}

// WritePropertyRequest is the body of a WriteProperty confirmed request.
type WritePropertyRequest struct {
	Object     bacnet.ObjectIdentifier
	Property   bacnet.PropertyIdentifier
	ArrayIndex int
	Value      objectdb.Value
	HasPrio    bool
	Priority   int
}

// EncodeWritePropertyRequest builds a WriteProperty request body.
func EncodeWritePropertyRequest(w WritePropertyRequest) []byte {
	var buf []byte
	buf = append(buf, tagcodec.EncodeContextObjectIdentifier(0, w.Object.Encode())...)
	buf = append(buf, tagcodec.EncodeContextUnsigned(1, uint32(w.Property))...)
	if w.ArrayIndex >= 0 {
		buf = append(buf, tagcodec.EncodeContextUnsigned(2, uint32(w.ArrayIndex))...)
	}
	buf = append(buf, tagcodec.EncodeOpeningTag(3)...)
	buf = append(buf, EncodeValue(w.Value)...)
	buf = append(buf, tagcodec.EncodeClosingTag(3)...)
	if w.HasPrio {
		buf = append(buf, tagcodec.EncodeContextUnsigned(4, uint32(w.Priority))...)
	}
	return buf
}

// DecodeWritePropertyRequest parses a WriteProperty request body.
func DecodeWritePropertyRequest(data []byte) (WritePropertyRequest, error) {
	objVal, rest, err := decodeContextUnsigned(data, 0)
	if err != nil {
		return WritePropertyRequest{}, fmt.Errorf("service: write-property: %w", err)
	}
	prop, rest, err := decodeContextUnsigned(rest, 1)
	if err != nil {
		return WritePropertyRequest{}, fmt.Errorf("service: write-property: %w", err)
	}
	w := WritePropertyRequest{
		Object:     bacnet.DecodeObjectIdentifier(objVal),
		Property:   bacnet.PropertyIdentifier(prop),
		ArrayIndex: noArrayIndex,
	}
	if idx, after, err := decodeContextUnsigned(rest, 2); err == nil {
		w.ArrayIndex = int(idx)
		rest = after
	}

	h, err := tagcodec.DecodeTagHeader(rest)
	if err != nil || !h.Opening() || h.Number != 3 {
		return WritePropertyRequest{}, fmt.Errorf("service: write-property: missing value wrapper")
	}
	rest = rest[h.HeaderLen:]
	values, consumed, err := decodeValueSequence(rest)
	if err != nil {
		return WritePropertyRequest{}, err
	}
	switch len(values) {
	case 0:
		w.Value = objectdb.Null()
	case 1:
		w.Value = values[0]
	default:
		w.Value = objectdb.List(values)
	}

	rest = rest[consumed:]
	ch, err := tagcodec.DecodeTagHeader(rest)
	if err == nil && ch.Closing() {
		rest = rest[ch.HeaderLen:]
	}
	if prio, _, err := decodeContextUnsigned(rest, 4); err == nil {
		w.HasPrio = true
		w.Priority = int(prio)
	}
	return w, nil
}

// SubscribeCOVRequest is the body of a SubscribeCOV confirmed request.
// Cancel marks a cancellation, which goes on the wire with neither the
// confirmed flag nor the lifetime; Encode writes both whenever Cancel is
// false.
type SubscribeCOVRequest struct {
	ProcessID   uint32
	Object      bacnet.ObjectIdentifier
	Cancel      bool
	Confirmed   bool
	HasLifetime bool
	Lifetime    uint32
}

// EncodeSubscribeCOVRequest builds a SubscribeCOV request body.
func EncodeSubscribeCOVRequest(s SubscribeCOVRequest) []byte {
	var buf []byte
	buf = append(buf, tagcodec.EncodeContextUnsigned(0, s.ProcessID)...)
	buf = append(buf, tagcodec.EncodeContextObjectIdentifier(1, s.Object.Encode())...)
	if !s.Cancel {
		buf = append(buf, tagcodec.EncodeContextBoolean(2, s.Confirmed)...)
		buf = append(buf, tagcodec.EncodeContextUnsigned(3, s.Lifetime)...)
	}
	return buf
}

// DecodeSubscribeCOVRequest parses a SubscribeCOV request body.
func DecodeSubscribeCOVRequest(data []byte) (SubscribeCOVRequest, error) {
	pid, rest, err := decodeContextUnsigned(data, 0)
	if err != nil {
		return SubscribeCOVRequest{}, fmt.Errorf("service: subscribe-cov: %w", err)
	}
	objVal, rest, err := decodeContextUnsigned(rest, 1)
	if err != nil {
		return SubscribeCOVRequest{}, fmt.Errorf("service: subscribe-cov: %w", err)
	}
	s := SubscribeCOVRequest{ProcessID: pid, Object: bacnet.DecodeObjectIdentifier(objVal)}

	h, err := tagcodec.DecodeTagHeader(rest)
	if err != nil || h.Class != tagcodec.ClassContext || h.Number != 2 {
		s.Cancel = true
		return s, nil
	}
	s.Confirmed = h.Length == 1 && rest[h.HeaderLen] != 0
	rest = rest[h.HeaderLen+h.Length:]
	lifetime, _, err := decodeContextUnsigned(rest, 3)
	if err == nil {
		s.HasLifetime = true
		s.Lifetime = lifetime
	}
	return s, nil
}

// PropertyValue is one (property, value) pair inside a COV notification's
// list-of-values.
type PropertyValue struct {
	Property   bacnet.PropertyIdentifier
	ArrayIndex int
	Value      objectdb.Value
}

// COVNotification is the shared body of Confirmed/UnconfirmedCOVNotification.
type COVNotification struct {
	ProcessID        uint32
	InitiatingDevice bacnet.ObjectIdentifier
	MonitoredObject  bacnet.ObjectIdentifier
	TimeRemaining    uint32
	Values           []PropertyValue
}

// EncodeCOVNotification builds a COV notification body.
func EncodeCOVNotification(n COVNotification) []byte {
	var buf []byte
	buf = append(buf, tagcodec.EncodeContextUnsigned(0, n.ProcessID)...)
	buf = append(buf, tagcodec.EncodeContextObjectIdentifier(1, n.InitiatingDevice.Encode())...)
	buf = append(buf, tagcodec.EncodeContextObjectIdentifier(2, n.MonitoredObject.Encode())...)
	buf = append(buf, tagcodec.EncodeContextUnsigned(3, n.TimeRemaining)...)
	buf = append(buf, tagcodec.EncodeOpeningTag(4)...)
	for _, pv := range n.Values {
		buf = append(buf, tagcodec.EncodeContextUnsigned(0, uint32(pv.Property))...)
		if pv.ArrayIndex >= 0 {
			buf = append(buf, tagcodec.EncodeContextUnsigned(1, uint32(pv.ArrayIndex))...)
		}
		buf = append(buf, tagcodec.EncodeOpeningTag(2)...)
		buf = append(buf, EncodeValue(pv.Value)...)
		buf = append(buf, tagcodec.EncodeClosingTag(2)...)
	}
	buf = append(buf, tagcodec.EncodeClosingTag(4)...)
	return buf
}

// DecodeCOVNotification parses a COV notification body.
func DecodeCOVNotification(data []byte) (COVNotification, error) {
	pid, rest, err := decodeContextUnsigned(data, 0)
	if err != nil {
		return COVNotification{}, fmt.Errorf("service: cov-notification: %w", err)
	}
	initVal, rest, err := decodeContextUnsigned(rest, 1)
	if err != nil {
		return COVNotification{}, fmt.Errorf("service: cov-notification: %w", err)
	}
	monVal, rest, err := decodeContextUnsigned(rest, 2)
	if err != nil {
		return COVNotification{}, fmt.Errorf("service: cov-notification: %w", err)
	}
	remaining, rest, err := decodeContextUnsigned(rest, 3)
	if err != nil {
		return COVNotification{}, fmt.Errorf("service: cov-notification: %w", err)
	}

	h, err := tagcodec.DecodeTagHeader(rest)
	if err != nil || !h.Opening() || h.Number != 4 {
		return COVNotification{}, fmt.Errorf("service: cov-notification: missing list-of-values wrapper")
	}
	body := rest[h.HeaderLen:]

	n := COVNotification{
		ProcessID:        pid,
		InitiatingDevice: bacnet.DecodeObjectIdentifier(initVal),
		MonitoredObject:  bacnet.DecodeObjectIdentifier(monVal),
		TimeRemaining:    remaining,
	}
	for len(body) > 0 {
		ph, err := tagcodec.DecodeTagHeader(body)
		if err != nil {
			return COVNotification{}, err
		}
		if ph.Closing() {
			break
		}
		prop, after, err := decodeContextUnsigned(body, 0)
		if err != nil {
			return COVNotification{}, err
		}
		body = after
		pv := PropertyValue{Property: bacnet.PropertyIdentifier(prop), ArrayIndex: noArrayIndex}
		if idx, after2, err := decodeContextUnsigned(body, 1); err == nil {
			pv.ArrayIndex = int(idx)
			body = after2
		}
		vh, err := tagcodec.DecodeTagHeader(body)
		if err != nil || !vh.Opening() || vh.Number != 2 {
			return COVNotification{}, fmt.Errorf("service: cov-notification: missing value wrapper")
		}
		body = body[vh.HeaderLen:]
		v, consumed, err := DecodeValue(body)
		if err != nil {
			return COVNotification{}, err
		}
		pv.Value = v
		body = body[consumed:]
		ch, err := tagcodec.DecodeTagHeader(body)
		if err != nil || !ch.Closing() {
			return COVNotification{}, fmt.Errorf("service: cov-notification: unterminated value wrapper")
		}
		body = body[ch.HeaderLen:]
		n.Values = append(n.Values, pv)
	}
	return n, nil
}

// EventNotification is a reduced encoding of the clause 13.1/13.2
// Confirmed/UnconfirmedEventNotification-Request body: the fields a
// BACnet client needs to log and acknowledge an alarm, without the
// per-event-type notification-parameters CHOICE clause 13.1 also
// carries (algorithmic detail the monitoring client rarely consumes).
type EventNotification struct {
	ProcessID         uint32
	InitiatingDevice  bacnet.ObjectIdentifier
	EventObject       bacnet.ObjectIdentifier
	TimeOfDay         tagcodec.Time
	NotificationClass uint32
	Priority          uint32
	EventType         uint32
	NotifyType        uint32
	AckRequired       bool
	FromState         uint32
	ToState           uint32
}

// EncodeEventNotification builds an event notification body.
func EncodeEventNotification(n EventNotification) []byte {
	var buf []byte
	buf = append(buf, tagcodec.EncodeContextUnsigned(0, n.ProcessID)...)
	buf = append(buf, tagcodec.EncodeContextObjectIdentifier(1, n.InitiatingDevice.Encode())...)
	buf = append(buf, tagcodec.EncodeContextObjectIdentifier(2, n.EventObject.Encode())...)
	buf = append(buf, tagcodec.EncodeOpeningTag(3)...)
	buf = append(buf, tagcodec.EncodeContextTime(0, n.TimeOfDay)...)
	buf = append(buf, tagcodec.EncodeClosingTag(3)...)
	buf = append(buf, tagcodec.EncodeContextUnsigned(4, n.NotificationClass)...)
	buf = append(buf, tagcodec.EncodeContextUnsigned(5, n.Priority)...)
	buf = append(buf, tagcodec.EncodeContextEnumerated(6, n.EventType)...)
	buf = append(buf, tagcodec.EncodeContextEnumerated(8, n.NotifyType)...)
	buf = append(buf, tagcodec.EncodeContextBoolean(9, n.AckRequired)...)
	buf = append(buf, tagcodec.EncodeContextEnumerated(10, n.FromState)...)
	buf = append(buf, tagcodec.EncodeContextEnumerated(11, n.ToState)...)
	return buf
}

// DecodeEventNotification parses an event notification body.
func DecodeEventNotification(data []byte) (EventNotification, error) {
	pid, rest, err := decodeContextUnsigned(data, 0)
	if err != nil {
		return EventNotification{}, fmt.Errorf("service: event-notification: %w", err)
	}
	initVal, rest, err := decodeContextUnsigned(rest, 1)
	if err != nil {
		return EventNotification{}, fmt.Errorf("service: event-notification: %w", err)
	}
	objVal, rest, err := decodeContextUnsigned(rest, 2)
	if err != nil {
		return EventNotification{}, fmt.Errorf("service: event-notification: %w", err)
	}

	h, err := tagcodec.DecodeTagHeader(rest)
	if err != nil || !h.Opening() || h.Number != 3 {
		return EventNotification{}, fmt.Errorf("service: event-notification: missing timestamp wrapper")
	}
	rest = rest[h.HeaderLen:]
	th, err := tagcodec.DecodeTagHeader(rest)
	if err != nil || th.Class != tagcodec.ClassContext || th.Number != 0 {
		return EventNotification{}, fmt.Errorf("service: event-notification: bad timestamp")
	}
	tod, err := tagcodec.DecodeTime(rest[th.HeaderLen : th.HeaderLen+th.Length])
	if err != nil {
		return EventNotification{}, err
	}
	rest = rest[th.HeaderLen+th.Length:]
	ch, err := tagcodec.DecodeTagHeader(rest)
	if err != nil || !ch.Closing() {
		return EventNotification{}, fmt.Errorf("service: event-notification: unterminated timestamp")
	}
	rest = rest[ch.HeaderLen:]

	notifClass, rest, err := decodeContextUnsigned(rest, 4)
	if err != nil {
		return EventNotification{}, fmt.Errorf("service: event-notification: %w", err)
	}
	priority, rest, err := decodeContextUnsigned(rest, 5)
	if err != nil {
		return EventNotification{}, fmt.Errorf("service: event-notification: %w", err)
	}
	eventType, rest, err := decodeContextUnsigned(rest, 6)
	if err != nil {
		return EventNotification{}, fmt.Errorf("service: event-notification: %w", err)
	}
	notifyType, rest, err := decodeContextUnsigned(rest, 8)
	if err != nil {
		return EventNotification{}, fmt.Errorf("service: event-notification: %w", err)
	}

	ah, err := tagcodec.DecodeTagHeader(rest)
	if err != nil || ah.Class != tagcodec.ClassContext || ah.Number != 9 {
		return EventNotification{}, fmt.Errorf("service: event-notification: bad ack-required")
	}
	ackRequired := len(rest) > ah.HeaderLen && rest[ah.HeaderLen] != 0
	rest = rest[ah.HeaderLen+ah.Length:]

	fromState, rest, err := decodeContextUnsigned(rest, 10)
	if err != nil {
		return EventNotification{}, fmt.Errorf("service: event-notification: %w", err)
	}
	toState, _, err := decodeContextUnsigned(rest, 11)
	if err != nil {
		return EventNotification{}, fmt.Errorf("service: event-notification: %w", err)
	}

	return EventNotification{
		ProcessID:         pid,
		InitiatingDevice:  bacnet.DecodeObjectIdentifier(initVal),
		EventObject:       bacnet.DecodeObjectIdentifier(objVal),
		TimeOfDay:         tod,
		NotificationClass: notifClass,
		Priority:          priority,
		EventType:         eventType,
		NotifyType:        notifyType,
		AckRequired:       ackRequired,
		FromState:         fromState,
		ToState:           toState,
	}, nil
}

// PropertyReference is one property-identifier/array-index pair inside
// a ReadPropertyMultiple request's property list.
type PropertyReference struct {
	Property   bacnet.PropertyIdentifier
	ArrayIndex int
}

// ReadPropertyMultipleRequest is the body of a ReadPropertyMultiple
// confirmed request. This codec carries a single object's property
// list per request, matching objectdb.Database's single-object
// ReadPropertyMultiple signature, rather than clause 14.1's full
// list-of-ReadAccessSpecification form addressing several objects at
// once.
type ReadPropertyMultipleRequest struct {
	Object     bacnet.ObjectIdentifier
	Properties []PropertyReference
}

// EncodeReadPropertyMultipleRequest builds a ReadPropertyMultiple
// request body.
func EncodeReadPropertyMultipleRequest(r ReadPropertyMultipleRequest) []byte {
	var buf []byte
	buf = append(buf, tagcodec.EncodeContextObjectIdentifier(0, r.Object.Encode())...)
	buf = append(buf, tagcodec.EncodeOpeningTag(1)...)
	for _, p := range r.Properties {
		buf = append(buf, tagcodec.EncodeContextUnsigned(0, uint32(p.Property))...)
		if p.ArrayIndex >= 0 {
			buf = append(buf, tagcodec.EncodeContextUnsigned(1, uint32(p.ArrayIndex))...)
		}
	}
	buf = append(buf, tagcodec.EncodeClosingTag(1)...)
	return buf
}

// DecodeReadPropertyMultipleRequest parses a ReadPropertyMultiple
// request body.
func DecodeReadPropertyMultipleRequest(data []byte) (ReadPropertyMultipleRequest, error) {
	objVal, rest, err := decodeContextUnsigned(data, 0)
	if err != nil {
		return ReadPropertyMultipleRequest{}, fmt.Errorf("service: read-property-multiple: %w", err)
	}
	h, err := tagcodec.DecodeTagHeader(rest)
	if err != nil || !h.Opening() || h.Number != 1 {
		return ReadPropertyMultipleRequest{}, fmt.Errorf("service: read-property-multiple: missing property-list wrapper")
	}
	body := rest[h.HeaderLen:]
	r := ReadPropertyMultipleRequest{Object: bacnet.DecodeObjectIdentifier(objVal)}
	for len(body) > 0 {
		ph, err := tagcodec.DecodeTagHeader(body)
		if err != nil {
			return ReadPropertyMultipleRequest{}, err
		}
		if ph.Closing() {
			break
		}
		prop, after, err := decodeContextUnsigned(body, 0)
		if err != nil {
			return ReadPropertyMultipleRequest{}, err
		}
		body = after
		ref := PropertyReference{Property: bacnet.PropertyIdentifier(prop), ArrayIndex: noArrayIndex}
		if idx, after2, err := decodeContextUnsigned(body, 1); err == nil {
			ref.ArrayIndex = int(idx)
			body = after2
		}
		r.Properties = append(r.Properties, ref)
	}
	return r, nil
}

// ReadPropertyMultipleResult is one property's outcome inside a
// ReadPropertyMultiple ack: either Value carries the decoded value, or
// HasError is set and ErrorClass/ErrorCode carry the per-property
// Error-PDU pair clause 14.1 allows in place of a value.
type ReadPropertyMultipleResult struct {
	Property   bacnet.PropertyIdentifier
	ArrayIndex int
	Value      objectdb.Value
	HasError   bool
	ErrorClass bacnet.ErrorClass
	ErrorCode  bacnet.ErrorCode
}

// ReadPropertyMultipleAck is the body of a ReadPropertyMultiple
// ComplexAck, mirroring ReadPropertyMultipleRequest's single-object
// simplification.
type ReadPropertyMultipleAck struct {
	Object  bacnet.ObjectIdentifier
	Results []ReadPropertyMultipleResult
}

// EncodeReadPropertyMultipleAck builds a ReadPropertyMultiple ack body.
func EncodeReadPropertyMultipleAck(a ReadPropertyMultipleAck) []byte {
	var buf []byte
	buf = append(buf, tagcodec.EncodeContextObjectIdentifier(0, a.Object.Encode())...)
	buf = append(buf, tagcodec.EncodeOpeningTag(1)...)
	for _, r := range a.Results {
		buf = append(buf, tagcodec.EncodeContextUnsigned(0, uint32(r.Property))...)
		if r.ArrayIndex >= 0 {
			buf = append(buf, tagcodec.EncodeContextUnsigned(1, uint32(r.ArrayIndex))...)
		}
		if r.HasError {
			buf = append(buf, tagcodec.EncodeOpeningTag(5)...)
			buf = append(buf, tagcodec.EncodeContextEnumerated(0, uint32(r.ErrorClass))...)
			buf = append(buf, tagcodec.EncodeContextEnumerated(1, uint32(r.ErrorCode))...)
			buf = append(buf, tagcodec.EncodeClosingTag(5)...)
			continue
		}
		buf = append(buf, tagcodec.EncodeOpeningTag(4)...)
		buf = append(buf, EncodeValue(r.Value)...)
		buf = append(buf, tagcodec.EncodeClosingTag(4)...)
	}
	buf = append(buf, tagcodec.EncodeClosingTag(1)...)
	return buf
}

// DecodeReadPropertyMultipleAck parses a ReadPropertyMultiple ack body.
func DecodeReadPropertyMultipleAck(data []byte) (ReadPropertyMultipleAck, error) {
	objVal, rest, err := decodeContextUnsigned(data, 0)
	if err != nil {
		return ReadPropertyMultipleAck{}, fmt.Errorf("service: read-property-multiple-ack: %w", err)
	}
	h, err := tagcodec.DecodeTagHeader(rest)
	if err != nil || !h.Opening() || h.Number != 1 {
		return ReadPropertyMultipleAck{}, fmt.Errorf("service: read-property-multiple-ack: missing result-list wrapper")
	}
	body := rest[h.HeaderLen:]
	a := ReadPropertyMultipleAck{Object: bacnet.DecodeObjectIdentifier(objVal)}
	for len(body) > 0 {
		ph, err := tagcodec.DecodeTagHeader(body)
		if err != nil {
			return ReadPropertyMultipleAck{}, err
		}
		if ph.Closing() {
			break
		}
		prop, after, err := decodeContextUnsigned(body, 0)
		if err != nil {
			return ReadPropertyMultipleAck{}, err
		}
		body = after
		res := ReadPropertyMultipleResult{Property: bacnet.PropertyIdentifier(prop), ArrayIndex: noArrayIndex}
		if idx, after2, err := decodeContextUnsigned(body, 1); err == nil {
			res.ArrayIndex = int(idx)
			body = after2
		}

		wh, err := tagcodec.DecodeTagHeader(body)
		if err != nil || !wh.Opening() {
			return ReadPropertyMultipleAck{}, fmt.Errorf("service: read-property-multiple-ack: missing result wrapper")
		}
		inner := body[wh.HeaderLen:]
		if wh.Number == 5 {
			class, after3, err := decodeContextUnsigned(inner, 0)
			if err != nil {
				return ReadPropertyMultipleAck{}, err
			}
			code, after4, err := decodeContextUnsigned(after3, 1)
			if err != nil {
				return ReadPropertyMultipleAck{}, err
			}
			res.HasError = true
			res.ErrorClass = bacnet.ErrorClass(class)
			res.ErrorCode = bacnet.ErrorCode(code)
			inner = after4
		} else {
			values, consumed, err := decodeValueSequence(inner)
			if err != nil {
				return ReadPropertyMultipleAck{}, err
			}
			switch len(values) {
			case 0:
				res.Value = objectdb.Null()
			case 1:
				res.Value = values[0]
			default:
				res.Value = objectdb.List(values)
			}
			inner = inner[consumed:]
		}
		ch, err := tagcodec.DecodeTagHeader(inner)
		if err != nil || !ch.Closing() {
			return ReadPropertyMultipleAck{}, fmt.Errorf("service: read-property-multiple-ack: unterminated result wrapper")
		}
		body = inner[ch.HeaderLen:]
		a.Results = append(a.Results, res)
	}
	return a, nil
}

// WriteAccessSpec is one property write inside a WritePropertyMultiple
// request.
type WriteAccessSpec struct {
	Property   bacnet.PropertyIdentifier
	ArrayIndex int
	Value      objectdb.Value
	HasPrio    bool
	Priority   int
}

// WritePropertyMultipleRequest is the body of a WritePropertyMultiple
// confirmed request, carrying one object's list of writes (see
// ReadPropertyMultipleRequest's doc comment for the same
// single-object simplification).
type WritePropertyMultipleRequest struct {
	Object bacnet.ObjectIdentifier
	Writes []WriteAccessSpec
}

// EncodeWritePropertyMultipleRequest builds a WritePropertyMultiple
// request body.
func EncodeWritePropertyMultipleRequest(w WritePropertyMultipleRequest) []byte {
	var buf []byte
	buf = append(buf, tagcodec.EncodeContextObjectIdentifier(0, w.Object.Encode())...)
	buf = append(buf, tagcodec.EncodeOpeningTag(1)...)
	for _, spec := range w.Writes {
		buf = append(buf, tagcodec.EncodeContextUnsigned(0, uint32(spec.Property))...)
		if spec.ArrayIndex >= 0 {
			buf = append(buf, tagcodec.EncodeContextUnsigned(1, uint32(spec.ArrayIndex))...)
		}
		buf = append(buf, tagcodec.EncodeOpeningTag(2)...)
		buf = append(buf, EncodeValue(spec.Value)...)
		buf = append(buf, tagcodec.EncodeClosingTag(2)...)
		if spec.HasPrio {
			buf = append(buf, tagcodec.EncodeContextUnsigned(3, uint32(spec.Priority))...)
		}
	}
	buf = append(buf, tagcodec.EncodeClosingTag(1)...)
	return buf
}

// DecodeWritePropertyMultipleRequest parses a WritePropertyMultiple
// request body.
func DecodeWritePropertyMultipleRequest(data []byte) (WritePropertyMultipleRequest, error) {
	objVal, rest, err := decodeContextUnsigned(data, 0)
	if err != nil {
		return WritePropertyMultipleRequest{}, fmt.Errorf("service: write-property-multiple: %w", err)
	}
	h, err := tagcodec.DecodeTagHeader(rest)
	if err != nil || !h.Opening() || h.Number != 1 {
		return WritePropertyMultipleRequest{}, fmt.Errorf("service: write-property-multiple: missing write-list wrapper")
	}
	body := rest[h.HeaderLen:]
	w := WritePropertyMultipleRequest{Object: bacnet.DecodeObjectIdentifier(objVal)}
	for len(body) > 0 {
		ph, err := tagcodec.DecodeTagHeader(body)
		if err != nil {
			return WritePropertyMultipleRequest{}, err
		}
		if ph.Closing() {
			break
		}
		prop, after, err := decodeContextUnsigned(body, 0)
		if err != nil {
			return WritePropertyMultipleRequest{}, err
		}
		body = after
		spec := WriteAccessSpec{Property: bacnet.PropertyIdentifier(prop), ArrayIndex: noArrayIndex}
		if idx, after2, err := decodeContextUnsigned(body, 1); err == nil {
			spec.ArrayIndex = int(idx)
			body = after2
		}
		vh, err := tagcodec.DecodeTagHeader(body)
		if err != nil || !vh.Opening() || vh.Number != 2 {
			return WritePropertyMultipleRequest{}, fmt.Errorf("service: write-property-multiple: missing value wrapper")
		}
		inner := body[vh.HeaderLen:]
		values, consumed, err := decodeValueSequence(inner)
		if err != nil {
			return WritePropertyMultipleRequest{}, err
		}
		switch len(values) {
		case 0:
			spec.Value = objectdb.Null()
		case 1:
			spec.Value = values[0]
		default:
			spec.Value = objectdb.List(values)
		}
		inner = inner[consumed:]
		ch, err := tagcodec.DecodeTagHeader(inner)
		if err != nil || !ch.Closing() {
			return WritePropertyMultipleRequest{}, fmt.Errorf("service: write-property-multiple: unterminated value wrapper")
		}
		body = inner[ch.HeaderLen:]
		if prio, after3, err := decodeContextUnsigned(body, 3); err == nil {
			spec.HasPrio = true
			spec.Priority = int(prio)
			body = after3
		}
		w.Writes = append(w.Writes, spec)
	}
	return w, nil
}

// ReadRangeRequest is the body of a ReadRange confirmed request. A
// request with HasRange false asks for the whole array. All three
// forms carry the same integer reference index; RangeByTime encodes
// that index in place of a timestamp, since objectdb.Database does not
// track per-entry event times.
type ReadRangeRequest struct {
	Object         bacnet.ObjectIdentifier
	Property       bacnet.PropertyIdentifier
	ArrayIndex     int
	HasRange       bool
	Selector       objectdb.RangeSelector
	ReferenceIndex int
	Count          int
}

// rangeSelectorTag maps a RangeSelector to its clause 15.7 context-tag
// number for the range choice.
func rangeSelectorTag(s objectdb.RangeSelector) uint8 {
	switch s {
	case objectdb.RangeBySequence:
		return 6
	case objectdb.RangeByTime:
		return 7
	default:
		return 3
	}
}

// EncodeReadRangeRequest builds a ReadRange request body.
func EncodeReadRangeRequest(r ReadRangeRequest) []byte {
	var buf []byte
	buf = append(buf, tagcodec.EncodeContextObjectIdentifier(0, r.Object.Encode())...)
	buf = append(buf, tagcodec.EncodeContextUnsigned(1, uint32(r.Property))...)
	if r.ArrayIndex >= 0 {
		buf = append(buf, tagcodec.EncodeContextUnsigned(2, uint32(r.ArrayIndex))...)
	}
	if r.HasRange {
		tagNum := rangeSelectorTag(r.Selector)
		buf = append(buf, tagcodec.EncodeOpeningTag(tagNum)...)
		buf = append(buf, tagcodec.EncodeContextSigned(0, int32(r.ReferenceIndex))...)
		buf = append(buf, tagcodec.EncodeContextSigned(1, int32(r.Count))...)
		buf = append(buf, tagcodec.EncodeClosingTag(tagNum)...)
	}
	return buf
}

// DecodeReadRangeRequest parses a ReadRange request body.
func DecodeReadRangeRequest(data []byte) (ReadRangeRequest, error) {
	objVal, rest, err := decodeContextUnsigned(data, 0)
	if err != nil {
		return ReadRangeRequest{}, fmt.Errorf("service: read-range: %w", err)
	}
	prop, rest, err := decodeContextUnsigned(rest, 1)
	if err != nil {
		return ReadRangeRequest{}, fmt.Errorf("service: read-range: %w", err)
	}
	r := ReadRangeRequest{
		Object:     bacnet.DecodeObjectIdentifier(objVal),
		Property:   bacnet.PropertyIdentifier(prop),
		ArrayIndex: noArrayIndex,
	}
	if idx, after, err := decodeContextUnsigned(rest, 2); err == nil {
		r.ArrayIndex = int(idx)
		rest = after
	}
	if len(rest) == 0 {
		return r, nil
	}

	h, err := tagcodec.DecodeTagHeader(rest)
	if err != nil || !h.Opening() {
		return r, nil
	}
	switch h.Number {
	case 3:
		r.Selector = objectdb.RangeByPosition
	case 6:
		r.Selector = objectdb.RangeBySequence
	case 7:
		r.Selector = objectdb.RangeByTime
	default:
		return r, nil
	}
	body := rest[h.HeaderLen:]
	refHeader, err := tagcodec.DecodeTagHeader(body)
	if err != nil || refHeader.Class != tagcodec.ClassContext || refHeader.Number != 0 {
		return ReadRangeRequest{}, fmt.Errorf("service: read-range: bad reference index")
	}
	ref := tagcodec.DecodeSigned(body[refHeader.HeaderLen : refHeader.HeaderLen+refHeader.Length])
	body = body[refHeader.HeaderLen+refHeader.Length:]
	cntHeader, err := tagcodec.DecodeTagHeader(body)
	if err != nil || cntHeader.Class != tagcodec.ClassContext || cntHeader.Number != 1 {
		return ReadRangeRequest{}, fmt.Errorf("service: read-range: bad count")
	}
	count := tagcodec.DecodeSigned(body[cntHeader.HeaderLen : cntHeader.HeaderLen+cntHeader.Length])

	r.HasRange = true
	r.ReferenceIndex = int(ref)
	r.Count = int(count)
	return r, nil
}

// ReadRangeAck is the body of a ReadRange ComplexAck.
type ReadRangeAck struct {
	Object      bacnet.ObjectIdentifier
	Property    bacnet.PropertyIdentifier
	ArrayIndex  int
	ResultFlags tagcodec.BitString
	ItemCount   int
	Items       []objectdb.Value
}

// EncodeReadRangeAck builds a ReadRange ack body.
func EncodeReadRangeAck(a ReadRangeAck) []byte {
	var buf []byte
	buf = append(buf, tagcodec.EncodeContextObjectIdentifier(0, a.Object.Encode())...)
	buf = append(buf, tagcodec.EncodeContextUnsigned(1, uint32(a.Property))...)
	if a.ArrayIndex >= 0 {
		buf = append(buf, tagcodec.EncodeContextUnsigned(2, uint32(a.ArrayIndex))...)
	}
	buf = append(buf, tagcodec.EncodeContextBitString(3, a.ResultFlags)...)
	buf = append(buf, tagcodec.EncodeContextUnsigned(4, uint32(a.ItemCount))...)
	buf = append(buf, tagcodec.EncodeOpeningTag(5)...)
	for _, v := range a.Items {
		buf = append(buf, EncodeValue(v)...)
	}
	buf = append(buf, tagcodec.EncodeClosingTag(5)...)
	return buf
}

// DecodeReadRangeAck parses a ReadRange ack body.
func DecodeReadRangeAck(data []byte) (ReadRangeAck, error) {
	objVal, rest, err := decodeContextUnsigned(data, 0)
	if err != nil {
		return ReadRangeAck{}, fmt.Errorf("service: read-range-ack: %w", err)
	}
	prop, rest, err := decodeContextUnsigned(rest, 1)
	if err != nil {
		return ReadRangeAck{}, fmt.Errorf("service: read-range-ack: %w", err)
	}
	a := ReadRangeAck{
		Object:     bacnet.DecodeObjectIdentifier(objVal),
		Property:   bacnet.PropertyIdentifier(prop),
		ArrayIndex: noArrayIndex,
	}
	if idx, after, err := decodeContextUnsigned(rest, 2); err == nil {
		a.ArrayIndex = int(idx)
		rest = after
	}

	fh, err := tagcodec.DecodeTagHeader(rest)
	if err != nil || fh.Class != tagcodec.ClassContext || fh.Number != 3 {
		return ReadRangeAck{}, fmt.Errorf("service: read-range-ack: bad result-flags")
	}
	flags, err := tagcodec.DecodeBitString(rest[fh.HeaderLen : fh.HeaderLen+fh.Length])
	if err != nil {
		return ReadRangeAck{}, err
	}
	a.ResultFlags = flags
	rest = rest[fh.HeaderLen+fh.Length:]

	count, rest, err := decodeContextUnsigned(rest, 4)
	if err != nil {
		return ReadRangeAck{}, fmt.Errorf("service: read-range-ack: %w", err)
	}
	a.ItemCount = int(count)

	h, err := tagcodec.DecodeTagHeader(rest)
	if err != nil || !h.Opening() || h.Number != 5 {
		return ReadRangeAck{}, fmt.Errorf("service: read-range-ack: missing item-data wrapper")
	}
	body := rest[h.HeaderLen:]
	items, _, err := decodeValueSequence(body)
	if err != nil {
		return ReadRangeAck{}, err
	}
	a.Items = items
	return a, nil
}

// decodeContextUnsigned decodes a context-tagged unsigned integer at
// the front of data if its tag number matches tagNum, returning the
// value and the remaining bytes after it.
func decodeContextUnsigned(data []byte, tagNum uint8) (uint32, []byte, error) {
	h, err := tagcodec.DecodeTagHeader(data)
	if err != nil {
		return 0, nil, err
	}
	if h.Class != tagcodec.ClassContext || h.Number != tagNum || h.Length < 0 {
		return 0, nil, fmt.Errorf("service: expected context tag %d, got class=%d number=%d", tagNum, h.Class, h.Number)
	}
	total := h.HeaderLen + h.Length
	if len(data) < total {
		return 0, nil, ErrTruncated
	}
	return tagcodec.DecodeUnsigned(data[h.HeaderLen:total]), data[total:], nil
}
