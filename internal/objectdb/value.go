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

// Package objectdb holds the object-identifier-keyed database of
// BACnet objects, their properties and priority arrays, and the
// ReadProperty/WriteProperty family of service handlers.
package objectdb

import (
	"fmt"

	"github.com/bacstack/bacstack"
	"github.com/bacstack/bacstack/tagcodec"
)

// Kind identifies which field of Value is populated.
type Kind uint8

const (
	KindNull Kind = iota
	KindBoolean
	KindUnsigned
	KindSigned
	KindReal
	KindDouble
	KindOctetString
	KindCharacterString
	KindBitString
	KindEnumerated
	KindDate
	KindTime
	KindObjectID
	KindList
)

// Value is a tagged union covering every application-tagged primitive
// a property can hold, plus a List kind for array/list-valued
// properties that hold more than one element.
type Value struct {
	Kind     Kind
	Boolean  bool
	Unsigned uint32
	Signed   int32
	Real     float32
	Double   float64
	Octets   []byte
	Text     string
	BitStr   tagcodec.BitString
	Enum     uint32
	Date     tagcodec.Date
	Time     tagcodec.Time
	ObjectID bacnet.ObjectIdentifier
	List     []Value
}

func Null() Value             { return Value{Kind: KindNull} }
func Bool(v bool) Value       { return Value{Kind: KindBoolean, Boolean: v} }
func Unsigned(v uint32) Value { return Value{Kind: KindUnsigned, Unsigned: v} }
func Signed(v int32) Value    { return Value{Kind: KindSigned, Signed: v} }
func Real(v float32) Value    { return Value{Kind: KindReal, Real: v} }
func Double(v float64) Value  { return Value{Kind: KindDouble, Double: v} }
func Octets(v []byte) Value   { return Value{Kind: KindOctetString, Octets: v} }
func Str(v string) Value      { return Value{Kind: KindCharacterString, Text: v} }
func BitString(v tagcodec.BitString) Value {
	return Value{Kind: KindBitString, BitStr: v}
}
func Enumerated(v uint32) Value       { return Value{Kind: KindEnumerated, Enum: v} }
func DateValue(v tagcodec.Date) Value { return Value{Kind: KindDate, Date: v} }
func TimeValue(v tagcodec.Time) Value { return Value{Kind: KindTime, Time: v} }
func ObjectID(v bacnet.ObjectIdentifier) Value {
	return Value{Kind: KindObjectID, ObjectID: v}
}
func List(v []Value) Value { return Value{Kind: KindList, List: v} }

// Equal reports whether two values represent the same content. Used to
// decide whether a write actually changed anything (the write-observer
// trigger condition).
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBoolean:
		return v.Boolean == o.Boolean
	case KindUnsigned:
		return v.Unsigned == o.Unsigned
	case KindSigned:
		return v.Signed == o.Signed
	case KindReal:
		return v.Real == o.Real
	case KindDouble:
		return v.Double == o.Double
	case KindOctetString:
		return string(v.Octets) == string(o.Octets)
	case KindCharacterString:
		return v.Text == o.Text
	case KindEnumerated:
		return v.Enum == o.Enum
	case KindDate:
		return v.Date == o.Date
	case KindTime:
		return v.Time == o.Time
	case KindObjectID:
		return v.ObjectID == o.ObjectID
	case KindBitString:
		if v.BitStr.Bits != o.BitStr.Bits {
			return false
		}
		return string(v.BitStr.Bytes) == string(o.BitStr.Bytes)
	case KindList:
		if len(v.List) != len(o.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(o.List[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// AsFloat64 returns the value's numeric content for the types an event
// algorithm's deadband arithmetic operates on.
func (v Value) AsFloat64() (float64, bool) {
	switch v.Kind {
	case KindReal:
		return float64(v.Real), true
	case KindDouble:
		return v.Double, true
	case KindUnsigned:
		return float64(v.Unsigned), true
	case KindSigned:
		return float64(v.Signed), true
	default:
		return 0, false
	}
}

// String renders the value for logging and CLI display.
func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindBoolean:
		return fmt.Sprintf("%t", v.Boolean)
	case KindUnsigned:
		return fmt.Sprintf("%d", v.Unsigned)
	case KindSigned:
		return fmt.Sprintf("%d", v.Signed)
	case KindReal:
		return fmt.Sprintf("%g", v.Real)
	case KindDouble:
		return fmt.Sprintf("%g", v.Double)
	case KindOctetString:
		return fmt.Sprintf("%x", v.Octets)
	case KindCharacterString:
		return v.Text
	case KindEnumerated:
		return fmt.Sprintf("enum(%d)", v.Enum)
	case KindObjectID:
		return v.ObjectID.String()
	default:
		return fmt.Sprintf("%+v", v)
	}
}
