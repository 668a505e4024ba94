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

package service

import (
	"testing"

	"github.com/bacstack/bacstack"
	"github.com/bacstack/bacstack/internal/objectdb"
	"github.com/bacstack/bacstack/tagcodec"
	"github.com/stretchr/testify/require"
)

func TestWhoIsUnrangedRoundTrip(t *testing.T) {
	data := EncodeWhoIs(WhoIs{})
	require.Empty(t, data)
	w, err := DecodeWhoIs(data)
	require.NoError(t, err)
	require.False(t, w.HasRange)
}

func TestWhoIsRangedRoundTrip(t *testing.T) {
	data := EncodeWhoIs(WhoIs{HasRange: true, Low: 10, High: 20})
	w, err := DecodeWhoIs(data)
	require.NoError(t, err)
	require.True(t, w.HasRange)
	require.EqualValues(t, 10, w.Low)
	require.EqualValues(t, 20, w.High)
}

func TestIAmRoundTrip(t *testing.T) {
	a := IAm{
		DeviceID:     bacnet.NewObjectIdentifier(bacnet.ObjectTypeDevice, 1001),
		MaxAPDU:      1476,
		Segmentation: bacnet.SegmentationBoth,
		VendorID:     260,
	}
	data := EncodeIAm(a)
	got, err := DecodeIAm(data)
	require.NoError(t, err)
	require.Equal(t, a, got)
}

func TestReadPropertyRequestRoundTrip(t *testing.T) {
	r := ReadPropertyRequest{
		Object:     bacnet.NewObjectIdentifier(bacnet.ObjectTypeAnalogInput, 3),
		Property:   bacnet.PropertyPresentValue,
		ArrayIndex: -1,
	}
	data := EncodeReadPropertyRequest(r)
	got, err := DecodeReadPropertyRequest(data)
	require.NoError(t, err)
	require.Equal(t, r, got)
}

func TestReadPropertyAckRoundTripScalar(t *testing.T) {
	a := ReadPropertyAck{
		Object:     bacnet.NewObjectIdentifier(bacnet.ObjectTypeAnalogInput, 3),
		Property:   bacnet.PropertyPresentValue,
		ArrayIndex: -1,
		Value:      objectdb.Real(72.5),
	}
	data := EncodeReadPropertyAck(a)
	got, err := DecodeReadPropertyAck(data)
	require.NoError(t, err)
	require.Equal(t, a.Object, got.Object)
	require.Equal(t, a.Property, got.Property)
	require.True(t, a.Value.Equal(got.Value))
}

func TestWritePropertyRequestRoundTripWithPriority(t *testing.T) {
	w := WritePropertyRequest{
		Object:     bacnet.NewObjectIdentifier(bacnet.ObjectTypeAnalogOutput, 1),
		Property:   bacnet.PropertyPresentValue,
		ArrayIndex: -1,
		Value:      objectdb.Real(55.0),
		HasPrio:    true,
		Priority:   8,
	}
	data := EncodeWritePropertyRequest(w)
	got, err := DecodeWritePropertyRequest(data)
	require.NoError(t, err)
	require.Equal(t, w.Object, got.Object)
	require.Equal(t, w.Property, got.Property)
	require.True(t, w.Value.Equal(got.Value))
	require.True(t, got.HasPrio)
	require.Equal(t, 8, got.Priority)
}

func TestWritePropertyRequestRoundTripNoPriority(t *testing.T) {
	w := WritePropertyRequest{
		Object:     bacnet.NewObjectIdentifier(bacnet.ObjectTypeBinaryOutput, 1),
		Property:   bacnet.PropertyPresentValue,
		ArrayIndex: -1,
		Value:      objectdb.Enumerated(1),
	}
	data := EncodeWritePropertyRequest(w)
	got, err := DecodeWritePropertyRequest(data)
	require.NoError(t, err)
	require.False(t, got.HasPrio)
	require.True(t, w.Value.Equal(got.Value))
}

func TestSubscribeCOVRequestRoundTrip(t *testing.T) {
	s := SubscribeCOVRequest{
		ProcessID:   7,
		Object:      bacnet.NewObjectIdentifier(bacnet.ObjectTypeAnalogInput, 3),
		Confirmed:   true,
		HasLifetime: true,
		Lifetime:    3600,
	}
	data := EncodeSubscribeCOVRequest(s)
	got, err := DecodeSubscribeCOVRequest(data)
	require.NoError(t, err)
	require.Equal(t, s, got)
}

func TestSubscribeCOVRequestCancellationRoundTrip(t *testing.T) {
	s := SubscribeCOVRequest{
		ProcessID: 7,
		Object:    bacnet.NewObjectIdentifier(bacnet.ObjectTypeAnalogInput, 3),
		Cancel:    true,
	}
	data := EncodeSubscribeCOVRequest(s)
	got, err := DecodeSubscribeCOVRequest(data)
	require.NoError(t, err)
	require.True(t, got.Cancel)
}

func TestEventNotificationRoundTrip(t *testing.T) {
	n := EventNotification{
		ProcessID:         1,
		InitiatingDevice:  bacnet.NewObjectIdentifier(bacnet.ObjectTypeDevice, 1001),
		EventObject:       bacnet.NewObjectIdentifier(bacnet.ObjectTypeAnalogInput, 3),
		TimeOfDay:         tagcodec.Time{Hour: 14, Minute: 30, Second: 5, Hundredths: 0},
		NotificationClass: 1,
		Priority:          100,
		EventType:         2, // change-of-value, clause 13.3 event_type enumeration
		NotifyType:        1,
		AckRequired:       true,
		FromState:         uint32(bacnet.EventStateNormal),
		ToState:           uint32(bacnet.EventStateHighLimit),
	}
	data := EncodeEventNotification(n)
	got, err := DecodeEventNotification(data)
	require.NoError(t, err)
	require.Equal(t, n, got)
}

func TestEventNotificationRoundTripNoAck(t *testing.T) {
	n := EventNotification{
		ProcessID:         2,
		InitiatingDevice:  bacnet.NewObjectIdentifier(bacnet.ObjectTypeDevice, 1001),
		EventObject:       bacnet.NewObjectIdentifier(bacnet.ObjectTypeBinaryInput, 7),
		TimeOfDay:         tagcodec.Time{Hour: 0, Minute: 0, Second: 0, Hundredths: 0},
		NotificationClass: 0,
		Priority:          200,
		EventType:         0, // change-of-bitstring
		NotifyType:        0,
		AckRequired:       false,
		FromState:         uint32(bacnet.EventStateHighLimit),
		ToState:           uint32(bacnet.EventStateNormal),
	}
	data := EncodeEventNotification(n)
	got, err := DecodeEventNotification(data)
	require.NoError(t, err)
	require.Equal(t, n, got)
}

func TestCOVNotificationRoundTrip(t *testing.T) {
	n := COVNotification{
		ProcessID:        7,
		InitiatingDevice: bacnet.NewObjectIdentifier(bacnet.ObjectTypeDevice, 1001),
		MonitoredObject:  bacnet.NewObjectIdentifier(bacnet.ObjectTypeAnalogInput, 3),
		TimeRemaining:    60,
		Values: []PropertyValue{
			{Property: bacnet.PropertyPresentValue, ArrayIndex: -1, Value: objectdb.Real(21.5)},
			{Property: bacnet.PropertyStatusFlags, ArrayIndex: -1, Value: objectdb.BitString(tagcodec.NewBitString(false, false, false, false))},
		},
	}
	data := EncodeCOVNotification(n)
	got, err := DecodeCOVNotification(data)
	require.NoError(t, err)
	require.Equal(t, n.ProcessID, got.ProcessID)
	require.Equal(t, n.InitiatingDevice, got.InitiatingDevice)
	require.Equal(t, n.MonitoredObject, got.MonitoredObject)
	require.Equal(t, n.TimeRemaining, got.TimeRemaining)
	require.Len(t, got.Values, 2)
	require.True(t, n.Values[0].Value.Equal(got.Values[0].Value))
}
