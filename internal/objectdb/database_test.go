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

package objectdb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bacstack/bacstack"
	"github.com/bacstack/bacstack/tagcodec"
)

func newTestDevice() (*Database, bacnet.ObjectIdentifier) {
	devID := bacnet.NewObjectIdentifier(bacnet.ObjectTypeDevice, 1)
	db := New(devID)
	dev := NewObject(devID)
	dev.Set(bacnet.PropertyObjectIdentifier, ObjectID(devID))
	dev.Set(bacnet.PropertyObjectName, Str("device-1"))
	dev.Set(bacnet.PropertyDatabaseRevision, Unsigned(0))
	_ = db.Add(dev)
	return db, devID
}

func TestAddEnforcesIdentifierUniqueness(t *testing.T) {
	db, _ := newTestDevice()
	dup := NewObject(bacnet.NewObjectIdentifier(bacnet.ObjectTypeDevice, 1))
	err := db.Add(dup)
	require.Error(t, err)
}

func TestAddEnforcesNameUniqueness(t *testing.T) {
	db, _ := newTestDevice()
	av := NewObject(bacnet.NewObjectIdentifier(bacnet.ObjectTypeAnalogValue, 1))
	av.Set(bacnet.PropertyObjectName, Str("device-1"))
	err := db.Add(av)
	require.Error(t, err)
}

func TestDeleteDeviceObjectRejected(t *testing.T) {
	db, devID := newTestDevice()
	err := db.Delete(devID)
	require.Error(t, err)
}

func TestDeviceWildcardResolvesToDevice(t *testing.T) {
	db, devID := newTestDevice()
	wildcard := bacnet.NewObjectIdentifier(bacnet.ObjectTypeDevice, wildcardDeviceInstance)
	obj, ok := db.Find(wildcard)
	require.True(t, ok)
	require.Equal(t, devID, obj.ID)
}

func TestWritePropertyCommandablePriority(t *testing.T) {
	db, _ := newTestDevice()
	id := bacnet.NewObjectIdentifier(bacnet.ObjectTypeAnalogValue, 1)
	obj := NewObject(id)
	obj.Set(bacnet.PropertyObjectName, Str("av-1"))
	obj.MakeCommandable(Real(0))
	require.NoError(t, db.Add(obj))

	var observed []Value
	db.SetWriteObserver(func(oid bacnet.ObjectIdentifier, prop bacnet.PropertyIdentifier, v Value) {
		observed = append(observed, v)
	})

	require.NoError(t, db.WriteProperty(id, bacnet.PropertyPresentValue, Real(10), 8))
	v, err := db.ReadProperty(id, bacnet.PropertyPresentValue, -1)
	require.NoError(t, err)
	require.Equal(t, Real(10), v)
	require.Len(t, observed, 1)

	require.NoError(t, db.WriteProperty(id, bacnet.PropertyPresentValue, Real(20), 4))
	v, _ = db.ReadProperty(id, bacnet.PropertyPresentValue, -1)
	require.Equal(t, Real(20), v)
}

func TestWritePropertyRejectsPriority6WhenRestricted(t *testing.T) {
	db, _ := newTestDevice()
	id := bacnet.NewObjectIdentifier(bacnet.ObjectTypeAnalogValue, 2)
	obj := NewObject(id)
	obj.Set(bacnet.PropertyObjectName, Str("av-2"))
	obj.Set(bacnet.PropertyMinimumOnTime, Unsigned(30))
	obj.MakeCommandable(Real(0))
	require.NoError(t, db.Add(obj))

	err := db.WriteProperty(id, bacnet.PropertyPresentValue, Real(5), 6)
	require.Error(t, err)
}

func TestWritePropertyAllowsPriority6WhenNotRestricted(t *testing.T) {
	db, _ := newTestDevice()
	id := bacnet.NewObjectIdentifier(bacnet.ObjectTypeAnalogValue, 3)
	obj := NewObject(id)
	obj.Set(bacnet.PropertyObjectName, Str("av-3"))
	obj.MakeCommandable(Real(0))
	require.NoError(t, db.Add(obj))

	err := db.WriteProperty(id, bacnet.PropertyPresentValue, Real(5), 6)
	require.NoError(t, err)
}

func TestWritePropertyRejectsNonOutOfServicePresentValue(t *testing.T) {
	db, _ := newTestDevice()
	id := bacnet.NewObjectIdentifier(bacnet.ObjectTypeAnalogInput, 1)
	obj := NewObject(id)
	obj.Set(bacnet.PropertyObjectName, Str("ai-1"))
	obj.Set(bacnet.PropertyPresentValue, Real(1))
	require.NoError(t, db.Add(obj))

	err := db.WriteProperty(id, bacnet.PropertyPresentValue, Real(2), 0)
	require.Error(t, err)

	require.NoError(t, db.WriteProperty(id, bacnet.PropertyOutOfService, Bool(true), 0))
	require.NoError(t, db.WriteProperty(id, bacnet.PropertyPresentValue, Real(2), 0))
}

func TestReadPropertyMultipleExpandsRequired(t *testing.T) {
	db, _ := newTestDevice()
	id := bacnet.NewObjectIdentifier(bacnet.ObjectTypeAnalogValue, 4)
	obj := NewObject(id)
	obj.Set(bacnet.PropertyObjectIdentifier, ObjectID(id))
	obj.Set(bacnet.PropertyObjectName, Str("av-4"))
	obj.Set(bacnet.PropertyObjectType, Enumerated(uint32(bacnet.ObjectTypeAnalogValue)))
	obj.Set(bacnet.PropertyStatusFlags, BitString(tagcodec.NewBitString(false, false, false, false)))
	obj.Set(bacnet.PropertyEventState, Enumerated(0))
	obj.Set(bacnet.PropertyOutOfService, Bool(false))
	obj.Set(bacnet.PropertyUnits, Enumerated(uint32(bacnet.UnitsNoUnits)))
	obj.MakeCommandable(Real(0))
	require.NoError(t, db.Add(obj))

	results := db.ReadPropertyMultiple(id, []bacnet.PropertyIdentifier{bacnet.PropertyRequired})
	require.NotEmpty(t, results)
	for _, r := range results {
		require.NoError(t, r.Err, r.Property)
	}
}

func TestReadRangeByPosition(t *testing.T) {
	db, _ := newTestDevice()
	id := bacnet.NewObjectIdentifier(bacnet.ObjectTypeDevice, 1)
	obj, _ := db.Find(id)
	obj.Set(bacnet.PropertyLogBuffer, List([]Value{Unsigned(1), Unsigned(2), Unsigned(3), Unsigned(4), Unsigned(5)}))

	res, err := db.ReadRange(id, bacnet.PropertyLogBuffer, RangeRequest{Selector: RangeByPosition, ReferenceIndex: 2, Count: 2})
	require.NoError(t, err)
	require.Equal(t, 2, res.ItemCount)
	require.Equal(t, Unsigned(2), res.Items[0])
	require.Equal(t, Unsigned(3), res.Items[1])
}

func TestReadRangeNegativeCountGoesBackward(t *testing.T) {
	db, _ := newTestDevice()
	id := bacnet.NewObjectIdentifier(bacnet.ObjectTypeDevice, 1)
	obj, _ := db.Find(id)
	obj.Set(bacnet.PropertyLogBuffer, List([]Value{Unsigned(1), Unsigned(2), Unsigned(3), Unsigned(4), Unsigned(5)}))

	res, err := db.ReadRange(id, bacnet.PropertyLogBuffer, RangeRequest{Selector: RangeByPosition, ReferenceIndex: 5, Count: -3})
	require.NoError(t, err)
	require.Equal(t, []Value{Unsigned(3), Unsigned(4), Unsigned(5)}, res.Items)
}
