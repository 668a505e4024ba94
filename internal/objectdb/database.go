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
	"sync"

	"github.com/bacstack/bacstack"
	"github.com/bacstack/bacstack/tagcodec"
)

// propertiesExcludedFromPropertyList are never included in a
// synthesized PROPERTY_LIST response, per clause 12.x.
var propertiesExcludedFromPropertyList = map[bacnet.PropertyIdentifier]bool{
	bacnet.PropertyObjectIdentifier: true,
	bacnet.PropertyObjectName:       true,
	bacnet.PropertyObjectType:       true,
	bacnet.PropertyPropertyList:     true,
}

// Database is the object-identifier-keyed object store for one device.
type Database struct {
	mu       sync.Mutex
	objects  map[bacnet.ObjectIdentifier]*Object
	names    map[string]bacnet.ObjectIdentifier
	revision uint32
	observer WriteObserver

	deviceID bacnet.ObjectIdentifier
}

// New builds an empty database whose Device object has the given
// identifier (instance must not be the wildcard).
func New(deviceID bacnet.ObjectIdentifier) *Database {
	return &Database{
		objects:  make(map[bacnet.ObjectIdentifier]*Object),
		names:    make(map[string]bacnet.ObjectIdentifier),
		deviceID: deviceID,
	}
}

// SetWriteObserver installs the callback invoked after a property
// write that changes a value. Only one observer is supported; install
// before first use.
func (d *Database) SetWriteObserver(fn WriteObserver) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observer = fn
}

// Revision returns the current database_revision counter.
func (d *Database) Revision() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.revision
}

func (d *Database) bumpRevision() {
	d.revision++
	if dev, ok := d.objects[d.deviceID]; ok {
		dev.Set(bacnet.PropertyDatabaseRevision, Unsigned(d.revision))
	}
}

// wildcardDeviceInstance is the sentinel instance number that always
// resolves to the local device (clause 3).
const wildcardDeviceInstance = 0x3FFFFF

// resolve maps a requested identifier to the stored one, honoring the
// device-wildcard sentinel.
func (d *Database) resolve(id bacnet.ObjectIdentifier) bacnet.ObjectIdentifier {
	if id.Type == bacnet.ObjectTypeDevice && id.Instance == wildcardDeviceInstance {
		return d.deviceID
	}
	return id
}

// Add inserts obj into the database, enforcing identifier and name
// uniqueness, and bumps database_revision.
func (d *Database) Add(obj *Object) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addLocked(obj)
}

func (d *Database) addLocked(obj *Object) error {
	if _, exists := d.objects[obj.ID]; exists {
		return bacnet.NewBACnetError(bacnet.ErrorClassObject, bacnet.ErrorCodeObjectIdentifierAlreadyExists)
	}
	if name, ok := obj.Get(bacnet.PropertyObjectName); ok {
		if _, taken := d.names[name.Text]; taken {
			return bacnet.NewBACnetError(bacnet.ErrorClassProperty, bacnet.ErrorCodeDuplicateName)
		}
		d.names[name.Text] = obj.ID
	}
	d.objects[obj.ID] = obj
	d.bumpRevision()
	return nil
}

// Delete removes an object. The Device object itself is undeletable.
func (d *Database) Delete(id bacnet.ObjectIdentifier) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	id = d.resolve(id)
	if id == d.deviceID {
		return bacnet.NewBACnetError(bacnet.ErrorClassObject, bacnet.ErrorCodeObjectDeletionNotPermitted)
	}
	obj, ok := d.objects[id]
	if !ok {
		return bacnet.NewBACnetError(bacnet.ErrorClassObject, bacnet.ErrorCodeUnknownObject)
	}
	if name, ok := obj.Get(bacnet.PropertyObjectName); ok {
		delete(d.names, name.Text)
	}
	delete(d.objects, id)
	d.bumpRevision()
	return nil
}

// Find looks up an object by identifier, resolving the device wildcard.
func (d *Database) Find(id bacnet.ObjectIdentifier) (*Object, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	obj, ok := d.objects[d.resolve(id)]
	return obj, ok
}

// FindByName looks up an object by its Object_Name.
func (d *Database) FindByName(name string) (*Object, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.names[name]
	if !ok {
		return nil, false
	}
	return d.objects[id], true
}

// All returns every object currently in the database.
func (d *Database) All() []*Object {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Object, 0, len(d.objects))
	for _, o := range d.objects {
		out = append(out, o)
	}
	return out
}

// ReadProperty resolves target/prop/arrayIndex per clause 15.5.
func (d *Database) ReadProperty(id bacnet.ObjectIdentifier, prop bacnet.PropertyIdentifier, arrayIndex int) (Value, error) {
	d.mu.Lock()
	obj, ok := d.objects[d.resolve(id)]
	d.mu.Unlock()
	if !ok {
		return Value{}, bacnet.NewBACnetError(bacnet.ErrorClassObject, bacnet.ErrorCodeUnknownObject)
	}

	if prop == bacnet.PropertyPropertyList && arrayIndex < 0 {
		return d.propertyList(obj), nil
	}

	v, ok := obj.Get(prop)
	if !ok {
		return Value{}, bacnet.NewBACnetError(bacnet.ErrorClassProperty, bacnet.ErrorCodeUnknownProperty)
	}

	if arrayIndex < 0 {
		return v, nil
	}
	if v.Kind != KindList {
		return Value{}, bacnet.NewBACnetError(bacnet.ErrorClassProperty, bacnet.ErrorCodePropertyIsNotAnArray)
	}
	if arrayIndex == 0 {
		return Unsigned(uint32(len(v.List))), nil
	}
	if arrayIndex > len(v.List) {
		return Value{}, bacnet.NewBACnetError(bacnet.ErrorClassProperty, bacnet.ErrorCodeInvalidArrayIndex)
	}
	return v.List[arrayIndex-1], nil
}

func (d *Database) propertyList(obj *Object) Value {
	var names []Value
	for _, p := range obj.PropertyNames() {
		if propertiesExcludedFromPropertyList[p] {
			continue
		}
		names = append(names, Enumerated(uint32(p)))
	}
	return List(names)
}

// WriteProperty applies a write, enforcing read-only access, priority
// handling for commandable properties, and Object_Name uniqueness. It
// invokes the write-observer exactly when the effective value changes.
func (d *Database) WriteProperty(id bacnet.ObjectIdentifier, prop bacnet.PropertyIdentifier, value Value, priority int) error {
	d.mu.Lock()
	obj, ok := d.objects[d.resolve(id)]
	if !ok {
		d.mu.Unlock()
		return bacnet.NewBACnetError(bacnet.ErrorClassObject, bacnet.ErrorCodeUnknownObject)
	}

	if prop == bacnet.PropertyObjectName {
		if existing, taken := d.names[value.Text]; taken && existing != obj.ID {
			d.mu.Unlock()
			return bacnet.NewBACnetError(bacnet.ErrorClassProperty, bacnet.ErrorCodeDuplicateName)
		}
		old, hadName := obj.Get(bacnet.PropertyObjectName)
		if hadName {
			delete(d.names, old.Text)
		}
		d.names[value.Text] = obj.ID
		obj.Set(prop, value)
		d.bumpRevision()
		d.mu.Unlock()
		if !hadName || !old.Equal(value) {
			d.notify(obj.ID, prop, value)
		}
		return nil
	}

	if prop == bacnet.PropertyPresentValue && obj.Priority != nil {
		before := obj.Priority.Effective()
		if priority == 0 {
			priority = 16
		}
		if err := obj.Priority.Write(priority, &value); err != nil {
			d.mu.Unlock()
			return err
		}
		after := obj.Priority.Effective()
		d.mu.Unlock()
		if !before.Equal(after) {
			d.notify(obj.ID, prop, after)
		}
		return nil
	}

	if prop == bacnet.PropertyPresentValue && !obj.OutOfService {
		if oos, ok := obj.Get(bacnet.PropertyOutOfService); !ok || !oos.Boolean {
			d.mu.Unlock()
			return bacnet.NewBACnetError(bacnet.ErrorClassProperty, bacnet.ErrorCodeWriteAccessDenied)
		}
	}

	old, existed := obj.Get(prop)
	obj.Set(prop, value)
	d.mu.Unlock()

	if !existed || !old.Equal(value) {
		d.notify(obj.ID, prop, value)
	}
	return nil
}

func (d *Database) notify(id bacnet.ObjectIdentifier, prop bacnet.PropertyIdentifier, v Value) {
	d.mu.Lock()
	obs := d.observer
	d.mu.Unlock()
	if obs != nil {
		obs(id, prop, v)
	}
}

// ReadAccessResult is one (property, value-or-error) pair in a
// ReadPropertyMultiple response.
type ReadAccessResult struct {
	Property   bacnet.PropertyIdentifier
	ArrayIndex int
	Value      Value
	Err        error
}

// ReadPropertyMultiple reads every requested property of id, expanding
// the PropertyAll/PropertyRequired/PropertyOptional wildcards against
// the object's schema and collecting per-property errors instead of
// failing the whole request.
func (d *Database) ReadPropertyMultiple(id bacnet.ObjectIdentifier, props []bacnet.PropertyIdentifier) []ReadAccessResult {
	d.mu.Lock()
	obj, ok := d.objects[d.resolve(id)]
	d.mu.Unlock()
	if !ok {
		return []ReadAccessResult{{Err: bacnet.NewBACnetError(bacnet.ErrorClassObject, bacnet.ErrorCodeUnknownObject)}}
	}

	expanded := make([]bacnet.PropertyIdentifier, 0, len(props))
	for _, p := range props {
		switch p {
		case bacnet.PropertyAll:
			expanded = append(expanded, ExpandAll(obj.ID.Type)...)
		case bacnet.PropertyRequired:
			expanded = append(expanded, ExpandByRequirement(obj.ID.Type, Required)...)
		case bacnet.PropertyOptional:
			expanded = append(expanded, ExpandByRequirement(obj.ID.Type, Optional)...)
		default:
			expanded = append(expanded, p)
		}
	}

	results := make([]ReadAccessResult, 0, len(expanded))
	for _, p := range expanded {
		v, err := d.ReadProperty(obj.ID, p, -1)
		results = append(results, ReadAccessResult{Property: p, ArrayIndex: -1, Value: v, Err: err})
	}
	return results
}

// WriteAccessSpecification is one element of a WritePropertyMultiple
// request.
type WriteAccessSpecification struct {
	Property bacnet.PropertyIdentifier
	Value    Value
	Priority int
}

// WritePropertyMultiple applies each write in order. A failing element
// does not roll back prior successful writes in the same request
// (matches the standard's permitted partial-failure semantics); it
// returns the index and error of the first failure, if any.
func (d *Database) WritePropertyMultiple(id bacnet.ObjectIdentifier, writes []WriteAccessSpecification) (failedIndex int, err error) {
	for i, w := range writes {
		if werr := d.WriteProperty(id, w.Property, w.Value, w.Priority); werr != nil {
			return i, werr
		}
	}
	return -1, nil
}

// RangeSelector picks which ReadRange addressing mode to apply.
type RangeSelector uint8

const (
	RangeByPosition RangeSelector = iota
	RangeBySequence
	RangeByTime
)

// RangeRequest describes a ReadRange invocation. ReferenceIndex is the
// 1-indexed starting element for RangeByPosition/RangeBySequence; Count
// is signed, negative meaning "backwards from the reference".
type RangeRequest struct {
	Selector       RangeSelector
	ReferenceIndex int
	ReferenceTime  bacnet.ObjectIdentifier // unused for by-position/by-sequence
	Count          int
}

// ReadRangeResult is the ReadRange response: the requested slice of a
// list-valued property plus the three-bit RESULT_FLAGS bitstring
// (FIRST_ITEM, LAST_ITEM, MORE_ITEMS).
type ReadRangeResult struct {
	ItemCount   int
	Items       []Value
	ResultFlags tagcodec.BitString
}

// ReadRange reads a positional slice out of a list-valued property
// (a log buffer or similar array), per clause 15.7. Only
// RangeByPosition and RangeBySequence are supported; both index the
// list directly since this database does not track separate sequence
// numbers per entry.
func (d *Database) ReadRange(id bacnet.ObjectIdentifier, prop bacnet.PropertyIdentifier, req RangeRequest) (ReadRangeResult, error) {
	v, err := d.ReadProperty(id, prop, -1)
	if err != nil {
		return ReadRangeResult{}, err
	}
	if v.Kind != KindList {
		return ReadRangeResult{}, bacnet.NewBACnetError(bacnet.ErrorClassProperty, bacnet.ErrorCodePropertyIsNotAnArray)
	}

	n := len(v.List)
	if n == 0 {
		return ReadRangeResult{ResultFlags: tagcodec.NewBitString(true, true, false)}, nil
	}

	ref := req.ReferenceIndex
	if ref <= 0 {
		ref = n
	}

	start, end := ref-1, ref-1
	if req.Count >= 0 {
		end = start + req.Count
	} else {
		start = start + req.Count + 1
		end = ref
	}
	if start < 0 {
		start = 0
	}
	if end > n {
		end = n
	}
	if start > end {
		start = end
	}

	items := append([]Value(nil), v.List[start:end]...)
	flags := tagcodec.NewBitString(start == 0, end == n, end < n)
	return ReadRangeResult{ItemCount: len(items), Items: items, ResultFlags: flags}, nil
}
