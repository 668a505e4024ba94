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
	"github.com/bacstack/bacstack"
)

// PriorityCount is the number of slots in a commandable property's
// priority array (clause 19.2.3).
const PriorityCount = 16

// ReservedPriority is reserved for minimum-on/off-time enforcement.
// Writes at it are rejected only on objects that declare
// minimum_on_time or minimum_off_time (see restrictPriority6).
const ReservedPriority = 6

// PriorityArray holds the 16 priority slots of a commandable property.
// A nil slot means relinquished.
type PriorityArray struct {
	slots             [PriorityCount]*Value
	relinquishDefault Value

	// restrictPriority6 rejects priority 6 writes. ASHRAE 135 reserves
	// priority 6 for minimum-on/off-time enforcement; the reference
	// implementation this is grounded on only rejects it on objects
	// that actually declare minimum_on_time or minimum_off_time, and
	// this stack preserves that lenient behavior.
	restrictPriority6 bool
}

// NewPriorityArray builds an empty priority array with the given
// relinquish-default value. restrictPriority6 should be true only for
// objects that declare minimum_on_time or minimum_off_time.
func NewPriorityArray(relinquishDefault Value, restrictPriority6 bool) *PriorityArray {
	return &PriorityArray{relinquishDefault: relinquishDefault, restrictPriority6: restrictPriority6}
}

// Write commands priority (1-indexed, 1..16) with value, or relinquishes
// it when value is nil.
func (p *PriorityArray) Write(priority int, value *Value) error {
	if priority < 1 || priority > PriorityCount {
		return bacnet.NewBACnetError(bacnet.ErrorClassProperty, bacnet.ErrorCodeValueOutOfRange)
	}
	if priority == ReservedPriority && p.restrictPriority6 {
		return bacnet.NewBACnetError(bacnet.ErrorClassProperty, bacnet.ErrorCodeWriteAccessDenied)
	}
	p.slots[priority-1] = value
	return nil
}

// Effective returns the highest-priority (lowest index) non-empty slot,
// or the relinquish-default when every slot is empty.
func (p *PriorityArray) Effective() Value {
	for _, slot := range p.slots {
		if slot != nil {
			return *slot
		}
	}
	return p.relinquishDefault
}

// Slot returns the raw value at the given 1-indexed priority, or
// (Value{}, false) if relinquished.
func (p *PriorityArray) Slot(priority int) (Value, bool) {
	if priority < 1 || priority > PriorityCount {
		return Value{}, false
	}
	slot := p.slots[priority-1]
	if slot == nil {
		return Value{}, false
	}
	return *slot, true
}

// WriteObserver is invoked after a property write that actually
// changed the stored value; this is the hook COV dispatch and the
// event engine attach to.
type WriteObserver func(id bacnet.ObjectIdentifier, prop bacnet.PropertyIdentifier, newValue Value)

// Object is one row of the database: an object-identifier plus its
// properties, and, for commandable objects, a priority array for
// present-value.
type Object struct {
	ID           bacnet.ObjectIdentifier
	Properties   map[bacnet.PropertyIdentifier]Value
	Priority     *PriorityArray // nil unless commandable
	OutOfService bool
}

// NewObject builds an empty object of the given identifier.
func NewObject(id bacnet.ObjectIdentifier) *Object {
	return &Object{ID: id, Properties: make(map[bacnet.PropertyIdentifier]Value)}
}

// MakeCommandable attaches a priority array to an already-constructed
// object, restricting priority 6 only if the object declares
// minimum_on_time or minimum_off_time.
func (o *Object) MakeCommandable(relinquishDefault Value) {
	_, hasOnTime := o.Properties[bacnet.PropertyMinimumOnTime]
	_, hasOffTime := o.Properties[bacnet.PropertyMinimumOffTime]
	o.Priority = NewPriorityArray(relinquishDefault, hasOnTime || hasOffTime)
}

// Get reads a simple (non-array, non-priority) property.
func (o *Object) Get(prop bacnet.PropertyIdentifier) (Value, bool) {
	if prop == bacnet.PropertyPresentValue && o.Priority != nil {
		return o.Priority.Effective(), true
	}
	v, ok := o.Properties[prop]
	return v, ok
}

// Set stores a simple property value directly, bypassing the priority
// array. Used for non-commandable properties and internal bookkeeping.
func (o *Object) Set(prop bacnet.PropertyIdentifier, v Value) {
	o.Properties[prop] = v
}

// PropertyNames returns every property identifier this object has a
// value for, for PROPERTY_LIST synthesis.
func (o *Object) PropertyNames() []bacnet.PropertyIdentifier {
	names := make([]bacnet.PropertyIdentifier, 0, len(o.Properties)+1)
	for p := range o.Properties {
		names = append(names, p)
	}
	if o.Priority != nil {
		names = append(names, bacnet.PropertyPresentValue)
	}
	return names
}
