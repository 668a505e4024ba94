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

// PropertyRequirement classifies a property descriptor entry so
// ReadPropertyMultiple's ALL/REQUIRED/OPTIONAL wildcards can be
// expanded against it.
type PropertyRequirement uint8

const (
	Required PropertyRequirement = iota
	Optional
)

// PropertyDescriptor names one property a given object type carries
// and whether clause 12 makes it required or optional.
type PropertyDescriptor struct {
	Property    bacnet.PropertyIdentifier
	Requirement PropertyRequirement
	Commandable bool
}

var commonDescriptors = []PropertyDescriptor{
	{Property: bacnet.PropertyObjectIdentifier, Requirement: Required},
	{Property: bacnet.PropertyObjectName, Requirement: Required},
	{Property: bacnet.PropertyObjectType, Requirement: Required},
	{Property: bacnet.PropertyDescription, Requirement: Optional},
	{Property: bacnet.PropertyPropertyList, Requirement: Required},
}

var analogValueDescriptors = append(append([]PropertyDescriptor{}, commonDescriptors...), []PropertyDescriptor{
	{Property: bacnet.PropertyPresentValue, Requirement: Required, Commandable: true},
	{Property: bacnet.PropertyStatusFlags, Requirement: Required},
	{Property: bacnet.PropertyEventState, Requirement: Required},
	{Property: bacnet.PropertyOutOfService, Requirement: Required},
	{Property: bacnet.PropertyUnits, Requirement: Required},
	{Property: bacnet.PropertyPriorityArray, Requirement: Optional},
	{Property: bacnet.PropertyRelinquishDefault, Requirement: Optional},
	{Property: bacnet.PropertyCOVIncrement, Requirement: Optional},
	{Property: bacnet.PropertyHighLimit, Requirement: Optional},
	{Property: bacnet.PropertyLowLimit, Requirement: Optional},
	{Property: bacnet.PropertyDeadband, Requirement: Optional},
	{Property: bacnet.PropertyTimeDelay, Requirement: Optional},
	{Property: bacnet.PropertyNotificationClass, Requirement: Optional},
	{Property: bacnet.PropertyEventEnable, Requirement: Optional},
	{Property: bacnet.PropertyAckedTransitions, Requirement: Optional},
	{Property: bacnet.PropertyNotifyType, Requirement: Optional},
}...)

var binaryValueDescriptors = append(append([]PropertyDescriptor{}, commonDescriptors...), []PropertyDescriptor{
	{Property: bacnet.PropertyPresentValue, Requirement: Required, Commandable: true},
	{Property: bacnet.PropertyStatusFlags, Requirement: Required},
	{Property: bacnet.PropertyEventState, Requirement: Required},
	{Property: bacnet.PropertyOutOfService, Requirement: Required},
	{Property: bacnet.PropertyPriorityArray, Requirement: Optional},
	{Property: bacnet.PropertyRelinquishDefault, Requirement: Optional},
	{Property: bacnet.PropertyTimeDelay, Requirement: Optional},
	{Property: bacnet.PropertyNotificationClass, Requirement: Optional},
	{Property: bacnet.PropertyEventEnable, Requirement: Optional},
	{Property: bacnet.PropertyAckedTransitions, Requirement: Optional},
	{Property: bacnet.PropertyNotifyType, Requirement: Optional},
}...)

var multiStateValueDescriptors = append(append([]PropertyDescriptor{}, commonDescriptors...), []PropertyDescriptor{
	{Property: bacnet.PropertyPresentValue, Requirement: Required, Commandable: true},
	{Property: bacnet.PropertyStatusFlags, Requirement: Required},
	{Property: bacnet.PropertyEventState, Requirement: Required},
	{Property: bacnet.PropertyOutOfService, Requirement: Required},
	{Property: bacnet.PropertyNumberOfStates, Requirement: Required},
	{Property: bacnet.PropertyStateText, Requirement: Optional},
	{Property: bacnet.PropertyPriorityArray, Requirement: Optional},
	{Property: bacnet.PropertyRelinquishDefault, Requirement: Optional},
	{Property: bacnet.PropertyTimeDelay, Requirement: Optional},
	{Property: bacnet.PropertyNotificationClass, Requirement: Optional},
	{Property: bacnet.PropertyEventEnable, Requirement: Optional},
	{Property: bacnet.PropertyAckedTransitions, Requirement: Optional},
	{Property: bacnet.PropertyNotifyType, Requirement: Optional},
}...)

var analogIODescriptors = append(append([]PropertyDescriptor{}, commonDescriptors...), []PropertyDescriptor{
	{Property: bacnet.PropertyPresentValue, Requirement: Required, Commandable: true},
	{Property: bacnet.PropertyStatusFlags, Requirement: Required},
	{Property: bacnet.PropertyEventState, Requirement: Required},
	{Property: bacnet.PropertyOutOfService, Requirement: Required},
	{Property: bacnet.PropertyUnits, Requirement: Required},
	{Property: bacnet.PropertyPriorityArray, Requirement: Optional},
	{Property: bacnet.PropertyRelinquishDefault, Requirement: Optional},
}...)

var deviceDescriptors = append(append([]PropertyDescriptor{}, commonDescriptors...), []PropertyDescriptor{
	{Property: bacnet.PropertySystemStatus, Requirement: Required},
	{Property: bacnet.PropertyVendorName, Requirement: Required},
	{Property: bacnet.PropertyModelName, Requirement: Required},
	{Property: bacnet.PropertyFirmwareRevision, Requirement: Required},
	{Property: bacnet.PropertyApplicationSoftwareVersion, Requirement: Required},
	{Property: bacnet.PropertyProtocolVersion, Requirement: Required},
	{Property: bacnet.PropertyProtocolRevision, Requirement: Required},
	{Property: bacnet.PropertyObjectList, Requirement: Required},
	{Property: bacnet.PropertySegmentationSupported, Requirement: Required},
	{Property: bacnet.PropertyMaxSegmentsAccepted, Requirement: Optional},
	{Property: bacnet.PropertyDatabaseRevision, Requirement: Required},
	{Property: bacnet.PropertyLocalDate, Requirement: Optional},
	{Property: bacnet.PropertyLocalTime, Requirement: Optional},
	{Property: bacnet.PropertyDaylightSavingsStatus, Requirement: Optional},
	{Property: bacnet.PropertyLocation, Requirement: Optional},
}...)

var eventEnrollmentDescriptors = append(append([]PropertyDescriptor{}, commonDescriptors...), []PropertyDescriptor{
	{Property: bacnet.PropertyEventType, Requirement: Required},
	{Property: bacnet.PropertyNotifyType, Requirement: Required},
	{Property: bacnet.PropertyEventParameters, Requirement: Required},
	{Property: bacnet.PropertyObjectPropertyReference, Requirement: Required},
	{Property: bacnet.PropertyEventState, Requirement: Required},
	{Property: bacnet.PropertyEventEnable, Requirement: Required},
	{Property: bacnet.PropertyAckedTransitions, Requirement: Required},
	{Property: bacnet.PropertyNotificationClass, Requirement: Required},
	{Property: bacnet.PropertyStatusFlags, Requirement: Required},
}...)

var notificationClassDescriptors = append(append([]PropertyDescriptor{}, commonDescriptors...), []PropertyDescriptor{
	{Property: bacnet.PropertyPriority, Requirement: Required},
	{Property: bacnet.PropertyAckRequired, Requirement: Required},
	{Property: bacnet.PropertyRecipientList, Requirement: Required},
}...)

// Schema maps an object type to its clause-12 property descriptor
// table. Types without an explicit entry fall back to commonDescriptors.
var Schema = map[bacnet.ObjectType][]PropertyDescriptor{
	bacnet.ObjectTypeDevice:            deviceDescriptors,
	bacnet.ObjectTypeAnalogInput:       analogIODescriptors,
	bacnet.ObjectTypeAnalogOutput:      analogIODescriptors,
	bacnet.ObjectTypeAnalogValue:       analogValueDescriptors,
	bacnet.ObjectTypeBinaryValue:       binaryValueDescriptors,
	bacnet.ObjectTypeMultiStateValue:   multiStateValueDescriptors,
	bacnet.ObjectTypeEventEnrollment:   eventEnrollmentDescriptors,
	bacnet.ObjectTypeNotificationClass: notificationClassDescriptors,
}

// DescriptorsFor returns the property descriptor table for an object
// type, falling back to the common descriptor set for unmodeled types.
func DescriptorsFor(t bacnet.ObjectType) []PropertyDescriptor {
	if d, ok := Schema[t]; ok {
		return d
	}
	return commonDescriptors
}

// ExpandAll returns every property this object type's schema names,
// for the special ALL wildcard in ReadPropertyMultiple.
func ExpandAll(t bacnet.ObjectType) []bacnet.PropertyIdentifier {
	descs := DescriptorsFor(t)
	out := make([]bacnet.PropertyIdentifier, len(descs))
	for i, d := range descs {
		out[i] = d.Property
	}
	return out
}

// ExpandByRequirement returns only the properties of the given
// requirement class, for the REQUIRED/OPTIONAL wildcards.
func ExpandByRequirement(t bacnet.ObjectType, req PropertyRequirement) []bacnet.PropertyIdentifier {
	var out []bacnet.PropertyIdentifier
	for _, d := range DescriptorsFor(t) {
		if d.Requirement == req {
			out = append(out, d.Property)
		}
	}
	return out
}
