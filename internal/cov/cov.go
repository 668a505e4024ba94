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

// Package cov implements the server side of the Change-Of-Value
// subscription protocol: the subscription table, cov_increment
// accumulation semantics, expiry sweep, and confirmed/unconfirmed
// notification dispatch.
package cov

import (
	"sync"
	"time"

	"github.com/bacstack/bacstack"
	"github.com/bacstack/bacstack/internal/objectdb"
)

// Key identifies a subscription per clause 13.14: the triple of
// subscriber address, process id, and monitored object must be
// unique; a new SubscribeCOV with the same key replaces the old one.
type Key struct {
	Subscriber string
	ProcessID  uint32
	Object     bacnet.ObjectIdentifier
}

// Subscription is one row of the COV subscription table.
type Subscription struct {
	Key         Key
	Address     bacnet.Address
	Confirmed   bool
	Property    bacnet.PropertyIdentifier // zero value means "whole object" (no property filter)
	HasProperty bool
	Expires     time.Time // zero means no expiry
	CreatedAt   time.Time

	lastReported map[bacnet.PropertyIdentifier]objectdb.Value
}

// Notification is one dispatched COV update.
type Notification struct {
	Subscription  Subscription
	Values        []PropertyValue
	TimeRemaining time.Duration
}

// PropertyValue is one (property, value) pair carried in a
// notification's list_of_values.
type PropertyValue struct {
	Property   bacnet.PropertyIdentifier
	ArrayIndex int
	Value      objectdb.Value
}

// Dispatcher sends a resolved COV notification. Confirmed
// notifications are expected to go out fire-and-forget through the
// client TSM; failures must be logged, never returned to the write
// path that triggered them.
type Dispatcher interface {
	Dispatch(n Notification)
}

// isAnalogKind reports whether k is a Value kind that applies
// cov_increment accumulation on Present_Value changes instead of
// notifying on any change.
func isAnalogKind(k objectdb.Kind) bool {
	switch k {
	case objectdb.KindReal, objectdb.KindDouble, objectdb.KindUnsigned, objectdb.KindSigned:
		return true
	default:
		return false
	}
}

// Manager is the subscription table for one device's database.
type Manager struct {
	mu            sync.Mutex
	db            *objectdb.Database
	dispatcher    Dispatcher
	subscriptions map[Key]*Subscription
	byObject      map[bacnet.ObjectIdentifier]map[Key]*Subscription
}

// New attaches a COV manager to db, installing db's write-observer so
// every value change runs change detection. Any previously-installed
// observer is replaced; only one observer is supported per database.
func New(db *objectdb.Database, dispatcher Dispatcher) *Manager {
	m := &Manager{
		db:            db,
		dispatcher:    dispatcher,
		subscriptions: make(map[Key]*Subscription),
		byObject:      make(map[bacnet.ObjectIdentifier]map[Key]*Subscription),
	}
	db.SetWriteObserver(m.onWrite)
	return m
}

// Subscribe installs or replaces a subscription and immediately
// dispatches an initial notification, per clause 13.14's
// synchronize-on-subscribe requirement. lifetime of zero means no
// expiry.
func (m *Manager) Subscribe(key Key, addr bacnet.Address, confirmed bool, lifetime time.Duration, prop bacnet.PropertyIdentifier, hasProp bool) error {
	obj, ok := m.db.Find(key.Object)
	if !ok {
		return bacnet.NewBACnetError(bacnet.ErrorClassObject, bacnet.ErrorCodeUnknownObject)
	}
	if lifetime > 0 && !confirmed {
		return &bacnet.RejectError{Reason: bacnet.RejectReasonInconsistentParameters}
	}

	now := time.Now()
	sub := &Subscription{
		Key:          key,
		Address:      addr,
		Confirmed:    confirmed,
		Property:     prop,
		HasProperty:  hasProp,
		CreatedAt:    now,
		lastReported: make(map[bacnet.PropertyIdentifier]objectdb.Value),
	}
	if lifetime > 0 {
		sub.Expires = now.Add(lifetime)
	}

	m.mu.Lock()
	m.removeLocked(key)
	m.subscriptions[key] = sub
	if m.byObject[key.Object] == nil {
		m.byObject[key.Object] = make(map[Key]*Subscription)
	}
	m.byObject[key.Object][key] = sub
	m.mu.Unlock()

	m.notifyInitial(obj, sub)
	return nil
}

// Cancel removes a subscription (a SubscribeCOV request with neither
// confirmed nor lifetime set). It is not an error to cancel an absent
// subscription.
func (m *Manager) Cancel(key Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(key)
}

// Count returns the number of active subscriptions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscriptions)
}

func (m *Manager) removeLocked(key Key) {
	delete(m.subscriptions, key)
	if set, ok := m.byObject[key.Object]; ok {
		delete(set, key)
		if len(set) == 0 {
			delete(m.byObject, key.Object)
		}
	}
}

// Sweep evicts subscriptions past their expiry.
func (m *Manager) Sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, sub := range m.subscriptions {
		if !sub.Expires.IsZero() && now.After(sub.Expires) {
			m.removeLocked(key)
		}
	}
}

// monitoredProperties returns the property set a Present_Value change
// notifies on: Present_Value and Status_Flags, the same for every
// object type.
func monitoredProperties() []bacnet.PropertyIdentifier {
	return []bacnet.PropertyIdentifier{bacnet.PropertyPresentValue, bacnet.PropertyStatusFlags}
}

func (m *Manager) onWrite(id bacnet.ObjectIdentifier, prop bacnet.PropertyIdentifier, newValue objectdb.Value) {
	m.mu.Lock()
	subs := make([]*Subscription, 0, len(m.byObject[id]))
	for _, s := range m.byObject[id] {
		subs = append(subs, s)
	}
	m.mu.Unlock()

	if len(subs) == 0 {
		return
	}
	obj, ok := m.db.Find(id)
	if !ok {
		return
	}

	for _, sub := range subs {
		if sub.HasProperty && sub.Property != prop {
			continue
		}
		m.evaluateAndDispatch(obj, sub, prop, newValue)
	}
}

func (m *Manager) evaluateAndDispatch(obj *objectdb.Object, sub *Subscription, changedProp bacnet.PropertyIdentifier, newValue objectdb.Value) {
	props := []bacnet.PropertyIdentifier{changedProp}
	if !sub.HasProperty && changedProp == bacnet.PropertyPresentValue {
		props = monitoredProperties()
	}

	if changedProp == bacnet.PropertyPresentValue && isAnalogKind(newValue.Kind) {
		last, hasLast := sub.lastReported[bacnet.PropertyPresentValue]
		increment := m.covIncrement(obj)
		if hasLast {
			lv, _ := last.AsFloat64()
			nv, _ := newValue.AsFloat64()
			delta := nv - lv
			if delta < 0 {
				delta = -delta
			}
			if delta < increment {
				return
			}
		}
	} else if !changedSinceLastReport(sub, changedProp, newValue) {
		return
	}

	values := make([]PropertyValue, 0, len(props))
	for _, p := range props {
		v, ok := obj.Get(p)
		if !ok {
			continue
		}
		values = append(values, PropertyValue{Property: p, ArrayIndex: -1, Value: v})
		sub.lastReported[p] = v
	}

	var remaining time.Duration
	if !sub.Expires.IsZero() {
		remaining = time.Until(sub.Expires)
		if remaining < 0 {
			remaining = 0
		}
	}

	if m.dispatcher != nil {
		m.dispatcher.Dispatch(Notification{Subscription: *sub, Values: values, TimeRemaining: remaining})
	}
}

// changedSinceLastReport reports whether a non-analog (or
// non-present-value) change should fire: any change fires, so this is
// true whenever there is no last-reported snapshot yet or the value
// differs from it.
func changedSinceLastReport(sub *Subscription, prop bacnet.PropertyIdentifier, newValue objectdb.Value) bool {
	last, ok := sub.lastReported[prop]
	if !ok {
		return true
	}
	return !last.Equal(newValue)
}

func (m *Manager) covIncrement(obj *objectdb.Object) float64 {
	v, ok := obj.Get(bacnet.PropertyCOVIncrement)
	if !ok {
		return 0
	}
	f, _ := v.AsFloat64()
	return f
}

func (m *Manager) notifyInitial(obj *objectdb.Object, sub *Subscription) {
	props := monitoredProperties()
	if sub.HasProperty {
		props = []bacnet.PropertyIdentifier{sub.Property}
	}

	values := make([]PropertyValue, 0, len(props))
	for _, p := range props {
		v, ok := obj.Get(p)
		if !ok {
			continue
		}
		values = append(values, PropertyValue{Property: p, ArrayIndex: -1, Value: v})
		sub.lastReported[p] = v
	}

	var remaining time.Duration
	if !sub.Expires.IsZero() {
		remaining = time.Until(sub.Expires)
	}

	if m.dispatcher != nil {
		m.dispatcher.Dispatch(Notification{Subscription: *sub, Values: values, TimeRemaining: remaining})
	}
}
