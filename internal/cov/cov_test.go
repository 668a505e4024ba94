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

package cov

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bacstack/bacstack"
	"github.com/bacstack/bacstack/internal/objectdb"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	seen []Notification
}

func (d *recordingDispatcher) Dispatch(n Notification) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = append(d.seen, n)
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func (d *recordingDispatcher) last() Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[len(d.seen)-1]
}

func newTestDB(t *testing.T) (*objectdb.Database, bacnet.ObjectIdentifier) {
	devID := bacnet.NewObjectIdentifier(bacnet.ObjectTypeDevice, 1)
	db := objectdb.New(devID)
	require.NoError(t, db.Add(objectdb.NewObject(devID)))

	avID := bacnet.NewObjectIdentifier(bacnet.ObjectTypeAnalogValue, 1)
	av := objectdb.NewObject(avID)
	av.Set(bacnet.PropertyCOVIncrement, objectdb.Real(5))
	av.MakeCommandable(objectdb.Real(0))
	require.NoError(t, db.Add(av))
	return db, avID
}

func TestSubscribeSendsInitialNotification(t *testing.T) {
	db, avID := newTestDB(t)
	dispatcher := &recordingDispatcher{}
	m := New(db, dispatcher)

	key := Key{Subscriber: "1.2.3.4", ProcessID: 42, Object: avID}
	require.NoError(t, m.Subscribe(key, bacnet.Address{}, false, 60*time.Second, 0, false))
	require.Equal(t, 1, dispatcher.count())
}

func TestSubscribeRejectsLifetimeWithoutConfirmed(t *testing.T) {
	db, avID := newTestDB(t)
	m := New(db, nil)
	key := Key{Subscriber: "1.2.3.4", ProcessID: 1, Object: avID}
	err := m.Subscribe(key, bacnet.Address{}, false, 0, 0, false)
	require.NoError(t, err)

	err = m.Subscribe(key, bacnet.Address{}, false, 10*time.Second, 0, false)
	require.Error(t, err)
}

func TestCOVIncrementAccumulation(t *testing.T) {
	db, avID := newTestDB(t)
	dispatcher := &recordingDispatcher{}
	m := New(db, dispatcher)

	key := Key{Subscriber: "1.2.3.4", ProcessID: 42, Object: avID}
	require.NoError(t, m.Subscribe(key, bacnet.Address{}, true, 0, 0, false))
	require.Equal(t, 1, dispatcher.count())

	require.NoError(t, db.WriteProperty(avID, bacnet.PropertyPresentValue, objectdb.Real(2), 8))
	require.Equal(t, 1, dispatcher.count())

	require.NoError(t, db.WriteProperty(avID, bacnet.PropertyPresentValue, objectdb.Real(4), 8))
	require.Equal(t, 1, dispatcher.count())

	require.NoError(t, db.WriteProperty(avID, bacnet.PropertyPresentValue, objectdb.Real(5), 8))
	require.Equal(t, 2, dispatcher.count())

	require.NoError(t, db.WriteProperty(avID, bacnet.PropertyPresentValue, objectdb.Real(9), 8))
	require.Equal(t, 2, dispatcher.count())

	require.NoError(t, db.WriteProperty(avID, bacnet.PropertyPresentValue, objectdb.Real(10), 8))
	require.Equal(t, 3, dispatcher.count())
}

func TestCancelRemovesSubscription(t *testing.T) {
	db, avID := newTestDB(t)
	dispatcher := &recordingDispatcher{}
	m := New(db, dispatcher)
	key := Key{Subscriber: "1.2.3.4", ProcessID: 1, Object: avID}
	require.NoError(t, m.Subscribe(key, bacnet.Address{}, true, 0, 0, false))
	m.Cancel(key)

	require.NoError(t, db.WriteProperty(avID, bacnet.PropertyPresentValue, objectdb.Real(100), 8))
	require.Equal(t, 1, dispatcher.count())
}

func TestSweepEvictsExpiredSubscriptions(t *testing.T) {
	db, avID := newTestDB(t)
	dispatcher := &recordingDispatcher{}
	m := New(db, dispatcher)
	key := Key{Subscriber: "1.2.3.4", ProcessID: 1, Object: avID}
	require.NoError(t, m.Subscribe(key, bacnet.Address{}, true, time.Millisecond, 0, false))

	time.Sleep(5 * time.Millisecond)
	m.Sweep(time.Now())

	require.NoError(t, db.WriteProperty(avID, bacnet.PropertyPresentValue, objectdb.Real(100), 8))
	require.Equal(t, 1, dispatcher.count())
}

func TestSubscribeUnknownObject(t *testing.T) {
	db, _ := newTestDB(t)
	m := New(db, nil)
	key := Key{Subscriber: "1.2.3.4", ProcessID: 1, Object: bacnet.NewObjectIdentifier(bacnet.ObjectTypeAnalogValue, 99)}
	err := m.Subscribe(key, bacnet.Address{}, true, 0, 0, false)
	require.Error(t, err)
}
