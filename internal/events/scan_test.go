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

package events

import (
	"io"
	"log/slog"
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

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEngineTickFiresOnOutOfRangeTransition(t *testing.T) {
	devID := bacnet.NewObjectIdentifier(bacnet.ObjectTypeDevice, 1)
	db := objectdb.New(devID)
	require.NoError(t, db.Add(objectdb.NewObject(devID)))

	aiID := bacnet.NewObjectIdentifier(bacnet.ObjectTypeAnalogInput, 1)
	ai := objectdb.NewObject(aiID)
	ai.Set(bacnet.PropertyPresentValue, objectdb.Real(85))
	require.NoError(t, db.Add(ai))

	dispatcher := &recordingDispatcher{}
	engine := New(db, devID, dispatcher, testLogger(), time.Hour)

	engine.Track(Config{
		Object: aiID,
		Evaluate: func(obj *objectdb.Object) (bacnet.EventState, bacnet.EventState) {
			v, _ := obj.Get(bacnet.PropertyPresentValue)
			val, _ := v.AsFloat64()
			return OutOfRange(val, bacnet.EventStateNormal, OutOfRangeParams{
				HighLimit: 80, LowLimit: 10, Deadband: 5,
				LimitEnable: LimitEnable{true, true},
			}), bacnet.EventStateNormal
		},
		Enable:            allEnabled,
		NotificationClass: 1,
		Priorities:        [3]uint32{100, 100, 100},
	})

	now := time.Now()
	engine.tick(now)

	require.Equal(t, 1, dispatcher.count())
	v, err := db.ReadProperty(aiID, bacnet.PropertyEventState, -1)
	require.NoError(t, err)
	require.Equal(t, objectdb.Enumerated(uint32(bacnet.EventStateHighLimit)), v)
}

func TestEngineUntrackStopsEvaluation(t *testing.T) {
	devID := bacnet.NewObjectIdentifier(bacnet.ObjectTypeDevice, 1)
	db := objectdb.New(devID)
	aiID := bacnet.NewObjectIdentifier(bacnet.ObjectTypeAnalogInput, 1)
	require.NoError(t, db.Add(objectdb.NewObject(aiID)))

	calls := 0
	engine := New(db, devID, nil, testLogger(), time.Hour)
	engine.Track(Config{
		Object: aiID,
		Evaluate: func(obj *objectdb.Object) (bacnet.EventState, bacnet.EventState) {
			calls++
			return bacnet.EventStateNormal, bacnet.EventStateNormal
		},
	})
	engine.Untrack(aiID)
	engine.tick(time.Now())
	require.Equal(t, 0, calls)
}
