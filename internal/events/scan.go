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
	"context"
	"log/slog"
	"time"

	"github.com/bacstack/bacstack"
	"github.com/bacstack/bacstack/internal/objectdb"
)

// Notification is the fully-resolved content of an EventNotification,
// ready for a transport-layer caller to encode as a Confirmed or
// Unconfirmed service request.
type Notification struct {
	ProcessID         uint32
	InitiatingDevice  bacnet.ObjectIdentifier
	EventObject       bacnet.ObjectIdentifier
	Timestamp         time.Time
	NotificationClass uint32
	Priority          uint32
	EventType         uint32
	NotifyType        uint32
	ToState           bacnet.EventState
	FromState         bacnet.EventState
	AckRequired       bool
	Recipients        []bacnet.Address
}

// Dispatcher sends a resolved notification. The default
// implementation (wired by the orchestrator) encodes it as an
// UnconfirmedEventNotification broadcast, or a
// ConfirmedEventNotification per recipient when ack-required demands
// it; dispatch failures must only be logged, never returned to the
// scan loop.
type Dispatcher interface {
	Dispatch(n Notification)
}

// Evaluator produces the (eventResult, faultResult) pair for one
// monitored object on one scan cycle. The engine calls it once per
// tracked object per cycle; it must not block.
type Evaluator func(obj *objectdb.Object) (eventResult, faultResult bacnet.EventState)

// Config configures one tracked object's participation in the scan loop.
type Config struct {
	Object            bacnet.ObjectIdentifier
	Evaluate          Evaluator
	Enable            EnableMask
	TimeDelay         time.Duration
	TimeDelayNormal   time.Duration
	NotificationClass uint32
	Priorities        [3]uint32
	AckRequired       [3]bool
	Recipients        []bacnet.Address
	ProcessID         uint32
	EventType         uint32
	NotifyType        uint32
}

// Engine runs the scan loop over every registered object, feeding each
// one's evaluator output into its State machine and dispatching
// notifications on transitions.
type Engine struct {
	db         *objectdb.Database
	dispatcher Dispatcher
	log        *slog.Logger
	interval   time.Duration
	deviceID   bacnet.ObjectIdentifier

	configs map[bacnet.ObjectIdentifier]Config
	states  map[bacnet.ObjectIdentifier]*State
}

// New builds a scan-loop engine for deviceID's database.
func New(db *objectdb.Database, deviceID bacnet.ObjectIdentifier, dispatcher Dispatcher, log *slog.Logger, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = time.Second
	}
	return &Engine{
		db:         db,
		dispatcher: dispatcher,
		log:        log,
		interval:   interval,
		deviceID:   deviceID,
		configs:    make(map[bacnet.ObjectIdentifier]Config),
		states:     make(map[bacnet.ObjectIdentifier]*State),
	}
}

// Track registers an object for event evaluation. event_detection
// enable/disable is expected to be checked by the caller before
// calling Track/Untrack, or inline inside cfg.Evaluate.
func (e *Engine) Track(cfg Config) {
	e.configs[cfg.Object] = cfg
	if _, ok := e.states[cfg.Object]; !ok {
		e.states[cfg.Object] = &State{Current: bacnet.EventStateNormal}
	}
}

// Untrack removes an object from evaluation.
func (e *Engine) Untrack(id bacnet.ObjectIdentifier) {
	delete(e.configs, id)
	delete(e.states, id)
}

// Run executes the scan loop until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.tick(now)
		}
	}
}

func (e *Engine) tick(now time.Time) {
	for id, cfg := range e.configs {
		obj, ok := e.db.Find(id)
		if !ok {
			continue
		}
		eventResult, faultResult := cfg.Evaluate(obj)

		state := e.states[id]
		tr, fired := state.Feed(eventResult, faultResult, now, cfg.Enable, cfg.TimeDelay, cfg.TimeDelayNormal)
		if !fired {
			continue
		}

		obj.Set(bacnet.PropertyEventState, objectdb.Enumerated(uint32(tr.To)))
		e.dispatch(cfg, tr)
	}
}

func (e *Engine) dispatch(cfg Config, tr Transition) {
	params := ResolveNotification(cfg.Priorities, cfg.AckRequired, cfg.Recipients, tr.Index)
	n := Notification{
		ProcessID:         cfg.ProcessID,
		InitiatingDevice:  e.deviceID,
		EventObject:       cfg.Object,
		Timestamp:         tr.At,
		NotificationClass: cfg.NotificationClass,
		Priority:          params.Priority,
		EventType:         cfg.EventType,
		NotifyType:        cfg.NotifyType,
		ToState:           tr.To,
		FromState:         tr.From,
		AckRequired:       params.AckRequired,
		Recipients:        params.Recipients,
	}
	if e.dispatcher != nil {
		e.dispatcher.Dispatch(n)
	}
	if e.log != nil {
		e.log.Info("event transition", "object", cfg.Object.String(), "from", tr.From.String(), "to", tr.To.String())
	}
}
