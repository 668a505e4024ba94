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
	"time"

	"github.com/bacstack/bacstack"
)

// TransitionIndex selects which of a NotificationClass's three
// (priority, ack-required) pairs applies to a transition.
type TransitionIndex uint8

const (
	TransitionToOffnormal TransitionIndex = 0
	TransitionToFault     TransitionIndex = 1
	TransitionToNormal    TransitionIndex = 2
)

// Transition describes one event-state change the caller must act on:
// update event_state, clear the acked_transitions bit, stamp
// event_time_stamps, and dispatch a notification.
type Transition struct {
	From  bacnet.EventState
	To    bacnet.EventState
	Index TransitionIndex
	At    time.Time
}

// EnableMask gates which transitions actually fire notifications
// (the object's event_enable property).
type EnableMask struct {
	ToOffnormal bool
	ToFault     bool
	ToNormal    bool
}

func (m EnableMask) allows(idx TransitionIndex) bool {
	switch idx {
	case TransitionToOffnormal:
		return m.ToOffnormal
	case TransitionToFault:
		return m.ToFault
	default:
		return m.ToNormal
	}
}

// State is the time-delay state machine attached to one monitored
// object (an EventEnrollment or an object with an intrinsic
// algorithm). Zero value is a machine at NORMAL with no pending
// transition.
type State struct {
	Current bacnet.EventState

	pendingTo      bacnet.EventState
	pendingSince   time.Time
	hasPending     bool
	lastFaultState bacnet.EventState
}

// transitionIndexFor maps a target state to the NotificationClass
// slot it resolves against.
func transitionIndexFor(to bacnet.EventState) TransitionIndex {
	switch to {
	case bacnet.EventStateNormal:
		return TransitionToNormal
	case bacnet.EventStateFault:
		return TransitionToFault
	default:
		return TransitionToOffnormal
	}
}

// Feed advances the state machine with one scan cycle's evaluator
// outputs. timeDelay governs NORMAL→alarm transitions; timeDelayNormal
// governs alarm→NORMAL transitions (falling back to timeDelay when
// zero). It returns a Transition and true if a transition actually
// completed this cycle.
func (s *State) Feed(eventResult, faultResult bacnet.EventState, now time.Time, enable EnableMask, timeDelay, timeDelayNormal time.Duration) (Transition, bool) {
	if faultResult != bacnet.EventStateNormal && s.Current != bacnet.EventStateFault {
		if !enable.allows(TransitionToFault) {
			return Transition{}, false
		}
		from := s.Current
		s.Current = bacnet.EventStateFault
		s.hasPending = false
		return Transition{From: from, To: bacnet.EventStateFault, Index: TransitionToFault, At: now}, true
	}

	if s.Current == bacnet.EventStateFault {
		if faultResult != bacnet.EventStateNormal {
			return Transition{}, false
		}
		// Fault cleared; fall through to evaluate the alarm result as a
		// fresh transition out of FAULT, still subject to time-delay.
		s.hasPending = false
	}

	target := eventResult
	if target == s.Current {
		s.hasPending = false
		return Transition{}, false
	}

	delay := timeDelay
	if target == bacnet.EventStateNormal {
		if timeDelayNormal > 0 {
			delay = timeDelayNormal
		} else {
			delay = timeDelay
		}
	}

	if !s.hasPending || s.pendingTo != target {
		s.pendingTo = target
		s.pendingSince = now
		s.hasPending = true
		if delay <= 0 {
			return s.commit(target, now, enable)
		}
		return Transition{}, false
	}

	if now.Sub(s.pendingSince) >= delay {
		return s.commit(target, now, enable)
	}
	return Transition{}, false
}

func (s *State) commit(target bacnet.EventState, now time.Time, enable EnableMask) (Transition, bool) {
	idx := transitionIndexFor(target)
	if !enable.allows(idx) {
		s.hasPending = false
		return Transition{}, false
	}
	from := s.Current
	s.Current = target
	s.hasPending = false
	return Transition{From: from, To: target, Index: idx, At: now}, true
}

// NotificationParams is what AcknowledgeAlarm/GetAlarmSummary and the
// notification dispatcher need out of a NotificationClass object for
// one transition.
type NotificationParams struct {
	Priority    uint32
	AckRequired bool
	Recipients  []bacnet.Address
}

// ResolveNotification looks up the (priority, ack-required) pair for
// a transition index out of a NotificationClass's encoded properties.
func ResolveNotification(priorities [3]uint32, ackRequired [3]bool, recipients []bacnet.Address, idx TransitionIndex) NotificationParams {
	return NotificationParams{
		Priority:    priorities[idx],
		AckRequired: ackRequired[idx],
		Recipients:  recipients,
	}
}
