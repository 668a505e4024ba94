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

// Package events implements the intrinsic and enrollment-based event
// algorithms of clause 13, the per-object time-delay state machine,
// and the scan loop that drives both.
package events

import (
	"github.com/bacstack/bacstack"
)

// LimitEnable mirrors the two-bit limit-enable bitstring that
// individually gates the high and low bounds of a range algorithm.
type LimitEnable struct {
	HighLimitEnable bool
	LowLimitEnable  bool
}

// OutOfRangeParams carries the tunables of the OUT_OF_RANGE family of
// algorithms (clause 13.3.6 and its typed siblings).
type OutOfRangeParams struct {
	HighLimit   float64
	LowLimit    float64
	Deadband    float64
	LimitEnable LimitEnable
}

// OutOfRange evaluates the OUT_OF_RANGE algorithm (and, since the
// comparison is purely numeric, its DOUBLE/SIGNED/UNSIGNED/
// UNSIGNED_RANGE siblings) given the monitored value and the prior
// event state, returning the new state the state machine should move
// toward. prior must be one of Normal/HighLimit/LowLimit.
func OutOfRange(value float64, prior bacnet.EventState, p OutOfRangeParams) bacnet.EventState {
	switch prior {
	case bacnet.EventStateHighLimit:
		if p.LimitEnable.HighLimitEnable && value > p.HighLimit-p.Deadband {
			return bacnet.EventStateHighLimit
		}
	case bacnet.EventStateLowLimit:
		if p.LimitEnable.LowLimitEnable && value < p.LowLimit+p.Deadband {
			return bacnet.EventStateLowLimit
		}
	}
	if p.LimitEnable.HighLimitEnable && value > p.HighLimit {
		return bacnet.EventStateHighLimit
	}
	if p.LimitEnable.LowLimitEnable && value < p.LowLimit {
		return bacnet.EventStateLowLimit
	}
	return bacnet.EventStateNormal
}

// FloatingLimitParams carries the tunables of the FLOATING_LIMIT
// algorithm (clause 13.3.8): limits are expressed relative to a
// setpoint rather than as fixed bounds.
type FloatingLimitParams struct {
	Setpoint    float64
	HighDiff    float64
	LowDiff     float64
	Deadband    float64
	LimitEnable LimitEnable
}

// FloatingLimit evaluates the FLOATING_LIMIT algorithm.
func FloatingLimit(value float64, prior bacnet.EventState, p FloatingLimitParams) bacnet.EventState {
	return OutOfRange(value, prior, OutOfRangeParams{
		HighLimit:   p.Setpoint + p.HighDiff,
		LowLimit:    p.Setpoint - p.LowDiff,
		Deadband:    p.Deadband,
		LimitEnable: p.LimitEnable,
	})
}

// ChangeOfState reports OFFNORMAL when value is a member of alarmValues.
func ChangeOfState(value uint32, alarmValues []uint32) bacnet.EventState {
	for _, a := range alarmValues {
		if a == value {
			return bacnet.EventStateOffNormal
		}
	}
	return bacnet.EventStateNormal
}

// ChangeOfBitstring reports OFFNORMAL when (value & bitmask) is a
// member of alarmValues (each already masked).
func ChangeOfBitstring(value []byte, bitmask []byte, alarmValues [][]byte) bacnet.EventState {
	masked := make([]byte, len(value))
	for i := range value {
		m := byte(0xFF)
		if i < len(bitmask) {
			m = bitmask[i]
		}
		masked[i] = value[i] & m
	}
	for _, a := range alarmValues {
		if bytesEqual(masked, a) {
			return bacnet.EventStateOffNormal
		}
	}
	return bacnet.EventStateNormal
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ChangeOfValue reports OFFNORMAL when the absolute delta between
// value and previous meets or exceeds covIncrement.
func ChangeOfValue(value, previous, covIncrement float64) bacnet.EventState {
	delta := value - previous
	if delta < 0 {
		delta = -delta
	}
	if delta >= covIncrement {
		return bacnet.EventStateOffNormal
	}
	return bacnet.EventStateNormal
}

// ChangeOfLifeSafety reports LIFE_SAFETY_ALARM when value is in
// lifeSafetyAlarmValues (checked first, since it takes priority),
// else OFFNORMAL when value is in alarmValues.
func ChangeOfLifeSafety(value uint32, lifeSafetyAlarmValues, alarmValues []uint32) bacnet.EventState {
	for _, a := range lifeSafetyAlarmValues {
		if a == value {
			return bacnet.EventStateLifeSafetyAlarm
		}
	}
	for _, a := range alarmValues {
		if a == value {
			return bacnet.EventStateOffNormal
		}
	}
	return bacnet.EventStateNormal
}

// ChangeOfStatusFlags reports OFFNORMAL when any flag named in
// selected differs between current and previous.
func ChangeOfStatusFlags(current, previous bacnet.StatusFlags, selected bacnet.StatusFlags) bacnet.EventState {
	if selected.InAlarm && current.InAlarm != previous.InAlarm {
		return bacnet.EventStateOffNormal
	}
	if selected.Fault && current.Fault != previous.Fault {
		return bacnet.EventStateOffNormal
	}
	if selected.Overridden && current.Overridden != previous.Overridden {
		return bacnet.EventStateOffNormal
	}
	if selected.OutOfService && current.OutOfService != previous.OutOfService {
		return bacnet.EventStateOffNormal
	}
	return bacnet.EventStateNormal
}

// ChangeOfReliability reports OFFNORMAL whenever reliability is not
// NO_FAULT_DETECTED; this algorithm is distinct from the per-cycle
// fault evaluator, which feeds FAULT directly.
func ChangeOfReliability(reliability bacnet.Reliability) bacnet.EventState {
	if reliability != bacnet.ReliabilityNoFaultDetected {
		return bacnet.EventStateOffNormal
	}
	return bacnet.EventStateNormal
}

// ChangeOfCharacterString reports OFFNORMAL when value is a member of
// alarmStrings.
func ChangeOfCharacterString(value string, alarmStrings []string) bacnet.EventState {
	for _, s := range alarmStrings {
		if s == value {
			return bacnet.EventStateOffNormal
		}
	}
	return bacnet.EventStateNormal
}

// CommandFailure reports OFFNORMAL when feedback does not match
// command; the standard's time-delay requirement before the
// transition becomes visible is enforced by the state machine, not
// here.
func CommandFailure(command, feedback uint32) bacnet.EventState {
	if command != feedback {
		return bacnet.EventStateOffNormal
	}
	return bacnet.EventStateNormal
}

// BufferReady reports OFFNORMAL when the buffer has accumulated at
// least threshold new records since the previous notification.
func BufferReady(currentCount, previousCount, threshold uint32) bacnet.EventState {
	if currentCount-previousCount >= threshold {
		return bacnet.EventStateOffNormal
	}
	return bacnet.EventStateNormal
}

// AccessEvent reports OFFNORMAL when event is a member of accessEventList.
func AccessEvent(event uint32, accessEventList []uint32) bacnet.EventState {
	for _, a := range accessEventList {
		if a == event {
			return bacnet.EventStateOffNormal
		}
	}
	return bacnet.EventStateNormal
}

// ChangeOfTimer reports OFFNORMAL when timerState is a member of alarmValues.
func ChangeOfTimer(timerState uint32, alarmValues []uint32) bacnet.EventState {
	return ChangeOfState(timerState, alarmValues)
}

// Extended is the vendor-callback algorithm slot; the default
// implementation always reports NORMAL and expects the caller to
// substitute its own evaluator function for a real vendor extension.
func Extended(_ []bacnet.PropertyIdentifier) bacnet.EventState {
	return bacnet.EventStateNormal
}
