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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bacstack/bacstack"
)

func TestOutOfRangeEntersHighLimit(t *testing.T) {
	p := OutOfRangeParams{HighLimit: 80, LowLimit: 10, Deadband: 5, LimitEnable: LimitEnable{true, true}}
	require.Equal(t, bacnet.EventStateHighLimit, OutOfRange(85, bacnet.EventStateNormal, p))
}

func TestOutOfRangeDeadbandHysteresis(t *testing.T) {
	p := OutOfRangeParams{HighLimit: 80, LowLimit: 10, Deadband: 5, LimitEnable: LimitEnable{true, true}}
	// still above high_limit - deadband (75): stays HIGH_LIMIT
	require.Equal(t, bacnet.EventStateHighLimit, OutOfRange(76, bacnet.EventStateHighLimit, p))
	// drops to or below 75: returns to normal
	require.Equal(t, bacnet.EventStateNormal, OutOfRange(74, bacnet.EventStateHighLimit, p))
}

func TestOutOfRangeLimitEnableGating(t *testing.T) {
	p := OutOfRangeParams{HighLimit: 80, LowLimit: 10, Deadband: 0, LimitEnable: LimitEnable{false, true}}
	require.Equal(t, bacnet.EventStateNormal, OutOfRange(1000, bacnet.EventStateNormal, p))
	require.Equal(t, bacnet.EventStateLowLimit, OutOfRange(0, bacnet.EventStateNormal, p))
}

func TestChangeOfValueAccumulation(t *testing.T) {
	require.Equal(t, bacnet.EventStateNormal, ChangeOfValue(3, 0, 5))
	require.Equal(t, bacnet.EventStateOffNormal, ChangeOfValue(5, 0, 5))
}

func TestChangeOfLifeSafetyPriority(t *testing.T) {
	got := ChangeOfLifeSafety(3, []uint32{3}, []uint32{3})
	require.Equal(t, bacnet.EventStateLifeSafetyAlarm, got)
}

func TestChangeOfReliability(t *testing.T) {
	require.Equal(t, bacnet.EventStateNormal, ChangeOfReliability(bacnet.ReliabilityNoFaultDetected))
	require.Equal(t, bacnet.EventStateOffNormal, ChangeOfReliability(bacnet.ReliabilityOpenLoop))
}

func TestChangeOfBitstringMasked(t *testing.T) {
	value := []byte{0b1010_1010}
	mask := []byte{0b0000_1111}
	alarm := [][]byte{{0b0000_1010}}
	require.Equal(t, bacnet.EventStateOffNormal, ChangeOfBitstring(value, mask, alarm))
}

func TestCommandFailure(t *testing.T) {
	require.Equal(t, bacnet.EventStateNormal, CommandFailure(1, 1))
	require.Equal(t, bacnet.EventStateOffNormal, CommandFailure(1, 0))
}

func TestBufferReady(t *testing.T) {
	require.Equal(t, bacnet.EventStateNormal, BufferReady(10, 8, 5))
	require.Equal(t, bacnet.EventStateOffNormal, BufferReady(14, 8, 5))
}
