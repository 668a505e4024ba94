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
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bacstack/bacstack"
)

var allEnabled = EnableMask{ToOffnormal: true, ToFault: true, ToNormal: true}

func TestStateImmediateTransitionWithZeroDelay(t *testing.T) {
	s := &State{Current: bacnet.EventStateNormal}
	now := time.Unix(0, 0)
	tr, fired := s.Feed(bacnet.EventStateHighLimit, bacnet.EventStateNormal, now, allEnabled, 0, 0)
	require.True(t, fired)
	require.Equal(t, bacnet.EventStateHighLimit, tr.To)
	require.Equal(t, TransitionToOffnormal, tr.Index)
}

func TestStateTimeDelayDefersTransition(t *testing.T) {
	s := &State{Current: bacnet.EventStateNormal}
	start := time.Unix(0, 0)
	_, fired := s.Feed(bacnet.EventStateHighLimit, bacnet.EventStateNormal, start, allEnabled, 10*time.Second, 0)
	require.False(t, fired)

	_, fired = s.Feed(bacnet.EventStateHighLimit, bacnet.EventStateNormal, start.Add(5*time.Second), allEnabled, 10*time.Second, 0)
	require.False(t, fired)

	tr, fired := s.Feed(bacnet.EventStateHighLimit, bacnet.EventStateNormal, start.Add(11*time.Second), allEnabled, 10*time.Second, 0)
	require.True(t, fired)
	require.Equal(t, bacnet.EventStateHighLimit, tr.To)
}

func TestStateChangingEvaluatorOutputRestartsTimer(t *testing.T) {
	s := &State{Current: bacnet.EventStateNormal}
	start := time.Unix(0, 0)
	_, fired := s.Feed(bacnet.EventStateHighLimit, bacnet.EventStateNormal, start, allEnabled, 10*time.Second, 0)
	require.False(t, fired)

	// flips to LOW_LIMIT before the high-limit delay expires: restart
	_, fired = s.Feed(bacnet.EventStateLowLimit, bacnet.EventStateNormal, start.Add(5*time.Second), allEnabled, 10*time.Second, 0)
	require.False(t, fired)

	_, fired = s.Feed(bacnet.EventStateLowLimit, bacnet.EventStateNormal, start.Add(10*time.Second), allEnabled, 10*time.Second, 0)
	require.False(t, fired)

	tr, fired := s.Feed(bacnet.EventStateLowLimit, bacnet.EventStateNormal, start.Add(16*time.Second), allEnabled, 10*time.Second, 0)
	require.True(t, fired)
	require.Equal(t, bacnet.EventStateLowLimit, tr.To)
}

func TestStateFaultTakesPriorityOverAlarm(t *testing.T) {
	s := &State{Current: bacnet.EventStateNormal}
	now := time.Unix(0, 0)
	tr, fired := s.Feed(bacnet.EventStateHighLimit, bacnet.EventStateFault, now, allEnabled, 0, 0)
	require.True(t, fired)
	require.Equal(t, bacnet.EventStateFault, tr.To)
	require.Equal(t, TransitionToFault, tr.Index)
}

func TestStateFaultClearingResumesAlarmEvaluation(t *testing.T) {
	s := &State{Current: bacnet.EventStateNormal}
	now := time.Unix(0, 0)
	_, _ = s.Feed(bacnet.EventStateNormal, bacnet.EventStateFault, now, allEnabled, 0, 0)
	require.Equal(t, bacnet.EventStateFault, s.Current)

	tr, fired := s.Feed(bacnet.EventStateHighLimit, bacnet.EventStateNormal, now.Add(time.Second), allEnabled, 0, 0)
	require.True(t, fired)
	require.Equal(t, bacnet.EventStateHighLimit, tr.To)
}

func TestStateNormalUsesTimeDelayNormal(t *testing.T) {
	s := &State{Current: bacnet.EventStateHighLimit}
	start := time.Unix(0, 0)
	_, fired := s.Feed(bacnet.EventStateNormal, bacnet.EventStateNormal, start, allEnabled, 10*time.Second, 2*time.Second)
	require.False(t, fired)

	tr, fired := s.Feed(bacnet.EventStateNormal, bacnet.EventStateNormal, start.Add(3*time.Second), allEnabled, 10*time.Second, 2*time.Second)
	require.True(t, fired)
	require.Equal(t, bacnet.EventStateNormal, tr.To)
}

func TestStateEnableMaskSuppressesTransition(t *testing.T) {
	s := &State{Current: bacnet.EventStateNormal}
	mask := EnableMask{ToOffnormal: false, ToFault: true, ToNormal: true}
	_, fired := s.Feed(bacnet.EventStateHighLimit, bacnet.EventStateNormal, time.Unix(0, 0), mask, 0, 0)
	require.False(t, fired)
	require.Equal(t, bacnet.EventStateNormal, s.Current)
}
