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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bacstack/bacstack"
)

func TestPriorityArrayEffectiveFallsBackToRelinquishDefault(t *testing.T) {
	p := NewPriorityArray(Real(99), false)
	require.Equal(t, Real(99), p.Effective())
}

func TestPriorityArrayHighestPriorityWins(t *testing.T) {
	p := NewPriorityArray(Real(0), false)
	hi := Real(10)
	lo := Real(20)
	require.NoError(t, p.Write(8, &lo))
	require.NoError(t, p.Write(3, &hi))
	require.Equal(t, Real(10), p.Effective())

	require.NoError(t, p.Write(3, nil))
	require.Equal(t, Real(20), p.Effective())
}

func TestPriorityArrayRejectsOutOfRange(t *testing.T) {
	p := NewPriorityArray(Real(0), false)
	v := Real(1)
	require.Error(t, p.Write(0, &v))
	require.Error(t, p.Write(17, &v))
}

func TestPriorityArrayReservedPriorityOnlyWhenRestricted(t *testing.T) {
	unrestricted := NewPriorityArray(Real(0), false)
	v := Real(1)
	require.NoError(t, unrestricted.Write(ReservedPriority, &v))

	restricted := NewPriorityArray(Real(0), true)
	require.Error(t, restricted.Write(ReservedPriority, &v))
}

func TestObjectGetPresentValueReadsThroughPriorityArray(t *testing.T) {
	obj := NewObject(bacnet.NewObjectIdentifier(bacnet.ObjectTypeAnalogValue, 1))
	obj.MakeCommandable(Real(5))
	v, ok := obj.Get(bacnet.PropertyPresentValue)
	require.True(t, ok)
	require.Equal(t, Real(5), v)
}

func TestValueEqual(t *testing.T) {
	require.True(t, Unsigned(4).Equal(Unsigned(4)))
	require.False(t, Unsigned(4).Equal(Unsigned(5)))
	require.False(t, Unsigned(4).Equal(Signed(4)))
	require.True(t, List([]Value{Real(1), Str("a")}).Equal(List([]Value{Real(1), Str("a")})))
}

func TestValueAsFloat64(t *testing.T) {
	f, ok := Real(1.5).AsFloat64()
	require.True(t, ok)
	require.Equal(t, 1.5, f)

	_, ok = Str("x").AsFloat64()
	require.False(t, ok)
}
