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

package tagcodec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTagHeaderRoundTrip(t *testing.T) {
	cases := []struct {
		name   string
		num    uint8
		class  Class
		length int
	}{
		{"short-app", 2, ClassApplication, 4},
		{"short-context", 0, ClassContext, 0},
		{"extended-tag-number", 20, ClassContext, 4},
		{"extended-length-254", 1, ClassApplication, 300},
		{"extended-length-65536", 1, ClassApplication, 70000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			header := EncodeTag(tc.num, tc.class, tc.length)
			h, err := DecodeTagHeader(header)
			require.NoError(t, err)
			require.Equal(t, tc.num, h.Number)
			require.Equal(t, tc.class, h.Class)
			require.Equal(t, tc.length, h.Length)
			require.Equal(t, len(header), h.HeaderLen)
		})
	}
}

func TestOpeningClosingTags(t *testing.T) {
	for _, tagNum := range []uint8{0, 3, 15, 40} {
		open := EncodeOpeningTag(tagNum)
		h, err := DecodeTagHeader(open)
		require.NoError(t, err)
		require.True(t, h.Opening())
		require.Equal(t, tagNum, h.Number)

		closeTag := EncodeClosingTag(tagNum)
		h, err = DecodeTagHeader(closeTag)
		require.NoError(t, err)
		require.True(t, h.Closing())
		require.Equal(t, tagNum, h.Number)
	}
}

func TestUnsignedRoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 1, 255, 256, 65535, 65536, 16777215, 4294967295} {
		data := EncodeUnsigned(v)
		require.Equal(t, v, DecodeUnsigned(data))
	}
}

func TestSignedRoundTrip(t *testing.T) {
	for _, v := range []int32{0, -1, 127, -128, 32767, -32768, 8388607, -8388608, 2147483647, -2147483648} {
		data := EncodeSigned(v)
		require.Equal(t, v, DecodeSigned(data))
	}
}

func TestRealRoundTrip(t *testing.T) {
	for _, v := range []float32{0, 1.5, -273.15, 3.14159} {
		got, err := DecodeReal(EncodeReal(v))
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}

func TestDoubleRoundTrip(t *testing.T) {
	got, err := DecodeDouble(EncodeDouble(2.71828))
	require.NoError(t, err)
	require.Equal(t, 2.71828, got)
}

func TestCharacterStringRoundTrip(t *testing.T) {
	s, err := DecodeCharacterString(EncodeCharacterString("Zone 4 AHU"))
	require.NoError(t, err)
	require.Equal(t, "Zone 4 AHU", s)
}

func TestBitStringRoundTrip(t *testing.T) {
	bs := NewBitString(true, false, true, true, false)
	got, err := DecodeBitString(EncodeBitString(bs))
	require.NoError(t, err)
	require.Equal(t, bs.Bits, got.Bits)
	for i := 0; i < bs.Bits; i++ {
		require.Equal(t, bs.Bit(i), got.Bit(i))
	}
}

func TestDateRoundTrip(t *testing.T) {
	d := Date{Year: 2026, Month: 7, Day: 30, DayOfWeek: 4}
	got, err := DecodeDate(EncodeDate(d))
	require.NoError(t, err)
	require.Equal(t, d, got)
}

func TestDateWildcard(t *testing.T) {
	d := Date{Year: -1, Month: -1, Day: -1, DayOfWeek: -1}
	got, err := DecodeDate(EncodeDate(d))
	require.NoError(t, err)
	require.Equal(t, d, got)
}

func TestTimeRoundTrip(t *testing.T) {
	tm := Time{Hour: 13, Minute: 45, Second: 0, Hundredths: 0}
	got, err := DecodeTime(EncodeTime(tm))
	require.NoError(t, err)
	require.Equal(t, tm, got)
}

func TestObjectIdentifierRoundTrip(t *testing.T) {
	value := (uint32(8) << 22) | 1001
	got, err := DecodeObjectIdentifierValue(EncodeObjectIdentifierValue(value))
	require.NoError(t, err)
	require.Equal(t, value, got)
}
