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

package apdu

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfirmedRequestRoundTrip(t *testing.T) {
	data := []byte{0x0c, 0x00, 0x00, 0x27, 0x11}
	encoded := EncodeConfirmedRequest(12, 0x0c, data, 0, 5)
	p, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, TypeConfirmedRequest, p.Type)
	require.False(t, p.Segmented)
	require.EqualValues(t, 12, p.InvokeID)
	require.EqualValues(t, 0x0c, p.Service)
	require.Equal(t, data, p.Data)
}

func TestSegmentedConfirmedRequestRoundTrip(t *testing.T) {
	segment := []byte{0xde, 0xad, 0xbe, 0xef}
	encoded := EncodeSegmentedConfirmedRequest(7, 2, 4, true, 0x0e, segment, 0, 5)
	p, err := Decode(encoded)
	require.NoError(t, err)
	require.True(t, p.Segmented)
	require.True(t, p.MoreFollows)
	require.EqualValues(t, 7, p.InvokeID)
	require.EqualValues(t, 2, p.SequenceNum)
	require.EqualValues(t, 4, p.WindowSize)
	require.Equal(t, segment, p.Data)
}

func TestUnconfirmedRequestRoundTrip(t *testing.T) {
	data := []byte{0x01, 0x02}
	p, err := Decode(EncodeUnconfirmedRequest(0x08, data))
	require.NoError(t, err)
	require.Equal(t, TypeUnconfirmedRequest, p.Type)
	require.EqualValues(t, 0x08, p.Service)
	require.Equal(t, data, p.Data)
}

func TestSimpleAckRoundTrip(t *testing.T) {
	p, err := Decode(EncodeSimpleAck(5, 0x0f))
	require.NoError(t, err)
	require.Equal(t, TypeSimpleAck, p.Type)
	require.EqualValues(t, 5, p.InvokeID)
	require.EqualValues(t, 0x0f, p.Service)
}

func TestComplexAckRoundTrip(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03}
	p, err := Decode(EncodeComplexAck(9, 0x0c, data))
	require.NoError(t, err)
	require.Equal(t, TypeComplexAck, p.Type)
	require.False(t, p.Segmented)
	require.Equal(t, data, p.Data)
}

func TestSegmentedComplexAckRoundTrip(t *testing.T) {
	segment := []byte{0x01, 0x02}
	p, err := Decode(EncodeSegmentedComplexAck(9, 3, 4, false, 0x0c, segment))
	require.NoError(t, err)
	require.True(t, p.Segmented)
	require.False(t, p.MoreFollows)
	require.EqualValues(t, 3, p.SequenceNum)
	require.Equal(t, segment, p.Data)
}

func TestSegmentAckRoundTrip(t *testing.T) {
	p, err := Decode(EncodeSegmentAck(11, 4, 4, false, true))
	require.NoError(t, err)
	require.Equal(t, TypeSegmentAck, p.Type)
	require.EqualValues(t, 11, p.InvokeID)
	require.EqualValues(t, 4, p.SequenceNum)
	require.False(t, p.NegativeAck)
}

func TestNegativeSegmentAck(t *testing.T) {
	p, err := Decode(EncodeSegmentAck(11, 2, 4, true, false))
	require.NoError(t, err)
	require.True(t, p.NegativeAck)
}

func TestErrorRoundTrip(t *testing.T) {
	data := []byte{0x91, 0x02, 0x91, 0x05}
	p, err := Decode(EncodeError(3, 0x0c, data))
	require.NoError(t, err)
	require.Equal(t, TypeError, p.Type)
	require.Equal(t, data, p.Data)
}

func TestRejectRoundTrip(t *testing.T) {
	p, err := Decode(EncodeReject(4, 9))
	require.NoError(t, err)
	require.Equal(t, TypeReject, p.Type)
	require.EqualValues(t, 9, p.Service)
}

func TestAbortRoundTrip(t *testing.T) {
	p, err := Decode(EncodeAbort(6, 3, true))
	require.NoError(t, err)
	require.Equal(t, TypeAbort, p.Type)
	require.EqualValues(t, 3, p.Service)
}

func TestDecodeTruncated(t *testing.T) {
	_, err := Decode(nil)
	require.ErrorIs(t, err, ErrTruncated)

	_, err = Decode([]byte{byte(TypeConfirmedRequest)})
	require.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte{0x90, 0x00})
	require.ErrorIs(t, err, ErrUnknownType)
}
