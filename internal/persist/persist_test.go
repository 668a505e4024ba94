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

package persist

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bacstack/bacstack/internal/bvll"
)

func TestFileStoreMissingFileReturnsEmpty(t *testing.T) {
	store := &FileStore{Path: filepath.Join(t.TempDir(), "missing.bdt")}
	entries, err := store.Load()
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestFileStoreRoundTrip(t *testing.T) {
	store := &FileStore{Path: filepath.Join(t.TempDir(), "bdt.txt")}
	entries := []bvll.BDTEntry{
		{Address: net.ParseIP("10.0.0.1"), Port: 47808, Mask: net.CIDRMask(24, 32)},
		{Address: net.ParseIP("10.0.1.1"), Port: 47808, Mask: net.CIDRMask(32, 32)},
	}
	require.NoError(t, store.Save(entries))

	got, err := store.Load()
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, entries[0].Address.String(), got[0].Address.String())
	require.Equal(t, entries[0].Port, got[0].Port)
}

func TestFileStoreAtomicOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bdt.txt")
	store := &FileStore{Path: path}
	first := []bvll.BDTEntry{{Address: net.ParseIP("10.0.0.1"), Port: 47808, Mask: net.CIDRMask(24, 32)}}
	require.NoError(t, store.Save(first))

	second := []bvll.BDTEntry{{Address: net.ParseIP("10.0.0.2"), Port: 47808, Mask: net.CIDRMask(24, 32)}}
	require.NoError(t, store.Save(second))

	got, err := store.Load()
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "10.0.0.2", got[0].Address.String())
}
