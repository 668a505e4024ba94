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

package ttlcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSetGet(t *testing.T) {
	c, err := New[uint16, string](1000, time.Minute)
	require.NoError(t, err)
	defer c.Close()

	c.Set(42, "router-mac")
	c.rc.Wait()

	v, ok := c.Get(42)
	require.True(t, ok)
	require.Equal(t, "router-mac", v)
}

func TestGetMiss(t *testing.T) {
	c, err := New[uint16, string](1000, time.Minute)
	require.NoError(t, err)
	defer c.Close()

	_, ok := c.Get(7)
	require.False(t, ok)
}

func TestDel(t *testing.T) {
	c, err := New[uint16, string](1000, time.Minute)
	require.NoError(t, err)
	defer c.Close()

	c.Set(1, "x")
	c.rc.Wait()
	c.Del(1)
	c.rc.Wait()

	_, ok := c.Get(1)
	require.False(t, ok)
}
