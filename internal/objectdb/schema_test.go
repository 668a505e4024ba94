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

func TestDescriptorsForFallsBackToCommon(t *testing.T) {
	descs := DescriptorsFor(bacnet.ObjectTypeCalendar)
	require.Equal(t, commonDescriptors, descs)
}

func TestExpandAllIncludesObjectIdentifier(t *testing.T) {
	all := ExpandAll(bacnet.ObjectTypeDevice)
	require.Contains(t, all, bacnet.PropertyObjectIdentifier)
	require.Contains(t, all, bacnet.PropertyObjectList)
}

func TestExpandByRequirementSplitsRequiredOptional(t *testing.T) {
	required := ExpandByRequirement(bacnet.ObjectTypeAnalogValue, Required)
	optional := ExpandByRequirement(bacnet.ObjectTypeAnalogValue, Optional)

	require.Contains(t, required, bacnet.PropertyPresentValue)
	require.Contains(t, optional, bacnet.PropertyHighLimit)

	for _, p := range required {
		require.NotContains(t, optional, p)
	}
}
