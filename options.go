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

package bacnet

import "time"

// DiscoverOptions holds configuration for device discovery.
type DiscoverOptions struct {
	// Range limits for WhoIs
	LowLimit  *uint32
	HighLimit *uint32

	// Timeout for discovery
	Timeout time.Duration

	// Network to search (0 = local)
	Network uint16
}

// DiscoverOption is a functional option for discovery.
type DiscoverOption func(*DiscoverOptions)

// defaultDiscoverOptions returns default discovery options.
func defaultDiscoverOptions() *DiscoverOptions {
	return &DiscoverOptions{
		Timeout: 5 * time.Second,
		Network: 0,
	}
}

// WithDeviceRange sets the device ID range for discovery.
func WithDeviceRange(low, high uint32) DiscoverOption {
	return func(o *DiscoverOptions) {
		o.LowLimit = &low
		o.HighLimit = &high
	}
}

// WithDiscoveryTimeout sets the discovery timeout.
func WithDiscoveryTimeout(d time.Duration) DiscoverOption {
	return func(o *DiscoverOptions) {
		o.Timeout = d
	}
}

// WithTargetNetwork sets the target network for discovery.
func WithTargetNetwork(net uint16) DiscoverOption {
	return func(o *DiscoverOptions) {
		o.Network = net
	}
}
