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

import (
	"encoding/hex"
	"fmt"
)

// Address is a BACnet network address: an optional network number plus
// a MAC layer address (6 bytes for IPv4+port, 3 for a BACnet/IPv6 VMAC,
// 0 for a purely local broadcast).
type Address struct {
	Net  uint16
	Addr []byte
}

// IsLocalBroadcast reports whether this address designates the local
// network's broadcast domain (DNET 0xFFFF is global, an empty MAC with
// DNET unset is "this network").
func (a Address) IsLocalBroadcast() bool {
	return a.Net == 0 && len(a.Addr) == 0
}

// IsGlobalBroadcast reports whether this address is the reserved
// "all networks" broadcast (DNET 0xFFFF, no MAC).
func (a Address) IsGlobalBroadcast() bool {
	return a.Net == 0xFFFF && len(a.Addr) == 0
}

// IsRemote reports whether this address names a network other than the
// directly-attached one (Net == 0 means local).
func (a Address) IsRemote() bool {
	return a.Net != 0
}

func (a Address) String() string {
	if len(a.Addr) == 0 {
		if a.Net == 0xFFFF {
			return "global-broadcast"
		}
		if a.Net == 0 {
			return "local-broadcast"
		}
		return fmt.Sprintf("net(%d)-broadcast", a.Net)
	}
	mac := hex.EncodeToString(a.Addr)
	if a.Net == 0 {
		return mac
	}
	return fmt.Sprintf("%d:%s", a.Net, mac)
}

// Equal compares two addresses for byte-wise equality.
func (a Address) Equal(b Address) bool {
	if a.Net != b.Net || len(a.Addr) != len(b.Addr) {
		return false
	}
	for i := range a.Addr {
		if a.Addr[i] != b.Addr[i] {
			return false
		}
	}
	return true
}
