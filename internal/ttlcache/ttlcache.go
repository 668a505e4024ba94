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

// Package ttlcache wraps ristretto with the narrow TTL-keyed cache
// shape the router, TSM and bip6 packages each need: a place to
// remember something learned from the wire for a bounded time.
package ttlcache

import (
	"time"

	"github.com/dgraph-io/ristretto"
)

// Cache is a small TTL-keyed cache. Zero value is not usable; use New.
type Cache[K comparable, V any] struct {
	rc  *ristretto.Cache
	def time.Duration
}

// New builds a cache sized for roughly maxEntries items, expiring
// entries after defaultTTL unless SetWithTTL specifies otherwise.
func New[K comparable, V any](maxEntries int64, defaultTTL time.Duration) (*Cache[K, V], error) {
	rc, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache[K, V]{rc: rc, def: defaultTTL}, nil
}

// Get returns the cached value for key, if present and unexpired.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	v, ok := c.rc.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	return v.(V), true
}

// Set stores value under key with the cache's default TTL.
func (c *Cache[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.def)
}

// SetWithTTL stores value under key, expiring after ttl.
func (c *Cache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	c.rc.SetWithTTL(key, value, 1, ttl)
}

// Del removes key from the cache.
func (c *Cache[K, V]) Del(key K) {
	c.rc.Del(key)
}

// Close releases the cache's background goroutines.
func (c *Cache[K, V]) Close() {
	c.rc.Close()
}
