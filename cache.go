// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

package branchvm

import (
	"encoding/hex"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"
)

type cacheKey struct {
	sum [blake2b.Size256]byte
	ip  int
}

func (k cacheKey) String() string {
	return hex.EncodeToString(k.sum[:]) + ":" + strconv.Itoa(k.ip)
}

// DescriptorCache stores decoded switch descriptors per call site. Methods
// with identical code share entries. Descriptors are published only after
// they are fully decoded, concurrent misses of the same call site decode
// once. Decode errors are not cached. It is safe for concurrent use.
type DescriptorCache struct {
	m      sync.Map // cacheKey -> *SwitchDescriptor
	group  singleflight.Group
	hits   atomic.Int64
	misses atomic.Int64
}

// NewDescriptorCache creates an empty cache.
func NewDescriptorCache() *DescriptorCache {
	return &DescriptorCache{}
}

// Load returns the descriptor of the switch at ip in m, decoding it on a
// miss.
func (c *DescriptorCache) Load(m *Method, ip int) (*SwitchDescriptor, error) {
	key := cacheKey{sum: m.Sum(), ip: ip}
	if v, ok := c.m.Load(key); ok {
		c.hits.Add(1)
		return v.(*SwitchDescriptor), nil
	}
	c.misses.Add(1)

	v, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		if v, ok := c.m.Load(key); ok {
			return v, nil
		}
		d, err := DecodeSwitch(m.Code, ip)
		if err != nil {
			return nil, err
		}
		c.m.Store(key, d)
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*SwitchDescriptor), nil
}

// Len returns the number of cached descriptors.
func (c *DescriptorCache) Len() int {
	var n int
	c.m.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// Stats returns the number of hits and misses since creation or the last
// Clear.
func (c *DescriptorCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Clear removes all entries and resets the counters.
func (c *DescriptorCache) Clear() {
	c.m.Range(func(k, _ interface{}) bool {
		c.m.Delete(k)
		return true
	})
	c.hits.Store(0)
	c.misses.Store(0)
}
