/*
   Copyright 2025 The DIRPX Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package filter

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"dirpx.dev/bindx/apis"
)

// DefaultCacheTTL is how long a compiled filter is reused when no TTL is set.
const DefaultCacheTTL = 10 * time.Minute

// Cache memoizes parsed filters by expression.
type Cache struct {
	c   *gocache.Cache
	ttl time.Duration
}

// NewCache returns a Cache whose entries expire after ttl.
// A non-positive ttl selects DefaultCacheTTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{c: gocache.New(ttl, 2*ttl), ttl: ttl}
}

var defaultCache = NewCache(DefaultCacheTTL)

// Compile parses expr through the package cache. An empty expression
// yields a nil Filter, meaning "match everything".
func Compile(expr string) (apis.Filter, error) {
	return defaultCache.Compile(expr)
}

// Compile parses expr, reusing a previous parse of the same expression.
func (c *Cache) Compile(expr string) (apis.Filter, error) {
	if expr == "" {
		return nil, nil
	}
	if f, ok := c.c.Get(expr); ok {
		return f.(*Filter), nil
	}
	f, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	c.c.SetDefault(expr, f)
	return f, nil
}

// TTL returns the expiration of cached filters.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Len returns the number of cached filters, expired ones included.
func (c *Cache) Len() int { return c.c.ItemCount() }

// Flush drops every cached filter.
func (c *Cache) Flush() { c.c.Flush() }
