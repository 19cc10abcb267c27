package store

import "time"

// EvictExpired exposes retention eviction to the external test package.
func (m *MemoryStore) EvictExpired(now time.Time) int { return m.evictExpired(now) }
